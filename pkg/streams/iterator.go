package streams

import (
	"math/big"
	"strings"

	"github.com/developer-mesh/nsql-gateway/pkg/nsqlerr"
)

const externalIteratorSeparator = "|"

// ExternalIterator is the opaque handle returned to callers, encoding
// (streamArn, shardId, type, sequenceNumber|null, underlyingIteratorHandle|null)
// so a subsequent GetRecords call does not need server context to locate
// the cache segment (spec.md §4.I, §6).
type ExternalIterator struct {
	StreamArn      string
	ShardId        string
	Type           IteratorType
	SequenceNumber *big.Int // nil for logical types or a not-yet-resolved AT/AFTER
	Underlying     *string  // nil when acquisition was deferred
}

// Position returns the IteratorPosition this iterator names, valid only
// when SequenceNumber is non-nil.
func (e ExternalIterator) Position() IteratorPosition {
	return IteratorPosition{StreamArn: e.StreamArn, ShardId: e.ShardId, SeqNum: e.SequenceNumber}
}

// Encode serializes e to its wire form: fixed field order joined by an
// escaped separator, per spec.md §6.
func (e ExternalIterator) Encode() string {
	seq := "null"
	if e.SequenceNumber != nil {
		seq = e.SequenceNumber.String()
	}
	under := "null"
	if e.Underlying != nil {
		under = *e.Underlying
	}
	fields := []string{e.StreamArn, e.ShardId, string(e.Type), seq, under}
	escaped := make([]string, len(fields))
	for i, f := range fields {
		escaped[i] = escapeIterField(f)
	}
	return strings.Join(escaped, externalIteratorSeparator)
}

// ParseExternalIterator reverses Encode. Any external iterator issued by
// Encode round-trips through this function.
func ParseExternalIterator(wire string) (ExternalIterator, error) {
	parts := splitUnescapedIter(wire)
	if len(parts) != 5 {
		return ExternalIterator{}, nsqlerr.New(nsqlerr.KindMalformedPhysicalKey, "streams.ParseExternalIterator", nil)
	}
	for i := range parts {
		parts[i] = unescapeIterField(parts[i])
	}
	e := ExternalIterator{
		StreamArn: parts[0],
		ShardId:   parts[1],
		Type:      IteratorType(parts[2]),
	}
	if parts[3] != "null" {
		n, ok := new(big.Int).SetString(parts[3], 10)
		if !ok {
			return ExternalIterator{}, nsqlerr.New(nsqlerr.KindMalformedPhysicalKey, "streams.ParseExternalIterator", nil)
		}
		e.SequenceNumber = n
	}
	if parts[4] != "null" {
		u := parts[4]
		e.Underlying = &u
	}
	return e, nil
}

func escapeIterField(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, externalIteratorSeparator, `\`+externalIteratorSeparator)
	return s
}

func unescapeIterField(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			b.WriteByte(s[i+1])
			i++
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func splitUnescapedIter(s string) []string {
	var parts []string
	var cur strings.Builder
	i := 0
	for i < len(s) {
		if s[i] == '\\' && i+1 < len(s) {
			cur.WriteByte(s[i])
			cur.WriteByte(s[i+1])
			i += 2
			continue
		}
		if strings.HasPrefix(s[i:], externalIteratorSeparator) {
			parts = append(parts, cur.String())
			cur.Reset()
			i += len(externalIteratorSeparator)
			continue
		}
		cur.WriteByte(s[i])
		i++
	}
	parts = append(parts, cur.String())
	return parts
}
