// Package codec implements the shared-table key codec (spec.md §4.C):
// the bidirectional translation between a (tenant, virtualTable,
// virtualHashValue) triple and the composite physical hash-key string.
package codec

import (
	"encoding/base64"
	"strings"

	"github.com/developer-mesh/nsql-gateway/pkg/nsqlerr"
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlmodel"
)

const defaultDelimiter = "."

// Codec encodes and decodes composite physical hash keys for a single
// tablePrefix/delimiter configuration.
type Codec struct {
	delimiter   string
	tablePrefix string
}

// New creates a Codec. An empty delimiter defaults to ".". tablePrefix,
// when non-empty, is the prefix every physical table (and therefore every
// decodable key) is expected to carry, per spec.md §6's `tablePrefix`
// option.
func New(delimiter, tablePrefix string) *Codec {
	if delimiter == "" {
		delimiter = defaultDelimiter
	}
	return &Codec{delimiter: delimiter, tablePrefix: tablePrefix}
}

// Delimiter returns the configured delimiter.
func (c *Codec) Delimiter() string { return c.delimiter }

// Encode composes tablePrefix + tenantId + delimiter + virtualTable +
// delimiter + escape(stringify(virtualHashValue)) per spec.md §3 and §6's
// `tablePrefix` option.
func (c *Codec) Encode(tenantID, virtualTable string, hashValue nsqlmodel.AttributeValue) (string, error) {
	text, err := stringify(hashValue)
	if err != nil {
		return "", nsqlerr.New(nsqlerr.KindMalformedPhysicalKey, "codec.Encode", err)
	}
	var b strings.Builder
	b.WriteString(c.tablePrefix)
	b.WriteString(c.escape(tenantID))
	b.WriteString(c.delimiter)
	b.WriteString(c.escape(virtualTable))
	b.WriteString(c.delimiter)
	b.WriteString(c.escape(text))
	return b.String(), nil
}

// Decode reverses Encode, returning the original tenantId, virtualTable,
// and the canonical text form of the hash value. It returns
// KindMalformedPhysicalKey if physical does not start with the configured
// prefix, or the remainder does not contain exactly two unescaped
// delimiters.
func (c *Codec) Decode(physical string) (tenantID, virtualTable, hashValueText string, err error) {
	if c.tablePrefix != "" {
		if !strings.HasPrefix(physical, c.tablePrefix) {
			return "", "", "", nsqlerr.New(nsqlerr.KindMalformedPhysicalKey, "codec.Decode", nil)
		}
		physical = physical[len(c.tablePrefix):]
	}
	parts := c.splitUnescaped(physical)
	if len(parts) != 3 {
		return "", "", "", nsqlerr.New(nsqlerr.KindMalformedPhysicalKey, "codec.Decode", nil)
	}
	return c.unescape(parts[0]), c.unescape(parts[1]), c.unescape(parts[2]), nil
}

// escape backslash-escapes every byte of s that is a backslash or occurs
// anywhere in the delimiter, so no unescaped delimiter byte survives inside
// a component (even a partial match of a multi-byte delimiter at a
// component boundary) and the encoding stays total and injective.
func (c *Codec) escape(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' || strings.IndexByte(c.delimiter, s[i]) >= 0 {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func (c *Codec) unescape(s string) string {
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

// splitUnescaped splits s on unescaped occurrences of the delimiter.
func (c *Codec) splitUnescaped(s string) []string {
	var parts []string
	var cur strings.Builder
	delim := c.delimiter
	i := 0
	for i < len(s) {
		if s[i] == '\\' && i+1 < len(s) {
			cur.WriteByte(s[i])
			cur.WriteByte(s[i+1])
			i += 2
			continue
		}
		if strings.HasPrefix(s[i:], delim) {
			parts = append(parts, cur.String())
			cur.Reset()
			i += len(delim)
			continue
		}
		cur.WriteByte(s[i])
		i++
	}
	parts = append(parts, cur.String())
	return parts
}

// stringify produces the canonical text form of a hash key value: the
// exact numeric lexeme for N, unpadded standard base64 for B, and the
// literal string for S.
func stringify(v nsqlmodel.AttributeValue) (string, error) {
	switch v.Type {
	case nsqlmodel.AttrTypeString:
		return v.S, nil
	case nsqlmodel.AttrTypeNumber:
		return v.N, nil
	case nsqlmodel.AttrTypeBinary:
		return base64.RawStdEncoding.EncodeToString(v.B), nil
	default:
		return "", nsqlerr.New(nsqlerr.KindMalformedPhysicalKey, "codec.stringify", nil)
	}
}
