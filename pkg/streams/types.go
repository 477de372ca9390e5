// Package streams implements the caching change-feed adapter (spec.md
// §4.I): a segment cache over the underlying shard-read API that bins
// contiguous record ranges per (streamArn, shardId), merges adjacent
// segments, and serves overlapping readers from memory while honoring
// the underlying API's rate limits, retry/backoff, and iterator
// semantics.
package streams

import (
	"context"
	"math/big"
)

// IteratorType names one of the four shard-iterator kinds. TRIM_HORIZON
// and LATEST are logical: their shard position depends on current shard
// contents at acquisition time. AT_SEQUENCE_NUMBER and
// AFTER_SEQUENCE_NUMBER are absolute.
type IteratorType string

const (
	TrimHorizon        IteratorType = "TRIM_HORIZON"
	Latest             IteratorType = "LATEST"
	AtSequenceNumber   IteratorType = "AT_SEQUENCE_NUMBER"
	AfterSequenceNumber IteratorType = "AFTER_SEQUENCE_NUMBER"
)

// IsAbsolute reports whether t names an absolute iterator type, the only
// kind the segment cache can serve from memory.
func (t IteratorType) IsAbsolute() bool {
	return t == AtSequenceNumber || t == AfterSequenceNumber
}

// IteratorPosition identifies a point in a shard's record sequence.
// Total order is lexicographic on (StreamArn, ShardId, SeqNum); "same
// shard" is equality on the first two.
type IteratorPosition struct {
	StreamArn string
	ShardId   string
	SeqNum    *big.Int
}

// sameShard reports whether a and b name the same (streamArn, shardId).
func (a IteratorPosition) sameShard(b IteratorPosition) bool {
	return a.StreamArn == b.StreamArn && a.ShardId == b.ShardId
}

// less is the BTreeG ordering: shard-major, then sequence number.
func (a IteratorPosition) less(b IteratorPosition) bool {
	if a.StreamArn != b.StreamArn {
		return a.StreamArn < b.StreamArn
	}
	if a.ShardId != b.ShardId {
		return a.ShardId < b.ShardId
	}
	return a.SeqNum.Cmp(b.SeqNum) < 0
}

// Record is one change-feed record. Only its sequence number is
// meaningful to the cache; Data is opaque payload carried through
// untouched.
type Record struct {
	SequenceNumber *big.Int
	Data           []byte
}

// CacheSegment is a non-empty, contiguous run of records on one shard,
// keyed by its first record's position, with the underlying iterator
// that would continue past its last record (nil if the shard had no
// more records at fetch time).
type CacheSegment struct {
	Position     IteratorPosition
	Records      []Record
	NextIterator *string
}

func (s *CacheSegment) firstSeq() *big.Int { return s.Records[0].SequenceNumber }
func (s *CacheSegment) lastSeq() *big.Int  { return s.Records[len(s.Records)-1].SequenceNumber }

// Endpoint is the underlying streams API this cache sits in front of
// (spec.md §4.L); only its interface shape is specified, implementations
// are out of scope.
type Endpoint interface {
	GetShardIterator(ctx context.Context, req ShardIteratorRequest) (ShardIteratorResponse, error)
	GetRecords(ctx context.Context, req RecordsRequest) (RecordsResponse, error)
}

type ShardIteratorRequest struct {
	StreamArn      string
	ShardId        string
	Type           IteratorType
	SequenceNumber *big.Int // only meaningful for absolute types
}

type ShardIteratorResponse struct {
	Iterator string // underlying, opaque, endpoint-defined handle
}

type RecordsRequest struct {
	Iterator string
	Limit    int
}

type RecordsResponse struct {
	Records           []Record
	NextShardIterator *string
}
