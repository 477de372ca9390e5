package streams

import (
	"context"
	"math/big"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/btree"
	"golang.org/x/time/rate"

	"github.com/developer-mesh/nsql-gateway/pkg/nsqlerr"
	"github.com/developer-mesh/nsql-gateway/pkg/observability"
)

const maxRecordsPerResult = 1000

// Config is the streams cache's recognized option set (spec.md §4.I).
type Config struct {
	MaxSegments int
	MaxRetries  int
	BackoffMs   int
	// RecordsPerSecond bounds client-side calls into GetRecords, in
	// addition to the reactive LimitExceeded retry; zero disables it.
	RecordsPerSecond float64
	Burst            int
}

func (c Config) withDefaults() Config {
	if c.MaxSegments <= 0 {
		c.MaxSegments = 1000
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.BackoffMs <= 0 {
		c.BackoffMs = 50
	}
	return c
}

type shardKey struct{ streamArn, shardId string }

// Cache is the segment cache described by spec.md §4.I: one coarse
// reader/writer lock guards a per-shard btree.BTreeG index of
// CacheSegments plus a single FIFO eviction queue shared across shards.
type Cache struct {
	cfg      Config
	endpoint Endpoint
	limiter  *rate.Limiter
	log      observability.Logger

	mu       sync.RWMutex
	byShard  map[shardKey]*btree.BTreeG[*CacheSegment]
	eviction []IteratorPosition // FIFO by insertion order
}

// NewCache constructs a Cache fronting endpoint.
func NewCache(cfg Config, endpoint Endpoint, log observability.Logger) *Cache {
	cfg = cfg.withDefaults()
	if log == nil {
		log = observability.NewNoopLogger()
	}
	var limiter *rate.Limiter
	if cfg.RecordsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RecordsPerSecond), burst)
	} else {
		limiter = rate.NewLimiter(rate.Inf, 0)
	}
	return &Cache{
		cfg:      cfg,
		endpoint: endpoint,
		limiter:  limiter,
		log:      log.WithPrefix("streams.cache"),
		byShard:  map[shardKey]*btree.BTreeG[*CacheSegment]{},
	}
}

func segmentLess(a, b *CacheSegment) bool { return a.Position.less(b.Position) }

func (c *Cache) treeFor(k shardKey) *btree.BTreeG[*CacheSegment] {
	t, ok := c.byShard[k]
	if !ok {
		t = btree.NewG[*CacheSegment](32, segmentLess)
		c.byShard[k] = t
	}
	return t
}

// GetShardIterator issues an opaque external iterator for (streamArn,
// shardId, type[, sequenceNumber]), eagerly resolving the underlying
// iterator for logical types so "latest" does not drift, and deferring
// resolution for absolute types (spec.md §4.I).
func (c *Cache) GetShardIterator(ctx context.Context, streamArn, shardId string, typ IteratorType, seqNum *big.Int) (string, error) {
	ext := ExternalIterator{StreamArn: streamArn, ShardId: shardId, Type: typ}
	if typ.IsAbsolute() {
		ext.SequenceNumber = seqNum
		return ext.Encode(), nil
	}
	res, err := c.endpoint.GetShardIterator(ctx, ShardIteratorRequest{StreamArn: streamArn, ShardId: shardId, Type: typ})
	if err != nil {
		return "", nsqlerr.New(nsqlerr.KindUnsupportedOperation, "streams.GetShardIterator", err)
	}
	ext.Underlying = &res.Iterator
	return ext.Encode(), nil
}

// GetRecords implements spec.md §4.I's GetRecords algorithm.
func (c *Cache) GetRecords(ctx context.Context, externalIterator string, limit int) ([]Record, string, error) {
	ext, err := ParseExternalIterator(externalIterator)
	if err != nil {
		return nil, "", err
	}

	if ext.Type.IsAbsolute() {
		if recs, next, ok := c.lookup(ext, limit); ok {
			return recs, next, nil
		}
	}

	// TRIM_HORIZON results are never cached (Non-goal: the cache's
	// "latest"/trim-horizon mode); every other miss path is cached below.
	return c.fetchAndCache(ctx, ext, limit)
}

// lookup serves an absolute-position request from the in-memory index,
// per spec.md §4.I step 1.
func (c *Cache) lookup(ext ExternalIterator, limit int) ([]Record, string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	k := shardKey{ext.StreamArn, ext.ShardId}
	tree, ok := c.byShard[k]
	if !ok {
		return nil, "", false
	}
	P := ext.SequenceNumber
	pivot := &CacheSegment{Position: IteratorPosition{StreamArn: ext.StreamArn, ShardId: ext.ShardId, SeqNum: P}}
	var found *CacheSegment
	tree.DescendLessOrEqual(pivot, func(seg *CacheSegment) bool {
		found = seg
		return false
	})
	if found == nil {
		return nil, "", false
	}
	if found.lastSeq().Cmp(P) < 0 {
		return nil, "", false // P is past this segment's end: miss
	}
	// P falls within [firstSeq, lastSeq] of found.
	start := 0
	for start < len(found.Records) && found.Records[start].SequenceNumber.Cmp(P) < 0 {
		start++
	}
	recs := found.Records[start:]
	return c.applyLimit(recs, found, limit)
}

// applyLimit trims recs to the caller's limit, per spec.md §4.I's "Limit
// application": returning a prefix and an AFTER_SEQUENCE_NUMBER iterator
// anchored at the prefix's last record when truncated, or the segment's
// own nextIterator/end-of-range iterator otherwise.
func (c *Cache) applyLimit(recs []Record, seg *CacheSegment, limit int) ([]Record, string, bool) {
	if limit > 0 && limit < len(recs) {
		prefix := recs[:limit]
		next := ExternalIterator{
			StreamArn:      seg.Position.StreamArn,
			ShardId:        seg.Position.ShardId,
			Type:           AfterSequenceNumber,
			SequenceNumber: prefix[len(prefix)-1].SequenceNumber,
		}
		return prefix, next.Encode(), true
	}
	next := ExternalIterator{
		StreamArn:      seg.Position.StreamArn,
		ShardId:        seg.Position.ShardId,
		Type:           AfterSequenceNumber,
		SequenceNumber: recs[len(recs)-1].SequenceNumber,
		Underlying:     seg.NextIterator,
	}
	return recs, next.Encode(), true
}

// fetchAndCache loads from the underlying endpoint (retrying on
// LimitExceeded with linear backoff), inserts the result into the cache
// with merge, and returns the records matching the caller's original
// iterator.
func (c *Cache) fetchAndCache(ctx context.Context, ext ExternalIterator, limit int) ([]Record, string, error) {
	underlying := ext.Underlying
	if underlying == nil {
		res, err := c.endpoint.GetShardIterator(ctx, ShardIteratorRequest{
			StreamArn:      ext.StreamArn,
			ShardId:        ext.ShardId,
			Type:           ext.Type,
			SequenceNumber: ext.SequenceNumber,
		})
		if err != nil {
			return nil, "", nsqlerr.New(nsqlerr.KindUnsupportedOperation, "streams.GetRecords", err)
		}
		underlying = &res.Iterator
	}

	var out RecordsResponse
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		res, err := c.endpoint.GetRecords(ctx, RecordsRequest{Iterator: *underlying, Limit: limit})
		if err != nil {
			if nsqlerr.Is(err, nsqlerr.KindLimitExceeded) {
				return err // retryable
			}
			return backoff.Permanent(err)
		}
		out = res
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(newLinearBackOff(c.cfg.BackoffMs), uint64(c.cfg.MaxRetries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		if nsqlerr.Is(err, nsqlerr.KindLimitExceeded) {
			return nil, "", nsqlerr.New(nsqlerr.KindLimitExceeded, "streams.GetRecords", err)
		}
		return nil, "", err
	}

	if len(out.Records) == 0 {
		if out.NextShardIterator == nil {
			return nil, "", nil
		}
		next := ext
		next.Underlying = out.NextShardIterator
		return nil, next.Encode(), nil
	}

	seg := &CacheSegment{
		Position:     IteratorPosition{StreamArn: ext.StreamArn, ShardId: ext.ShardId, SeqNum: out.Records[0].SequenceNumber},
		Records:      out.Records,
		NextIterator: out.NextShardIterator,
	}
	c.mu.Lock()
	inserted := c.insertWithMerge(seg)
	c.mu.Unlock()

	start := 0
	if ext.Type.IsAbsolute() && ext.SequenceNumber != nil {
		for start < len(inserted.Records) && inserted.Records[start].SequenceNumber.Cmp(ext.SequenceNumber) < 0 {
			start++
		}
	}
	recs, next, _ := c.applyLimit(inserted.Records[start:], inserted, limit)
	return recs, next, nil
}

// insertWithMerge implements spec.md §4.I's insert-with-merge algorithm,
// preserving invariants I1 (every segment non-empty) and I2 (no two
// same-shard segments overlap) by construction. Returns the segment that
// ends up indexed at (or covering) newSeg's original position.
func (c *Cache) insertWithMerge(newSeg *CacheSegment) *CacheSegment {
	k := shardKey{newSeg.Position.StreamArn, newSeg.Position.ShardId}
	tree := c.treeFor(k)

	pred, hasPred := c.predecessor(tree, newSeg.Position)
	succ, hasSucc := c.successor(tree, newSeg.Position)

	if hasPred && pred.lastSeq().Cmp(newSeg.Position.SeqNum) >= 0 {
		// pred overlaps: trim newSeg to records strictly after pred's last.
		cut := 0
		for cut < len(newSeg.Records) && newSeg.Records[cut].SequenceNumber.Cmp(pred.lastSeq()) <= 0 {
			cut++
		}
		if cut >= len(newSeg.Records) {
			return pred // nothing new; pred already covers newSeg
		}
		newSeg.Records = newSeg.Records[cut:]
		newSeg.Position = IteratorPosition{StreamArn: k.streamArn, ShardId: k.shardId, SeqNum: newSeg.firstSeq()}
	}

	if hasSucc && succ.firstSeq().Cmp(newSeg.lastSeq()) <= 0 {
		// succ overlaps: trim newSeg to records strictly before succ's first.
		cut := len(newSeg.Records)
		for cut > 0 && newSeg.Records[cut-1].SequenceNumber.Cmp(succ.firstSeq()) >= 0 {
			cut--
		}
		if cut == 0 {
			tree.Delete(succ)
			c.removeFromEviction(succ.Position)
			newSeg.Records = succ.Records
			newSeg.NextIterator = succ.NextIterator
			newSeg.Position = IteratorPosition{StreamArn: k.streamArn, ShardId: k.shardId, SeqNum: newSeg.firstSeq()}
			succ = nil
			hasSucc = false
		} else {
			newSeg.Records = newSeg.Records[:cut]
		}
	}

	if hasPred && pred.NextIterator == nil && isAdjacent(pred.lastSeq(), newSeg.firstSeq()) && len(pred.Records)+len(newSeg.Records) <= maxRecordsPerResult {
		tree.Delete(pred)
		c.removeFromEviction(pred.Position)
		newSeg.Records = append(append([]Record{}, pred.Records...), newSeg.Records...)
		newSeg.Position = pred.Position
	}
	if hasSucc && succ != nil && isAdjacent(newSeg.lastSeq(), succ.firstSeq()) && len(newSeg.Records)+len(succ.Records) <= maxRecordsPerResult {
		tree.Delete(succ)
		c.removeFromEviction(succ.Position)
		newSeg.Records = append(append([]Record{}, newSeg.Records...), succ.Records...)
		newSeg.NextIterator = succ.NextIterator
	}

	tree.ReplaceOrInsert(newSeg)
	c.eviction = append(c.eviction, newSeg.Position)
	c.evictIfNeeded()
	return newSeg
}

func isAdjacent(lastOfFirst, firstOfSecond *big.Int) bool {
	want := new(big.Int).Add(lastOfFirst, big.NewInt(1))
	return want.Cmp(firstOfSecond) == 0
}

func (c *Cache) predecessor(tree *btree.BTreeG[*CacheSegment], pos IteratorPosition) (*CacheSegment, bool) {
	pivot := &CacheSegment{Position: pos}
	var found *CacheSegment
	tree.DescendLessOrEqual(pivot, func(seg *CacheSegment) bool {
		if seg.Position.SeqNum.Cmp(pos.SeqNum) != 0 {
			found = seg
		}
		return false
	})
	return found, found != nil
}

func (c *Cache) successor(tree *btree.BTreeG[*CacheSegment], pos IteratorPosition) (*CacheSegment, bool) {
	pivot := &CacheSegment{Position: pos}
	var found *CacheSegment
	tree.AscendGreaterOrEqual(pivot, func(seg *CacheSegment) bool {
		if seg.Position.SeqNum.Cmp(pos.SeqNum) != 0 {
			found = seg
			return false
		}
		return true // skip an exact-position match (the node being inserted over)
	})
	return found, found != nil
}

// evictIfNeeded pops the oldest-inserted segment while the cache exceeds
// its configured capacity, per spec.md §4.I.
func (c *Cache) evictIfNeeded() {
	for len(c.eviction) > 0 && c.segmentCount() > c.cfg.MaxSegments {
		oldest := c.eviction[0]
		c.eviction = c.eviction[1:]
		if tree, ok := c.byShard[shardKey{oldest.StreamArn, oldest.ShardId}]; ok {
			tree.Delete(&CacheSegment{Position: oldest})
		}
	}
}

func (c *Cache) segmentCount() int {
	n := 0
	for _, t := range c.byShard {
		n += t.Len()
	}
	return n
}

func (c *Cache) removeFromEviction(pos IteratorPosition) {
	for i, p := range c.eviction {
		if p.StreamArn == pos.StreamArn && p.ShardId == pos.ShardId && p.SeqNum.Cmp(pos.SeqNum) == 0 {
			c.eviction = append(c.eviction[:i], c.eviction[i+1:]...)
			return
		}
	}
}
