// Package mapping builds and caches the per-(tenant, virtualTable)
// TableMapping (spec.md §4.F): the derived plan combining the key codec,
// the secondary-index mapper, and the expression rewriter into four
// operations a façade calls on every request.
package mapping

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/developer-mesh/nsql-gateway/pkg/nsql/codec"
	"github.com/developer-mesh/nsql-gateway/pkg/nsql/expr"
	"github.com/developer-mesh/nsql-gateway/pkg/nsql/index"
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlerr"
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlmodel"
	"github.com/developer-mesh/nsql-gateway/pkg/observability"
)

// FieldMapping is one key attribute's virtual/physical correspondence.
type FieldMapping struct {
	VirtualField  string
	PhysicalField string
	VirtualType   nsqlmodel.AttrType
	PhysicalType  nsqlmodel.AttrType
	IsHashKey     bool
}

// TableMapping is the derived plan for one (tenant, virtualTable) pair.
type TableMapping struct {
	Tenant   string
	Virtual  nsqlmodel.VirtualTableDescription
	Physical nsqlmodel.PhysicalTableDescription

	primary FieldMapping
	rangeFM *FieldMapping
	// indexes maps each mapped secondary index's VIRTUAL name to its
	// physical index and the FieldMapping of its hash key.
	indexes map[string]resolvedIndex

	codec    *codec.Codec
	strategy index.Strategy
}

type resolvedIndex struct {
	physical nsqlmodel.IndexDescription
	hash     FieldMapping
}

// Build derives a TableMapping for one tenant/virtual table pair from its
// virtual and physical descriptions, a configured codec, and a secondary
// index resolution strategy.
func Build(tenantID string, virtual nsqlmodel.VirtualTableDescription, physical nsqlmodel.PhysicalTableDescription, c *codec.Codec, strategy index.Strategy) (*TableMapping, error) {
	tm := &TableMapping{
		Tenant:   tenantID,
		Virtual:  virtual,
		Physical: physical,
		codec:    c,
		strategy: strategy,
		indexes:  map[string]resolvedIndex{},
	}
	tm.primary = FieldMapping{
		VirtualField:  virtual.Keys.Hash.Name,
		PhysicalField: physical.Keys.Hash.Name,
		VirtualType:   virtual.Keys.Hash.Type,
		PhysicalType:  physical.Keys.Hash.Type,
		IsHashKey:     true,
	}
	if virtual.Keys.Range != nil {
		if physical.Keys.Range == nil {
			return nil, nsqlerr.New(nsqlerr.KindIncompatibleSchema, "mapping.Build", nil)
		}
		tm.rangeFM = &FieldMapping{
			VirtualField:  virtual.Keys.Range.Name,
			PhysicalField: physical.Keys.Range.Name,
			VirtualType:   virtual.Keys.Range.Type,
			PhysicalType:  physical.Keys.Range.Type,
			IsHashKey:     false,
		}
	}
	for _, vix := range virtual.Indexes {
		pix, err := strategy.Resolve(vix, physical)
		if err != nil {
			continue // unmapped index: resolveIndex surfaces NoCompatibleIndex lazily
		}
		tm.indexes[vix.Name] = resolvedIndex{
			physical: pix,
			hash: FieldMapping{
				VirtualField:  vix.Keys.Hash.Name,
				PhysicalField: pix.Keys.Hash.Name,
				VirtualType:   vix.Keys.Hash.Type,
				PhysicalType:  pix.Keys.Hash.Type,
				IsHashKey:     true,
			},
		}
	}
	return tm, nil
}

// ApplyForItem rewrites a virtual item's key attributes into their
// physical equivalents, leaving every other attribute untouched. The
// input item is never mutated.
func (tm *TableMapping) ApplyForItem(item nsqlmodel.Item) (nsqlmodel.Item, error) {
	out := item.Clone()
	hv, ok := item[tm.primary.VirtualField]
	if !ok {
		return nil, nsqlerr.New(nsqlerr.KindMalformedPhysicalKey, "mapping.ApplyForItem", nil)
	}
	phys, err := tm.codec.Encode(tm.Tenant, tm.Virtual.Name, hv)
	if err != nil {
		return nil, err
	}
	delete(out, tm.primary.VirtualField)
	out[tm.primary.PhysicalField] = nsqlmodel.AttributeValue{Type: nsqlmodel.AttrTypeString, S: phys}
	if tm.rangeFM != nil && tm.rangeFM.VirtualField != tm.rangeFM.PhysicalField {
		if rv, ok := item[tm.rangeFM.VirtualField]; ok {
			delete(out, tm.rangeFM.VirtualField)
			out[tm.rangeFM.PhysicalField] = rv
		}
	}
	return out, nil
}

// InverseForItem reconstructs the virtual item from a physical one,
// decoding the composite hash key back into the original virtual value.
func (tm *TableMapping) InverseForItem(item nsqlmodel.Item) (nsqlmodel.Item, error) {
	out := item.Clone()
	pv, ok := item[tm.primary.PhysicalField]
	if !ok {
		return nil, nsqlerr.New(nsqlerr.KindMalformedPhysicalKey, "mapping.InverseForItem", nil)
	}
	if pv.Type != nsqlmodel.AttrTypeString {
		return nil, nsqlerr.New(nsqlerr.KindMalformedPhysicalKey, "mapping.InverseForItem", nil)
	}
	_, _, hashText, err := tm.codec.Decode(pv.S)
	if err != nil {
		return nil, err
	}
	hv, err := codec.ParseHashValue(hashText, tm.primary.VirtualType)
	if err != nil {
		return nil, err
	}
	if tm.primary.PhysicalField != tm.primary.VirtualField {
		delete(out, tm.primary.PhysicalField)
	}
	out[tm.primary.VirtualField] = hv
	if tm.rangeFM != nil && tm.rangeFM.VirtualField != tm.rangeFM.PhysicalField {
		if rv, ok := item[tm.rangeFM.PhysicalField]; ok {
			delete(out, tm.rangeFM.PhysicalField)
			out[tm.rangeFM.VirtualField] = rv
		}
	}
	return out, nil
}

// Key is a bare (hash[, range]) key, as passed to GetItem/DeleteItem.
type Key map[string]nsqlmodel.AttributeValue

// ApplyForKey rewrites a virtual key into its physical equivalent.
func (tm *TableMapping) ApplyForKey(key Key) (Key, error) {
	item, err := tm.ApplyForItem(nsqlmodel.Item(key))
	if err != nil {
		return nil, err
	}
	out := Key{}
	out[tm.primary.PhysicalField] = item[tm.primary.PhysicalField]
	if tm.rangeFM != nil {
		if v, ok := item[tm.rangeFM.PhysicalField]; ok {
			out[tm.rangeFM.PhysicalField] = v
		}
	}
	return out, nil
}

// InverseForKey reconstructs a virtual key from a physical one.
func (tm *TableMapping) InverseForKey(key Key) (Key, error) {
	item, err := tm.InverseForItem(nsqlmodel.Item(key))
	if err != nil {
		return nil, err
	}
	out := Key{}
	out[tm.primary.VirtualField] = item[tm.primary.VirtualField]
	if tm.rangeFM != nil {
		if v, ok := item[tm.rangeFM.VirtualField]; ok {
			out[tm.rangeFM.VirtualField] = v
		}
	}
	return out, nil
}

// resolver adapts a TableMapping into an expr.Resolver. It resolves the
// primary hash key, the range key, and the hash key of every mapped
// secondary index, whichever index the rewrite targets; viaIndex is not
// consulted.
type resolver struct {
	tm        *TableMapping
	viaIndex  string
}

func (r resolver) Resolve(virtualName string) (expr.KeyAttr, bool) {
	if virtualName == r.tm.primary.VirtualField {
		return expr.KeyAttr{
			PhysicalName: r.tm.primary.PhysicalField,
			IsHashKey:    true,
			VirtualType:  r.tm.primary.VirtualType,
		}, true
	}
	if r.tm.rangeFM != nil && virtualName == r.tm.rangeFM.VirtualField {
		return expr.KeyAttr{PhysicalName: r.tm.rangeFM.PhysicalField}, true
	}
	for _, ix := range r.tm.indexes {
		if virtualName == ix.hash.VirtualField {
			return expr.KeyAttr{
				PhysicalName: ix.hash.PhysicalField,
				IsHashKey:    true,
				IsIndexHash:  true,
				VirtualType:  ix.hash.VirtualType,
			}, true
		}
	}
	return expr.KeyAttr{}, false
}

// RewriteExpression rewrites text of the given role, substituting virtual
// key-attribute references with their physical equivalents and
// codec-rewriting any value compared against the hash key.
func (tm *TableMapping) RewriteExpression(text string, names map[string]string, values map[string]nsqlmodel.AttributeValue, role nsqlmodel.ExpressionRole) (expr.Result, error) {
	return expr.Rewrite(text, names, values, role, resolver{tm: tm}, func(v nsqlmodel.AttributeValue) (nsqlmodel.AttributeValue, error) {
		phys, err := tm.codec.Encode(tm.Tenant, tm.Virtual.Name, v)
		if err != nil {
			return nsqlmodel.AttributeValue{}, err
		}
		return nsqlmodel.AttributeValue{Type: nsqlmodel.AttrTypeString, S: phys}, nil
	})
}

// DecodeHash decodes a composite physical hash-key string through this
// mapping's codec, for callers (batch fan-in, streams façades) that need
// to attribute a physical record back to a tenant/virtual table without
// holding a reference to the codec itself.
func (tm *TableMapping) DecodeHash(physicalHashValue string) (tenantID, virtualTable, hashText string, err error) {
	return tm.codec.Decode(physicalHashValue)
}

// ResolveIndex returns the physical index description for a named virtual
// index, or the primary key schema when virtualIndexName is empty.
func (tm *TableMapping) ResolveIndex(virtualIndexName string) (nsqlmodel.IndexDescription, error) {
	if virtualIndexName == "" {
		return nsqlmodel.IndexDescription{Name: "", Keys: tm.Physical.Keys, Projection: nsqlmodel.ProjectionAll}, nil
	}
	ix, ok := tm.indexes[virtualIndexName]
	if !ok {
		return nsqlmodel.IndexDescription{}, nsqlerr.New(nsqlerr.KindNoCompatibleIndex, "mapping.ResolveIndex", nil)
	}
	return ix.physical, nil
}

// Descriptor supplies the virtual and physical table descriptions needed
// to build a TableMapping; the façade's metadata repository and the
// physical-table resolver implement this.
type Descriptor interface {
	VirtualTable(ctx context.Context, tenantID, name string) (nsqlmodel.VirtualTableDescription, error)
	PhysicalTable(ctx context.Context, tenantID, virtualName string) (nsqlmodel.PhysicalTableDescription, error)
}

// Cache is the bounded, singleflight-guarded TableMapping cache described
// in spec.md §5: built once per (tenant, virtualTableName), invalidated
// when the virtual table is dropped.
type Cache struct {
	lru      *lru.Cache[string, *TableMapping]
	flight   singleflight.Group
	desc     Descriptor
	codec    *codec.Codec
	strategy index.Strategy
	log      observability.Logger
}

// NewCache constructs a Cache with the given capacity (number of
// TableMapping entries held at once).
func NewCache(capacity int, desc Descriptor, c *codec.Codec, strategy index.Strategy, log observability.Logger) (*Cache, error) {
	if capacity <= 0 {
		capacity = 1024
	}
	l, err := lru.New[string, *TableMapping](capacity)
	if err != nil {
		return nil, nsqlerr.New(nsqlerr.KindUnsupportedOperation, "mapping.NewCache", err)
	}
	if log == nil {
		log = observability.NewNoopLogger()
	}
	return &Cache{lru: l, desc: desc, codec: c, strategy: strategy, log: log}, nil
}

func cacheKey(tenantID, virtualName string) string { return tenantID + "\x00" + virtualName }

// Get returns the cached TableMapping for (tenantID, virtualName),
// building and caching it on first reference. Concurrent first references
// for the same key collapse into a single build via singleflight.
func (c *Cache) Get(ctx context.Context, tenantID, virtualName string) (*TableMapping, error) {
	key := cacheKey(tenantID, virtualName)
	if tm, ok := c.lru.Get(key); ok {
		return tm, nil
	}
	v, err, _ := c.flight.Do(key, func() (interface{}, error) {
		if tm, ok := c.lru.Get(key); ok {
			return tm, nil
		}
		virtual, err := c.desc.VirtualTable(ctx, tenantID, virtualName)
		if err != nil {
			return nil, err
		}
		physical, err := c.desc.PhysicalTable(ctx, tenantID, virtualName)
		if err != nil {
			return nil, err
		}
		tm, err := Build(tenantID, virtual, physical, c.codec, c.strategy)
		if err != nil {
			return nil, err
		}
		c.lru.Add(key, tm)
		c.log.Debug("table mapping built", map[string]any{"tenant": tenantID, "table": virtualName})
		return tm, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*TableMapping), nil
}

// Invalidate evicts any cached mapping for (tenantID, virtualName), per
// spec.md §4.F's "invalidated when the underlying virtual description is
// dropped".
func (c *Cache) Invalidate(tenantID, virtualName string) {
	c.lru.Remove(cacheKey(tenantID, virtualName))
}
