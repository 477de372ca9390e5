// Package index implements the secondary-index mapper (spec.md §4.D):
// picking a physical index that can host a virtual index, either by name
// or by key-type shape.
package index

import (
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlerr"
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlmodel"
)

// Strategy selects a physical index for a virtual one.
type Strategy interface {
	Name() string
	Resolve(virtual nsqlmodel.IndexDescription, physicalTable nsqlmodel.PhysicalTableDescription) (nsqlmodel.IndexDescription, error)
}

// ByName requires a physical index of the same name, with a compatible
// key shape: hash type identical after rewriting (always S once
// rewritten, so this only constrains the *virtual* hash type implicitly
// through the caller), range type identical or both absent.
type ByName struct{}

func (ByName) Name() string { return "by-name" }

func (ByName) Resolve(virtual nsqlmodel.IndexDescription, physicalTable nsqlmodel.PhysicalTableDescription) (nsqlmodel.IndexDescription, error) {
	phys, ok := physicalTable.Index(virtual.Name)
	if !ok {
		return nsqlmodel.IndexDescription{}, nsqlerr.New(nsqlerr.KindNoCompatibleIndex, "index.ByName.Resolve", nil)
	}
	if !rangeCompatible(virtual.Keys, phys.Keys) {
		return nsqlmodel.IndexDescription{}, nsqlerr.New(nsqlerr.KindNoCompatibleIndex, "index.ByName.Resolve", nil)
	}
	return phys, nil
}

// ByType picks a physical index by key-type shape. A virtual index with a
// range key needs a physical index whose range key has the same type; a
// hash-only virtual index prefers a hash-only physical index and otherwise
// takes the first physical index that has a range key.
type ByType struct{}

func (ByType) Name() string { return "by-type" }

func (ByType) Resolve(virtual nsqlmodel.IndexDescription, physicalTable nsqlmodel.PhysicalTableDescription) (nsqlmodel.IndexDescription, error) {
	var fallback *nsqlmodel.IndexDescription
	wantHashOnly := virtual.Keys.Range == nil
	for i := range physicalTable.Indexes {
		cand := physicalTable.Indexes[i]
		if !wantHashOnly && !rangeCompatible(virtual.Keys, cand.Keys) {
			continue
		}
		candHashOnly := cand.Keys.Range == nil
		if wantHashOnly && candHashOnly {
			return cand, nil
		}
		if fallback == nil {
			c := cand
			fallback = &c
		}
	}
	if fallback != nil {
		return *fallback, nil
	}
	return nsqlmodel.IndexDescription{}, nsqlerr.New(nsqlerr.KindNoCompatibleIndex, "index.ByType.Resolve", nil)
}

// rangeCompatible reports whether two key schemas agree on whether a
// range key is present, and on its type when both have one. The hash
// key's physical type is not compared here: in shared-table mode every
// physical hash key is rewritten to S regardless of the virtual hash
// type, so hash-type compatibility is governed by the codec, not this
// strategy.
func rangeCompatible(a, b nsqlmodel.KeySchema) bool {
	if (a.Range == nil) != (b.Range == nil) {
		return false
	}
	if a.Range != nil && b.Range != nil && a.Range.Type != b.Range.Type {
		return false
	}
	return true
}
