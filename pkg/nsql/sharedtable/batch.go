package sharedtable

import (
	"context"

	"github.com/developer-mesh/nsql-gateway/pkg/nsql/mapping"
	"github.com/developer-mesh/nsql-gateway/pkg/nsql/store"
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlerr"
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlmodel"
)

const maxBatchGetKeys = 100

// BatchGetItemRequest groups keys by VIRTUAL table name; a batch may span
// several virtual tables that collapse onto the same (or different)
// physical tables once rewritten.
type BatchGetItemRequest struct {
	Keys map[string][]mapping.Key // virtual table name -> keys
}

type BatchGetItemResponse struct {
	Items       map[string][]nsqlmodel.Item // virtual table name -> items
	Unprocessed map[string][]mapping.Key    // virtual table name -> keys not served
}

// batchOrigin records which virtual table a physical key was produced
// for, so a physical response item can be attributed back to it.
type batchOrigin struct {
	virtualTable string
}

// BatchGetItem implements spec.md §4.G's BatchGetItem row: up to 100 keys
// across virtual tables, partitioned by physical table after rewrite,
// aggregated, and inverse-rewritten; a partial underlying failure is
// surfaced as an Unprocessed subset rather than failing the whole call.
func (f *Facade) BatchGetItem(ctx context.Context, req BatchGetItemRequest) (BatchGetItemResponse, error) {
	const op = "sharedtable.BatchGetItem"
	tenantID, err := f.currentTenant(ctx, op)
	if err != nil {
		return BatchGetItemResponse{}, err
	}

	total := 0
	for _, keys := range req.Keys {
		total += len(keys)
	}
	if total > maxBatchGetKeys {
		return BatchGetItemResponse{}, nsqlerr.New(nsqlerr.KindUnsupportedOperation, op, nil)
	}

	physRequest := store.BatchGetItemRequest{Keys: map[string][]nsqlmodel.Item{}}
	// origins records, per physical table, which virtual tables
	// contributed keys to it, in case two virtual tables collapse onto
	// the same physical table (shared-table mode always does).
	origins := map[string][]batchOrigin{}
	mappings := map[string]*mapping.TableMapping{}

	for virtualTable, keys := range req.Keys {
		tm, err := f.mappingFor(ctx, tenantID, virtualTable)
		if err != nil {
			return BatchGetItemResponse{}, err
		}
		mappings[virtualTable] = tm
		for _, k := range keys {
			physKey, err := tm.ApplyForKey(k)
			if err != nil {
				return BatchGetItemResponse{}, err
			}
			physRequest.Keys[tm.Physical.Name] = append(physRequest.Keys[tm.Physical.Name], nsqlmodel.Item(physKey))
		}
		origins[tm.Physical.Name] = append(origins[tm.Physical.Name], batchOrigin{virtualTable: virtualTable})
	}

	res, err := f.dispatch(func() (interface{}, error) {
		return f.store.BatchGetItem(ctx, physRequest)
	})
	if err != nil {
		return BatchGetItemResponse{}, err
	}
	out := res.(store.BatchGetItemResponse)

	items := map[string][]nsqlmodel.Item{}
	for physTable, physItems := range out.Items {
		for _, phys := range physItems {
			virtualTable, tm := attributeToVirtualTable(origins[physTable], mappings, phys)
			if tm == nil {
				continue
			}
			v, err := tm.InverseForItem(phys)
			if err != nil {
				return BatchGetItemResponse{}, err
			}
			items[virtualTable] = append(items[virtualTable], v)
		}
	}

	unprocessed := map[string][]mapping.Key{}
	for physTable, physKeys := range out.Unprocessed {
		for _, phys := range physKeys {
			virtualTable, tm := attributeToVirtualTable(origins[physTable], mappings, phys)
			if tm == nil {
				continue
			}
			vk, err := tm.InverseForKey(mapping.Key(phys))
			if err != nil {
				continue
			}
			unprocessed[virtualTable] = append(unprocessed[virtualTable], vk)
		}
	}

	return BatchGetItemResponse{Items: items, Unprocessed: unprocessed}, nil
}

// attributeToVirtualTable decodes phys's composite hash key against each
// candidate virtual table's mapping that shares the physical table,
// returning the first one whose decoded table name matches; when none
// matches it falls back to the first candidate.
func attributeToVirtualTable(candidates []batchOrigin, mappings map[string]*mapping.TableMapping, phys nsqlmodel.Item) (string, *mapping.TableMapping) {
	for _, c := range candidates {
		tm := mappings[c.virtualTable]
		if tm == nil {
			continue
		}
		hv, ok := phys[tm.Physical.Keys.Hash.Name]
		if !ok || hv.Type != nsqlmodel.AttrTypeString {
			continue
		}
		_, table, _, err := tm.DecodeHash(hv.S)
		if err == nil && table == tm.Virtual.Name {
			return c.virtualTable, tm
		}
	}
	if len(candidates) > 0 {
		return candidates[0].virtualTable, mappings[candidates[0].virtualTable]
	}
	return "", nil
}
