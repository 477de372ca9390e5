// Package storetest is a hand-written in-memory fake of store.Store,
// sufficient to drive the shared-table and table-per-tenant façades in
// tests without a real underlying NSQL store (spec.md §4.L: "a real
// implementation... is out of scope; tests drive the façades against
// hand-written fakes of this interface").
//
// It understands only the narrow expression shapes the façades actually
// emit: "field = :placeholder", "begins_with(field, :placeholder)", and
// "SET field = :placeholder[, field = :placeholder]*". Anything else is
// treated as always-true (filters) or a no-op (updates), which is
// sufficient because façade-level rewriting is tested independently.
package storetest

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"github.com/developer-mesh/nsql-gateway/pkg/nsql/store"
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlerr"
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlmodel"
)

type table struct {
	desc  nsqlmodel.PhysicalTableDescription
	items []nsqlmodel.Item
}

// MemoryStore is a process-local fake of store.Store.
type MemoryStore struct {
	mu     sync.Mutex
	tables map[string]*table
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: map[string]*table{}}
}

func (m *MemoryStore) CreateTable(ctx context.Context, req store.CreateTableRequest) (store.CreateTableResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	desc := nsqlmodel.PhysicalTableDescription{Name: req.TableName, Keys: req.Keys, Indexes: req.Indexes}
	if _, ok := m.tables[req.TableName]; !ok {
		m.tables[req.TableName] = &table{desc: desc}
	}
	return store.CreateTableResponse{Table: m.tables[req.TableName].desc}, nil
}

func (m *MemoryStore) DescribeTable(ctx context.Context, req store.DescribeTableRequest) (store.DescribeTableResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tb, ok := m.tables[req.TableName]
	if !ok {
		return store.DescribeTableResponse{Exists: false}, nil
	}
	return store.DescribeTableResponse{Table: tb.desc, Exists: true}, nil
}

func (m *MemoryStore) DeleteTable(ctx context.Context, req store.DeleteTableRequest) (store.DeleteTableResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tables, req.TableName)
	return store.DeleteTableResponse{}, nil
}

func (m *MemoryStore) keyOf(desc nsqlmodel.PhysicalTableDescription, item nsqlmodel.Item) (string, string) {
	hv := item[desc.Keys.Hash.Name]
	rv := ""
	if desc.Keys.Range != nil {
		if v, ok := item[desc.Keys.Range.Name]; ok {
			rv = stringOf(v)
		}
	}
	return stringOf(hv), rv
}

func stringOf(v nsqlmodel.AttributeValue) string {
	switch v.Type {
	case nsqlmodel.AttrTypeString:
		return v.S
	case nsqlmodel.AttrTypeNumber:
		return v.N
	default:
		return string(v.B)
	}
}

func (m *MemoryStore) GetItem(ctx context.Context, req store.GetItemRequest) (store.GetItemResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tb, ok := m.tables[req.TableName]
	if !ok {
		return store.GetItemResponse{}, nsqlerr.New(nsqlerr.KindTableNotFound, "storetest.GetItem", nil)
	}
	wantHash, wantRange := m.keyOf(tb.desc, req.Key)
	for _, it := range tb.items {
		h, r := m.keyOf(tb.desc, it)
		if h == wantHash && r == wantRange {
			return store.GetItemResponse{Item: it.Clone(), Found: true}, nil
		}
	}
	return store.GetItemResponse{Found: false}, nil
}

func (m *MemoryStore) PutItem(ctx context.Context, req store.PutItemRequest) (store.PutItemResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tb, ok := m.tables[req.TableName]
	if !ok {
		return store.PutItemResponse{}, nsqlerr.New(nsqlerr.KindTableNotFound, "storetest.PutItem", nil)
	}
	h, r := m.keyOf(tb.desc, req.Item)
	for i, it := range tb.items {
		ih, ir := m.keyOf(tb.desc, it)
		if ih == h && ir == r {
			tb.items[i] = req.Item.Clone()
			return store.PutItemResponse{}, nil
		}
	}
	tb.items = append(tb.items, req.Item.Clone())
	return store.PutItemResponse{}, nil
}

var setAssignRe = regexp.MustCompile(`(\w+)\s*=\s*:(\w+)`)

func (m *MemoryStore) UpdateItem(ctx context.Context, req store.UpdateItemRequest) (store.UpdateItemResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tb, ok := m.tables[req.TableName]
	if !ok {
		return store.UpdateItemResponse{}, nsqlerr.New(nsqlerr.KindTableNotFound, "storetest.UpdateItem", nil)
	}
	h, r := m.keyOf(tb.desc, req.Key)
	var found nsqlmodel.Item
	idx := -1
	for i, it := range tb.items {
		ih, ir := m.keyOf(tb.desc, it)
		if ih == h && ir == r {
			found = it.Clone()
			idx = i
			break
		}
	}
	if idx < 0 {
		found = req.Key.Clone()
	}
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(req.UpdateExpression)), "SET") {
		for _, m2 := range setAssignRe.FindAllStringSubmatch(req.UpdateExpression, -1) {
			field, ph := m2[1], m2[2]
			if v, ok := req.ExpressionValues[ph]; ok {
				found[field] = v
			}
		}
	}
	if idx >= 0 {
		tb.items[idx] = found
	} else {
		tb.items = append(tb.items, found)
	}
	return store.UpdateItemResponse{Item: found.Clone()}, nil
}

func (m *MemoryStore) DeleteItem(ctx context.Context, req store.DeleteItemRequest) (store.DeleteItemResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tb, ok := m.tables[req.TableName]
	if !ok {
		return store.DeleteItemResponse{}, nsqlerr.New(nsqlerr.KindTableNotFound, "storetest.DeleteItem", nil)
	}
	h, r := m.keyOf(tb.desc, req.Key)
	out := tb.items[:0]
	for _, it := range tb.items {
		ih, ir := m.keyOf(tb.desc, it)
		if ih == h && ir == r {
			continue
		}
		out = append(out, it)
	}
	tb.items = out
	return store.DeleteItemResponse{}, nil
}

func (m *MemoryStore) BatchGetItem(ctx context.Context, req store.BatchGetItemRequest) (store.BatchGetItemResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := map[string][]nsqlmodel.Item{}
	for physTable, keys := range req.Keys {
		tb, ok := m.tables[physTable]
		if !ok {
			continue
		}
		for _, key := range keys {
			wantHash, wantRange := m.keyOf(tb.desc, key)
			for _, it := range tb.items {
				h, r := m.keyOf(tb.desc, it)
				if h == wantHash && r == wantRange {
					items[physTable] = append(items[physTable], it.Clone())
				}
			}
		}
	}
	return store.BatchGetItemResponse{Items: items}, nil
}

var equalsRe = regexp.MustCompile(`^\s*(\w+)\s*=\s*:(\w+)\s*$`)
var beginsWithRe = regexp.MustCompile(`^\s*begins_with\(\s*(\w+)\s*,\s*:(\w+)\s*\)\s*$`)

func matches(expr string, values map[string]nsqlmodel.AttributeValue, item nsqlmodel.Item) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true
	}
	if g := equalsRe.FindStringSubmatch(expr); g != nil {
		want := values[g[2]]
		got, ok := item[g[1]]
		return ok && stringOf(got) == stringOf(want)
	}
	if g := beginsWithRe.FindStringSubmatch(expr); g != nil {
		want := stringOf(values[g[2]])
		got, ok := item[g[1]]
		return ok && strings.HasPrefix(stringOf(got), want)
	}
	return true
}

func (m *MemoryStore) Query(ctx context.Context, req store.QueryRequest) (store.QueryResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tb, ok := m.tables[req.TableName]
	if !ok {
		return store.QueryResponse{}, nsqlerr.New(nsqlerr.KindTableNotFound, "storetest.Query", nil)
	}
	var out []nsqlmodel.Item
	for _, it := range tb.items {
		if !matches(req.KeyConditionExpression, req.ExpressionValues, it) {
			continue
		}
		if !matches(req.FilterExpression, req.ExpressionValues, it) {
			continue
		}
		out = append(out, it.Clone())
	}
	return store.QueryResponse{Items: out}, nil
}

func (m *MemoryStore) Scan(ctx context.Context, req store.ScanRequest) (store.ScanResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tb, ok := m.tables[req.TableName]
	if !ok {
		return store.ScanResponse{}, nsqlerr.New(nsqlerr.KindTableNotFound, "storetest.Scan", nil)
	}
	var out []nsqlmodel.Item
	for _, it := range tb.items {
		if !matches(req.FilterExpression, req.ExpressionValues, it) {
			continue
		}
		out = append(out, it.Clone())
	}
	return store.ScanResponse{Items: out}, nil
}

// SharedFactory always describes the one pre-provisioned shared physical
// table, per spec.md §4.G's CreateTable row for shared-table mode.
type SharedFactory struct {
	PhysicalName string
	Keys         nsqlmodel.KeySchema
	Indexes      []nsqlmodel.IndexDescription
}

func (f SharedFactory) Describe(ctx context.Context, tenantID string, virtual nsqlmodel.VirtualTableDescription) (nsqlmodel.PhysicalTableDescription, error) {
	return nsqlmodel.PhysicalTableDescription{Name: f.PhysicalName, Keys: f.Keys, Indexes: f.Indexes}, nil
}

func (f SharedFactory) Request(ctx context.Context, tenantID string, virtual nsqlmodel.VirtualTableDescription, physical nsqlmodel.PhysicalTableDescription) store.CreateTableRequest {
	return store.CreateTableRequest{TableName: physical.Name, Keys: physical.Keys, Indexes: physical.Indexes}
}
