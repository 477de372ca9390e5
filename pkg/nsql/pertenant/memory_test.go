package pertenant

import (
	"context"

	"github.com/developer-mesh/nsql-gateway/pkg/nsql/store"
	"github.com/developer-mesh/nsql-gateway/pkg/nsql/store/storetest"
)

// memoryStore adds a hasTable probe on top of storetest.MemoryStore, useful
// here since table-per-tenant mode creates one physical table per virtual
// table and tests want to assert on physical table lifecycle directly.
type memoryStore struct {
	*storetest.MemoryStore
}

func newMemoryStore() *memoryStore {
	return &memoryStore{MemoryStore: storetest.NewMemoryStore()}
}

func (m *memoryStore) hasTable(name string) bool {
	res, err := m.DescribeTable(context.Background(), store.DescribeTableRequest{TableName: name})
	return err == nil && res.Exists
}
