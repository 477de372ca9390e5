// Package metadata implements component B of spec.md §2: the
// table-metadata store holding each tenant's VirtualTableDescription.
package metadata

import (
	"context"
	"sync"

	"github.com/developer-mesh/nsql-gateway/pkg/nsqlerr"
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlmodel"
)

// Repository is the façades' only dependency on table metadata storage.
type Repository interface {
	Get(ctx context.Context, tenantID, virtualName string) (nsqlmodel.VirtualTableDescription, error)
	Put(ctx context.Context, tenantID, virtualName string, desc nsqlmodel.VirtualTableDescription) error
	Delete(ctx context.Context, tenantID, virtualName string) error
}

// MemoryRepository is a sync.RWMutex-guarded in-memory Repository: the
// reference implementation, and the one tests drive the façades against.
// A Store-backed implementation (addressing the "_tablemetadata" physical
// table named in spec.md §6 through the same Store interface as tenant
// data) is a documented extension point, not built here — it would be
// circular with the façade tests this repository backs.
type MemoryRepository struct {
	mu    sync.RWMutex
	descs map[string]nsqlmodel.VirtualTableDescription
}

// NewMemoryRepository constructs an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{descs: map[string]nsqlmodel.VirtualTableDescription{}}
}

func key(tenantID, virtualName string) string { return tenantID + "\x00" + virtualName }

func (r *MemoryRepository) Get(_ context.Context, tenantID, virtualName string) (nsqlmodel.VirtualTableDescription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descs[key(tenantID, virtualName)]
	if !ok {
		return nsqlmodel.VirtualTableDescription{}, nsqlerr.New(nsqlerr.KindTableNotFound, "metadata.MemoryRepository.Get", nil)
	}
	return d, nil
}

func (r *MemoryRepository) Put(_ context.Context, tenantID, virtualName string, desc nsqlmodel.VirtualTableDescription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(tenantID, virtualName)
	if _, exists := r.descs[k]; exists {
		return nsqlerr.New(nsqlerr.KindTableAlreadyExists, "metadata.MemoryRepository.Put", nil)
	}
	r.descs[k] = desc
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, tenantID, virtualName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(tenantID, virtualName)
	if _, exists := r.descs[k]; !exists {
		return nsqlerr.New(nsqlerr.KindTableNotFound, "metadata.MemoryRepository.Delete", nil)
	}
	delete(r.descs, k)
	return nil
}
