// Package pertenant implements the table-per-tenant façade (spec.md
// §4.H): the alternative to sharedtable where each virtual table maps
// 1:1 onto its own physical table, named by prefixing the tenant id. No
// key rewriting is required since physical keys are already the virtual
// ones; only the table name translation and the tenant-context /
// metadata-store discipline from §4.G carry over.
package pertenant

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/developer-mesh/nsql-gateway/pkg/nsql/metadata"
	"github.com/developer-mesh/nsql-gateway/pkg/nsql/store"
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlerr"
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlmodel"
	"github.com/developer-mesh/nsql-gateway/pkg/observability"
	"github.com/developer-mesh/nsql-gateway/pkg/tenant"
)

// Config is the table-per-tenant façade's recognized option set: a subset
// of spec.md §6's shared-table configuration that still applies once key
// rewriting is removed.
type Config struct {
	Delimiter             string
	TablePrefix           string
	DeleteTableAsync      bool
	TruncateOnDeleteTable bool
	PrecreateTables       bool
	Name                  string
}

func (c Config) WithDefaults() Config {
	if c.Delimiter == "" {
		c.Delimiter = "."
	}
	if c.Name == "" {
		c.Name = "MtAmazonDynamoDbByTable"
	}
	return c
}

// Facade is the table-per-tenant implementation of the virtual client
// surface.
type Facade struct {
	cfg     Config
	store   store.Store
	meta    metadata.Repository
	tenants tenant.Provider
	log     observability.Logger
	breaker *gobreaker.CircuitBreaker
	flight  singleflight.Group

	mu      sync.Mutex
	created map[string]bool // physical table names known to exist
}

// New constructs a table-per-tenant Facade.
func New(cfg Config, underlying store.Store, meta metadata.Repository, log observability.Logger) *Facade {
	cfg = cfg.WithDefaults()
	if log == nil {
		log = observability.NewNoopLogger()
	}
	return &Facade{
		cfg:     cfg,
		store:   underlying,
		meta:    meta,
		tenants: tenant.ContextProvider{},
		log:     log.WithPrefix(cfg.Name),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{Name: cfg.Name, Timeout: 30 * time.Second}),
		created: map[string]bool{},
	}
}

func (f *Facade) currentTenant(ctx context.Context, op string) (string, error) {
	t := f.tenants.Current(ctx)
	if t == "" {
		return "", nsqlerr.New(nsqlerr.KindNoTenantContext, op, nil)
	}
	return t, nil
}

// physicalName is f(tenant, virtualTableName) = tablePrefix + tenant +
// delimiter + virtualTableName, per spec.md §4.H.
func (f *Facade) physicalName(tenantID, virtualTable string) string {
	var b strings.Builder
	b.WriteString(f.cfg.TablePrefix)
	b.WriteString(tenantID)
	b.WriteString(f.cfg.Delimiter)
	b.WriteString(virtualTable)
	return b.String()
}

func (f *Facade) dispatch(fn func() (interface{}, error)) (interface{}, error) {
	return f.breaker.Execute(fn)
}

// ensureTable creates the physical table (idempotently, collapsing
// concurrent first references via singleflight) when precreateTables is
// set, or verifies it already exists otherwise.
func (f *Facade) ensureTable(ctx context.Context, op, physicalName string, virtual nsqlmodel.VirtualTableDescription) error {
	f.mu.Lock()
	known := f.created[physicalName]
	f.mu.Unlock()
	if known {
		return nil
	}
	_, err, _ := f.flight.Do(physicalName, func() (interface{}, error) {
		if f.cfg.PrecreateTables {
			if _, err := f.dispatch(func() (interface{}, error) {
				return f.store.CreateTable(ctx, store.CreateTableRequest{
					TableName: physicalName,
					Keys:      virtual.Keys,
					Indexes:   virtual.Indexes,
				})
			}); err != nil {
				if nsqlerr.Is(err, nsqlerr.KindTableAlreadyExists) {
					return nil, nil
				}
				return nil, nsqlerr.New(nsqlerr.KindIncompatibleSchema, op, err)
			}
		} else {
			res, err := f.dispatch(func() (interface{}, error) {
				return f.store.DescribeTable(ctx, store.DescribeTableRequest{TableName: physicalName})
			})
			if err != nil || !res.(store.DescribeTableResponse).Exists {
				return nil, nsqlerr.New(nsqlerr.KindIncompatibleSchema, op, err)
			}
		}
		f.mu.Lock()
		f.created[physicalName] = true
		f.mu.Unlock()
		return nil, nil
	})
	return err
}

func (f *Facade) forgetTable(physicalName string) {
	f.mu.Lock()
	delete(f.created, physicalName)
	f.mu.Unlock()
}
