// Package sharedtable implements the shared-table façade (spec.md
// §4.G): every tenant's virtual tables are folded onto a small number of
// physical tables, with tenant/table identity folded into a composite
// hash key by the codec.
package sharedtable

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/developer-mesh/nsql-gateway/pkg/nsql/codec"
	"github.com/developer-mesh/nsql-gateway/pkg/nsql/index"
	"github.com/developer-mesh/nsql-gateway/pkg/nsql/mapping"
	"github.com/developer-mesh/nsql-gateway/pkg/nsql/metadata"
	"github.com/developer-mesh/nsql-gateway/pkg/nsql/store"
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlerr"
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlmodel"
	"github.com/developer-mesh/nsql-gateway/pkg/observability"
	"github.com/developer-mesh/nsql-gateway/pkg/tenant"
)

// Config is the shared-table façade's recognized option set (spec.md §6).
type Config struct {
	Delimiter             string
	TablePrefix           string
	DeleteTableAsync      bool
	TruncateOnDeleteTable bool
	PrecreateTables       bool
	PollIntervalSeconds   int
	Name                  string
}

// WithDefaults returns a copy of c with every zero-valued recognized
// option replaced by its documented default.
func (c Config) WithDefaults() Config {
	if c.Delimiter == "" {
		c.Delimiter = "."
	}
	if c.Name == "" {
		c.Name = "MtAmazonDynamoDbBySharedTable"
	}
	return c
}

// descriptor adapts a metadata.Repository and the physical-table factory
// into a mapping.Descriptor.
type descriptor struct {
	meta    metadata.Repository
	factory store.CreateTableRequestFactory
}

func (d descriptor) VirtualTable(ctx context.Context, tenantID, name string) (nsqlmodel.VirtualTableDescription, error) {
	return d.meta.Get(ctx, tenantID, name)
}

func (d descriptor) PhysicalTable(ctx context.Context, tenantID, virtualName string) (nsqlmodel.PhysicalTableDescription, error) {
	virtual, err := d.meta.Get(ctx, tenantID, virtualName)
	if err != nil {
		return nsqlmodel.PhysicalTableDescription{}, err
	}
	return d.factory.Describe(ctx, tenantID, virtual)
}

// Facade is the shared-table implementation of the virtual client
// surface: it accepts requests shaped exactly like store.Store's, but
// addressed by virtual table name and interpreted under the calling
// tenant read from context.
type Facade struct {
	cfg      Config
	store    store.Store
	meta     metadata.Repository
	factory  store.CreateTableRequestFactory
	codec    *codec.Codec
	strategy index.Strategy
	mappings *mapping.Cache
	tenants  tenant.Provider
	log      observability.Logger
	breaker  *gobreaker.CircuitBreaker
}

// New constructs a shared-table Facade.
func New(cfg Config, underlying store.Store, meta metadata.Repository, factory store.CreateTableRequestFactory, strategy index.Strategy, cacheCapacity int, log observability.Logger) (*Facade, error) {
	cfg = cfg.WithDefaults()
	if log == nil {
		log = observability.NewNoopLogger()
	}
	c := codec.New(cfg.Delimiter, cfg.TablePrefix)
	desc := descriptor{meta: meta, factory: factory}
	mc, err := mapping.NewCache(cacheCapacity, desc, c, strategy, log.WithPrefix(cfg.Name))
	if err != nil {
		return nil, err
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    cfg.Name,
		Timeout: 30 * time.Second,
	})
	return &Facade{
		cfg:      cfg,
		store:    underlying,
		meta:     meta,
		factory:  factory,
		codec:    c,
		strategy: strategy,
		mappings: mc,
		tenants:  tenant.ContextProvider{},
		log:      log.WithPrefix(cfg.Name),
		breaker:  breaker,
	}, nil
}

// currentTenant reads and validates the calling tenant, per spec.md
// §4.G step (1).
func (f *Facade) currentTenant(ctx context.Context, op string) (string, error) {
	t := f.tenants.Current(ctx)
	if t == "" {
		return "", nsqlerr.New(nsqlerr.KindNoTenantContext, op, nil)
	}
	return t, nil
}

func (f *Facade) mappingFor(ctx context.Context, tenantID, virtualTable string) (*mapping.TableMapping, error) {
	return f.mappings.Get(ctx, tenantID, virtualTable)
}

// dispatch runs fn through the façade's circuit breaker, so a failing
// physical table or endpoint does not retry indefinitely across callers.
func (f *Facade) dispatch(fn func() (interface{}, error)) (interface{}, error) {
	return f.breaker.Execute(fn)
}

func correlationID() string { return uuid.NewString() }
