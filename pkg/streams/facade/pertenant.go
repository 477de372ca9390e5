package facade

import (
	"context"
	"math/big"
	"strings"

	"github.com/developer-mesh/nsql-gateway/pkg/nsqlerr"
	"github.com/developer-mesh/nsql-gateway/pkg/observability"
	"github.com/developer-mesh/nsql-gateway/pkg/streams"
)

// PerTenantConfig configures a PerTenantFacade. It must match the
// table-per-tenant store façade's Delimiter/TablePrefix so physical table
// names parse back into the same (tenant, virtualTable) pair they were
// built from.
type PerTenantConfig struct {
	Delimiter   string
	TablePrefix string
}

func (c PerTenantConfig) delimiter() string {
	if c.Delimiter == "" {
		return "."
	}
	return c.Delimiter
}

// ParsePhysicalTableName recovers (tenantID, virtualTable) from a
// tenant-qualified physical table name, the inverse of the table-per-tenant
// store façade's naming scheme: tablePrefix + tenant + delimiter + virtual.
func ParsePhysicalTableName(cfg PerTenantConfig, physicalName string) (tenantID, virtualTable string, err error) {
	name := physicalName
	if cfg.TablePrefix != "" {
		if !strings.HasPrefix(name, cfg.TablePrefix) {
			return "", "", nsqlerr.New(nsqlerr.KindMalformedPhysicalKey, "facade.ParsePhysicalTableName", nil)
		}
		name = name[len(cfg.TablePrefix):]
	}
	idx := strings.Index(name, cfg.delimiter())
	if idx < 0 {
		return "", "", nsqlerr.New(nsqlerr.KindMalformedPhysicalKey, "facade.ParsePhysicalTableName", nil)
	}
	return name[:idx], name[idx+len(cfg.delimiter()):], nil
}

// PerTenantFacade is the streams façade for table-per-tenant mode. Since
// each physical table (and therefore each physical stream) belongs to
// exactly one (tenant, virtualTable) pair, every record from a given
// stream is attributed the same way; no per-record decoding is needed.
type PerTenantFacade struct {
	cfg              PerTenantConfig
	cache            *streams.Cache
	physicalTableOf  func(streamArn string) (physicalTableName string, err error)
	log              observability.Logger
}

// NewPerTenantFacade constructs a PerTenantFacade fronting cache.
// physicalTableOf resolves a streamArn to the physical table name it was
// created against, for attribution; the mapping itself is endpoint-defined
// and out of scope.
func NewPerTenantFacade(cfg PerTenantConfig, cache *streams.Cache, physicalTableOf func(string) (string, error), log observability.Logger) *PerTenantFacade {
	if log == nil {
		log = observability.NewNoopLogger()
	}
	return &PerTenantFacade{
		cfg:             cfg,
		cache:           cache,
		physicalTableOf: physicalTableOf,
		log:             log.WithPrefix("streams.facade.pertenant"),
	}
}

func (f *PerTenantFacade) GetShardIterator(ctx context.Context, streamArn, shardId string, typ streams.IteratorType, seqNum *big.Int) (string, error) {
	return f.cache.GetShardIterator(ctx, streamArn, shardId, typ, seqNum)
}

// GetRecords attributes every record returned for streamArn to the single
// (tenant, virtualTable) pair its backing physical table names.
func (f *PerTenantFacade) GetRecords(ctx context.Context, streamArn, externalIterator string, limit int) ([]VirtualRecord, string, error) {
	physicalName, err := f.physicalTableOf(streamArn)
	if err != nil {
		return nil, "", err
	}
	tenantID, virtualTable, err := ParsePhysicalTableName(f.cfg, physicalName)
	if err != nil {
		return nil, "", err
	}
	recs, next, err := f.cache.GetRecords(ctx, externalIterator, limit)
	if err != nil {
		return nil, "", err
	}
	out := make([]VirtualRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, VirtualRecord{
			TenantID:       tenantID,
			VirtualTable:   virtualTable,
			SequenceNumber: r.SequenceNumber,
			Data:           r.Data,
		})
	}
	return out, next, nil
}
