package facade

import (
	"context"
	"math/big"

	"github.com/developer-mesh/nsql-gateway/pkg/nsql/codec"
	"github.com/developer-mesh/nsql-gateway/pkg/observability"
	"github.com/developer-mesh/nsql-gateway/pkg/streams"
)

// SharedTableConfig configures a SharedTableFacade. FilterTenant, when
// non-empty, drops every record not owned by that tenant; left empty, all
// records are returned, tagged with their decoded tenant and table.
type SharedTableConfig struct {
	Delimiter    string
	TablePrefix  string
	FilterTenant string
}

// SharedTableFacade is the streams façade for shared-table mode.
type SharedTableFacade struct {
	cfg     SharedTableConfig
	cache   *streams.Cache
	codec   *codec.Codec
	extract HashKeyExtractor
	log     observability.Logger
}

// NewSharedTableFacade constructs a SharedTableFacade fronting cache.
// extract recovers the physical hash-key string from a raw record's
// payload for the underlying store in use.
func NewSharedTableFacade(cfg SharedTableConfig, cache *streams.Cache, extract HashKeyExtractor, log observability.Logger) *SharedTableFacade {
	if log == nil {
		log = observability.NewNoopLogger()
	}
	return &SharedTableFacade{
		cfg:     cfg,
		cache:   cache,
		codec:   codec.New(cfg.Delimiter, cfg.TablePrefix),
		extract: extract,
		log:     log.WithPrefix("streams.facade.sharedtable"),
	}
}

// GetShardIterator delegates unchanged; shard iterators are not
// tenant-scoped, since one physical stream serves every tenant sharing
// the physical table.
func (f *SharedTableFacade) GetShardIterator(ctx context.Context, streamArn, shardId string, typ streams.IteratorType, seqNum *big.Int) (string, error) {
	return f.cache.GetShardIterator(ctx, streamArn, shardId, typ, seqNum)
}

// GetRecords decodes each returned record's physical hash key and
// attributes it to its owning tenant and virtual table, dropping records
// that fail to decode (malformed payloads never block other tenants'
// reads) and, when FilterTenant is set, records belonging to any other
// tenant.
func (f *SharedTableFacade) GetRecords(ctx context.Context, externalIterator string, limit int) ([]VirtualRecord, string, error) {
	recs, next, err := f.cache.GetRecords(ctx, externalIterator, limit)
	if err != nil {
		return nil, "", err
	}
	out := make([]VirtualRecord, 0, len(recs))
	for _, r := range recs {
		hk, err := f.extract(r.Data)
		if err != nil {
			f.log.Warn("record hash key extraction failed", map[string]any{"error": err.Error()})
			continue
		}
		tenantID, virtualTable, _, err := f.codec.Decode(hk)
		if err != nil {
			f.log.Warn("record hash key decode failed", map[string]any{"error": err.Error()})
			continue
		}
		if f.cfg.FilterTenant != "" && tenantID != f.cfg.FilterTenant {
			continue
		}
		out = append(out, VirtualRecord{
			TenantID:       tenantID,
			VirtualTable:   virtualTable,
			SequenceNumber: r.SequenceNumber,
			Data:           r.Data,
		})
	}
	return out, next, nil
}
