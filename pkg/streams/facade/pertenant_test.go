package facade

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/nsql-gateway/pkg/nsqlerr"
	"github.com/developer-mesh/nsql-gateway/pkg/observability"
	"github.com/developer-mesh/nsql-gateway/pkg/streams"
)

func TestParsePhysicalTableNameRoundTrip(t *testing.T) {
	cfg := PerTenantConfig{Delimiter: ".", TablePrefix: "tbl_"}
	tenantID, virtualTable, err := ParsePhysicalTableName(cfg, "tbl_tenant-a.orders")
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", tenantID)
	assert.Equal(t, "orders", virtualTable)
}

func TestParsePhysicalTableNameRequiresPrefix(t *testing.T) {
	cfg := PerTenantConfig{Delimiter: ".", TablePrefix: "tbl_"}
	_, _, err := ParsePhysicalTableName(cfg, "tenant-a.orders")
	assert.True(t, nsqlerr.Is(err, nsqlerr.KindMalformedPhysicalKey))
}

func TestParsePhysicalTableNameRequiresDelimiter(t *testing.T) {
	cfg := PerTenantConfig{Delimiter: ".", TablePrefix: "tbl_"}
	_, _, err := ParsePhysicalTableName(cfg, "tbl_tenant-a-orders")
	assert.True(t, nsqlerr.Is(err, nsqlerr.KindMalformedPhysicalKey))
}

func TestPerTenantFacadeAttributesEveryRecordToTheStreamsSingleTenant(t *testing.T) {
	ep := newFakeStreamEndpoint()
	cache := streams.NewCache(streams.Config{}, ep, observability.NewNoopLogger())
	cfg := PerTenantConfig{Delimiter: ".", TablePrefix: "tbl_"}

	physicalTableOf := func(streamArn string) (string, error) {
		return "tbl_tenant-a.orders", nil
	}
	f := NewPerTenantFacade(cfg, cache, physicalTableOf, observability.NewNoopLogger())

	wire, err := f.GetShardIterator(context.Background(), "arn", "shard-1", streams.AtSequenceNumber, bigOne())
	require.NoError(t, err)
	ep.script("h1", streams.RecordsResponse{Records: []streams.Record{
		{SequenceNumber: bigOne(), Data: []byte("a")},
		{SequenceNumber: bigTwo(), Data: []byte("b")},
	}})

	recs, _, err := f.GetRecords(context.Background(), "arn", wire, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, r := range recs {
		assert.Equal(t, "tenant-a", r.TenantID)
		assert.Equal(t, "orders", r.VirtualTable)
	}
}

func TestPerTenantFacadePropagatesPhysicalTableLookupFailure(t *testing.T) {
	ep := newFakeStreamEndpoint()
	cache := streams.NewCache(streams.Config{}, ep, observability.NewNoopLogger())
	cfg := PerTenantConfig{Delimiter: ".", TablePrefix: "tbl_"}

	physicalTableOf := func(streamArn string) (string, error) {
		return "", nsqlerr.New(nsqlerr.KindMalformedPhysicalKey, "test", nil)
	}
	f := NewPerTenantFacade(cfg, cache, physicalTableOf, observability.NewNoopLogger())

	_, _, err := f.GetRecords(context.Background(), "arn", "whatever", 10)
	assert.Error(t, err)
}
