package facade

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/nsql-gateway/pkg/nsql/codec"
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlmodel"
	"github.com/developer-mesh/nsql-gateway/pkg/observability"
	"github.com/developer-mesh/nsql-gateway/pkg/streams"
)

// recordPayload wraps the physical hash key as the record's whole payload,
// so extractHashKey below is a pure passthrough; real endpoints would parse
// their own wire format instead.
func recordPayload(hashKey string) []byte { return []byte(hashKey) }

func extractHashKey(data []byte) (string, error) { return string(data), nil }

func newSharedFacade(t *testing.T, ep streams.Endpoint, cfg SharedTableConfig) *SharedTableFacade {
	t.Helper()
	cache := streams.NewCache(streams.Config{}, ep, observability.NewNoopLogger())
	return NewSharedTableFacade(cfg, cache, extractHashKey, observability.NewNoopLogger())
}

func TestSharedTableFacadeAttributesRecordsToTenantAndTable(t *testing.T) {
	c := codec.New(".", "")
	hkA, err := c.Encode("tenant-a", "orders", nsqlmodel.AttributeValue{Type: nsqlmodel.AttrTypeString, S: "o-1"})
	require.NoError(t, err)
	hkB, err := c.Encode("tenant-b", "orders", nsqlmodel.AttributeValue{Type: nsqlmodel.AttrTypeString, S: "o-2"})
	require.NoError(t, err)

	ep := newFakeStreamEndpoint()
	f := newSharedFacade(t, ep, SharedTableConfig{})

	wire, err := f.GetShardIterator(context.Background(), "arn", "shard-1", streams.AtSequenceNumber, bigOne())
	require.NoError(t, err)
	ep.script("h1", streams.RecordsResponse{Records: []streams.Record{
		{SequenceNumber: bigOne(), Data: recordPayload(hkA)},
		{SequenceNumber: bigTwo(), Data: recordPayload(hkB)},
	}})

	recs, _, err := f.GetRecords(context.Background(), wire, 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "tenant-a", recs[0].TenantID)
	assert.Equal(t, "orders", recs[0].VirtualTable)
	assert.Equal(t, "tenant-b", recs[1].TenantID)
}

func TestSharedTableFacadeFiltersByTenant(t *testing.T) {
	c := codec.New(".", "")
	hkA, err := c.Encode("tenant-a", "orders", nsqlmodel.AttributeValue{Type: nsqlmodel.AttrTypeString, S: "o-1"})
	require.NoError(t, err)
	hkB, err := c.Encode("tenant-b", "orders", nsqlmodel.AttributeValue{Type: nsqlmodel.AttrTypeString, S: "o-2"})
	require.NoError(t, err)

	ep := newFakeStreamEndpoint()
	f := newSharedFacade(t, ep, SharedTableConfig{FilterTenant: "tenant-a"})

	wire, err := f.GetShardIterator(context.Background(), "arn", "shard-1", streams.AtSequenceNumber, bigOne())
	require.NoError(t, err)
	ep.script("h1", streams.RecordsResponse{Records: []streams.Record{
		{SequenceNumber: bigOne(), Data: recordPayload(hkA)},
		{SequenceNumber: bigTwo(), Data: recordPayload(hkB)},
	}})

	recs, _, err := f.GetRecords(context.Background(), wire, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "tenant-a", recs[0].TenantID)
}

func TestSharedTableFacadeDropsUndecodableRecordsWithoutFailing(t *testing.T) {
	c := codec.New(".", "")
	hkA, err := c.Encode("tenant-a", "orders", nsqlmodel.AttributeValue{Type: nsqlmodel.AttrTypeString, S: "o-1"})
	require.NoError(t, err)

	ep := newFakeStreamEndpoint()
	f := newSharedFacade(t, ep, SharedTableConfig{})

	wire, err := f.GetShardIterator(context.Background(), "arn", "shard-1", streams.AtSequenceNumber, bigOne())
	require.NoError(t, err)
	ep.script("h1", streams.RecordsResponse{Records: []streams.Record{
		{SequenceNumber: bigOne(), Data: recordPayload("not-a-valid-composite-key")},
		{SequenceNumber: bigTwo(), Data: recordPayload(hkA)},
	}})

	recs, _, err := f.GetRecords(context.Background(), wire, 10)
	require.NoError(t, err)
	require.Len(t, recs, 1, "a malformed record must be dropped, not abort the whole batch")
	assert.Equal(t, "tenant-a", recs[0].TenantID)
}
