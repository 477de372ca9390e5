package mapping

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/nsql-gateway/pkg/nsql/codec"
	"github.com/developer-mesh/nsql-gateway/pkg/nsql/index"
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlerr"
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlmodel"
	"github.com/developer-mesh/nsql-gateway/pkg/observability"
)

func virtualOrders() nsqlmodel.VirtualTableDescription {
	return nsqlmodel.VirtualTableDescription{
		Name: "orders",
		Keys: nsqlmodel.KeySchema{
			Hash:  nsqlmodel.KeyAttribute{Name: "orderId", Type: nsqlmodel.AttrTypeString},
			Range: &nsqlmodel.KeyAttribute{Name: "createdAt", Type: nsqlmodel.AttrTypeNumber},
		},
		Indexes: []nsqlmodel.IndexDescription{
			{Name: "byStatus", Keys: nsqlmodel.KeySchema{Hash: nsqlmodel.KeyAttribute{Name: "status", Type: nsqlmodel.AttrTypeString}}},
		},
	}
}

func physicalTable() nsqlmodel.PhysicalTableDescription {
	return nsqlmodel.PhysicalTableDescription{
		Name: "shared",
		Keys: nsqlmodel.KeySchema{
			Hash:  nsqlmodel.KeyAttribute{Name: "hk", Type: nsqlmodel.AttrTypeString},
			Range: &nsqlmodel.KeyAttribute{Name: "createdAt", Type: nsqlmodel.AttrTypeNumber},
		},
		Indexes: []nsqlmodel.IndexDescription{
			{Name: "byStatus", Keys: nsqlmodel.KeySchema{Hash: nsqlmodel.KeyAttribute{Name: "status", Type: nsqlmodel.AttrTypeString}}},
		},
	}
}

func buildTestMapping(t *testing.T) *TableMapping {
	t.Helper()
	c := codec.New(".", "")
	tm, err := Build("tenant-1", virtualOrders(), physicalTable(), c, index.ByName{})
	require.NoError(t, err)
	return tm
}

func TestBuildRejectsIncompatibleRangeKey(t *testing.T) {
	virtual := virtualOrders()
	physical := physicalTable()
	physical.Keys.Range = nil
	_, err := Build("t", virtual, physical, codec.New(".", ""), index.ByName{})
	assert.True(t, nsqlerr.Is(err, nsqlerr.KindIncompatibleSchema))
}

func TestApplyAndInverseForItemRoundTrip(t *testing.T) {
	tm := buildTestMapping(t)
	item := nsqlmodel.Item{
		"orderId":   {Type: nsqlmodel.AttrTypeString, S: "o-1"},
		"createdAt": {Type: nsqlmodel.AttrTypeNumber, N: "100"},
		"status":    {Type: nsqlmodel.AttrTypeString, S: "OPEN"},
	}
	phys, err := tm.ApplyForItem(item)
	require.NoError(t, err)
	assert.Contains(t, phys, "hk")
	assert.NotContains(t, phys, "orderId")

	back, err := tm.InverseForItem(phys)
	require.NoError(t, err)
	assert.Equal(t, item["orderId"], back["orderId"])
	assert.Equal(t, item["createdAt"], back["createdAt"])
	assert.Equal(t, item["status"], back["status"])
}

func TestApplyForItemMissingHashKey(t *testing.T) {
	tm := buildTestMapping(t)
	_, err := tm.ApplyForItem(nsqlmodel.Item{"createdAt": {Type: nsqlmodel.AttrTypeNumber, N: "1"}})
	assert.True(t, nsqlerr.Is(err, nsqlerr.KindMalformedPhysicalKey))
}

func TestResolveIndexPrimaryAndSecondary(t *testing.T) {
	tm := buildTestMapping(t)

	primary, err := tm.ResolveIndex("")
	require.NoError(t, err)
	assert.Equal(t, "hk", primary.Keys.Hash.Name)

	secondary, err := tm.ResolveIndex("byStatus")
	require.NoError(t, err)
	assert.Equal(t, "status", secondary.Keys.Hash.Name)

	_, err = tm.ResolveIndex("nope")
	assert.True(t, nsqlerr.Is(err, nsqlerr.KindNoCompatibleIndex))
}

func TestDecodeHash(t *testing.T) {
	tm := buildTestMapping(t)
	phys, err := tm.ApplyForItem(nsqlmodel.Item{
		"orderId":   {Type: nsqlmodel.AttrTypeString, S: "o-1"},
		"createdAt": {Type: nsqlmodel.AttrTypeNumber, N: "100"},
	})
	require.NoError(t, err)

	tenantID, table, hashText, err := tm.DecodeHash(phys["hk"].S)
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", tenantID)
	assert.Equal(t, "orders", table)
	assert.Equal(t, "o-1", hashText)
}

func TestRewriteExpressionRewritesHashKeyCondition(t *testing.T) {
	tm := buildTestMapping(t)
	values := map[string]nsqlmodel.AttributeValue{"v": {Type: nsqlmodel.AttrTypeString, S: "o-1"}}
	res, err := tm.RewriteExpression("orderId = :v", nil, values, nsqlmodel.RoleKeyCondition)
	require.NoError(t, err)
	assert.Equal(t, "hk = :v__phys", res.Text)

	tenantID, table, hashText, err := tm.DecodeHash(res.Values["v__phys"].S)
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", tenantID)
	assert.Equal(t, "orders", table)
	assert.Equal(t, "o-1", hashText)
}

// fakeDescriptor implements Descriptor for Cache tests.
type fakeDescriptor struct {
	virtual  nsqlmodel.VirtualTableDescription
	physical nsqlmodel.PhysicalTableDescription
	calls    int
}

func (f *fakeDescriptor) VirtualTable(ctx context.Context, tenantID, name string) (nsqlmodel.VirtualTableDescription, error) {
	f.calls++
	return f.virtual, nil
}

func (f *fakeDescriptor) PhysicalTable(ctx context.Context, tenantID, virtualName string) (nsqlmodel.PhysicalTableDescription, error) {
	return f.physical, nil
}

func TestCacheBuildsOnceAndCaches(t *testing.T) {
	desc := &fakeDescriptor{virtual: virtualOrders(), physical: physicalTable()}
	cache, err := NewCache(10, desc, codec.New(".", ""), index.ByName{}, observability.NewNoopLogger())
	require.NoError(t, err)

	tm1, err := cache.Get(context.Background(), "tenant-1", "orders")
	require.NoError(t, err)
	tm2, err := cache.Get(context.Background(), "tenant-1", "orders")
	require.NoError(t, err)

	assert.Same(t, tm1, tm2)
	assert.Equal(t, 1, desc.calls)
}

func TestCacheInvalidate(t *testing.T) {
	desc := &fakeDescriptor{virtual: virtualOrders(), physical: physicalTable()}
	cache, err := NewCache(10, desc, codec.New(".", ""), index.ByName{}, observability.NewNoopLogger())
	require.NoError(t, err)

	_, err = cache.Get(context.Background(), "tenant-1", "orders")
	require.NoError(t, err)
	cache.Invalidate("tenant-1", "orders")
	_, err = cache.Get(context.Background(), "tenant-1", "orders")
	require.NoError(t, err)
	assert.Equal(t, 2, desc.calls)
}
