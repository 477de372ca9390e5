package sharedtable

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/nsql-gateway/pkg/nsql/index"
	"github.com/developer-mesh/nsql-gateway/pkg/nsql/mapping"
	"github.com/developer-mesh/nsql-gateway/pkg/nsql/metadata"
	"github.com/developer-mesh/nsql-gateway/pkg/nsql/store"
	"github.com/developer-mesh/nsql-gateway/pkg/nsql/store/storetest"
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlerr"
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlmodel"
	"github.com/developer-mesh/nsql-gateway/pkg/observability"
	"github.com/developer-mesh/nsql-gateway/pkg/tenant"
)

const physicalTableName = "shared-physical"

func sharedPhysicalKeys() nsqlmodel.KeySchema {
	return nsqlmodel.KeySchema{Hash: nsqlmodel.KeyAttribute{Name: "hk", Type: nsqlmodel.AttrTypeString}}
}

func newTestFacade(t *testing.T) (*Facade, *storetest.MemoryStore) {
	t.Helper()
	underlying := storetest.NewMemoryStore()
	factory := storetest.SharedFactory{PhysicalName: physicalTableName, Keys: sharedPhysicalKeys()}
	_, err := underlying.CreateTable(context.Background(), factory.Request(context.Background(), "", nsqlmodel.VirtualTableDescription{}, nsqlmodel.PhysicalTableDescription{Name: physicalTableName, Keys: sharedPhysicalKeys()}))
	require.NoError(t, err)

	f, err := New(Config{PrecreateTables: false}, underlying, metadata.NewMemoryRepository(), factory, index.ByName{}, 16, observability.NewNoopLogger())
	require.NoError(t, err)
	return f, underlying
}

func withTenant(tenantID string) context.Context {
	return tenant.With(context.Background(), tenantID)
}

func createOrdersTable(t *testing.T, f *Facade, ctx context.Context) {
	t.Helper()
	_, err := f.CreateTable(ctx, CreateTableRequest{Table: nsqlmodel.VirtualTableDescription{
		Name: "orders",
		Keys: nsqlmodel.KeySchema{Hash: nsqlmodel.KeyAttribute{Name: "orderId", Type: nsqlmodel.AttrTypeString}},
	}})
	require.NoError(t, err)
}

func TestSharedTableCreateTableRequiresTenant(t *testing.T) {
	f, _ := newTestFacade(t)
	_, err := f.CreateTable(context.Background(), CreateTableRequest{Table: nsqlmodel.VirtualTableDescription{Name: "orders"}})
	assert.True(t, nsqlerr.Is(err, nsqlerr.KindNoTenantContext))
}

func TestSharedTablePutGetRoundTrip(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := withTenant("tenant-a")
	createOrdersTable(t, f, ctx)

	_, err := f.PutItem(ctx, PutItemRequest{
		Table: "orders",
		Item: nsqlmodel.Item{
			"orderId": {Type: nsqlmodel.AttrTypeString, S: "o-1"},
			"status":  {Type: nsqlmodel.AttrTypeString, S: "OPEN"},
		},
	})
	require.NoError(t, err)

	got, err := f.GetItem(ctx, GetItemRequest{Table: "orders", Key: mapping.Key{"orderId": {Type: nsqlmodel.AttrTypeString, S: "o-1"}}})
	require.NoError(t, err)
	require.True(t, got.Found)
	assert.Equal(t, "o-1", got.Item["orderId"].S)
	assert.Equal(t, "OPEN", got.Item["status"].S)
}

func TestSharedTableTenantsAreIsolated(t *testing.T) {
	f, _ := newTestFacade(t)
	ctxA := withTenant("tenant-a")
	ctxB := withTenant("tenant-b")
	createOrdersTable(t, f, ctxA)
	createOrdersTable(t, f, ctxB)

	_, err := f.PutItem(ctxA, PutItemRequest{Table: "orders", Item: nsqlmodel.Item{"orderId": {Type: nsqlmodel.AttrTypeString, S: "o-1"}}})
	require.NoError(t, err)

	gotB, err := f.GetItem(ctxB, GetItemRequest{Table: "orders", Key: mapping.Key{"orderId": {Type: nsqlmodel.AttrTypeString, S: "o-1"}}})
	require.NoError(t, err)
	assert.False(t, gotB.Found, "tenant B must not see tenant A's item despite a shared physical table")
}

func TestSharedTableGetItemNotFound(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := withTenant("tenant-a")
	createOrdersTable(t, f, ctx)

	got, err := f.GetItem(ctx, GetItemRequest{Table: "orders", Key: mapping.Key{"orderId": {Type: nsqlmodel.AttrTypeString, S: "missing"}}})
	require.NoError(t, err)
	assert.False(t, got.Found)
}

func TestSharedTablePutItemConditionalCheckFailedIsRaisedLocally(t *testing.T) {
	f, underlying := newTestFacade(t)
	ctx := withTenant("tenant-a")
	createOrdersTable(t, f, ctx)

	_, err := f.PutItem(ctx, PutItemRequest{
		Table:               "orders",
		Item:                nsqlmodel.Item{"orderId": {Type: nsqlmodel.AttrTypeString, S: "o-1"}},
		ConditionExpression: "attribute_not_exists(orderId)",
	})
	require.NoError(t, err)

	_, err = f.PutItem(ctx, PutItemRequest{
		Table:               "orders",
		Item:                nsqlmodel.Item{"orderId": {Type: nsqlmodel.AttrTypeString, S: "o-1"}},
		ConditionExpression: "attribute_not_exists(orderId)",
	})
	assert.True(t, nsqlerr.Is(err, nsqlerr.KindConditionalCheckFailed))

	res, err := underlying.Scan(ctx, store.ScanRequest{TableName: physicalTableName})
	require.NoError(t, err)
	assert.Len(t, res.Items, 1, "the rejected put must never have reached the underlying store")
}

func TestSharedTableUpdateItem(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := withTenant("tenant-a")
	createOrdersTable(t, f, ctx)

	_, err := f.PutItem(ctx, PutItemRequest{Table: "orders", Item: nsqlmodel.Item{
		"orderId": {Type: nsqlmodel.AttrTypeString, S: "o-1"},
		"status":  {Type: nsqlmodel.AttrTypeString, S: "OPEN"},
	}})
	require.NoError(t, err)

	res, err := f.UpdateItem(ctx, UpdateItemRequest{
		Table:            "orders",
		Key:              mapping.Key{"orderId": {Type: nsqlmodel.AttrTypeString, S: "o-1"}},
		UpdateExpression: "SET status = :s",
		ExpressionValues: map[string]nsqlmodel.AttributeValue{"s": {Type: nsqlmodel.AttrTypeString, S: "CLOSED"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "CLOSED", res.Item["status"].S)
}

func TestSharedTableDeleteItem(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := withTenant("tenant-a")
	createOrdersTable(t, f, ctx)

	_, err := f.PutItem(ctx, PutItemRequest{Table: "orders", Item: nsqlmodel.Item{"orderId": {Type: nsqlmodel.AttrTypeString, S: "o-1"}}})
	require.NoError(t, err)

	_, err = f.DeleteItem(ctx, DeleteItemRequest{Table: "orders", Key: mapping.Key{"orderId": {Type: nsqlmodel.AttrTypeString, S: "o-1"}}})
	require.NoError(t, err)

	got, err := f.GetItem(ctx, GetItemRequest{Table: "orders", Key: mapping.Key{"orderId": {Type: nsqlmodel.AttrTypeString, S: "o-1"}}})
	require.NoError(t, err)
	assert.False(t, got.Found)
}

func TestSharedTableDeleteTableTruncatesOwnedRowsOnly(t *testing.T) {
	f, underlying := newTestFacade(t)
	ctxA := withTenant("tenant-a")
	ctxB := withTenant("tenant-b")
	createOrdersTable(t, f, ctxA)
	createOrdersTable(t, f, ctxB)

	_, err := f.PutItem(ctxA, PutItemRequest{Table: "orders", Item: nsqlmodel.Item{"orderId": {Type: nsqlmodel.AttrTypeString, S: "a-1"}}})
	require.NoError(t, err)
	_, err = f.PutItem(ctxB, PutItemRequest{Table: "orders", Item: nsqlmodel.Item{"orderId": {Type: nsqlmodel.AttrTypeString, S: "b-1"}}})
	require.NoError(t, err)

	f2, err := New(Config{PrecreateTables: false, TruncateOnDeleteTable: true}, underlying, f.meta, storetest.SharedFactory{PhysicalName: physicalTableName, Keys: sharedPhysicalKeys()}, index.ByName{}, 16, observability.NewNoopLogger())
	require.NoError(t, err)

	_, err = f2.DeleteTable(ctxA, DeleteTableRequest{Name: "orders"})
	require.NoError(t, err)

	gotB, err := f.GetItem(ctxB, GetItemRequest{Table: "orders", Key: mapping.Key{"orderId": {Type: nsqlmodel.AttrTypeString, S: "b-1"}}})
	require.NoError(t, err)
	assert.True(t, gotB.Found, "tenant B's row must survive tenant A's DeleteTable")
}

func TestSharedTableQueryReturnsOnlyMatchingTenant(t *testing.T) {
	f, _ := newTestFacade(t)
	ctxA := withTenant("tenant-a")
	ctxB := withTenant("tenant-b")
	createOrdersTable(t, f, ctxA)
	createOrdersTable(t, f, ctxB)

	_, err := f.PutItem(ctxA, PutItemRequest{Table: "orders", Item: nsqlmodel.Item{"orderId": {Type: nsqlmodel.AttrTypeString, S: "o-1"}}})
	require.NoError(t, err)
	_, err = f.PutItem(ctxB, PutItemRequest{Table: "orders", Item: nsqlmodel.Item{"orderId": {Type: nsqlmodel.AttrTypeString, S: "o-1"}}})
	require.NoError(t, err)

	res, err := f.Query(ctxA, QueryRequest{
		Table:                  "orders",
		KeyConditionExpression: "orderId = :v",
		ExpressionValues:       map[string]nsqlmodel.AttributeValue{"v": {Type: nsqlmodel.AttrTypeString, S: "o-1"}},
	})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "o-1", res.Items[0]["orderId"].S)
}

func TestSharedTableScanExcludesForeignTenantRows(t *testing.T) {
	f, underlying := newTestFacade(t)
	ctxA := withTenant("tenant-a")
	ctxB := withTenant("tenant-b")
	createOrdersTable(t, f, ctxA)
	createOrdersTable(t, f, ctxB)

	_, err := f.PutItem(ctxA, PutItemRequest{Table: "orders", Item: nsqlmodel.Item{"orderId": {Type: nsqlmodel.AttrTypeString, S: "a-1"}}})
	require.NoError(t, err)
	_, err = f.PutItem(ctxB, PutItemRequest{Table: "orders", Item: nsqlmodel.Item{"orderId": {Type: nsqlmodel.AttrTypeString, S: "b-1"}}})
	require.NoError(t, err)

	all, err := underlying.Scan(context.Background(), store.ScanRequest{TableName: physicalTableName})
	require.NoError(t, err)
	require.Len(t, all.Items, 2, "both tenants share one physical table")

	res, err := f.Scan(ctxA, ScanRequest{Table: "orders"})
	require.NoError(t, err)
	require.Len(t, res.Items, 1, "scan must drop rows belonging to other tenants despite the shared physical table")
	assert.Equal(t, "a-1", res.Items[0]["orderId"].S)
}

func TestSharedTableScanFilterExpression(t *testing.T) {
	f, _ := newTestFacade(t)
	ctx := withTenant("tenant-a")
	createOrdersTable(t, f, ctx)

	_, err := f.PutItem(ctx, PutItemRequest{Table: "orders", Item: nsqlmodel.Item{
		"orderId": {Type: nsqlmodel.AttrTypeString, S: "o-1"},
		"status":  {Type: nsqlmodel.AttrTypeString, S: "OPEN"},
	}})
	require.NoError(t, err)
	_, err = f.PutItem(ctx, PutItemRequest{Table: "orders", Item: nsqlmodel.Item{
		"orderId": {Type: nsqlmodel.AttrTypeString, S: "o-2"},
		"status":  {Type: nsqlmodel.AttrTypeString, S: "CLOSED"},
	}})
	require.NoError(t, err)

	res, err := f.Scan(ctx, ScanRequest{
		Table:            "orders",
		FilterExpression: "status = :s",
		ExpressionValues: map[string]nsqlmodel.AttributeValue{"s": {Type: nsqlmodel.AttrTypeString, S: "OPEN"}},
	})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, "o-1", res.Items[0]["orderId"].S)
}

func TestSharedTableBatchGetItemAcrossVirtualTables(t *testing.T) {
	f, underlying := newTestFacade(t)
	ctx := withTenant("tenant-a")
	createOrdersTable(t, f, ctx)
	_, err := f.CreateTable(ctx, CreateTableRequest{Table: nsqlmodel.VirtualTableDescription{
		Name: "customers",
		Keys: nsqlmodel.KeySchema{Hash: nsqlmodel.KeyAttribute{Name: "customerId", Type: nsqlmodel.AttrTypeString}},
	}})
	require.NoError(t, err)

	_, err = f.PutItem(ctx, PutItemRequest{Table: "orders", Item: nsqlmodel.Item{"orderId": {Type: nsqlmodel.AttrTypeString, S: "o-1"}}})
	require.NoError(t, err)
	_, err = f.PutItem(ctx, PutItemRequest{Table: "customers", Item: nsqlmodel.Item{"customerId": {Type: nsqlmodel.AttrTypeString, S: "c-1"}}})
	require.NoError(t, err)

	res, err := f.BatchGetItem(ctx, BatchGetItemRequest{Keys: map[string][]mapping.Key{
		"orders":    {{"orderId": {Type: nsqlmodel.AttrTypeString, S: "o-1"}}},
		"customers": {{"customerId": {Type: nsqlmodel.AttrTypeString, S: "c-1"}}},
	}})
	require.NoError(t, err)
	require.Len(t, res.Items["orders"], 1)
	require.Len(t, res.Items["customers"], 1)
	assert.Equal(t, "o-1", res.Items["orders"][0]["orderId"].S)
	assert.Equal(t, "c-1", res.Items["customers"][0]["customerId"].S)

	all, err := underlying.Scan(context.Background(), store.ScanRequest{TableName: physicalTableName})
	require.NoError(t, err)
	assert.Len(t, all.Items, 2, "both virtual tables collapse onto the one shared physical table")
}
