package pertenant

import (
	"context"

	"github.com/developer-mesh/nsql-gateway/pkg/nsql/store"
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlerr"
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlmodel"
)

type CreateTableRequest struct{ Table nsqlmodel.VirtualTableDescription }
type CreateTableResponse struct{ Table nsqlmodel.VirtualTableDescription }

// CreateTable implements spec.md §4.H: index names and schemas pass
// through unchanged; the physical table is the tenant-qualified name.
func (f *Facade) CreateTable(ctx context.Context, req CreateTableRequest) (CreateTableResponse, error) {
	const op = "pertenant.CreateTable"
	tenantID, err := f.currentTenant(ctx, op)
	if err != nil {
		return CreateTableResponse{}, err
	}
	physicalName := f.physicalName(tenantID, req.Table.Name)
	if err := f.ensureTable(ctx, op, physicalName, req.Table); err != nil {
		return CreateTableResponse{}, err
	}
	if err := f.meta.Put(ctx, tenantID, req.Table.Name, req.Table); err != nil {
		return CreateTableResponse{}, err
	}
	return CreateTableResponse{Table: req.Table}, nil
}

type DescribeTableRequest struct{ Name string }
type DescribeTableResponse struct{ Table nsqlmodel.VirtualTableDescription }

func (f *Facade) DescribeTable(ctx context.Context, req DescribeTableRequest) (DescribeTableResponse, error) {
	const op = "pertenant.DescribeTable"
	tenantID, err := f.currentTenant(ctx, op)
	if err != nil {
		return DescribeTableResponse{}, err
	}
	desc, err := f.meta.Get(ctx, tenantID, req.Name)
	if err != nil {
		return DescribeTableResponse{}, err
	}
	return DescribeTableResponse{Table: desc}, nil
}

type DeleteTableRequest struct{ Name string }
type DeleteTableResponse struct{}

func (f *Facade) DeleteTable(ctx context.Context, req DeleteTableRequest) (DeleteTableResponse, error) {
	const op = "pertenant.DeleteTable"
	tenantID, err := f.currentTenant(ctx, op)
	if err != nil {
		return DeleteTableResponse{}, err
	}
	if _, err := f.meta.Get(ctx, tenantID, req.Name); err != nil {
		return DeleteTableResponse{}, err
	}
	physicalName := f.physicalName(tenantID, req.Name)
	if err := f.meta.Delete(ctx, tenantID, req.Name); err != nil {
		return DeleteTableResponse{}, err
	}
	f.forgetTable(physicalName)

	if f.cfg.TruncateOnDeleteTable {
		del := func() {
			if _, err := f.dispatch(func() (interface{}, error) {
				return f.store.DeleteTable(ctx, store.DeleteTableRequest{TableName: physicalName})
			}); err != nil {
				f.log.Error("physical table delete failed", map[string]any{"tenant": tenantID, "table": req.Name, "error": err.Error()})
			}
		}
		if f.cfg.DeleteTableAsync {
			go del()
		} else {
			del()
		}
	}
	return DeleteTableResponse{}, nil
}

type GetItemRequest struct {
	Table     string
	Key       nsqlmodel.Item
	IndexName string
}
type GetItemResponse struct {
	Item  nsqlmodel.Item
	Found bool
}

func (f *Facade) GetItem(ctx context.Context, req GetItemRequest) (GetItemResponse, error) {
	const op = "pertenant.GetItem"
	tenantID, err := f.currentTenant(ctx, op)
	if err != nil {
		return GetItemResponse{}, err
	}
	res, err := f.dispatch(func() (interface{}, error) {
		return f.store.GetItem(ctx, store.GetItemRequest{
			TableName: f.physicalName(tenantID, req.Table),
			Key:       req.Key,
			IndexName: req.IndexName,
		})
	})
	if err != nil {
		return GetItemResponse{}, err
	}
	out := res.(store.GetItemResponse)
	return GetItemResponse{Item: out.Item, Found: out.Found}, nil
}

type PutItemRequest struct {
	Table               string
	Item                nsqlmodel.Item
	ConditionExpression string
	ExpressionNames     map[string]string
	ExpressionValues    map[string]nsqlmodel.AttributeValue
}
type PutItemResponse struct{}

func (f *Facade) PutItem(ctx context.Context, req PutItemRequest) (PutItemResponse, error) {
	const op = "pertenant.PutItem"
	tenantID, err := f.currentTenant(ctx, op)
	if err != nil {
		return PutItemResponse{}, err
	}
	if _, err := f.dispatch(func() (interface{}, error) {
		return f.store.PutItem(ctx, store.PutItemRequest{
			TableName:           f.physicalName(tenantID, req.Table),
			Item:                req.Item.Clone(),
			ConditionExpression: req.ConditionExpression,
			ExpressionNames:     req.ExpressionNames,
			ExpressionValues:    req.ExpressionValues,
		})
	}); err != nil {
		return PutItemResponse{}, err
	}
	return PutItemResponse{}, nil
}

type UpdateItemRequest struct {
	Table               string
	Key                 nsqlmodel.Item
	UpdateExpression    string
	ConditionExpression string
	ExpressionNames     map[string]string
	ExpressionValues    map[string]nsqlmodel.AttributeValue
}
type UpdateItemResponse struct{ Item nsqlmodel.Item }

func (f *Facade) UpdateItem(ctx context.Context, req UpdateItemRequest) (UpdateItemResponse, error) {
	const op = "pertenant.UpdateItem"
	tenantID, err := f.currentTenant(ctx, op)
	if err != nil {
		return UpdateItemResponse{}, err
	}
	res, err := f.dispatch(func() (interface{}, error) {
		return f.store.UpdateItem(ctx, store.UpdateItemRequest{
			TableName:           f.physicalName(tenantID, req.Table),
			Key:                 req.Key,
			UpdateExpression:    req.UpdateExpression,
			ConditionExpression: req.ConditionExpression,
			ExpressionNames:     req.ExpressionNames,
			ExpressionValues:    req.ExpressionValues,
		})
	})
	if err != nil {
		return UpdateItemResponse{}, err
	}
	return UpdateItemResponse{Item: res.(store.UpdateItemResponse).Item}, nil
}

type DeleteItemRequest struct {
	Table               string
	Key                 nsqlmodel.Item
	ConditionExpression string
	ExpressionNames     map[string]string
	ExpressionValues    map[string]nsqlmodel.AttributeValue
}
type DeleteItemResponse struct{}

func (f *Facade) DeleteItem(ctx context.Context, req DeleteItemRequest) (DeleteItemResponse, error) {
	const op = "pertenant.DeleteItem"
	tenantID, err := f.currentTenant(ctx, op)
	if err != nil {
		return DeleteItemResponse{}, err
	}
	if _, err := f.dispatch(func() (interface{}, error) {
		return f.store.DeleteItem(ctx, store.DeleteItemRequest{
			TableName:           f.physicalName(tenantID, req.Table),
			Key:                 req.Key,
			ConditionExpression: req.ConditionExpression,
			ExpressionNames:     req.ExpressionNames,
			ExpressionValues:    req.ExpressionValues,
		})
	}); err != nil {
		return DeleteItemResponse{}, err
	}
	return DeleteItemResponse{}, nil
}

type QueryRequest struct {
	Table                  string
	IndexName              string
	KeyConditionExpression string
	FilterExpression       string
	ExpressionNames        map[string]string
	ExpressionValues       map[string]nsqlmodel.AttributeValue
	Limit                  int
	ExclusiveStartKey      nsqlmodel.Item
}
type QueryResponse struct {
	Items            []nsqlmodel.Item
	LastEvaluatedKey nsqlmodel.Item
}

func (f *Facade) Query(ctx context.Context, req QueryRequest) (QueryResponse, error) {
	const op = "pertenant.Query"
	tenantID, err := f.currentTenant(ctx, op)
	if err != nil {
		return QueryResponse{}, err
	}
	res, err := f.dispatch(func() (interface{}, error) {
		return f.store.Query(ctx, store.QueryRequest{
			TableName:              f.physicalName(tenantID, req.Table),
			IndexName:              req.IndexName,
			KeyConditionExpression: req.KeyConditionExpression,
			FilterExpression:       req.FilterExpression,
			ExpressionNames:        req.ExpressionNames,
			ExpressionValues:       req.ExpressionValues,
			Limit:                  req.Limit,
			ExclusiveStartKey:      req.ExclusiveStartKey,
		})
	})
	if err != nil {
		return QueryResponse{}, nsqlerr.New(nsqlerr.KindUnsupportedPredicate, op, err)
	}
	out := res.(store.QueryResponse)
	return QueryResponse{Items: out.Items, LastEvaluatedKey: out.LastEvaluatedKey}, nil
}

type ScanRequest struct {
	Table             string
	FilterExpression  string
	ExpressionNames   map[string]string
	ExpressionValues  map[string]nsqlmodel.AttributeValue
	Limit             int
	ExclusiveStartKey nsqlmodel.Item
}
type ScanResponse struct {
	Items            []nsqlmodel.Item
	LastEvaluatedKey nsqlmodel.Item
}

func (f *Facade) Scan(ctx context.Context, req ScanRequest) (ScanResponse, error) {
	const op = "pertenant.Scan"
	tenantID, err := f.currentTenant(ctx, op)
	if err != nil {
		return ScanResponse{}, err
	}
	res, err := f.dispatch(func() (interface{}, error) {
		return f.store.Scan(ctx, store.ScanRequest{
			TableName:         f.physicalName(tenantID, req.Table),
			FilterExpression:  req.FilterExpression,
			ExpressionNames:   req.ExpressionNames,
			ExpressionValues:  req.ExpressionValues,
			Limit:             req.Limit,
			ExclusiveStartKey: req.ExclusiveStartKey,
		})
	})
	if err != nil {
		return ScanResponse{}, err
	}
	out := res.(store.ScanResponse)
	return ScanResponse{Items: out.Items, LastEvaluatedKey: out.LastEvaluatedKey}, nil
}

type BatchGetItemRequest struct {
	Keys map[string][]nsqlmodel.Item // virtual table name -> keys
}
type BatchGetItemResponse struct {
	Items       map[string][]nsqlmodel.Item
	Unprocessed map[string][]nsqlmodel.Item
}

// BatchGetItem partitions by the tenant-qualified physical table name for
// each virtual table named in the request (table-per-tenant mode never
// collapses two virtual tables onto one physical table, so attribution
// back is a direct name lookup, unlike sharedtable's decode-based
// attribution).
func (f *Facade) BatchGetItem(ctx context.Context, req BatchGetItemRequest) (BatchGetItemResponse, error) {
	const op = "pertenant.BatchGetItem"
	tenantID, err := f.currentTenant(ctx, op)
	if err != nil {
		return BatchGetItemResponse{}, err
	}
	physToVirtual := map[string]string{}
	physReq := store.BatchGetItemRequest{Keys: map[string][]nsqlmodel.Item{}}
	for virtualTable, keys := range req.Keys {
		physicalName := f.physicalName(tenantID, virtualTable)
		physToVirtual[physicalName] = virtualTable
		physReq.Keys[physicalName] = keys
	}
	res, err := f.dispatch(func() (interface{}, error) {
		return f.store.BatchGetItem(ctx, physReq)
	})
	if err != nil {
		return BatchGetItemResponse{}, err
	}
	out := res.(store.BatchGetItemResponse)
	items := map[string][]nsqlmodel.Item{}
	for physTable, physItems := range out.Items {
		items[physToVirtual[physTable]] = physItems
	}
	unprocessed := map[string][]nsqlmodel.Item{}
	for physTable, physKeys := range out.Unprocessed {
		unprocessed[physToVirtual[physTable]] = physKeys
	}
	return BatchGetItemResponse{Items: items, Unprocessed: unprocessed}, nil
}
