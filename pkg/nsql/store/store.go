// Package store defines the external collaborator this module sits in
// front of (spec.md §4.L): the underlying NSQL key-value store. Only its
// interface shape is specified here; a real implementation talking to the
// actual hosted store is out of scope (spec.md §1), and tests drive the
// façades against hand-written fakes of this interface.
package store

import (
	"context"

	"github.com/developer-mesh/nsql-gateway/pkg/nsqlmodel"
)

// Store is every physical operation a façade can dispatch.
type Store interface {
	CreateTable(ctx context.Context, req CreateTableRequest) (CreateTableResponse, error)
	DescribeTable(ctx context.Context, req DescribeTableRequest) (DescribeTableResponse, error)
	DeleteTable(ctx context.Context, req DeleteTableRequest) (DeleteTableResponse, error)
	GetItem(ctx context.Context, req GetItemRequest) (GetItemResponse, error)
	PutItem(ctx context.Context, req PutItemRequest) (PutItemResponse, error)
	UpdateItem(ctx context.Context, req UpdateItemRequest) (UpdateItemResponse, error)
	DeleteItem(ctx context.Context, req DeleteItemRequest) (DeleteItemResponse, error)
	BatchGetItem(ctx context.Context, req BatchGetItemRequest) (BatchGetItemResponse, error)
	Query(ctx context.Context, req QueryRequest) (QueryResponse, error)
	Scan(ctx context.Context, req ScanRequest) (ScanResponse, error)
}

// CreateTableRequestFactory produces a PhysicalTableDescription (and the
// CreateTableRequest needed to provision it) for a virtual table
// description, per spec.md §4.G's CreateTable row. Shared-table mode
// supplies a factory that always returns the one shared physical
// description already provisioned. The table-per-tenant façade does not
// use a factory; it builds its CreateTableRequest from the virtual
// description directly.
type CreateTableRequestFactory interface {
	Describe(ctx context.Context, tenantID string, virtual nsqlmodel.VirtualTableDescription) (nsqlmodel.PhysicalTableDescription, error)
	Request(ctx context.Context, tenantID string, virtual nsqlmodel.VirtualTableDescription, physical nsqlmodel.PhysicalTableDescription) CreateTableRequest
}

type CreateTableRequest struct {
	TableName string
	Keys      nsqlmodel.KeySchema
	Indexes   []nsqlmodel.IndexDescription
}

type CreateTableResponse struct {
	Table nsqlmodel.PhysicalTableDescription
}

type DescribeTableRequest struct {
	TableName string
}

type DescribeTableResponse struct {
	Table nsqlmodel.PhysicalTableDescription
	// Exists is false when the physical table is absent. Describe itself
	// does not error on an absent table; callers decide how to surface
	// that (CreateTable's "verify it exists" path turns it into
	// IncompatibleSchema).
	Exists bool
}

type DeleteTableRequest struct {
	TableName string
}

type DeleteTableResponse struct{}

type GetItemRequest struct {
	TableName string
	Key       nsqlmodel.Item
	IndexName string
}

type GetItemResponse struct {
	Item  nsqlmodel.Item
	Found bool
}

type PutItemRequest struct {
	TableName           string
	Item                nsqlmodel.Item
	ConditionExpression  string
	ExpressionNames      map[string]string
	ExpressionValues     map[string]nsqlmodel.AttributeValue
}

type PutItemResponse struct{}

type UpdateItemRequest struct {
	TableName          string
	Key                nsqlmodel.Item
	UpdateExpression   string
	ConditionExpression string
	ExpressionNames    map[string]string
	ExpressionValues   map[string]nsqlmodel.AttributeValue
}

type UpdateItemResponse struct {
	Item nsqlmodel.Item
}

type DeleteItemRequest struct {
	TableName           string
	Key                 nsqlmodel.Item
	ConditionExpression string
	ExpressionNames     map[string]string
	ExpressionValues    map[string]nsqlmodel.AttributeValue
}

type DeleteItemResponse struct{}

// BatchGetItemRequest groups keys by physical table name, since a batch
// may span virtual tables that map to different physical tables
// (table-per-tenant mode) or all collapse onto one (shared-table mode).
type BatchGetItemRequest struct {
	Keys map[string][]nsqlmodel.Item // physical table name -> keys
}

type BatchGetItemResponse struct {
	Items       map[string][]nsqlmodel.Item
	Unprocessed map[string][]nsqlmodel.Item
}

type QueryRequest struct {
	TableName           string
	IndexName            string
	KeyConditionExpression string
	FilterExpression     string
	ExpressionNames      map[string]string
	ExpressionValues     map[string]nsqlmodel.AttributeValue
	Limit                int
	ExclusiveStartKey    nsqlmodel.Item
}

type QueryResponse struct {
	Items            []nsqlmodel.Item
	LastEvaluatedKey nsqlmodel.Item
}

type ScanRequest struct {
	TableName         string
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
