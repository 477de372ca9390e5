package sharedtable

import (
	"context"

	"github.com/developer-mesh/nsql-gateway/pkg/nsql/store"
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlerr"
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlmodel"
)

type CreateTableRequest struct {
	Table nsqlmodel.VirtualTableDescription
}

type CreateTableResponse struct {
	Table nsqlmodel.VirtualTableDescription
}

// CreateTable implements spec.md §4.G's CreateTable row: the virtual
// description must be key-compatible with a physical description the
// CreateTableRequestFactory would produce for it; the physical table is
// either created eagerly (precreateTables) or expected to already exist.
func (f *Facade) CreateTable(ctx context.Context, req CreateTableRequest) (CreateTableResponse, error) {
	const op = "sharedtable.CreateTable"
	tenantID, err := f.currentTenant(ctx, op)
	if err != nil {
		return CreateTableResponse{}, err
	}
	virtual := req.Table

	physical, err := f.factory.Describe(ctx, tenantID, virtual)
	if err != nil {
		return CreateTableResponse{}, err
	}
	if !keyCompatible(virtual.Keys, physical.Keys) {
		return CreateTableResponse{}, nsqlerr.New(nsqlerr.KindIncompatibleSchema, op, nil)
	}

	if f.cfg.PrecreateTables {
		createReq := f.factory.Request(ctx, tenantID, virtual, physical)
		if _, err := f.dispatch(func() (interface{}, error) {
			return f.store.CreateTable(ctx, createReq)
		}); err != nil {
			return CreateTableResponse{}, nsqlerr.New(nsqlerr.KindIncompatibleSchema, op, err)
		}
	} else {
		res, err := f.dispatch(func() (interface{}, error) {
			return f.store.DescribeTable(ctx, store.DescribeTableRequest{TableName: physical.Name})
		})
		if err != nil {
			return CreateTableResponse{}, nsqlerr.New(nsqlerr.KindIncompatibleSchema, op, err)
		}
		if !res.(store.DescribeTableResponse).Exists {
			return CreateTableResponse{}, nsqlerr.New(nsqlerr.KindIncompatibleSchema, op, nil)
		}
	}

	if err := f.meta.Put(ctx, tenantID, virtual.Name, virtual); err != nil {
		return CreateTableResponse{}, err
	}
	f.log.Info("table created", map[string]any{"tenant": tenantID, "table": virtual.Name, "correlation_id": correlationID()})
	return CreateTableResponse{Table: virtual}, nil
}

// keyCompatible reports whether a virtual key schema can be hosted by a
// physical one: the physical hash key must be S (every composite key is
// a string), and range-key presence/type must agree.
func keyCompatible(virtual, physical nsqlmodel.KeySchema) bool {
	if physical.Hash.Type != nsqlmodel.AttrTypeString {
		return false
	}
	if (virtual.Range == nil) != (physical.Range == nil) {
		return false
	}
	if virtual.Range != nil && physical.Range != nil && virtual.Range.Type != physical.Range.Type {
		return false
	}
	return true
}

type DescribeTableRequest struct {
	Name string
}

type DescribeTableResponse struct {
	Table nsqlmodel.VirtualTableDescription
}

// DescribeTable implements spec.md §4.G's DescribeTable row: the virtual
// description is returned as stored by the metadata store, unchanged.
func (f *Facade) DescribeTable(ctx context.Context, req DescribeTableRequest) (DescribeTableResponse, error) {
	const op = "sharedtable.DescribeTable"
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
