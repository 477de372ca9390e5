package sharedtable

import (
	"context"

	"github.com/developer-mesh/nsql-gateway/pkg/nsql/mapping"
	"github.com/developer-mesh/nsql-gateway/pkg/nsql/store"
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlmodel"
)

type DeleteTableRequest struct {
	Name string
}

type DeleteTableResponse struct{}

// DeleteTable implements spec.md §4.G's DeleteTable row: the virtual
// description is removed from the metadata store; if truncateOnDeleteTable
// is set, rows owned by this virtual table within the shared physical
// table are deleted, optionally asynchronously.
func (f *Facade) DeleteTable(ctx context.Context, req DeleteTableRequest) (DeleteTableResponse, error) {
	const op = "sharedtable.DeleteTable"
	tenantID, err := f.currentTenant(ctx, op)
	if err != nil {
		return DeleteTableResponse{}, err
	}
	virtual, err := f.meta.Get(ctx, tenantID, req.Name)
	if err != nil {
		return DeleteTableResponse{}, err
	}
	tm, err := f.mappingFor(ctx, tenantID, req.Name)
	if err != nil {
		return DeleteTableResponse{}, err
	}

	if err := f.meta.Delete(ctx, tenantID, req.Name); err != nil {
		return DeleteTableResponse{}, err
	}
	f.mappings.Invalidate(tenantID, req.Name)

	if f.cfg.TruncateOnDeleteTable {
		truncate := func() {
			if terr := f.truncate(ctx, tm, virtual); terr != nil {
				f.log.Error("truncate failed", map[string]any{"tenant": tenantID, "table": req.Name, "error": terr.Error()})
			}
		}
		if f.cfg.DeleteTableAsync {
			go truncate()
		} else {
			truncate()
		}
	}
	f.log.Info("table deleted", map[string]any{"tenant": tenantID, "table": req.Name, "correlation_id": correlationID()})
	return DeleteTableResponse{}, nil
}

// truncate deletes every physical row owned by this virtual table: a
// paginated scan filtered with begins_with on the tenant/table-qualified
// composite hash-key prefix, each matching row's key deleted individually.
func (f *Facade) truncate(ctx context.Context, tm *mapping.TableMapping, virtual nsqlmodel.VirtualTableDescription) error {
	prefix, err := f.codec.Encode(tm.Tenant, virtual.Name, nsqlmodel.AttributeValue{Type: nsqlmodel.AttrTypeString, S: ""})
	if err != nil {
		return err
	}
	var lastKey nsqlmodel.Item
	for {
		res, err := f.dispatch(func() (interface{}, error) {
			return f.store.Scan(ctx, store.ScanRequest{
				TableName:         tm.Physical.Name,
				FilterExpression:  "begins_with(" + tm.Physical.Keys.Hash.Name + ", :prefix)",
				ExpressionValues:  map[string]nsqlmodel.AttributeValue{"prefix": {Type: nsqlmodel.AttrTypeString, S: prefix}},
				ExclusiveStartKey: lastKey,
			})
		})
		if err != nil {
			return err
		}
		scan := res.(store.ScanResponse)
		for _, item := range scan.Items {
			k := nsqlmodel.Item{tm.Physical.Keys.Hash.Name: item[tm.Physical.Keys.Hash.Name]}
			if tm.Physical.Keys.Range != nil {
				if v, ok := item[tm.Physical.Keys.Range.Name]; ok {
					k[tm.Physical.Keys.Range.Name] = v
				}
			}
			if _, err := f.dispatch(func() (interface{}, error) {
				return f.store.DeleteItem(ctx, store.DeleteItemRequest{TableName: tm.Physical.Name, Key: k})
			}); err != nil {
				return err
			}
		}
		if scan.LastEvaluatedKey == nil {
			return nil
		}
		lastKey = scan.LastEvaluatedKey
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
}
