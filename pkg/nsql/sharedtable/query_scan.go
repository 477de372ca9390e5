package sharedtable

import (
	"context"

	"github.com/developer-mesh/nsql-gateway/pkg/nsql/mapping"
	"github.com/developer-mesh/nsql-gateway/pkg/nsql/store"
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlerr"
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlmodel"
)

type QueryRequest struct {
	Table                  string
	IndexName               string
	KeyConditionExpression  string
	FilterExpression        string
	ExpressionNames         map[string]string
	ExpressionValues        map[string]nsqlmodel.AttributeValue
	Limit                   int
	ExclusiveStartKey       mapping.Key
}

type QueryResponse struct {
	Items            []nsqlmodel.Item
	LastEvaluatedKey mapping.Key
}

// Query implements spec.md §4.G's Query row. The key condition is not
// checked for supported predicates here: it is rewritten as given, with
// the hash-key value turned into its composite physical form by
// RewriteExpression, and any error from the underlying query is reported
// as UnsupportedPredicate. Every returned record is defensively re-checked
// against the decoded tenant/table prefix before being handed back.
func (f *Facade) Query(ctx context.Context, req QueryRequest) (QueryResponse, error) {
	const op = "sharedtable.Query"
	tenantID, err := f.currentTenant(ctx, op)
	if err != nil {
		return QueryResponse{}, err
	}
	tm, err := f.mappingFor(ctx, tenantID, req.Table)
	if err != nil {
		return QueryResponse{}, err
	}

	physIndex, err := tm.ResolveIndex(req.IndexName)
	if err != nil {
		return QueryResponse{}, err
	}

	names := cloneStringMap(req.ExpressionNames)
	values := cloneValueMap(req.ExpressionValues)
	keyCondRes, err := tm.RewriteExpression(req.KeyConditionExpression, names, values, nsqlmodel.RoleKeyCondition)
	if err != nil {
		return QueryResponse{}, err
	}
	names, values = keyCondRes.Names, keyCondRes.Values

	filter, names, values, err := f.rewrite(tm, req.FilterExpression, names, values, nsqlmodel.RoleFilter)
	if err != nil {
		return QueryResponse{}, err
	}

	var startKey nsqlmodel.Item
	if req.ExclusiveStartKey != nil {
		pk, err := tm.ApplyForKey(req.ExclusiveStartKey)
		if err != nil {
			return QueryResponse{}, err
		}
		startKey = nsqlmodel.Item(pk)
	}

	res, err := f.dispatch(func() (interface{}, error) {
		return f.store.Query(ctx, store.QueryRequest{
			TableName:              tm.Physical.Name,
			IndexName:              physIndex.Name,
			KeyConditionExpression: keyCondRes.Text,
			FilterExpression:       filter,
			ExpressionNames:        names,
			ExpressionValues:       values,
			Limit:                  req.Limit,
			ExclusiveStartKey:      startKey,
		})
	})
	if err != nil {
		return QueryResponse{}, nsqlerr.New(nsqlerr.KindUnsupportedPredicate, op, err)
	}
	out := res.(store.QueryResponse)

	items := make([]nsqlmodel.Item, 0, len(out.Items))
	for _, phys := range out.Items {
		if !f.belongsToTenantTable(phys, tm) {
			continue
		}
		v, err := tm.InverseForItem(phys)
		if err != nil {
			return QueryResponse{}, err
		}
		items = append(items, v)
	}

	var lastKey mapping.Key
	if out.LastEvaluatedKey != nil {
		lastKey, err = tm.InverseForKey(mapping.Key(out.LastEvaluatedKey))
		if err != nil {
			return QueryResponse{}, err
		}
	}
	return QueryResponse{Items: items, LastEvaluatedKey: lastKey}, nil
}

type ScanRequest struct {
	Table             string
	FilterExpression  string
	ExpressionNames   map[string]string
	ExpressionValues  map[string]nsqlmodel.AttributeValue
	Limit             int
	ExclusiveStartKey mapping.Key
}

type ScanResponse struct {
	Items            []nsqlmodel.Item
	LastEvaluatedKey mapping.Key
}

// Scan implements spec.md §4.G's Scan row as a full scan of the physical
// table, post-filtered by decoded tenant/table prefix. It never issues a
// prefix query, whatever the physical table's range-key schema.
func (f *Facade) Scan(ctx context.Context, req ScanRequest) (ScanResponse, error) {
	const op = "sharedtable.Scan"
	tenantID, err := f.currentTenant(ctx, op)
	if err != nil {
		return ScanResponse{}, err
	}
	tm, err := f.mappingFor(ctx, tenantID, req.Table)
	if err != nil {
		return ScanResponse{}, err
	}

	names := cloneStringMap(req.ExpressionNames)
	values := cloneValueMap(req.ExpressionValues)
	filter, names, values, err := f.rewrite(tm, req.FilterExpression, names, values, nsqlmodel.RoleFilter)
	if err != nil {
		return ScanResponse{}, err
	}

	var startKey nsqlmodel.Item
	if req.ExclusiveStartKey != nil {
		pk, err := tm.ApplyForKey(req.ExclusiveStartKey)
		if err != nil {
			return ScanResponse{}, err
		}
		startKey = nsqlmodel.Item(pk)
	}

	res, err := f.dispatch(func() (interface{}, error) {
		return f.store.Scan(ctx, store.ScanRequest{
			TableName:         tm.Physical.Name,
			FilterExpression:  filter,
			ExpressionNames:   names,
			ExpressionValues:  values,
			Limit:             req.Limit,
			ExclusiveStartKey: startKey,
		})
	})
	if err != nil {
		return ScanResponse{}, err
	}
	out := res.(store.ScanResponse)

	items := make([]nsqlmodel.Item, 0, len(out.Items))
	for _, phys := range out.Items {
		if !f.belongsToTenantTable(phys, tm) {
			continue
		}
		v, err := tm.InverseForItem(phys)
		if err != nil {
			return ScanResponse{}, err
		}
		items = append(items, v)
	}

	var lastKey mapping.Key
	if out.LastEvaluatedKey != nil {
		lastKey, err = tm.InverseForKey(mapping.Key(out.LastEvaluatedKey))
		if err != nil {
			return ScanResponse{}, err
		}
	}
	return ScanResponse{Items: items, LastEvaluatedKey: lastKey}, nil
}

// belongsToTenantTable decodes phys's composite hash key and reports
// whether it names this tenant and virtual table, the defensive check
// spec.md §4.G requires on Query and Scan results.
func (f *Facade) belongsToTenantTable(phys nsqlmodel.Item, tm *mapping.TableMapping) bool {
	hv, ok := phys[tm.Physical.Keys.Hash.Name]
	if !ok || hv.Type != nsqlmodel.AttrTypeString {
		return false
	}
	tenantID, table, _, err := f.codec.Decode(hv.S)
	if err != nil {
		return false
	}
	return tenantID == tm.Tenant && table == tm.Virtual.Name
}
