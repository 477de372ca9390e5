package sharedtable

import (
	"context"

	"github.com/developer-mesh/nsql-gateway/pkg/nsql/mapping"
	"github.com/developer-mesh/nsql-gateway/pkg/nsql/store"
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlerr"
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlmodel"
)

type GetItemRequest struct {
	Table     string
	Key       mapping.Key
	IndexName string
}

type GetItemResponse struct {
	Item  nsqlmodel.Item
	Found bool
}

// GetItem implements spec.md §4.G's GetItem row: absence is reported as
// Found == false, not an error.
func (f *Facade) GetItem(ctx context.Context, req GetItemRequest) (GetItemResponse, error) {
	const op = "sharedtable.GetItem"
	tenantID, err := f.currentTenant(ctx, op)
	if err != nil {
		return GetItemResponse{}, err
	}
	tm, err := f.mappingFor(ctx, tenantID, req.Table)
	if err != nil {
		return GetItemResponse{}, err
	}
	physKey, err := tm.ApplyForKey(req.Key)
	if err != nil {
		return GetItemResponse{}, err
	}
	res, err := f.dispatch(func() (interface{}, error) {
		return f.store.GetItem(ctx, store.GetItemRequest{
			TableName: tm.Physical.Name,
			Key:       nsqlmodel.Item(physKey),
			IndexName: req.IndexName,
		})
	})
	if err != nil {
		return GetItemResponse{}, err
	}
	out := res.(store.GetItemResponse)
	if !out.Found {
		return GetItemResponse{Found: false}, nil
	}
	virtualItem, err := tm.InverseForItem(out.Item)
	if err != nil {
		return GetItemResponse{}, err
	}
	return GetItemResponse{Item: virtualItem, Found: true}, nil
}

type PutItemRequest struct {
	Table               string
	Item                nsqlmodel.Item
	ConditionExpression string
	ExpressionNames     map[string]string
	ExpressionValues    map[string]nsqlmodel.AttributeValue
}

type PutItemResponse struct{}

// PutItem implements spec.md §4.G's PutItem row. The caller's request
// fields are never mutated; all rewriting happens on copies.
func (f *Facade) PutItem(ctx context.Context, req PutItemRequest) (PutItemResponse, error) {
	const op = "sharedtable.PutItem"
	tenantID, err := f.currentTenant(ctx, op)
	if err != nil {
		return PutItemResponse{}, err
	}
	tm, err := f.mappingFor(ctx, tenantID, req.Table)
	if err != nil {
		return PutItemResponse{}, err
	}
	physItem, err := tm.ApplyForItem(req.Item.Clone())
	if err != nil {
		return PutItemResponse{}, err
	}
	cond, names, values, constant, err := f.rewriteConditionConstant(tm, req.ConditionExpression, req.ExpressionNames, req.ExpressionValues)
	if err != nil {
		return PutItemResponse{}, err
	}
	if constant != nil && !*constant {
		return PutItemResponse{}, nsqlerr.New(nsqlerr.KindConditionalCheckFailed, op, nil)
	}
	if constant != nil && *constant {
		cond = ""
	}
	if _, err := f.dispatch(func() (interface{}, error) {
		return f.store.PutItem(ctx, store.PutItemRequest{
			TableName:           tm.Physical.Name,
			Item:                physItem,
			ConditionExpression: cond,
			ExpressionNames:     names,
			ExpressionValues:    values,
		})
	}); err != nil {
		return PutItemResponse{}, translateConditionalFailure(err)
	}
	return PutItemResponse{}, nil
}

type UpdateItemRequest struct {
	Table               string
	Key                 mapping.Key
	UpdateExpression    string
	ConditionExpression string
	ExpressionNames     map[string]string
	ExpressionValues    map[string]nsqlmodel.AttributeValue
}

type UpdateItemResponse struct {
	Item nsqlmodel.Item
}

// UpdateItem implements spec.md §4.G's UpdateItem row.
func (f *Facade) UpdateItem(ctx context.Context, req UpdateItemRequest) (UpdateItemResponse, error) {
	const op = "sharedtable.UpdateItem"
	tenantID, err := f.currentTenant(ctx, op)
	if err != nil {
		return UpdateItemResponse{}, err
	}
	tm, err := f.mappingFor(ctx, tenantID, req.Table)
	if err != nil {
		return UpdateItemResponse{}, err
	}
	physKey, err := tm.ApplyForKey(req.Key)
	if err != nil {
		return UpdateItemResponse{}, err
	}
	names := cloneStringMap(req.ExpressionNames)
	values := cloneValueMap(req.ExpressionValues)

	update, names, values, err := f.rewrite(tm, req.UpdateExpression, names, values, nsqlmodel.RoleUpdate)
	if err != nil {
		return UpdateItemResponse{}, err
	}
	cond, names, values, constant, err := f.rewriteConditionConstant(tm, req.ConditionExpression, names, values)
	if err != nil {
		return UpdateItemResponse{}, err
	}
	if constant != nil && !*constant {
		return UpdateItemResponse{}, nsqlerr.New(nsqlerr.KindConditionalCheckFailed, op, nil)
	}
	if constant != nil && *constant {
		cond = ""
	}
	res, err := f.dispatch(func() (interface{}, error) {
		return f.store.UpdateItem(ctx, store.UpdateItemRequest{
			TableName:           tm.Physical.Name,
			Key:                 nsqlmodel.Item(physKey),
			UpdateExpression:    update,
			ConditionExpression: cond,
			ExpressionNames:     names,
			ExpressionValues:    values,
		})
	})
	if err != nil {
		return UpdateItemResponse{}, translateConditionalFailure(err)
	}
	out := res.(store.UpdateItemResponse)
	if out.Item == nil {
		return UpdateItemResponse{}, nil
	}
	virtualItem, err := tm.InverseForItem(out.Item)
	if err != nil {
		return UpdateItemResponse{}, err
	}
	return UpdateItemResponse{Item: virtualItem}, nil
}

type DeleteItemRequest struct {
	Table               string
	Key                 mapping.Key
	ConditionExpression string
	ExpressionNames     map[string]string
	ExpressionValues    map[string]nsqlmodel.AttributeValue
}

type DeleteItemResponse struct{}

// DeleteItem implements spec.md §4.G's DeleteItem row.
func (f *Facade) DeleteItem(ctx context.Context, req DeleteItemRequest) (DeleteItemResponse, error) {
	const op = "sharedtable.DeleteItem"
	tenantID, err := f.currentTenant(ctx, op)
	if err != nil {
		return DeleteItemResponse{}, err
	}
	tm, err := f.mappingFor(ctx, tenantID, req.Table)
	if err != nil {
		return DeleteItemResponse{}, err
	}
	physKey, err := tm.ApplyForKey(req.Key)
	if err != nil {
		return DeleteItemResponse{}, err
	}
	cond, names, values, constant, err := f.rewriteConditionConstant(tm, req.ConditionExpression, req.ExpressionNames, req.ExpressionValues)
	if err != nil {
		return DeleteItemResponse{}, err
	}
	if constant != nil && !*constant {
		return DeleteItemResponse{}, nsqlerr.New(nsqlerr.KindConditionalCheckFailed, op, nil)
	}
	if constant != nil && *constant {
		cond = ""
	}
	if _, err := f.dispatch(func() (interface{}, error) {
		return f.store.DeleteItem(ctx, store.DeleteItemRequest{
			TableName:           tm.Physical.Name,
			Key:                 nsqlmodel.Item(physKey),
			ConditionExpression: cond,
			ExpressionNames:     names,
			ExpressionValues:    values,
		})
	}); err != nil {
		return DeleteItemResponse{}, translateConditionalFailure(err)
	}
	return DeleteItemResponse{}, nil
}

// rewrite applies tm.RewriteExpression when text is non-empty, returning
// the input maps unchanged (cloned) when it is empty — a condition or
// update clause is optional on every operation that accepts one.
func (f *Facade) rewrite(tm *mapping.TableMapping, text string, names map[string]string, values map[string]nsqlmodel.AttributeValue, role nsqlmodel.ExpressionRole) (string, map[string]string, map[string]nsqlmodel.AttributeValue, error) {
	if text == "" {
		return "", cloneStringMap(names), cloneValueMap(values), nil
	}
	res, err := tm.RewriteExpression(text, names, values, role)
	if err != nil {
		return "", nil, nil, err
	}
	return res.Text, res.Names, res.Values, nil
}

// rewriteConditionConstant rewrites a condition expression and reports
// when the rewritten expression is a constant boolean (spec.md §4.E's
// attribute_exists/attribute_not_exists-on-hash-key edge case), so the
// caller can raise ConditionalCheckFailed locally instead of round
// tripping to the store, per spec.md §7.
func (f *Facade) rewriteConditionConstant(tm *mapping.TableMapping, text string, names map[string]string, values map[string]nsqlmodel.AttributeValue) (string, map[string]string, map[string]nsqlmodel.AttributeValue, *bool, error) {
	if text == "" {
		return "", cloneStringMap(names), cloneValueMap(values), nil, nil
	}
	res, err := tm.RewriteExpression(text, names, values, nsqlmodel.RoleCondition)
	if err != nil {
		return "", nil, nil, nil, err
	}
	return res.Text, res.Names, res.Values, res.Constant, nil
}

func cloneStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneValueMap(m map[string]nsqlmodel.AttributeValue) map[string]nsqlmodel.AttributeValue {
	out := make(map[string]nsqlmodel.AttributeValue, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

// translateConditionalFailure maps the underlying store's conditional
// check failure through unchanged; other errors pass through as-is. The
// underlying Store is expected to tag its own ConditionalCheckFailed
// errors with that nsqlerr.Kind already (spec.md §4.L); this hook exists
// so a constant-folded condition (see expr.Rewrite's Constant result,
// handled by the caller before dispatch) and a physical rejection look
// identical to the caller.
func translateConditionalFailure(err error) error { return err }
