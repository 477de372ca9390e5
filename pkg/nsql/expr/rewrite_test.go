package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/nsql-gateway/pkg/nsqlerr"
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlmodel"
)

type fakeResolver struct {
	attrs map[string]KeyAttr
}

func (f fakeResolver) Resolve(virtualName string) (KeyAttr, bool) {
	a, ok := f.attrs[virtualName]
	return a, ok
}

func identityRewrite(v nsqlmodel.AttributeValue) (nsqlmodel.AttributeValue, error) {
	return nsqlmodel.AttributeValue{Type: nsqlmodel.AttrTypeString, S: "ENC:" + v.S}, nil
}

func testResolver() fakeResolver {
	return fakeResolver{attrs: map[string]KeyAttr{
		"pk":     {PhysicalName: "hk", IsHashKey: true, VirtualType: nsqlmodel.AttrTypeString},
		"sk":     {PhysicalName: "rk"},
		"gsi1pk": {PhysicalName: "gsi1hk", IsHashKey: true, IsIndexHash: true, VirtualType: nsqlmodel.AttrTypeString},
	}}
}

func TestRewriteIdentifierAndValueForHashKey(t *testing.T) {
	res, err := Rewrite("pk = :v", nil, map[string]nsqlmodel.AttributeValue{"v": {Type: nsqlmodel.AttrTypeString, S: "foo"}},
		nsqlmodel.RoleCondition, testResolver(), identityRewrite)
	require.NoError(t, err)
	assert.Equal(t, "hk = :v__phys", res.Text)
	assert.Equal(t, "ENC:foo", res.Values["v__phys"].S)
	assert.Equal(t, "foo", res.Values["v"].S, "original placeholder binding must survive")
}

func TestRewritePlaceholderName(t *testing.T) {
	names := map[string]string{"#p": "pk"}
	values := map[string]nsqlmodel.AttributeValue{"v": {Type: nsqlmodel.AttrTypeString, S: "foo"}}
	res, err := Rewrite("#p = :v", names, values, nsqlmodel.RoleCondition, testResolver(), identityRewrite)
	require.NoError(t, err)
	assert.Equal(t, "#p = :v__phys", res.Text)
	assert.Equal(t, "hk", res.Names["#p"])
}

func TestRewriteLeavesNonKeyAttributesUntouched(t *testing.T) {
	values := map[string]nsqlmodel.AttributeValue{"v": {Type: nsqlmodel.AttrTypeString, S: "foo"}}
	res, err := Rewrite("other = :v", nil, values, nsqlmodel.RoleFilter, testResolver(), identityRewrite)
	require.NoError(t, err)
	assert.Equal(t, "other = :v", res.Text)
	assert.Equal(t, values, res.Values)
}

func TestRewritePreservesOtherUsesOfSamePlaceholder(t *testing.T) {
	values := map[string]nsqlmodel.AttributeValue{"v": {Type: nsqlmodel.AttrTypeString, S: "foo"}}
	res, err := Rewrite("pk = :v AND other = :v", nil, values, nsqlmodel.RoleFilter, testResolver(), identityRewrite)
	require.NoError(t, err)
	assert.Equal(t, "hk = :v__phys AND other = :v", res.Text)
	assert.Equal(t, "foo", res.Values["v"].S)
	assert.Equal(t, "ENC:foo", res.Values["v__phys"].S)
}

func TestRewriteConstantExistenceOnHashKey(t *testing.T) {
	res, err := Rewrite("attribute_exists(pk)", nil, nil, nsqlmodel.RoleCondition, testResolver(), identityRewrite)
	require.NoError(t, err)
	require.NotNil(t, res.Constant)
	assert.True(t, *res.Constant)

	res, err = Rewrite("attribute_not_exists(pk)", nil, nil, nsqlmodel.RoleCondition, testResolver(), identityRewrite)
	require.NoError(t, err)
	require.NotNil(t, res.Constant)
	assert.False(t, *res.Constant)
}

func TestRewriteConstantExistenceViaPlaceholder(t *testing.T) {
	names := map[string]string{"#p": "pk"}
	res, err := Rewrite("attribute_exists(#p)", names, nil, nsqlmodel.RoleCondition, testResolver(), identityRewrite)
	require.NoError(t, err)
	require.NotNil(t, res.Constant)
	assert.True(t, *res.Constant)
}

func TestRewriteExistenceOnNonHashKeyIsNotConstant(t *testing.T) {
	res, err := Rewrite("attribute_exists(sk)", nil, nil, nsqlmodel.RoleCondition, testResolver(), identityRewrite)
	require.NoError(t, err)
	assert.Nil(t, res.Constant)
}

func TestRewriteRejectsUpdateOnIndexHashKey(t *testing.T) {
	_, err := Rewrite("SET gsi1pk = :v", nil, map[string]nsqlmodel.AttributeValue{"v": {Type: nsqlmodel.AttrTypeString, S: "x"}},
		nsqlmodel.RoleUpdate, testResolver(), identityRewrite)
	assert.True(t, nsqlerr.Is(err, nsqlerr.KindUnsupportedOperation))
}

func TestRewriteFunctionCallSecondArgument(t *testing.T) {
	values := map[string]nsqlmodel.AttributeValue{"v": {Type: nsqlmodel.AttrTypeString, S: "foo"}}
	res, err := Rewrite("begins_with(pk, :v)", nil, values, nsqlmodel.RoleFilter, testResolver(), identityRewrite)
	require.NoError(t, err)
	assert.Equal(t, "begins_with(hk, :v__phys)", res.Text)
}

func TestRewriteValueBeforePath(t *testing.T) {
	values := map[string]nsqlmodel.AttributeValue{"v": {Type: nsqlmodel.AttrTypeString, S: "foo"}}
	res, err := Rewrite(":v = pk", nil, values, nsqlmodel.RoleFilter, testResolver(), identityRewrite)
	require.NoError(t, err)
	assert.Equal(t, ":v__phys = hk", res.Text)
}
