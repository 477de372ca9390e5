package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/developer-mesh/nsql-gateway/pkg/nsqlerr"
	"github.com/developer-mesh/nsql-gateway/pkg/nsqlmodel"
)

func hashOnly(name string) nsqlmodel.IndexDescription {
	return nsqlmodel.IndexDescription{Name: name, Keys: nsqlmodel.KeySchema{Hash: nsqlmodel.KeyAttribute{Name: name + "hk", Type: nsqlmodel.AttrTypeString}}}
}

func TestByNameResolvesMatchingName(t *testing.T) {
	virtual := hashOnly("gsi1")
	physical := nsqlmodel.PhysicalTableDescription{Indexes: []nsqlmodel.IndexDescription{hashOnly("gsi1")}}

	got, err := ByName{}.Resolve(virtual, physical)
	require.NoError(t, err)
	assert.Equal(t, "gsi1", got.Name)
}

func TestByNameRejectsMissingName(t *testing.T) {
	virtual := hashOnly("gsi1")
	physical := nsqlmodel.PhysicalTableDescription{Indexes: []nsqlmodel.IndexDescription{hashOnly("gsi2")}}

	_, err := ByName{}.Resolve(virtual, physical)
	assert.True(t, nsqlerr.Is(err, nsqlerr.KindNoCompatibleIndex))
}

func TestByNameRejectsIncompatibleRangeKey(t *testing.T) {
	virtual := hashOnly("gsi1")
	physWithRange := hashOnly("gsi1")
	physWithRange.Keys.Range = &nsqlmodel.KeyAttribute{Name: "rk", Type: nsqlmodel.AttrTypeNumber}
	physical := nsqlmodel.PhysicalTableDescription{Indexes: []nsqlmodel.IndexDescription{physWithRange}}

	_, err := ByName{}.Resolve(virtual, physical)
	assert.True(t, nsqlerr.Is(err, nsqlerr.KindNoCompatibleIndex))
}

func TestByTypePrefersHashOnlyMatch(t *testing.T) {
	virtual := hashOnly("gsi1") // hash-only virtual index, any name

	withRange := hashOnly("other-range")
	withRange.Keys.Range = &nsqlmodel.KeyAttribute{Name: "rk", Type: nsqlmodel.AttrTypeNumber}
	hashOnlyPhys := hashOnly("other-hashonly")

	physical := nsqlmodel.PhysicalTableDescription{Indexes: []nsqlmodel.IndexDescription{withRange, hashOnlyPhys}}

	got, err := ByType{}.Resolve(virtual, physical)
	require.NoError(t, err)
	assert.Equal(t, "other-hashonly", got.Name)
}

func TestByTypeFallsBackWhenNoHashOnlyMatch(t *testing.T) {
	virtual := hashOnly("gsi1")
	withRange := hashOnly("other-range")
	withRange.Keys.Range = &nsqlmodel.KeyAttribute{Name: "rk", Type: nsqlmodel.AttrTypeNumber}

	physical := nsqlmodel.PhysicalTableDescription{Indexes: []nsqlmodel.IndexDescription{withRange}}

	got, err := ByType{}.Resolve(virtual, physical)
	require.NoError(t, err)
	assert.Equal(t, "other-range", got.Name)
}

func TestByTypeNoCompatibleIndex(t *testing.T) {
	virtual := hashOnly("gsi1")
	virtual.Keys.Range = &nsqlmodel.KeyAttribute{Name: "rk", Type: nsqlmodel.AttrTypeString}
	physical := nsqlmodel.PhysicalTableDescription{Indexes: []nsqlmodel.IndexDescription{hashOnly("other")}}

	_, err := ByType{}.Resolve(virtual, physical)
	assert.True(t, nsqlerr.Is(err, nsqlerr.KindNoCompatibleIndex))
}
