package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCharacter(id, name string) *Character {
	return &Character{
		EntityMeta: EntityMeta{
			ID:                id,
			Name:              name,
			RefImages:         []string{"refs/" + id + "_front.png"},
			ConsistencyWeight: 0.9,
		},
		LockedFeatures: []string{CharFeatureFace, CharFeatureHair},
	}
}

func TestRegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	id, err := reg.Register(newTestCharacter("char_01", "宁凡"))
	require.NoError(t, err)
	assert.Equal(t, "char_01", id)

	e, err := reg.Get(VariantCharacter, "char_01")
	require.NoError(t, err)
	assert.Equal(t, VariantCharacter, e.Variant())
	assert.Equal(t, "宁凡", e.Meta().Name)
}

func TestRegisterDuplicateId(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Register(newTestCharacter("char_01", "宁凡"))
	require.NoError(t, err)

	_, err = reg.Register(newTestCharacter("char_01", "另一个"))
	require.Error(t, err)
	assert.True(t, IsDuplicateId(err))
}

func TestVariantNamespacesAreIndependent(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Register(newTestCharacter("ref_01", "宁凡"))
	require.NoError(t, err)

	// 不同变体可使用相同 id
	_, err = reg.Register(&Prop{EntityMeta: EntityMeta{ID: "ref_01", Name: "发卡", ConsistencyWeight: 0.8}})
	require.NoError(t, err)
}

func TestGetNotFound(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get(VariantScene, "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestRemoveReferencedEntityRejected(t *testing.T) {
	proj := NewProject("测试项目", "16:9")
	_, err := proj.Registry.Register(newTestCharacter("char_01", "宁凡"))
	require.NoError(t, err)

	_, err = proj.AddShot(ShotPlan{ShotNumber: 1, TemplateID: "T4", CharacterIDs: []string{"char_01"}})
	require.NoError(t, err)

	err = proj.Registry.Remove(VariantCharacter, "char_01")
	require.Error(t, err)
	assert.True(t, IsReferenced(err))

	// 拒绝删除后原状态保持不变
	_, err = proj.Registry.Get(VariantCharacter, "char_01")
	assert.NoError(t, err)
}

func TestRemoveThenIdNeverReused(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Register(newTestCharacter("char_01", "宁凡"))
	require.NoError(t, err)
	require.NoError(t, reg.Remove(VariantCharacter, "char_01"))

	_, err = reg.Register(newTestCharacter("char_01", "新角色"))
	require.Error(t, err)
	assert.True(t, IsDuplicateId(err))
}

func TestShotNumbersStrictlyIncreasing(t *testing.T) {
	proj := NewProject("测试项目", "16:9")
	_, err := proj.AddShot(ShotPlan{ShotNumber: 1, TemplateID: "T1"})
	require.NoError(t, err)
	_, err = proj.AddShot(ShotPlan{ShotNumber: 3, TemplateID: "T4"})
	require.NoError(t, err)

	_, err = proj.AddShot(ShotPlan{ShotNumber: 2, TemplateID: "T6"})
	require.Error(t, err)
	assert.True(t, IsValidation(err))

	_, err = proj.AddShot(ShotPlan{ShotNumber: 0, TemplateID: "T6"})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}
