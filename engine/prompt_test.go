package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAssembler(t *testing.T) (*Assembler, *Registry) {
	t.Helper()
	reg := NewRegistry()
	_, err := reg.Register(newTestCharacter("char_01", "宁凡"))
	require.NoError(t, err)
	_, err = reg.Register(testScene())
	require.NoError(t, err)
	_, err = reg.Register(&Prop{EntityMeta: EntityMeta{ID: "prop_01", Name: "发卡", RefImages: []string{"refs/prop.png"}, ConsistencyWeight: 0.8}, Material: "金属"})
	require.NoError(t, err)
	_, err = reg.Register(testStyle(false))
	require.NoError(t, err)
	return &Assembler{Registry: reg, StyleID: "style_01", ConsistencyPrefix: "同一部影片的连续镜头"}, reg
}

func TestAssembleFixedOrder(t *testing.T) {
	asm, _ := testAssembler(t)
	plan := ShotPlan{
		ShotNumber:   1,
		TemplateID:   "T4",
		Description:  "宁凡在停车场发现发卡",
		CharacterIDs: []string{"char_01"},
		PropIDs:      []string{"prop_01"},
		SceneID:      "scene_01",
	}
	sig := ResolveConflicts(nil, nil)

	inst, err := asm.Assemble(plan, sig, WeightVector{SlotCharacter: 0.85})
	require.NoError(t, err)

	p := inst.Prompt
	// 固定顺序：相机 → 角色 → 叙事 → 场景 → 风格 → 技术后缀
	idxCamera := strings.Index(p, "standard-medium")
	idxChar := strings.Index(p, "[character:char_01]")
	idxAction := strings.Index(p, "宁凡在停车场发现发卡")
	idxScene := strings.Index(p, "[scene:scene_01]")
	idxStyle := strings.Index(p, "[style:style_01]")
	idxSuffix := strings.Index(p, technicalSuffix)

	for _, idx := range []int{idxCamera, idxChar, idxAction, idxScene, idxStyle, idxSuffix} {
		require.GreaterOrEqual(t, idx, 0, "prompt: %s", p)
	}
	assert.Less(t, idxCamera, idxChar)
	assert.Less(t, idxChar, idxAction)
	assert.Less(t, idxAction, idxScene)
	assert.Less(t, idxScene, idxStyle)
	assert.Less(t, idxStyle, idxSuffix)

	assert.True(t, strings.HasPrefix(p, "同一部影片的连续镜头"))
	assert.Equal(t, 50, inst.Camera.FocalLength)
}

func TestAssembleBindsReferenceAssets(t *testing.T) {
	asm, _ := testAssembler(t)
	plan := ShotPlan{
		ShotNumber:   2,
		TemplateID:   "T6",
		CharacterIDs: []string{"char_01"},
		SceneID:      "scene_01",
		PropIDs:      []string{"prop_01"},
	}
	inst, err := asm.Assemble(plan, ResolveConflicts(nil, nil), nil)
	require.NoError(t, err)

	byEntity := map[string]int{}
	for _, a := range inst.ReferenceAssets {
		byEntity[a.EntityID]++
		assert.NotEmpty(t, a.ImageLocator)
	}
	assert.Positive(t, byEntity["char_01"])
	assert.Positive(t, byEntity["scene_01"])
	assert.Positive(t, byEntity["prop_01"])
	assert.Positive(t, byEntity["style_01"])
}

func TestAssembleMissingParticipant(t *testing.T) {
	asm, _ := testAssembler(t)
	plan := ShotPlan{
		ShotNumber:   3,
		TemplateID:   "T4",
		CharacterIDs: []string{"char_99"},
	}
	_, err := asm.Assemble(plan, ResolveConflicts(nil, nil), nil)
	require.Error(t, err)
	assert.True(t, IsMissingParticipant(err))
}

func TestAssembleCameraOverrides(t *testing.T) {
	asm, _ := testAssembler(t)
	focal := 135
	vert := -20.0
	plan := ShotPlan{
		ShotNumber: 4,
		TemplateID: "T6",
		Camera:     CameraOverrides{FocalLength: &focal, VerticalAngle: &vert, Distance: "extreme_close_up"},
	}
	inst, err := asm.Assemble(plan, ResolveConflicts(nil, nil), nil)
	require.NoError(t, err)
	assert.Equal(t, 135, inst.Camera.FocalLength)
	assert.Equal(t, -20.0, inst.Camera.VerticalAngle)
	assert.Equal(t, "extreme_close_up", inst.Camera.Distance)
	// 未覆盖的取模板范围中值
	assert.Equal(t, 0.0, inst.Camera.HorizontalAngle)
}

func TestAssembleCarriesNegativePrompt(t *testing.T) {
	asm, _ := testAssembler(t)
	inst, err := asm.Assemble(ShotPlan{ShotNumber: 5, TemplateID: "T6"}, ResolveConflicts(nil, nil), nil)
	require.NoError(t, err)
	tmpl, _ := LookupTemplate("T6")
	assert.Equal(t, tmpl.NegativePrompt, inst.NegativePrompt)
}

func TestAssembleResolvedFeaturesInDescriptor(t *testing.T) {
	asm, reg := testAssembler(t)
	ch, _ := reg.Character("char_01")
	ch.Appearance = "短发剑眉"

	sig := ResolveConflicts([]Entity{ch}, nil)
	inst, err := asm.Assemble(ShotPlan{ShotNumber: 6, TemplateID: "T4", CharacterIDs: []string{"char_01"}}, sig, nil)
	require.NoError(t, err)
	assert.Contains(t, inst.Prompt, "human_subject=短发剑眉")
}
