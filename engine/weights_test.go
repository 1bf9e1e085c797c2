package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustTemplate(t *testing.T, id string) ShotTemplate {
	t.Helper()
	tmpl, err := LookupTemplate(id)
	require.NoError(t, err)
	return tmpl
}

func TestComposeCloseUpSingleCharacter(t *testing.T) {
	tmpl := mustTemplate(t, "T6")
	parts := map[string][]Participant{
		SlotCharacter: {{EntityID: "char_01", BaseWeight: 0.9}},
		SlotStyle:     {{EntityID: "style_01", BaseWeight: 1.0}},
	}

	w := ComposeWeights(tmpl, nil, parts)

	assert.InDelta(t, 0.855, w[SlotCharacter], 1e-9) // 0.95 * 0.9
	assert.Zero(t, w[SlotScene])
	assert.Zero(t, w[SlotProps])
	assert.InDelta(t, 0.3, w[SlotStyle], 1e-9)
	assert.InDelta(t, 1.155, w.Sum(), 1e-9)
}

func TestComposeScalesDownToCeiling(t *testing.T) {
	tmpl := mustTemplate(t, "T1")
	overrides := WeightVector{SlotCharacter: 1.0}
	parts := map[string][]Participant{
		SlotCharacter: {{EntityID: "c1", BaseWeight: 1.0}},
		SlotScene:     {{EntityID: "s1", BaseWeight: 1.0}},
		SlotProps:     {{EntityID: "p1", BaseWeight: 1.0}},
		SlotStyle:     {{EntityID: "st1", BaseWeight: 1.0}},
	}

	w := ComposeWeights(tmpl, overrides, parts)

	require.InDelta(t, 2.5, w.Sum(), 1e-9)
	// 等比缩放保持类别间比例
	scale := 2.5 / 3.1
	assert.InDelta(t, 1.0*scale, w[SlotCharacter], 1e-9)
	assert.InDelta(t, 0.9*scale, w[SlotScene], 1e-9)
	assert.InDelta(t, 0.8*scale, w[SlotProps], 1e-9)
	assert.InDelta(t, 0.4*scale, w[SlotStyle], 1e-9)
}

func TestComposeAtOrBelowCeilingUnscaled(t *testing.T) {
	tmpl := mustTemplate(t, "T4")
	parts := map[string][]Participant{
		SlotCharacter: {{EntityID: "c1", BaseWeight: 1.0}},
		SlotScene:     {{EntityID: "s1", BaseWeight: 1.0}},
	}
	w := ComposeWeights(tmpl, nil, parts)
	assert.InDelta(t, 0.85, w[SlotCharacter], 1e-9)
	assert.InDelta(t, 0.5, w[SlotScene], 1e-9)
	assert.LessOrEqual(t, w.Sum(), 2.5)
}

func TestComposeEmptyOverridesPassThrough(t *testing.T) {
	tmpl := mustTemplate(t, "T2")
	parts := map[string][]Participant{
		SlotCharacter: {{EntityID: "c1", BaseWeight: 1.0}},
	}
	a := ComposeWeights(tmpl, nil, parts)
	b := ComposeWeights(tmpl, WeightVector{}, parts)
	assert.Equal(t, a, b)
	assert.InDelta(t, tmpl.Weights.Character, a[SlotCharacter], 1e-9)
}

func TestComposeAllZeroVectorIsAllowed(t *testing.T) {
	// 空镜头：任何类别都没有参与实体，画面完全由叙事文本驱动
	tmpl := mustTemplate(t, "T1")
	w := ComposeWeights(tmpl, nil, nil)
	assert.Zero(t, w.Sum())
	for slot, v := range w {
		assert.Zerof(t, v, "slot %s", slot)
	}
}

func TestComposeIsPure(t *testing.T) {
	tmpl := mustTemplate(t, "T5")
	overrides := WeightVector{SlotCharacterBG: 1.0, SlotScene: 0.7}
	parts := map[string][]Participant{
		SlotCharacterFG: {{EntityID: "c1", BaseWeight: 0.8}},
		SlotCharacterBG: {{EntityID: "c2", BaseWeight: 0.95}},
		SlotScene:       {{EntityID: "s1", BaseWeight: 0.9}},
		SlotStyle:       {{EntityID: "st1", BaseWeight: 0.4}},
	}
	a := ComposeWeights(tmpl, overrides, parts)
	b := ComposeWeights(tmpl, overrides, parts)
	assert.Equal(t, a, b)
}

func TestComposeDualCharacterSlots(t *testing.T) {
	tmpl := mustTemplate(t, "T5")
	require.True(t, tmpl.DualCharacter)

	w := tmpl.DefaultWeights()
	_, hasSingle := w[SlotCharacter]
	assert.False(t, hasSingle)
	assert.Contains(t, w, SlotCharacterFG)
	assert.Contains(t, w, SlotCharacterBG)
}

func TestComposeMultipleParticipantsSameSlot(t *testing.T) {
	tmpl := mustTemplate(t, "T4")
	parts := map[string][]Participant{
		SlotCharacter: {
			{EntityID: "c1", BaseWeight: 0.5},
			{EntityID: "c2", BaseWeight: 0.5},
		},
	}
	w := ComposeWeights(tmpl, nil, parts)
	// 同槽位多个实体贡献相加
	assert.InDelta(t, 0.85, w[SlotCharacter], 1e-9)
}

func TestCeilingInvariantAcrossTemplates(t *testing.T) {
	parts := map[string][]Participant{
		SlotCharacter:   {{EntityID: "c1", BaseWeight: 1.2}},
		SlotCharacterFG: {{EntityID: "c1", BaseWeight: 1.2}},
		SlotCharacterBG: {{EntityID: "c2", BaseWeight: 1.2}},
		SlotScene:       {{EntityID: "s1", BaseWeight: 1.2}},
		SlotProps:       {{EntityID: "p1", BaseWeight: 1.2}, {EntityID: "p2", BaseWeight: 1.2}},
		SlotStyle:       {{EntityID: "st1", BaseWeight: 1.2}},
	}
	overrides := WeightVector{SlotScene: 1.3, SlotProps: 1.1}
	for _, id := range TemplateIDs() {
		tmpl := mustTemplate(t, id)
		w := ComposeWeights(tmpl, overrides, parts)
		assert.LessOrEqualf(t, w.Sum(), 2.5+1e-9, "template %s", id)
	}
}
