package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStyle(humanSubject bool) *Style {
	return &Style{
		EntityMeta:              EntityMeta{ID: "style_01", Name: "电影质感", RefImages: []string{"refs/style.png"}, ConsistencyWeight: 0.4},
		Mode:                    StyleModeReferenceImage,
		Lighting:                "高对比冷光",
		Description:             "写实电影质感",
		RefImageHasHumanSubject: humanSubject,
	}
}

func testScene() *Scene {
	return &Scene{
		EntityMeta:   EntityMeta{ID: "scene_01", Name: "停车场", RefImages: []string{"refs/scene.png"}, ConsistencyWeight: 0.9},
		Description:  "夜幕下的地下停车场",
		Lighting:     "暖黄顶灯",
		ImpliedScale: "真人等比",
	}
}

func TestStyleHumanFeaturesAlwaysStripped(t *testing.T) {
	ch := newTestCharacter("char_01", "宁凡")
	sig := ResolveConflicts([]Entity{ch}, testStyle(true))

	// 解析信号中人物类属性只能来自角色实体
	for _, a := range sig.Active() {
		if a.Aspect == AspectHumanSubject {
			assert.Equal(t, VariantCharacter, a.Source)
		}
	}
	// 风格的人物属性被抑制但未被删除
	var found bool
	for _, a := range sig.Attributes {
		if a.Source == VariantStyle && a.Aspect == AspectHumanSubject {
			found = true
			assert.True(t, a.Suppressed)
		}
	}
	assert.True(t, found)
}

func TestStyleHumanStripWithoutCharacters(t *testing.T) {
	// 即使镜头里没有角色，剥离也是强制过滤而非优先级仲裁
	sig := ResolveConflicts(nil, testStyle(true))
	for _, a := range sig.Active() {
		assert.NotEqual(t, AspectHumanSubject, a.Aspect)
	}
}

func TestStyleLightingWinsOverScene(t *testing.T) {
	sig := ResolveConflicts([]Entity{testScene()}, testStyle(false))

	var sceneLighting, styleLighting *SignalAttribute
	for i := range sig.Attributes {
		a := &sig.Attributes[i]
		if a.Aspect != AspectLighting {
			continue
		}
		switch a.Source {
		case VariantScene:
			sceneLighting = a
		case VariantStyle:
			styleLighting = a
		}
	}
	require.NotNil(t, sceneLighting)
	require.NotNil(t, styleLighting)
	assert.True(t, sceneLighting.Suppressed, "场景隐含光照应让位于风格光照")
	assert.False(t, styleLighting.Suppressed)
}

func TestPropScaleRescaledToScene(t *testing.T) {
	prop := &Prop{
		EntityMeta:     EntityMeta{ID: "prop_01", Name: "发卡", ConsistencyWeight: 0.8},
		ScaleReference: "拳头大小",
		Material:       "金属",
	}
	sig := ResolveConflicts([]Entity{testScene(), prop}, nil)

	for _, a := range sig.Attributes {
		if a.Source == VariantProp && a.Aspect == AspectScale {
			assert.True(t, a.Rescaled)
			assert.Equal(t, "真人等比", a.Value, "道具比例应重缩放为场景参考")
			assert.False(t, a.Suppressed)
		}
		if a.Source == VariantScene && a.Aspect == AspectScale {
			assert.False(t, a.Suppressed)
		}
	}
}

func TestCoEqualCharactersBothRetained(t *testing.T) {
	// 过肩镜头：前景/背景角色同为类别 1 优先级，互不抑制，各自保留锁定面部
	fg := newTestCharacter("char_01", "宁凡")
	fg.Appearance = "短发，剑眉"
	bg := newTestCharacter("char_02", "江如雪")
	bg.Appearance = "长发，杏眼"

	sig := ResolveConflicts([]Entity{fg, bg}, nil)

	var active int
	for _, a := range sig.Active() {
		if a.Aspect == AspectHumanSubject {
			active++
		}
	}
	assert.Equal(t, 2, active)
}

func TestResolveIsIdempotent(t *testing.T) {
	ch := newTestCharacter("char_01", "宁凡")
	prop := &Prop{EntityMeta: EntityMeta{ID: "prop_01", Name: "发卡"}, ScaleReference: "拳头大小", Material: "金属"}
	once := ResolveConflicts([]Entity{ch, testScene(), prop}, testStyle(true))
	twice := ResolveSignal(once)
	assert.Equal(t, once, twice)
}

func TestSuppressionDoesNotMutateEntity(t *testing.T) {
	style := testStyle(true)
	_ = ResolveConflicts(nil, style)
	// 被抑制的属性只在本镜头的信号中排除，实体本身不变
	assert.True(t, style.RefImageHasHumanSubject)
	assert.Equal(t, "高对比冷光", style.Lighting)
}
