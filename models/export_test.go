package models

import (
	"encoding/json"
	"testing"

	"StoryboardPro-server/engine"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportShotFieldNames(t *testing.T) {
	score := 0.91
	s := &Shot{
		ShotNumber:       3,
		Template:         "T6",
		Description:      "主角凝视远方",
		CharactersInShot: StringList{"char-1"},
		PropsInShot:      StringList{"prop-1"},
		SceneId:          "scene-1",
		Camera: CameraColumn{
			Distance:        "close_up",
			VerticalAngle:   0,
			HorizontalAngle: 0,
			FocalLength:     85,
		},
		SlotWeights:      WeightMap{"character": 0.95, "style": 0.3},
		GeneratedPrompt:  "close-up shot ...",
		OutputImage:      "shots/3/image.png",
		ConsistencyScore: &score,
	}

	raw, err := json.Marshal(ExportShot(s))
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	for _, key := range []string{
		"shot_number", "template", "description",
		"characters_in_shot", "props_in_shot", "scene",
		"camera", "slot_weights", "generated_prompt",
		"output_image", "consistency_score",
	} {
		assert.Contains(t, doc, key)
	}
	assert.Equal(t, "scene-1", doc["scene"])

	camera, ok := doc["camera"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, camera, "distance")
	assert.Contains(t, camera, "vertical_angle")
	assert.Contains(t, camera, "horizontal_angle")
	assert.Contains(t, camera, "focal_length")
}

// 未评分镜头导出时 consistency_score 为 null，而不是 0
func TestExportShotNilScore(t *testing.T) {
	s := &Shot{ShotNumber: 1, Template: "T1"}
	raw, err := json.Marshal(ExportShot(s))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"consistency_score":null`)
}

// 无场景镜头的 scene 导出为 null，而不是空串
func TestExportShotNilScene(t *testing.T) {
	s := &Shot{ShotNumber: 2, Template: "T3"}
	raw, err := json.Marshal(ExportShot(s))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"scene":null`)
}

func TestEntityRecordRoundTrip(t *testing.T) {
	char := &engine.Character{
		EntityMeta: engine.EntityMeta{
			ID:                "char-1",
			Name:              "阿远",
			RefImages:         []string{"ref/a.png", "ref/b.png"},
			ConsistencyWeight: 0.9,
		},
		LockedFeatures: []string{engine.CharFeatureFace, engine.CharFeatureHair},
		Appearance:     "短发剑眉",
		Clothing:       "黑色风衣",
	}

	rec := FromEngine("proj-1", "row-1", char)
	assert.Equal(t, "character", rec.Variant)
	assert.Equal(t, "char-1", rec.EntityId)

	back, err := rec.ToEngine()
	require.NoError(t, err)
	got, ok := back.(*engine.Character)
	require.True(t, ok)
	assert.Equal(t, char.LockedFeatures, got.LockedFeatures)
	assert.Equal(t, char.Appearance, got.Appearance)
	assert.Equal(t, char.RefImages, got.Meta().RefImages)
}

func TestStyleRecordKeepsWeights(t *testing.T) {
	style := &engine.Style{
		EntityMeta: engine.EntityMeta{ID: "style-1", Name: "胶片感"},
		Mode:       engine.StyleModeReferenceImage,
		Lighting:   "高对比冷光",
		Weights: engine.StyleWeights{
			RenderType:    0.8,
			ColorTendency: 0.7,
			LightingStyle: 0.9,
			Texture:       0.6,
		},
		RefImageHasHumanSubject: true,
	}

	rec := FromEngine("proj-1", "row-2", style)
	back, err := rec.ToEngine()
	require.NoError(t, err)
	got, ok := back.(*engine.Style)
	require.True(t, ok)
	assert.Equal(t, style.Weights, got.Weights)
	assert.True(t, got.RefImageHasHumanSubject)
}

func TestUnknownVariantRejected(t *testing.T) {
	rec := &ReferenceEntity{Variant: "camera"}
	_, err := rec.ToEngine()
	assert.Error(t, err)
}
