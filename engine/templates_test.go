package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogHasNineTemplates(t *testing.T) {
	ids := TemplateIDs()
	require.Len(t, ids, 9)

	names := map[string]string{
		"T1": "establishing-wide",
		"T2": "environment-medium",
		"T3": "framed",
		"T4": "standard-medium",
		"T5": "over-the-shoulder",
		"T6": "close-up",
		"T7": "low-angle",
		"T8": "following",
		"T9": "point-of-view",
	}
	for _, id := range ids {
		tmpl, err := LookupTemplate(id)
		require.NoError(t, err)
		assert.Equal(t, id, tmpl.ID)
		assert.Equal(t, names[id], tmpl.Name)
		assert.Positive(t, tmpl.Camera.FocalLength)
		assert.NotEmpty(t, tmpl.Composition)
	}
}

func TestLookupUnknownTemplate(t *testing.T) {
	_, err := LookupTemplate("T42")
	require.Error(t, err)
	assert.True(t, IsUnknownTemplate(err))
}

func TestOnlyOverTheShoulderIsDual(t *testing.T) {
	for _, id := range TemplateIDs() {
		tmpl, _ := LookupTemplate(id)
		assert.Equal(t, id == "T5", tmpl.DualCharacter, "template %s", id)
	}
}

func TestDefaultWeightsReturnsFreshCopy(t *testing.T) {
	tmpl, _ := LookupTemplate("T6")
	w := tmpl.DefaultWeights()
	w[SlotCharacter] = 99

	again := tmpl.DefaultWeights()
	assert.InDelta(t, 0.95, again[SlotCharacter], 1e-9)
}
