package prompt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func section(t *testing.T, doc Document, name string) map[string]any {
	t.Helper()
	p, ok := doc["prompt"].(map[string]any)
	require.True(t, ok, "prompt section missing")
	s, ok := p[name].(map[string]any)
	require.True(t, ok, "section %s missing", name)
	return s
}

func TestBuilder_VariantForIndex(t *testing.T) {
	b := NewDefaultBuilder()
	k := len(b.Variants())
	require.Equal(t, 3, k)

	tests := []struct {
		index int
		want  string
	}{
		{index: 0, want: VariantStudioPortrait},
		{index: 1, want: VariantNaturalLight},
		{index: 2, want: VariantArchivalFaithful},
		{index: 3, want: VariantStudioPortrait},
		{index: 10, want: VariantNaturalLight},
		{index: -1, want: VariantArchivalFaithful},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, b.VariantForIndex(tt.index), "index %d", tt.index)
	}

	for i := 0; i < 50; i++ {
		assert.Equal(t, b.VariantForIndex(i), b.VariantForIndex(i+k))
	}
}

func TestBuilder_BuildFallsBackToDefault(t *testing.T) {
	b := NewDefaultBuilder()

	def := b.Build(VariantStudioPortrait)
	assert.Equal(t, def, b.Build(""))
	assert.Equal(t, def, b.Build("no-such-variant"))
	assert.Equal(t, VariantStudioPortrait, b.DefaultVariant())
}

func TestBuilder_DeepOverride(t *testing.T) {
	b := NewDefaultBuilder()
	doc := b.Build(VariantNaturalLight)

	lighting := section(t, doc, "lighting")
	assert.Equal(t, "soft_window_daylight", lighting["style"])
	// untouched keys in an overridden section survive
	assert.Equal(t, "even", lighting["brightness_balance"])

	// untouched sections are identical to the base
	assert.Equal(t, section(t, b.Build(""), "subject"), section(t, doc, "subject"))
	assert.Equal(t, b.Build("")["negative_prompt"], doc["negative_prompt"])
}

func TestBuilder_BuildDoesNotMutateBase(t *testing.T) {
	b := NewDefaultBuilder()

	first := b.Build(VariantArchivalFaithful)
	section(t, first, "lighting")["style"] = "mutated"
	first["negative_prompt"].([]any)[0] = "mutated"

	again := b.Build(VariantArchivalFaithful)
	assert.Equal(t, "preserve_original_lighting", section(t, again, "lighting")["style"])
	assert.Equal(t, "soft_studio_light", section(t, b.Build(""), "lighting")["style"])
	assert.Equal(t, "cartoon", b.Build("")["negative_prompt"].([]any)[0])
}

func TestBuilder_Deterministic(t *testing.T) {
	b := NewDefaultBuilder()
	for _, id := range b.Variants() {
		a, err := b.Build(id).Text()
		require.NoError(t, err)
		c, err := b.Build(id).Text()
		require.NoError(t, err)
		assert.Equal(t, a, c)
	}
}

func TestDocument_Text(t *testing.T) {
	text, err := NewDefaultBuilder().Build("").Text()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &decoded))
	assert.Equal(t, "portrait_restoration", decoded["task"])
	for _, key := range []string{"prompt", "negative_prompt", "parameters"} {
		assert.Contains(t, decoded, key)
	}
	prompt := decoded["prompt"].(map[string]any)
	for _, key := range []string{"subject", "lighting", "image_quality", "optics", "background", "color_grading", "style_constraints"} {
		assert.Contains(t, prompt, key)
	}
}

func TestNewBuilder_SkipsDuplicateIDs(t *testing.T) {
	b := NewBuilder(Document{"a": 1}, []Variant{
		{ID: "x"},
		{ID: "y", Override: Document{"a": 2}},
		{ID: "x", Override: Document{"a": 3}},
	})
	assert.Equal(t, []string{"x", "y"}, b.Variants())
	assert.Equal(t, 1, b.Build("x")["a"])
	assert.Equal(t, 2, b.Build("y")["a"])
}
