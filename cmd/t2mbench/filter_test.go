package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"text2mem/internal/ir"
	"text2mem/internal/pipeline"
)

func filterSample(t *testing.T, lang, instruction, structure, op string) *pipeline.Sample {
	t.Helper()
	raw := `{"stage":"ENC","op":"Encode","args":{"payload":{"text":"x"}}}`
	if op != "Encode" {
		raw = `{"stage":"STO","op":"` + op + `","target":{"ids":[1]}}`
	}
	var instr ir.IR
	require.NoError(t, json.Unmarshal([]byte(raw), &instr))
	return &pipeline.Sample{
		Class:      pipeline.Classification{Lang: lang, InstructionType: instruction, Structure: structure},
		SchemaList: []*ir.IR{&instr},
	}
}

func TestParseFiltersNil(t *testing.T) {
	f, err := parseFilters(nil)
	require.NoError(t, err)
	assert.Nil(t, f)
}

func TestParseFiltersSingleKey(t *testing.T) {
	f, err := parseFilters([]string{"lang:en"})
	require.NoError(t, err)
	assert.True(t, f(filterSample(t, "en", "direct", "single", "Encode")))
	assert.False(t, f(filterSample(t, "zh", "direct", "single", "Encode")))
}

func TestParseFiltersConjunction(t *testing.T) {
	f, err := parseFilters([]string{"lang:en", "op:Encode", "structure:workflow"})
	require.NoError(t, err)
	assert.True(t, f(filterSample(t, "en", "direct", "workflow", "Encode")))
	assert.False(t, f(filterSample(t, "en", "direct", "single", "Encode")))
	assert.False(t, f(filterSample(t, "en", "direct", "workflow", "Promote")))
}

func TestParseFiltersOpAbbrev(t *testing.T) {
	f, err := parseFilters([]string{"op:pro"})
	require.NoError(t, err)
	assert.True(t, f(filterSample(t, "en", "direct", "single", "Promote")))
	assert.False(t, f(filterSample(t, "en", "direct", "single", "Encode")))
}

func TestParseFiltersCaseInsensitiveValues(t *testing.T) {
	f, err := parseFilters([]string{"op:encode", "instruction:Direct"})
	require.NoError(t, err)
	assert.True(t, f(filterSample(t, "en", "direct", "single", "Encode")))
}

func TestParseFiltersRejectsMalformed(t *testing.T) {
	for _, bad := range []string{"lang", "lang:", ":en", "flavor:spicy"} {
		_, err := parseFilters([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestParseFiltersEmptySchemaListNeverMatchesOp(t *testing.T) {
	f, err := parseFilters([]string{"op:Encode"})
	require.NoError(t, err)
	assert.False(t, f(&pipeline.Sample{Class: pipeline.Classification{Lang: "en"}}))
}
