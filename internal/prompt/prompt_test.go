package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	out := Render("op={operation} lang={lang} again={operation}", map[string]string{
		"operation": "Encode",
		"lang":      "en",
	})
	assert.Equal(t, "op=Encode lang=en again=Encode", out)
}

func TestRenderLeavesUnknownSlots(t *testing.T) {
	out := Render("known={a} unknown={b}", map[string]string{"a": "1"})
	assert.Equal(t, "known=1 unknown={b}", out)
}

func TestMissingSlots(t *testing.T) {
	missing := MissingSlots("{a} {b} {a} {c}", map[string]string{"b": "x"})
	assert.Equal(t, []string{"a", "c"}, missing)
}

func TestForStageLoadsAllTemplates(t *testing.T) {
	for stage := 1; stage <= 3; stage++ {
		for _, lang := range []string{"en", "zh"} {
			tmpl, err := ForStage(stage, lang)
			require.NoError(t, err, "stage %d lang %s", stage, lang)
			assert.NotEmpty(t, tmpl)
		}
	}
}

func TestForStageFallsBackToEnglish(t *testing.T) {
	en, err := ForStage(1, "en")
	require.NoError(t, err)
	fr, err := ForStage(1, "fr")
	require.NoError(t, err)
	assert.Equal(t, en, fr)
}

func TestForStageRejectsUnknownStage(t *testing.T) {
	_, err := ForStage(4, "en")
	assert.Error(t, err)
}
