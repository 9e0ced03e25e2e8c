// Package prompt renders the stage-generation prompt templates. Templates
// are plain text with flat {slot} placeholders; substitution is a simple
// string replace with no inheritance.
package prompt

import (
	"embed"
	"fmt"
	"regexp"
	"strings"
)

//go:embed templates/*.txt
var templateFS embed.FS

var slotPattern = regexp.MustCompile(`\{([a-z_]+)\}`)

// Render substitutes {slot} placeholders. Unknown placeholders are left
// intact so missing slots are visible in debug artefacts.
func Render(template string, slots map[string]string) string {
	return slotPattern.ReplaceAllStringFunc(template, func(m string) string {
		key := m[1 : len(m)-1]
		if v, ok := slots[key]; ok {
			return v
		}
		return m
	})
}

// MissingSlots lists placeholders that Render would leave unsubstituted.
func MissingSlots(template string, slots map[string]string) []string {
	var missing []string
	seen := map[string]bool{}
	for _, m := range slotPattern.FindAllStringSubmatch(template, -1) {
		key := m[1]
		if seen[key] {
			continue
		}
		seen[key] = true
		if _, ok := slots[key]; !ok {
			missing = append(missing, key)
		}
	}
	return missing
}

// ForStage loads the template for a generation stage (1..3) and language
// ("en" or "zh"). Unknown languages fall back to English.
func ForStage(stage int, lang string) (string, error) {
	if stage < 1 || stage > 3 {
		return "", fmt.Errorf("prompt: no template for stage %d", stage)
	}
	if lang != "zh" {
		lang = "en"
	}
	data, err := templateFS.ReadFile(fmt.Sprintf("templates/stage%d_%s.txt", stage, lang))
	if err != nil {
		return "", fmt.Errorf("prompt: load stage %d (%s): %w", stage, lang, err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}
