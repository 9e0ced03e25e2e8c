package evaluator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// GroupStat is a pass/fail tally for one grouping key.
type GroupStat struct {
	Total  int `json:"total"`
	Passed int `json:"passed"`
}

// Summary aggregates one evaluation run.
type Summary struct {
	GeneratedAt string               `json:"generated_at"`
	Total       int                  `json:"total"`
	Passed      int                  `json:"passed"`
	Failed      int                  `json:"failed"`
	PassRate    float64              `json:"pass_rate"`
	ByOperation map[string]GroupStat `json:"by_operation"`
	ByLang      map[string]GroupStat `json:"by_lang"`
	ByScenario  map[string]GroupStat `json:"by_scenario"`
	DurationMS  int64                `json:"duration_ms"`
}

func summarize(results []*SampleResult) *Summary {
	s := &Summary{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		ByOperation: map[string]GroupStat{},
		ByLang:      map[string]GroupStat{},
		ByScenario:  map[string]GroupStat{},
	}
	bump := func(m map[string]GroupStat, key string, passed bool) {
		if key == "" {
			return
		}
		g := m[key]
		g.Total++
		if passed {
			g.Passed++
		}
		m[key] = g
	}
	for _, r := range results {
		s.Total++
		if r.Passed {
			s.Passed++
		} else {
			s.Failed++
		}
		s.DurationMS += r.DurationMS
		bump(s.ByOperation, r.Operation, r.Passed)
		bump(s.ByLang, r.Class.Lang, r.Passed)
		bump(s.ByScenario, r.Class.InstructionType, r.Passed)
	}
	if s.Total > 0 {
		s.PassRate = float64(s.Passed) / float64(s.Total)
	}
	return s
}

// writeReport persists the run artifacts: the summary, pass/fail id lists,
// per-sample details as JSONL, and per-group stats.
func writeReport(dir string, summary *Summary, results []*SampleResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}

	if err := writeJSONFile(filepath.Join(dir, "summary.json"), summary); err != nil {
		return err
	}

	var passed, failed []string
	for _, r := range results {
		if r.Passed {
			passed = append(passed, r.ID)
		} else {
			failed = append(failed, r.ID)
		}
	}
	sort.Strings(passed)
	sort.Strings(failed)
	if err := writeIDList(filepath.Join(dir, "passed.txt"), passed); err != nil {
		return err
	}
	if err := writeIDList(filepath.Join(dir, "failed.txt"), failed); err != nil {
		return err
	}

	details, err := os.Create(filepath.Join(dir, "details.jsonl"))
	if err != nil {
		return err
	}
	defer details.Close()
	enc := json.NewEncoder(details)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("write details: %w", err)
		}
	}

	stats := map[string]any{
		"by_operation": summary.ByOperation,
		"by_lang":      summary.ByLang,
		"by_scenario":  summary.ByScenario,
	}
	return writeJSONFile(filepath.Join(dir, "stats.json"), stats)
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func writeIDList(path string, ids []string) error {
	content := strings.Join(ids, "\n")
	if content != "" {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}
