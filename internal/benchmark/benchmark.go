// Package benchmark assembles the final benchmark release from evaluated
// samples: it keeps only samples that passed evaluation, drops malformed
// classifications, reassigns canonical sequential ids, and versions the
// output directory.
package benchmark

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"text2mem/internal/ir"
	"text2mem/internal/logging"
	"text2mem/internal/pipeline"
)

// Stats summarizes one build.
type Stats struct {
	Version     string         `json:"version"`
	CreatedAt   string         `json:"created_at"`
	SourceCount int            `json:"source_count"`
	Kept        int            `json:"kept"`
	DroppedFail int            `json:"dropped_failed"`
	DroppedBad  int            `json:"dropped_malformed"`
	ByOperation map[string]int `json:"by_operation"`
	ByLang      map[string]int `json:"by_lang"`
	ByScenario  map[string]int `json:"by_scenario"`
}

// Builder turns evaluated samples into a versioned benchmark directory.
type Builder struct {
	// Root is the data root; output lands under Root/benchmarks/{version}.
	Root string
}

// NewBuilder creates a builder writing under the given data root.
func NewBuilder(root string) *Builder {
	return &Builder{Root: root}
}

// LoadPassedIDs reads the evaluator's passed.txt from a run's tests dir.
func LoadPassedIDs(testsDir string) (map[string]bool, error) {
	f, err := os.Open(filepath.Join(testsDir, "passed.txt"))
	if err != nil {
		return nil, fmt.Errorf("load passed ids: %w", err)
	}
	defer f.Close()

	ids := map[string]bool{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if id := strings.TrimSpace(scanner.Text()); id != "" {
			ids[id] = true
		}
	}
	return ids, scanner.Err()
}

type groupKey struct {
	lang      string
	scenario  string
	structure string
	op        ir.Op
}

// Build filters, regroups and renumbers the samples, then writes
// benchmark.jsonl, metadata.json and stats.json under a fresh version
// directory and repoints the latest symlink.
func (b *Builder) Build(samples []*pipeline.Sample, passed map[string]bool, version string) (*Stats, error) {
	if version == "" {
		version = "v" + time.Now().UTC().Format("20060102_150405")
	}
	stats := &Stats{
		Version:     version,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
		SourceCount: len(samples),
		ByOperation: map[string]int{},
		ByLang:      map[string]int{},
		ByScenario:  map[string]int{},
	}

	groups := map[groupKey][]*pipeline.Sample{}
	for _, s := range samples {
		if passed != nil && !passed[s.ID] {
			stats.DroppedFail++
			continue
		}
		key, ok := classify(s)
		if !ok {
			stats.DroppedBad++
			logging.Benchmark("dropping malformed sample %s", s.ID)
			continue
		}
		groups[key] = append(groups[key], s)
	}

	// deterministic group order, then stable renumbering within each group
	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		x, y := keys[i], keys[j]
		if x.lang != y.lang {
			return x.lang < y.lang
		}
		if x.scenario != y.scenario {
			return x.scenario < y.scenario
		}
		if x.structure != y.structure {
			return x.structure < y.structure
		}
		return x.op < y.op
	})

	var final []*pipeline.Sample
	for _, key := range keys {
		group := groups[key]
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
		for i, s := range group {
			// renumber a copy so the caller's samples keep their run ids
			out := *s
			out.ID = pipeline.SampleID(key.lang, key.scenario, key.structure, key.op, i+1)
			final = append(final, &out)
			stats.Kept++
			stats.ByOperation[string(key.op)]++
			stats.ByLang[key.lang]++
			stats.ByScenario[key.scenario]++
		}
	}

	if err := b.write(version, final, stats); err != nil {
		return nil, err
	}
	logging.Benchmark("built %s: %d kept, %d failed, %d malformed",
		version, stats.Kept, stats.DroppedFail, stats.DroppedBad)
	return stats, nil
}

// classify validates a sample's grouping fields. Samples with an unknown
// token anywhere in the classification, or an operation outside the twelve,
// are excluded from releases.
func classify(s *pipeline.Sample) (groupKey, bool) {
	op, ok := s.PrimaryOp()
	if !ok {
		return groupKey{}, false
	}
	if _, ok := ir.StageFor(op); !ok {
		return groupKey{}, false
	}
	key := groupKey{
		lang:      s.Class.Lang,
		scenario:  s.Class.InstructionType,
		structure: s.Class.Structure,
		op:        op,
	}
	for _, field := range []string{key.lang, key.scenario, key.structure} {
		if field == "" || strings.Contains(strings.ToLower(field), "unknown") {
			return groupKey{}, false
		}
	}
	return key, true
}

func (b *Builder) write(version string, samples []*pipeline.Sample, stats *Stats) error {
	dir := filepath.Join(pipeline.BenchmarksDir(b.Root), version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create benchmark dir: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, "benchmark.jsonl"))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, s := range samples {
		if err := enc.Encode(s); err != nil {
			f.Close()
			return fmt.Errorf("write benchmark line: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return err
	}

	meta := map[string]any{
		"version":    version,
		"created_at": stats.CreatedAt,
		"samples":    stats.Kept,
		"format":     "jsonl",
	}
	if err := writeJSON(filepath.Join(dir, "metadata.json"), meta); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, "stats.json"), stats); err != nil {
		return err
	}
	return b.updateLatest(version)
}

// updateLatest repoints benchmarks/latest at the new version. The symlink is
// relative so the data root stays movable.
func (b *Builder) updateLatest(version string) error {
	link := filepath.Join(pipeline.BenchmarksDir(b.Root), "latest")
	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("replace latest link: %w", err)
	}
	if err := os.Symlink(version, link); err != nil {
		return fmt.Errorf("link latest: %w", err)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
