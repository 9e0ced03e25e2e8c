package pipeline

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"

	"text2mem/internal/ir"
)

// proportionTolerance allows hand-written plans to be off by a rounding hair.
const proportionTolerance = 0.01

// Plan describes one generation run: how many samples, split across which
// scenarios, operations, structures and languages.
type Plan struct {
	Name            string             `yaml:"name"`
	TotalSamples    int                `yaml:"total_samples"`
	BatchSize       int                `yaml:"batch_size"`
	Languages       []string           `yaml:"languages"`
	Scenarios       map[string]float64 `yaml:"scenarios"`
	Operations      map[string]float64 `yaml:"operations"`
	Structures      map[string]float64 `yaml:"structures"`
	MinContextChars int                `yaml:"min_context_chars"`
}

// LoadPlan reads and validates a YAML plan file.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("plan %s: %w", path, err)
	}
	return &p, nil
}

// Validate fills defaults and checks proportion sums and operation names.
func (p *Plan) Validate() error {
	if p.TotalSamples <= 0 {
		return fmt.Errorf("total_samples must be positive")
	}
	if p.BatchSize <= 0 {
		p.BatchSize = 5
	}
	if len(p.Languages) == 0 {
		p.Languages = []string{"en"}
	}
	if len(p.Scenarios) == 0 {
		p.Scenarios = map[string]float64{"direct": 0.5, "indirect": 0.3, "implicit": 0.2}
	}
	if len(p.Operations) == 0 {
		return fmt.Errorf("operations map is required")
	}
	if len(p.Structures) == 0 {
		p.Structures = map[string]float64{"single": 0.85, "workflow": 0.15}
	}
	if p.MinContextChars <= 0 {
		p.MinContextChars = 20
	}

	for name := range p.Operations {
		if _, ok := ir.StageFor(ir.Op(name)); !ok {
			return fmt.Errorf("unknown operation %q", name)
		}
	}
	if err := checkSum("scenarios", p.Scenarios); err != nil {
		return err
	}
	if err := checkSum("operations", p.Operations); err != nil {
		return err
	}
	if err := checkSum("structures", p.Structures); err != nil {
		return err
	}
	return nil
}

func checkSum(name string, m map[string]float64) error {
	sum := 0.0
	for k, v := range m {
		if v < 0 {
			return fmt.Errorf("%s[%s] is negative", name, k)
		}
		sum += v
	}
	if math.Abs(sum-1.0) > proportionTolerance {
		return fmt.Errorf("%s proportions sum to %.3f, want 1.0", name, sum)
	}
	return nil
}
