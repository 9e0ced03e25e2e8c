package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"text2mem/internal/config"
	"text2mem/internal/ir"
	"text2mem/internal/logging"
	"text2mem/internal/prompt"
	"text2mem/internal/provider"
)

// StageGenerator is the shared shape of the three generation stages: prompt
// assembly, a retried LLM call, the JSON repair cascade, shape validation,
// and canonical id assignment.
type StageGenerator struct {
	stage      int
	gen        provider.GenerationProvider
	cfg        *config.Config
	debugDir   string
	retryMax   int
	retryDelay time.Duration

	// minimum context length a stage-1 item must carry
	minContext int

	// per-instance id counters, keyed by the id prefix; locked because
	// async mode runs batches of one stage concurrently
	countersMu sync.Mutex
	counters   map[string]int
}

// SetMinContextChars overrides the stage-1 context length floor from the
// plan.
func (g *StageGenerator) SetMinContextChars(n int) {
	if n > 0 {
		g.minContext = n
	}
}

// NewStageGenerator builds a generator for one stage (1..3).
func NewStageGenerator(stage int, gen provider.GenerationProvider, cfg *config.Config, debugDir string) *StageGenerator {
	retryDelay := time.Duration(cfg.Pipeline.RetryDelay * float64(time.Second))
	if retryDelay <= 0 {
		retryDelay = 2 * time.Second
	}
	retryMax := cfg.Pipeline.RetryMax
	if retryMax <= 0 {
		retryMax = 3
	}
	return &StageGenerator{
		stage:      stage,
		gen:        gen,
		cfg:        cfg,
		debugDir:   debugDir,
		retryMax:   retryMax,
		retryDelay: retryDelay,
		minContext: 20,
		counters:   map[string]int{},
	}
}

// callModel runs one generation call with per-call timeout and exponential
// backoff retries. The last raw response is returned alongside the error so
// callers can persist it for offline inspection.
func (g *StageGenerator) callModel(ctx context.Context, promptText string) (string, error) {
	opts := provider.GenerateOptions{
		Temperature: g.cfg.Generation.Temperature,
		MaxTokens:   g.cfg.Generation.MaxTokens,
		TopP:        g.cfg.Generation.TopP,
		Timeout:     time.Duration(g.cfg.Generation.RequestTimeout) * time.Second,
	}

	var lastErr error
	delay := g.retryDelay
	for attempt := 0; attempt < g.retryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		out, err := g.gen.GenerateStructured(ctx, promptText, "", opts)
		if err == nil {
			return out.Text, nil
		}
		lastErr = err
		logging.PipelineDebug("stage %d attempt %d failed: %v", g.stage, attempt+1, err)
	}
	return "", fmt.Errorf("stage %d: model call failed after %d attempts: %w", g.stage, g.retryMax, lastErr)
}

// writeDebug persists unparseable model output for offline inspection.
func (g *StageGenerator) writeDebug(batchID int, raw string) {
	if g.debugDir == "" || raw == "" {
		return
	}
	if err := os.MkdirAll(g.debugDir, 0o755); err != nil {
		return
	}
	name := fmt.Sprintf("stage%d_batch%d_%d.txt", g.stage, batchID, time.Now().UnixNano())
	_ = os.WriteFile(filepath.Join(g.debugDir, name), []byte(raw), 0o644)
}

// nextID assigns the canonical sample id, with a counter scoped to this
// generator instance per classification prefix.
func (g *StageGenerator) nextID(lang, instructionType, structure string, op ir.Op) string {
	prefix := fmt.Sprintf("%s-%s-%s-%s", lang, instructionType, structure, op.Abbrev())
	g.countersMu.Lock()
	defer g.countersMu.Unlock()
	g.counters[prefix]++
	return SampleID(lang, instructionType, structure, op, g.counters[prefix])
}

// normaliseClassification fixes the key misspellings models produce and
// fills defaults from the batch.
func normaliseClassification(raw map[string]any, batch TaskBatch, lang, structure string) Classification {
	cls := Classification{Lang: lang, InstructionType: batch.Scenario, Structure: structure}
	if raw == nil {
		return cls
	}
	get := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := raw[k].(string); ok && v != "" {
				return v
			}
		}
		return ""
	}
	if v := get("lang", "language"); v != "" {
		cls.Lang = v
	}
	if v := get("instruction_type", "instruction", "instruction_style"); v != "" {
		cls.InstructionType = v
	}
	if v := get("structure", "structure_type"); v != "" {
		cls.Structure = v
	}
	return cls
}

// GenerateStage1 produces scenario items for one batch in one language.
func (g *StageGenerator) GenerateStage1(ctx context.Context, batch TaskBatch, lang string) ([]Stage1Item, error) {
	tmpl, err := prompt.ForStage(1, lang)
	if err != nil {
		return nil, err
	}
	promptText := prompt.Render(tmpl, map[string]string{
		"count":            fmt.Sprintf("%d", batch.Count),
		"operation":        batch.Operation,
		"instruction_type": batch.Scenario,
		"structure":        dominantStructure(batch.Structures),
		"lang":             lang,
	})

	raw, err := g.callModel(ctx, promptText)
	if err != nil {
		return nil, err
	}

	items, err := g.parseStage1(raw, batch, lang)
	if err != nil {
		g.writeDebug(batch.BatchID, raw)
		return nil, err
	}
	return items, nil
}

func (g *StageGenerator) parseStage1(raw string, batch TaskBatch, lang string) ([]Stage1Item, error) {
	var decoded []map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		// models sometimes wrap the array in an object
		obj, objErr := ParseObject(raw)
		if objErr != nil {
			return nil, fmt.Errorf("stage 1 batch %d: %w", batch.BatchID, err)
		}
		for _, key := range []string{"items", "scenarios", "samples"} {
			if arr, ok := obj[key].([]any); ok {
				for _, el := range arr {
					if m, isMap := el.(map[string]any); isMap {
						decoded = append(decoded, m)
					}
				}
				break
			}
		}
		if decoded == nil {
			return nil, fmt.Errorf("stage 1 batch %d: no item array in response", batch.BatchID)
		}
	}

	op := ir.Op(batch.Operation)
	var items []Stage1Item
	for i, m := range decoded {
		structure := "single"
		if i < len(batch.Structures) {
			structure = batch.Structures[i]
		}

		text, _ := m["nl"].(string)
		if text == "" {
			text, _ = m["instruction"].(string)
		}
		contextText, _ := m["context"].(string)
		if strings.TrimSpace(text) == "" {
			continue
		}
		if len(contextText) > 0 && len(contextText) < g.minContext {
			continue
		}
		if opName, ok := m["operation"].(string); ok && opName != "" && opName != batch.Operation {
			continue
		}

		clsRaw, _ := m["classification"].(map[string]any)
		cls := normaliseClassification(clsRaw, batch, lang, structure)
		scenarioInfo, _ := m["scenario_info"].(map[string]any)

		items = append(items, Stage1Item{
			SampleID:       g.nextID(cls.Lang, cls.InstructionType, cls.Structure, op),
			Instruction:    text,
			Context:        contextText,
			Classification: cls,
			ScenarioInfo:   scenarioInfo,
			Operation:      batch.Operation,
		})
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("stage 1 batch %d: no usable items", batch.BatchID)
	}
	return items, nil
}

func dominantStructure(structures []string) string {
	if len(structures) == 0 {
		return "single"
	}
	counts := map[string]int{}
	best, bestN := structures[0], 0
	for _, s := range structures {
		counts[s]++
		if counts[s] > bestN {
			best, bestN = s, counts[s]
		}
	}
	return best
}

// GenerateStage2 translates one scenario into its IR program.
func (g *StageGenerator) GenerateStage2(ctx context.Context, item Stage1Item) (*Stage2Item, error) {
	tmpl, err := prompt.ForStage(2, item.Classification.Lang)
	if err != nil {
		return nil, err
	}
	ops := make([]string, len(ir.AllOps))
	for i, op := range ir.AllOps {
		ops[i] = string(op)
	}
	promptText := prompt.Render(tmpl, map[string]string{
		"nl":               item.Instruction,
		"lang":             item.Classification.Lang,
		"instruction_type": item.Classification.InstructionType,
		"structure":        item.Classification.Structure,
		"operations":       strings.Join(ops, ", "),
	})

	raw, err := g.callModel(ctx, promptText)
	if err != nil {
		return nil, err
	}

	var program struct {
		Prerequisites []*ir.IR `json:"prerequisites"`
		SchemaList    []*ir.IR `json:"schema_list"`
	}
	if err := DecodeInto(raw, &program); err != nil {
		g.writeDebug(0, raw)
		return nil, fmt.Errorf("stage 2 item %s: %w", item.SampleID, err)
	}
	if len(program.SchemaList) == 0 {
		g.writeDebug(0, raw)
		return nil, fmt.Errorf("stage 2 item %s: empty schema_list", item.SampleID)
	}
	for i, instr := range program.SchemaList {
		if err := ir.Validate(instr); err != nil {
			return nil, fmt.Errorf("stage 2 item %s: schema_list[%d]: %w", item.SampleID, i, err)
		}
	}
	for i, instr := range program.Prerequisites {
		if err := ir.Validate(instr); err != nil {
			return nil, fmt.Errorf("stage 2 item %s: prerequisites[%d]: %w", item.SampleID, i, err)
		}
	}

	return &Stage2Item{
		Stage1Item:    item,
		Prerequisites: program.Prerequisites,
		SchemaList:    program.SchemaList,
	}, nil
}

// GenerateStage3 writes the expected-outcome block for one sample.
func (g *StageGenerator) GenerateStage3(ctx context.Context, item *Stage2Item) (*Sample, error) {
	tmpl, err := prompt.ForStage(3, item.Classification.Lang)
	if err != nil {
		return nil, err
	}
	schemaJSON, err := json.Marshal(item.SchemaList)
	if err != nil {
		return nil, err
	}
	promptText := prompt.Render(tmpl, map[string]string{
		"nl":          item.Instruction,
		"lang":        item.Classification.Lang,
		"operation":   item.Operation,
		"schema_list": string(schemaJSON),
	})

	raw, err := g.callModel(ctx, promptText)
	if err != nil {
		return nil, err
	}

	var expected Expected
	if err := DecodeInto(raw, &expected); err != nil {
		g.writeDebug(0, raw)
		return nil, fmt.Errorf("stage 3 item %s: %w", item.SampleID, err)
	}
	if len(expected.Assertions) == 0 {
		g.writeDebug(0, raw)
		return nil, fmt.Errorf("stage 3 item %s: no assertions", item.SampleID)
	}

	return &Sample{
		ID:            item.SampleID,
		Class:         item.Classification,
		NL:            item.Instruction,
		Prerequisites: item.Prerequisites,
		SchemaList:    item.SchemaList,
		Expected:      &expected,
		Notes:         item.Context,
	}, nil
}
