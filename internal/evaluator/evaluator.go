// Package evaluator replays benchmark samples against a sandboxed engine
// and scores the outcome: assertions over the resulting store, ranking
// quality for retrieval samples, and time-triggered behavior under a
// virtual clock.
package evaluator

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"text2mem/internal/assertion"
	"text2mem/internal/clock"
	"text2mem/internal/config"
	"text2mem/internal/engine"
	"text2mem/internal/ir"
	"text2mem/internal/logging"
	"text2mem/internal/pipeline"
	"text2mem/internal/provider"
	"text2mem/internal/store"
)

// OpResult records one executed instruction.
type OpResult struct {
	Op      string `json:"op"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// TriggerOutcome is one evaluated time trigger.
type TriggerOutcome struct {
	Advance    string              `json:"advance"`
	Reaped     int                 `json:"reaped"`
	Passed     bool                `json:"passed"`
	Assertions []assertion.Outcome `json:"assertions"`
}

// SampleResult is the scored outcome of one sample.
type SampleResult struct {
	ID         string                  `json:"id"`
	Operation  string                  `json:"operation"`
	Class      pipeline.Classification `json:"class"`
	Passed     bool                    `json:"passed"`
	DurationMS int64                   `json:"duration_ms"`
	Ops        []OpResult              `json:"ops,omitempty"`
	Assertions []assertion.Outcome     `json:"assertions,omitempty"`
	Ranking    *RankingOutcome         `json:"ranking,omitempty"`
	Triggers   []TriggerOutcome        `json:"triggers,omitempty"`
	Warnings   []string                `json:"warnings,omitempty"`
	Errors     []string                `json:"errors,omitempty"`
	Error      string                  `json:"error,omitempty"`
}

// Runner evaluates samples. Providers are injected once and shared; each
// sample gets its own sandboxed store and virtual clock.
type Runner struct {
	cfg       *config.Config
	embedder  provider.EmbeddingProvider
	generator provider.GenerationProvider

	// Filter limits which samples run; nil runs everything.
	Filter func(*pipeline.Sample) bool
}

// NewRunner builds a runner on the configured providers.
func NewRunner(cfg *config.Config, embedder provider.EmbeddingProvider, generator provider.GenerationProvider) *Runner {
	return &Runner{cfg: cfg, embedder: embedder, generator: generator}
}

// RunSamples evaluates every sample the filter admits and writes the report
// files under the run's tests directory.
func (r *Runner) RunSamples(ctx context.Context, samples []*pipeline.Sample, outDir string) (*Summary, error) {
	var results []*SampleResult
	for _, s := range samples {
		if r.Filter != nil && !r.Filter(s) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := r.runSample(ctx, s)
		logging.Eval("sample %s: passed=%v (%dms)", res.ID, res.Passed, res.DurationMS)
		results = append(results, res)
	}

	summary := summarize(results)
	if outDir != "" {
		if err := writeReport(outDir, summary, results); err != nil {
			return nil, err
		}
	}
	return summary, nil
}

// runSample applies the per-sample time budget. The worker is not
// interrupted on timeout; the sample is scored as failed and the worker's
// eventual result discarded.
func (r *Runner) runSample(ctx context.Context, s *pipeline.Sample) *SampleResult {
	budget := time.Duration(r.cfg.Evaluator.Timeout) * time.Second
	if budget <= 0 {
		return r.evaluateSample(ctx, s)
	}

	done := make(chan *SampleResult, 1)
	go func() {
		done <- r.evaluateSample(ctx, s)
	}()
	select {
	case res := <-done:
		return res
	case <-time.After(budget):
		return &SampleResult{
			ID:        s.ID,
			Operation: primaryOpName(s),
			Class:     s.Class,
			Error:     fmt.Sprintf("timed out after %s", budget),
		}
	}
}

func primaryOpName(s *pipeline.Sample) string {
	if op, ok := s.PrimaryOp(); ok {
		return string(op)
	}
	return ""
}

func (r *Runner) evaluateSample(ctx context.Context, s *pipeline.Sample) *SampleResult {
	start := time.Now()
	res := &SampleResult{ID: s.ID, Operation: primaryOpName(s), Class: s.Class}
	defer func() { res.DurationMS = time.Since(start).Milliseconds() }()

	sandbox, err := os.MkdirTemp("", "t2m-eval-*")
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer os.RemoveAll(sandbox)

	dbPath := filepath.Join(sandbox, "memory.db")
	script, err := r.stageSnapshot(s, dbPath)
	if err != nil {
		res.Error = err.Error()
		return res
	}

	st, err := store.Open(dbPath)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer st.Close()

	vc := clock.NewAtWallClock()
	if s.Expected != nil && s.Expected.Meta != nil && s.Expected.Meta.EvalTimeUTC != "" {
		at, err := time.Parse(time.RFC3339, s.Expected.Meta.EvalTimeUTC)
		if err != nil {
			res.Error = fmt.Sprintf("bad eval_time_utc: %v", err)
			return res
		}
		vc = clock.New(at)
	}
	st.SetNowFunc(vc.NowFunc())

	if script != "" {
		if err := st.ExecScript(script); err != nil {
			res.Error = fmt.Sprintf("init_db: %v", err)
			return res
		}
	}

	eng := engine.New(st, engine.Options{
		Embedder:  r.embedder,
		Generator: r.generator,
		Search:    &r.cfg.Search,
	})

	// prerequisites seed state; a failure fails the sample but the program
	// still runs so every defect is reported at once
	prereqOK := true
	for i, instr := range s.Prerequisites {
		if out := eng.Execute(ctx, instr); !out.Success {
			prereqOK = false
			res.Errors = append(res.Errors, fmt.Sprintf("prerequisite %d (%s): %s", i, instr.Op, out.Error))
		}
	}

	opsOK := true
	var lastRetrieve *engine.Result
	for _, instr := range s.SchemaList {
		out := eng.Execute(ctx, instr)
		res.Ops = append(res.Ops, OpResult{Op: string(instr.Op), Success: out.Success, Error: out.Error})
		if !out.Success {
			opsOK = false
		}
		if instr.Op == ir.OpRetrieve && out.Success {
			// only filter/id results are reusable for ranking; a
			// search-target Retrieve answered its own query, so the
			// ranking query must be executed on its own
			if instr.Target != nil && instr.Target.Search != nil {
				lastRetrieve = nil
			} else {
				lastRetrieve = out
			}
		}
	}

	assertionsOK := true
	if s.Expected != nil {
		for _, spec := range s.Expected.Assertions {
			out := r.evalAssertion(ctx, st, vc, spec)
			res.Assertions = append(res.Assertions, out)
			if !out.Passed {
				assertionsOK = false
			}
		}
	}

	rankingOK := true
	if s.Expected != nil && s.Expected.Ranking != nil {
		res.Ranking = r.evaluateRanking(ctx, eng, s.Expected.Ranking, lastRetrieve)
		rankingOK = res.Ranking.Passed
		if res.Ranking.Warning != "" {
			res.Warnings = append(res.Warnings, res.Ranking.Warning)
		}
	}

	triggersOK := true
	if s.Expected != nil {
		for _, trig := range s.Expected.Triggers {
			out, err := r.evaluateTrigger(ctx, eng, st, vc, trig)
			if err != nil {
				res.Error = err.Error()
				return res
			}
			res.Triggers = append(res.Triggers, out)
			if !out.Passed {
				triggersOK = false
			}
		}
	}

	res.Passed = prereqOK && opsOK && assertionsOK && rankingOK && triggersOK
	return res
}

// evalAssertion binds the virtual :now before evaluation so time-relative
// clauses see the sample's clock, not the wall clock.
func (r *Runner) evalAssertion(ctx context.Context, st *store.MemoryStore, vc *clock.VirtualClock, spec *assertion.Spec) assertion.Outcome {
	bound := *spec
	if bound.Params == nil {
		bound.Params = map[string]any{}
	}
	if _, ok := bound.Params["now"]; !ok {
		bound.Params["now"] = vc.Now().UTC().Format(time.RFC3339)
	}
	return assertion.Evaluate(ctx, st.DB(), &bound)
}

func (r *Runner) evaluateTrigger(ctx context.Context, eng *engine.Engine, st *store.MemoryStore, vc *clock.VirtualClock, trig pipeline.TriggerSpec) (TriggerOutcome, error) {
	out := TriggerOutcome{Advance: trig.Advance, Passed: true}
	if trig.Advance != "" {
		if _, err := vc.AdvanceISO(trig.Advance); err != nil {
			return out, fmt.Errorf("trigger advance %q: %w", trig.Advance, err)
		}
	}
	reaped, err := eng.ReapExpired(ctx)
	if err != nil {
		return out, fmt.Errorf("trigger reap: %w", err)
	}
	out.Reaped = reaped

	for _, spec := range trig.Assertions {
		a := r.evalAssertion(ctx, st, vc, spec)
		out.Assertions = append(out.Assertions, a)
		if !a.Passed {
			out.Passed = false
		}
	}
	return out, nil
}

// stageSnapshot prepares the sandbox database. A {id}.sql snapshot wins over
// a {id}.db file copy; with neither, the sample's inline init script (if
// any) is returned for execution after schema creation.
func (r *Runner) stageSnapshot(s *pipeline.Sample, dbPath string) (script string, err error) {
	dir := r.cfg.Evaluator.SnapshotDir
	if dir != "" {
		sqlPath := filepath.Join(dir, s.ID+".sql")
		if data, err := os.ReadFile(sqlPath); err == nil {
			return string(data), nil
		}
		binPath := filepath.Join(dir, s.ID+".db")
		if _, err := os.Stat(binPath); err == nil {
			return "", copyFile(binPath, dbPath)
		}
	}
	return s.InitDB, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
