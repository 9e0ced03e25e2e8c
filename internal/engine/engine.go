// Package engine executes validated memory-operation instructions against a
// MemoryStore. Dispatch is a single switch on the operation; every operation
// returns a Result envelope and never panics across an instruction boundary.
package engine

import (
	"context"
	"fmt"
	"time"

	"text2mem/internal/config"
	"text2mem/internal/ir"
	"text2mem/internal/logging"
	"text2mem/internal/provider"
	"text2mem/internal/store"
)

// Result is the outcome of one instruction.
type Result struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func okResult(data map[string]any) *Result {
	return &Result{Success: true, Data: data}
}

func failResult(err error) *Result {
	return &Result{Success: false, Error: err.Error()}
}

// note attaches a metadata note to the result, creating Meta on demand.
func (r *Result) note(key string, value any) {
	if r.Meta == nil {
		r.Meta = map[string]any{}
	}
	r.Meta[key] = value
}

// Engine binds a store to its model providers. Providers are injected so the
// evaluator can swap in mocks per run.
type Engine struct {
	store     *store.MemoryStore
	embedder  provider.EmbeddingProvider
	generator provider.GenerationProvider
	search    config.SearchConfig
}

// Options configures an Engine beyond its store.
type Options struct {
	Embedder  provider.EmbeddingProvider
	Generator provider.GenerationProvider
	Search    *config.SearchConfig
}

// New creates an engine. Nil providers fall back to the mock implementations
// so the engine always has a working model contract.
func New(st *store.MemoryStore, opts Options) *Engine {
	e := &Engine{
		store:     st,
		embedder:  opts.Embedder,
		generator: opts.Generator,
	}
	if e.embedder == nil {
		e.embedder = provider.NewMockEmbedding()
	}
	if e.generator == nil {
		e.generator = provider.NewMockGeneration()
	}
	if opts.Search != nil {
		e.search = *opts.Search
	} else {
		e.search = config.DefaultConfig().Search
	}
	return e
}

// Store exposes the underlying store, mainly for the evaluation harness.
func (e *Engine) Store() *store.MemoryStore {
	return e.store
}

// now reads the store's clock so virtual time flows through every operation.
func (e *Engine) now() time.Time {
	return e.store.Now()
}

// Execute validates and runs one instruction. Validation failures are
// rejected before any side effect.
func (e *Engine) Execute(ctx context.Context, instr *ir.IR) *Result {
	if err := ir.Validate(instr); err != nil {
		return failResult(fmt.Errorf("validation: %w", err))
	}

	timer := logging.StartTimer(logging.CategoryEngine, string(instr.Op))
	defer timer.Stop()

	var res *Result
	switch instr.Op {
	case ir.OpEncode:
		res = e.encode(ctx, instr)
	case ir.OpRetrieve:
		res = e.retrieve(ctx, instr)
	case ir.OpSummarize:
		res = e.summarize(ctx, instr)
	case ir.OpLabel:
		res = e.label(ctx, instr)
	case ir.OpUpdate:
		res = e.update(ctx, instr)
	case ir.OpPromote:
		res = e.promote(ctx, instr)
	case ir.OpDemote:
		res = e.demote(ctx, instr)
	case ir.OpDelete:
		res = e.deleteOp(ctx, instr)
	case ir.OpMerge:
		res = e.merge(ctx, instr)
	case ir.OpSplit:
		res = e.split(ctx, instr)
	case ir.OpLock:
		res = e.lock(ctx, instr)
	case ir.OpExpire:
		res = e.expire(ctx, instr)
	default:
		res = failResult(fmt.Errorf("unsupported operation %s", instr.Op))
	}

	if !res.Success {
		logging.Engine("%s failed: %s", instr.Op, res.Error)
	}
	return res
}

// dryRunResult resolves the target and reports what would be affected,
// without side effects.
func (e *Engine) dryRunResult(ctx context.Context, instr *ir.IR) *Result {
	rows, notes, err := e.resolveTarget(ctx, instr)
	if err != nil {
		return failResult(err)
	}
	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	res := okResult(map[string]any{"dry_run": true, "matched": len(rows), "ids": ids})
	notes.apply(res)
	return res
}
