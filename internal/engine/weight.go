package engine

import (
	"context"
	"fmt"

	"text2mem/internal/ir"
)

// archiveDelta approximates archival as a strongly demoted weight.
const archiveDelta = -0.8

// promote raises importance via absolute weight or delta; an optional remind
// block schedules auto-updates through auto_frequency and expire_at.
func (e *Engine) promote(ctx context.Context, instr *ir.IR) *Result {
	args, err := instr.PromoteArgs()
	if err != nil {
		return failResult(err)
	}
	extra := map[string]any{}
	if args.Remind != nil {
		if args.Remind.RRule != "" {
			extra["auto_frequency"] = args.Remind.RRule
		}
		if args.Remind.Until != "" {
			extra["expire_at"] = args.Remind.Until
		}
	}
	return e.applyWeightChange(ctx, instr, args.Weight, args.WeightDelta, extra)
}

// demote lowers importance; archive requests a fixed large negative delta.
func (e *Engine) demote(ctx context.Context, instr *ir.IR) *Result {
	args, err := instr.DemoteArgs()
	if err != nil {
		return failResult(err)
	}
	weight, delta := args.Weight, args.WeightDelta
	if args.Archive && weight == nil && delta == nil {
		d := archiveDelta
		delta = &d
	}
	return e.applyWeightChange(ctx, instr, weight, delta, nil)
}

func (e *Engine) applyWeightChange(ctx context.Context, instr *ir.IR, weight, delta *float64, extra map[string]any) *Result {
	if instr.DryRun() {
		return e.dryRunResult(ctx, instr)
	}

	rows, notes, err := e.resolveTarget(ctx, instr)
	if err != nil {
		return failResult(err)
	}

	affected := 0
	skippedLocked := 0
	for _, rec := range rows {
		if writeBlocked(rec, instr.Op, false) {
			skippedLocked++
			continue
		}
		next := rec.Weight
		if weight != nil {
			next = *weight
		} else if delta != nil {
			next += *delta
		}
		if next < 0 {
			next = 0
		} else if next > 1 {
			next = 1
		}

		fields := map[string]any{"weight": next}
		for k, v := range extra {
			fields[k] = v
		}
		if err := e.store.UpdateFields(rec.ID, fields); err != nil {
			return failResult(fmt.Errorf("%s row %d: %w", instr.Op, rec.ID, err))
		}
		affected++
	}

	res := okResult(map[string]any{"affected_rows": affected})
	if skippedLocked > 0 {
		res.note("locked_rows_skipped", skippedLocked)
	}
	notes.apply(res)
	return res
}
