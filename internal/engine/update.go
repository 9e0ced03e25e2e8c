package engine

import (
	"context"
	"fmt"

	"text2mem/internal/ir"
)

// update writes whitelisted scalar fields on targeted rows. The validator
// has already refused embedding writes; the engine re-checks as a last line
// before touching storage.
func (e *Engine) update(ctx context.Context, instr *ir.IR) *Result {
	args, err := instr.UpdateArgs()
	if err != nil {
		return failResult(err)
	}
	for key := range args.Set {
		if !ir.UpdatableFields[key] {
			return failResult(fmt.Errorf("update: field %q is not writable", key))
		}
	}
	if instr.DryRun() {
		return e.dryRunResult(ctx, instr)
	}

	rows, notes, err := e.resolveTarget(ctx, instr)
	if err != nil {
		return failResult(err)
	}

	fields := make(map[string]any, len(args.Set))
	for k, v := range args.Set {
		if k == "tags" {
			if tags, ok := anySliceToStrings(v); ok {
				v = dedupeTags(tags)
			}
		}
		fields[k] = v
	}

	affected := 0
	skippedLocked := 0
	for _, rec := range rows {
		if writeBlocked(rec, ir.OpUpdate, false) {
			skippedLocked++
			continue
		}
		if err := e.store.UpdateFields(rec.ID, fields); err != nil {
			return failResult(fmt.Errorf("update row %d: %w", rec.ID, err))
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

// anySliceToStrings converts a decoded JSON array to []string when every
// element is a string.
func anySliceToStrings(v any) ([]string, bool) {
	switch vv := v.(type) {
	case []string:
		return vv, true
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}
