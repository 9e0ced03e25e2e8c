package engine

import (
	"context"
	"fmt"
	"time"

	"text2mem/internal/clock"
	"text2mem/internal/ir"
	"text2mem/internal/store"
)

// deleteOp removes targeted rows, softly by default. The args may narrow the
// target further by a time range or an age bound.
func (e *Engine) deleteOp(ctx context.Context, instr *ir.IR) *Result {
	args, err := instr.DeleteArgs()
	if err != nil {
		return failResult(err)
	}
	if instr.DryRun() {
		return e.dryRunResult(ctx, instr)
	}

	rows, notes, err := e.resolveTarget(ctx, instr)
	if err != nil {
		return failResult(err)
	}

	rows, err = e.narrowByAge(rows, args)
	if err != nil {
		return failResult(err)
	}

	soft := true
	if args.Soft != nil {
		soft = *args.Soft
	}

	var ids []int64
	skippedLocked := 0
	for _, rec := range rows {
		if writeBlocked(rec, ir.OpDelete, false) {
			skippedLocked++
			continue
		}
		ids = append(ids, rec.ID)
	}

	var deleted int64
	if len(ids) > 0 {
		if soft {
			deleted, err = e.store.SoftDelete(ids)
		} else {
			deleted, err = e.store.HardDelete(ids)
		}
		if err != nil {
			return failResult(fmt.Errorf("delete: %w", err))
		}
	}

	res := okResult(map[string]any{"deleted_count": deleted, "soft": soft})
	if skippedLocked > 0 {
		res.note("locked_rows_skipped", skippedLocked)
	}
	notes.apply(res)
	return res
}

// narrowByAge applies the args-level time_range and older_than bounds on
// creation time.
func (e *Engine) narrowByAge(rows []*store.MemoryRecord, args *ir.DeleteArgs) ([]*store.MemoryRecord, error) {
	if args.TimeRange == nil && args.OlderThan == "" {
		return rows, nil
	}

	var lower, upper time.Time
	bounded := false

	if tr := args.TimeRange; tr != nil {
		if tr.IsAbsolute() {
			var err error
			lower, err = time.Parse(time.RFC3339, tr.Start)
			if err != nil {
				return nil, fmt.Errorf("delete time_range start: %w", err)
			}
			upper, err = time.Parse(time.RFC3339, tr.End)
			if err != nil {
				return nil, fmt.Errorf("delete time_range end: %w", err)
			}
		} else {
			d, err := relativeDuration(tr)
			if err != nil {
				return nil, err
			}
			now := e.now()
			switch tr.Relative {
			case "last":
				lower, upper = now.Add(-d), now
			case "next":
				lower, upper = now, now.Add(d)
			}
		}
		bounded = true
	}

	var cutoff time.Time
	if args.OlderThan != "" {
		d, err := clock.ParseISODuration(args.OlderThan)
		if err != nil {
			return nil, fmt.Errorf("delete older_than: %w", err)
		}
		cutoff = e.now().Add(-d)
	}

	var out []*store.MemoryRecord
	for _, rec := range rows {
		created, err := time.Parse(time.RFC3339, rec.CreatedAt)
		if err != nil {
			continue
		}
		if bounded && (created.Before(lower) || created.After(upper)) {
			continue
		}
		if !cutoff.IsZero() && !created.Before(cutoff) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}
