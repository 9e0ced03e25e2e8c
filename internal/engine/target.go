package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"text2mem/internal/clock"
	"text2mem/internal/ir"
	"text2mem/internal/store"
)

// targetNotes carries observations made while resolving a target. They are
// surfaced in result metadata, never as errors.
type targetNotes struct {
	skippedVectors    int
	vectorDimMismatch bool
	similarities      map[int64]float64
}

func (n *targetNotes) apply(res *Result) {
	if n == nil {
		return
	}
	if n.skippedVectors > 0 {
		res.note("skipped_incompatible_vectors", n.skippedVectors)
	}
	if n.vectorDimMismatch {
		res.note("note", "query_vector_dimension_mismatch")
	}
}

// resolveTarget turns a target spec into concrete rows. Soft-deleted rows are
// never part of any target. When a search intent is present the returned rows
// are in descending similarity order; otherwise id order.
func (e *Engine) resolveTarget(ctx context.Context, instr *ir.IR) ([]*store.MemoryRecord, *targetNotes, error) {
	t := instr.Target
	notes := &targetNotes{}

	cond, args, err := e.filterCondition(t)
	if err != nil {
		return nil, notes, err
	}

	rows, err := e.store.SelectWhere(cond, args...)
	if err != nil {
		return nil, notes, fmt.Errorf("resolve target: %w", err)
	}

	if t.Search != nil {
		ranked, err := e.rankBySearch(ctx, t.Search, rows, notes)
		if err != nil {
			return nil, notes, err
		}
		rows = ranked
	}

	if f := t.Filter; f != nil && f.Limit != nil && len(rows) > *f.Limit {
		rows = rows[:*f.Limit]
	}
	return rows, notes, nil
}

// filterCondition builds the SQL condition for ids, filter and all targets.
// Search candidates are narrowed by the same condition before ranking.
func (e *Engine) filterCondition(t *ir.TargetSpec) (string, []any, error) {
	conds := []string{"deleted = 0"}
	var args []any

	if len(t.IDs) > 0 {
		ph := make([]string, len(t.IDs))
		for i, id := range t.IDs {
			ph[i] = "?"
			args = append(args, id)
		}
		conds = append(conds, fmt.Sprintf("id IN (%s)", strings.Join(ph, ", ")))
	}

	if f := t.Filter; f != nil {
		if f.Type != "" {
			conds = append(conds, "type = ?")
			args = append(args, f.Type)
		}
		if f.Subject != "" {
			conds = append(conds, "subject = ?")
			args = append(args, f.Subject)
		}
		if f.Location != "" {
			conds = append(conds, "location = ?")
			args = append(args, f.Location)
		}
		if f.Topic != "" {
			conds = append(conds, "topic = ?")
			args = append(args, f.Topic)
		}
		for _, tag := range f.HasTags {
			conds = append(conds, "tags LIKE ?")
			args = append(args, tagPattern(tag))
		}
		for _, tag := range f.NotTags {
			conds = append(conds, "(tags IS NULL OR tags NOT LIKE ?)")
			args = append(args, tagPattern(tag))
		}
		if f.WeightGTE != nil {
			conds = append(conds, "weight >= ?")
			args = append(args, *f.WeightGTE)
		}
		if f.WeightLTE != nil {
			conds = append(conds, "weight <= ?")
			args = append(args, *f.WeightLTE)
		}
		if f.ExpireBefore != "" {
			conds = append(conds, "expire_at IS NOT NULL AND expire_at < ?")
			args = append(args, f.ExpireBefore)
		}
		if f.ExpireAfter != "" {
			conds = append(conds, "expire_at IS NOT NULL AND expire_at > ?")
			args = append(args, f.ExpireAfter)
		}
		if f.TimeRange != nil {
			trCond, trArgs, err := e.timeRangeCondition(f.TimeRange)
			if err != nil {
				return "", nil, err
			}
			conds = append(conds, trCond)
			args = append(args, trArgs...)
		}
	}

	return strings.Join(conds, " AND "), args, nil
}

// tagPattern matches one element of the JSON-encoded tags array.
func tagPattern(tag string) string {
	return `%"` + tag + `"%`
}

// timeRangeCondition maps a time range onto created_at (absolute and
// "last" windows) or expire_at ("next" windows).
func (e *Engine) timeRangeCondition(tr *ir.TimeRange) (string, []any, error) {
	if tr.IsAbsolute() {
		return "created_at >= ? AND created_at <= ?", []any{tr.Start, tr.End}, nil
	}

	d, err := relativeDuration(tr)
	if err != nil {
		return "", nil, err
	}
	now := e.now()
	switch tr.Relative {
	case "last":
		return "created_at >= ?", []any{now.Add(-d).UTC().Format(time.RFC3339)}, nil
	case "next":
		cutoff := now.Add(d).UTC().Format(time.RFC3339)
		return "expire_at IS NOT NULL AND expire_at <= ?", []any{cutoff}, nil
	}
	return "", nil, fmt.Errorf("time_range: unknown relative %q", tr.Relative)
}

func relativeDuration(tr *ir.TimeRange) (time.Duration, error) {
	amount := time.Duration(tr.Amount)
	switch tr.Unit {
	case "minutes":
		return amount * time.Minute, nil
	case "hours":
		return amount * time.Hour, nil
	case "days":
		return amount * clock.Day, nil
	case "weeks":
		return amount * clock.Week, nil
	case "months":
		return amount * clock.Month, nil
	case "years":
		return amount * clock.Year, nil
	}
	return 0, fmt.Errorf("time_range: invalid unit %q", tr.Unit)
}

// writeBlocked reports whether a lock on the row forbids the operation.
// Append-only rows still accept Label in append mode; fully locked rows
// refuse every mutation except Lock itself.
func writeBlocked(rec *store.MemoryRecord, op ir.Op, appending bool) bool {
	switch rec.WritePermLevel {
	case "locked_no_write":
		return op != ir.OpLock
	case "locked_append_only":
		if op == ir.OpLock {
			return false
		}
		return !(op == ir.OpLabel && appending)
	}
	return false
}
