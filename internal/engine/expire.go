package engine

import (
	"context"
	"fmt"
	"time"

	"text2mem/internal/clock"
	"text2mem/internal/ir"
)

// expire schedules row expiry. The engine only records expire_at and the
// action; reaping past-due rows is the evaluation harness's policy.
func (e *Engine) expire(ctx context.Context, instr *ir.IR) *Result {
	args, err := instr.ExpireArgs()
	if err != nil {
		return failResult(err)
	}
	if instr.DryRun() {
		return e.dryRunResult(ctx, instr)
	}

	var expireAt time.Time
	if args.TTL != "" {
		d, err := clock.ParseISODuration(args.TTL)
		if err != nil {
			return failResult(fmt.Errorf("expire ttl: %w", err))
		}
		expireAt = e.now().Add(d)
	} else {
		expireAt, err = time.Parse(time.RFC3339, args.Until)
		if err != nil {
			return failResult(fmt.Errorf("expire until: %w", err))
		}
	}

	action := args.OnExpire
	if action == "" {
		action = "soft_delete"
	}

	rows, notes, err := e.resolveTarget(ctx, instr)
	if err != nil {
		return failResult(err)
	}

	fields := map[string]any{
		"expire_at":     expireAt.UTC().Format(time.RFC3339),
		"expire_action": action,
	}
	if args.Reason != "" {
		fields["expire_reason"] = args.Reason
	}

	affected := 0
	skippedLocked := 0
	for _, rec := range rows {
		if writeBlocked(rec, ir.OpExpire, false) {
			skippedLocked++
			continue
		}
		if err := e.store.UpdateFields(rec.ID, fields); err != nil {
			return failResult(fmt.Errorf("expire row %d: %w", rec.ID, err))
		}
		affected++
	}

	res := okResult(map[string]any{
		"affected_rows": affected,
		"expire_at":     fields["expire_at"],
		"expire_action": action,
	})
	if skippedLocked > 0 {
		res.note("locked_rows_skipped", skippedLocked)
	}
	notes.apply(res)
	return res
}

// ReapExpired applies each past-due row's expire_action against the current
// (possibly virtual) now. Called by the evaluation harness after advancing
// the clock; the engine never reaps on its own.
func (e *Engine) ReapExpired(ctx context.Context) (int, error) {
	now := e.now().UTC().Format(time.RFC3339)
	rows, err := e.store.SelectWhere("deleted = 0 AND expire_at IS NOT NULL AND expire_at < ?", now)
	if err != nil {
		return 0, fmt.Errorf("reap: %w", err)
	}

	reaped := 0
	for _, rec := range rows {
		action := rec.ExpireAction
		if action == "" {
			action = "soft_delete"
		}
		switch action {
		case "soft_delete":
			_, err = e.store.SoftDelete([]int64{rec.ID})
		case "hard_delete":
			_, err = e.store.HardDelete([]int64{rec.ID})
		case "demote":
			next := rec.Weight + archiveDelta
			if next < 0 {
				next = 0
			}
			err = e.store.UpdateFields(rec.ID, map[string]any{"weight": next, "expire_at": nil})
		case "anonymize":
			err = e.store.UpdateFields(rec.ID, map[string]any{
				"subject": "", "location": "", "source": "", "expire_at": nil,
			})
		default:
			_, err = e.store.SoftDelete([]int64{rec.ID})
		}
		if err != nil {
			return reaped, fmt.Errorf("reap row %d: %w", rec.ID, err)
		}
		reaped++
	}
	return reaped, nil
}
