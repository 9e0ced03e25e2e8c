package engine

import (
	"context"
	"fmt"

	"text2mem/internal/ir"
)

// lock restricts reads and writes on targeted rows through the permission
// level columns.
func (e *Engine) lock(ctx context.Context, instr *ir.IR) *Result {
	args, err := instr.LockArgs()
	if err != nil {
		return failResult(err)
	}
	if instr.DryRun() {
		return e.dryRunResult(ctx, instr)
	}

	var readLevel, writeLevel string
	switch args.Mode {
	case "read_only":
		readLevel, writeLevel = "locked_read_only", "locked_no_write"
	case "append_only":
		readLevel, writeLevel = "locked_read_only", "locked_append_only"
	default:
		return failResult(fmt.Errorf("lock: unknown mode %q", args.Mode))
	}

	rows, notes, err := e.resolveTarget(ctx, instr)
	if err != nil {
		return failResult(err)
	}

	fields := map[string]any{
		"read_perm_level":  readLevel,
		"write_perm_level": writeLevel,
	}
	if args.Reason != "" {
		fields["lock_reason"] = args.Reason
	}
	if args.Policy != "" {
		fields["lock_policy"] = args.Policy
	}
	if args.Expires != "" {
		fields["lock_expires"] = args.Expires
	}

	affected := 0
	for _, rec := range rows {
		if err := e.store.UpdateFields(rec.ID, fields); err != nil {
			return failResult(fmt.Errorf("lock row %d: %w", rec.ID, err))
		}
		affected++
	}

	res := okResult(map[string]any{"affected_rows": affected, "mode": args.Mode})
	notes.apply(res)
	return res
}
