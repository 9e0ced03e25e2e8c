package engine

import (
	"context"
	"fmt"
	"strings"

	"text2mem/internal/ir"
	"text2mem/internal/store"
)

// merge folds targeted rows into one primary: the children's texts are
// appended to the primary's, children are deleted (softly by default), and
// the primary is re-embedded unless skipped.
func (e *Engine) merge(ctx context.Context, instr *ir.IR) *Result {
	args, err := instr.MergeArgs()
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
	if len(rows) < 2 {
		return failResult(fmt.Errorf("merge: need at least 2 matching rows, got %d", len(rows)))
	}

	primary, children := pickPrimary(rows, args.PrimaryID)
	if primary == nil {
		return failResult(fmt.Errorf("merge: primary_id %d is not among the targeted rows", *args.PrimaryID))
	}
	if writeBlocked(primary, ir.OpMerge, false) {
		return failResult(fmt.Errorf("merge: primary row %d is locked", primary.ID))
	}

	parts := []string{primary.Text}
	childIDs := make([]int64, 0, len(children))
	parents := append([]int64{}, primary.LineageParents...)
	for _, c := range children {
		if writeBlocked(c, ir.OpMerge, false) {
			return failResult(fmt.Errorf("merge: child row %d is locked", c.ID))
		}
		parts = append(parts, c.Text)
		childIDs = append(childIDs, c.ID)
		parents = appendUniqueID(parents, c.ID)
	}

	fields := map[string]any{
		"text":            strings.Join(parts, "\n\n"),
		"lineage_parents": parents,
	}
	if err := e.store.UpdateFields(primary.ID, fields); err != nil {
		return failResult(fmt.Errorf("merge: update primary: %w", err))
	}

	soft := true
	if args.SoftDeleteChildren != nil {
		soft = *args.SoftDeleteChildren
	}
	strategy := "soft_delete_children"
	if soft {
		if _, err := e.store.SoftDelete(childIDs); err != nil {
			return failResult(fmt.Errorf("merge: delete children: %w", err))
		}
	} else {
		strategy = "hard_delete_children"
		if _, err := e.store.HardDelete(childIDs); err != nil {
			return failResult(fmt.Errorf("merge: delete children: %w", err))
		}
	}

	reembedded := false
	if !args.SkipReembedding {
		emb, err := e.embedder.Embed(ctx, fields["text"].(string))
		if err != nil {
			return failResult(fmt.Errorf("merge: re-embed primary: %w", err))
		}
		if err := e.store.SetEmbedding(primary.ID, emb.Vector, emb.Model, emb.Provider); err != nil {
			return failResult(fmt.Errorf("merge: store embedding: %w", err))
		}
		reembedded = true
	}

	res := okResult(map[string]any{
		"primary_id":   primary.ID,
		"merged_count": len(childIDs),
		"strategy":     strategy,
		"reembedded":   reembedded,
	})
	notes.apply(res)
	return res
}

// pickPrimary selects the primary row, by explicit id or first match, and
// returns the remaining rows as children.
func pickPrimary(rows []*store.MemoryRecord, primaryID *int64) (*store.MemoryRecord, []*store.MemoryRecord) {
	if primaryID == nil {
		return rows[0], rows[1:]
	}
	var primary *store.MemoryRecord
	children := make([]*store.MemoryRecord, 0, len(rows)-1)
	for _, r := range rows {
		if r.ID == *primaryID {
			primary = r
			continue
		}
		children = append(children, r)
	}
	return primary, children
}

func appendUniqueID(ids []int64, id int64) []int64 {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
