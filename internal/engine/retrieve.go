package engine

import (
	"context"

	"text2mem/internal/ir"
	"text2mem/internal/store"
)

// retrieve reads rows by ids, filter, search or their combination. Search
// targets return rows in descending similarity order with per-row scores.
func (e *Engine) retrieve(ctx context.Context, instr *ir.IR) *Result {
	args, err := instr.RetrieveArgs()
	if err != nil {
		return failResult(err)
	}

	rows, notes, err := e.resolveTarget(ctx, instr)
	if err != nil {
		return failResult(err)
	}

	// filter retrieves without an explicit limit are capped at the
	// configured default; mutations and explicit targets are never capped
	if t := instr.Target; t != nil && t.Filter != nil && t.Filter.Limit == nil && t.Search == nil &&
		e.search.DefaultLimit > 0 && len(rows) > e.search.DefaultLimit {
		rows = rows[:e.search.DefaultLimit]
	}

	items := make([]map[string]any, len(rows))
	for i, rec := range rows {
		items[i] = retrievedItem(rec, notes, args.IncludeMetadata)
	}

	res := okResult(map[string]any{"rows": items, "count": len(items)})
	notes.apply(res)
	return res
}

func retrievedItem(rec *store.MemoryRecord, notes *targetNotes, includeMetadata bool) map[string]any {
	item := map[string]any{
		"id":     rec.ID,
		"text":   rec.Text,
		"type":   rec.Type,
		"tags":   rec.Tags,
		"weight": rec.Weight,
	}
	if sim, ok := notes.similarities[rec.ID]; ok {
		item["similarity"] = sim
	}
	if includeMetadata {
		item["subject"] = rec.Subject
		item["time"] = rec.Time
		item["location"] = rec.Location
		item["topic"] = rec.Topic
		item["facets"] = rec.Facets
		item["source"] = rec.Source
		item["expire_at"] = rec.ExpireAt
		item["lineage_parents"] = rec.LineageParents
		item["lineage_children"] = rec.LineageChildren
		item["created_at"] = rec.CreatedAt
		item["updated_at"] = rec.UpdatedAt
	}
	return item
}
