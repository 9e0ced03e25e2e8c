package engine

import (
	"context"
	"fmt"
	"strings"

	"text2mem/internal/ir"
	"text2mem/internal/provider"
)

// label rewrites tags and facets on targeted rows. A target that matches
// nothing, or args with nothing to apply, succeed with affected_rows=0.
func (e *Engine) label(ctx context.Context, instr *ir.IR) *Result {
	args, err := instr.LabelArgs()
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

	tags := dedupeTags(args.Tags)
	if args.AutoGenerateTags && len(rows) > 0 {
		generated, err := e.generateTags(ctx, rows[0].Text)
		if err != nil {
			return failResult(err)
		}
		tags = dedupeTags(append(tags, generated...))
	}

	if len(tags) == 0 && len(args.Facets) == 0 {
		res := okResult(map[string]any{"affected_rows": 0})
		notes.apply(res)
		return res
	}

	mode := args.Mode
	if mode == "" {
		mode = "replace"
	}
	appending := mode == "append"

	affected := 0
	skippedLocked := 0
	for _, rec := range rows {
		if writeBlocked(rec, ir.OpLabel, appending) {
			skippedLocked++
			continue
		}
		fields := map[string]any{}

		if len(tags) > 0 {
			next := tags
			if appending {
				next = dedupeTags(append(append([]string{}, rec.Tags...), tags...))
			}
			fields["tags"] = next
		}

		if len(args.Facets) > 0 {
			merged := deepMergeFacets(rec.Facets, args.Facets)
			fields["facets"] = merged
			mirrorFacetColumns(fields, merged)
		}

		if err := e.store.UpdateFields(rec.ID, fields); err != nil {
			return failResult(fmt.Errorf("label row %d: %w", rec.ID, err))
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

// generateTags asks the generation model for comma-separated labels.
func (e *Engine) generateTags(ctx context.Context, text string) ([]string, error) {
	prompt := fmt.Sprintf("Propose up to 5 short tags for the following memory, as a comma-separated list with no extra text.\n\n%s", text)
	out, err := e.generator.Generate(ctx, prompt, provider.GenerateOptions{MaxTokens: 64})
	if err != nil {
		return nil, fmt.Errorf("auto-generate tags: %w", err)
	}
	parts := strings.Split(out.Text, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), `"'`)
		if p != "" {
			tags = append(tags, p)
		}
	}
	return tags, nil
}

// deepMergeFacets merges incoming facets over existing ones; nested maps
// merge recursively, everything else is replaced.
func deepMergeFacets(existing, incoming map[string]any) map[string]any {
	out := make(map[string]any, len(existing)+len(incoming))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range incoming {
		prev, ok := out[k]
		if ok {
			prevMap, pOK := prev.(map[string]any)
			vMap, vOK := v.(map[string]any)
			if pOK && vOK {
				out[k] = deepMergeFacets(prevMap, vMap)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// mirrorFacetColumns reflects recognised facet keys into their scalar
// columns alongside the facets update.
func mirrorFacetColumns(fields map[string]any, facets map[string]any) {
	for _, key := range []string{"subject", "time", "location", "topic"} {
		if v, ok := facets[key].(string); ok && v != "" {
			fields[key] = v
		}
	}
}
