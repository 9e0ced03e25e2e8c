package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"text2mem/internal/ir"
	"text2mem/internal/provider"
)

const (
	defaultSummaryTokens = 500
	maxSummaryTokens     = 2000
)

// summarize condenses targeted rows through the generation provider, most
// recent first.
func (e *Engine) summarize(ctx context.Context, instr *ir.IR) *Result {
	args, err := instr.SummarizeArgs()
	if err != nil {
		return failResult(err)
	}

	rows, notes, err := e.resolveTarget(ctx, instr)
	if err != nil {
		return failResult(err)
	}
	if len(rows) == 0 {
		res := okResult(map[string]any{"summary": "", "count": 0, "source_ids": []int64{}})
		notes.apply(res)
		return res
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].UpdatedAt > rows[j].UpdatedAt
	})

	ids := make([]int64, len(rows))
	var b strings.Builder
	b.WriteString("Summarize the following memories into a short passage")
	if args.Focus != "" {
		fmt.Fprintf(&b, ", focusing on %s", args.Focus)
	}
	b.WriteString(".\n\n")
	for i, rec := range rows {
		ids[i] = rec.ID
		fmt.Fprintf(&b, "- %s\n", rec.Text)
	}

	maxTokens := args.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultSummaryTokens
	}
	if maxTokens > maxSummaryTokens {
		maxTokens = maxSummaryTokens
	}

	out, err := e.generator.Generate(ctx, b.String(), provider.GenerateOptions{MaxTokens: maxTokens})
	if err != nil {
		return failResult(fmt.Errorf("summarize: %w", err))
	}

	res := okResult(map[string]any{
		"summary":    out.Text,
		"count":      len(rows),
		"source_ids": ids,
		"model":      out.Model,
	})
	notes.apply(res)
	return res
}
