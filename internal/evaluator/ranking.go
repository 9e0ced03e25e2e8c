package evaluator

import (
	"context"
	"fmt"
	"sort"

	"text2mem/internal/engine"
	"text2mem/internal/ir"
	"text2mem/internal/pipeline"
	"text2mem/internal/provider"
)

// RankingOutcome scores retrieval quality against the sample's gold ids.
type RankingOutcome struct {
	Query     string  `json:"query"`
	TopK      int     `json:"topk"`
	GoldIDs   []int64 `json:"gold_ids"`
	Returned  []int64 `json:"returned"`
	Hits      []int64 `json:"hits"`
	Missed    []int64 `json:"missed"`
	Extras    []int64 `json:"extras"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	MinHits   int     `json:"min_hits"`
	Passed    bool    `json:"passed"`
	Warning   string  `json:"warning,omitempty"`
}

// evaluateRanking compares retrieved ids to the gold set. A filter-target
// Retrieve from the sample's own program supplies the rows; otherwise the
// ranking query is executed directly.
func (r *Runner) evaluateRanking(ctx context.Context, eng *engine.Engine, spec *pipeline.RankingSpec, lastRetrieve *engine.Result) *RankingOutcome {
	topK := spec.TopK
	if topK <= 0 {
		topK = len(spec.GoldIDs)
	}
	out := &RankingOutcome{Query: spec.Query, TopK: topK, GoldIDs: spec.GoldIDs}

	result := lastRetrieve
	if result == nil {
		k := topK
		instr := &ir.IR{
			Stage: ir.StageRET,
			Op:    ir.OpRetrieve,
			Target: &ir.TargetSpec{
				Search: &ir.Search{
					Intent:    ir.SearchIntent{Query: spec.Query},
					Overrides: &ir.SearchOverrides{K: &k},
				},
			},
		}
		result = eng.Execute(ctx, instr)
		if !result.Success {
			out.Warning = fmt.Sprintf("ranking query failed: %s", result.Error)
			return out
		}
	}

	out.Returned = retrievedIDs(result)
	if len(out.Returned) > topK {
		out.Returned = out.Returned[:topK]
	}

	returned := make(map[int64]bool, len(out.Returned))
	for _, id := range out.Returned {
		returned[id] = true
	}
	gold := make(map[int64]bool, len(spec.GoldIDs))
	for _, id := range spec.GoldIDs {
		gold[id] = true
	}

	for _, id := range spec.GoldIDs {
		if returned[id] {
			out.Hits = append(out.Hits, id)
		} else {
			out.Missed = append(out.Missed, id)
		}
	}
	for _, id := range out.Returned {
		if !gold[id] {
			out.Extras = append(out.Extras, id)
		}
	}
	sort.Slice(out.Extras, func(i, j int) bool { return out.Extras[i] < out.Extras[j] })

	if len(out.Returned) > 0 {
		out.Precision = float64(len(out.Hits)) / float64(len(out.Returned))
	}
	if len(spec.GoldIDs) > 0 {
		out.Recall = float64(len(out.Hits)) / float64(len(spec.GoldIDs))
	}

	out.MinHits = spec.MinHits
	if out.MinHits <= 0 {
		out.MinHits = len(spec.GoldIDs)
	}
	out.Passed = len(out.Hits) >= out.MinHits && (spec.AllowExtra || len(out.Extras) == 0)

	// mock embeddings cannot reproduce real semantic ordering, so a miss is
	// reported as a warning instead of a failure unless strict mode is on
	if !out.Passed && provider.IsMock(r.embedder.Name()) && !r.cfg.Evaluator.RankingStrictMock {
		out.Passed = true
		out.Warning = fmt.Sprintf("ranking below threshold under mock embeddings (hits=%d/%d); pass downgraded to warning",
			len(out.Hits), out.MinHits)
	}
	return out
}

// retrievedIDs pulls row ids out of a Retrieve result in rank order.
func retrievedIDs(result *engine.Result) []int64 {
	if result == nil || result.Data == nil {
		return nil
	}
	rows, ok := result.Data["rows"].([]map[string]any)
	if !ok {
		return nil
	}
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		if id, ok := row["id"].(int64); ok {
			ids = append(ids, id)
		}
	}
	return ids
}
