package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"text2mem/internal/ir"
	"text2mem/internal/logging"
	"text2mem/internal/provider"
	"text2mem/internal/store"
)

// rankBySearch scores candidate rows against the search intent and returns
// the top-k in descending similarity order. Rows without an embedding, or
// with an embedding of a different dimension, never participate; the latter
// are counted in notes.
func (e *Engine) rankBySearch(ctx context.Context, s *ir.Search, candidates []*store.MemoryRecord, notes *targetNotes) ([]*store.MemoryRecord, error) {
	queryVec, queryText, err := e.queryVector(ctx, s)
	if err != nil {
		return nil, err
	}

	// A raw query vector whose dimension disagrees with the store's is a
	// no-result condition, not an error.
	if queryText == "" && !e.storeAcceptsDimension(candidates, len(queryVec)) {
		notes.vectorDimMismatch = true
		return nil, nil
	}

	vecSims := e.vecSimilarities(queryVec, candidates)
	k := e.searchK(s)

	if queryText == "" {
		return e.rankByVector(queryVec, candidates, vecSims, k, notes), nil
	}

	type scored struct {
		rec *store.MemoryRecord
		sim float64
	}
	var ranked []scored

	for _, rec := range candidates {
		if len(rec.Embedding) == 0 {
			continue
		}
		cos, ok := vecSims[rec.ID]
		if !ok {
			if len(rec.Embedding) != len(queryVec) {
				notes.skippedVectors++
				continue
			}
			c, err := provider.CosineSimilarity(queryVec, rec.Embedding)
			if err != nil {
				notes.skippedVectors++
				continue
			}
			cos = c
		}
		sim := e.search.Alpha * cos
		kw, phrase := keywordScore(queryText, rec.Text)
		sim += e.search.Beta * kw
		if phrase {
			sim += e.search.PhraseBonus
		}
		ranked = append(ranked, scored{rec, clampSim(sim)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].sim > ranked[j].sim
	})

	if len(ranked) > k {
		ranked = ranked[:k]
	}

	notes.similarities = make(map[int64]float64, len(ranked))
	out := make([]*store.MemoryRecord, len(ranked))
	for i, sc := range ranked {
		out[i] = sc.rec
		notes.similarities[sc.rec.ID] = sc.sim
	}
	return out, nil
}

// rankByVector handles raw-vector intents, where similarity is pure cosine:
// sqlite-vec scores when the extension is loaded, FindTopK over the
// candidate embeddings otherwise.
func (e *Engine) rankByVector(query []float32, candidates []*store.MemoryRecord, vecSims map[int64]float64, k int, notes *targetNotes) []*store.MemoryRecord {
	embedded := make([]*store.MemoryRecord, 0, len(candidates))
	for _, rec := range candidates {
		if len(rec.Embedding) == 0 {
			continue
		}
		embedded = append(embedded, rec)
	}

	notes.similarities = make(map[int64]float64)
	var out []*store.MemoryRecord

	if vecSims != nil {
		type scored struct {
			rec *store.MemoryRecord
			sim float64
		}
		var ranked []scored
		for _, rec := range embedded {
			cos, ok := vecSims[rec.ID]
			if !ok {
				notes.skippedVectors++
				continue
			}
			ranked = append(ranked, scored{rec, clampSim(e.search.Alpha * cos)})
		}
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].sim > ranked[j].sim })
		if len(ranked) > k {
			ranked = ranked[:k]
		}
		for _, sc := range ranked {
			out = append(out, sc.rec)
			notes.similarities[sc.rec.ID] = sc.sim
		}
		return out
	}

	corpus := make([][]float32, len(embedded))
	for i, rec := range embedded {
		corpus[i] = rec.Embedding
	}
	top, skipped := provider.FindTopK(query, corpus, k)
	notes.skippedVectors += skipped
	for _, r := range top {
		rec := embedded[r.Index]
		out = append(out, rec)
		notes.similarities[rec.ID] = clampSim(e.search.Alpha * r.Similarity)
	}
	return out
}

// vecSimilarities asks sqlite-vec for cosine scores over the candidate ids.
// A nil map routes every candidate through the in-process scan.
func (e *Engine) vecSimilarities(query []float32, candidates []*store.MemoryRecord) map[int64]float64 {
	if !e.store.HasVectorExt() || len(candidates) == 0 {
		return nil
	}
	ph := make([]string, len(candidates))
	args := make([]any, len(candidates))
	for i, rec := range candidates {
		ph[i] = "?"
		args[i] = rec.ID
	}
	sims, err := e.store.SimilarByEmbedding(query, "id IN ("+strings.Join(ph, ", ")+")", args...)
	if err != nil {
		logging.Get(logging.CategoryEngine).Warn("vec similarity fell back to in-process scan: %v", err)
		return nil
	}
	return sims
}

func clampSim(sim float64) float64 {
	if sim > 1.0 {
		return 1.0
	}
	return sim
}

// queryVector resolves the intent to a vector, embedding the query text when
// no raw vector is supplied. queryText is empty for raw-vector intents.
func (e *Engine) queryVector(ctx context.Context, s *ir.Search) ([]float32, string, error) {
	if len(s.Intent.Vector) > 0 {
		return s.Intent.Vector, "", nil
	}
	emb, err := e.embedder.Embed(ctx, s.Intent.Query)
	if err != nil {
		return nil, "", fmt.Errorf("embed query: %w", err)
	}
	return emb.Vector, s.Intent.Query, nil
}

// storeAcceptsDimension reports whether any candidate embedding matches dim.
// An all-unembedded candidate set accepts nothing but is not a mismatch.
func (e *Engine) storeAcceptsDimension(candidates []*store.MemoryRecord, dim int) bool {
	embedded := false
	for _, rec := range candidates {
		if len(rec.Embedding) == 0 {
			continue
		}
		embedded = true
		if len(rec.Embedding) == dim {
			return true
		}
	}
	return !embedded
}

// searchK resolves the ranking cutoff: search.limit, then overrides.k, then
// the configured default, bounded by the configured maximum.
func (e *Engine) searchK(s *ir.Search) int {
	k := e.search.DefaultK
	if s.Overrides != nil && s.Overrides.K != nil {
		k = *s.Overrides.K
	}
	if s.Limit != nil {
		k = *s.Limit
	}
	if e.search.MaxLimit > 0 && k > e.search.MaxLimit {
		k = e.search.MaxLimit
	}
	return k
}

// keywordScore is 1.0 on a case-insensitive whole-phrase substring match,
// otherwise the fraction of query tokens present in the text. The second
// return reports the phrase match for the bonus term.
func keywordScore(query, text string) (float64, bool) {
	q := strings.ToLower(strings.TrimSpace(query))
	t := strings.ToLower(text)
	if q == "" {
		return 0, false
	}
	if strings.Contains(t, q) {
		return 1.0, true
	}
	tokens := tokenize(q)
	if len(tokens) == 0 {
		return 0, false
	}
	hit := 0
	for _, tok := range tokens {
		if strings.Contains(t, tok) {
			hit++
		}
	}
	return float64(hit) / float64(len(tokens)), false
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
