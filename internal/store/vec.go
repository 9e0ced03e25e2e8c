package store

import (
	"encoding/json"
	"fmt"
)

// detectVecExtension attempts to create a vec0 virtual table to see if
// sqlite-vec is available in this build.
func (s *MemoryStore) detectVecExtension() {
	if s.db == nil {
		return
	}
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err == nil {
		s.vectorExt = true
		_, _ = s.db.Exec("DROP TABLE IF EXISTS vec_probe")
		return
	}
	s.vectorExt = false
}

// HasVectorExt reports whether sqlite-vec acceleration is available.
func (s *MemoryStore) HasVectorExt() bool {
	return s.vectorExt
}

// SimilarByEmbedding scores rows matching cond against the query vector
// using sqlite-vec's cosine distance in SQL. Only rows whose embedding_dim
// equals the query dimension are scored, so mismatched rows never abort the
// query. Returns id -> cosine similarity.
func (s *MemoryStore) SimilarByEmbedding(query []float32, cond string, args ...any) (map[int64]float64, error) {
	if !s.vectorExt {
		return nil, fmt.Errorf("sqlite-vec extension not available")
	}

	queryJSON, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query vector: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	where := "embedding IS NOT NULL AND embedding_dim = ?"
	if cond != "" {
		where += " AND (" + cond + ")"
	}

	queryArgs := append([]any{string(queryJSON), len(query)}, args...)
	rows, err := s.db.Query(
		"SELECT id, vec_distance_cosine(embedding, ?) FROM memory WHERE "+where,
		queryArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to run vec similarity query: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]float64)
	for rows.Next() {
		var id int64
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan similarity row: %w", err)
		}
		out[id] = 1 - distance
	}
	return out, rows.Err()
}
