package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"text2mem/internal/ir"
	"text2mem/internal/store"
)

// encode inserts one memory row, embedding the textified payload unless
// skip_embedding is set.
func (e *Engine) encode(ctx context.Context, instr *ir.IR) *Result {
	args, err := instr.EncodeArgs()
	if err != nil {
		return failResult(err)
	}

	text, err := textifyPayload(&args.Payload)
	if err != nil {
		return failResult(err)
	}

	if instr.DryRun() {
		return okResult(map[string]any{"dry_run": true, "would_insert": true})
	}

	rec := &store.MemoryRecord{
		Text:           text,
		Type:           args.Type,
		Tags:           dedupeTags(args.Tags),
		Facets:         args.Facets,
		Subject:        args.Subject,
		Time:           args.Time,
		Location:       args.Location,
		Topic:          args.Topic,
		Source:         args.Source,
		ExpireAt:       args.ExpireAt,
		ExpireAction:   args.ExpireAction,
		ExpireReason:   args.ExpireReason,
		ReadPermLevel:  args.ReadPermLevel,
		WritePermLevel: args.WritePermLevel,
		ReadWhitelist:  args.ReadWhitelist,
		ReadBlacklist:  args.ReadBlacklist,
		WriteWhitelist: args.WriteWhitelist,
		WriteBlacklist: args.WriteBlacklist,
	}
	if rec.Type == "" {
		rec.Type = "note"
	}
	if args.Weight != nil {
		rec.Weight = *args.Weight
	} else {
		rec.Weight = 0.5
	}
	mirrorFacets(rec)

	if !args.SkipEmbedding {
		emb, err := e.embedder.Embed(ctx, text)
		if err != nil {
			return failResult(fmt.Errorf("embed payload: %w", err))
		}
		rec.Embedding = emb.Vector
		rec.EmbeddingModel = emb.Model
		rec.EmbeddingProvider = emb.Provider
	}

	id, err := e.store.Insert(rec)
	if err != nil {
		return failResult(fmt.Errorf("insert: %w", err))
	}

	return okResult(map[string]any{
		"inserted_id":        id,
		"embedding_dim":      len(rec.Embedding),
		"embedding_model":    rec.EmbeddingModel,
		"embedding_provider": rec.EmbeddingProvider,
	})
}

// textifyPayload flattens the payload into the stored text. Structured
// payloads render as sorted "key: value" lines for stable embeddings.
func textifyPayload(p *ir.Payload) (string, error) {
	switch {
	case p.Text != "":
		return p.Text, nil
	case p.URL != "":
		return p.URL, nil
	case len(p.Structured) > 0:
		keys := make([]string, 0, len(p.Structured))
		for k := range p.Structured {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			v, err := json.Marshal(p.Structured[k])
			if err != nil {
				return "", fmt.Errorf("textify structured payload: %w", err)
			}
			fmt.Fprintf(&b, "%s: %s\n", k, v)
		}
		return strings.TrimRight(b.String(), "\n"), nil
	}
	return "", fmt.Errorf("empty payload")
}

// mirrorFacets copies recognised facet keys into their columns and recognised
// columns back into facets, keeping the two views consistent.
func mirrorFacets(rec *store.MemoryRecord) {
	if rec.Facets != nil {
		if v, ok := rec.Facets["subject"].(string); ok && rec.Subject == "" {
			rec.Subject = v
		}
		if v, ok := rec.Facets["time"].(string); ok && rec.Time == "" {
			rec.Time = v
		}
		if v, ok := rec.Facets["location"].(string); ok && rec.Location == "" {
			rec.Location = v
		}
		if v, ok := rec.Facets["topic"].(string); ok && rec.Topic == "" {
			rec.Topic = v
		}
	}
	if rec.Subject != "" || rec.Time != "" || rec.Location != "" || rec.Topic != "" {
		if rec.Facets == nil {
			rec.Facets = map[string]any{}
		}
		setIfAbsent(rec.Facets, "subject", rec.Subject)
		setIfAbsent(rec.Facets, "time", rec.Time)
		setIfAbsent(rec.Facets, "location", rec.Location)
		setIfAbsent(rec.Facets, "topic", rec.Topic)
	}
}

func setIfAbsent(m map[string]any, key, value string) {
	if value == "" {
		return
	}
	if _, ok := m[key]; !ok {
		m[key] = value
	}
}

// dedupeTags removes duplicates preserving first-seen order.
func dedupeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(tags))
	out := tags[:0:0]
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
