package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"text2mem/internal/ir"
	"text2mem/internal/provider"
	"text2mem/internal/store"
)

// tinyTextRunes is the guard below which custom splitting yields a single
// segment instead of consulting the model.
const tinyTextRunes = 32

// segment is one piece of a split parent, with rune offsets into the
// parent's text where known.
type segment struct {
	Title string
	Text  string
	Start int
	End   int
}

// split divides each targeted row into child rows per the chosen strategy.
func (e *Engine) split(ctx context.Context, instr *ir.IR) *Result {
	args, err := instr.SplitArgs()
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

	inheritAll := true
	if args.InheritAll != nil {
		inheritAll = *args.InheritAll
	}

	var results []map[string]any
	total := 0
	skippedLocked := 0
	for _, parent := range rows {
		if writeBlocked(parent, ir.OpSplit, false) {
			skippedLocked++
			continue
		}
		segments, strategyUsed, err := e.segment(ctx, parent.Text, args)
		if err != nil {
			return failResult(fmt.Errorf("split row %d: %w", parent.ID, err))
		}
		childIDs, err := e.createChildren(ctx, parent, segments, inheritAll)
		if err != nil {
			return failResult(fmt.Errorf("split row %d: %w", parent.ID, err))
		}
		results = append(results, map[string]any{
			"parent_id":     parent.ID,
			"split_count":   len(childIDs),
			"strategy_used": strategyUsed,
			"child_ids":     childIDs,
		})
		total += len(childIDs)
	}

	res := okResult(map[string]any{"results": results, "total_splits": total})
	if skippedLocked > 0 {
		res.note("locked_rows_skipped", skippedLocked)
	}
	notes.apply(res)
	return res
}

func (e *Engine) segment(ctx context.Context, text string, args *ir.SplitArgs) ([]segment, string, error) {
	switch args.Strategy {
	case "by_sentences":
		lang, maxSentences := "auto", 1
		if p := args.Params.BySentences; p != nil {
			if p.Lang != "" {
				lang = p.Lang
			}
			if p.MaxSentences > 0 {
				maxSentences = p.MaxSentences
			}
		}
		return splitBySentences(text, lang, maxSentences), "by_sentences", nil
	case "by_chunks":
		p := args.Params.ByChunks
		return splitByChunks(text, p.ChunkSize, p.NumChunks), "by_chunks", nil
	case "custom":
		return e.splitCustom(ctx, text, args.Params.Custom)
	}
	return nil, "", fmt.Errorf("unknown strategy %q", args.Strategy)
}

// createChildren inserts one row per segment, linking lineage both ways.
func (e *Engine) createChildren(ctx context.Context, parent *store.MemoryRecord, segments []segment, inheritAll bool) ([]int64, error) {
	if len(segments) == 0 {
		return nil, nil
	}
	splitTag := fmt.Sprintf("split_from_%d", parent.ID)
	childIDs := make([]int64, 0, len(segments))

	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = seg.Text
	}
	embeddings, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed children: %w", err)
	}
	if len(embeddings) != len(segments) {
		return nil, fmt.Errorf("embed children: got %d embeddings for %d segments", len(embeddings), len(segments))
	}

	for i, seg := range segments {
		child := &store.MemoryRecord{
			Text:           seg.Text,
			Type:           parent.Type,
			Weight:         parent.Weight,
			LineageParents: []int64{parent.ID},
			Tags:           []string{splitTag},
		}
		if inheritAll {
			child.Tags = dedupeTags(append(append([]string{}, parent.Tags...), splitTag))
			child.Time = parent.Time
			child.Source = parent.Source
		}
		child.Facets = map[string]any{}
		if seg.Title != "" {
			child.Facets["title"] = seg.Title
		}
		if seg.End > seg.Start {
			child.Facets["char_start"] = seg.Start
			child.Facets["char_end"] = seg.End
		}
		if len(child.Facets) == 0 {
			child.Facets = nil
		}

		emb := embeddings[i]
		child.Embedding = emb.Vector
		child.EmbeddingModel = emb.Model
		child.EmbeddingProvider = emb.Provider

		id, err := e.store.Insert(child)
		if err != nil {
			return nil, fmt.Errorf("insert child: %w", err)
		}
		childIDs = append(childIDs, id)
	}

	if len(childIDs) > 0 {
		if err := e.store.AppendLineageChildren(parent.ID, childIDs); err != nil {
			return nil, fmt.Errorf("record lineage: %w", err)
		}
	}
	return childIDs, nil
}

var (
	enTerminators = map[rune]bool{'.': true, '!': true, '?': true}
	zhTerminators = map[rune]bool{'。': true, '！': true, '？': true, '；': true}
	closingMarks  = map[rune]bool{'"': true, '\'': true, '”': true, '’': true, ')': true, '）': true, '」': true, '』': true}
)

func terminatorsFor(lang string) map[rune]bool {
	switch lang {
	case "en":
		return enTerminators
	case "zh":
		return zhTerminators
	}
	// auto: accept both scripts' terminators
	both := make(map[rune]bool, len(enTerminators)+len(zhTerminators))
	for r := range enTerminators {
		both[r] = true
	}
	for r := range zhTerminators {
		both[r] = true
	}
	return both
}

// splitBySentences tokenises on language-specific terminators and groups
// every maxSentences sentences into one segment.
func splitBySentences(text, lang string, maxSentences int) []segment {
	terms := terminatorsFor(lang)
	runes := []rune(text)

	var sentences []segment
	start := 0
	i := 0
	for i < len(runes) {
		if terms[runes[i]] {
			// absorb runs of terminators and trailing closing marks
			for i+1 < len(runes) && (terms[runes[i+1]] || closingMarks[runes[i+1]]) {
				i++
			}
			appendSentence(&sentences, runes, start, i+1)
			start = i + 1
		}
		i++
	}
	appendSentence(&sentences, runes, start, len(runes))

	if maxSentences <= 1 || len(sentences) == 0 {
		return sentences
	}
	var grouped []segment
	for i := 0; i < len(sentences); i += maxSentences {
		end := i + maxSentences
		if end > len(sentences) {
			end = len(sentences)
		}
		first, last := sentences[i], sentences[end-1]
		grouped = append(grouped, segment{
			Text:  strings.TrimSpace(string(runes[first.Start:last.End])),
			Start: first.Start,
			End:   last.End,
		})
	}
	return grouped
}

func appendSentence(sentences *[]segment, runes []rune, start, end int) {
	if end <= start {
		return
	}
	text := strings.TrimSpace(string(runes[start:end]))
	if text == "" {
		return
	}
	*sentences = append(*sentences, segment{Text: text, Start: start, End: end})
}

// splitByChunks slices the text into fixed-size or near-equal contiguous
// rune ranges; the concatenation of all segments equals the input.
func splitByChunks(text string, chunkSize, numChunks int) []segment {
	runes := []rune(text)
	length := len(runes)
	if length == 0 {
		return nil
	}

	var bounds []int
	switch {
	case chunkSize > 0:
		for pos := 0; pos < length; pos += chunkSize {
			bounds = append(bounds, pos)
		}
	case numChunks > 0:
		if numChunks > length {
			numChunks = length
		}
		base, rem := length/numChunks, length%numChunks
		pos := 0
		for i := 0; i < numChunks; i++ {
			bounds = append(bounds, pos)
			pos += base
			if i < rem {
				pos++
			}
		}
	default:
		return []segment{{Text: text, Start: 0, End: length}}
	}

	segments := make([]segment, 0, len(bounds))
	for i, start := range bounds {
		end := length
		if i+1 < len(bounds) {
			end = bounds[i+1]
		}
		segments = append(segments, segment{
			Text:  string(runes[start:end]),
			Start: start,
			End:   end,
		})
	}
	return segments
}

var (
	headingLine  = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	listItemLine = regexp.MustCompile(`^\s*(\d+[.)、]|[-*]\s|[一二三四五六七八九十]+、)`)
)

// splitCustom applies local heuristics in order before delegating to the
// model: markdown headings, list items, then a tiny-text guard.
func (e *Engine) splitCustom(ctx context.Context, text string, p *ir.CustomParams) ([]segment, string, error) {
	instruction := strings.ToLower(p.Instruction)
	wantsHeadings := strings.Contains(instruction, "heading") ||
		strings.Contains(instruction, "标题") ||
		strings.Contains(instruction, "#")

	if wantsHeadings || headingLine.MatchString(text) {
		if segments := splitByHeadings(text); len(segments) > 1 {
			return capSegments(segments, p.MaxSplits), "markdown_headings", nil
		}
	}

	if segments := splitByListItems(text); len(segments) > 1 {
		return capSegments(segments, p.MaxSplits), "list_items", nil
	}

	if len([]rune(text)) <= tinyTextRunes || p.BypassLLM {
		return []segment{{Text: strings.TrimSpace(text), Start: 0, End: len([]rune(text))}}, "tiny_text", nil
	}

	segments, err := e.splitByModel(ctx, text, p)
	if err != nil {
		return nil, "", err
	}
	return capSegments(segments, p.MaxSplits), "llm", nil
}

func splitByHeadings(text string) []segment {
	lines := strings.Split(text, "\n")
	var segments []segment
	var cur []string
	var title string
	flush := func() {
		body := strings.TrimSpace(strings.Join(cur, "\n"))
		if body != "" || title != "" {
			segments = append(segments, segment{Title: title, Text: body})
		}
		cur = nil
	}
	seenHeading := false
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			if seenHeading || len(cur) > 0 {
				flush()
			}
			title = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "#"))
			seenHeading = true
			continue
		}
		cur = append(cur, line)
	}
	flush()
	if !seenHeading {
		return nil
	}
	return segments
}

func splitByListItems(text string) []segment {
	lines := strings.Split(text, "\n")
	var segments []segment
	var cur []string
	flush := func() {
		body := strings.TrimSpace(strings.Join(cur, "\n"))
		if body != "" {
			segments = append(segments, segment{Text: body})
		}
		cur = nil
	}
	matched := false
	for _, line := range lines {
		if listItemLine.MatchString(line) {
			flush()
			matched = true
		}
		cur = append(cur, line)
	}
	flush()
	if !matched || len(segments) < 2 {
		return nil
	}
	return segments
}

// modelSegment is the schema the model must return: a JSON array of these.
type modelSegment struct {
	Title string `json:"title,omitempty"`
	Text  string `json:"text,omitempty"`
	Range []int  `json:"range,omitempty"`
}

const splitSchema = `[{"title": "optional string", "text": "string", "range": [start, end]}]`

func (e *Engine) splitByModel(ctx context.Context, text string, p *ir.CustomParams) ([]segment, error) {
	prompt := fmt.Sprintf(
		"Split the following text per this instruction: %s\nRespond with only a JSON array of segments.\n\n%s",
		p.Instruction, text)
	opts := provider.GenerateOptions{MaxTokens: 2000}
	out, err := e.generator.GenerateStructured(ctx, prompt, splitSchema, opts)
	if err != nil {
		return nil, fmt.Errorf("model split: %w", err)
	}

	raw, ok := extractJSONArray(out.Text)
	if !ok {
		return nil, fmt.Errorf("model split: no JSON array in response")
	}
	var items []modelSegment
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("model split: %w", err)
	}

	runes := []rune(text)
	var segments []segment
	for _, item := range items {
		seg := segment{Title: strings.TrimSpace(item.Title), Text: strings.TrimSpace(item.Text)}
		if seg.Text == "" && len(item.Range) == 2 {
			start, end := item.Range[0], item.Range[1]
			if start >= 0 && end > start && end <= len(runes) {
				seg.Text = strings.TrimSpace(string(runes[start:end]))
				seg.Start, seg.End = start, end
			}
		}
		if len([]rune(seg.Text)) < 2 {
			continue
		}
		segments = append(segments, seg)
	}
	return dedupeSegments(segments), nil
}

// extractJSONArray finds the first bracket-balanced JSON array, ignoring
// brackets inside string literals.
func extractJSONArray(s string) (string, bool) {
	start := strings.IndexByte(s, '[')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

func dedupeSegments(segments []segment) []segment {
	seen := make(map[string]bool, len(segments))
	out := segments[:0:0]
	for _, seg := range segments {
		if seen[seg.Text] {
			continue
		}
		seen[seg.Text] = true
		out = append(out, seg)
	}
	return out
}

func capSegments(segments []segment, maxSplits int) []segment {
	if maxSplits > 0 && len(segments) > maxSplits {
		return segments[:maxSplits]
	}
	return segments
}
