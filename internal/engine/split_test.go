package engine

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Splitting three sentences one-by-one yields three children, each carrying
// the split_from tag and parent lineage.
func TestSplitBySentences(t *testing.T) {
	e := newTestEngine(t)
	parent := encodeText(t, e, "First sentence. Second sentence? Third sentence!", "split")

	res := mustRun(t, e, fmt.Sprintf(`{"stage":"STO","op":"Split","target":{"ids":[%d]},"args":{"strategy":"by_sentences","params":{"by_sentences":{"lang":"en","max_sentences":1}}}}`, parent))
	assert.GreaterOrEqual(t, res.Data["total_splits"].(int), 3)

	splitTag := fmt.Sprintf("split_from_%d", parent)
	children, err := e.Store().SelectWhere("tags LIKE ?", tagPattern(splitTag))
	require.NoError(t, err)
	require.Len(t, children, 3)

	want := map[string]bool{
		"First sentence.":  true,
		"Second sentence?": true,
		"Third sentence!":  true,
	}
	for _, c := range children {
		assert.True(t, want[c.Text], "unexpected child text %q", c.Text)
		assert.True(t, c.HasTag(splitTag))
		assert.Contains(t, c.LineageParents, parent)
		assert.True(t, c.HasTag("split"), "child should inherit parent tags")
	}

	parentRec, err := e.Store().Get(parent)
	require.NoError(t, err)
	assert.Len(t, parentRec.LineageChildren, 3)
}

func TestSplitBySentencesChinese(t *testing.T) {
	e := newTestEngine(t)
	parent := encodeText(t, e, "第一句话。第二句话！第三句话？")

	res := mustRun(t, e, fmt.Sprintf(`{"stage":"STO","op":"Split","target":{"ids":[%d]},"args":{"strategy":"by_sentences","params":{"by_sentences":{"lang":"zh"}}}}`, parent))
	assert.Equal(t, 3, res.Data["total_splits"])
}

func TestSplitBySentencesGrouped(t *testing.T) {
	segs := splitBySentences("One. Two. Three. Four. Five.", "en", 2)
	require.Len(t, segs, 3)
	assert.Equal(t, "One. Two.", segs[0].Text)
	assert.Equal(t, "Three. Four.", segs[1].Text)
	assert.Equal(t, "Five.", segs[2].Text)
}

// by_chunks(chunk_size=c) over L runes yields ceil(L/c) children whose
// concatenation is exactly the parent text.
func TestSplitByChunksExactPartition(t *testing.T) {
	text := "abcdefghijklmnopqrstuvwx" // 24 runes
	for _, c := range []int{5, 7, 24, 30} {
		segs := splitByChunks(text, c, 0)
		wantCount := (len(text) + c - 1) / c
		assert.Len(t, segs, wantCount, "chunk_size=%d", c)

		var joined strings.Builder
		for _, s := range segs {
			joined.WriteString(s.Text)
		}
		assert.Equal(t, text, joined.String(), "chunk_size=%d", c)
	}
}

func TestSplitByChunksNumChunks(t *testing.T) {
	segs := splitByChunks("abcdefghij", 0, 3)
	require.Len(t, segs, 3)
	assert.Equal(t, "abcd", segs[0].Text)
	assert.Equal(t, "efg", segs[1].Text)
	assert.Equal(t, "hij", segs[2].Text)
}

func TestSplitByChunksEngine(t *testing.T) {
	e := newTestEngine(t)
	parent := encodeText(t, e, "0123456789")

	res := mustRun(t, e, fmt.Sprintf(`{"stage":"STO","op":"Split","target":{"ids":[%d]},"args":{"strategy":"by_chunks","params":{"by_chunks":{"chunk_size":4}}}}`, parent))
	assert.Equal(t, 3, res.Data["total_splits"])

	results := res.Data["results"].([]map[string]any)
	require.Len(t, results, 1)
	assert.Equal(t, "by_chunks", results[0]["strategy_used"])
	assert.Len(t, results[0]["child_ids"].([]int64), 3)
}

func TestSplitCustomMarkdownHeadings(t *testing.T) {
	e := newTestEngine(t)
	text := "# Intro\nsome introduction text\n# Details\nthe detailed part\n# Close\nwrap up"
	parent := encodeText(t, e, text)

	res := mustRun(t, e, fmt.Sprintf(`{"stage":"STO","op":"Split","target":{"ids":[%d]},"args":{"strategy":"custom","params":{"custom":{"instruction":"split by headings"}}}}`, parent))
	results := res.Data["results"].([]map[string]any)
	require.Len(t, results, 1)
	assert.Equal(t, "markdown_headings", results[0]["strategy_used"])
	assert.Equal(t, 3, results[0]["split_count"])
}

func TestSplitCustomListItems(t *testing.T) {
	e := newTestEngine(t)
	text := "1. buy supplies for the workshop\n2. send calendar invites\n3. book the conference room"
	parent := encodeText(t, e, text)

	res := mustRun(t, e, fmt.Sprintf(`{"stage":"STO","op":"Split","target":{"ids":[%d]},"args":{"strategy":"custom","params":{"custom":{"instruction":"one item per task"}}}}`, parent))
	results := res.Data["results"].([]map[string]any)
	require.Len(t, results, 1)
	assert.Equal(t, "list_items", results[0]["strategy_used"])
	assert.Equal(t, 3, results[0]["split_count"])
}

func TestSplitCustomTinyTextGuard(t *testing.T) {
	e := newTestEngine(t)
	parent := encodeText(t, e, "too short to split")

	res := mustRun(t, e, fmt.Sprintf(`{"stage":"STO","op":"Split","target":{"ids":[%d]},"args":{"strategy":"custom","params":{"custom":{"instruction":"split into topics"}}}}`, parent))
	results := res.Data["results"].([]map[string]any)
	require.Len(t, results, 1)
	assert.Equal(t, "tiny_text", results[0]["strategy_used"])
	assert.Equal(t, 1, results[0]["split_count"])
}

func TestSplitCustomMaxSplits(t *testing.T) {
	segs := splitByListItems("- a thing\n- b thing\n- c thing\n- d thing")
	require.Len(t, segs, 4)
	capped := capSegments(segs, 2)
	assert.Len(t, capped, 2)
}

func TestSplitInheritAllFalse(t *testing.T) {
	e := newTestEngine(t)
	parent := encodeText(t, e, "Alpha part. Beta part.", "keepme")

	mustRun(t, e, fmt.Sprintf(`{"stage":"STO","op":"Split","target":{"ids":[%d]},"args":{"strategy":"by_sentences","params":{"by_sentences":{"lang":"en"}},"inherit_all":false}}`, parent))

	splitTag := fmt.Sprintf("split_from_%d", parent)
	children, err := e.Store().SelectWhere("tags LIKE ?", tagPattern(splitTag))
	require.NoError(t, err)
	require.NotEmpty(t, children)
	for _, c := range children {
		assert.False(t, c.HasTag("keepme"))
		assert.True(t, c.HasTag(splitTag))
	}
}

func TestExtractJSONArray(t *testing.T) {
	raw, ok := extractJSONArray(`noise before [{"text": "a]b"}, {"text": "c"}] trailing`)
	require.True(t, ok)
	assert.Equal(t, `[{"text": "a]b"}, {"text": "c"}]`, raw)

	_, ok = extractJSONArray(`no array here`)
	assert.False(t, ok)

	_, ok = extractJSONArray(`[unclosed`)
	assert.False(t, ok)
}
