package splitter

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/poiesic/chunkmap/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustNew(t *testing.T, size, overlap int) *Splitter {
	t.Helper()
	s, err := New(core.ChunkParams{Size: size, Overlap: overlap})
	require.NoError(t, err)
	return s
}

func TestNew_InvalidParams(t *testing.T) {
	for _, p := range []core.ChunkParams{{Size: 0}, {Size: 4, Overlap: 4}, {Size: 4, Overlap: -1}} {
		_, err := New(p)
		assert.ErrorIs(t, err, core.ErrInvalidParams, "params %+v", p)
	}
}

func TestSplit_CharacterLevel(t *testing.T) {
	s := mustNew(t, 4, 1)
	chunks, err := s.Split("ABCDEFGHIJ")
	require.NoError(t, err)
	assert.Equal(t, []string{"ABCD", "DEFG", "GHIJ"}, chunks)

	s = mustNew(t, 8, 2)
	chunks, err = s.Split("ABCDEFGHIJ")
	require.NoError(t, err)
	assert.Equal(t, []string{"ABCDEFGH", "GHIJ"}, chunks)
}

func TestSplit_ShortText(t *testing.T) {
	s := mustNew(t, 2000, 200)
	chunks, err := s.Split("A short abstract.")
	require.NoError(t, err)
	assert.Equal(t, []string{"A short abstract."}, chunks)
}

func TestSplit_Empty(t *testing.T) {
	s := mustNew(t, 10, 2)
	for _, text := range []string{"", "   ", "\n\n\t"} {
		chunks, err := s.Split(text)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	}
}

func TestSplit_PrefersParagraphs(t *testing.T) {
	s := mustNew(t, 30, 0)
	text := "First paragraph here.\n\nSecond paragraph here."
	chunks, err := s.Split(text)
	require.NoError(t, err)
	assert.Equal(t, []string{"First paragraph here.", "Second paragraph here."}, chunks)
}

func TestSplit_FlattensNewlines(t *testing.T) {
	s := mustNew(t, 100, 10)
	chunks, err := s.Split("line one\nline two\nline three")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "line one line two line three", chunks[0])
}

func TestSplit_Invariants(t *testing.T) {
	s := mustNew(t, 50, 10)
	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("The quick brown fox jumps over the lazy dog. ")
		if i%7 == 6 {
			b.WriteString("\n\n")
		}
	}

	chunks, err := s.Split(b.String())
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.NotEmpty(t, c)
		assert.Equal(t, strings.TrimSpace(c), c)
		assert.NotContains(t, c, "\n")
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 50)
	}
}

func TestSplit_RuneLength(t *testing.T) {
	s := mustNew(t, 3, 0)
	chunks, err := s.Split("αβγδεζ")
	require.NoError(t, err)
	assert.Equal(t, []string{"αβγ", "δεζ"}, chunks)
}

func TestSplitDocument(t *testing.T) {
	s := mustNew(t, 4, 1)
	chunks, err := s.SplitDocument("doc", "ABCDEFGHIJ")
	require.NoError(t, err)
	require.NoError(t, core.ValidateChunks("doc", chunks))
	assert.Equal(t, core.Chunk{DocumentID: "doc", ChunkID: 2, Text: "GHIJ"}, chunks[2])
	assert.Equal(t, core.ChunkParams{Size: 4, Overlap: 1}, s.Params())
}

// paperCorpus is sentence and paragraph rich, and every sentence is distinct,
// so each chunk has a single location in the text.
func paperCorpus() string {
	var b strings.Builder
	for p := range 6 {
		for s := range 5 {
			fmt.Fprintf(&b, "Claim %d.%d holds for model %c%d under ablation. ", p, s, 'A'+p, s)
			if s == 2 {
				b.WriteString("\n")
			}
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

func withoutSpace(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// assertCovers checks that chunks are in-order substrings of the normalized
// text whose union covers every non-whitespace character.
func assertCovers(t *testing.T, text string, chunks []string) {
	t.Helper()
	normalized := core.NormalizeText(text)
	require.NotEmpty(t, chunks)

	covered, prevStart := 0, 0
	for i, c := range chunks {
		offset := strings.Index(normalized[prevStart:], c)
		require.GreaterOrEqual(t, offset, 0, "chunk %d %q is not an in-order substring of the text", i, c)
		start := prevStart + offset
		end := start + len(c)

		if start > covered {
			assert.Empty(t, strings.TrimSpace(normalized[covered:start]),
				"text between chunk %d and %d is lost", i-1, i)
		}
		require.Greater(t, end, covered, "chunk %d does not advance past chunk %d", i, i-1)
		covered, prevStart = end, start
	}
	assert.Empty(t, strings.TrimSpace(normalized[covered:]), "text after the last chunk is lost")
}

func TestSplit_Coverage(t *testing.T) {
	text := paperCorpus()
	for _, p := range []core.ChunkParams{
		{Size: 20, Overlap: 0},
		{Size: 30, Overlap: 5},
		{Size: 80, Overlap: 15},
		{Size: 200, Overlap: 40},
		{Size: 2000, Overlap: 200},
	} {
		t.Run(p.Version(), func(t *testing.T) {
			chunks, err := mustNew(t, p.Size, p.Overlap).Split(text)
			require.NoError(t, err)
			assertCovers(t, text, chunks)
		})
	}
}

func TestSplit_KeepsSentencePunctuation(t *testing.T) {
	text := "Alpha beta gamma. Delta epsilon zeta. Eta theta iota."
	chunks, err := mustNew(t, 20, 0).Split(text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	assert.Equal(t, withoutSpace(text), withoutSpace(strings.Join(chunks, "")))
	assertCovers(t, text, chunks)
}

func TestSplit_Deterministic(t *testing.T) {
	text := paperCorpus()
	s := mustNew(t, 80, 15)

	first, err := s.Split(text)
	require.NoError(t, err)
	second, err := s.Split(text)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	third, err := mustNew(t, 80, 15).Split(text)
	require.NoError(t, err)
	assert.Equal(t, first, third)
}
