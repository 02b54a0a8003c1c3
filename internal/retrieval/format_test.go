package retrieval

import (
	"strings"
	"testing"
	"unicode/utf8"

	"byggassistent/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatter_NoResults(t *testing.T) {
	answer := Formatter{}.Format(RankedResult{})

	assert.Equal(t, NoResultMessage, answer.Summary)
	assert.NotNil(t, answer.References)
	assert.Empty(t, answer.References)
	assert.Empty(t, answer.Sources)
}

func TestFormatter_Summary(t *testing.T) {
	short := &model.Passage{ID: 0, Section: "TEK17", Page: 12, Content: "Rømningsvei skal være minimum 0.9m bred"}
	long := &model.Passage{ID: 1, Section: "PBL", Page: 0, Content: strings.Repeat("ø", 30)}
	result := RankedResult{Items: []RankedPassage{
		{Passage: short, Score: 1, Relevance: 1},
		{Passage: long, Score: 80, Relevance: 0.8},
	}}

	answer := Formatter{SnippetLength: 10}.Format(result)
	want := "Oppsummering:\n\n- Rømningsve...\n\n- " + strings.Repeat("ø", 10) + "..."
	assert.Equal(t, want, answer.Summary)
	assert.Equal(t, []string{"Side 12", "Ukjent side"}, answer.References)
	require.Len(t, answer.Sources, 2)
	assert.Equal(t, "TEK17", answer.Sources[0].Section)
	assert.Equal(t, "Rømningsve", answer.Sources[0].Snippet)
}

func TestFormatter_FullSnippetHasNoEllipsis(t *testing.T) {
	p := &model.Passage{ID: 0, Page: 2, Content: "Kort avsnitt"}
	answer := Formatter{}.Format(RankedResult{Items: []RankedPassage{{Passage: p, Relevance: 1}}})

	assert.Equal(t, "Oppsummering:\n\n- Kort avsnitt", answer.Summary)
}

func TestFormatter_InvalidBytesAreNotTruncation(t *testing.T) {
	p := &model.Passage{Page: 4, Content: "Trapp\xff\xfe med rekkverk"}
	answer := Formatter{}.Format(RankedResult{Items: []RankedPassage{{Passage: p, Relevance: 1}}})

	assert.Equal(t, "Oppsummering:\n\n- Trapp\uFFFD med rekkverk", answer.Summary)
	assert.NotContains(t, answer.Summary, "...")

	long := &model.Passage{Page: 5, Content: "\xffabcdef"}
	answer = Formatter{SnippetLength: 3}.Format(RankedResult{Items: []RankedPassage{{Passage: long, Relevance: 1}}})
	assert.Equal(t, "Oppsummering:\n\n- \uFFFDab...", answer.Summary)
}

func TestFormatter_Label(t *testing.T) {
	p := &model.Passage{Section: "TEK17", Page: 12}

	assert.Equal(t, "Side 12", Formatter{}.Label(p))
	assert.Equal(t, "TEK17, side 12", Formatter{WithSection: true}.Label(p))
	assert.Equal(t, "TEK17, ukjent side", Formatter{WithSection: true}.Label(&model.Passage{Section: "TEK17"}))
}

func TestFormatter_References(t *testing.T) {
	result := RankedResult{Items: []RankedPassage{
		{Passage: &model.Passage{ID: 3, Page: 7}},
		{Passage: &model.Passage{ID: 1, Page: 2}},
	}}

	assert.Equal(t, []string{"Side 7", "Side 2"}, Formatter{}.References(result))
	assert.Empty(t, Formatter{}.References(RankedResult{}))
}

func TestSnippet_MultiByte(t *testing.T) {
	text := strings.Repeat("æøå", 100)

	for _, max := range []int{1, 2, 7, 200, 299, 300, 301} {
		got := Snippet(text, max)
		assert.True(t, utf8.ValidString(got), "max=%d", max)
		assert.LessOrEqual(t, utf8.RuneCountInString(got), max)
		assert.True(t, strings.HasPrefix(text, got))
	}
	assert.Equal(t, 200, utf8.RuneCountInString(Snippet(text, DefaultSnippetLength)))
	assert.Equal(t, text, Snippet(text, 300))
	assert.Empty(t, Snippet(text, 0))
}

func TestSnippet_InvalidBytes(t *testing.T) {
	got := Snippet("vei\xffbredde", 5)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 5, utf8.RuneCountInString(got))
}
