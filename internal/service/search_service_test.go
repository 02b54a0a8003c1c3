package service

import (
	"context"
	"testing"

	"byggassistent/internal/model"
	"byggassistent/internal/repository"
	"byggassistent/internal/retrieval"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchService_AskStateless(t *testing.T) {
	f := newFixture(t, 10)

	answer, err := f.search.Ask(context.Background(), SearchRequest{Query: "rømningsvei"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Side 12", "Side 13", "Side 7"}, answer.References)
	assert.Contains(t, answer.Summary, "Oppsummering:")
	assert.Contains(t, answer.Summary, "- Rømningsvei skal være minimum 0.9m bred")
	assert.Empty(t, f.publisher.tasks)
}

func TestSearchService_AskNoResults(t *testing.T) {
	f := newFixture(t, 10)

	answer, err := f.search.Ask(context.Background(), SearchRequest{Query: "heis"})
	require.NoError(t, err)
	assert.Equal(t, retrieval.NoResultMessage, answer.Summary)
	assert.Empty(t, answer.References)
}

func TestSearchService_AskErrors(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()

	_, err := f.search.Ask(ctx, SearchRequest{Query: "   "})
	assert.ErrorIs(t, err, retrieval.ErrEmptyQuery)

	_, err = f.search.Ask(ctx, SearchRequest{Query: "trapp", Sections: []string{"BREEAM"}})
	assert.ErrorIs(t, err, retrieval.ErrUnknownSection)

	_, err = f.search.Ask(ctx, SearchRequest{Query: "trapp", Matchers: []string{"regex"}})
	assert.ErrorIs(t, err, retrieval.ErrUnknownMatcher)

	_, err = f.search.Ask(ctx, SearchRequest{Query: "trapp", SessionID: "missing"})
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)
}

func TestSearchService_AskRecordsTurns(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	id, err := f.conversations.CreateSession(ctx)
	require.NoError(t, err)

	answer, err := f.search.Ask(ctx, SearchRequest{Query: "trapp", SessionID: id, Sections: []string{"TEK17"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Side 13"}, answer.References)

	history, err := f.conversations.GetHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.ChatMessage{Role: model.RoleUser, Content: "trapp", Timestamp: history[0].Timestamp}, history[0])
	assert.Equal(t, answer.Summary, history[1].Content)
	require.Len(t, f.publisher.tasks, 1)
	assert.Equal(t, ModeSnippet, f.publisher.tasks[0].Mode)
}

func TestSearchService_SemanticUsesPreviousQuestion(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	id, err := f.conversations.CreateSession(ctx)
	require.NoError(t, err)

	_, err = f.search.Ask(ctx, SearchRequest{Query: "Hva er kravene til rømningsvei?", SessionID: id})
	require.NoError(t, err)

	result, err := f.search.Retrieve(ctx, SearchRequest{Query: "Og bredden?", SessionID: id, Matchers: []string{"semantic"}})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, 12, result.Items[0].Passage.Page)
	assert.Equal(t, []string{"Hva er kravene til rømningsvei?\nOg bredden?"}, f.embedded)

	// 无会话时不带上下文
	_, err = f.search.Retrieve(ctx, SearchRequest{Query: "Og bredden?", Matchers: []string{"semantic"}})
	require.NoError(t, err)
	assert.Equal(t, "Og bredden?", f.embedded[1])
}
