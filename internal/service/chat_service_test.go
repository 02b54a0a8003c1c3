package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"byggassistent/internal/config"
	"byggassistent/internal/model"
	"byggassistent/internal/repository"
	"byggassistent/internal/retrieval"
	"byggassistent/pkg/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatService_Answer(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	id, err := f.conversations.CreateSession(ctx)
	require.NoError(t, err)

	resp, err := f.chat.Answer(ctx, ChatRequest{Query: "trapp", SessionID: id})
	require.NoError(t, err)
	assert.Equal(t, "Minst 0,9 m (Side 12).", resp.Answer)
	assert.Equal(t, []string{"Side 13"}, resp.References)
	require.Len(t, resp.Sources, 1)
	assert.Equal(t, "TEK17", resp.Sources[0].Section)

	msgs := f.llm.last()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "<<REF>>\n[1] (Side 13) Trapp i rømningsvei skal ha rekkverk\n<<END>>")
	assert.Equal(t, llm.Message{Role: model.RoleUser, Content: "trapp"}, msgs[1])

	history, err := f.conversations.GetHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, resp.Answer, history[1].Content)
	assert.Equal(t, ModeGenerate, f.publisher.tasks[0].Mode)
}

func TestChatService_HistoryPassedToModelIsCapped(t *testing.T) {
	const maxTurns = 4
	f := newFixture(t, maxTurns)
	ctx := context.Background()
	id, err := f.conversations.CreateSession(ctx)
	require.NoError(t, err)

	for i := 0; i < maxTurns+5; i++ {
		_, err := f.chat.Answer(ctx, ChatRequest{Query: fmt.Sprintf("rømningsvei %d", i), SessionID: id})
		require.NoError(t, err)

		msgs := f.llm.last()
		history := msgs[1 : len(msgs)-1]
		assert.LessOrEqual(t, len(history), maxTurns)
		for _, m := range history {
			assert.NotEqual(t, model.RoleSystem, m.Role)
		}
	}

	msgs := f.llm.last()
	require.Len(t, msgs, maxTurns+2)
	// 最近的一问一答在最后
	assert.Equal(t, "rømningsvei 7", msgs[len(msgs)-3].Content)
	assert.Equal(t, "rømningsvei 8", msgs[len(msgs)-1].Content)
}

func TestChatService_NoResultsPrompt(t *testing.T) {
	f := newFixture(t, 10)

	resp, err := f.chat.Answer(context.Background(), ChatRequest{Query: "heis"})
	require.NoError(t, err)
	assert.Empty(t, resp.References)
	assert.Contains(t, f.llm.last()[0].Content, defaultNoResultText)
}

func TestChatService_PromptConfig(t *testing.T) {
	f := newFixture(t, 10)
	chat := NewChatService(f.search, f.conversations, f.llm, config.LLMPromptConfig{
		Rules: "Svar kort.", RefStart: "[[", RefEnd: "]]", NoResultText: "Ingen treff.",
	}, nil)

	_, err := chat.Answer(context.Background(), ChatRequest{Query: "heis"})
	require.NoError(t, err)
	assert.Equal(t, "Svar kort.\n\n[[\nIngen treff.\n]]", f.llm.last()[0].Content)
}

func TestChatService_ErrorsPropagate(t *testing.T) {
	f := newFixture(t, 10)
	ctx := context.Background()
	id, err := f.conversations.CreateSession(ctx)
	require.NoError(t, err)

	_, err = f.chat.Answer(ctx, ChatRequest{Query: " "})
	assert.ErrorIs(t, err, retrieval.ErrEmptyQuery)
	assert.Empty(t, f.llm.received)

	_, err = f.chat.Answer(ctx, ChatRequest{Query: "trapp", SessionID: "missing"})
	assert.ErrorIs(t, err, repository.ErrSessionNotFound)

	f.llm.err = fmt.Errorf("status 429: %w", llm.ErrQuotaExceeded)
	_, err = f.chat.Answer(ctx, ChatRequest{Query: "trapp", SessionID: id})
	assert.ErrorIs(t, err, llm.ErrQuotaExceeded)

	history, err := f.conversations.GetHistory(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestChatService_RetrievalFailure(t *testing.T) {
	f := newFixture(t, 10)
	store := regulationStore(t)
	failing := embedFunc(func(ctx context.Context, text string) ([]float32, error) {
		return nil, context.DeadlineExceeded
	})
	engine, err := retrieval.NewEngine(store,
		retrieval.WithMatcher(retrieval.NewSemanticMatcher(failing, 3)),
		retrieval.WithDefaultMatchers("semantic"),
	)
	require.NoError(t, err)
	search := NewSearchService(engine, f.conversations, retrieval.Formatter{}, 1)
	chat := NewChatService(search, f.conversations, f.llm, config.LLMPromptConfig{}, nil)

	_, err = chat.Answer(context.Background(), ChatRequest{Query: "rømningsvei"})
	assert.ErrorIs(t, err, retrieval.ErrRetrievalUnavailable)
	assert.Empty(t, f.llm.received)
}

func TestChatService_PerSection(t *testing.T) {
	f := newFixture(t, 10)

	resp, err := f.chat.Answer(context.Background(), ChatRequest{Query: "rømningsvei", PerSection: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"TEK17, side 12", "TEK17, side 13", "PBL, side 7"}, resp.References)
	assert.Contains(t, f.llm.last()[0].Content, "[3] (PBL, side 7) Kommunen skal behandle søknader om rømningsvei")

	resp, err = f.chat.Answer(context.Background(), ChatRequest{Query: "rømningsvei", PerSection: true, Sections: []string{"PBL"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"PBL, side 7"}, resp.References)
}

func TestChatService_PerSectionKeepsLimitPerSection(t *testing.T) {
	f := newFixture(t, 10)
	engine, err := retrieval.NewEngine(f.store, retrieval.WithLimit(1))
	require.NoError(t, err)
	search := NewSearchService(engine, f.conversations, retrieval.Formatter{}, 1)
	chat := NewChatService(search, f.conversations, f.llm, config.LLMPromptConfig{}, f.store.Sections())

	resp, err := chat.Answer(context.Background(), ChatRequest{Query: "rømningsvei"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Side 12"}, resp.References)

	resp, err = chat.Answer(context.Background(), ChatRequest{Query: "rømningsvei", PerSection: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"TEK17, side 12", "PBL, side 7"}, resp.References)
}

func TestChatService_StreamResponse(t *testing.T) {
	f := newFixture(t, 10)
	f.llm.chunks = []string{"Minst ", "0,9 m."}
	ctx := context.Background()
	id, err := f.conversations.CreateSession(ctx)
	require.NoError(t, err)

	w := &recordingWriter{}
	require.NoError(t, f.chat.StreamResponse(ctx, ChatRequest{Query: "rømningsvei", SessionID: id}, w, nil))
	require.Len(t, w.messages, 3)
	assert.JSONEq(t, `{"chunk":"Minst "}`, w.messages[0])

	var done map[string]any
	require.NoError(t, json.Unmarshal([]byte(w.messages[2]), &done))
	assert.Equal(t, "completion", done["type"])
	assert.Equal(t, []any{"Side 12", "Side 13", "Side 7"}, done["references"])

	history, err := f.conversations.GetHistory(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Minst 0,9 m.", history[1].Content)
}

func TestChatService_StreamStopped(t *testing.T) {
	f := newFixture(t, 10)
	f.llm.chunks = []string{"a", "b", "c"}
	w := &recordingWriter{}

	require.NoError(t, f.chat.StreamResponse(context.Background(), ChatRequest{Query: "trapp"}, w, func() bool { return true }))
	require.Len(t, w.messages, 1)
	var done map[string]any
	require.NoError(t, json.Unmarshal([]byte(w.messages[0]), &done))
	assert.Equal(t, "completion", done["type"])
	assert.Equal(t, "stopped", done["status"])
}

func TestChatService_StreamStoppedMidAnswerIsNotRecorded(t *testing.T) {
	f := newFixture(t, 10)
	f.llm.chunks = []string{"Minst ", "0,9 ", "m."}
	ctx := context.Background()
	id, err := f.conversations.CreateSession(ctx)
	require.NoError(t, err)

	w := &recordingWriter{}
	stopAfterFirst := func() bool { return len(w.messages) >= 1 }
	require.NoError(t, f.chat.StreamResponse(ctx, ChatRequest{Query: "trapp", SessionID: id}, w, stopAfterFirst))
	require.Len(t, w.messages, 2)
	assert.JSONEq(t, `{"chunk":"Minst "}`, w.messages[0])
	assert.Contains(t, w.messages[1], `"status":"stopped"`)

	history, err := f.conversations.GetHistory(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestChatService_StreamProviderFailure(t *testing.T) {
	f := newFixture(t, 10)
	f.llm.err = fmt.Errorf("stream interrupted: %w", llm.ErrUnavailable)
	ctx := context.Background()
	id, err := f.conversations.CreateSession(ctx)
	require.NoError(t, err)

	w := &recordingWriter{}
	err = f.chat.StreamResponse(ctx, ChatRequest{Query: "trapp", SessionID: id}, w, func() bool { return false })
	assert.ErrorIs(t, err, llm.ErrUnavailable)
	assert.Empty(t, w.messages, "no completion frame after a failed stream")

	history, err := f.conversations.GetHistory(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, history)
}
