package service

import (
	"context"
	"sync"
	"testing"

	"byggassistent/internal/config"
	"byggassistent/internal/corpus"
	"byggassistent/internal/model"
	"byggassistent/internal/repository"
	"byggassistent/internal/retrieval"
	"byggassistent/pkg/llm"
	"byggassistent/pkg/tasks"

	"github.com/stretchr/testify/require"
)

type embedFunc func(ctx context.Context, text string) ([]float32, error)

func (f embedFunc) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

type mockLLM struct {
	answer   string
	chunks   []string
	err      error
	mu       sync.Mutex
	received [][]llm.Message
}

func (m *mockLLM) ChatMessages(ctx context.Context, msgs []llm.Message, gen *llm.GenerationParams) (string, error) {
	m.mu.Lock()
	m.received = append(m.received, msgs)
	m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	return m.answer, nil
}

func (m *mockLLM) StreamChatMessages(ctx context.Context, msgs []llm.Message, gen *llm.GenerationParams, w llm.MessageWriter) error {
	m.mu.Lock()
	m.received = append(m.received, msgs)
	m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, c := range m.chunks {
		if err := w.WriteMessage(1, []byte(c)); err != nil {
			return err
		}
	}
	return nil
}

func (m *mockLLM) last() []llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.received) == 0 {
		return nil
	}
	return m.received[len(m.received)-1]
}

type recordingWriter struct {
	messages []string
}

func (w *recordingWriter) WriteMessage(messageType int, data []byte) error {
	w.messages = append(w.messages, string(data))
	return nil
}

type recordingPublisher struct {
	mu    sync.Mutex
	tasks []tasks.TurnArchiveTask
	err   error
}

func (p *recordingPublisher) ProduceTurnArchive(ctx context.Context, task tasks.TurnArchiveTask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, task)
	return p.err
}

func regulationStore(t *testing.T) *corpus.Store {
	t.Helper()
	store, err := corpus.Build(
		corpus.Section{Name: "TEK17", Passages: []model.Passage{
			{Page: 12, Content: "Rømningsvei skal være minimum 0.9m bred", Vector: []float32{1, 0}},
			{Page: 13, Content: "Trapp i rømningsvei skal ha rekkverk", Vector: []float32{0.8, 0.6}},
		}},
		corpus.Section{Name: "PBL", Passages: []model.Passage{
			{Page: 7, Content: "Kommunen skal behandle søknader om rømningsvei", Vector: []float32{0.6, 0.8}},
		}},
	)
	require.NoError(t, err)
	return store
}

type fixture struct {
	store         *corpus.Store
	conversations ConversationService
	search        SearchService
	llm           *mockLLM
	chat          ChatService
	publisher     *recordingPublisher
	embedded      []string
}

func newFixture(t *testing.T, maxTurns int) *fixture {
	t.Helper()
	f := &fixture{store: regulationStore(t), llm: &mockLLM{answer: "Minst 0,9 m (Side 12)."}, publisher: &recordingPublisher{}}
	var mu sync.Mutex
	embedder := embedFunc(func(ctx context.Context, text string) ([]float32, error) {
		mu.Lock()
		f.embedded = append(f.embedded, text)
		mu.Unlock()
		return []float32{1, 0}, nil
	})
	engine, err := retrieval.NewEngine(f.store, retrieval.WithMatcher(retrieval.NewSemanticMatcher(embedder, 1)))
	require.NoError(t, err)

	repo := repository.NewMemoryConversationRepository(repository.StoreOptions{})
	f.conversations = NewConversationService(repo, maxTurns, f.publisher)
	f.search = NewSearchService(engine, f.conversations, retrieval.Formatter{SnippetLength: 200}, 1)
	f.chat = NewChatService(f.search, f.conversations, f.llm, config.LLMPromptConfig{}, f.store.Sections())
	return f
}
