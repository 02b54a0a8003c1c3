package retrieval

import (
	"context"
	"testing"

	"byggassistent/internal/corpus"
	"byggassistent/internal/model"
	"github.com/stretchr/testify/require"
)

// mockEmbedder 通过函数字段注入行为。
type mockEmbedder struct {
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)
	calls     int
	lastText  string
}

func (m *mockEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	m.calls++
	m.lastText = text
	return m.EmbedFunc(ctx, text)
}

func newStore(t *testing.T, sections ...corpus.Section) *corpus.Store {
	t.Helper()
	store, err := corpus.Build(sections...)
	require.NoError(t, err)
	return store
}

func tek17Store(t *testing.T) *corpus.Store {
	return newStore(t, corpus.Section{Name: "TEK17", Passages: []model.Passage{
		{Page: 12, Content: "Rømningsvei skal være minimum 0.9m bred"},
	}})
}

func regulationStore(t *testing.T) *corpus.Store {
	return newStore(t,
		corpus.Section{Name: "TEK17", Passages: []model.Passage{
			{Page: 12, Content: "Rømningsvei skal være minimum 0.9m bred", Vector: []float32{1, 0, 0}},
			{Page: 13, Content: "Trapp i rømningsvei skal ha rekkverk", Vector: []float32{0.8, 0.6, 0}},
			{Page: 40, Content: "Krav til ventilasjon i boliger", Vector: []float32{0, 0, 1}},
		}},
		corpus.Section{Name: "PBL", Passages: []model.Passage{
			{Page: 3, Content: "Søknadsplikt for tiltak etter plan- og bygningsloven", Vector: []float32{0, 1, 0}},
			{Page: 7, Content: "Kommunen skal behandle søknader om rømningsvei", Vector: []float32{0.6, 0.8, 0}},
		}},
	)
}

func passageIDs(items []RankedPassage) []int {
	ids := make([]int, len(items))
	for i, it := range items {
		ids[i] = it.Passage.ID
	}
	return ids
}
