package corpus

import (
	"testing"

	"byggassistent/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	tek := []model.Passage{
		{Page: 12, Content: "Rømningsvei skal være minimum 0.9m bred"},
		{Page: 13, Content: "Trapp skal ha rekkverk"},
	}
	pbl := []model.Passage{
		{Page: 1, Content: "Plan- og bygningsloven gjelder hele landet"},
	}

	store, err := Build(Section{Name: "TEK17", Passages: tek}, Section{Name: "PBL", Passages: pbl})
	require.NoError(t, err)

	assert.Equal(t, 3, store.Len())
	assert.Equal(t, []string{"TEK17", "PBL"}, store.Sections())
	assert.Equal(t, map[string]int{"TEK17": 2, "PBL": 1}, store.Counts())

	all := store.Passages()
	require.Len(t, all, 3)
	for i, p := range all {
		assert.Equal(t, i, p.ID)
	}
	assert.Equal(t, "TEK17", all[1].Section)
	assert.Equal(t, "PBL", all[2].Section)

	t.Run("section filter keeps corpus order", func(t *testing.T) {
		got := store.Passages("PBL", "TEK17")
		require.Len(t, got, 3)
		assert.Equal(t, 0, got[0].ID)
		assert.Equal(t, 2, got[2].ID)
	})

	t.Run("unknown section is ignored", func(t *testing.T) {
		assert.Empty(t, store.Passages("AML"))
		assert.False(t, store.HasSection("AML"))
	})

	t.Run("caller mutation does not leak into store", func(t *testing.T) {
		tek[0].Content = "endret"
		p, ok := store.Get(0)
		require.True(t, ok)
		assert.Equal(t, "Rømningsvei skal være minimum 0.9m bred", p.Content)
	})

	t.Run("get out of range", func(t *testing.T) {
		_, ok := store.Get(99)
		assert.False(t, ok)
	})
}

func TestBuild_Errors(t *testing.T) {
	t.Run("empty content", func(t *testing.T) {
		_, err := Build(Section{Name: "TEK17", Passages: []model.Passage{{Page: 1, Content: "  "}}})
		assert.ErrorIs(t, err, ErrEmptyContent)
	})

	t.Run("duplicate section", func(t *testing.T) {
		_, err := Build(Section{Name: "TEK17"}, Section{Name: "TEK17"})
		assert.ErrorIs(t, err, ErrDuplicateSection)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		_, err := Build(Section{Name: "TEK17", Passages: []model.Passage{
			{Page: 1, Content: "a", Vector: []float32{1, 0}},
			{Page: 2, Content: "b", Vector: []float32{1, 0, 0}},
		}})
		assert.ErrorIs(t, err, ErrDimensionMismatch)
	})
}

func TestNilStore(t *testing.T) {
	var store *Store
	assert.Equal(t, 0, store.Len())
	assert.Nil(t, store.Passages())
	assert.Empty(t, store.Counts())
}
