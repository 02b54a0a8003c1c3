package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"byggassistent/internal/corpus"
	"byggassistent/pkg/log"
)

// Embedder 把文本转换为向量。
type Embedder interface {
	CreateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex 在段落向量上做 k 近邻检索。实现可以是线性扫描，也可以是外部索引。
type VectorIndex interface {
	Search(ctx context.Context, store *corpus.Store, vector []float32, k int, sections []string) ([]Candidate, error)
}

// LinearIndex 对内存中的全部段落做余弦相似度线性扫描。
type LinearIndex struct{}

// Search 返回相似度最高的 k 个段落，同分按语料顺序。
func (LinearIndex) Search(ctx context.Context, store *corpus.Store, vector []float32, k int, sections []string) ([]Candidate, error) {
	if k <= 0 || len(vector) == 0 {
		return nil, nil
	}
	qNorm := norm2(vector)
	if qNorm == 0 {
		return nil, fmt.Errorf("%w: zero query vector", ErrRetrievalUnavailable)
	}
	var out []Candidate
	for _, p := range store.Passages(sections...) {
		if !p.HasEmbedding() {
			continue
		}
		if len(p.Vector) != len(vector) {
			log.Warnw("[LinearIndex] 向量维度不一致，已跳过",
				"passageID", p.ID, "got", len(p.Vector), "want", len(vector))
			continue
		}
		pNorm := norm2(p.Vector)
		if pNorm == 0 {
			continue
		}
		var dot float64
		for i := range vector {
			dot += float64(vector[i]) * float64(p.Vector[i])
		}
		out = append(out, NewCandidate(p, dot/(qNorm*pNorm), MatcherSemantic))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Passage.ID < out[j].Passage.ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func norm2(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// SemanticMatcher 先向量化查询，再交给 VectorIndex 做近邻检索。
type SemanticMatcher struct {
	embedder Embedder
	index    VectorIndex
	k        int
	timeout  time.Duration
}

// SemanticOption 配置 SemanticMatcher。
type SemanticOption func(*SemanticMatcher)

// WithIndex 替换默认的线性扫描索引。
func WithIndex(index VectorIndex) SemanticOption {
	return func(m *SemanticMatcher) {
		if index != nil {
			m.index = index
		}
	}
}

// WithEmbedTimeout 限制单次查询向量化的耗时。
func WithEmbedTimeout(d time.Duration) SemanticOption {
	return func(m *SemanticMatcher) { m.timeout = d }
}

// NewSemanticMatcher 创建语义匹配器。
func NewSemanticMatcher(embedder Embedder, k int, opts ...SemanticOption) *SemanticMatcher {
	m := &SemanticMatcher{embedder: embedder, index: LinearIndex{}, k: k}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *SemanticMatcher) Name() string { return MatcherSemantic }

// Match 向量化失败或超时时返回 ErrRetrievalUnavailable，不做静默重试。
func (m *SemanticMatcher) Match(ctx context.Context, q Query, store *corpus.Store) ([]Candidate, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, nil
	}
	if m.embedder == nil {
		return nil, fmt.Errorf("%w: no embedding provider configured", ErrRetrievalUnavailable)
	}
	if q.Context != "" {
		text = q.Context + "\n" + text
	}

	embedCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		embedCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	vector, err := m.embedder.CreateEmbedding(embedCtx, text)
	if err != nil {
		log.Errorf("[SemanticMatcher] 查询向量化失败: %v", err)
		return nil, fmt.Errorf("%w: embed query: %w", ErrRetrievalUnavailable, err)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query embedding", ErrRetrievalUnavailable)
	}
	if dim := store.Dimension(); dim > 0 && dim != len(vector) {
		return nil, fmt.Errorf("%w: query dimension %d does not match corpus dimension %d",
			ErrRetrievalUnavailable, len(vector), dim)
	}

	candidates, err := m.index.Search(ctx, store, vector, m.k, q.Sections)
	if err != nil {
		if errors.Is(err, ErrRetrievalUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: vector search: %w", ErrRetrievalUnavailable, err)
	}
	return candidates, nil
}
