package repository

import (
	"context"
	"fmt"

	"byggassistent/internal/corpus"
	"byggassistent/internal/retrieval"
	"byggassistent/pkg/es"
	"byggassistent/pkg/log"
)

// KNNSearchFunc 执行一次 Elasticsearch kNN 检索。
type KNNSearchFunc func(ctx context.Context, indexName string, vector []float32, k int, sections []string) ([]es.Hit, error)

// ESPassageIndex 用 Elasticsearch 的 dense_vector 索引实现 retrieval.VectorIndex。
// 命中结果通过 passage_id 映射回内存中的段落库。
type ESPassageIndex struct {
	indexName string
	search    KNNSearchFunc
}

// NewESPassageIndex 创建基于 Elasticsearch 的向量索引。
func NewESPassageIndex(indexName string) *ESPassageIndex {
	return &ESPassageIndex{indexName: indexName, search: es.KNNSearch}
}

// Search 返回相似度最高的 k 个段落。Elasticsearch 的 cosine _score 为 (1+cos)/2，这里换算回余弦值。
func (x *ESPassageIndex) Search(ctx context.Context, store *corpus.Store, vector []float32, k int, sections []string) ([]retrieval.Candidate, error) {
	if k <= 0 {
		return nil, nil
	}
	hits, err := x.search(ctx, x.indexName, vector, k, sections)
	if err != nil {
		return nil, fmt.Errorf("es knn: %w", err)
	}
	out := make([]retrieval.Candidate, 0, len(hits))
	for _, h := range hits {
		p, ok := store.Get(h.PassageID)
		if !ok || p.Section != h.Section || p.Page != h.Page {
			log.Warnw("[ESPassageIndex] 索引中的段落与语料不一致，已跳过",
				"passageID", h.PassageID, "section", h.Section, "page", h.Page)
			continue
		}
		out = append(out, retrieval.NewCandidate(p, 2*h.Score-1, retrieval.MatcherSemantic))
	}
	return out, nil
}
