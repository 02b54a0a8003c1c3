package retrieval

import (
	"fmt"
	"math"
	"sort"

	"byggassistent/internal/model"
)

// DefaultLimit 是排序结果的默认条数上限。
const DefaultLimit = 3

// DedupMode 决定两个候选何时被视为同一段落。
type DedupMode string

const (
	// DedupIdentity 按段落 ID 去重。
	DedupIdentity DedupMode = "identity"
	// DedupContent 按规范化后的内容去重，用于合并 PDF 切块重叠产生的重复段落。
	DedupContent DedupMode = "content"
)

// RankedPassage 是排序结果中的一项。
type RankedPassage struct {
	Passage   *model.Passage
	Score     float64
	Relevance float64
	Matcher   string
}

// RankedResult 是去重、排序并截断后的结果。Items 为空表示没有找到相关段落，这是正常结果而非错误。
// Ranker 产生的结果长度不超过 limit；按文档分别检索时，合并结果是各文档结果的并集，
// 每个文档最多 limit 条，总长度因此可达 limit × 文档数。
type RankedResult struct {
	Items []RankedPassage
}

// Found 表示是否至少有一个段落通过了接受条件。
func (r RankedResult) Found() bool { return len(r.Items) > 0 }

// Ranker 聚合各匹配器的候选。
type Ranker struct {
	dedup DedupMode
}

// NewRanker 创建排序器，未知的去重模式按 identity 处理。
func NewRanker(dedup DedupMode) *Ranker {
	if dedup != DedupContent {
		dedup = DedupIdentity
	}
	return &Ranker{dedup: dedup}
}

// Rank 去重（保留最高分）、按分数降序稳定排序（同分按语料顺序）并截断到 limit。
func (r *Ranker) Rank(candidates []Candidate, limit int) (RankedResult, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	best := make(map[string]int, len(candidates))
	merged := make([]RankedPassage, 0, len(candidates))
	for i, c := range candidates {
		if c.Passage == nil {
			return RankedResult{}, fmt.Errorf("%w: candidate %d has no passage", ErrInternalRanking, i)
		}
		if math.IsNaN(c.Relevance) || math.IsInf(c.Relevance, 0) {
			return RankedResult{}, fmt.Errorf("%w: candidate %d (passage %d) has invalid score %v",
				ErrInternalRanking, i, c.Passage.ID, c.Relevance)
		}
		key := r.key(c.Passage)
		item := RankedPassage{Passage: c.Passage, Score: c.Score, Relevance: c.Relevance, Matcher: c.Matcher}
		idx, seen := best[key]
		if !seen {
			best[key] = len(merged)
			merged = append(merged, item)
			continue
		}
		cur := merged[idx]
		if item.Relevance > cur.Relevance ||
			(item.Relevance == cur.Relevance && item.Passage.ID < cur.Passage.ID) {
			merged[idx] = item
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Relevance != merged[j].Relevance {
			return merged[i].Relevance > merged[j].Relevance
		}
		return merged[i].Passage.ID < merged[j].Passage.ID
	})
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return RankedResult{Items: merged}, nil
}

func (r *Ranker) key(p *model.Passage) string {
	if r.dedup == DedupContent {
		return Normalize(p.Content)
	}
	return fmt.Sprintf("#%d", p.ID)
}
