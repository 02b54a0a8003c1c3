package retrieval

import (
	"context"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"byggassistent/internal/corpus"
	"byggassistent/pkg/log"

	"github.com/agnivade/levenshtein"
)

// DefaultFuzzyThreshold 是模糊匹配的默认接受阈值（0-100）。
const DefaultFuzzyThreshold = 70.0

// Scorer 计算查询与段落内容的相似度（0-100）。
type Scorer interface {
	Score(query, content string) (float64, error)
}

// ScorerFunc 让普通函数满足 Scorer 接口。
type ScorerFunc func(query, content string) (float64, error)

func (f ScorerFunc) Score(query, content string) (float64, error) { return f(query, content) }

// FuzzyMatcher 对每个段落计算近似相似度，分数严格大于阈值才被接受。
type FuzzyMatcher struct {
	threshold float64
	scorer    Scorer
}

// FuzzyOption 配置 FuzzyMatcher。
type FuzzyOption func(*FuzzyMatcher)

// WithScorer 替换默认的 PartialRatio 评分器。
func WithScorer(s Scorer) FuzzyOption {
	return func(m *FuzzyMatcher) {
		if s != nil {
			m.scorer = s
		}
	}
}

// NewFuzzyMatcher 创建模糊匹配器。
func NewFuzzyMatcher(threshold float64, opts ...FuzzyOption) *FuzzyMatcher {
	m := &FuzzyMatcher{threshold: threshold, scorer: ScorerFunc(PartialRatio)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *FuzzyMatcher) Name() string { return MatcherFuzzy }

// Threshold 返回接受阈值。
func (m *FuzzyMatcher) Threshold() float64 { return m.threshold }

// Match 逐段评分。单个段落评分失败只记录日志并跳过，不影响整个查询。
func (m *FuzzyMatcher) Match(ctx context.Context, q Query, store *corpus.Store) ([]Candidate, error) {
	query := strings.TrimSpace(q.Text)
	if query == "" {
		return nil, nil
	}
	var out []Candidate
	for i, p := range store.Passages(q.Sections...) {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		score, err := m.scorer.Score(query, p.Content)
		if err != nil {
			log.Warnw("[FuzzyMatcher] 段落评分失败，已跳过",
				"section", p.Section, "page", p.Page, "passageID", p.ID, "error", err)
			continue
		}
		if math.IsNaN(score) {
			log.Warnw("[FuzzyMatcher] 段落评分为 NaN，已跳过", "passageID", p.ID)
			continue
		}
		if score > m.threshold {
			out = append(out, NewCandidate(p, score, MatcherFuzzy))
		}
	}
	return out, nil
}

// PartialRatio 返回查询与内容中最佳对齐子串的相似度（0-100）。
// 当查询不短于内容时退化为整串比较。
func PartialRatio(query, content string) (float64, error) {
	if !utf8.ValidString(query) || !utf8.ValidString(content) {
		return 0, fmt.Errorf("%w: invalid UTF-8", ErrEncodingFailure)
	}
	a := []rune(Normalize(query))
	b := []rune(Normalize(content))
	if len(a) == 0 || len(b) == 0 {
		return 0, nil
	}
	if len(a) >= len(b) {
		d := levenshtein.ComputeDistance(string(a), string(b))
		return 100 * (1 - float64(d)/float64(len(a))), nil
	}
	d := substringDistance(a, b)
	return 100 * (1 - float64(d)/float64(len(a))), nil
}

// substringDistance 计算 needle 与 haystack 任意连续子串之间的最小编辑距离。
// haystack 的起止位置不计代价，结果不超过 len(needle)。
func substringDistance(needle, haystack []rune) int {
	prev := make([]int, len(haystack)+1)
	cur := make([]int, len(haystack)+1)
	for i := 1; i <= len(needle); i++ {
		cur[0] = i
		for j := 1; j <= len(haystack); j++ {
			cost := 1
			if needle[i-1] == haystack[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j-1]+cost, prev[j]+1, cur[j-1]+1)
		}
		prev, cur = cur, prev
	}
	best := prev[0]
	for _, d := range prev[1:] {
		if d < best {
			best = d
		}
	}
	return best
}
