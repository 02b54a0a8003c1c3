// Package retrieval 实现检索与排序引擎：词法、模糊与语义三种匹配器，
// 以及对候选段落的去重、排序、截断和格式化。
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"byggassistent/internal/corpus"
	"byggassistent/internal/model"

	"golang.org/x/text/unicode/norm"
)

const (
	MatcherLexical  = "lexical"
	MatcherFuzzy    = "fuzzy"
	MatcherSemantic = "semantic"
)

// Query 是一次检索请求。
type Query struct {
	Text string
	// Context 为此前的用户问题，仅语义匹配器用于补全多轮对话中的指代
	Context  string
	Sections []string
	// Matchers 为空时使用引擎的默认匹配器
	Matchers []string
}

// Candidate 是某个匹配器对一个段落的打分结果，每次查询重新生成。
type Candidate struct {
	Passage *model.Passage
	// Score 为匹配器原始分数：lexical 恒为 1，fuzzy 为 0-100，semantic 为余弦相似度
	Score float64
	// Relevance 为映射到 [0,1] 的分数，用于多个匹配器组合时排序
	Relevance float64
	Matcher   string
}

// NewCandidate 按匹配器的分数尺度计算 Relevance。
func NewCandidate(p *model.Passage, score float64, matcher string) Candidate {
	rel := score
	switch matcher {
	case MatcherFuzzy:
		rel = score / 100
	case MatcherSemantic:
		rel = (score + 1) / 2
	}
	return Candidate{Passage: p, Score: score, Relevance: rel, Matcher: matcher}
}

// Matcher 是所有匹配策略的统一能力。
type Matcher interface {
	Name() string
	Match(ctx context.Context, q Query, store *corpus.Store) ([]Candidate, error)
}

// Normalize 统一大小写与 Unicode 组合形式，使 "ø" 的预组合与分解写法等价。
func Normalize(s string) string {
	return norm.NFC.String(strings.ToLower(s))
}

// ParseMatchers 校验并去重匹配器名称。
func ParseMatchers(names []string) ([]string, error) {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		switch name {
		case MatcherLexical, MatcherFuzzy, MatcherSemantic:
		case "keyword", "substring":
			name = MatcherLexical
		case "":
			continue
		default:
			return nil, fmt.Errorf("%w: %q (valid: lexical, fuzzy, semantic)", ErrUnknownMatcher, raw)
		}
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out, nil
}
