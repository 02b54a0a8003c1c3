package retrieval

import (
	"context"
	"strings"

	"byggassistent/internal/corpus"
)

// LexicalMatcher 做大小写不敏感的子串包含匹配，分数只有命中与未命中。
type LexicalMatcher struct{}

// NewLexicalMatcher 创建词法匹配器。
func NewLexicalMatcher() *LexicalMatcher {
	return &LexicalMatcher{}
}

func (m *LexicalMatcher) Name() string { return MatcherLexical }

// Match 返回内容包含查询串的全部段落。空查询返回空结果，而不是匹配全部。
func (m *LexicalMatcher) Match(ctx context.Context, q Query, store *corpus.Store) ([]Candidate, error) {
	needle := Normalize(strings.TrimSpace(q.Text))
	if needle == "" {
		return nil, nil
	}
	var out []Candidate
	for _, p := range store.Passages(q.Sections...) {
		if strings.Contains(Normalize(p.Content), needle) {
			out = append(out, NewCandidate(p, 1, MatcherLexical))
		}
	}
	return out, nil
}
