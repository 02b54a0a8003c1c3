package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"byggassistent/internal/corpus"
	"byggassistent/pkg/log"
)

// Engine 按请求组合匹配器，并对候选进行排序。Engine 无可变状态，可并发使用。
type Engine struct {
	store    *corpus.Store
	matchers map[string]Matcher
	defaults []string
	ranker   *Ranker
	limit    int
}

// Option 配置 Engine。
type Option func(*Engine) error

// WithMatcher 注册一个匹配器，同名匹配器会被覆盖。
func WithMatcher(m Matcher) Option {
	return func(e *Engine) error {
		if m == nil {
			return errors.New("nil matcher")
		}
		e.matchers[m.Name()] = m
		return nil
	}
}

// WithDefaultMatchers 设置请求未指定匹配器时使用的组合。
func WithDefaultMatchers(names ...string) Option {
	return func(e *Engine) error {
		parsed, err := ParseMatchers(names)
		if err != nil {
			return err
		}
		e.defaults = parsed
		return nil
	}
}

// WithLimit 设置结果条数上限。
func WithLimit(n int) Option {
	return func(e *Engine) error {
		if n <= 0 {
			return fmt.Errorf("limit must be positive, got %d", n)
		}
		e.limit = n
		return nil
	}
}

// WithDedup 设置去重模式。
func WithDedup(mode DedupMode) Option {
	return func(e *Engine) error {
		e.ranker = NewRanker(mode)
		return nil
	}
}

// NewEngine 创建检索引擎。默认只启用词法匹配器。
func NewEngine(store *corpus.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("passage store required")
	}
	e := &Engine{
		store:    store,
		matchers: map[string]Matcher{MatcherLexical: NewLexicalMatcher()},
		defaults: []string{MatcherLexical},
		ranker:   NewRanker(DedupIdentity),
		limit:    DefaultLimit,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	for _, name := range e.defaults {
		if _, ok := e.matchers[name]; !ok {
			return nil, fmt.Errorf("%w: default matcher %q is not registered", ErrUnknownMatcher, name)
		}
	}
	return e, nil
}

// Store 返回引擎使用的段落库。
func (e *Engine) Store() *corpus.Store { return e.store }

// Limit 返回结果条数上限。
func (e *Engine) Limit() int { return e.limit }

// Search 执行一次检索：校验查询，依次运行匹配器，然后去重、排序、截断。
func (e *Engine) Search(ctx context.Context, q Query) (RankedResult, error) {
	if strings.TrimSpace(q.Text) == "" {
		return RankedResult{}, ErrEmptyQuery
	}
	for _, sec := range q.Sections {
		if !e.store.HasSection(sec) {
			return RankedResult{}, fmt.Errorf("%w: %q", ErrUnknownSection, sec)
		}
	}
	names := e.defaults
	if len(q.Matchers) > 0 {
		parsed, err := ParseMatchers(q.Matchers)
		if err != nil {
			return RankedResult{}, err
		}
		names = parsed
	}

	var candidates []Candidate
	for _, name := range names {
		m, ok := e.matchers[name]
		if !ok {
			return RankedResult{}, fmt.Errorf("%w: %q is not enabled", ErrUnknownMatcher, name)
		}
		found, err := m.Match(ctx, q, e.store)
		if err != nil {
			return RankedResult{}, fmt.Errorf("%s matcher: %w", name, err)
		}
		log.Debugf("[Engine] 匹配器 %s 返回 %d 个候选", name, len(found))
		candidates = append(candidates, found...)
	}

	result, err := e.ranker.Rank(candidates, e.limit)
	if err != nil {
		log.Error("[Engine] 候选聚合失败", err)
		return RankedResult{}, err
	}
	return result, nil
}
