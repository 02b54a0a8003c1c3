// Package corpus 提供只读的内存段落库（Passage Store）。
//
// Store 在启动时一次性构建，之后只读，可在并发请求间无锁共享。
package corpus

import (
	"errors"
	"fmt"
	"strings"

	"byggassistent/internal/model"
)

var (
	// ErrEmptyContent 表示段落内容为空。
	ErrEmptyContent = errors.New("passage content is empty")
	// ErrDimensionMismatch 表示同一语料内向量维度不一致。
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrDuplicateSection 表示同名文档被重复加入。
	ErrDuplicateSection = errors.New("duplicate section")
)

// Section 是一个命名文档及其段落。
type Section struct {
	Name     string
	Passages []model.Passage
}

// Store 持有全部段落，按加入顺序编号。
type Store struct {
	passages  []*model.Passage
	sections  map[string][]*model.Passage
	order     []string
	dimension int
}

// Build 按给定顺序构建 Store。段落被复制，调用方之后的修改不会影响 Store。
func Build(sections ...Section) (*Store, error) {
	s := &Store{sections: make(map[string][]*model.Passage)}
	for _, sec := range sections {
		name := strings.TrimSpace(sec.Name)
		if _, exists := s.sections[name]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSection, name)
		}
		s.order = append(s.order, name)
		list := make([]*model.Passage, 0, len(sec.Passages))
		for _, p := range sec.Passages {
			if strings.TrimSpace(p.Content) == "" {
				return nil, fmt.Errorf("%w: section=%s page=%d", ErrEmptyContent, name, p.Page)
			}
			if len(p.Vector) > 0 {
				if s.dimension == 0 {
					s.dimension = len(p.Vector)
				} else if len(p.Vector) != s.dimension {
					return nil, fmt.Errorf("%w: section=%s page=%d got=%d want=%d",
						ErrDimensionMismatch, name, p.Page, len(p.Vector), s.dimension)
				}
			}
			cp := &model.Passage{
				ID:      len(s.passages),
				Section: name,
				Page:    p.Page,
				Content: p.Content,
			}
			if len(p.Vector) > 0 {
				cp.Vector = append([]float32(nil), p.Vector...)
			}
			s.passages = append(s.passages, cp)
			list = append(list, cp)
		}
		s.sections[name] = list
	}
	return s, nil
}

// Passages 返回指定文档的段落（按语料顺序）；不传参数时返回全部段落。
// 未知的文档名会被忽略。返回的切片可由调用方自由重排，但其中的 Passage 只读。
func (s *Store) Passages(sections ...string) []*model.Passage {
	if s == nil {
		return nil
	}
	if len(sections) == 0 {
		out := make([]*model.Passage, len(s.passages))
		copy(out, s.passages)
		return out
	}
	want := make(map[string]bool, len(sections))
	for _, name := range sections {
		want[name] = true
	}
	var out []*model.Passage
	for _, p := range s.passages {
		if want[p.Section] {
			out = append(out, p)
		}
	}
	return out
}

// Get 按 ID 返回段落。
func (s *Store) Get(id int) (*model.Passage, bool) {
	if s == nil || id < 0 || id >= len(s.passages) {
		return nil, false
	}
	return s.passages[id], true
}

// Sections 返回文档名（按加入顺序）。
func (s *Store) Sections() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.order...)
}

// HasSection 判断文档是否存在。
func (s *Store) HasSection(name string) bool {
	if s == nil {
		return false
	}
	_, ok := s.sections[name]
	return ok
}

// Len 返回段落总数。
func (s *Store) Len() int {
	if s == nil {
		return 0
	}
	return len(s.passages)
}

// Counts 返回每个文档的段落数。
func (s *Store) Counts() map[string]int {
	if s == nil {
		return map[string]int{}
	}
	out := make(map[string]int, len(s.order))
	for name, list := range s.sections {
		out[name] = len(list)
	}
	return out
}

// Dimension 返回向量维度；没有向量时为 0。
func (s *Store) Dimension() int {
	if s == nil {
		return 0
	}
	return s.dimension
}
