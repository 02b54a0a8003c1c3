package retrieval

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"byggassistent/internal/model"
)

const (
	// NoResultMessage 是没有找到相关段落时的固定摘要。
	NoResultMessage = "Ingen relevante avsnitt ble funnet."
	// DefaultSnippetLength 是摘要片段的默认最大字符数。
	DefaultSnippetLength = 200

	summaryHeader = "Oppsummering:"
)

// Answer 是格式化后的检索结果。
type Answer struct {
	Summary    string
	References []string
	Sources    []model.Source
}

// Formatter 把排序结果转换为摘要与引用列表。
type Formatter struct {
	SnippetLength int
	// WithSection 为 true 时引用标签包含文档名，如 "TEK17, side 12"
	WithSection bool
}

// Format 为每个段落生成片段与引用。空结果返回固定的"未找到"摘要和空引用列表。
func (f Formatter) Format(result RankedResult) Answer {
	if !result.Found() {
		return Answer{Summary: NoResultMessage, References: []string{}, Sources: []model.Source{}}
	}
	var b strings.Builder
	b.WriteString(summaryHeader)
	b.WriteString("\n\n")
	refs := make([]string, 0, len(result.Items))
	sources := make([]model.Source, 0, len(result.Items))
	for _, item := range result.Items {
		snippet := Snippet(item.Passage.Content, f.snippetLength())
		b.WriteString("- ")
		b.WriteString(snippet)
		if truncated(snippet, item.Passage.Content) {
			b.WriteString("...")
		}
		b.WriteString("\n\n")
		refs = append(refs, f.Label(item.Passage))
		sources = append(sources, model.Source{
			Section: item.Passage.Section,
			Page:    item.Passage.Page,
			Snippet: snippet,
			Score:   item.Score,
		})
	}
	return Answer{
		Summary:    strings.TrimSpace(b.String()),
		References: refs,
		Sources:    sources,
	}
}

// References 只生成引用标签，供生成模式使用。
func (f Formatter) References(result RankedResult) []string {
	refs := make([]string, 0, len(result.Items))
	for _, item := range result.Items {
		refs = append(refs, f.Label(item.Passage))
	}
	return refs
}

// Label 由文档名和页码生成可读的引用。
func (f Formatter) Label(p *model.Passage) string {
	page := fmt.Sprintf("Side %d", p.Page)
	if p.Page <= 0 {
		page = "Ukjent side"
	}
	if f.WithSection && p.Section != "" {
		return p.Section + ", " + strings.ToLower(page[:1]) + page[1:]
	}
	return page
}

func (f Formatter) snippetLength() int {
	if f.SnippetLength <= 0 {
		return DefaultSnippetLength
	}
	return f.SnippetLength
}

// truncated 判断 snippet 是否短于内容；无效字节按 Snippet 的替换规则计数。
func truncated(snippet, content string) bool {
	return utf8.RuneCountInString(snippet) < utf8.RuneCountInString(strings.ToValidUTF8(content, "\uFFFD"))
}

// Snippet 返回不超过 max 个字符的前缀，截断只发生在字符边界上。
func Snippet(text string, max int) string {
	text = strings.ToValidUTF8(text, "�")
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	count := 0
	for i := range text {
		if count == max {
			return text[:i]
		}
		count++
	}
	return text
}
