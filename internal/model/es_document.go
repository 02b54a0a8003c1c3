// Package model 定义了与外部存储对应的 Go 结构体。
package model

// SearchResponse 是片段模式（/ask）返回给前端的结构。
type SearchResponse struct {
	Summary    string   `json:"summary"`
	References []string `json:"references"`
}

// Source 描述答案引用的一个段落。
type Source struct {
	Section string  `json:"section"`
	Page    int     `json:"page"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
}

// AnswerResponse 是生成模式返回给前端的结构。
type AnswerResponse struct {
	Answer     string   `json:"answer"`
	References []string `json:"references"`
	Sources    []Source `json:"sources,omitempty"`
}

// EsDocument 定义了存储在 Elasticsearch 中的段落文档结构。
type EsDocument struct {
	PassageID    int       `json:"passage_id"`
	Section      string    `json:"section"`
	Page         int       `json:"page"`
	TextContent  string    `json:"text_content"`
	Vector       []float32 `json:"vector"` // 文本内容的向量表示
	ModelVersion string    `json:"model_version"`
}
