// Package model 包含了应用的数据模型定义。
package model

// Passage 是语料中的一个文本片段，带有页码与所属文档，用于引用。
// 语料构建完成后 Passage 不再被修改。
type Passage struct {
	// ID 为段落在语料库中的全局顺序号，用于稳定排序与去重
	ID      int       `json:"id"`
	Section string    `json:"section"`
	Page    int       `json:"page"`
	Content string    `json:"content"`
	Vector  []float32 `json:"-"`
}

// HasEmbedding 判断段落是否带有预计算的向量。
func (p *Passage) HasEmbedding() bool {
	return len(p.Vector) > 0
}

// CorpusEntry 对应原始 JSON 语料文件中的一条记录：[{"content": "...", "page": 12}]
// Embedding 可选，存在时加载阶段不再调用 embedding 服务。
type CorpusEntry struct {
	Content   string    `json:"content"`
	Page      int       `json:"page"`
	Embedding []float32 `json:"embedding,omitempty"`
}
