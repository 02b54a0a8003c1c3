package retrieval

import "errors"

var (
	// ErrEmptyQuery 表示用户没有提交查询内容（客户端错误，不重试）。
	ErrEmptyQuery = errors.New("empty query")

	// ErrUnknownMatcher 表示请求了未注册的匹配器。
	ErrUnknownMatcher = errors.New("unknown matcher")

	// ErrUnknownSection 表示请求了语料中不存在的文档。
	ErrUnknownSection = errors.New("unknown section")

	// ErrEncodingFailure 表示单个段落因文本异常无法评分，该段落会被跳过。
	ErrEncodingFailure = errors.New("passage encoding failure")

	// ErrRetrievalUnavailable 表示 embedding 或近邻检索无法完成（服务端错误）。
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrInternalRanking 表示聚合阶段发现了非法候选。
	ErrInternalRanking = errors.New("internal ranking error")
)
