// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"byggassistent/internal/config"
	"byggassistent/internal/model"
	"byggassistent/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

var ESClient *elasticsearch.Client

// InitES 初始化 Elasticsearch 客户端，dims 为段落向量维度（0 表示由首个文档推断）。
func InitES(esCfg config.ElasticsearchConfig, dims int) error {
	client, err := NewClient(esCfg)
	if err != nil {
		return err
	}
	ESClient = client
	return createIndexIfNotExists(esCfg.IndexName, dims)
}

// NewClient 创建 Elasticsearch 客户端但不修改全局变量。
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	return elasticsearch.NewClient(cfg)
}

// IndexMapping 返回段落索引的 mapping。text_content 使用内置的 norwegian 分析器。
func IndexMapping(dims int) ([]byte, error) {
	vector := map[string]any{
		"type":       "dense_vector",
		"index":      true,
		"similarity": "cosine",
	}
	if dims > 0 {
		vector["dims"] = dims
	}
	mapping := map[string]any{
		"mappings": map[string]any{
			"properties": map[string]any{
				"passage_id":    map[string]any{"type": "integer"},
				"section":       map[string]any{"type": "keyword"},
				"page":          map[string]any{"type": "integer"},
				"text_content":  map[string]any{"type": "text", "analyzer": "norwegian"},
				"vector":        vector,
				"model_version": map[string]any{"type": "keyword"},
			},
		},
	}
	return json.Marshal(mapping)
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func createIndexIfNotExists(indexName string, dims int) error {
	res, err := ESClient.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	// 如果 res.StatusCode 是 200，说明索引已存在
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	// 如果 res.StatusCode 是 404，说明索引不存在，需要创建
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	mapping, err := IndexMapping(dims)
	if err != nil {
		return err
	}
	res, err = ESClient.Indices.Create(
		indexName,
		ESClient.Indices.Create.WithBody(bytes.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功, dims: %d", indexName, dims)
	return nil
}

// IndexDocument 将单个段落索引到 Elasticsearch，同一段落重复索引会覆盖旧文档。
func IndexDocument(ctx context.Context, indexName string, doc model.EsDocument, refresh bool) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: DocumentID(doc),
		Body:       bytes.NewReader(docBytes),
	}
	if refresh {
		req.Refresh = "true"
	}

	res, err := req.Do(ctx, ESClient)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引文档到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index document")
	}

	return nil
}

// DocumentID 返回段落在索引中的文档 ID。
func DocumentID(doc model.EsDocument) string {
	return fmt.Sprintf("%s-%d", doc.Section, doc.PassageID)
}

// Hit 是 kNN 检索命中的一个段落。
type Hit struct {
	PassageID int
	Section   string
	Page      int
	Score     float64
}

type knnResponse struct {
	Hits struct {
		Hits []struct {
			Score  float64 `json:"_score"`
			Source struct {
				PassageID int    `json:"passage_id"`
				Section   string `json:"section"`
				Page      int    `json:"page"`
			} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// KNNQuery 构造 kNN 检索请求体。sections 非空时按文档名过滤。
func KNNQuery(vector []float32, k int, sections []string) ([]byte, error) {
	numCandidates := k * 10
	if numCandidates < 100 {
		numCandidates = 100
	}
	knn := map[string]any{
		"field":          "vector",
		"query_vector":   vector,
		"k":              k,
		"num_candidates": numCandidates,
	}
	if len(sections) > 0 {
		knn["filter"] = map[string]any{"terms": map[string]any{"section": sections}}
	}
	return json.Marshal(map[string]any{
		"knn":     knn,
		"size":    k,
		"_source": []string{"passage_id", "section", "page"},
	})
}

// KNNSearch 在段落索引上做近邻检索，按 Elasticsearch 的 _score 降序返回。
func KNNSearch(ctx context.Context, indexName string, vector []float32, k int, sections []string) ([]Hit, error) {
	if ESClient == nil {
		return nil, errors.New("elasticsearch client not initialized")
	}
	body, err := KNNQuery(vector, k, sections)
	if err != nil {
		return nil, err
	}
	res, err := ESClient.Search(
		ESClient.Search.WithContext(ctx),
		ESClient.Search.WithIndex(indexName),
		ESClient.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("knn search: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("kNN 检索时 Elasticsearch 返回错误: %s", res.String())
		return nil, fmt.Errorf("knn search failed: %s", res.Status())
	}

	var parsed knnResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode knn response: %w", err)
	}
	hits := make([]Hit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		hits = append(hits, Hit{
			PassageID: h.Source.PassageID,
			Section:   h.Source.Section,
			Page:      h.Source.Page,
			Score:     h.Score,
		})
	}
	return hits, nil
}
