// Package pipeline 定义了语料加载的核心流程：读取文档、分页切块、向量化并索引。
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"byggassistent/internal/config"
	"byggassistent/internal/corpus"
	"byggassistent/internal/model"
	"byggassistent/pkg/embedding"
	"byggassistent/pkg/es"
	"byggassistent/pkg/log"
	"byggassistent/pkg/storage"
	"byggassistent/pkg/tika"

	"github.com/panjf2000/ants/v2"
)

// OpenFunc 打开语料源文件。
type OpenFunc func(ctx context.Context, path string) (io.ReadCloser, error)

// Processor 封装了语料加载的所有依赖和逻辑。
type Processor struct {
	tikaClient      *tika.Client
	embeddingClient embedding.Client
	corpusCfg       config.CorpusConfig
	esCfg           config.ElasticsearchConfig
	embeddingCfg    config.EmbeddingConfig
	open            OpenFunc
}

// NewProcessor 创建一个新的 Processor 实例。embeddingClient 为 nil 时跳过向量化。
func NewProcessor(tikaClient *tika.Client, embeddingClient embedding.Client, cfg config.Config) *Processor {
	p := &Processor{
		tikaClient:      tikaClient,
		embeddingClient: embeddingClient,
		corpusCfg:       cfg.Corpus,
		esCfg:           cfg.Elasticsearch,
		embeddingCfg:    cfg.Embedding,
	}
	if cfg.Corpus.Source == "minio" {
		bucket := cfg.MinIO.BucketName
		p.open = func(ctx context.Context, path string) (io.ReadCloser, error) {
			return storage.GetObject(ctx, bucket, path)
		}
	} else {
		dir := cfg.Corpus.Dir
		p.open = func(ctx context.Context, path string) (io.ReadCloser, error) {
			if !filepath.IsAbs(path) {
				path = filepath.Join(dir, path)
			}
			return os.Open(path)
		}
	}
	return p
}

// LoadCorpus 按配置顺序加载全部文档，必要时向量化，然后构建只读段落库。
// 任何一个文档加载失败都会使整个加载失败。
func (p *Processor) LoadCorpus(ctx context.Context) (*corpus.Store, error) {
	sections := make([]corpus.Section, 0, len(p.corpusCfg.Sections))
	total := 0
	for _, sec := range p.corpusCfg.Sections {
		passages, err := p.LoadSection(ctx, sec)
		if err != nil {
			return nil, err
		}
		if p.corpusCfg.Embed && p.embeddingClient != nil {
			if err := p.EmbedPassages(ctx, passages); err != nil {
				return nil, fmt.Errorf("向量化文档 %s 失败: %w", sec.Name, err)
			}
		}
		total += len(passages)
		sections = append(sections, corpus.Section{Name: sec.Name, Passages: passages})
	}
	store, err := corpus.Build(sections...)
	if err != nil {
		return nil, fmt.Errorf("构建段落库失败: %w", err)
	}
	log.Infof("[Processor] 语料加载完成, 文档数: %d, 段落数: %d, 向量维度: %d", len(sections), total, store.Dimension())
	return store, nil
}

// LoadSection 读取一个文档并转换为段落。JSON 语料按条目转换，PDF 经 Tika 分页后按页切块。
func (p *Processor) LoadSection(ctx context.Context, sec config.SectionConfig) ([]model.Passage, error) {
	format := sectionFormat(sec)
	log.Infof("[Processor] 开始加载文档, Section: %s, Path: %s, Format: %s", sec.Name, sec.Path, format)

	r, err := p.open(ctx, sec.Path)
	if err != nil {
		log.Errorf("[Processor] 打开文档失败, Section: %s, Error: %v", sec.Name, err)
		return nil, fmt.Errorf("打开文档 %s 失败: %w", sec.Name, err)
	}
	defer r.Close()

	var passages []model.Passage
	switch format {
	case "json":
		passages, err = p.decodeJSON(r, sec.Name)
	case "pdf":
		passages, err = p.extractPDF(ctx, r, sec)
	default:
		err = fmt.Errorf("不支持的文档格式: %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("加载文档 %s 失败: %w", sec.Name, err)
	}
	if len(passages) == 0 {
		return nil, fmt.Errorf("文档 %s 没有可用的段落", sec.Name)
	}
	log.Infof("[Processor] 文档加载成功, Section: %s, 段落数: %d", sec.Name, len(passages))
	return passages, nil
}

func (p *Processor) decodeJSON(r io.Reader, section string) ([]model.Passage, error) {
	var entries []model.CorpusEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析 JSON 语料失败: %w", err)
	}
	passages := make([]model.Passage, 0, len(entries))
	for i, e := range entries {
		if strings.TrimSpace(e.Content) == "" {
			log.Warnf("[Processor] 跳过空段落, Section: %s, index: %d, page: %d", section, i, e.Page)
			continue
		}
		passages = append(passages, model.Passage{
			Section: section,
			Page:    e.Page,
			Content: e.Content,
			Vector:  e.Embedding,
		})
	}
	return passages, nil
}

func (p *Processor) extractPDF(ctx context.Context, r io.Reader, sec config.SectionConfig) ([]model.Passage, error) {
	if p.tikaClient == nil {
		return nil, errors.New("未配置 Tika，无法读取 PDF")
	}
	pages, err := p.tikaClient.ExtractPages(ctx, r, filepath.Base(sec.Path))
	if err != nil {
		log.Errorf("[Processor] 使用Tika提取文本失败, Section: %s, Error: %v", sec.Name, err)
		return nil, err
	}
	var passages []model.Passage
	for _, page := range pages {
		text := strings.TrimSpace(page.Text)
		if text == "" {
			continue
		}
		for _, chunk := range splitText(text, p.corpusCfg.ChunkSize, p.corpusCfg.ChunkOverlap) {
			if strings.TrimSpace(chunk) == "" {
				continue
			}
			passages = append(passages, model.Passage{Section: sec.Name, Page: page.Number, Content: chunk})
		}
	}
	log.Infof("[Processor] PDF 文本提取完成, Section: %s, 页数: %d, 分块数: %d", sec.Name, len(pages), len(passages))
	return passages, nil
}

// EmbedPassages 为缺少向量的段落批量生成向量，批次在 ants 协程池中并行执行。
func (p *Processor) EmbedPassages(ctx context.Context, passages []model.Passage) error {
	var pending []int
	for i := range passages {
		if !passages[i].HasEmbedding() {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	batchSize := p.embeddingCfg.BatchSize
	if batchSize <= 0 {
		batchSize = 16
	}
	workers := p.embeddingCfg.Workers
	if workers <= 0 {
		workers = 1
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return fmt.Errorf("创建向量化协程池失败: %w", err)
	}
	defer pool.Release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for start := 0; start < len(pending); start += batchSize {
		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			texts := make([]string, len(batch))
			for i, idx := range batch {
				texts[i] = passages[idx].Content
			}
			vectors, err := p.embeddingClient.CreateEmbeddings(ctx, texts)
			if err != nil {
				fail(err)
				return
			}
			if len(vectors) != len(batch) {
				fail(fmt.Errorf("向量数量 %d 与段落数量 %d 不一致", len(vectors), len(batch)))
				return
			}
			for i, idx := range batch {
				passages[idx].Vector = vectors[i]
			}
		})
		if submitErr != nil {
			wg.Done()
			fail(submitErr)
			break
		}
	}
	wg.Wait()
	if firstErr != nil {
		log.Errorf("[Processor] 段落向量化失败: %v", firstErr)
		return firstErr
	}
	log.Infof("[Processor] 段落向量化完成, 数量: %d", len(pending))
	return nil
}

// IndexStore 把带向量的段落索引到 Elasticsearch，文档 ID 由文档名与段落 ID 构成，重复执行是幂等的。
func (p *Processor) IndexStore(ctx context.Context, store *corpus.Store) error {
	passages := store.Passages()
	indexed := 0
	for i, passage := range passages {
		if !passage.HasEmbedding() {
			continue
		}
		doc := model.EsDocument{
			PassageID:    passage.ID,
			Section:      passage.Section,
			Page:         passage.Page,
			TextContent:  passage.Content,
			Vector:       passage.Vector,
			ModelVersion: p.embeddingCfg.Model,
		}
		if err := es.IndexDocument(ctx, p.esCfg.IndexName, doc, i == len(passages)-1); err != nil {
			log.Errorf("[Processor] 索引段落 %d 到Elasticsearch失败, Error: %v", passage.ID, err)
			return fmt.Errorf("索引段落 %d 到 Elasticsearch 失败: %w", passage.ID, err)
		}
		indexed++
	}
	log.Infof("[Processor] 段落索引完成, 数量: %d", indexed)
	return nil
}

func sectionFormat(sec config.SectionConfig) string {
	if sec.Format != "" {
		return strings.ToLower(sec.Format)
	}
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(sec.Path)), ".")
}

// splitText 将长文本按指定大小和重叠进行切分，按字符计数。
func splitText(text string, chunkSize int, chunkOverlap int) []string {
	if chunkSize <= 0 {
		return []string{text}
	}
	if utf8.RuneCountInString(text) <= chunkSize {
		return []string{text}
	}
	if chunkSize <= chunkOverlap || chunkOverlap < 0 {
		return simpleSplit(text, chunkSize)
	}

	var chunks []string
	runes := []rune(text)
	step := chunkSize - chunkOverlap
	for i := 0; i < len(runes); i += step {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks
}

func simpleSplit(text string, chunkSize int) []string {
	var chunks []string
	runes := []rune(text)
	for i := 0; i < len(runes); i += chunkSize {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
