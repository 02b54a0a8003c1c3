package main

import (
	"context"
	"fmt"
	"time"

	"byggassistent/internal/config"
	"byggassistent/internal/corpus"
	"byggassistent/internal/pipeline"
	"byggassistent/internal/repository"
	"byggassistent/internal/retrieval"
	"byggassistent/internal/service"
	"byggassistent/pkg/database"
	"byggassistent/pkg/embedding"
	"byggassistent/pkg/es"
	"byggassistent/pkg/kafka"
	"byggassistent/pkg/llm"
	"byggassistent/pkg/log"
	"byggassistent/pkg/storage"
	"byggassistent/pkg/tika"
)

// app 持有一次运行所需的全部组件。
type app struct {
	cfg           config.Config
	store         *corpus.Store
	conversations service.ConversationService
	search        service.SearchService
	chat          service.ChatService
	archive       *service.ArchiveService
	producer      *kafka.Producer
	consumer      *kafka.Consumer
	memorySession *repository.MemoryConversationRepository
}

// newApp 按配置装配组件。oneShot 为 true 时使用内存会话并关闭归档，用于命令行单次问答。
func newApp(ctx context.Context, cfg config.Config, oneShot bool) (*app, error) {
	// 1. 启用语义检索或生成模式时必须有密钥
	if err := cfg.CheckCredentials(); err != nil {
		return nil, err
	}
	a := &app{cfg: cfg}

	// 2. 初始化外部客户端
	var embeddingClient embedding.Client
	if cfg.UsesSemantic() {
		var err error
		embeddingClient, err = embedding.NewClient(cfg.Embedding)
		if err != nil {
			return nil, fmt.Errorf("初始化 embedding 客户端失败: %w", err)
		}
	}
	var tikaClient *tika.Client
	if cfg.Tika.ServerURL != "" {
		tikaClient = tika.NewClient(cfg.Tika)
	}
	if cfg.Corpus.Source == "minio" {
		if err := storage.InitMinIO(cfg.MinIO); err != nil {
			return nil, err
		}
	}

	// 3. 加载语料
	processor := pipeline.NewProcessor(tikaClient, embeddingClient, cfg)
	store, err := processor.LoadCorpus(ctx)
	if err != nil {
		return nil, fmt.Errorf("加载语料失败: %w", err)
	}
	a.store = store

	// 4. 构建检索引擎
	engine, err := a.buildEngine(ctx, processor, embeddingClient)
	if err != nil {
		return nil, err
	}

	// 5. 会话存储与归档
	repo, err := a.buildConversationRepository(oneShot)
	if err != nil {
		return nil, err
	}
	var publisher service.TurnPublisher
	if cfg.Archive.Enabled && !oneShot {
		if err := database.InitMySQL(cfg.Database.MySQL); err != nil {
			return nil, err
		}
		a.archive = service.NewArchiveService(repository.NewConversationArchiveRepository(database.DB))
		a.producer = kafka.NewProducer(cfg.Kafka)
		a.consumer = kafka.NewConsumer(cfg.Kafka, a.archive, database.RDB)
		publisher = a.producer
	}

	// 6. 业务服务
	a.conversations = service.NewConversationService(repo, cfg.Session.MaxTurns, publisher)
	formatter := retrieval.Formatter{SnippetLength: cfg.Retrieval.SnippetLength, WithSection: cfg.Retrieval.ReferenceWithSection}
	a.search = service.NewSearchService(engine, a.conversations, formatter, cfg.Retrieval.ContextTurns)
	if cfg.LLM.Enabled {
		a.chat = service.NewChatService(a.search, a.conversations, llm.NewClient(cfg.LLM), cfg.LLM.Prompt, store.Sections())
	}
	return a, nil
}

func (a *app) buildEngine(ctx context.Context, processor *pipeline.Processor, embeddingClient embedding.Client) (*retrieval.Engine, error) {
	cfg := a.cfg.Retrieval
	opts := []retrieval.Option{
		retrieval.WithMatcher(retrieval.NewFuzzyMatcher(cfg.FuzzyThreshold)),
		retrieval.WithLimit(cfg.Limit),
		retrieval.WithDedup(retrieval.DedupMode(cfg.Dedup)),
	}
	if embeddingClient != nil {
		var index retrieval.VectorIndex = retrieval.LinearIndex{}
		if cfg.Backend == "elasticsearch" {
			if err := es.InitES(a.cfg.Elasticsearch, a.store.Dimension()); err != nil {
				return nil, fmt.Errorf("初始化 Elasticsearch 失败: %w", err)
			}
			if err := processor.IndexStore(ctx, a.store); err != nil {
				return nil, err
			}
			index = repository.NewESPassageIndex(a.cfg.Elasticsearch.IndexName)
		}
		timeout := time.Duration(a.cfg.Embedding.TimeoutSeconds) * time.Second
		opts = append(opts, retrieval.WithMatcher(retrieval.NewSemanticMatcher(embeddingClient, cfg.TopK,
			retrieval.WithIndex(index), retrieval.WithEmbedTimeout(timeout))))
	}
	opts = append(opts, retrieval.WithDefaultMatchers(cfg.Matchers...))

	engine, err := retrieval.NewEngine(a.store, opts...)
	if err != nil {
		return nil, fmt.Errorf("构建检索引擎失败: %w", err)
	}
	log.Infof("检索引擎就绪, 默认匹配器: %v, backend: %s, limit: %d", cfg.Matchers, cfg.Backend, cfg.Limit)
	return engine, nil
}

func (a *app) buildConversationRepository(oneShot bool) (repository.ConversationRepository, error) {
	opts := repository.StoreOptions{
		RetainTurns: a.cfg.Session.RetainTurns,
		TTL:         time.Duration(a.cfg.Session.TTLHours) * time.Hour,
	}
	if a.cfg.Session.Store == "redis" && !oneShot {
		if err := database.InitRedis(a.cfg.Database.Redis); err != nil {
			return nil, err
		}
		return repository.NewRedisConversationRepository(database.RDB, opts), nil
	}
	a.memorySession = repository.NewMemoryConversationRepository(opts)
	return a.memorySession, nil
}

// runBackground 启动归档消费者与过期会话清理，直到 ctx 被取消。
func (a *app) runBackground(ctx context.Context) {
	if a.consumer != nil {
		go a.consumer.Run(ctx)
	}
	if a.memorySession != nil && a.cfg.Session.TTLHours > 0 {
		go func() {
			ticker := time.NewTicker(time.Minute)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n := a.memorySession.Sweep(); n > 0 {
						log.Infof("清理过期会话 %d 个", n)
					}
				}
			}
		}()
	}
}

func (a *app) close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			log.Errorf("关闭 Kafka 生产者失败: %v", err)
		}
	}
}
