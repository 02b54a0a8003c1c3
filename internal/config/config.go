// Package config 负责加载和管理应用程序的配置。
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	Log           LogConfig           `mapstructure:"log"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Tika          TikaConfig          `mapstructure:"tika"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Corpus        CorpusConfig        `mapstructure:"corpus"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
	Session       SessionConfig       `mapstructure:"session"`
	Archive       ArchiveConfig       `mapstructure:"archive"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JWTConfig 存储会话令牌的签名配置。
type JWTConfig struct {
	Secret                  string `mapstructure:"secret"`
	SessionTokenExpireHours int    `mapstructure:"session_token_expire_hours"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// MinIOConfig 存储 MinIO 对象存储的配置。
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// EmbeddingConfig 存储 Embedding 模型相关的配置。
type EmbeddingConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"`
	Model             string  `mapstructure:"model"`
	Dimensions        int     `mapstructure:"dimensions"`
	BatchSize         int     `mapstructure:"batch_size"`
	Workers           int     `mapstructure:"workers"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	// Enabled 为 true 时开启生成模式（/api/v1/chat）
	Enabled           bool                `mapstructure:"enabled"`
	APIKey            string              `mapstructure:"api_key"`
	BaseURL           string              `mapstructure:"base_url"`
	Model             string              `mapstructure:"model"`
	RequestsPerSecond float64             `mapstructure:"requests_per_second"`
	TimeoutSeconds    int                 `mapstructure:"timeout_seconds"`
	Generation        LLMGenerationConfig `mapstructure:"generation"`
	Prompt            LLMPromptConfig     `mapstructure:"prompt"`
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置系统提示与上下文包裹格式（可选）。
type LLMPromptConfig struct {
	Rules        string `mapstructure:"rules"`
	RefStart     string `mapstructure:"ref_start"`
	RefEnd       string `mapstructure:"ref_end"`
	NoResultText string `mapstructure:"no_result_text"`
}

// CorpusConfig 描述启动时需要加载的法规文档。
type CorpusConfig struct {
	// Source 为 "file" 或 "minio"
	Source       string          `mapstructure:"source"`
	Dir          string          `mapstructure:"dir"`
	ChunkSize    int             `mapstructure:"chunk_size"`
	ChunkOverlap int             `mapstructure:"chunk_overlap"`
	Embed        bool            `mapstructure:"embed"`
	Sections     []SectionConfig `mapstructure:"sections"`
}

// SectionConfig 对应语料中的一个文档（如 TEK17）。
type SectionConfig struct {
	Name string `mapstructure:"name"`
	Path string `mapstructure:"path"`
	// Format 为 "json" 或 "pdf"，为空时按扩展名推断
	Format string `mapstructure:"format"`
}

// RetrievalConfig 控制匹配器与排序。
type RetrievalConfig struct {
	Matchers             []string `mapstructure:"matchers"`
	Backend              string   `mapstructure:"backend"`
	FuzzyThreshold       float64  `mapstructure:"fuzzy_threshold"`
	Limit                int      `mapstructure:"limit"`
	TopK                 int      `mapstructure:"top_k"`
	SnippetLength        int      `mapstructure:"snippet_length"`
	Dedup                string   `mapstructure:"dedup"`
	ReferenceWithSection bool     `mapstructure:"reference_with_section"`
	ContextTurns         int      `mapstructure:"context_turns"`
}

// SessionConfig 控制对话会话的存储与截断策略。
type SessionConfig struct {
	Store       string `mapstructure:"store"`
	MaxTurns    int    `mapstructure:"max_turns"`
	RetainTurns int    `mapstructure:"retain_turns"`
	TTLHours    int    `mapstructure:"ttl_hours"`
}

// ArchiveConfig 控制对话归档（Kafka -> MySQL）。
type ArchiveConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}

// Load 读取配置文件并返回解析结果，不修改全局变量。
func Load(configPath string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BYGG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// 未配置时回退到 OPENAI_API_KEY
	_ = v.BindEnv("llm.api_key", "BYGG_LLM_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("embedding.api_key", "BYGG_EMBEDDING_API_KEY", "OPENAI_API_KEY")

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "5000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("jwt.session_token_expire_hours", 24)
	v.SetDefault("kafka.topic", "conversation-turns")
	v.SetDefault("kafka.group_id", "byggassistent-archive")
	v.SetDefault("elasticsearch.index_name", "regulation_passages")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.batch_size", 16)
	v.SetDefault("embedding.workers", 4)
	v.SetDefault("embedding.timeout_seconds", 15)
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout_seconds", 60)
	v.SetDefault("corpus.source", "file")
	v.SetDefault("corpus.dir", "inndata")
	v.SetDefault("corpus.chunk_size", 1000)
	v.SetDefault("corpus.chunk_overlap", 100)
	v.SetDefault("retrieval.matchers", []string{"lexical"})
	v.SetDefault("retrieval.backend", "memory")
	v.SetDefault("retrieval.fuzzy_threshold", 70.0)
	v.SetDefault("retrieval.limit", 3)
	v.SetDefault("retrieval.top_k", 3)
	v.SetDefault("retrieval.snippet_length", 200)
	v.SetDefault("retrieval.dedup", "identity")
	v.SetDefault("retrieval.context_turns", 1)
	v.SetDefault("session.store", "memory")
	v.SetDefault("session.max_turns", 10)
	v.SetDefault("session.retain_turns", 200)
	v.SetDefault("session.ttl_hours", 168)
}

// UsesSemantic 判断当前配置是否需要 embedding 服务。
func (c Config) UsesSemantic() bool {
	for _, m := range c.Retrieval.Matchers {
		if m == "semantic" {
			return true
		}
	}
	return c.Corpus.Embed
}

// CheckCredentials 在启用语义检索或生成模式但没有配置密钥时返回错误。
// 指向本地兼容服务（base_url 非空）时允许不配置密钥。
func (c Config) CheckCredentials() error {
	if c.UsesSemantic() && c.Embedding.APIKey == "" && c.Embedding.BaseURL == "" {
		return errors.New("语义检索需要 embedding.api_key（或环境变量 OPENAI_API_KEY）")
	}
	if c.LLM.Enabled && c.LLM.APIKey == "" && c.LLM.BaseURL == "" {
		return errors.New("生成模式需要 llm.api_key（或环境变量 OPENAI_API_KEY）")
	}
	return nil
}

// Validate 检查配置中的取值范围。
func (c Config) Validate() error {
	if c.Retrieval.Limit <= 0 {
		return errors.New("retrieval.limit 必须大于 0")
	}
	if c.Retrieval.SnippetLength <= 0 {
		return errors.New("retrieval.snippet_length 必须大于 0")
	}
	if c.Retrieval.FuzzyThreshold < 0 || c.Retrieval.FuzzyThreshold > 100 {
		return fmt.Errorf("retrieval.fuzzy_threshold 超出范围 [0,100]: %v", c.Retrieval.FuzzyThreshold)
	}
	if c.Session.MaxTurns <= 0 {
		return errors.New("session.max_turns 必须大于 0")
	}
	switch c.Retrieval.Dedup {
	case "identity", "content":
	default:
		return fmt.Errorf("未知的 retrieval.dedup: %q", c.Retrieval.Dedup)
	}
	switch c.Session.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("未知的 session.store: %q", c.Session.Store)
	}
	return nil
}
