// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
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
	VectorIndex   VectorIndexConfig   `mapstructure:"vector_index"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	PGVector      PGVectorConfig      `mapstructure:"pgvector"`
	MinIO         MinIOConfig         `mapstructure:"minio"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	LLM           LLMConfig           `mapstructure:"llm"`
	OCR           OCRConfig           `mapstructure:"ocr"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Maintenance   MaintenanceConfig   `mapstructure:"maintenance"`
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

// JWTConfig 存储 JWT 相关的配置。
type JWTConfig struct {
	Secret                 string `mapstructure:"secret"`
	AccessTokenExpireHours int    `mapstructure:"access_token_expire_hours"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// KafkaConfig 存储 Kafka 相关的配置。Brokers 为空时使用进程内 worker pool。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// TikaConfig 存储 Tika 服务器相关的配置。
type TikaConfig struct {
	ServerURL string `mapstructure:"server_url"`
}

// VectorIndexConfig 选择向量索引的实现: elasticsearch | pgvector | memory | none。
type VectorIndexConfig struct {
	Driver string `mapstructure:"driver"`
}

// ElasticsearchConfig 存储 Elasticsearch 相关的配置。
type ElasticsearchConfig struct {
	Addresses string `mapstructure:"addresses"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	IndexName string `mapstructure:"index_name"`
}

// PGVectorConfig 存储 PostgreSQL + pgvector 的连接配置。
type PGVectorConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
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
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// Enabled 表示是否配置了 embedding 服务。
func (c EmbeddingConfig) Enabled() bool {
	return c.BaseURL != "" && c.Model != ""
}

// LLMConfig 存储大语言模型相关的配置。
type LLMConfig struct {
	APIKey           string              `mapstructure:"api_key"`
	BaseURL          string              `mapstructure:"base_url"`
	Model            string              `mapstructure:"model"`
	MaxContextTokens int                 `mapstructure:"max_context_tokens"`
	Generation       LLMGenerationConfig `mapstructure:"generation"`
	Prompt           LLMPromptConfig     `mapstructure:"prompt"`
}

// Enabled 表示是否配置了语言模型。
func (c LLMConfig) Enabled() bool {
	return c.BaseURL != "" && c.Model != ""
}

// LLMGenerationConfig 配置生成相关参数（可选）。
type LLMGenerationConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	TopP        float64 `mapstructure:"top_p"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// LLMPromptConfig 配置提示模板与兜底文案（可选，为空时使用内置默认值）。
type LLMPromptConfig struct {
	Template     string `mapstructure:"template"`
	NoResultText string `mapstructure:"no_result_text"`
}

// OCRConfig 存储 OCR 引擎相关的配置。
type OCRConfig struct {
	Engine         string `mapstructure:"engine"`
	FallbackEngine string `mapstructure:"fallback_engine"`
	Language       string `mapstructure:"language"`
	TesseractPath  string `mapstructure:"tesseract_path"`
	EasyOCRURL     string `mapstructure:"easyocr_url"`
	DPI            int    `mapstructure:"dpi"`
	TempDir        string `mapstructure:"temp_dir"`
}

// PipelineConfig 存储分块、检索和后台任务相关的配置。
type PipelineConfig struct {
	ChunkSize        int           `mapstructure:"chunk_size"`
	ChunkOverlap     int           `mapstructure:"chunk_overlap"`
	TopK             int           `mapstructure:"top_k"`
	Workers          int           `mapstructure:"workers"`
	QueueSize        int           `mapstructure:"queue_size"`
	EnqueueWait      time.Duration `mapstructure:"enqueue_wait"`
	IndexConcurrency int           `mapstructure:"index_concurrency"`
	BatchItemTimeout time.Duration `mapstructure:"batch_item_timeout"`
	MaxUploadBytes   int64         `mapstructure:"max_upload_bytes"`
}

// MaintenanceConfig 存储定时维护任务的配置。
type MaintenanceConfig struct {
	TempDirs        []string      `mapstructure:"temp_dirs"`
	TempMaxAge      time.Duration `mapstructure:"temp_max_age"`
	BackupDir       string        `mapstructure:"backup_dir"`
	BackupRetention time.Duration `mapstructure:"backup_retention"`
	MysqldumpPath   string        `mapstructure:"mysqldump_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8081")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("jwt.access_token_expire_hours", 24)
	// 密钥类配置没有实际默认值，注册空值是为了让 AutomaticEnv 在 Unmarshal 时生效
	v.SetDefault("jwt.secret", "")
	v.SetDefault("database.mysql.dsn", "")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("minio.secret_access_key", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("kafka.topic", "smartdoc-recognition")
	v.SetDefault("kafka.group_id", "smartdoc-consumer")
	v.SetDefault("vector_index.driver", "elasticsearch")
	v.SetDefault("elasticsearch.index_name", "smartdoc_fragments")
	v.SetDefault("pgvector.table", "index_fragments")
	v.SetDefault("embedding.dimensions", 1024)
	v.SetDefault("embedding.requests_per_second", 5)
	v.SetDefault("embedding.burst", 1)
	v.SetDefault("ocr.engine", "tesseract")
	v.SetDefault("ocr.language", "vie+eng")
	v.SetDefault("ocr.tesseract_path", "tesseract")
	v.SetDefault("ocr.dpi", 300)
	v.SetDefault("pipeline.chunk_size", 1000)
	v.SetDefault("pipeline.chunk_overlap", 200)
	v.SetDefault("pipeline.top_k", 5)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.queue_size", 256)
	v.SetDefault("pipeline.enqueue_wait", 3*time.Second)
	v.SetDefault("pipeline.index_concurrency", 4)
	v.SetDefault("pipeline.batch_item_timeout", 5*time.Minute)
	v.SetDefault("pipeline.max_upload_bytes", 50<<20)
	v.SetDefault("maintenance.temp_max_age", 24*time.Hour)
	v.SetDefault("maintenance.backup_dir", "./data/backups")
	v.SetDefault("maintenance.backup_retention", 7*24*time.Hour)
	v.SetDefault("maintenance.mysqldump_path", "mysqldump")
}

// Load 从指定路径读取 YAML 配置，叠加 .env 与 SMARTDOC_* 环境变量。
func Load(configPath string) (Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SMARTDOC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("读取配置文件失败: %w", err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return cfg, nil
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	cfg, err := Load(configPath)
	if err != nil {
		panic(err)
	}
	Conf = cfg
}
