// Package app 负责按配置装配存储、索引与流水线组件，供 server 和 smartdoc-maint 共用。
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"github.com/nhdandz/SmartDoc/internal/config"
	"github.com/nhdandz/SmartDoc/internal/model"
	"github.com/nhdandz/SmartDoc/internal/pipeline"
	"github.com/nhdandz/SmartDoc/internal/repository"
	"github.com/nhdandz/SmartDoc/pkg/database"
	"github.com/nhdandz/SmartDoc/pkg/embedding"
	"github.com/nhdandz/SmartDoc/pkg/es"
	"github.com/nhdandz/SmartDoc/pkg/extract"
	"github.com/nhdandz/SmartDoc/pkg/llm"
	"github.com/nhdandz/SmartDoc/pkg/log"
	"github.com/nhdandz/SmartDoc/pkg/memindex"
	"github.com/nhdandz/SmartDoc/pkg/pgvec"
	"github.com/nhdandz/SmartDoc/pkg/storage"
	"github.com/nhdandz/SmartDoc/pkg/tika"
	"github.com/nhdandz/SmartDoc/pkg/worker"
)

// 向量索引驱动名称。
const (
	DriverElasticsearch = "elasticsearch"
	DriverPGVector      = "pgvector"
	DriverMemory        = "memory"
	DriverNone          = "none"
)

// App 持有一次进程生命周期内共享的组件。
type App struct {
	Config config.Config
	Caps   pipeline.Capabilities

	DB    *gorm.DB
	Redis *redis.Client
	Store *storage.Store

	Documents     repository.DocumentRepository
	Jobs          repository.RecognitionJobRepository
	Conversations repository.ConversationRepository
	Searches      repository.SearchRepository

	Embedder  embedding.Client
	LLM       llm.Client
	Index     pipeline.VectorIndex
	Extractor *extract.Extractor

	Indexer     *pipeline.Indexer
	Retriever   *pipeline.Retriever
	Synthesizer *pipeline.Synthesizer
	Processor   *pipeline.Processor
	Pool        *worker.Pool

	closers []func()
}

// New 建立 MySQL / Redis / MinIO 连接，迁移表结构，并按配置探测可选后端。
// 可选后端（向量索引、embedding、LLM、Tika）缺失时只降级，不返回错误。
func New(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{Config: cfg}

	db, err := database.InitMySQL(cfg.Database.MySQL.DSN)
	if err != nil {
		return nil, err
	}
	a.DB = db
	if err := database.Migrate(db, &model.SourceDocument{}, &model.RecognitionJob{}, &model.SearchHistory{}); err != nil {
		a.Close()
		return nil, err
	}

	rdb, err := database.InitRedis(ctx, cfg.Database.Redis)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Redis = rdb
	a.closers = append(a.closers, func() { _ = rdb.Close() })

	store, err := storage.InitMinIO(ctx, cfg.MinIO)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store

	a.Documents = repository.NewDocumentRepository(db)
	a.Jobs = repository.NewRecognitionJobRepository(db)
	a.Conversations = repository.NewConversationRepository(rdb)
	a.Searches = repository.NewSearchRepository(db)

	a.wireBackends(ctx)

	var extractOpts []extract.Option
	// tika.NewClient 未配置时返回 nil，不能直接放进接口
	if tc := tika.NewClient(cfg.Tika); tc != nil {
		extractOpts = append(extractOpts, extract.WithLegacy(tc))
	}
	a.Extractor = extract.New(extractOpts...)

	a.Pool = worker.NewPool(cfg.Pipeline.Workers, cfg.Pipeline.QueueSize)
	a.Pool.SetEnqueueWait(cfg.Pipeline.EnqueueWait)
	a.Indexer = pipeline.NewIndexer(a.Caps, pipeline.NewChunker(cfg.Pipeline.ChunkSize, cfg.Pipeline.ChunkOverlap), a.Embedder, a.Index)
	a.Retriever = pipeline.NewRetriever(a.Caps, a.Documents, a.Embedder, a.Index, cfg.Pipeline.TopK)
	a.Synthesizer = pipeline.NewSynthesizer(a.Caps, a.LLM, a.synthesizerOptions()...)
	a.Processor = pipeline.NewProcessor(a.Documents, a.Store, a.Extractor, a.Indexer, cfg.OCR.TempDir)

	log.Infof("[App] capabilities: vector_index=%t embeddings=%t language_model=%t",
		a.Caps.HasVectorIndex, a.Caps.HasEmbeddings, a.Caps.HasLanguageModel)
	return a, nil
}

func (a *App) wireBackends(ctx context.Context) {
	cfg := a.Config

	if cfg.Embedding.Enabled() {
		a.Embedder = embedding.NewRateLimited(embedding.NewClient(cfg.Embedding), cfg.Embedding.RequestsPerSecond, cfg.Embedding.Burst)
		a.Caps.HasEmbeddings = true
	} else {
		log.Warnf("[App] 未配置 embedding 服务，检索将退化为关键词匹配")
	}

	if cfg.LLM.Enabled() {
		a.LLM = llm.NewClient(cfg.LLM)
		a.Caps.HasLanguageModel = true
	} else {
		log.Warnf("[App] 未配置语言模型，回答将使用模板")
	}

	index, closeFn, err := openVectorIndex(ctx, cfg)
	if err != nil {
		log.Warnf("[App] 向量索引不可用: %v", err)
		return
	}
	if index == nil {
		return
	}
	a.Index = index
	a.Caps.HasVectorIndex = true
	if closeFn != nil {
		a.closers = append(a.closers, closeFn)
	}
}

func (a *App) synthesizerOptions() []pipeline.SynthesizerOption {
	opts := []pipeline.SynthesizerOption{pipeline.WithPrompt(a.Config.LLM.Prompt)}
	if budget := a.Config.LLM.MaxContextTokens; budget > 0 && a.Caps.HasLanguageModel {
		counter, err := llm.NewTiktokenCounter("")
		if err != nil {
			log.Warnf("[App] 无法加载 tiktoken 编码，不限制上下文长度: %v", err)
			return opts
		}
		opts = append(opts, pipeline.WithTokenBudget(counter, budget))
	}
	return opts
}

// openVectorIndex 按 vector_index.driver 打开索引。driver 为 none 时返回 (nil, nil, nil)。
func openVectorIndex(ctx context.Context, cfg config.Config) (pipeline.VectorIndex, func(), error) {
	switch driver := strings.ToLower(strings.TrimSpace(cfg.VectorIndex.Driver)); driver {
	case DriverElasticsearch:
		client, err := es.NewClient(cfg.Elasticsearch)
		if err != nil {
			return nil, nil, err
		}
		index, err := es.NewFragmentIndex(ctx, client, cfg.Elasticsearch.IndexName, cfg.Embedding.Dimensions)
		if err != nil {
			return nil, nil, err
		}
		return index, nil, nil
	case DriverPGVector:
		store, err := pgvec.NewStore(ctx, cfg.PGVector.DSN, cfg.PGVector.Table, cfg.Embedding.Dimensions)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case DriverMemory:
		return memindex.New(), nil, nil
	case DriverNone, "":
		return nil, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown vector index driver %q", driver)
	}
}

// MaintenanceDirs 返回需要定期清理的临时目录。
func (a *App) MaintenanceDirs() []string {
	dirs := append([]string(nil), a.Config.Maintenance.TempDirs...)
	if len(dirs) == 0 && a.Config.OCR.TempDir != "" {
		dirs = append(dirs, a.Config.OCR.TempDir)
	}
	return dirs
}

// Close 释放连接。可以重复调用。
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}
