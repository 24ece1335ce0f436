// Package app 负责按配置组装各组件，供 HTTP 服务与命令行共用。
package app

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"product-atlas/internal/config"
	"product-atlas/internal/pipeline"
	"product-atlas/internal/repository"
	"product-atlas/internal/service"
	"product-atlas/internal/vectorstore"
	"product-atlas/pkg/database"
	"product-atlas/pkg/embedding"
	"product-atlas/pkg/es"
	"product-atlas/pkg/kafka"
	"product-atlas/pkg/llm"
	"product-atlas/pkg/log"
	"product-atlas/pkg/storage"
	"product-atlas/pkg/tika"
)

// App 持有已初始化的依赖。可选组件未配置时为 nil。
type App struct {
	Config *config.Config

	Store    vectorstore.Store
	Redis    *redis.Client
	Producer *kafka.Producer
	DB       *gorm.DB

	Ingest        service.IngestService
	Chat          service.ChatService
	Conversations service.ConversationService
}

// New 初始化向量库、摄取流程与问答服务。会话库需另外调用 OpenConversations。
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	embedder := embedding.NewClient(cfg.Embedding)
	store, err := newStore(cfg, embedder)
	if err != nil {
		return nil, err
	}
	a.Store = store

	if cfg.Database.Redis.Addr != "" {
		rdb, err := database.NewRedis(ctx, cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = rdb
	}

	opts := pipeline.Options{
		ChunkSize:      cfg.Ingest.ChunkSize,
		ChunkOverlap:   cfg.Ingest.ChunkOverlap,
		Workers:        cfg.Ingest.Workers,
		ReplaceChanged: cfg.Ingest.ReplaceChanged,
		Locker:         pipeline.NewLocalLocker(),
	}
	if a.Redis != nil {
		opts.Locker = pipeline.NewRedisLocker(a.Redis, cfg.Ingest.LockTTL)
	}
	if cfg.MinIO.Endpoint != "" {
		client, err := storage.NewMinIO(ctx, cfg.MinIO)
		if err != nil {
			a.Close()
			return nil, err
		}
		opts.Syncer = &storage.Mirror{Client: client, Bucket: cfg.MinIO.BucketName, Prefix: cfg.MinIO.Prefix}
	}

	var pdfExtractor pipeline.PDFExtractor = pipeline.NativePDFExtractor{}
	if cfg.Ingest.PDFExtractor == "tika" {
		pdfExtractor = pipeline.TikaExtractor{Client: tika.NewClient(cfg.Tika.ServerURL)}
	}

	processor, err := pipeline.NewProcessor(store, pipeline.NewIndex(cfg.Ingest.IndexPath), pipeline.NewLoader(pdfExtractor), opts)
	if err != nil {
		a.Close()
		return nil, err
	}

	var publisher service.TaskPublisher
	if cfg.Kafka.Brokers != "" {
		a.Producer = kafka.NewProducer(cfg.Kafka)
		publisher = a.Producer
	}
	a.Ingest = service.NewIngestService(processor, publisher, cfg.Ingest.DataDir, cfg.Ingest.CollectionName)

	retrieval := service.NewRetrievalService(store, cfg.Ingest.CollectionName, cfg.RAG.TopK, cfg.RAG.MaxContextChars,
		service.TruncatorByName(cfg.RAG.Truncation))
	a.Chat = service.NewChatService(retrieval, llm.NewClient(cfg.LLM))
	return a, nil
}

func newStore(cfg *config.Config, embedder embedding.Client) (vectorstore.Store, error) {
	switch cfg.VectorStore.Backend {
	case "elasticsearch":
		client, err := es.NewClient(cfg.Elasticsearch)
		if err != nil {
			return nil, err
		}
		log.Infof("[App] 使用 Elasticsearch 向量库: %s", cfg.Elasticsearch.Addresses)
		return vectorstore.NewElasticStore(client, embedder, cfg.Elasticsearch.IndexPrefix, cfg.Elasticsearch.Dimensions, cfg.Embedding.Model), nil
	default:
		store, err := vectorstore.NewChromemStore(cfg.VectorStore.PersistDir, cfg.VectorStore.Compress,
			embedding.Func(embedder), cfg.VectorStore.Concurrency)
		if err != nil {
			return nil, fmt.Errorf("初始化 chromem 向量库失败: %w", err)
		}
		log.Infof("[App] 使用 chromem 向量库: %s", cfg.VectorStore.PersistDir)
		return store, nil
	}
}

// OpenConversations 打开会话库并初始化会话服务。
func (a *App) OpenConversations() error {
	db, err := database.OpenDB(a.Config.Database.Driver, a.Config.Database.DSN)
	if err != nil {
		return err
	}
	a.DB = db
	a.Conversations = service.NewConversationService(
		repository.NewProjectRepository(db),
		repository.NewConversationRepository(db),
		a.Chat,
	)
	return nil
}

// StartConsumer 在后台消费 Kafka 摄取任务；未配置 Kafka 时不做任何事。
func (a *App) StartConsumer(ctx context.Context) {
	if a.Config.Kafka.Brokers == "" {
		return
	}
	go kafka.StartConsumer(ctx, a.Config.Kafka, a.Ingest, a.Redis)
}

// Close 释放所有已打开的资源。
func (a *App) Close() {
	if a.Producer != nil {
		if err := a.Producer.Close(); err != nil {
			log.Warnf("[App] 关闭 Kafka 生产者失败: %v", err)
		}
	}
	if a.DB != nil {
		if err := database.Close(a.DB); err != nil {
			log.Warnf("[App] 关闭数据库失败: %v", err)
		}
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Store != nil {
		_ = a.Store.Close()
	}
}
