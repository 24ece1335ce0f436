package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"product-atlas/internal/pipeline"
	"product-atlas/pkg/log"
	"product-atlas/pkg/tasks"
)

// ErrAsyncDisabled 表示未配置 Kafka，无法异步摄取。
var ErrAsyncDisabled = errors.New("asynchronous ingestion is not configured")

// ErrOutsideDataDir 表示请求的摄取目录不在配置的数据目录之内。
var ErrOutsideDataDir = errors.New("root_dir must be inside the data directory")

// TaskPublisher 发布异步摄取任务，由 Kafka 生产者实现。
type TaskPublisher interface {
	ProduceIngestTask(ctx context.Context, task tasks.IngestTask) error
}

// IngestService 定义了文档摄取的业务接口。
type IngestService interface {
	// Ingest 同步摄取目录；rootDir、collection 为空时使用配置的默认值。
	// rootDir 必须位于数据目录之内，相对路径按数据目录解析。
	Ingest(ctx context.Context, rootDir, collection string) (pipeline.Result, error)
	// Enqueue 发布一个异步摄取任务。
	Enqueue(ctx context.Context, rootDir, collection string) (tasks.IngestTask, error)
	// ProcessIngestTask 供 Kafka 消费者调用。
	ProcessIngestTask(ctx context.Context, task tasks.IngestTask) error
	// SyncIndex 根据向量库中已有的来源重建摄取索引。
	SyncIndex(ctx context.Context, collection string) (pipeline.RebuildResult, error)
}

type ingestService struct {
	processor         *pipeline.Processor
	publisher         TaskPublisher
	defaultDir        string
	defaultCollection string
}

// NewIngestService 创建一个新的 IngestService。publisher 可为 nil。
func NewIngestService(processor *pipeline.Processor, publisher TaskPublisher, defaultDir, defaultCollection string) IngestService {
	return &ingestService{
		processor:         processor,
		publisher:         publisher,
		defaultDir:        defaultDir,
		defaultCollection: defaultCollection,
	}
}

// resolve fills in defaults and confines rootDir to the data directory.
// Both sides are compared after symlink resolution, so a link pointing out of the data directory is rejected.
func (s *ingestService) resolve(rootDir, collection string) (string, string, error) {
	if collection == "" {
		collection = s.defaultCollection
	}
	base := pipeline.DocumentID(s.defaultDir)
	if rootDir == "" {
		return base, collection, nil
	}
	if !filepath.IsAbs(rootDir) {
		rootDir = filepath.Join(base, rootDir)
	}
	target := pipeline.DocumentID(rootDir)
	rel, err := filepath.Rel(base, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", fmt.Errorf("%w: %s", ErrOutsideDataDir, rootDir)
	}
	return target, collection, nil
}

func (s *ingestService) Ingest(ctx context.Context, rootDir, collection string) (pipeline.Result, error) {
	rootDir, collection, err := s.resolve(rootDir, collection)
	if err != nil {
		return pipeline.Result{}, err
	}
	start := time.Now()
	res, err := s.processor.IngestFolder(ctx, rootDir, collection)
	if err != nil {
		return res, err
	}
	log.Infow("[IngestService] ingestion finished",
		"root_dir", rootDir,
		"collection", collection,
		"files_ingested", res.FilesIngested,
		"files_unsupported", res.FilesUnsupported,
		"chunks_ingested", res.ChunksIngested,
		"elapsed", time.Since(start).String(),
	)
	return res, nil
}

func (s *ingestService) Enqueue(ctx context.Context, rootDir, collection string) (tasks.IngestTask, error) {
	if s.publisher == nil {
		return tasks.IngestTask{}, ErrAsyncDisabled
	}
	rootDir, collection, err := s.resolve(rootDir, collection)
	if err != nil {
		return tasks.IngestTask{}, err
	}
	task := tasks.IngestTask{
		TaskID:      uuid.NewString(),
		RootDir:     rootDir,
		Collection:  collection,
		RequestedAt: time.Now().UTC(),
	}
	if err := s.publisher.ProduceIngestTask(ctx, task); err != nil {
		return tasks.IngestTask{}, err
	}
	log.Infof("[IngestService] 已发布摄取任务 id=%s dir=%s collection=%s", task.TaskID, rootDir, collection)
	return task, nil
}

func (s *ingestService) ProcessIngestTask(ctx context.Context, task tasks.IngestTask) error {
	_, err := s.Ingest(ctx, task.RootDir, task.Collection)
	if errors.Is(err, pipeline.ErrLocked) {
		// 另一轮摄取正在进行，本任务的文件会被它或下一轮覆盖
		log.Warnf("[IngestService] 摄取正在进行, 跳过任务 id=%s", task.TaskID)
		return nil
	}
	return err
}

func (s *ingestService) SyncIndex(ctx context.Context, collection string) (pipeline.RebuildResult, error) {
	if collection == "" {
		collection = s.defaultCollection
	}
	return s.processor.RebuildIndex(ctx, collection)
}
