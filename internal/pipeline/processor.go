// Package pipeline 定义了文档摄取的核心流程：加载、切块、写入向量库并记录摄取索引。
package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"product-atlas/internal/vectorstore"
	"product-atlas/pkg/log"
)

// Syncer populates the data directory before a walk, e.g. by mirroring an object-store bucket.
type Syncer interface {
	Sync(ctx context.Context, dir string) error
}

// Options 控制切块参数与并发度。
type Options struct {
	ChunkSize      int
	ChunkOverlap   int
	Workers        int
	ReplaceChanged bool
	// Locker guards a run per collection. Nil means runs are not serialised.
	Locker Locker
	// Syncer runs before the walk. Nil means the directory is used as-is.
	Syncer Syncer
}

// Result 汇总一次摄取运行的结果。
type Result struct {
	FilesIngested    int `json:"files_ingested"`
	ChunksIngested   int `json:"chunks_ingested"`
	FilesSkipped     int `json:"files_skipped"`
	FilesUnsupported int `json:"files_unsupported"`
	FilesEmpty       int `json:"files_empty"`
	FilesFailed      int `json:"files_failed"`
}

// Processor 封装了文件摄取的所有依赖和逻辑。
type Processor struct {
	store  vectorstore.Store
	index  *Index
	loader *Loader
	opts   Options
}

// NewProcessor 创建一个新的 Processor 实例，切块参数在此处即被校验。
func NewProcessor(store vectorstore.Store, index *Index, loader *Loader, opts Options) (*Processor, error) {
	if err := ValidateChunkConfig(opts.ChunkSize, opts.ChunkOverlap); err != nil {
		return nil, err
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if loader == nil {
		loader = NewLoader(nil)
	}
	return &Processor{store: store, index: index, loader: loader, opts: opts}, nil
}

type fileOutcome int

const (
	outcomeIngested fileOutcome = iota
	outcomeSkipped
	outcomeUnsupported
	outcomeEmpty
	outcomeFailed
)

// IngestFolder walks rootDir recursively and ingests every new or changed file into collection.
// Per-file failures are logged and counted; only an unreadable root is returned as an error.
func (p *Processor) IngestFolder(ctx context.Context, rootDir, collection string) (Result, error) {
	var res Result

	if p.opts.Locker != nil {
		release, err := p.opts.Locker.Acquire(ctx, collection)
		if err != nil {
			return res, err
		}
		defer release()
	}

	if p.opts.Syncer != nil {
		if err := p.opts.Syncer.Sync(ctx, rootDir); err != nil {
			log.Warnf("[Processor] 同步数据目录失败, 继续使用本地文件: %v", err)
		}
	}

	info, err := os.Stat(rootDir)
	if err != nil {
		return res, fmt.Errorf("无法读取数据目录 %s: %w", rootDir, err)
	}
	if !info.IsDir() {
		return res, fmt.Errorf("数据目录 %s 不是目录", rootDir)
	}

	files, err := p.collectFiles(rootDir)
	if err != nil {
		return res, err
	}
	log.Infof("[Processor] 开始摄取目录 %s -> collection %q, 共 %d 个文件, workers=%d", rootDir, collection, len(files), p.opts.Workers)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(p.opts.Workers)
	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		path := path
		g.Go(func() error {
			outcome, chunks := p.ingestFile(ctx, path, collection)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeIngested:
				res.FilesIngested++
				res.ChunksIngested += chunks
			case outcomeSkipped:
				res.FilesSkipped++
			case outcomeUnsupported:
				res.FilesUnsupported++
			case outcomeEmpty:
				res.FilesEmpty++
			case outcomeFailed:
				res.FilesFailed++
			}
			// 单个文件失败不应取消其他文件
			return nil
		})
	}
	_ = g.Wait()

	log.Infof("[Processor] 摄取完成: ingested=%d chunks=%d skipped=%d unsupported=%d empty=%d failed=%d",
		res.FilesIngested, res.ChunksIngested, res.FilesSkipped, res.FilesUnsupported, res.FilesEmpty, res.FilesFailed)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// RebuildIndex rewrites the ingest index from the sources currently stored in collection,
// e.g. after the index file was lost or the store was restored from a backup.
func (p *Processor) RebuildIndex(ctx context.Context, collection string) (RebuildResult, error) {
	if p.index == nil {
		return RebuildResult{}, fmt.Errorf("processor has no ingest index")
	}
	if p.opts.Locker != nil {
		release, err := p.opts.Locker.Acquire(ctx, collection)
		if err != nil {
			return RebuildResult{}, err
		}
		defer release()
	}

	sources, err := p.store.Sources(ctx, collection)
	if err != nil {
		return RebuildResult{}, fmt.Errorf("读取向量库来源失败: %w", err)
	}
	res, err := p.index.Rebuild(sources)
	if err != nil {
		return res, err
	}
	log.Infof("[Processor] 索引重建完成: collection=%q recorded=%d missing=%d -> %s",
		collection, res.Recorded, res.Missing, p.index.Path())
	return res, nil
}

// collectFiles lists regular files under rootDir in lexical order. Unreadable subdirectories are skipped.
func (p *Processor) collectFiles(rootDir string) ([]string, error) {
	indexPath := ""
	if p.index != nil {
		indexPath = DocumentID(p.index.Path())
	}
	var files []string
	err := filepath.WalkDir(rootDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == rootDir {
				return err
			}
			log.Warnf("[Processor] 跳过无法读取的路径 %s: %v", path, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if indexPath != "" && DocumentID(path) == indexPath {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("遍历数据目录失败: %w", err)
	}
	return files, nil
}

func (p *Processor) ingestFile(ctx context.Context, path, collection string) (fileOutcome, int) {
	if !Supported(path) {
		log.Debugf("[Processor] 不支持的文件类型, 跳过: %s", path)
		return outcomeUnsupported, 0
	}
	if p.index != nil && !p.index.ShouldIngest(path) {
		log.Debugf("[Processor] 文件未变化, 跳过: %s", path)
		return outcomeSkipped, 0
	}

	text, err := p.loader.Load(ctx, path)
	if err != nil {
		log.Errorf("[Processor] 加载文件失败: %s, err=%v", path, err)
		return outcomeFailed, 0
	}
	if strings.TrimSpace(text) == "" {
		log.Debugf("[Processor] 文件内容为空, 跳过: %s", path)
		return outcomeEmpty, 0
	}

	chunks, err := Chunk(text, p.opts.ChunkSize, p.opts.ChunkOverlap)
	if err != nil {
		log.Errorf("[Processor] 文本切块失败: %s, err=%v", path, err)
		return outcomeFailed, 0
	}
	log.Debugf("[Processor] %s: %d 字符, %d 个分块", path, utf8.RuneCountInString(text), len(chunks))

	// 元数据中的 source 与索引键一致，使用规范化后的文档 ID
	source := DocumentID(path)
	if p.opts.ReplaceChanged {
		if err := p.deleteOldChunks(ctx, collection, source, path); err != nil {
			log.Errorf("[Processor] 清理旧分块失败: %s, err=%v", path, err)
			return outcomeFailed, 0
		}
	}

	filename := filepath.Base(path)
	ids := make([]string, len(chunks))
	metas := make([]vectorstore.ChunkMetadata, len(chunks))
	for i := range chunks {
		ids[i] = uuid.NewString()
		metas[i] = vectorstore.ChunkMetadata{Source: source, ChunkIndex: i, Filename: filename}
	}
	if err := p.store.AddDocuments(ctx, collection, ids, chunks, metas); err != nil {
		log.Errorf("[Processor] 写入向量库失败: %s, err=%v", path, err)
		return outcomeFailed, 0
	}

	if p.index != nil {
		if err := p.index.MarkIngested(path); err != nil {
			// 分块已写入；下次运行会重新摄取该文件
			log.Warnf("[Processor] 更新摄取索引失败: %s, err=%v", path, err)
		}
	}
	log.Infof("Ingested %d chunks from %s", len(chunks), path)
	return outcomeIngested, len(chunks)
}

// deleteOldChunks removes chunks stored under the canonical id, and under the walk path
// when it differs, so chunks written before sources were canonicalised are replaced too.
func (p *Processor) deleteOldChunks(ctx context.Context, collection, source, path string) error {
	if err := p.store.DeleteBySource(ctx, collection, source); err != nil {
		return err
	}
	if path != source {
		return p.store.DeleteBySource(ctx, collection, path)
	}
	return nil
}
