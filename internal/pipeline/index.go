package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"product-atlas/pkg/log"
)

// IndexRecord 是摄取索引中的一条文档记录。
type IndexRecord struct {
	Version string `json:"version"`
	Path    string `json:"path"`
}

// Index tracks which documents were ingested and at which content digest.
// It is persisted as one JSON object keyed by the document's stable id.
// Every read-modify-write runs under mu; one Index value per file per process.
type Index struct {
	path string
	mu   sync.Mutex
}

// NewIndex 创建一个基于 JSON 文件的摄取索引。
func NewIndex(path string) *Index {
	return &Index{path: path}
}

// Path returns the backing file location.
func (i *Index) Path() string {
	return i.path
}

// ShouldIngest reports whether the file at path is new or changed since it was last marked.
// A file whose digest cannot be computed is always reported as needing ingestion.
func (i *Index) ShouldIngest(path string) bool {
	version, err := DocumentVersion(path)
	if err != nil {
		log.Warnf("[Index] 无法计算文件摘要, 将尝试摄取: %s, err=%v", path, err)
		return true
	}

	i.mu.Lock()
	records := i.load()
	i.mu.Unlock()

	record, ok := records[DocumentID(path)]
	return !ok || record.Version != version
}

// MarkIngested recomputes the digest of path and overwrites its record.
func (i *Index) MarkIngested(path string) error {
	version, err := DocumentVersion(path)
	if err != nil {
		return fmt.Errorf("计算文件摘要失败: %w", err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	records := i.load()
	records[DocumentID(path)] = IndexRecord{Version: version, Path: path}
	return i.save(records)
}

// RebuildResult 汇总一次索引重建。
type RebuildResult struct {
	Recorded int `json:"recorded"`
	Missing  int `json:"missing"`
}

// Rebuild replaces the whole index with one record per distinct document among sources,
// versioned by the file's current digest. Sources whose file can no longer be read are left out.
func (i *Index) Rebuild(sources []string) (RebuildResult, error) {
	var res RebuildResult
	records := make(map[string]IndexRecord)
	for _, source := range sources {
		if source == "" {
			continue
		}
		id := DocumentID(source)
		if _, ok := records[id]; ok {
			continue
		}
		version, err := DocumentVersion(source)
		if err != nil {
			log.Warnf("[Index] 源文件不可读, 不写入索引: %s, err=%v", source, err)
			res.Missing++
			continue
		}
		records[id] = IndexRecord{Version: version, Path: source}
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.save(records); err != nil {
		return res, err
	}
	res.Recorded = len(records)
	return res, nil
}

// Records returns a snapshot of the persisted index.
func (i *Index) Records() map[string]IndexRecord {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.load()
}

// load 读取索引文件；缺失、为空或损坏时返回空索引。
func (i *Index) load() map[string]IndexRecord {
	records := make(map[string]IndexRecord)
	data, err := os.ReadFile(i.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("[Index] 读取索引文件失败, 按空索引处理: %v", err)
		}
		return records
	}
	if strings.TrimSpace(string(data)) == "" {
		return records
	}
	if err := json.Unmarshal(data, &records); err != nil {
		log.Warnf("[Index] 索引文件损坏, 按空索引处理: %s, err=%v", i.path, err)
		return make(map[string]IndexRecord)
	}
	return records
}

// save writes the records through a temp file and rename so readers never see a torn file.
func (i *Index) save(records map[string]IndexRecord) error {
	if err := os.MkdirAll(filepath.Dir(i.path), 0o755); err != nil {
		return fmt.Errorf("创建索引目录失败: %w", err)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化索引失败: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(i.path), ".ingest-index-*")
	if err != nil {
		return fmt.Errorf("创建临时索引文件失败: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("写入索引失败: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("写入索引失败: %w", err)
	}
	if err := os.Rename(tmpName, i.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("替换索引文件失败: %w", err)
	}
	return nil
}

// DocumentID returns the stable identifier of a document: its absolute, symlink-resolved path.
func DocumentID(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// DocumentVersion 计算文件内容的 SHA-256 十六进制摘要。
func DocumentVersion(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
