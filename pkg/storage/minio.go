// Package storage提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"product-atlas/internal/config"
	"product-atlas/pkg/log"
)

// NewMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func NewMinIO(ctx context.Context, cfg config.MinIOConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	log.Info("MinIO 客户端初始化成功")

	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
		log.Infof("存储桶 '%s' 创建成功", cfg.BucketName)
	}
	return client, nil
}

// Mirror copies objects under Prefix in Bucket into a local directory before ingestion.
// Objects whose local copy already has the same size and is not older are left alone.
type Mirror struct {
	Client *minio.Client
	Bucket string
	Prefix string
}

// Sync 将存储桶中的对象下载到 dir，保持相对路径。
func (m *Mirror) Sync(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("创建数据目录失败: %w", err)
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	var downloaded, unchanged int
	for obj := range m.Client.ListObjects(ctx, m.Bucket, minio.ListObjectsOptions{Prefix: m.Prefix, Recursive: true}) {
		if obj.Err != nil {
			return fmt.Errorf("列举 MinIO 对象失败: %w", obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		local, ok := LocalPath(root, m.Prefix, obj.Key)
		if !ok {
			log.Warnf("[Mirror] 跳过越界的对象路径: %s", obj.Key)
			continue
		}
		if st, err := os.Stat(local); err == nil && st.Size() == obj.Size && !st.ModTime().Before(obj.LastModified) {
			unchanged++
			continue
		}
		if err := m.Client.FGetObject(ctx, m.Bucket, obj.Key, local, minio.GetObjectOptions{}); err != nil {
			log.Errorf("[Mirror] 下载对象失败: %s, err=%v", obj.Key, err)
			continue
		}
		downloaded++
	}
	log.Infof("[Mirror] 存储桶 %s/%s 同步完成: downloaded=%d unchanged=%d", m.Bucket, m.Prefix, downloaded, unchanged)
	return nil
}

// LocalPath maps an object key under prefix onto a path inside root.
// It reports false for keys that would escape root.
func LocalPath(root, prefix, key string) (string, bool) {
	rel := strings.TrimPrefix(strings.TrimPrefix(key, prefix), "/")
	if rel == "" {
		return "", false
	}
	local := filepath.Join(root, filepath.FromSlash(rel))
	if local != root && !strings.HasPrefix(local, root+string(filepath.Separator)) {
		return "", false
	}
	return local, true
}
