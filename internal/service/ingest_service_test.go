package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"product-atlas/internal/pipeline"
	"product-atlas/pkg/tasks"
)

type fakePublisher struct {
	published []tasks.IngestTask
	err       error
}

func (f *fakePublisher) ProduceIngestTask(_ context.Context, task tasks.IngestTask) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, task)
	return nil
}

func newProcessor(t *testing.T, dataDir string, locker pipeline.Locker) *pipeline.Processor {
	t.Helper()
	index := pipeline.NewIndex(filepath.Join(dataDir, ".ingest_index.json"))
	p, err := pipeline.NewProcessor(&fakeStore{}, index, nil, pipeline.Options{
		ChunkSize:    800,
		ChunkOverlap: 200,
		Workers:      2,
		Locker:       locker,
	})
	require.NoError(t, err)
	return p
}

func TestIngest_UsesDefaults(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prd.md"), []byte("# PRD\nCheckout redesign"), 0o644))

	svc := NewIngestService(newProcessor(t, dir, nil), nil, dir, "pm_docs")
	res, err := svc.Ingest(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesIngested)
	assert.Equal(t, 1, res.ChunksIngested)

	res, err = svc.Ingest(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesSkipped)
}

func TestEnqueue_WithoutPublisher(t *testing.T) {
	svc := NewIngestService(newProcessor(t, t.TempDir(), nil), nil, "data", "pm_docs")

	_, err := svc.Enqueue(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrAsyncDisabled)
}

func TestEnqueue_PublishesTask(t *testing.T) {
	dir := t.TempDir()
	pub := &fakePublisher{}
	svc := NewIngestService(newProcessor(t, dir, nil), pub, dir, "pm_docs")

	task, err := svc.Enqueue(context.Background(), "", "roadmaps")
	require.NoError(t, err)
	assert.NotEmpty(t, task.TaskID)
	assert.Equal(t, pipeline.DocumentID(dir), task.RootDir)
	assert.Equal(t, "roadmaps", task.Collection)
	require.Len(t, pub.published, 1)
	assert.Equal(t, task, pub.published[0])
}

func TestEnqueue_PublishError(t *testing.T) {
	svc := NewIngestService(newProcessor(t, t.TempDir(), nil), &fakePublisher{err: errBoom}, "data", "pm_docs")

	_, err := svc.Enqueue(context.Background(), "", "")
	assert.ErrorIs(t, err, errBoom)
}

func TestProcessIngestTask_LockedIsNotAnError(t *testing.T) {
	dir := t.TempDir()
	locker := pipeline.NewLocalLocker()
	release, err := locker.Acquire(context.Background(), "pm_docs")
	require.NoError(t, err)
	defer release()

	svc := NewIngestService(newProcessor(t, dir, locker), nil, dir, "pm_docs")
	err = svc.ProcessIngestTask(context.Background(), tasks.IngestTask{TaskID: "t1", RootDir: dir, Collection: "pm_docs"})
	assert.NoError(t, err)

	_, err = svc.Ingest(context.Background(), dir, "pm_docs")
	assert.ErrorIs(t, err, pipeline.ErrLocked)
}

func TestProcessIngestTask_MissingRoot(t *testing.T) {
	dir := t.TempDir()
	svc := NewIngestService(newProcessor(t, dir, nil), nil, dir, "pm_docs")

	err := svc.ProcessIngestTask(context.Background(), tasks.IngestTask{RootDir: "nope"})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrOutsideDataDir)
}

func TestIngest_RootDirConfinedToDataDir(t *testing.T) {
	dataDir := t.TempDir()
	outside := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "specs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "specs", "prd.md"), []byte("checkout"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("db password hunter2"), 0o644))

	pub := &fakePublisher{}
	svc := NewIngestService(newProcessor(t, dataDir, nil), pub, dataDir, "pm_docs")
	ctx := context.Background()

	for _, rootDir := range []string{outside, "..", "specs/../..", filepath.Join(dataDir, "..")} {
		_, err := svc.Ingest(ctx, rootDir, "")
		assert.ErrorIs(t, err, ErrOutsideDataDir, rootDir)
		_, err = svc.Enqueue(ctx, rootDir, "")
		assert.ErrorIs(t, err, ErrOutsideDataDir, rootDir)
		err = svc.ProcessIngestTask(ctx, tasks.IngestTask{TaskID: "t", RootDir: rootDir})
		assert.ErrorIs(t, err, ErrOutsideDataDir, rootDir)
	}
	assert.Empty(t, pub.published)

	// a symlink inside the data directory that escapes it is rejected as well
	require.NoError(t, os.Symlink(outside, filepath.Join(dataDir, "link")))
	_, err := svc.Ingest(ctx, "link", "")
	assert.ErrorIs(t, err, ErrOutsideDataDir)

	res, err := svc.Ingest(ctx, "specs", "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesIngested)
	res, err = svc.Ingest(ctx, filepath.Join(dataDir, "specs"), "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesSkipped)
}

func TestSyncIndex_UsesDefaultCollection(t *testing.T) {
	dir := t.TempDir()
	svc := NewIngestService(newProcessor(t, dir, nil), nil, dir, "pm_docs")

	res, err := svc.SyncIndex(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, pipeline.RebuildResult{}, res)
	_, err = os.Stat(filepath.Join(dir, ".ingest_index.json"))
	assert.NoError(t, err, "an empty store still writes an empty index")
}
