package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"product-atlas/pkg/tasks"
)

type flakyProcessor struct {
	mu       sync.Mutex
	failures int
	calls    int
	onCall   func()
}

func (p *flakyProcessor) ProcessIngestTask(context.Context, tasks.IngestTask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.onCall != nil {
		p.onCall()
	}
	if p.calls <= p.failures {
		return errors.New("vector store unavailable")
	}
	return nil
}

// unreachableRedis fails every command quickly.
func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestHandleTask_RetriesUntilSuccess(t *testing.T) {
	p := &flakyProcessor{failures: maxAttempts - 1}

	commit := handleTask(context.Background(), p, nil, tasks.IngestTask{TaskID: "t1"}, time.Millisecond)
	assert.True(t, commit)
	assert.Equal(t, maxAttempts, p.calls)
}

func TestHandleTask_GivesUpAfterMaxAttempts(t *testing.T) {
	p := &flakyProcessor{failures: 100}

	commit := handleTask(context.Background(), p, nil, tasks.IngestTask{TaskID: "t1"}, time.Millisecond)
	assert.True(t, commit, "a task that keeps failing is committed so it stops blocking the partition")
	assert.Equal(t, maxAttempts, p.calls)
}

func TestHandleTask_RedisDownFallsBackToLocalCount(t *testing.T) {
	p := &flakyProcessor{failures: 100}

	commit := handleTask(context.Background(), p, unreachableRedis(t), tasks.IngestTask{TaskID: "t1"}, time.Millisecond)
	assert.True(t, commit)
	assert.Equal(t, maxAttempts, p.calls)
}

func TestHandleTask_CancelledIsNotCommitted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &flakyProcessor{failures: 100, onCall: cancel}

	commit := handleTask(ctx, p, nil, tasks.IngestTask{TaskID: "t1"}, time.Hour)
	assert.False(t, commit)
	assert.Equal(t, 1, p.calls)
}

func TestHandleTask_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &flakyProcessor{failures: 100}
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	commit := handleTask(ctx, p, nil, tasks.IngestTask{TaskID: "t1"}, time.Hour)
	assert.False(t, commit)
	assert.Equal(t, 1, p.calls)
	assert.Less(t, time.Since(start), time.Minute)
}

func TestShouldGiveUp(t *testing.T) {
	ctx := context.Background()

	assert.False(t, shouldGiveUp(ctx, nil, "t1", 1))
	assert.False(t, shouldGiveUp(ctx, nil, "t1", maxAttempts-1))
	assert.True(t, shouldGiveUp(ctx, nil, "t1", maxAttempts))

	rdb := unreachableRedis(t)
	assert.False(t, shouldGiveUp(ctx, rdb, "t1", 1))
	assert.True(t, shouldGiveUp(ctx, rdb, "t1", maxAttempts))
}

func TestBrokers(t *testing.T) {
	assert.Equal(t, []string{"a:9092", "b:9092"}, brokers(" a:9092, ,b:9092 "))
	require.Empty(t, brokers(""))
}
