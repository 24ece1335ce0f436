package app

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron"

	"product-atlas/internal/pipeline"
	"product-atlas/pkg/log"
)

// Scheduler 按固定间隔重新摄取默认数据目录。
type Scheduler struct {
	scheduler *gocron.Scheduler
	cancel    context.CancelFunc
}

// StartScheduler 启动周期摄取；interval <= 0 时返回 nil。
func (a *App) StartScheduler(ctx context.Context, interval time.Duration) (*Scheduler, error) {
	if interval <= 0 {
		return nil, nil
	}
	ctx, cancel := context.WithCancel(ctx)
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	_, err := s.Every(interval).Tag("periodic-ingest").WaitForSchedule().Do(func() {
		res, err := a.Ingest.Ingest(ctx, "", "")
		switch {
		case errors.Is(err, pipeline.ErrLocked):
			log.Infof("[Scheduler] 上一轮摄取仍在进行, 跳过本次")
		case err != nil:
			log.Errorf("[Scheduler] 周期摄取失败: %v", err)
		default:
			log.Infof("[Scheduler] 周期摄取完成: ingested=%d skipped=%d failed=%d", res.FilesIngested, res.FilesSkipped, res.FilesFailed)
		}
	})
	if err != nil {
		cancel()
		return nil, err
	}
	s.StartAsync()
	log.Infof("[Scheduler] 周期摄取已启动, 间隔 %s", interval)
	return &Scheduler{scheduler: s, cancel: cancel}, nil
}

// Stop 停止调度并取消正在运行的摄取。
func (s *Scheduler) Stop() {
	if s == nil {
		return
	}
	s.scheduler.Stop()
	s.cancel()
}
