// Package main 是 HTTP 服务的入口点。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"product-atlas/internal/app"
	"product-atlas/internal/config"
	"product-atlas/internal/handler"
	"product-atlas/pkg/log"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "path to the YAML config file")
	flag.Parse()

	// 1. 初始化配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3. 组装向量库、摄取流程与会话库
	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal("初始化组件失败", err)
	}
	defer a.Close()
	if err := a.OpenConversations(); err != nil {
		log.Fatal("打开会话库失败", err)
	}

	// 4. 后台任务：Kafka 消费者与周期摄取
	a.StartConsumer(ctx)
	scheduler, err := a.StartScheduler(ctx, cfg.Ingest.ScheduleInterval)
	if err != nil {
		log.Fatal("启动周期摄取失败", err)
	}
	defer scheduler.Stop()

	// 5. 路由
	r := handler.NewRouter(cfg.Server.Mode, handler.Services{
		Ingest:        a.Ingest,
		Chat:          a.Chat,
		Conversations: a.Conversations,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s", err)
		}
	}()

	<-ctx.Done()
	log.Info("接收到停机信号，正在关闭服务...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}
