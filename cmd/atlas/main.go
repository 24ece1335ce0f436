// Package main 是 atlas 命令行工具的入口点。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"product-atlas/internal/app"
	"product-atlas/internal/config"
	"product-atlas/pkg/log"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "atlas",
	Short:         "Ingest product documents and ask grounded questions about them",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./configs/config.yaml", "path to the YAML config file")
}

// loadConfig 加载配置并初始化日志。
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	return cfg, nil
}

// bootstrap 组装命令所需的组件，调用方负责 Close。overrides 在组装前修改配置。
func bootstrap(ctx context.Context, overrides ...func(*config.Config)) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	for _, override := range overrides {
		override(cfg)
	}
	return app.New(ctx, cfg)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	log.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
