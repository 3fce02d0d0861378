package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"multireq/internal/adapter/batch"
	"multireq/internal/config"
	"multireq/internal/logger"
	"multireq/internal/runner"
	"multireq/internal/storage"

	"github.com/pkg/errors"
)

// main 是命令行入口
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "multireq:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "YAML 配置文件路径")
		batchPath  = flag.String("batch", "", "批量请求 JSON 文件路径")
		parallel   = flag.Int("parallel", -1, "并发传输上限，覆盖配置文件，0 表示不限")
		history    = flag.String("history", "", "sqlite 传输历史文件，覆盖配置文件")
		watch      = flag.Bool("watch", false, "批量文件变化时重新执行")
	)
	flag.Parse()
	if *batchPath == "" {
		flag.Usage()
		return errors.New("-batch is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *parallel >= 0 {
		cfg.Manager.Parallel = *parallel
	}
	if *history != "" {
		cfg.Sqlite.Dsn = *history
	}

	log := logger.New(logger.Options{
		Level:   cfg.Log.Level,
		Writers: cfg.Log.Writer,
		File:    cfg.Log.File,
	})

	rcfg := runner.Config{
		ParallelLimit:  cfg.Manager.Parallel,
		DefaultTimeout: cfg.Manager.Timeout,
		Logger:         log,
	}
	if cfg.Sqlite.Dsn != "" {
		h, err := storage.OpenHistory(storage.Options{
			Dsn:    cfg.Sqlite.Dsn,
			Prefix: cfg.Sqlite.Prefix,
			Logger: log,
		})
		if err != nil {
			return err
		}
		defer h.Close()
		rcfg.History = h
	}
	r := runner.New(rcfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	once := func(ctx context.Context) error {
		data, err := os.ReadFile(*batchPath)
		if err != nil {
			return errors.Wrapf(err, "read batch %s", *batchPath)
		}
		b, err := batch.Decode(data)
		if err != nil {
			return errors.Wrapf(err, "decode batch %s", *batchPath)
		}
		summary, err := r.Run(ctx, b)
		if err != nil {
			return err
		}
		out, err := batch.EncodeSummary(summary)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(os.Stdout, string(out))
		return err
	}

	if !*watch {
		return once(ctx)
	}
	log.Info("监听批量文件", "path", *batchPath)
	return runner.Watch(ctx, *batchPath, once, func(err error) {
		log.Error("批次执行失败", "error", err)
	})
}
