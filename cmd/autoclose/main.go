package main

import (
	"context"
	"flag"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"autoclose/internal/app"
	"autoclose/internal/config"
	"autoclose/internal/logger"
)

func main() {
	cfgFlag := flag.String("config", "", "config file (default $AUTOCLOSE_CONFIG or configs/config.yaml)")
	once := flag.Bool("once", false, "run a single auto-close pass and exit")
	flag.Parse()

	if err := config.LoadEnv(); err != nil {
		log.Fatalf("读取 .env 失败: %v", err)
	}
	cfgPath := config.ResolvePath(*cfgFlag)
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("读取配置失败: %v", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("初始化日志文件失败: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	if path := strings.TrimSpace(cfg.App.ExitDumpPath); path != "" {
		f, err := setupExitDumpOutput(path)
		if err != nil {
			log.Fatalf("初始化策略转储日志失败: %v", err)
		}
		defer f.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("✓ 配置加载成功（环境=%s，文件=%s）", cfg.App.Env, cfgPath)
	if logger.Enabled(slog.LevelDebug) {
		if dump, err := config.Dump(cfg); err == nil {
			logger.Debugf("effective config:\n%s", dump)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		a, err := app.NewApp(cfg, "")
		if err != nil {
			log.Fatalf("初始化应用失败: %v", err)
		}
		defer a.Close()
		sum, err := a.RunPass(ctx)
		if err != nil {
			log.Fatalf("对账失败: %v", err)
		}
		logger.Infof("pass %s: checked=%d filled=%d closed=%d cancelled=%d errors=%d",
			sum.PassID, sum.Checked, sum.Filled, sum.Closed, sum.Cancelled, sum.Errors)
		return
	}

	a, err := app.NewApp(cfg, cfgPath)
	if err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}
	if err := a.Run(ctx); err != nil {
		log.Fatalf("运行失败: %v", err)
	}
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}

func setupExitDumpOutput(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	logger.SetExchangeWriter(f)
	return f, nil
}
