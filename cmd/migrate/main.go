package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/zeromicro/go-zero/core/logx"

	"battery-tracker/internal/config"
	"battery-tracker/internal/svc"
)

func main() {
	configFile := flag.String("f", "etc/ingest.yaml", "path to the main configuration file")
	flag.Parse()

	cfg := config.MustLoad(*configFile)
	logx.MustSetup(cfg.Log)
	logx.DisableStat()

	sc, err := svc.NewServiceContext(*cfg)
	if err != nil {
		fatalf("initialise services: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sc.Migrate(ctx); err != nil {
		fatalf("apply migrations: %v", err)
	}
	logx.Info("migrations applied")
}

func fatalf(format string, args ...interface{}) {
	logx.Errorf(format, args...)
	logx.Close()
	os.Exit(1)
}
