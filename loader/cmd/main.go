package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"askpdf/config"
	"askpdf/loader/internal"
	"askpdf/loader/service"
	"askpdf/logger"
	"askpdf/pipeline"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	configFile := pflag.StringP("config", "c", "", "path to a config file (yaml, json or toml)")
	pflag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal("error loading config: ", err)
	}

	lg, err := logger.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output)
	if err != nil {
		log.Fatal("error creating logger: ", err)
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, closer, err := pipeline.FromConfig(ctx, cfg, nil, lg)
	if err != nil {
		lg.Fatal("error configuring pipeline", zap.Error(err))
	}
	defer func() {
		if err := closer.Close(); err != nil {
			lg.Warn("error closing resources", zap.Error(err))
		}
	}()

	w, err := internal.NewWatcher(cfg.Loader, lg)
	if err != nil {
		lg.Fatal("error creating directories", zap.Error(err))
	}

	handle := cfg.LoaderHandle()
	lg.Info("loader writes index", zap.String("handle", handle))
	service.New(w, p, handle, lg).Run(ctx)
	lg.Info("loader stopped")
}
