package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"askpdf/app/server"
	"askpdf/config"
	"askpdf/logger"

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

	if err := server.NewServer(cfg, lg).Run(ctx); err != nil {
		lg.Fatal("server failed", zap.Error(err))
	}
}
