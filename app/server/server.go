package server

import (
	"context"
	"fmt"
	"time"

	"askpdf/app/api"
	"askpdf/app/middleware"
	"askpdf/config"
	"askpdf/metrics"
	"askpdf/pipeline"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

type Server struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		cfg:     cfg,
		logger:  logger.Named("server"),
		metrics: metrics.New(),
	}
}

// NewApp registers all routes on a fresh fiber app.
func NewApp(p api.Pipeline, m *metrics.Metrics, logger *zap.Logger, bodyLimitMB int) *fiber.App {
	var (
		app = fiber.New(fiber.Config{
			ErrorHandler:          api.NewErrorHandler(logger),
			BodyLimit:             bodyLimitMB * 1024 * 1024,
			DisableStartupMessage: true,
		})
		checkHandler   = api.NewCheckHandler()
		requestHandler = api.NewRequestHandler(p, logger)
		check          = app.Group("/check")
		apiv1          = app.Group("/api/v1")
	)

	app.Use(recover.New())
	app.Use(middleware.RequestLogger(logger, m))

	check.Get("/healthy", checkHandler.HandleHealthy)
	apiv1.Post("/upload", requestHandler.HandleUpload)
	apiv1.Post("/ask", requestHandler.HandleAsk)
	app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))

	return app
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	p, closer, err := pipeline.FromConfig(ctx, s.cfg, s.metrics, s.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closer.Close(); err != nil {
			s.logger.Warn("error closing resources", zap.Error(err))
		}
	}()

	app := NewApp(p, s.metrics, s.logger, s.cfg.Server.BodyLimitMB)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server started", zap.String("addr", s.cfg.Server.Addr))
		errCh <- app.Listen(s.cfg.Server.Addr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("error to start server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}
