package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/congo_shop/internal/apperr"
	"github.com/congo-pay/congo_shop/internal/config"
	"github.com/congo-pay/congo_shop/internal/metrics"
	"github.com/congo-pay/congo_shop/internal/notification"
	"github.com/congo-pay/congo_shop/internal/routes"
)

// Server wraps the Fiber application, shared dependencies and the
// background workers that run next to it.
type Server struct {
	app     *fiber.App
	cfg     config.Config
	logger  *slog.Logger
	workers *routes.Workers

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
// kafka may be nil unless NOTIFY_BACKEND is kafka.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, kafka notification.MessageWriter, logger *slog.Logger) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: errorHandler,
	})

	workers, err := routes.Setup(app, routes.Deps{
		Cfg:     cfg,
		DB:      db,
		Cache:   cache,
		Kafka:   kafka,
		Logger:  logger,
		Metrics: metrics.New(),
	})
	if err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg, logger: logger, workers: workers}, nil
}

// errorHandler renders errors as {"error": message}. Unclassified errors
// never leak their text.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "internal error"
	if fe, ok := err.(*fiber.Error); ok {
		code, msg = fe.Code, fe.Message
	} else if apperr.Classified(err) {
		code, msg = apperr.HTTPStatus(err), apperr.PublicMessage(err)
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}

// Start launches the notification queue and the stale transaction sweeper.
func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.workers.Queue.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.workers.Sweeper.Run(ctx)
	}()
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server, then drains pending
// notifications and stops the workers.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.app.ShutdownWithContext(ctx); err != nil {
		return err
	}
	if err := s.workers.Queue.Close(ctx); err != nil {
		s.logger.Warn("notification queue not drained", slog.Any("error", err))
	}
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
