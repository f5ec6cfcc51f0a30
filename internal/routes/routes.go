package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/congo_shop/internal/catalog"
	"github.com/congo-pay/congo_shop/internal/config"
	"github.com/congo-pay/congo_shop/internal/coupon"
	"github.com/congo-pay/congo_shop/internal/ledger"
	"github.com/congo-pay/congo_shop/internal/logging"
	"github.com/congo-pay/congo_shop/internal/metrics"
	"github.com/congo-pay/congo_shop/internal/middleware"
	"github.com/congo-pay/congo_shop/internal/notification"
	"github.com/congo-pay/congo_shop/internal/order"
	"github.com/congo-pay/congo_shop/internal/payments"
	"github.com/congo-pay/congo_shop/internal/session"
	"github.com/congo-pay/congo_shop/internal/uow"
	"github.com/congo-pay/congo_shop/internal/wallet"
)

const webhookPrefix = "/api/v1/webhooks/"

// Deps aggregates shared dependencies required to wire routes. DB and Cache
// may be nil in development, in which case in-memory backends are used.
type Deps struct {
	Cfg     config.Config
	DB      *pgxpool.Pool
	Cache   *redis.Client
	Kafka   notification.MessageWriter
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Workers are the background loops the server runs next to the HTTP listener.
type Workers struct {
	Queue   *notification.Queue
	Sweeper *payments.Sweeper
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) (*Workers, error) {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	if d.Cfg.IsDev() {
		// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
		app.Use(logger.New(logger.Config{
			Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
			TimeFormat: "15:04:05",
			TimeZone:   "Local",
		}))
	}
	app.Use(middleware.Audit(d.Logger, d.Metrics))

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))

	notifier, err := buildNotifier(d)
	if err != nil {
		return nil, err
	}
	queue := notification.NewQueue(notifier, d.Cfg.NotifyQueueSize, d.Logger, d.Metrics)

	// Services and handlers
	b, err := buildBackends(d)
	if err != nil {
		return nil, err
	}
	walletSvc := wallet.NewService(b.wallets, d.Cfg.Currency)
	ledgerSvc := ledger.NewService(b.runner, b.wallets, b.ledger, d.Cfg.Currency, d.Metrics)
	reconciler := payments.NewReconciler(ledgerSvc, queue, d.Logger, d.Metrics)
	orderSvc := order.NewService(order.Deps{
		Runner:   b.runner,
		Repo:     b.orders,
		Pricing:  catalog.New(b.catalog),
		Coupons:  coupon.NewValidator(b.coupons),
		Charger:  reconciler,
		Notifier: queue,
		Logger:   d.Logger,
		Metrics:  d.Metrics,
	})

	walletHandler := wallet.NewHandler(walletSvc)
	ledgerHandler := ledger.NewHandler(ledgerSvc)
	paymentHandler := payments.NewHandler(reconciler, d.Cfg.WebhookSecret, d.Logger)
	orderHandler := order.NewHandler(orderSvc, d.Cfg.DeliveryWebhookSecret, d.Logger)

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	// Provider callbacks authenticate by signature, not bearer token, and
	// must be registered before the protected group.
	RegisterWebhookRoutes(api, paymentHandler, orderHandler)

	// Protected routes
	protectedMW := []fiber.Handler{middleware.Authenticate(session.NewHS256Validator(d.Cfg.JWTSecret))}
	if d.Cache != nil {
		protectedMW = append(protectedMW, middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger, webhookPrefix))
	}
	protected := api.Group("", protectedMW...)
	RegisterWalletRoutes(protected, walletHandler)
	checkoutLimit := middleware.RateLimit(d.Cache, "checkout", d.Cfg.CheckoutPerMinute, time.Minute)
	RegisterOrderRoutes(protected, orderHandler, checkoutLimit)

	admin := protected.Group("/admin", middleware.RequireAdmin())
	RegisterAdminRoutes(admin, ledgerHandler, orderHandler)

	sweeper := payments.NewSweeper(ledgerSvc, d.Cfg.SweepInterval, d.Cfg.SweepStaleAfter, d.Logger, d.Metrics)
	return &Workers{Queue: queue, Sweeper: sweeper}, nil
}

type backends struct {
	runner  *uow.Runner
	wallets wallet.Repository
	ledger  ledger.Repository
	orders  order.Repository
	coupons coupon.Repository
	catalog catalog.Source
}

func buildBackends(d Deps) (backends, error) {
	if d.DB == nil {
		d.Logger.Warn("no database configured, using in-memory backends")
		products, err := devCatalog(d)
		if err != nil {
			return backends{}, err
		}
		return backends{
			runner:  uow.NewRunner(uow.NewMemory(), d.Cfg.TxTimeout),
			wallets: wallet.NewMemoryRepository(),
			ledger:  ledger.NewMemoryRepository(),
			orders:  order.NewMemoryRepository(),
			coupons: coupon.NewMemoryRepository(),
			catalog: products,
		}, nil
	}

	var source catalog.Source = catalog.NewPostgresSource(d.DB)
	if d.Cache != nil {
		source = catalog.NewRedisCache(source, d.Cache, d.Cfg.PriceCacheTTL, d.Logger)
	}
	return backends{
		runner:  uow.NewRunner(uow.NewPostgres(d.DB), d.Cfg.TxTimeout),
		wallets: wallet.NewPostgresRepository(d.DB),
		ledger:  ledger.NewPostgresRepository(d.DB),
		orders:  order.NewPostgresRepository(d.DB),
		coupons: coupon.NewPostgresRepository(d.DB),
		catalog: source,
	}, nil
}

func devCatalog(d Deps) (*catalog.Static, error) {
	if d.Cfg.CatalogSeed == "" {
		d.Logger.Warn("CATALOG_SEED not set, the in-memory catalog is empty and checkout will fail")
		return catalog.NewStatic(), nil
	}
	s, err := catalog.LoadStaticFile(d.Cfg.CatalogSeed)
	if err != nil {
		return nil, fmt.Errorf("load catalog seed: %w", err)
	}
	d.Logger.Info("loaded catalog seed", slog.String("path", d.Cfg.CatalogSeed))
	return s, nil
}

func buildNotifier(d Deps) (notification.Notifier, error) {
	switch d.Cfg.NotifyBackend {
	case config.NotifyRedis:
		if d.Cache == nil {
			return nil, fmt.Errorf("redis notifier requires a redis client")
		}
		return notification.NewRedisNotifier(d.Cache, notification.DefaultRedisKey), nil
	case config.NotifyKafka:
		if d.Kafka == nil {
			return nil, fmt.Errorf("kafka notifier requires a kafka writer")
		}
		return notification.NewKafkaNotifier(d.Kafka), nil
	default:
		return notification.NewLoggerNotifier(d.Logger), nil
	}
}
