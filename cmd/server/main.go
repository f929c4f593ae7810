package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/ignatzorin/booking-core/internal/alert"
	"github.com/ignatzorin/booking-core/internal/clock"
	"github.com/ignatzorin/booking-core/internal/config"
	"github.com/ignatzorin/booking-core/internal/db"
	"github.com/ignatzorin/booking-core/internal/fraud"
	"github.com/ignatzorin/booking-core/internal/gateway"
	httpHandlers "github.com/ignatzorin/booking-core/internal/http/handlers"
	"github.com/ignatzorin/booking-core/internal/http/middleware"
	httpRouter "github.com/ignatzorin/booking-core/internal/http/router"
	"github.com/ignatzorin/booking-core/internal/logger"
	"github.com/ignatzorin/booking-core/internal/pricing"
	"github.com/ignatzorin/booking-core/internal/repository"
	"github.com/ignatzorin/booking-core/internal/service"
)

func main() {
	// Готовим контекст для graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: ошибка загрузки конфигурации: %v", err)
	}

	logger.Init(cfg.LogLevel)
	if cfg.Env == "development" {
		logger.SetTextFormatter()
	}
	for _, w := range cfg.Warnings() {
		logger.Log.Warn("main: " + w)
	}

	// Подключение к базе и миграции.
	dbConn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("main: ошибка подключения к базе: %v", err)
	}
	defer safeClose(dbConn)

	if err := db.RunMigrations(ctx, dbConn, cfg.MigrationsPath); err != nil {
		log.Fatalf("main: ошибка миграций: %v", err)
	}

	// Redis нужен только для резервов слотов и общего счётчика лимитов.
	var rdb *redis.Client
	if cfg.HoldStore == config.HoldStoreRedis {
		rdb, err = db.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Fatalf("main: ошибка подключения к redis: %v", err)
		}
		defer rdb.Close()
	}

	clk := clock.NewSystem()

	// Репозитории.
	var holdRepo service.HoldRepository = repository.NewHoldRepository(dbConn)
	if rdb != nil {
		holdRepo = repository.NewRedisHoldRepository(rdb)
	}
	bookingRepo := repository.NewBookingRepository(dbConn)
	disputeRepo := repository.NewDisputeRepository(dbConn)
	fraudRepo := repository.NewFraudRepository(dbConn)

	// Доменные компоненты.
	pricingEngine, err := pricing.NewEngine(cfg.CommissionRates, cfg.VATRate, cfg.Currency)
	if err != nil {
		log.Fatalf("main: ошибка настройки тарифов: %v", err)
	}

	var paymentGateway gateway.Gateway
	if cfg.StripeSecretKey != "" {
		paymentGateway = gateway.NewStripeGateway(cfg.StripeSecretKey)
	} else {
		paymentGateway = gateway.NewSandbox()
	}
	paymentGateway = gateway.NewRetrying(paymentGateway, gateway.RetryConfig{
		MaxRetries:  cfg.GatewayMaxRetries,
		Backoff:     cfg.GatewayRetryBackoff,
		CallTimeout: cfg.GatewayTimeout,
	})

	alerter := alert.Multi{alert.LogAlerter{}}
	if cfg.RabbitMQURL != "" {
		amqpAlerter, err := alert.NewAMQPAlerter(cfg.RabbitMQURL, cfg.AlertExchange)
		if err != nil {
			log.Fatalf("main: ошибка подключения к rabbitmq: %v", err)
		}
		defer amqpAlerter.Close()
		alerter = append(alerter, amqpAlerter)
	}

	// Сервисы.
	holdService := service.NewHoldService(holdRepo, clk, service.WithHoldTTL(cfg.HoldTTL))
	escrowService := service.NewEscrowService(service.EscrowDeps{
		Bookings: bookingRepo,
		Holds:    holdService,
		Pricing:  pricingEngine,
		Scorer:   fraud.NewScorer(fraud.DefaultWeights()),
		FraudLog: fraudRepo,
		Gateway:  paymentGateway,
		Policy:   service.NewTieredPolicy(cfg.CancellationFee),
		Alerter:  alerter,
		Clock:    clk,
	}, cfg.ReleaseHold)
	disputeService := service.NewDisputeService(disputeRepo, escrowService, alerter, clk, cfg.DisputeSLA)

	sweeper := service.NewSweeper(holdService, escrowService, disputeService, cfg.SweepInterval)
	sweeper.Start(ctx)

	// HTTP хэндлеры.
	healthHandler := httpHandlers.NewHealthHandler(dbConn, rdb)
	bookingHandler := httpHandlers.NewBookingHandler(escrowService)
	disputeHandler := httpHandlers.NewDisputeHandler(disputeService, escrowService, clk)
	pricingHandler := httpHandlers.NewPricingHandler(escrowService)
	fraudHandler := httpHandlers.NewFraudHandler(escrowService)

	// Роутер.
	engine := httpRouter.SetupRouter(cfg, middleware.NewLimiterStore(rdb), healthHandler, bookingHandler, disputeHandler, pricingHandler, fraudHandler)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Завершаем сервер при получении сигнала.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Log.Errorf("main: ошибка остановки http сервера: %v", err)
		}
	}()

	logger.Log.Infof("main: HTTP сервер запущен на порту %s", cfg.HTTPPort)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("main: сервер завершился с ошибкой: %v", err)
	}
}

// safeClose закрывает соединение с базой.
func safeClose(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		log.Printf("main: ошибка закрытия базы: %v", err)
	}
}
