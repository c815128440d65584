// Точка входа координатора маркетплейса хранения.
// Загружает конфигурацию, выбирает хранилище проекции (PostgreSQL или память),
// запускает проектор событий контракта, реестр провайдеров, диспетчер
// фрагментов, WebSocket endpoint агентов, topologymetrics и HTTP-сервер
// с graceful shutdown.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/storagemarket/internal/api/handlers"
	"github.com/bigkaa/storagemarket/internal/api/middleware"
	"github.com/bigkaa/storagemarket/internal/chain"
	"github.com/bigkaa/storagemarket/internal/config"
	"github.com/bigkaa/storagemarket/internal/database"
	"github.com/bigkaa/storagemarket/internal/dispatch"
	"github.com/bigkaa/storagemarket/internal/fragment"
	"github.com/bigkaa/storagemarket/internal/hub"
	"github.com/bigkaa/storagemarket/internal/projector"
	"github.com/bigkaa/storagemarket/internal/registry"
	"github.com/bigkaa/storagemarket/internal/repository"
	"github.com/bigkaa/storagemarket/internal/server"
	"github.com/bigkaa/storagemarket/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("Координатор запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("store", cfg.Store),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Хранилище проекции
	var (
		store        repository.Store
		storeChecker handlers.ReadinessChecker
		depParams    = service.DephealthParams{
			ServiceID:      "coordinator",
			Group:          cfg.DephealthGroup,
			ChainHealthURL: cfg.ChainHealthURL,
			CheckInterval:  cfg.DephealthCheckInterval,
		}
	)
	switch cfg.Store {
	case config.StorePostgres:
		logger.Info("Применение миграций БД...")
		if err := database.Migrate(cfg, logger); err != nil {
			logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
			os.Exit(1)
		}

		pool, err := database.Connect(ctx, cfg, logger)
		if err != nil {
			logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()

		// Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode).
		pgDB := stdlib.OpenDBFromPool(pool)
		defer pgDB.Close()

		store = repository.NewPostgresStore(pool)
		storeChecker = database.NewReadinessChecker(pool)
		depParams.DB = pgDB
		depParams.PGConnURL = cfg.DatabaseURL()
	default:
		logger.Warn("Проекция хранится в памяти и теряется при перезапуске")
		mem := repository.NewMemoryStore()
		store = mem
		storeChecker = mem
	}

	// 4. Кэш договоров и сервис маркетплейса
	cache := service.NewAgreementCache(cfg.AgreementCacheSize, cfg.AgreementCacheTTL)
	marketplace := service.NewMarketplaceService(store, cache, logger)

	checks := []handlers.NamedChecker{{Name: "store", Checker: storeChecker}}

	// 5. Проектор событий контракта
	if cfg.ChainEnabled() {
		decoder, err := chain.NewDecoder()
		if err != nil {
			logger.Error("Ошибка разбора ABI контракта", slog.String("error", err.Error()))
			os.Exit(1)
		}

		events := []string{
			chain.EventOfferingCreated, chain.EventOfferingUpdated, chain.EventOfferingRemoved,
			chain.EventAgreementCreated, chain.EventAgreementCancelled,
		}
		if cfg.ChainCompletedEvents {
			events = append(events, chain.EventAgreementCompleted, chain.EventPaymentMade)
		}

		subscriber, err := chain.NewSubscriber(chain.SubscriberConfig{
			Contract:     cfg.ContractAddress,
			StartBlock:   cfg.ChainStartBlock,
			BatchSize:    cfg.ChainBackfillBatch,
			Events:       events,
			ReconnectMin: time.Second,
			ReconnectMax: time.Minute,
		}, chain.DialRPC(cfg.ChainRPCURL), decoder, projector.New(store, cache, logger), store, logger)
		if err != nil {
			logger.Error("Ошибка создания подписчика событий", slog.String("error", err.Error()))
			os.Exit(1)
		}

		go func() {
			if err := subscriber.Run(ctx); err != nil {
				logger.Error("Подписчик событий завершился с ошибкой", slog.String("error", err.Error()))
			}
		}()
		checks = append(checks, handlers.NamedChecker{Name: "chain", Checker: subscriber})
		logger.Info("Проектор событий запущен",
			slog.String("contract", cfg.ContractAddress.Hex()),
			slog.Any("events", events),
		)
	} else {
		logger.Warn("CM_CHAIN_RPC_URL не задан, проектор событий отключён")
	}

	// 6. Трекер передач, реестр и диспетчер фрагментов
	tracker := dispatch.NewTracker(cfg.TransferTimeout, cfg.TransferRetention, logger)
	defer tracker.Close()

	providers := registry.New(logger)

	opts := []dispatch.Option{dispatch.WithAgreementLookup(marketplace)}
	if len(cfg.FragmentKey) > 0 {
		cipher, err := fragment.NewXChaCha20Cipher(cfg.FragmentKey)
		if err != nil {
			logger.Error("Ошибка инициализации шифра фрагментов", slog.String("error", err.Error()))
			os.Exit(1)
		}
		opts = append(opts, dispatch.WithCipher(cipher))
		logger.Info("Шифрование фрагментов включено")
	}
	dispatcher := dispatch.New(providers, tracker, logger, opts...)

	// 7. WebSocket endpoint агентов
	providerAuth := middleware.NewProviderAuth(cfg.ProviderTokenSecret, logger)
	if !providerAuth.Enabled() {
		logger.Warn("CM_PROVIDER_TOKEN_SECRET не задан, агенты подключаются без аутентификации")
	}
	providerHub := hub.New(providers, tracker, logger)

	// 8. API handler
	healthHandler := handlers.NewHealthHandler(checks...)
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		marketplace,
		dispatcher,
		tracker,
		providers,
		handlers.Options{
			UploadMaxBytes: cfg.UploadMaxBytes,
			MaxWait:        cfg.TransferMaxWait,
		},
		logger,
	)

	// 9. topologymetrics — мониторинг зависимостей (PostgreSQL + RPC узел)
	dephealthSvc, err := service.NewDephealthService(depParams, logger)
	switch {
	case errors.Is(err, service.ErrNoDependencies):
		logger.Info("topologymetrics: нет зависимостей для мониторинга")
	case err != nil:
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
	default:
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		} else {
			defer dephealthSvc.Stop()
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 10. HTTP-сервер
	srv := server.New(cfg, logger, server.Routes{
		API:          apiHandler,
		Providers:    providerHub,
		ProviderAuth: providerAuth.Middleware(),
	},
		chimw.RequestID,
		middleware.RequestLogger(logger),
		chimw.Recoverer,
		middleware.MetricsMiddleware(),
	)
	srv.OnShutdown(providerHub.Shutdown)

	// 11. Запуск сервера (блокирующий вызов с graceful shutdown)
	if err := srv.Run(ctx); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		cancel()
		os.Exit(1)
	}

	logger.Info("Координатор остановлен")
}
