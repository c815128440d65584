// Пакет server — HTTP-сервер координатора с graceful shutdown.
// Без TLS — HTTP внутри кластера, TLS termination на ingress.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/storagemarket/internal/api/errors"
	"github.com/bigkaa/storagemarket/internal/api/handlers"
	"github.com/bigkaa/storagemarket/internal/config"
)

// Routes — обработчики, монтируемые сервером.
type Routes struct {
	// API — REST и health endpoints
	API *handlers.APIHandler
	// Providers — WebSocket endpoint агентов (/ws/providers)
	Providers http.Handler
	// ProviderAuth — middleware проверки токенов агентов (nil — без проверки)
	ProviderAuth func(http.Handler) http.Handler
}

// Server — HTTP-сервер координатора.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
	onShutdown []func(context.Context) error
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
// middlewares применяются ко всем маршрутам в порядке переданного среза.
func New(cfg *config.Config, logger *slog.Logger, routes Routes, middlewares ...func(http.Handler) http.Handler) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(routes, middlewares...),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает chi router со всеми маршрутами координатора.
func NewRouter(routes Routes, middlewares ...func(http.Handler) http.Handler) chi.Router {
	router := chi.NewRouter()
	for _, mw := range middlewares {
		router.Use(mw)
	}

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		apierrors.NotFound(w, "Маршрут не найден")
	})
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		apierrors.WriteError(w, http.StatusMethodNotAllowed, apierrors.CodeValidationError, "Метод не поддерживается")
	})

	api := routes.API

	// Health и метрики
	router.Get("/health/live", api.HealthLive)
	router.Get("/health/ready", api.HealthReady)
	router.Get("/metrics", api.GetMetrics)

	// Маркетплейс (read-only проекция контракта)
	router.Get("/offerings", api.ListOfferings)
	router.Get("/offerings/provider/{account}", api.ListOfferingsByProvider)
	router.Get("/agreements", api.ListAgreements)
	router.Get("/agreements/consumer/{consumer}", api.ListAgreementsByConsumer)
	router.Get("/agreements/provider/{provider}", api.ListAgreementsByProvider)
	router.Get("/agreements/{id}", api.GetAgreement)

	// Загрузка и передачи
	router.Post("/upload", api.Upload)
	router.Get("/transfers/{fileId}", api.GetTransfer)
	router.Get("/providers", api.ListProviders)

	// Агенты провайдеров
	if routes.Providers != nil {
		ws := router.With()
		if routes.ProviderAuth != nil {
			ws = router.With(routes.ProviderAuth)
		}
		ws.Method(http.MethodGet, "/ws/providers", routes.Providers)
	}

	return router
}

// Handler возвращает корневой обработчик сервера.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// OnShutdown регистрирует функцию, вызываемую после остановки HTTP-сервера.
// Используется для соединений, не отслеживаемых http.Server (WebSocket).
func (s *Server) OnShutdown(fn func(context.Context) error) {
	s.onShutdown = append(s.onShutdown, fn)
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM)
// или отмены ctx. Затем выполняется graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("Контекст сервера отменён")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}
	for _, fn := range s.onShutdown {
		if err := fn(shutdownCtx); err != nil {
			s.logger.Warn("Ошибка при остановке", slog.String("error", err.Error()))
		}
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
