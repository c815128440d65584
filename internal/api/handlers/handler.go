// handler.go — основной обработчик REST API координатора.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/bigkaa/storagemarket/internal/dispatch"
	"github.com/bigkaa/storagemarket/internal/registry"
	"github.com/bigkaa/storagemarket/internal/service"
)

// APIHandler — основной обработчик API координатора.
type APIHandler struct {
	health         *HealthHandler
	marketplace    *service.MarketplaceService
	dispatcher     *dispatch.Dispatcher
	tracker        *dispatch.Tracker
	providers      *registry.Registry
	uploadMaxBytes int64
	maxWait        time.Duration
	logger         *slog.Logger
}

// Options — лимиты обработчиков.
type Options struct {
	// UploadMaxBytes — максимальный размер загружаемого файла
	UploadMaxBytes int64
	// MaxWait — верхняя граница параметра wait для GET /transfers/{fileId}
	MaxWait time.Duration
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	marketplace *service.MarketplaceService,
	dispatcher *dispatch.Dispatcher,
	tracker *dispatch.Tracker,
	providers *registry.Registry,
	opts Options,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:         health,
		marketplace:    marketplace,
		dispatcher:     dispatcher,
		tracker:        tracker,
		providers:      providers,
		uploadMaxBytes: opts.UploadMaxBytes,
		maxWait:        opts.MaxWait,
		logger:         logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness-проверка (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness-проверка (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
