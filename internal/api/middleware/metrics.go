// metrics.go — Prometheus HTTP метрики координатора.
// Регистрирует метрики: storagemarket_http_requests_total, storagemarket_http_request_duration_seconds.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	// httpRequestsTotal — общее количество HTTP-запросов.
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storagemarket_http_requests_total",
			Help: "Общее количество HTTP-запросов к координатору",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDuration — гистограмма длительности HTTP-запросов.
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storagemarket_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к координатору в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Записывает количество запросов и длительность для каждого endpoint.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := newStatusRecorder(w)
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(wrapped.status)
			path := routeLabel(r)

			httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
		})
	}
}

// routeLabel возвращает шаблон маршрута chi (/agreements/{id}). Для запросов
// вне роутера (404, тесты без chi) путь нормализуется вручную.
func routeLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" && pattern != "/*" {
			return pattern
		}
	}
	return normalizePath(r.URL.Path)
}

// normalizePath заменяет адреса и идентификаторы в пути шаблонами
// для предотвращения взрывного роста кардинальности метрик.
// /agreements/consumer/0xabc... → /agreements/consumer/{address}
func normalizePath(path string) string {
	switch path {
	case "/health/live", "/health/ready", "/metrics",
		"/offerings", "/agreements", "/upload", "/providers", "/ws/providers":
		return path
	}

	prefixes := []struct {
		prefix string
		result string
	}{
		{"/offerings/provider/", "/offerings/provider/{address}"},
		{"/agreements/consumer/", "/agreements/consumer/{address}"},
		{"/agreements/provider/", "/agreements/provider/{address}"},
		{"/agreements/", "/agreements/{id}"},
		{"/transfers/", "/transfers/{fileId}"},
	}

	for _, p := range prefixes {
		if len(path) > len(p.prefix) && strings.HasPrefix(path, p.prefix) {
			return p.result
		}
	}

	return "other"
}
