// agent.go — конфигурация агента провайдера (префикс PA_).
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bigkaa/storagemarket/internal/domain/model"
)

// AgentConfig содержит параметры агента провайдера.
type AgentConfig struct {
	// WebSocket endpoint координатора
	CoordinatorURL string
	// Адрес аккаунта провайдера (lowercase hex)
	ProviderAddress string
	// Каталог хранения фрагментов
	StorageDir string
	// HS256 секрет для подписи JWT (пустой — без аутентификации)
	TokenSecret string
	// Минимальная пауза перед переподключением
	ReconnectMin time.Duration
	// Максимальная пауза перед переподключением
	ReconnectMax time.Duration
	// Уровень логирования
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
}

// LoadAgent загружает конфигурацию агента из переменных окружения.
func LoadAgent() (*AgentConfig, error) {
	cfg := &AgentConfig{}
	var err error

	cfg.CoordinatorURL = getEnvDefault("PA_COORDINATOR_URL", "ws://localhost:8080/ws/providers")
	u, err := url.Parse(cfg.CoordinatorURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return nil, fmt.Errorf("PA_COORDINATOR_URL: ожидается URL со схемой ws:// или wss://, получено %q", cfg.CoordinatorURL)
	}

	// PA_PROVIDER_ADDRESS — обязательный
	addr, err := getEnvRequired("PA_PROVIDER_ADDRESS")
	if err != nil {
		return nil, err
	}
	if !common.IsHexAddress(addr) {
		return nil, fmt.Errorf("PA_PROVIDER_ADDRESS: некорректный адрес %q", addr)
	}
	cfg.ProviderAddress = model.NormalizeAddress(addr)

	cfg.StorageDir = getEnvDefault("PA_STORAGE_DIR", "./storage")
	cfg.TokenSecret = os.Getenv("PA_TOKEN_SECRET")

	cfg.ReconnectMin, err = getEnvPositiveDuration("PA_RECONNECT_MIN", time.Second)
	if err != nil {
		return nil, fmt.Errorf("PA_RECONNECT_MIN: %w", err)
	}
	cfg.ReconnectMax, err = getEnvPositiveDuration("PA_RECONNECT_MAX", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PA_RECONNECT_MAX: %w", err)
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		return nil, fmt.Errorf("PA_RECONNECT_MAX: значение %s меньше PA_RECONNECT_MIN %s", cfg.ReconnectMax, cfg.ReconnectMin)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("PA_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("PA_LOG_LEVEL: %w", err)
	}
	cfg.LogFormat, err = parseLogFormat(getEnvDefault("PA_LOG_FORMAT", "json"))
	if err != nil {
		return nil, fmt.Errorf("PA_LOG_FORMAT: %w", err)
	}

	return cfg, nil
}
