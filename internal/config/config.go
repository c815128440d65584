// Пакет config — загрузка и валидация конфигурации координатора
// и агента провайдера из переменных окружения.
package config

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Допустимые значения CM_STORE.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Config содержит все параметры конфигурации координатора.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (REST, /ws/providers, /metrics, health)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения HTTP-сервера (по умолчанию 30s)
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-сервера (по умолчанию 90s, long-poll статуса передачи)
	HTTPWriteTimeout time.Duration
	// Таймаут простоя HTTP-сервера (по умолчанию 120s)
	HTTPIdleTimeout time.Duration

	// Таймаут graceful shutdown (по умолчанию 10s)
	ShutdownTimeout time.Duration

	// --- Хранилище ---

	// Тип хранилища проекции: postgres или memory
	Store string
	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Пользователь PostgreSQL
	DBUser string
	// Пароль PostgreSQL
	DBPassword string
	// Режим SSL (disable, require, verify-ca, verify-full)
	DBSSLMode string
	// Максимальный размер пула подключений
	DBMaxConns int
	// Время ожидания PostgreSQL при старте (повторные попытки подключения)
	DBConnectTimeout time.Duration

	// --- Блокчейн ---

	// Websocket RPC endpoint узла. Пустое значение отключает проектор событий.
	ChainRPCURL string
	// Адрес контракта маркетплейса
	ContractAddress common.Address
	// Блок, с которого начинается загрузка истории при отсутствии checkpoint
	ChainStartBlock uint64
	// Размер диапазона блоков для одного запроса FilterLogs
	ChainBackfillBatch uint64
	// HTTP URL узла для topologymetrics (опционально)
	ChainHealthURL string
	// Проецировать AgreementCompleted и PaymentMade
	ChainCompletedEvents bool

	// --- Передача фрагментов ---

	// Максимальное время ожидания подтверждения от провайдера
	TransferTimeout time.Duration
	// Время хранения завершённых передач для запросов статуса
	TransferRetention time.Duration
	// Верхняя граница параметра ?wait= для long-poll
	TransferMaxWait time.Duration
	// Максимальный размер загружаемого файла в байтах
	UploadMaxBytes int64
	// Ключ шифрования фрагментов (32 байта). nil — шифрование отключено.
	FragmentKey []byte

	// --- Аутентификация провайдеров ---

	// HS256 секрет для JWT провайдеров. Пустое значение отключает проверку.
	ProviderTokenSecret string

	// --- Кэш ---

	// Максимальное число записей в кэше договоров
	AgreementCacheSize int
	// TTL записи кэша договоров
	AgreementCacheTTL time.Duration

	// --- Topologymetrics ---

	// Имя группы в метриках dephealth
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration
}

// Load загружает конфигурацию координатора из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// CM_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("CM_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("CM_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("CM_PORT: значение %d вне диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("CM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("CM_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat, err = parseLogFormat(getEnvDefault("CM_LOG_FORMAT", "json"))
	if err != nil {
		return nil, fmt.Errorf("CM_LOG_FORMAT: %w", err)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvPositiveDuration("CM_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvPositiveDuration("CM_HTTP_WRITE_TIMEOUT", 90*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvPositiveDuration("CM_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_HTTP_IDLE_TIMEOUT: %w", err)
	}
	cfg.ShutdownTimeout, err = getEnvPositiveDuration("CM_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- Хранилище ---

	cfg.Store = strings.ToLower(getEnvDefault("CM_STORE", StorePostgres))
	if cfg.Store != StorePostgres && cfg.Store != StoreMemory {
		return nil, fmt.Errorf("CM_STORE: недопустимое значение %q, допустимые: postgres, memory", cfg.Store)
	}

	if cfg.Store == StorePostgres {
		if err := loadDatabase(cfg); err != nil {
			return nil, err
		}
	}

	// --- Блокчейн ---

	if err := loadChain(cfg); err != nil {
		return nil, err
	}

	// --- Передача фрагментов ---

	cfg.TransferTimeout, err = getEnvPositiveDuration("CM_TRANSFER_TIMEOUT", 2*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("CM_TRANSFER_TIMEOUT: %w", err)
	}
	cfg.TransferRetention, err = getEnvPositiveDuration("CM_TRANSFER_RETENTION", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("CM_TRANSFER_RETENTION: %w", err)
	}
	cfg.TransferMaxWait, err = getEnvPositiveDuration("CM_TRANSFER_MAX_WAIT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_TRANSFER_MAX_WAIT: %w", err)
	}

	maxBytes, err := getEnvInt("CM_UPLOAD_MAX_BYTES", 64<<20)
	if err != nil {
		return nil, fmt.Errorf("CM_UPLOAD_MAX_BYTES: %w", err)
	}
	if maxBytes <= 0 {
		return nil, fmt.Errorf("CM_UPLOAD_MAX_BYTES: значение должно быть > 0")
	}
	cfg.UploadMaxBytes = int64(maxBytes)

	// CM_FRAGMENT_KEY — 64 hex-символа (32 байта) для XChaCha20-Poly1305
	if raw := os.Getenv("CM_FRAGMENT_KEY"); raw != "" {
		key, decErr := hex.DecodeString(raw)
		if decErr != nil || len(key) != 32 {
			return nil, fmt.Errorf("CM_FRAGMENT_KEY: ожидается 64 hex-символа (32 байта)")
		}
		cfg.FragmentKey = key
	}

	cfg.ProviderTokenSecret = os.Getenv("CM_PROVIDER_TOKEN_SECRET")

	// --- Кэш ---

	cfg.AgreementCacheSize, err = getEnvInt("CM_AGREEMENT_CACHE_SIZE", 1000)
	if err != nil {
		return nil, fmt.Errorf("CM_AGREEMENT_CACHE_SIZE: %w", err)
	}
	if cfg.AgreementCacheSize <= 0 {
		return nil, fmt.Errorf("CM_AGREEMENT_CACHE_SIZE: значение должно быть > 0")
	}
	cfg.AgreementCacheTTL, err = getEnvPositiveDuration("CM_AGREEMENT_CACHE_TTL", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_AGREEMENT_CACHE_TTL: %w", err)
	}

	// --- Topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("CM_DEPHEALTH_GROUP", "storagemarket")
	cfg.DephealthCheckInterval, err = getEnvPositiveDuration("CM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("CM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	return cfg, nil
}

// loadDatabase читает параметры PostgreSQL.
func loadDatabase(cfg *Config) error {
	var err error

	cfg.DBHost = getEnvDefault("CM_DB_HOST", "localhost")
	cfg.DBPort, err = getEnvInt("CM_DB_PORT", 5432)
	if err != nil {
		return fmt.Errorf("CM_DB_PORT: %w", err)
	}
	cfg.DBName = getEnvDefault("CM_DB_NAME", "storagemarket")
	cfg.DBUser = getEnvDefault("CM_DB_USER", "storagemarket")

	// CM_DB_PASSWORD — обязательный при CM_STORE=postgres
	cfg.DBPassword, err = getEnvRequired("CM_DB_PASSWORD")
	if err != nil {
		return err
	}

	cfg.DBSSLMode = getEnvDefault("CM_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return fmt.Errorf("CM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	cfg.DBMaxConns, err = getEnvInt("CM_DB_MAX_CONNS", 10)
	if err != nil {
		return fmt.Errorf("CM_DB_MAX_CONNS: %w", err)
	}
	if cfg.DBMaxConns <= 0 {
		return fmt.Errorf("CM_DB_MAX_CONNS: значение должно быть > 0")
	}
	cfg.DBConnectTimeout, err = getEnvPositiveDuration("CM_DB_CONNECT_TIMEOUT", 30*time.Second)
	if err != nil {
		return fmt.Errorf("CM_DB_CONNECT_TIMEOUT: %w", err)
	}
	return nil
}

// loadChain читает параметры подключения к блокчейну.
func loadChain(cfg *Config) error {
	var err error

	cfg.ChainRPCURL = os.Getenv("CM_CHAIN_RPC_URL")
	if cfg.ChainRPCURL != "" {
		u, parseErr := url.Parse(cfg.ChainRPCURL)
		if parseErr != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("CM_CHAIN_RPC_URL: ожидается URL со схемой ws:// или wss://, получено %q", cfg.ChainRPCURL)
		}

		addr, reqErr := getEnvRequired("CM_CONTRACT_ADDRESS")
		if reqErr != nil {
			return reqErr
		}
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("CM_CONTRACT_ADDRESS: некорректный адрес %q", addr)
		}
		cfg.ContractAddress = common.HexToAddress(addr)
	}

	startBlock, err := getEnvInt("CM_CHAIN_START_BLOCK", 0)
	if err != nil {
		return fmt.Errorf("CM_CHAIN_START_BLOCK: %w", err)
	}
	if startBlock < 0 {
		return fmt.Errorf("CM_CHAIN_START_BLOCK: значение должно быть >= 0")
	}
	cfg.ChainStartBlock = uint64(startBlock)

	batch, err := getEnvInt("CM_CHAIN_BACKFILL_BATCH", 5000)
	if err != nil {
		return fmt.Errorf("CM_CHAIN_BACKFILL_BATCH: %w", err)
	}
	if batch <= 0 {
		return fmt.Errorf("CM_CHAIN_BACKFILL_BATCH: значение должно быть > 0")
	}
	cfg.ChainBackfillBatch = uint64(batch)

	cfg.ChainHealthURL = os.Getenv("CM_CHAIN_HEALTH_URL")

	cfg.ChainCompletedEvents, err = getEnvBool("CM_CHAIN_COMPLETED_EVENTS", true)
	if err != nil {
		return fmt.Errorf("CM_CHAIN_COMPLETED_EVENTS: %w", err)
	}
	return nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL PostgreSQL без пароля (для лейблов topologymetrics).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s@%s:%d/%s", c.DBUser, c.DBHost, c.DBPort, c.DBName)
}

// MigrateURL возвращает URL в формате golang-migrate (pgx5://...).
func (c *Config) MigrateURL() string {
	return fmt.Sprintf(
		"pgx5://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.DBUser), url.QueryEscape(c.DBPassword), c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// ChainEnabled сообщает, настроено ли подключение к блокчейну.
func (c *Config) ChainEnabled() bool {
	return c.ChainRPCURL != ""
}

// SetupLogger настраивает глобальный slog-логгер.
func SetupLogger(level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvPositiveDuration возвращает time.Duration > 0 из переменной окружения
// или значение по умолчанию.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseLogFormat проверяет формат логов.
func parseLogFormat(format string) (string, error) {
	if format != "json" && format != "text" {
		return "", fmt.Errorf("недопустимый формат %q, допустимые: json, text", format)
	}
	return format, nil
}
