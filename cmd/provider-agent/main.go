// Точка входа агента провайдера.
// Измеряет свободное место в каталоге фрагментов, подключается к
// координатору и сохраняет получаемые фрагменты до SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bigkaa/storagemarket/internal/agent"
	"github.com/bigkaa/storagemarket/internal/config"
	"github.com/bigkaa/storagemarket/internal/storage/filestore"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.LoadAgent()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("Агент провайдера запускается",
		slog.String("version", config.Version),
		slog.String("provider", cfg.ProviderAddress),
		slog.String("coordinator", cfg.CoordinatorURL),
	)

	// 3. Каталог фрагментов
	store, err := filestore.New(cfg.StorageDir)
	if err != nil {
		logger.Error("Ошибка инициализации каталога фрагментов", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Свободный объём, сообщаемый при каждой регистрации
	gb, err := availableGB(store.DataDir())
	if err != nil {
		logger.Error("Ошибка получения свободного места", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Свободное место в каталоге фрагментов",
		slog.String("dir", store.DataDir()),
		slog.Int64("available_gb", gb),
	)

	// 5. Клиент координатора
	client := agent.New(agent.Config{
		CoordinatorURL:   cfg.CoordinatorURL,
		ProviderAddress:  cfg.ProviderAddress,
		AvailableStorage: gb,
		TokenSecret:      cfg.TokenSecret,
		ReconnectMin:     cfg.ReconnectMin,
		ReconnectMax:     cfg.ReconnectMax,
	}, store, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 6. Работа до сигнала завершения
	if err := client.Run(ctx); err != nil {
		logger.Error("Агент завершился с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Агент провайдера остановлен")
}
