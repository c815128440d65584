// subscriber.go — доставка событий контракта обработчику.
//
// Цикл работы: подключение к узлу → подписка на новые логи → загрузка
// истории от checkpoint до текущей головы батчами FilterLogs → обработка
// логов подписки. После каждого полностью обработанного блока checkpoint
// сдвигается вперёд. При обрыве подписки — переподключение с backoff и
// повторная догрузка истории от checkpoint.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/jpillora/backoff"

	"github.com/bigkaa/storagemarket/internal/domain/model"
	"github.com/bigkaa/storagemarket/internal/repository"
)

// liveBufferSize — ёмкость канала логов подписки.
const liveBufferSize = 1024

// LogSource — источник логов. Реализуется *ethclient.Client.
type LogSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	Close()
}

// Dialer открывает соединение с узлом.
type Dialer func(ctx context.Context) (LogSource, error)

// DialRPC возвращает Dialer для websocket RPC endpoint.
func DialRPC(rawURL string) Dialer {
	return func(ctx context.Context) (LogSource, error) {
		client, err := ethclient.DialContext(ctx, rawURL)
		if err != nil {
			return nil, fmt.Errorf("ошибка подключения к узлу %s: %w", rawURL, err)
		}
		return client, nil
	}
}

// Handler применяет событие. Ошибки обработчик журналирует сам.
type Handler interface {
	Handle(ctx context.Context, ev Event)
}

// SubscriberConfig — параметры Subscriber.
type SubscriberConfig struct {
	// Contract — адрес контракта маркетплейса
	Contract common.Address
	// StartBlock — первый блок при отсутствии checkpoint
	StartBlock uint64
	// BatchSize — число блоков в одном запросе FilterLogs
	BatchSize uint64
	// Events — события, на которые оформляется подписка
	Events []string
	// ReconnectMin, ReconnectMax — границы паузы перед переподключением
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Subscriber — загрузчик и подписчик событий контракта.
type Subscriber struct {
	cfg         SubscriberConfig
	dial        Dialer
	decoder     *Decoder
	topics      []common.Hash
	handler     Handler
	checkpoints repository.CheckpointRepository
	logger      *slog.Logger

	live      atomic.Bool
	lastBlock atomic.Uint64
	lastErr   atomic.Pointer[string]
}

// NewSubscriber создаёт подписчика.
func NewSubscriber(
	cfg SubscriberConfig,
	dial Dialer,
	decoder *Decoder,
	handler Handler,
	checkpoints repository.CheckpointRepository,
	logger *slog.Logger,
) (*Subscriber, error) {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 5000
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = time.Second
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = time.Minute
	}
	if len(cfg.Events) == 0 {
		cfg.Events = []string{
			EventOfferingCreated, EventOfferingUpdated, EventOfferingRemoved,
			EventAgreementCreated, EventAgreementCancelled,
		}
	}

	topics, err := decoder.Topics(cfg.Events...)
	if err != nil {
		return nil, err
	}

	return &Subscriber{
		cfg:         cfg,
		dial:        dial,
		decoder:     decoder,
		topics:      topics,
		handler:     handler,
		checkpoints: checkpoints,
		logger:      logger.With(slog.String("component", "chain_subscriber")),
	}, nil
}

// Run работает до отмены ctx. Возвращает nil при штатной остановке.
func (s *Subscriber) Run(ctx context.Context) error {
	b := &backoff.Backoff{
		Min:    s.cfg.ReconnectMin,
		Max:    s.cfg.ReconnectMax,
		Factor: 2,
		Jitter: true,
	}

	for {
		wasLive, err := s.runOnce(ctx)
		s.live.Store(false)
		if ctx.Err() != nil {
			s.logger.Info("Подписчик событий контракта остановлен")
			return nil
		}
		if wasLive {
			b.Reset()
		}

		msg := err.Error()
		s.lastErr.Store(&msg)
		delay := b.Duration()
		s.logger.Warn("Подписка на события контракта прервана, переподключение",
			slog.String("error", msg),
			slog.Duration("retry_in", delay),
			slog.Int("attempt", int(b.Attempt())),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// runOnce выполняет один сеанс: подключение, догрузку и подписку.
// wasLive = true, если сеанс дошёл до обработки подписки.
func (s *Subscriber) runOnce(ctx context.Context) (wasLive bool, err error) {
	src, err := s.dial(ctx)
	if err != nil {
		return false, err
	}
	defer src.Close()

	next, err := s.startBlock(ctx)
	if err != nil {
		return false, err
	}

	// Подписка оформляется до догрузки, чтобы не потерять логи
	// блоков, появившихся во время загрузки истории.
	liveCh := make(chan types.Log, liveBufferSize)
	sub, err := src.SubscribeFilterLogs(ctx, s.query(nil, nil), liveCh)
	if err != nil {
		return false, fmt.Errorf("ошибка подписки на логи: %w", err)
	}
	defer sub.Unsubscribe()

	head, err := src.BlockNumber(ctx)
	if err != nil {
		return false, fmt.Errorf("ошибка получения номера блока: %w", err)
	}

	next, err = s.backfill(ctx, src, next, head)
	if err != nil {
		return false, err
	}

	s.live.Store(true)
	s.logger.Info("Переход на подписку событий контракта", slog.Uint64("next_block", next))

	// pendingBlock — блок, логи которого обрабатываются сейчас
	var pendingBlock uint64
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				err = errors.New("подписка закрыта узлом")
			}
			return true, err
		case l := <-liveCh:
			if l.BlockNumber < next {
				continue
			}
			if pendingBlock != 0 && l.BlockNumber > pendingBlock {
				s.saveCheckpoint(ctx, l.BlockNumber-1)
			}
			pendingBlock = l.BlockNumber
			s.apply(ctx, l)
		}
	}
}

// startBlock возвращает первый необработанный блок.
func (s *Subscriber) startBlock(ctx context.Context) (uint64, error) {
	cp, err := s.checkpoints.GetCheckpoint(ctx, model.ChainCheckpointID)
	if errors.Is(err, repository.ErrNotFound) {
		return s.cfg.StartBlock, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения checkpoint: %w", err)
	}
	s.lastBlock.Store(cp.LastBlock)
	if cp.LastBlock+1 < s.cfg.StartBlock {
		return s.cfg.StartBlock, nil
	}
	return cp.LastBlock + 1, nil
}

// backfill обрабатывает блоки [from, head] батчами. Возвращает следующий блок.
func (s *Subscriber) backfill(ctx context.Context, src LogSource, from, head uint64) (uint64, error) {
	if from > head {
		return from, nil
	}

	s.logger.Info("Загрузка истории событий контракта",
		slog.Uint64("from_block", from),
		slog.Uint64("to_block", head),
	)

	for start := from; start <= head; {
		end := start + s.cfg.BatchSize - 1
		if end > head || end < start {
			end = head
		}

		logs, err := src.FilterLogs(ctx, s.query(new(big.Int).SetUint64(start), new(big.Int).SetUint64(end)))
		if err != nil {
			return start, fmt.Errorf("ошибка FilterLogs [%d, %d]: %w", start, end, err)
		}
		for _, l := range logs {
			s.apply(ctx, l)
		}
		s.saveCheckpoint(ctx, end)

		start = end + 1
	}
	return head + 1, nil
}

// apply разбирает лог и передаёт событие обработчику.
func (s *Subscriber) apply(ctx context.Context, l types.Log) {
	if l.Removed {
		s.logger.Warn("Лог отменён реорганизацией цепи, пропущен",
			slog.Uint64("block", l.BlockNumber),
			slog.String("tx_hash", l.TxHash.Hex()),
			slog.Uint64("log_index", uint64(l.Index)),
		)
		return
	}

	ev, err := s.decoder.Decode(l)
	if err != nil {
		s.logger.Warn("Лог контракта не разобран",
			slog.Uint64("block", l.BlockNumber),
			slog.String("tx_hash", l.TxHash.Hex()),
			slog.String("error", err.Error()),
		)
		return
	}
	s.handler.Handle(ctx, ev)
}

// saveCheckpoint сохраняет последний полностью обработанный блок.
func (s *Subscriber) saveCheckpoint(ctx context.Context, block uint64) {
	if err := s.checkpoints.SaveCheckpoint(ctx, model.ChainCheckpointID, block); err != nil {
		s.logger.Error("Ошибка сохранения checkpoint",
			slog.Uint64("block", block),
			slog.String("error", err.Error()),
		)
		return
	}
	s.lastBlock.Store(block)
}

// query строит фильтр логов контракта. Пустые границы — подписка на новые блоки.
func (s *Subscriber) query(from, to *big.Int) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: from,
		ToBlock:   to,
		Addresses: []common.Address{s.cfg.Contract},
		Topics:    [][]common.Hash{s.topics},
	}
}

// LastBlock возвращает последний сохранённый в checkpoint блок.
func (s *Subscriber) LastBlock() uint64 {
	return s.lastBlock.Load()
}

// CheckReady — состояние подписки для readiness-проверки.
// Пока идёт загрузка истории или переподключение — "degraded".
func (s *Subscriber) CheckReady() (status string, message string) {
	if s.live.Load() {
		return "ok", fmt.Sprintf("подписка активна, блок %d", s.lastBlock.Load())
	}
	if msg := s.lastErr.Load(); msg != nil {
		return "degraded", "подписка не активна: " + *msg
	}
	return "degraded", "загрузка истории событий"
}
