// tracker.go — таблица ожидающих передач фрагментов, ключ — fileId.
//
// Каждая передача получает ограниченное время ожидания подтверждения.
// Первое конечное состояние (stored, failed, timed_out) окончательно,
// последующие сигналы журналируются и игнорируются. Завершённые передачи
// хранятся в expirable LRU для запросов статуса.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bigkaa/storagemarket/internal/domain/model"
)

// maxRetainedTransfers — ёмкость LRU завершённых передач.
const maxRetainedTransfers = 100_000

var (
	// ErrTransferNotFound — передача с таким fileId неизвестна или уже вытеснена.
	ErrTransferNotFound = errors.New("передача не найдена")
	// ErrForeignAcknowledgment — подтверждение пришло не по тому соединению,
	// по которому был отправлен фрагмент.
	ErrForeignAcknowledgment = errors.New("подтверждение от постороннего соединения")
	// ErrTransferExists — fileId уже зарегистрирован.
	ErrTransferExists = errors.New("передача с таким fileId уже существует")
)

// pendingTransfer — передача, ожидающая подтверждения.
type pendingTransfer struct {
	transfer model.Transfer
	timer    *time.Timer
	done     chan struct{}
}

// Tracker — потокобезопасная таблица передач.
type Tracker struct {
	mu       sync.Mutex
	pending  map[string]*pendingTransfer
	finished *expirable.LRU[string, model.Transfer]
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewTracker создаёт таблицу передач.
// timeout — ожидание подтверждения, retention — время хранения завершённых передач.
func NewTracker(timeout, retention time.Duration, logger *slog.Logger) *Tracker {
	return &Tracker{
		pending:  make(map[string]*pendingTransfer),
		finished: expirable.NewLRU[string, model.Transfer](maxRetainedTransfers, nil, retention),
		timeout:  timeout,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "transfer_tracker")),
	}
}

// Begin регистрирует передачу в состоянии pending и запускает таймер ожидания.
func (t *Tracker) Begin(tr model.Transfer) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.pending[tr.FileID]; ok {
		return ErrTransferExists
	}
	if _, ok := t.finished.Peek(tr.FileID); ok {
		return ErrTransferExists
	}

	tr.Status = model.TransferPending
	tr.Error = ""
	tr.CompletedAt = nil
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = t.now()
	}

	p := &pendingTransfer{transfer: tr, done: make(chan struct{})}
	fileID := tr.FileID
	p.timer = time.AfterFunc(t.timeout, func() { t.expire(fileID) })
	t.pending[fileID] = p

	transfersInFlight.Inc()
	return nil
}

// Complete переводит передачу в конечное состояние по сигналу провайдера.
// connectionID — соединение, от которого пришёл сигнал. Пустая строка
// отключает проверку (внутренние вызовы).
// Возвращает ErrTransferNotFound для неизвестного или уже завершённого fileId.
func (t *Tracker) Complete(fileID string, status model.TransferStatus, errMsg, connectionID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pending[fileID]
	if !ok {
		if prev, done := t.finished.Peek(fileID); done {
			t.logger.Warn("Повторный сигнал для завершённой передачи проигнорирован",
				slog.String("file_id", fileID),
				slog.String("status", string(prev.Status)),
				slog.String("signal", string(status)),
			)
		}
		return ErrTransferNotFound
	}
	if connectionID != "" && p.transfer.ConnectionID != connectionID {
		t.logger.Warn("Сигнал о передаче с постороннего соединения",
			slog.String("file_id", fileID),
			slog.String("expected_connection", p.transfer.ConnectionID),
			slog.String("connection_id", connectionID),
		)
		return ErrForeignAcknowledgment
	}

	t.finishLocked(p, status, errMsg)
	return nil
}

// FailConnection завершает со статусом failed все ожидающие передачи,
// отправленные по соединению connectionID. Возвращает число передач.
func (t *Tracker) FailConnection(connectionID, reason string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, p := range t.pending {
		if p.transfer.ConnectionID == connectionID {
			t.finishLocked(p, model.TransferFailed, reason)
			n++
		}
	}
	return n
}

// Status возвращает снимок передачи.
func (t *Tracker) Status(fileID string) (model.Transfer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.pending[fileID]; ok {
		return p.transfer, nil
	}
	if tr, ok := t.finished.Get(fileID); ok {
		return tr, nil
	}
	return model.Transfer{}, ErrTransferNotFound
}

// Wait ждёт конечного состояния передачи или отмены ctx.
// При отмене ctx возвращает текущий снимок (обычно pending) и ctx.Err().
func (t *Tracker) Wait(ctx context.Context, fileID string) (model.Transfer, error) {
	t.mu.Lock()
	p, ok := t.pending[fileID]
	t.mu.Unlock()

	if ok {
		select {
		case <-p.done:
		case <-ctx.Done():
			tr, err := t.Status(fileID)
			if err != nil {
				return tr, err
			}
			return tr, ctx.Err()
		}
	}
	return t.Status(fileID)
}

// Pending возвращает число передач, ожидающих подтверждения.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Close останавливает таймеры и завершает ожидающие передачи со статусом failed.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range t.pending {
		t.finishLocked(p, model.TransferFailed, "координатор остановлен")
	}
}

// expire вызывается таймером ожидания.
func (t *Tracker) expire(fileID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pending[fileID]
	if !ok {
		return
	}
	t.finishLocked(p, model.TransferTimedOut, "подтверждение от провайдера не получено за "+t.timeout.String())
}

// finishLocked фиксирует конечное состояние. Вызывается под t.mu.
func (t *Tracker) finishLocked(p *pendingTransfer, status model.TransferStatus, errMsg string) {
	p.timer.Stop()

	now := t.now()
	p.transfer.Status = status
	p.transfer.Error = errMsg
	p.transfer.CompletedAt = &now

	delete(t.pending, p.transfer.FileID)
	t.finished.Add(p.transfer.FileID, p.transfer)
	close(p.done)

	transfersInFlight.Dec()
	transfersTotal.WithLabelValues(string(status)).Inc()

	attrs := []any{
		slog.String("file_id", p.transfer.FileID),
		slog.String("agreement_id", p.transfer.AgreementID),
		slog.String("provider", p.transfer.ProviderAddress),
		slog.String("status", string(status)),
		slog.Duration("elapsed", now.Sub(p.transfer.CreatedAt)),
	}
	if status == model.TransferStored {
		t.logger.Info("Фрагмент сохранён провайдером", attrs...)
		return
	}
	t.logger.Warn("Передача фрагмента не завершена", append(attrs, slog.String("error", errMsg))...)
}
