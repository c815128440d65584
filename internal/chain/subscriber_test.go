package chain

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/bigkaa/storagemarket/internal/domain/model"
	"github.com/bigkaa/storagemarket/internal/repository"
)

// fakeSubscription — подписка, ошибку которой задаёт тест.
type fakeSubscription struct {
	errCh chan error
	once  sync.Once
}

func newFakeSubscription() *fakeSubscription {
	return &fakeSubscription{errCh: make(chan error, 1)}
}

func (s *fakeSubscription) Unsubscribe() {
	s.once.Do(func() { close(s.errCh) })
}

func (s *fakeSubscription) Err() <-chan error { return s.errCh }

// fakeSource — узел с историей логов в памяти.
type fakeSource struct {
	mu      sync.Mutex
	head    uint64
	history []types.Log
	live    chan<- types.Log
	sub     *fakeSubscription
	filters []ethereum.FilterQuery
}

func (f *fakeSource) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head, nil
}

func (f *fakeSource) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, q)

	from, to := q.FromBlock.Uint64(), q.ToBlock.Uint64()
	var out []types.Log
	for _, l := range f.history {
		if l.BlockNumber >= from && l.BlockNumber <= to {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeSource) SubscribeFilterLogs(_ context.Context, _ ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live = ch
	f.sub = newFakeSubscription()
	return f.sub, nil
}

func (f *fakeSource) Close() {}

func (f *fakeSource) push(l types.Log) {
	f.mu.Lock()
	ch := f.live
	f.mu.Unlock()
	ch <- l
}

func (f *fakeSource) failSubscription(err error) {
	f.mu.Lock()
	sub := f.sub
	f.mu.Unlock()
	sub.errCh <- err
}

func (f *fakeSource) filterRanges() [][2]uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][2]uint64, 0, len(f.filters))
	for _, q := range f.filters {
		out = append(out, [2]uint64{q.FromBlock.Uint64(), q.ToBlock.Uint64()})
	}
	return out
}

// recordingHandler — обработчик, запоминающий события.
type recordingHandler struct {
	mu     sync.Mutex
	events []Event
}

func (h *recordingHandler) Handle(_ context.Context, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *recordingHandler) blocks() []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]uint64, 0, len(h.events))
	for _, ev := range h.events {
		out = append(out, ev.Metadata().BlockNumber)
	}
	return out
}

func cancelLog(t *testing.T, d *Decoder, block uint64, id int64) types.Log {
	return buildLog(t, d, EventAgreementCancelled, block, 0, []common.Hash{idTopic(id)})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("не дождались: %s", what)
}

func equalBlocks(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func newTestSubscriber(t *testing.T, dial Dialer, store repository.CheckpointRepository, h Handler, startBlock uint64) *Subscriber {
	t.Helper()
	s, err := NewSubscriber(SubscriberConfig{
		Contract:     testContract,
		StartBlock:   startBlock,
		BatchSize:    2,
		Events:       []string{EventAgreementCancelled},
		ReconnectMin: time.Millisecond,
		ReconnectMax: 5 * time.Millisecond,
	}, dial, mustDecoder(t), h, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewSubscriber() error: %v", err)
	}
	return s
}

func runSubscriber(t *testing.T, s *Subscriber) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() error: %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Error("Run() не завершился после отмены контекста")
		}
	}
}

func TestSubscriber_BackfillThenLive(t *testing.T) {
	d := mustDecoder(t)
	src := &fakeSource{
		head: 12,
		history: []types.Log{
			cancelLog(t, d, 10, 1),
			cancelLog(t, d, 11, 2),
			cancelLog(t, d, 12, 3),
		},
	}
	store := repository.NewMemoryStore()
	h := &recordingHandler{}
	s := newTestSubscriber(t, func(context.Context) (LogSource, error) { return src, nil }, store, h, 10)

	stop := runSubscriber(t, s)
	defer stop()

	waitFor(t, "перехода на подписку", func() bool {
		status, _ := s.CheckReady()
		return status == "ok"
	})

	if got := h.blocks(); !equalBlocks(got, []uint64{10, 11, 12}) {
		t.Fatalf("история: блоки %v", got)
	}
	ranges := src.filterRanges()
	if len(ranges) != 2 || ranges[0] != [2]uint64{10, 11} || ranges[1] != [2]uint64{12, 12} {
		t.Errorf("неверные диапазоны FilterLogs: %v", ranges)
	}
	if s.LastBlock() != 12 {
		t.Errorf("checkpoint после истории = %d, ожидалось 12", s.LastBlock())
	}

	// Дубликат уже загруженного блока и отменённый реорганизацией лог пропускаются
	src.push(cancelLog(t, d, 12, 3))
	removed := cancelLog(t, d, 13, 4)
	removed.Removed = true
	src.push(removed)
	src.push(cancelLog(t, d, 13, 5))
	src.push(cancelLog(t, d, 15, 6))

	waitFor(t, "событий подписки", func() bool { return len(h.blocks()) == 5 })
	if got := h.blocks(); !equalBlocks(got, []uint64{10, 11, 12, 13, 15}) {
		t.Errorf("события: блоки %v", got)
	}

	cp, err := store.GetCheckpoint(context.Background(), model.ChainCheckpointID)
	if err != nil {
		t.Fatalf("GetCheckpoint() error: %v", err)
	}
	if cp.LastBlock != 14 {
		t.Errorf("checkpoint = %d, ожидалось 14", cp.LastBlock)
	}
}

func TestSubscriber_ResumesFromCheckpoint(t *testing.T) {
	d := mustDecoder(t)
	src := &fakeSource{
		head: 3,
		history: []types.Log{
			cancelLog(t, d, 1, 1),
			cancelLog(t, d, 2, 2),
			cancelLog(t, d, 3, 3),
		},
	}
	store := repository.NewMemoryStore()
	if err := store.SaveCheckpoint(context.Background(), model.ChainCheckpointID, 1); err != nil {
		t.Fatalf("SaveCheckpoint() error: %v", err)
	}
	h := &recordingHandler{}
	s := newTestSubscriber(t, func(context.Context) (LogSource, error) { return src, nil }, store, h, 0)

	stop := runSubscriber(t, s)
	defer stop()

	waitFor(t, "перехода на подписку", func() bool {
		status, _ := s.CheckReady()
		return status == "ok"
	})
	if got := h.blocks(); !equalBlocks(got, []uint64{2, 3}) {
		t.Errorf("после checkpoint 1 ожидались блоки [2 3], получено %v", got)
	}
}

func TestSubscriber_Reconnects(t *testing.T) {
	d := mustDecoder(t)
	src := &fakeSource{head: 1, history: []types.Log{cancelLog(t, d, 1, 1)}}
	store := repository.NewMemoryStore()
	h := &recordingHandler{}

	var dials atomic.Int32
	dial := func(context.Context) (LogSource, error) {
		if dials.Add(1) == 1 {
			return nil, errors.New("узел недоступен")
		}
		return src, nil
	}
	s := newTestSubscriber(t, dial, store, h, 0)

	stop := runSubscriber(t, s)
	defer stop()

	waitFor(t, "подключения после ошибки", func() bool {
		status, _ := s.CheckReady()
		return status == "ok"
	})

	// Обрыв подписки: новый сеанс догружает историю от checkpoint
	src.mu.Lock()
	src.history = append(src.history, cancelLog(t, d, 2, 2))
	src.head = 2
	src.mu.Unlock()
	src.failSubscription(errors.New("соединение разорвано"))

	waitFor(t, "повторной догрузки", func() bool { return len(h.blocks()) == 2 })
	if got := h.blocks(); !equalBlocks(got, []uint64{1, 2}) {
		t.Errorf("события: блоки %v", got)
	}
	if n := dials.Load(); n < 3 {
		t.Errorf("ожидалось не менее 3 подключений, получено %d", n)
	}
}

func TestSubscriber_CheckReadyBeforeStart(t *testing.T) {
	s := newTestSubscriber(t, func(context.Context) (LogSource, error) { return &fakeSource{}, nil },
		repository.NewMemoryStore(), &recordingHandler{}, 0)

	status, _ := s.CheckReady()
	if status != "degraded" {
		t.Errorf("CheckReady() = %q до запуска, ожидалось degraded", status)
	}
}

func TestQuery(t *testing.T) {
	s := newTestSubscriber(t, nil, repository.NewMemoryStore(), &recordingHandler{}, 0)

	q := s.query(big.NewInt(1), big.NewInt(2))
	if len(q.Addresses) != 1 || q.Addresses[0] != testContract {
		t.Errorf("неверный адрес контракта в фильтре: %v", q.Addresses)
	}
	if len(q.Topics) != 1 || len(q.Topics[0]) != 1 {
		t.Errorf("неверные topics фильтра: %v", q.Topics)
	}
}
