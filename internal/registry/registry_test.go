package registry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/bigkaa/storagemarket/internal/protocol"
)

// fakeConn — соединение-заглушка.
type fakeConn struct {
	id string
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(context.Context, protocol.Envelope) error { return nil }

func newTestRegistry() *Registry {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegister_SameAddressTwoConnections(t *testing.T) {
	r := newTestRegistry()
	const addr = "0x00000000000000000000000000000000000000aa"

	r.Register(&fakeConn{id: "c1"}, addr, 10)
	r.Register(&fakeConn{id: "c2"}, addr, 20)

	if r.Len() != 2 {
		t.Fatalf("ожидалось 2 записи, получено %d", r.Len())
	}

	r.Unregister("c1")

	if r.Len() != 1 {
		t.Fatalf("ожидалась 1 запись после отключения, получено %d", r.Len())
	}
	info, ok := r.Get("c2")
	if !ok {
		t.Fatal("отключение c1 удалило c2")
	}
	if info.ProviderAddress != addr || info.AvailableStorage != 20 {
		t.Errorf("запись c2 изменилась: %+v", info)
	}
}

func TestRegister_OverwritesKeepsOrder(t *testing.T) {
	r := newTestRegistry()

	r.Register(&fakeConn{id: "c1"}, "0x01", 5)
	r.Register(&fakeConn{id: "c2"}, "0x02", 5)
	r.Register(&fakeConn{id: "c1"}, "0x03", 50)

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("ожидалось 2 записи, получено %d", len(list))
	}
	if list[0].ConnectionID != "c1" || list[0].ProviderAddress != "0x03" || list[0].AvailableStorage != 50 {
		t.Errorf("перезапись c1 некорректна: %+v", list[0])
	}
}

func TestUnregister_MissingIsNoop(t *testing.T) {
	r := newTestRegistry()

	if r.Unregister("missing") {
		t.Error("Unregister() отсутствующего id вернул true")
	}
}

func TestSelectEligible(t *testing.T) {
	r := newTestRegistry()

	if _, _, ok := r.SelectEligible(1); ok {
		t.Fatal("пустой реестр вернул провайдера")
	}

	r.Register(&fakeConn{id: "small"}, "0x01", 1)
	r.Register(&fakeConn{id: "big-1"}, "0x02", 100)
	r.Register(&fakeConn{id: "big-2"}, "0x03", 100)

	tests := []struct {
		required int64
		wantID   string
		wantOK   bool
	}{
		{required: 1, wantID: "small", wantOK: true},
		{required: 2, wantID: "big-1", wantOK: true},
		{required: 100, wantID: "big-1", wantOK: true},
		{required: 101, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("required=%d", tt.required), func(t *testing.T) {
			// Повтор проверяет детерминированность выбора
			for i := 0; i < 3; i++ {
				conn, info, ok := r.SelectEligible(tt.required)
				if ok != tt.wantOK {
					t.Fatalf("ok = %v, ожидалось %v", ok, tt.wantOK)
				}
				if !ok {
					return
				}
				if conn.ID() != tt.wantID || info.ConnectionID != tt.wantID {
					t.Errorf("выбрано %s, ожидалось %s", conn.ID(), tt.wantID)
				}
			}
		})
	}

	r.Unregister("big-1")
	conn, _, ok := r.SelectEligible(2)
	if !ok || conn.ID() != "big-2" {
		t.Errorf("после отключения big-1 ожидался big-2")
	}
}

func TestRegistry_Concurrent(t *testing.T) {
	r := newTestRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			r.Register(&fakeConn{id: id}, "0x01", int64(i))
			r.SelectEligible(1)
			r.List()
			if i%2 == 0 {
				r.Unregister(id)
			}
		}(i)
	}
	wg.Wait()

	if r.Len() != 25 {
		t.Errorf("ожидалось 25 записей, получено %d", r.Len())
	}
}
