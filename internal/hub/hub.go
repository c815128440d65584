// Пакет hub — WebSocket endpoint агентов провайдеров.
// Принимает соединения, регистрирует провайдеров в реестре и
// направляет подтверждения хранения в трекер передач.
package hub

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/bigkaa/storagemarket/internal/api/middleware"
	"github.com/bigkaa/storagemarket/internal/dispatch"
	"github.com/bigkaa/storagemarket/internal/domain/model"
	"github.com/bigkaa/storagemarket/internal/protocol"
	"github.com/bigkaa/storagemarket/internal/registry"
)

// disconnectReason — причина failed для передач отключившегося агента.
const disconnectReason = "соединение с провайдером закрыто до подтверждения"

// Hub — менеджер соединений агентов.
type Hub struct {
	upgrader  websocket.Upgrader
	providers *registry.Registry
	transfers *dispatch.Tracker
	newID     func() string
	logger    *slog.Logger

	mu     sync.Mutex
	conns  map[string]*Conn
	closed bool
	wg     sync.WaitGroup
}

// New создаёт Hub. Проверка токенов выполняется middleware.ProviderAuth
// перед ServeHTTP: адрес из токена берётся из контекста запроса.
func New(providers *registry.Registry, transfers *dispatch.Tracker, logger *slog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Агенты не браузеры, доступ ограничивается токеном.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		providers: providers,
		transfers: transfers,
		newID:     uuid.NewString,
		logger:    logger.With(slog.String("component", "provider_hub")),
		conns:     make(map[string]*Conn),
	}
}

// ServeHTTP выполняет upgrade и обслуживает соединение до его закрытия.
// GET /ws/providers
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Пустой адрес: аутентификация отключена, регистрация без сверки с токеном.
	authorized, _ := middleware.ProviderFromContext(r.Context())

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже записал ответ с ошибкой.
		h.logger.Warn("Ошибка WebSocket upgrade", slog.String("error", err.Error()))
		return
	}

	c := newConn(h.newID(), ws, authorized, h.logger)
	if !h.add(c) {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "координатор останавливается"),
			time.Now().Add(writeWait))
		_ = ws.Close()
		return
	}
	defer h.wg.Done()

	connectionsTotal.Inc()
	c.logger.Info("Агент подключён", slog.String("remote_addr", r.RemoteAddr))

	go c.writePump()
	c.readPump(h.handle)
	h.disconnect(c)
}

// Len возвращает число открытых соединений (включая незарегистрированные).
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Shutdown закрывает все соединения и ждёт их завершения или отмены ctx.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	for _, c := range h.conns {
		c.close()
	}
	h.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) add(c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[c.id] = c
	h.wg.Add(1)
	return true
}

// disconnect снимает регистрацию и завершает ожидающие передачи соединения.
func (h *Hub) disconnect(c *Conn) {
	c.close()

	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()

	h.providers.Unregister(c.id)
	failed := h.transfers.FailConnection(c.id, disconnectReason)

	c.logger.Info("Агент отключён",
		slog.String("provider", c.Provider()),
		slog.Int("failed_transfers", failed),
	)
}

// handle разбирает событие агента.
func (h *Hub) handle(c *Conn, env protocol.Envelope) {
	switch env.Event {
	case protocol.EventProviderRegistration:
		h.handleRegistration(c, env)
	case protocol.EventFileStored:
		var msg protocol.FileStored
		if err := env.Decode(&msg); err != nil {
			c.reject(env.Event, "malformed", err.Error())
			return
		}
		h.acknowledge(c, env.Event, msg.FileID, model.TransferStored, "")
	case protocol.EventStorageError:
		var msg protocol.StorageError
		if err := env.Decode(&msg); err != nil {
			c.reject(env.Event, "malformed", err.Error())
			return
		}
		h.acknowledge(c, env.Event, msg.FileID, model.TransferFailed, msg.Error)
	default:
		c.reject(env.Event, "unknown_event", "неизвестное событие")
	}
}

func (h *Hub) handleRegistration(c *Conn, env protocol.Envelope) {
	var msg protocol.ProviderRegistration
	if err := env.Decode(&msg); err != nil {
		c.reject(env.Event, "malformed", err.Error())
		return
	}
	if !common.IsHexAddress(msg.ProviderAddress) {
		c.reject(env.Event, "invalid_address", "providerAddress должен быть адресом 0x + 40 hex")
		return
	}
	if msg.AvailableStorage < 0 {
		c.reject(env.Event, "invalid_storage", "availableStorage не может быть отрицательным")
		return
	}

	addr := model.NormalizeAddress(msg.ProviderAddress)
	if c.authorized != "" && addr != c.authorized {
		c.reject(env.Event, "address_mismatch", "providerAddress не совпадает с адресом токена")
		return
	}

	h.providers.Register(c, addr, msg.AvailableStorage)
	c.setProvider(addr)
}

// acknowledge переводит передачу в конечное состояние по сигналу агента.
// Сигналы для неизвестных или чужих передач не влияют на состояние.
func (h *Hub) acknowledge(c *Conn, event, fileID string, status model.TransferStatus, errMsg string) {
	if err := h.transfers.Complete(fileID, status, errMsg, c.id); err != nil {
		rejectedTotal.WithLabelValues("unknown_transfer").Inc()
		c.logger.Warn("Подтверждение агента не применено",
			slog.String("event", event),
			slog.String("file_id", fileID),
			slog.String("error", err.Error()),
		)
		return
	}
	c.logger.Info("Передача завершена",
		slog.String("file_id", fileID),
		slog.String("status", string(status)),
		slog.String("provider", c.Provider()),
	)
}
