// conn.go — одно WebSocket соединение агента провайдера.
// Чтение и запись разделены: readPump разбирает входящие события,
// writePump единолично пишет в сокет (gorilla/websocket допускает
// только одного писателя).
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bigkaa/storagemarket/internal/protocol"
)

const (
	// writeWait — таймаут записи одного кадра.
	writeWait = 10 * time.Second
	// pongWait — максимальная пауза между входящими кадрами.
	pongWait = 60 * time.Second
	// pingPeriod — интервал ping, меньше pongWait.
	pingPeriod = pongWait * 9 / 10
	// maxMessageSize — предел входящего сообщения агента.
	maxMessageSize = 64 << 10
	// sendBuffer — очередь исходящих сообщений соединения.
	sendBuffer = 16
)

// ErrConnectionClosed — отправка в закрытое соединение.
var ErrConnectionClosed = errors.New("соединение с агентом закрыто")

// Conn — соединение агента. Реализует registry.Conn.
type Conn struct {
	id         string
	ws         *websocket.Conn
	send       chan []byte
	done       chan struct{}
	closeOnce  sync.Once
	authorized string
	logger     *slog.Logger

	mu       sync.Mutex
	provider string
}

func newConn(id string, ws *websocket.Conn, authorized string, logger *slog.Logger) *Conn {
	return &Conn{
		id:         id,
		ws:         ws,
		send:       make(chan []byte, sendBuffer),
		done:       make(chan struct{}),
		authorized: authorized,
		logger:     logger.With(slog.String("connection_id", id)),
	}
}

// ID возвращает идентификатор соединения.
func (c *Conn) ID() string { return c.id }

// Provider возвращает адрес, с которым соединение зарегистрировано.
func (c *Conn) Provider() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.provider
}

func (c *Conn) setProvider(addr string) {
	c.mu.Lock()
	c.provider = addr
	c.mu.Unlock()
}

// Send ставит сообщение в очередь записи. Блокируется при заполненной
// очереди до отмены ctx или закрытия соединения.
func (c *Conn) Send(ctx context.Context, env protocol.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- data:
		messagesTotal.WithLabelValues("out", env.Event).Inc()
		return nil
	case <-c.done:
		return ErrConnectionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close сигнализирует writePump о завершении. Идемпотентен.
func (c *Conn) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump читает кадры до ошибки и передаёт конверты в handle.
func (c *Conn) readPump(handle func(*Conn, protocol.Envelope)) {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		mtype, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("Соединение агента прервано", slog.String("error", err.Error()))
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		if mtype != websocket.TextMessage {
			c.reject("", "unsupported_frame", "ожидается текстовый кадр")
			continue
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.reject("", "malformed", "некорректный JSON конверт")
			continue
		}
		messagesTotal.WithLabelValues("in", env.Event).Inc()
		handle(c, env)
	}
}

// writePump пишет очередь сообщений и ping до закрытия соединения.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("Ошибка записи в соединение агента", slog.String("error", err.Error()))
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// reject отвечает агенту событием error и не меняет состояние координатора.
func (c *Conn) reject(event, reason, message string) {
	rejectedTotal.WithLabelValues(reason).Inc()
	c.logger.Warn("Сообщение агента отклонено",
		slog.String("event", event),
		slog.String("reason", reason),
		slog.String("message", message),
	)

	env, err := protocol.New(protocol.EventError, protocol.ErrorMessage{Event: event, Message: message})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	_ = c.Send(ctx, env)
}
