// Пакет agent — агент провайдера: постоянное соединение с координатором,
// регистрация и сохранение получаемых фрагментов на диск.
// При обрыве соединения агент переподключается с backoff и повторяет регистрацию.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"github.com/bigkaa/storagemarket/internal/api/middleware"
	"github.com/bigkaa/storagemarket/internal/fragment"
	"github.com/bigkaa/storagemarket/internal/protocol"
	"github.com/bigkaa/storagemarket/internal/storage/filestore"
)

const (
	// readTimeout — максимальная пауза без кадров координатора (ping каждые 54s).
	readTimeout = 90 * time.Second
	// writeWait — таймаут записи одного кадра.
	writeWait = 10 * time.Second
	// handshakeTimeout — таймаут WebSocket handshake.
	handshakeTimeout = 15 * time.Second
)

// FragmentStore — хранилище фрагментов агента.
type FragmentStore interface {
	Save(fileID, originalName string, data []byte) (*filestore.SaveResult, error)
	Exists(fileID, originalName string) bool
	Delete(fileID, originalName string) error
}

// Config — параметры клиента.
type Config struct {
	// CoordinatorURL — ws:// или wss:// endpoint координатора
	CoordinatorURL string
	// ProviderAddress — адрес провайдера (lowercase hex)
	ProviderAddress string
	// AvailableStorage — свободный объём в GB, сообщаемый при регистрации
	AvailableStorage int64
	// TokenSecret — HS256 секрет для JWT (пустой — без заголовка Authorization)
	TokenSecret string
	// ReconnectMin, ReconnectMax — границы паузы перед переподключением
	ReconnectMin time.Duration
	ReconnectMax time.Duration
}

// Client — агент провайдера.
type Client struct {
	cfg     Config
	store   FragmentStore
	encoder fragment.Encoder
	dialer  *websocket.Dialer
	now     func() time.Time
	logger  *slog.Logger
}

// New создаёт клиента агента.
func New(cfg Config, store FragmentStore, logger *slog.Logger) *Client {
	return &Client{
		cfg:     cfg,
		store:   store,
		encoder: fragment.Base64Encoder{},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		now:    time.Now,
		logger: logger.With(slog.String("component", "provider_agent")),
	}
}

// Run поддерживает соединение до отмены ctx. Возвращает nil при штатной остановке.
func (c *Client) Run(ctx context.Context) error {
	b := &backoff.Backoff{
		Min:    c.cfg.ReconnectMin,
		Max:    c.cfg.ReconnectMax,
		Factor: 2,
		Jitter: true,
	}

	for {
		registered, err := c.session(ctx)
		if ctx.Err() != nil {
			c.logger.Info("Агент остановлен")
			return nil
		}
		if registered {
			b.Reset()
		}
		if err == nil {
			err = errors.New("соединение закрыто координатором")
		}

		delay := b.Duration()
		c.logger.Warn("Соединение с координатором потеряно, переподключение",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", delay),
			slog.Int("attempt", int(b.Attempt())),
		)

		select {
		case <-ctx.Done():
			c.logger.Info("Агент остановлен")
			return nil
		case <-time.After(delay):
		}
	}
}

// session выполняет одно подключение: handshake, регистрацию и цикл чтения.
// registered = true, если регистрация была отправлена.
func (c *Client) session(ctx context.Context) (registered bool, err error) {
	header := http.Header{}
	if c.cfg.TokenSecret != "" {
		token, err := middleware.IssueProviderToken(c.cfg.TokenSecret, c.cfg.ProviderAddress, middleware.ProviderTokenTTL, c.now())
		if err != nil {
			return false, fmt.Errorf("ошибка подписи токена агента: %w", err)
		}
		header.Set("Authorization", "Bearer "+token)
	}

	ws, resp, err := c.dialer.DialContext(ctx, c.cfg.CoordinatorURL, header)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("ошибка подключения к %s (HTTP %d): %w", c.cfg.CoordinatorURL, resp.StatusCode, err)
		}
		return false, fmt.Errorf("ошибка подключения к %s: %w", c.cfg.CoordinatorURL, err)
	}
	defer ws.Close()

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sessionCtx.Done()
		if ctx.Err() != nil {
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
		}
		_ = ws.Close()
	}()

	_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	if err := c.write(ws, protocol.EventProviderRegistration, protocol.ProviderRegistration{
		ProviderAddress:  c.cfg.ProviderAddress,
		AvailableStorage: c.cfg.AvailableStorage,
	}); err != nil {
		return false, fmt.Errorf("ошибка отправки регистрации: %w", err)
	}
	c.logger.Info("Подключён к координатору",
		slog.String("url", c.cfg.CoordinatorURL),
		slog.String("provider", c.cfg.ProviderAddress),
		slog.Int64("available_gb", c.cfg.AvailableStorage),
	)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return true, nil
			}
			return true, err
		}
		_ = ws.SetReadDeadline(time.Now().Add(readTimeout))

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("Некорректное сообщение координатора", slog.String("error", err.Error()))
			continue
		}

		switch env.Event {
		case protocol.EventStoreFile:
			if err := c.handleStoreFile(ws, env); err != nil {
				return true, err
			}
		case protocol.EventError:
			var msg protocol.ErrorMessage
			_ = env.Decode(&msg)
			c.logger.Warn("Координатор отклонил сообщение",
				slog.String("event", msg.Event),
				slog.String("message", msg.Message),
			)
		default:
			c.logger.Debug("Неизвестное событие координатора", slog.String("event", env.Event))
		}
	}
}

// handleStoreFile сохраняет фрагмент и отвечает file_stored или storage_error.
// Возвращает только ошибки записи в соединение.
func (c *Client) handleStoreFile(ws *websocket.Conn, env protocol.Envelope) error {
	var msg protocol.StoreFile
	if err := env.Decode(&msg); err != nil {
		c.logger.Warn("Некорректный store_file", slog.String("error", err.Error()))
		if msg.FileID == "" {
			return nil
		}
		return c.replyError(ws, msg, err)
	}

	if c.store.Exists(msg.FileID, msg.OriginalFileName) {
		return c.replyError(ws, msg, fmt.Errorf("%w: fileId %s", filestore.ErrExists, msg.FileID))
	}

	data, err := c.encoder.Decode(msg.EncryptedFragment)
	if err != nil {
		return c.replyError(ws, msg, err)
	}

	result, err := c.store.Save(msg.FileID, msg.OriginalFileName, data)
	if err != nil {
		return c.replyError(ws, msg, err)
	}

	c.logger.Info("Фрагмент сохранён",
		slog.String("file_id", msg.FileID),
		slog.String("agreement_id", msg.AgreementID),
		slog.String("path", result.FullPath),
		slog.Int64("size", result.Size),
		slog.String("checksum", result.Checksum),
	)
	err = c.write(ws, protocol.EventFileStored, protocol.FileStored{
		AgreementID:     msg.AgreementID,
		FileID:          msg.FileID,
		ProviderAddress: c.cfg.ProviderAddress,
	})
	if err != nil {
		// Без подтверждения координатор завершит передачу как failed,
		// сохранённый фрагмент никому не принадлежит.
		if delErr := c.store.Delete(msg.FileID, msg.OriginalFileName); delErr != nil {
			c.logger.Error("Ошибка удаления неподтверждённого фрагмента",
				slog.String("file_id", msg.FileID),
				slog.String("error", delErr.Error()),
			)
		}
		return err
	}
	return nil
}

func (c *Client) replyError(ws *websocket.Conn, msg protocol.StoreFile, cause error) error {
	c.logger.Error("Ошибка сохранения фрагмента",
		slog.String("file_id", msg.FileID),
		slog.String("error", cause.Error()),
	)
	return c.write(ws, protocol.EventStorageError, protocol.StorageError{
		AgreementID:     msg.AgreementID,
		FileID:          msg.FileID,
		ProviderAddress: c.cfg.ProviderAddress,
		Error:           cause.Error(),
	})
}

func (c *Client) write(ws *websocket.Conn, event string, data any) error {
	env, err := protocol.New(event, data)
	if err != nil {
		return err
	}
	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.WriteJSON(env)
}
