// Пакет dispatch — выбор провайдера и отправка ему фрагмента файла.
//
// Dispatch не ждёт сохранения: вызывающий получает подтверждение
// отправки (status = pending) и идентификатор fileId, по которому
// конечное состояние доступно через Tracker.
package dispatch

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bigkaa/storagemarket/internal/domain/model"
	"github.com/bigkaa/storagemarket/internal/fragment"
	"github.com/bigkaa/storagemarket/internal/protocol"
	"github.com/bigkaa/storagemarket/internal/registry"
)

// FileIDBytes — длина fileId в байтах (128 бит, 32 hex-символа).
const FileIDBytes = 16

// bytesPerGB — единица объёма реестра провайдеров.
const bytesPerGB = 1 << 30

// sendTimeout — время на постановку store_file в очередь соединения.
const sendTimeout = 5 * time.Second

var (
	// ErrNoProviderAvailable — нет зарегистрированного провайдера с достаточным объёмом.
	ErrNoProviderAvailable = errors.New("нет доступного провайдера")
	// ErrEmptyPayload — пустой файл.
	ErrEmptyPayload = errors.New("пустой файл")
	// ErrAgreementNotFound — указанный договор не найден.
	ErrAgreementNotFound = errors.New("договор не найден")
	// ErrAgreementInactive — договор отменён или завершён.
	ErrAgreementInactive = errors.New("договор не активен")
	// ErrAgreementForbidden — договор принадлежит другому потребителю.
	ErrAgreementForbidden = errors.New("договор принадлежит другому потребителю")
)

// ProviderSelector — выбор соединения провайдера. Реализуется registry.Registry.
type ProviderSelector interface {
	SelectEligible(requiredGB int64) (registry.Conn, model.ProviderConnection, bool)
}

// AgreementLookup — поиск договора для проверки загрузки.
// Возвращает nil, nil, если договор не найден.
type AgreementLookup interface {
	FindAgreement(ctx context.Context, agreementID string) (*model.Agreement, error)
}

// Request — загрузка, которую нужно отправить провайдеру.
type Request struct {
	// Data — содержимое файла
	Data []byte
	// FileName — исходное имя файла
	FileName string
	// AgreementID — договор (опционально)
	AgreementID string
	// WalletAddress — адрес загружающего потребителя
	WalletAddress string
}

// Result — подтверждение отправки.
type Result struct {
	FileID          string
	AgreementID     string
	ProviderAddress string
	ConnectionID    string
	Status          model.TransferStatus
}

// Dispatcher — диспетчер фрагментов.
type Dispatcher struct {
	providers  ProviderSelector
	tracker    *Tracker
	encoder    fragment.Encoder
	cipher     fragment.Cipher
	agreements AgreementLookup
	newFileID  func() (string, error)
	logger     *slog.Logger
}

// Option — функциональная опция Dispatcher.
type Option func(*Dispatcher)

// WithCipher включает шифрование фрагментов.
func WithCipher(c fragment.Cipher) Option {
	return func(d *Dispatcher) { d.cipher = c }
}

// WithAgreementLookup включает проверку договора при загрузке.
func WithAgreementLookup(l AgreementLookup) Option {
	return func(d *Dispatcher) { d.agreements = l }
}

// New создаёт диспетчер. По умолчанию: base64, без шифрования, без проверки договора.
func New(providers ProviderSelector, tracker *Tracker, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		providers: providers,
		tracker:   tracker,
		encoder:   fragment.Base64Encoder{},
		cipher:    fragment.NopCipher{},
		newFileID: NewFileID,
		logger:    logger.With(slog.String("component", "dispatcher")),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch выбирает провайдера и отправляет ему store_file.
// При ErrNoProviderAvailable побочных эффектов нет: передача не
// регистрируется, сообщение не отправляется.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Result, error) {
	if len(req.Data) == 0 {
		return Result{}, ErrEmptyPayload
	}

	agreementID := ""
	if req.AgreementID != "" {
		id, err := model.CanonicalID(req.AgreementID)
		if err != nil {
			return Result{}, fmt.Errorf("agreementId: %w", err)
		}
		agreementID = id

		if err := d.checkAgreement(ctx, agreementID, req.WalletAddress); err != nil {
			dispatchTotal.WithLabelValues("rejected").Inc()
			return Result{}, err
		}
	}

	requiredGB := RequiredGB(int64(len(req.Data)))
	conn, provider, ok := d.providers.SelectEligible(requiredGB)
	if !ok {
		dispatchTotal.WithLabelValues("no_provider").Inc()
		d.logger.Warn("Нет провайдера для загрузки",
			slog.String("file_name", req.FileName),
			slog.Int64("required_gb", requiredGB),
		)
		return Result{}, ErrNoProviderAvailable
	}

	fileID, err := d.newFileID()
	if err != nil {
		dispatchTotal.WithLabelValues("error").Inc()
		return Result{}, err
	}

	sealed, err := d.cipher.Seal(req.Data)
	if err != nil {
		dispatchTotal.WithLabelValues("error").Inc()
		return Result{}, fmt.Errorf("ошибка шифрования фрагмента: %w", err)
	}

	env, err := protocol.New(protocol.EventStoreFile, protocol.StoreFile{
		AgreementID:       agreementID,
		FileID:            fileID,
		EncryptedFragment: d.encoder.Encode(sealed),
		OriginalFileName:  req.FileName,
	})
	if err != nil {
		dispatchTotal.WithLabelValues("error").Inc()
		return Result{}, err
	}

	if err := d.tracker.Begin(model.Transfer{
		FileID:           fileID,
		AgreementID:      agreementID,
		ProviderAddress:  provider.ProviderAddress,
		ConnectionID:     provider.ConnectionID,
		OriginalFileName: req.FileName,
		Size:             int64(len(req.Data)),
	}); err != nil {
		dispatchTotal.WithLabelValues("error").Inc()
		return Result{}, fmt.Errorf("ошибка регистрации передачи: %w", err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	if err := conn.Send(sendCtx, env); err != nil {
		_ = d.tracker.Complete(fileID, model.TransferFailed, err.Error(), "")
		dispatchTotal.WithLabelValues("send_failed").Inc()
		return Result{}, fmt.Errorf("ошибка отправки фрагмента провайдеру %s: %w", provider.ProviderAddress, err)
	}

	dispatchTotal.WithLabelValues("dispatched").Inc()
	d.logger.Info("Фрагмент отправлен провайдеру",
		slog.String("file_id", fileID),
		slog.String("agreement_id", agreementID),
		slog.String("provider", provider.ProviderAddress),
		slog.String("connection_id", provider.ConnectionID),
		slog.Int("size", len(req.Data)),
	)

	return Result{
		FileID:          fileID,
		AgreementID:     agreementID,
		ProviderAddress: provider.ProviderAddress,
		ConnectionID:    provider.ConnectionID,
		Status:          model.TransferPending,
	}, nil
}

// checkAgreement проверяет, что договор существует, активен и принадлежит загружающему.
func (d *Dispatcher) checkAgreement(ctx context.Context, agreementID, wallet string) error {
	if d.agreements == nil {
		return nil
	}

	a, err := d.agreements.FindAgreement(ctx, agreementID)
	if err != nil {
		return fmt.Errorf("ошибка получения договора %s: %w", agreementID, err)
	}
	// Частичная запись (PaymentMade или отмена до AgreementCreated) не содержит
	// условий: потребитель неизвестен, договор считается ещё не известным.
	if a == nil || a.Consumer == "" {
		return ErrAgreementNotFound
	}
	if !a.IsActive {
		return ErrAgreementInactive
	}
	if wallet != "" && !strings.EqualFold(a.Consumer, wallet) {
		return ErrAgreementForbidden
	}
	return nil
}

// RequiredGB — объём в GB, необходимый для size байт (округление вверх, минимум 1).
func RequiredGB(size int64) int64 {
	gb := (size + bytesPerGB - 1) / bytesPerGB
	if gb < 1 {
		return 1
	}
	return gb
}

// NewFileID генерирует fileId: 16 случайных байт crypto/rand в hex.
func NewFileID() (string, error) {
	b := make([]byte, FileIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("ошибка генерации fileId: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// ValidFileID проверяет формат fileId (32 hex-символа в нижнем регистре).
func ValidFileID(s string) bool {
	if len(s) != FileIDBytes*2 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
