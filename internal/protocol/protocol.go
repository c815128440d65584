// Пакет protocol — сообщения постоянного соединения агент ↔ координатор.
// Каждое сообщение — текстовый WebSocket-кадр с JSON-конвертом {event, data}.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Имена событий.
const (
	// EventProviderRegistration — агент → координатор: регистрация соединения
	EventProviderRegistration = "provider_registration"
	// EventFileStored — агент → координатор: фрагмент сохранён
	EventFileStored = "file_stored"
	// EventStorageError — агент → координатор: ошибка сохранения
	EventStorageError = "storage_error"
	// EventStoreFile — координатор → агент: запрос на сохранение фрагмента
	EventStoreFile = "store_file"
	// EventError — координатор → агент: отклонённое сообщение
	EventError = "error"
)

// Envelope — конверт сообщения.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ProviderRegistration — данные регистрации провайдера.
type ProviderRegistration struct {
	ProviderAddress string `json:"providerAddress"`
	// AvailableStorage — свободный объём в GB (целое, округление вниз)
	AvailableStorage int64 `json:"availableStorage"`
}

// FileStored — подтверждение сохранения фрагмента.
type FileStored struct {
	AgreementID     string `json:"agreementId"`
	FileID          string `json:"fileId"`
	ProviderAddress string `json:"providerAddress"`
}

// StorageError — сообщение об ошибке сохранения фрагмента.
type StorageError struct {
	AgreementID     string `json:"agreementId"`
	FileID          string `json:"fileId"`
	ProviderAddress string `json:"providerAddress"`
	Error           string `json:"error"`
}

// StoreFile — запрос на сохранение фрагмента.
// EncryptedFragment содержит закодированную полезную нагрузку; шифрование
// применяется только при заданном ключе координатора.
type StoreFile struct {
	AgreementID       string `json:"agreementId"`
	FileID            string `json:"fileId"`
	EncryptedFragment string `json:"encryptedFragment"`
	OriginalFileName  string `json:"originalFileName"`
}

// ErrorMessage — причина отклонения сообщения координатором.
type ErrorMessage struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// New упаковывает данные события в конверт.
func New(event string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("ошибка сериализации %s: %w", event, err)
	}
	return Envelope{Event: event, Data: raw}, nil
}

// Decode распаковывает данные конверта в dst.
func (e Envelope) Decode(dst any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("событие %s: отсутствует поле data", e.Event)
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return fmt.Errorf("событие %s: некорректные данные: %w", e.Event, err)
	}
	return nil
}
