package model

import "time"

// TransferStatus — состояние передачи фрагмента провайдеру.
type TransferStatus string

const (
	// TransferPending — фрагмент отправлен, подтверждение не получено
	TransferPending TransferStatus = "pending"
	// TransferStored — провайдер подтвердил сохранение (file_stored)
	TransferStored TransferStatus = "stored"
	// TransferFailed — провайдер сообщил об ошибке или отключился
	TransferFailed TransferStatus = "failed"
	// TransferTimedOut — подтверждение не пришло за отведённое время
	TransferTimedOut TransferStatus = "timed_out"
)

// Terminal сообщает, является ли состояние конечным.
func (s TransferStatus) Terminal() bool {
	return s == TransferStored || s == TransferFailed || s == TransferTimedOut
}

// Transfer — состояние одной передачи фрагмента.
// Полезная нагрузка отправляется один раз и не хранится.
type Transfer struct {
	// FileID — идентификатор фрагмента (32 hex-символа)
	FileID string
	// AgreementID — договор, к которому относится файл (может быть пустым)
	AgreementID string
	// ProviderAddress — адрес провайдера, получившего фрагмент
	ProviderAddress string
	// ConnectionID — соединение, по которому отправлен store_file
	ConnectionID string
	// OriginalFileName — исходное имя файла
	OriginalFileName string
	// Size — размер исходных данных в байтах
	Size int64
	// Status — текущее состояние
	Status TransferStatus
	// Error — описание ошибки для failed / timed_out
	Error string
	// CreatedAt — время отправки
	CreatedAt time.Time
	// CompletedAt — время перехода в конечное состояние
	CompletedAt *time.Time
}
