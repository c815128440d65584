// Пакет model — доменные модели координатора маркетплейса хранения.
// Offering и Agreement — проекция событий контракта в off-chain хранилище.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Offering — предложение провайдера: объём и цена хранения.
// Ключ — OfferingID, назначенный контрактом. Запись никогда не удаляется,
// снятое с продажи предложение помечается IsAvailable = false.
type Offering struct {
	// OfferingID — идентификатор предложения (uint256 в десятичной записи)
	OfferingID string
	// Provider — адрес аккаунта провайдера (lowercase hex)
	Provider string
	// Capacity — объём в GB
	Capacity int64
	// PricePerGBPerDay — цена за GB в сутки
	PricePerGBPerDay decimal.Decimal
	// IsAvailable — доступно ли предложение
	IsAvailable bool
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}
