package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SecondsPerDay — длительность суток для расчёта цены договора.
const SecondsPerDay = 24 * 60 * 60

// Agreement — договор аренды объёма между потребителем и провайдером.
type Agreement struct {
	// AgreementID — идентификатор договора (uint256 в десятичной записи)
	AgreementID string
	// Consumer — адрес потребителя (lowercase hex)
	Consumer string
	// Provider — адрес провайдера (lowercase hex)
	Provider string
	// Capacity — арендуемый объём в GB
	Capacity int64
	// TotalPrice — полная стоимость договора
	TotalPrice decimal.Decimal
	// PricePerGBPerDay — производная цена. nil, если условия договора
	// не позволяют её вычислить (нулевой объём или длительность).
	PricePerGBPerDay *decimal.Decimal
	// StartTime — начало действия (unix, секунды)
	StartTime int64
	// EndTime — окончание действия (unix, секунды)
	EndTime int64
	// IsActive — договор действует. Переход только true → false.
	IsActive bool
	// TotalPaid — сумма платежей PaymentMade
	TotalPaid decimal.Decimal
	// LastPaymentAt — время последнего платежа
	LastPaymentAt *time.Time
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// DerivePricePerGBPerDay вычисляет totalPrice / (capacity × durationDays).
// Возвращает false, если capacity = 0 или endTime <= startTime.
func DerivePricePerGBPerDay(totalPrice decimal.Decimal, capacity, startTime, endTime int64) (decimal.Decimal, bool) {
	if capacity <= 0 || endTime <= startTime {
		return decimal.Zero, false
	}
	durationDays := decimal.NewFromInt(endTime - startTime).Div(decimal.NewFromInt(SecondsPerDay))
	return totalPrice.Div(decimal.NewFromInt(capacity).Mul(durationDays)), true
}

// Payment — платёж по договору (событие PaymentMade).
type Payment struct {
	// TxHash — хэш транзакции события
	TxHash string
	// LogIndex — индекс лога в блоке
	LogIndex uint
	// AgreementID — договор
	AgreementID string
	// Amount — сумма платежа
	Amount decimal.Decimal
	// PaidAt — время блока, если известно, иначе время обработки
	PaidAt time.Time
}
