// Пакет chain — чтение событий контракта маркетплейса из блокчейна.
//
// Decoder разбирает types.Log в типизированные события по ABI контракта.
// Subscriber загружает историю через FilterLogs, затем переключается на
// подписку SubscribeFilterLogs и передаёт события обработчику в порядке блоков.
package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Имена событий контракта.
const (
	EventOfferingCreated    = "OfferingCreated"
	EventOfferingUpdated    = "OfferingUpdated"
	EventOfferingRemoved    = "OfferingRemoved"
	EventAgreementCreated   = "AgreementCreated"
	EventAgreementCancelled = "AgreementCancelled"
	EventAgreementCompleted = "AgreementCompleted"
	EventPaymentMade        = "PaymentMade"
)

// ContractABI — фрагмент ABI контракта маркетплейса, содержащий только события.
const ContractABI = `[
  {"type":"event","name":"OfferingCreated","anonymous":false,"inputs":[
    {"name":"offeringId","type":"uint256","indexed":true},
    {"name":"provider","type":"address","indexed":true},
    {"name":"capacity","type":"uint256","indexed":false},
    {"name":"pricePerGBPerDay","type":"uint256","indexed":false}]},
  {"type":"event","name":"OfferingUpdated","anonymous":false,"inputs":[
    {"name":"offeringId","type":"uint256","indexed":true},
    {"name":"provider","type":"address","indexed":true},
    {"name":"capacity","type":"uint256","indexed":false},
    {"name":"pricePerGBPerDay","type":"uint256","indexed":false}]},
  {"type":"event","name":"OfferingRemoved","anonymous":false,"inputs":[
    {"name":"offeringId","type":"uint256","indexed":true},
    {"name":"provider","type":"address","indexed":true}]},
  {"type":"event","name":"AgreementCreated","anonymous":false,"inputs":[
    {"name":"agreementId","type":"uint256","indexed":true},
    {"name":"consumer","type":"address","indexed":true},
    {"name":"provider","type":"address","indexed":true},
    {"name":"capacity","type":"uint256","indexed":false},
    {"name":"totalPrice","type":"uint256","indexed":false},
    {"name":"startTime","type":"uint256","indexed":false},
    {"name":"endTime","type":"uint256","indexed":false}]},
  {"type":"event","name":"AgreementCancelled","anonymous":false,"inputs":[
    {"name":"agreementId","type":"uint256","indexed":true}]},
  {"type":"event","name":"AgreementCompleted","anonymous":false,"inputs":[
    {"name":"agreementId","type":"uint256","indexed":true}]},
  {"type":"event","name":"PaymentMade","anonymous":false,"inputs":[
    {"name":"agreementId","type":"uint256","indexed":true},
    {"name":"amount","type":"uint256","indexed":false}]}
]`

// Meta — положение события в блокчейне.
type Meta struct {
	BlockNumber uint64
	TxHash      common.Hash
	LogIndex    uint
}

// Metadata возвращает положение события.
func (m Meta) Metadata() Meta { return m }

// Event — типизированное событие контракта.
type Event interface {
	// Name — имя события в ABI.
	Name() string
	// Metadata — блок, транзакция и индекс лога.
	Metadata() Meta
}

// OfferingTerms — общие поля OfferingCreated и OfferingUpdated.
type OfferingTerms struct {
	OfferingID       *big.Int
	Provider         common.Address
	Capacity         *big.Int
	PricePerGBPerDay *big.Int
}

// OfferingCreated — провайдер выставил предложение.
type OfferingCreated struct {
	Meta
	OfferingTerms
}

func (OfferingCreated) Name() string { return EventOfferingCreated }

// OfferingUpdated — провайдер изменил объём или цену.
type OfferingUpdated struct {
	Meta
	OfferingTerms
}

func (OfferingUpdated) Name() string { return EventOfferingUpdated }

// OfferingRemoved — предложение снято с продажи.
type OfferingRemoved struct {
	Meta
	OfferingID *big.Int
	Provider   common.Address
}

func (OfferingRemoved) Name() string { return EventOfferingRemoved }

// AgreementCreated — заключён договор аренды.
type AgreementCreated struct {
	Meta
	AgreementID *big.Int
	Consumer    common.Address
	Provider    common.Address
	Capacity    *big.Int
	TotalPrice  *big.Int
	StartTime   *big.Int
	EndTime     *big.Int
}

func (AgreementCreated) Name() string { return EventAgreementCreated }

// AgreementCancelled — договор отменён.
type AgreementCancelled struct {
	Meta
	AgreementID *big.Int
}

func (AgreementCancelled) Name() string { return EventAgreementCancelled }

// AgreementCompleted — договор завершён.
type AgreementCompleted struct {
	Meta
	AgreementID *big.Int
}

func (AgreementCompleted) Name() string { return EventAgreementCompleted }

// PaymentMade — платёж по договору.
type PaymentMade struct {
	Meta
	AgreementID *big.Int
	Amount      *big.Int
}

func (PaymentMade) Name() string { return EventPaymentMade }
