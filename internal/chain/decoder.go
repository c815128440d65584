// decoder.go — разбор логов контракта по ABI.
package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrUnknownEvent — topic0 лога не соответствует ни одному событию ABI.
var ErrUnknownEvent = errors.New("неизвестное событие контракта")

// Decoder разбирает логи контракта в типизированные события.
type Decoder struct {
	abi abi.ABI
}

// NewDecoder создаёт Decoder для ContractABI.
func NewDecoder() (*Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(ContractABI))
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора ABI контракта: %w", err)
	}
	return &Decoder{abi: parsed}, nil
}

// Topics возвращает topic0 перечисленных событий для FilterQuery.
func (d *Decoder) Topics(names ...string) ([]common.Hash, error) {
	ids := make([]common.Hash, 0, len(names))
	for _, name := range names {
		ev, ok := d.abi.Events[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, name)
		}
		ids = append(ids, ev.ID)
	}
	return ids, nil
}

// Decode разбирает лог. Для лога с неизвестным topic0 возвращает ErrUnknownEvent.
func (d *Decoder) Decode(l types.Log) (Event, error) {
	if len(l.Topics) == 0 {
		return nil, ErrUnknownEvent
	}
	ev, err := d.abi.EventByID(l.Topics[0])
	if err != nil {
		return nil, fmt.Errorf("%w: topic %s", ErrUnknownEvent, l.Topics[0].Hex())
	}

	values := make(map[string]any)
	if err := ev.Inputs.UnpackIntoMap(values, l.Data); err != nil {
		return nil, fmt.Errorf("ошибка разбора данных %s: %w", ev.Name, err)
	}

	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(values, indexed, l.Topics[1:]); err != nil {
		return nil, fmt.Errorf("ошибка разбора topics %s: %w", ev.Name, err)
	}

	f := fields{event: ev.Name, values: values}
	meta := Meta{BlockNumber: l.BlockNumber, TxHash: l.TxHash, LogIndex: l.Index}

	var out Event
	switch ev.Name {
	case EventOfferingCreated:
		out = OfferingCreated{Meta: meta, OfferingTerms: f.offeringTerms()}
	case EventOfferingUpdated:
		out = OfferingUpdated{Meta: meta, OfferingTerms: f.offeringTerms()}
	case EventOfferingRemoved:
		out = OfferingRemoved{Meta: meta, OfferingID: f.bigInt("offeringId"), Provider: f.address("provider")}
	case EventAgreementCreated:
		out = AgreementCreated{
			Meta:        meta,
			AgreementID: f.bigInt("agreementId"),
			Consumer:    f.address("consumer"),
			Provider:    f.address("provider"),
			Capacity:    f.bigInt("capacity"),
			TotalPrice:  f.bigInt("totalPrice"),
			StartTime:   f.bigInt("startTime"),
			EndTime:     f.bigInt("endTime"),
		}
	case EventAgreementCancelled:
		out = AgreementCancelled{Meta: meta, AgreementID: f.bigInt("agreementId")}
	case EventAgreementCompleted:
		out = AgreementCompleted{Meta: meta, AgreementID: f.bigInt("agreementId")}
	case EventPaymentMade:
		out = PaymentMade{Meta: meta, AgreementID: f.bigInt("agreementId"), Amount: f.bigInt("amount")}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, ev.Name)
	}

	if f.err != nil {
		return nil, f.err
	}
	return out, nil
}

// fields — извлечение типизированных значений из результата UnpackIntoMap.
// Первая ошибка сохраняется в err, последующие обращения её не перезаписывают.
type fields struct {
	event  string
	values map[string]any
	err    error
}

func (f *fields) bigInt(name string) *big.Int {
	v, ok := f.values[name].(*big.Int)
	if !ok {
		f.fail(name)
		return new(big.Int)
	}
	return v
}

func (f *fields) address(name string) common.Address {
	v, ok := f.values[name].(common.Address)
	if !ok {
		f.fail(name)
	}
	return v
}

func (f *fields) offeringTerms() OfferingTerms {
	return OfferingTerms{
		OfferingID:       f.bigInt("offeringId"),
		Provider:         f.address("provider"),
		Capacity:         f.bigInt("capacity"),
		PricePerGBPerDay: f.bigInt("pricePerGBPerDay"),
	}
}

func (f *fields) fail(name string) {
	if f.err == nil {
		f.err = fmt.Errorf("событие %s: поле %s отсутствует или имеет неверный тип", f.event, name)
	}
}
