// Пакет projector — проекция событий контракта в хранилище.
//
// Каждое событие применяется как идемпотентный upsert по идентификатору
// сущности, поэтому повторная доставка и доставка не по порядку не
// нарушают проекцию. Ошибки применения журналируются и учитываются в
// метриках, следующее событие обрабатывается как обычно.
package projector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/bigkaa/storagemarket/internal/chain"
	"github.com/bigkaa/storagemarket/internal/domain/model"
	"github.com/bigkaa/storagemarket/internal/repository"
)

// handleTimeout — ограничение времени применения одного события.
const handleTimeout = 10 * time.Second

// ErrInvalidAgreementTerms — условия договора не позволяют вычислить цену
// (нулевой объём или endTime <= startTime). Договор сохраняется без цены.
var ErrInvalidAgreementTerms = errors.New("некорректные условия договора")

// projectorEvents — число обработанных событий по имени и результату.
var projectorEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "storagemarket_projector_events_total",
		Help: "Количество событий контракта, обработанных проектором",
	},
	[]string{"event", "result"},
)

// Store — хранилище проекции.
type Store interface {
	repository.OfferingRepository
	repository.AgreementRepository
}

// AgreementInvalidator сбрасывает кэшированный договор после изменения.
type AgreementInvalidator interface {
	InvalidateAgreement(agreementID string)
}

// Projector применяет события контракта к хранилищу.
// Реализует chain.Handler.
type Projector struct {
	store       Store
	invalidator AgreementInvalidator
	now         func() time.Time
	logger      *slog.Logger
}

// New создаёт проектор. invalidator может быть nil.
func New(store Store, invalidator AgreementInvalidator, logger *slog.Logger) *Projector {
	return &Projector{
		store:       store,
		invalidator: invalidator,
		now:         time.Now,
		logger:      logger.With(slog.String("component", "projector")),
	}
}

// Handle применяет одно событие. Ошибку не возвращает.
func (p *Projector) Handle(ctx context.Context, ev chain.Event) {
	ctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()

	result, err := p.apply(ctx, ev)
	meta := ev.Metadata()
	attrs := []any{
		slog.String("event", ev.Name()),
		slog.Uint64("block", meta.BlockNumber),
		slog.String("tx_hash", meta.TxHash.Hex()),
		slog.Uint64("log_index", uint64(meta.LogIndex)),
	}

	switch {
	case errors.Is(err, ErrInvalidAgreementTerms):
		result = "invalid_terms"
		p.logger.Warn("Договор сохранён без цены", append(attrs, slog.String("error", err.Error()))...)
	case err != nil:
		result = "error"
		p.logger.Error("Ошибка применения события контракта", append(attrs, slog.String("error", err.Error()))...)
	default:
		p.logger.Debug("Событие контракта применено", append(attrs, slog.String("result", result))...)
	}

	projectorEvents.WithLabelValues(ev.Name(), result).Inc()
}

// apply выполняет upsert для события. Возвращает метку результата для метрики.
func (p *Projector) apply(ctx context.Context, ev chain.Event) (string, error) {
	switch e := ev.(type) {
	case chain.OfferingCreated:
		return "ok", p.upsertOffering(ctx, e.OfferingTerms)
	case chain.OfferingUpdated:
		return "ok", p.upsertOffering(ctx, e.OfferingTerms)
	case chain.OfferingRemoved:
		if e.OfferingID == nil {
			return "", errors.New("OfferingRemoved без offeringId")
		}
		return "ok", p.store.MarkOfferingUnavailable(ctx, e.OfferingID.String(), model.NormalizeAddress(e.Provider.Hex()))
	case chain.AgreementCreated:
		return "ok", p.upsertAgreement(ctx, e)
	case chain.AgreementCancelled:
		return "ok", p.deactivate(ctx, e.AgreementID)
	case chain.AgreementCompleted:
		return "ok", p.deactivate(ctx, e.AgreementID)
	case chain.PaymentMade:
		return p.recordPayment(ctx, e)
	default:
		return "ignored", nil
	}
}

func (p *Projector) upsertOffering(ctx context.Context, t chain.OfferingTerms) error {
	if t.OfferingID == nil {
		return errors.New("событие предложения без offeringId")
	}
	capacity, err := toInt64("capacity", t.Capacity)
	if err != nil {
		return err
	}

	return p.store.UpsertOffering(ctx, &model.Offering{
		OfferingID:       t.OfferingID.String(),
		Provider:         model.NormalizeAddress(t.Provider.Hex()),
		Capacity:         capacity,
		PricePerGBPerDay: toDecimal(t.PricePerGBPerDay),
	})
}

func (p *Projector) upsertAgreement(ctx context.Context, e chain.AgreementCreated) error {
	if e.AgreementID == nil {
		return errors.New("AgreementCreated без agreementId")
	}
	capacity, err := toInt64("capacity", e.Capacity)
	if err != nil {
		return err
	}
	start, err := toInt64("startTime", e.StartTime)
	if err != nil {
		return err
	}
	end, err := toInt64("endTime", e.EndTime)
	if err != nil {
		return err
	}

	a := &model.Agreement{
		AgreementID: e.AgreementID.String(),
		Consumer:    model.NormalizeAddress(e.Consumer.Hex()),
		Provider:    model.NormalizeAddress(e.Provider.Hex()),
		Capacity:    capacity,
		TotalPrice:  toDecimal(e.TotalPrice),
		StartTime:   start,
		EndTime:     end,
		IsActive:    true,
	}

	price, ok := model.DerivePricePerGBPerDay(a.TotalPrice, capacity, start, end)
	if ok {
		a.PricePerGBPerDay = &price
	}

	if err := p.store.UpsertAgreement(ctx, a); err != nil {
		return err
	}
	p.invalidate(a.AgreementID)

	if !ok {
		return fmt.Errorf("%w: agreement %s, capacity=%d, startTime=%d, endTime=%d",
			ErrInvalidAgreementTerms, a.AgreementID, capacity, start, end)
	}
	return nil
}

func (p *Projector) deactivate(ctx context.Context, id *big.Int) error {
	if id == nil {
		return errors.New("событие договора без agreementId")
	}
	agreementID := id.String()
	if err := p.store.DeactivateAgreement(ctx, agreementID); err != nil {
		return err
	}
	p.invalidate(agreementID)
	return nil
}

func (p *Projector) recordPayment(ctx context.Context, e chain.PaymentMade) (string, error) {
	if e.AgreementID == nil {
		return "", errors.New("PaymentMade без agreementId")
	}
	agreementID := e.AgreementID.String()

	applied, err := p.store.RecordPayment(ctx, &model.Payment{
		TxHash:      e.TxHash.Hex(),
		LogIndex:    e.LogIndex,
		AgreementID: agreementID,
		Amount:      toDecimal(e.Amount),
		PaidAt:      p.now(),
	})
	if err != nil {
		return "", err
	}
	if !applied {
		return "duplicate", nil
	}
	p.invalidate(agreementID)
	return "ok", nil
}

func (p *Projector) invalidate(agreementID string) {
	if p.invalidator != nil {
		p.invalidator.InvalidateAgreement(agreementID)
	}
}

// toDecimal переводит uint256 в decimal без потери точности.
func toDecimal(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, 0)
}

// toInt64 переводит uint256 в int64. Значения вне диапазона — ошибка.
func toInt64(field string, v *big.Int) (int64, error) {
	if v == nil {
		return 0, nil
	}
	if !v.IsInt64() {
		return 0, fmt.Errorf("поле %s: значение %s вне диапазона int64", field, v.String())
	}
	return v.Int64(), nil
}
