package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/storagemarket/internal/domain/model"
)

// agreementColumns — список столбцов таблицы agreements для SELECT-запросов.
const agreementColumns = `agreement_id::text, consumer, provider, capacity, total_price::text,
	price_per_gb_per_day::text, start_time, end_time, is_active,
	total_paid::text, last_payment_at, created_at, updated_at`

// agreementRepo — реализация AgreementRepository для PostgreSQL.
type agreementRepo struct {
	db DBTX
	tx *TxRunner
}

// NewAgreementRepository создаёт репозиторий договоров.
// TxRunner нужен для атомарного учёта платежей.
func NewAgreementRepository(db DBTX, tx *TxRunner) AgreementRepository {
	return &agreementRepo{db: db, tx: tx}
}

func (r *agreementRepo) UpsertAgreement(ctx context.Context, a *model.Agreement) error {
	// is_active: существующее значение сохраняется, чтобы запоздавший
	// AgreementCreated не активировал уже отменённый договор.
	query := `
		INSERT INTO agreements (
			agreement_id, consumer, provider, capacity, total_price,
			price_per_gb_per_day, start_time, end_time, is_active
		) VALUES ($1::numeric, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, TRUE)
		ON CONFLICT (agreement_id) DO UPDATE SET
			consumer = EXCLUDED.consumer,
			provider = EXCLUDED.provider,
			capacity = EXCLUDED.capacity,
			total_price = EXCLUDED.total_price,
			price_per_gb_per_day = COALESCE(agreements.price_per_gb_per_day, EXCLUDED.price_per_gb_per_day),
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			updated_at = NOW()`

	var price *string
	if a.PricePerGBPerDay != nil {
		s := a.PricePerGBPerDay.String()
		price = &s
	}

	_, err := r.db.Exec(ctx, query,
		a.AgreementID, a.Consumer, a.Provider, a.Capacity, a.TotalPrice.String(),
		price, a.StartTime, a.EndTime,
	)
	if err != nil {
		return fmt.Errorf("ошибка upsert договора %s: %w", a.AgreementID, err)
	}
	return nil
}

func (r *agreementRepo) DeactivateAgreement(ctx context.Context, agreementID string) error {
	query := `
		INSERT INTO agreements (agreement_id, is_active)
		VALUES ($1::numeric, FALSE)
		ON CONFLICT (agreement_id) DO UPDATE SET
			is_active = FALSE,
			updated_at = NOW()`

	if _, err := r.db.Exec(ctx, query, agreementID); err != nil {
		return fmt.Errorf("ошибка деактивации договора %s: %w", agreementID, err)
	}
	return nil
}

func (r *agreementRepo) RecordPayment(ctx context.Context, p *model.Payment) (bool, error) {
	applied := false

	err := r.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO payments (tx_hash, log_index, agreement_id, amount)
			VALUES ($1, $2, $3::numeric, $4::numeric)
			ON CONFLICT (tx_hash, log_index) DO NOTHING`,
			p.TxHash, int64(p.LogIndex), p.AgreementID, p.Amount.String(),
		)
		if err != nil {
			return fmt.Errorf("ошибка записи платежа: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO agreements (agreement_id, total_paid, last_payment_at)
			VALUES ($1::numeric, $2::numeric, $3)
			ON CONFLICT (agreement_id) DO UPDATE SET
				total_paid = agreements.total_paid + EXCLUDED.total_paid,
				last_payment_at = GREATEST(agreements.last_payment_at, EXCLUDED.last_payment_at),
				updated_at = NOW()`,
			p.AgreementID, p.Amount.String(), p.PaidAt,
		)
		if err != nil {
			return fmt.Errorf("ошибка обновления суммы платежей: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("ошибка учёта платежа по договору %s: %w", p.AgreementID, err)
	}
	return applied, nil
}

func (r *agreementRepo) GetAgreement(ctx context.Context, agreementID string) (*model.Agreement, error) {
	query := fmt.Sprintf(`SELECT %s FROM agreements WHERE agreement_id = $1::numeric`, agreementColumns)

	a, err := scanAgreement(r.db.QueryRow(ctx, query, agreementID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения договора: %w", err)
	}
	return a, nil
}

func (r *agreementRepo) ListAgreements(ctx context.Context) ([]*model.Agreement, error) {
	query := fmt.Sprintf(`SELECT %s FROM agreements ORDER BY agreement_id`, agreementColumns)
	return r.list(ctx, query)
}

func (r *agreementRepo) ListAgreementsByConsumer(ctx context.Context, consumer string) ([]*model.Agreement, error) {
	query := fmt.Sprintf(`SELECT %s FROM agreements WHERE consumer = $1 ORDER BY agreement_id`, agreementColumns)
	return r.list(ctx, query, consumer)
}

func (r *agreementRepo) ListAgreementsByProvider(ctx context.Context, provider string) ([]*model.Agreement, error) {
	query := fmt.Sprintf(`SELECT %s FROM agreements WHERE provider = $1 ORDER BY agreement_id`, agreementColumns)
	return r.list(ctx, query, provider)
}

// list выполняет SELECT и сканирует строки в []*model.Agreement.
func (r *agreementRepo) list(ctx context.Context, query string, args ...any) ([]*model.Agreement, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения договоров: %w", err)
	}
	defer rows.Close()

	agreements := make([]*model.Agreement, 0)
	for rows.Next() {
		a, err := scanAgreement(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования договора: %w", err)
		}
		agreements = append(agreements, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации договоров: %w", err)
	}
	return agreements, nil
}

// scanAgreement сканирует одну строку agreementColumns.
// Ошибка Scan возвращается без обёртки: вызывающий проверяет pgx.ErrNoRows.
func scanAgreement(row pgx.Row) (*model.Agreement, error) {
	a := &model.Agreement{}
	var totalPrice, totalPaid string
	var price *string

	if err := row.Scan(
		&a.AgreementID, &a.Consumer, &a.Provider, &a.Capacity, &totalPrice,
		&price, &a.StartTime, &a.EndTime, &a.IsActive,
		&totalPaid, &a.LastPaymentAt, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}

	var err error
	if a.TotalPrice, err = parseDecimal(totalPrice); err != nil {
		return nil, err
	}
	if a.TotalPaid, err = parseDecimal(totalPaid); err != nil {
		return nil, err
	}
	if price != nil {
		d, err := parseDecimal(*price)
		if err != nil {
			return nil, err
		}
		a.PricePerGBPerDay = &d
	}
	return a, nil
}
