package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/storagemarket/internal/domain/model"
)

// offeringColumns — список столбцов таблицы offerings для SELECT-запросов.
const offeringColumns = `offering_id::text, provider, capacity, price_per_gb_per_day::text,
	is_available, created_at, updated_at`

// offeringRepo — реализация OfferingRepository для PostgreSQL.
type offeringRepo struct {
	db DBTX
}

// NewOfferingRepository создаёт репозиторий предложений.
func NewOfferingRepository(db DBTX) OfferingRepository {
	return &offeringRepo{db: db}
}

func (r *offeringRepo) UpsertOffering(ctx context.Context, o *model.Offering) error {
	query := `
		INSERT INTO offerings (offering_id, provider, capacity, price_per_gb_per_day, is_available)
		VALUES ($1::numeric, $2, $3, $4::numeric, TRUE)
		ON CONFLICT (offering_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			capacity = EXCLUDED.capacity,
			price_per_gb_per_day = EXCLUDED.price_per_gb_per_day,
			updated_at = NOW()`

	_, err := r.db.Exec(ctx, query,
		o.OfferingID, o.Provider, o.Capacity, o.PricePerGBPerDay.String(),
	)
	if err != nil {
		return fmt.Errorf("ошибка upsert предложения %s: %w", o.OfferingID, err)
	}
	return nil
}

func (r *offeringRepo) MarkOfferingUnavailable(ctx context.Context, offeringID, provider string) error {
	query := `
		INSERT INTO offerings (offering_id, provider, is_available)
		VALUES ($1::numeric, $2, FALSE)
		ON CONFLICT (offering_id) DO UPDATE SET
			is_available = FALSE,
			updated_at = NOW()`

	_, err := r.db.Exec(ctx, query, offeringID, provider)
	if err != nil {
		return fmt.Errorf("ошибка снятия предложения %s: %w", offeringID, err)
	}
	return nil
}

func (r *offeringRepo) ListAvailableOfferings(ctx context.Context) ([]*model.Offering, error) {
	query := fmt.Sprintf(`SELECT %s FROM offerings WHERE is_available ORDER BY offering_id`, offeringColumns)
	return r.list(ctx, query)
}

func (r *offeringRepo) ListOfferingsByProvider(ctx context.Context, provider string) ([]*model.Offering, error) {
	query := fmt.Sprintf(`SELECT %s FROM offerings WHERE provider = $1 ORDER BY offering_id`, offeringColumns)
	return r.list(ctx, query, provider)
}

// list выполняет SELECT и сканирует строки в []*model.Offering.
func (r *offeringRepo) list(ctx context.Context, query string, args ...any) ([]*model.Offering, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения предложений: %w", err)
	}
	defer rows.Close()

	offerings := make([]*model.Offering, 0)
	for rows.Next() {
		o, err := scanOffering(rows)
		if err != nil {
			return nil, err
		}
		offerings = append(offerings, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации предложений: %w", err)
	}
	return offerings, nil
}

// scanOffering сканирует одну строку offeringColumns.
func scanOffering(row pgx.Row) (*model.Offering, error) {
	o := &model.Offering{}
	var price string
	if err := row.Scan(
		&o.OfferingID, &o.Provider, &o.Capacity, &price,
		&o.IsAvailable, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("ошибка сканирования предложения: %w", err)
	}

	var err error
	if o.PricePerGBPerDay, err = parseDecimal(price); err != nil {
		return nil, err
	}
	return o, nil
}
