package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/storagemarket/internal/domain/model"
)

// checkpointRepo — реализация CheckpointRepository поверх таблицы sync_state.
type checkpointRepo struct {
	db DBTX
}

// NewCheckpointRepository создаёт репозиторий checkpoint'ов.
func NewCheckpointRepository(db DBTX) CheckpointRepository {
	return &checkpointRepo{db: db}
}

func (r *checkpointRepo) GetCheckpoint(ctx context.Context, id string) (*model.Checkpoint, error) {
	query := `SELECT id, last_block, updated_at FROM sync_state WHERE id = $1`

	c := &model.Checkpoint{}
	var lastBlock int64
	err := r.db.QueryRow(ctx, query, id).Scan(&c.ID, &lastBlock, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения sync_state: %w", err)
	}
	c.LastBlock = uint64(lastBlock)
	return c, nil
}

func (r *checkpointRepo) SaveCheckpoint(ctx context.Context, id string, block uint64) error {
	query := `
		INSERT INTO sync_state (id, last_block, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET
			last_block = GREATEST(sync_state.last_block, EXCLUDED.last_block),
			updated_at = NOW()`

	if _, err := r.db.Exec(ctx, query, id, int64(block)); err != nil {
		return fmt.Errorf("ошибка обновления sync_state: %w", err)
	}
	return nil
}
