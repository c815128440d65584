// Пакет repository — слой доступа к проекции событий контракта.
// Реализация для PostgreSQL — чистый SQL через pgx, без ORM.
// MemoryStore — реализация в памяти для тестов и запуска без БД.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bigkaa/storagemarket/internal/domain/model"
)

// ErrNotFound — запись не найдена.
var ErrNotFound = errors.New("запись не найдена")

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OfferingRepository — проекция предложений провайдеров.
// Все операции записи — идемпотентные upsert по OfferingID.
type OfferingRepository interface {
	// UpsertOffering создаёт или обновляет провайдера, объём и цену предложения.
	// Новая запись создаётся доступной, доступность существующей не меняется.
	UpsertOffering(ctx context.Context, o *model.Offering) error
	// MarkOfferingUnavailable снимает предложение с продажи (soft delete).
	// Для неизвестного id создаётся частичная запись с IsAvailable = false.
	MarkOfferingUnavailable(ctx context.Context, offeringID, provider string) error
	// ListAvailableOfferings возвращает доступные предложения.
	ListAvailableOfferings(ctx context.Context) ([]*model.Offering, error)
	// ListOfferingsByProvider возвращает все предложения провайдера, включая снятые.
	ListOfferingsByProvider(ctx context.Context, provider string) ([]*model.Offering, error)
}

// AgreementRepository — проекция договоров аренды.
type AgreementRepository interface {
	// UpsertAgreement записывает условия договора. Производная цена сохраняется
	// только если ещё не задана, признак IsActive не возвращается в true.
	UpsertAgreement(ctx context.Context, a *model.Agreement) error
	// DeactivateAgreement переводит договор в IsActive = false (идемпотентно).
	// Для неизвестного id создаётся частичная неактивная запись.
	DeactivateAgreement(ctx context.Context, agreementID string) error
	// RecordPayment учитывает платёж. Повторный платёж с тем же ключом
	// (TxHash, LogIndex) игнорируется, возвращается applied = false.
	RecordPayment(ctx context.Context, p *model.Payment) (applied bool, err error)
	// GetAgreement возвращает договор или ErrNotFound.
	GetAgreement(ctx context.Context, agreementID string) (*model.Agreement, error)
	// ListAgreements возвращает все договоры.
	ListAgreements(ctx context.Context) ([]*model.Agreement, error)
	// ListAgreementsByConsumer возвращает договоры потребителя.
	ListAgreementsByConsumer(ctx context.Context, consumer string) ([]*model.Agreement, error)
	// ListAgreementsByProvider возвращает договоры провайдера.
	ListAgreementsByProvider(ctx context.Context, provider string) ([]*model.Agreement, error)
}

// CheckpointRepository — последний обработанный блок для потока событий.
type CheckpointRepository interface {
	// GetCheckpoint возвращает checkpoint или ErrNotFound.
	GetCheckpoint(ctx context.Context, id string) (*model.Checkpoint, error)
	// SaveCheckpoint сохраняет номер блока. Checkpoint не уменьшается.
	SaveCheckpoint(ctx context.Context, id string, block uint64) error
}

// Store объединяет все репозитории проекции.
type Store interface {
	OfferingRepository
	AgreementRepository
	CheckpointRepository
}

// pgStore — реализация Store для PostgreSQL.
type pgStore struct {
	OfferingRepository
	AgreementRepository
	CheckpointRepository
}

// NewPostgresStore создаёт Store поверх пула подключений.
func NewPostgresStore(pool *pgxpool.Pool) Store {
	return &pgStore{
		OfferingRepository:   NewOfferingRepository(pool),
		AgreementRepository:  NewAgreementRepository(pool, NewTxRunner(pool)),
		CheckpointRepository: NewCheckpointRepository(pool),
	}
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn транзакция откатывается, при успехе коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// parseDecimal разбирает NUMERIC, прочитанный как text.
func parseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("некорректное значение NUMERIC %q: %w", s, err)
	}
	return d, nil
}
