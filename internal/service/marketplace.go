// marketplace.go — запросы к проекции предложений и договоров.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bigkaa/storagemarket/internal/domain/model"
	"github.com/bigkaa/storagemarket/internal/repository"
)

var (
	// ErrNotFound — договор не найден.
	ErrNotFound = errors.New("договор не найден")
	// ErrInvalidAgreementID — agreementId не является числом uint256.
	ErrInvalidAgreementID = errors.New("некорректный идентификатор договора")
)

// ReadStore — чтение проекции.
type ReadStore interface {
	ListAvailableOfferings(ctx context.Context) ([]*model.Offering, error)
	ListOfferingsByProvider(ctx context.Context, provider string) ([]*model.Offering, error)
	GetAgreement(ctx context.Context, agreementID string) (*model.Agreement, error)
	ListAgreements(ctx context.Context) ([]*model.Agreement, error)
	ListAgreementsByConsumer(ctx context.Context, consumer string) ([]*model.Agreement, error)
	ListAgreementsByProvider(ctx context.Context, provider string) ([]*model.Agreement, error)
}

// MarketplaceService — чтение проекции для REST API и диспетчера.
// Адреса сравниваются без учёта регистра.
type MarketplaceService struct {
	store  ReadStore
	cache  *AgreementCache
	logger *slog.Logger
}

// NewMarketplaceService создаёт сервис. cache может быть nil.
func NewMarketplaceService(store ReadStore, cache *AgreementCache, logger *slog.Logger) *MarketplaceService {
	return &MarketplaceService{
		store:  store,
		cache:  cache,
		logger: logger.With(slog.String("component", "marketplace_service")),
	}
}

// ListOfferings возвращает доступные предложения.
func (s *MarketplaceService) ListOfferings(ctx context.Context) ([]*model.Offering, error) {
	offerings, err := s.store.ListAvailableOfferings(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения предложений: %w", err)
	}
	return offerings, nil
}

// ListOfferingsByProvider возвращает все предложения провайдера, включая снятые.
func (s *MarketplaceService) ListOfferingsByProvider(ctx context.Context, account string) ([]*model.Offering, error) {
	offerings, err := s.store.ListOfferingsByProvider(ctx, model.NormalizeAddress(account))
	if err != nil {
		return nil, fmt.Errorf("ошибка получения предложений провайдера: %w", err)
	}
	return offerings, nil
}

// ListAgreements возвращает все договоры.
func (s *MarketplaceService) ListAgreements(ctx context.Context) ([]*model.Agreement, error) {
	agreements, err := s.store.ListAgreements(ctx)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения договоров: %w", err)
	}
	return agreements, nil
}

// ListAgreementsByConsumer возвращает договоры потребителя.
func (s *MarketplaceService) ListAgreementsByConsumer(ctx context.Context, consumer string) ([]*model.Agreement, error) {
	agreements, err := s.store.ListAgreementsByConsumer(ctx, model.NormalizeAddress(consumer))
	if err != nil {
		return nil, fmt.Errorf("ошибка получения договоров потребителя: %w", err)
	}
	return agreements, nil
}

// ListAgreementsByProvider возвращает договоры провайдера.
func (s *MarketplaceService) ListAgreementsByProvider(ctx context.Context, provider string) ([]*model.Agreement, error) {
	agreements, err := s.store.ListAgreementsByProvider(ctx, model.NormalizeAddress(provider))
	if err != nil {
		return nil, fmt.Errorf("ошибка получения договоров провайдера: %w", err)
	}
	return agreements, nil
}

// GetAgreement возвращает договор по id из запроса.
// Нечисловой id отклоняется с ErrInvalidAgreementID без обращения к хранилищу.
func (s *MarketplaceService) GetAgreement(ctx context.Context, rawID string) (*model.Agreement, error) {
	id, err := model.CanonicalID(rawID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAgreementID, rawID)
	}

	a, err := s.FindAgreement(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, ErrNotFound
	}
	return a, nil
}

// FindAgreement ищет договор по каноническому id через кэш.
// Возвращает nil, nil, если договор не найден. Реализует dispatch.AgreementLookup.
func (s *MarketplaceService) FindAgreement(ctx context.Context, agreementID string) (*model.Agreement, error) {
	var generation uint64
	if s.cache != nil {
		if a, ok := s.cache.Get(agreementID); ok {
			return a, nil
		}
		generation = s.cache.Generation()
	}

	a, err := s.store.GetAgreement(ctx, agreementID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка получения договора %s: %w", agreementID, err)
	}

	if s.cache != nil {
		// Сброс во время чтения: снимок мог устареть, в кэш не кладём.
		s.cache.SetIfCurrent(agreementID, a, generation)
	}
	return a, nil
}
