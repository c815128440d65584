package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bigkaa/storagemarket/internal/domain/model"
	"github.com/bigkaa/storagemarket/internal/repository"
)

// countingStore — MemoryStore со счётчиком обращений GetAgreement.
type countingStore struct {
	*repository.MemoryStore
	gets int
}

func (s *countingStore) GetAgreement(ctx context.Context, id string) (*model.Agreement, error) {
	s.gets++
	return s.MemoryStore.GetAgreement(ctx, id)
}

func newTestService(t *testing.T) (*MarketplaceService, *countingStore, *AgreementCache) {
	t.Helper()
	store := &countingStore{MemoryStore: repository.NewMemoryStore()}
	cache := NewAgreementCache(10, time.Minute)
	return NewMarketplaceService(store, cache, slog.New(slog.NewTextHandler(io.Discard, nil))), store, cache
}

func seedAgreement(t *testing.T, store *countingStore, id, consumer, provider string) {
	t.Helper()
	price := decimal.NewFromInt(1)
	err := store.UpsertAgreement(context.Background(), &model.Agreement{
		AgreementID:      id,
		Consumer:         consumer,
		Provider:         provider,
		Capacity:         10,
		TotalPrice:       decimal.NewFromInt(300),
		PricePerGBPerDay: &price,
		StartTime:        0,
		EndTime:          30 * model.SecondsPerDay,
		IsActive:         true,
	})
	if err != nil {
		t.Fatalf("UpsertAgreement() error: %v", err)
	}
}

func TestGetAgreement_Validation(t *testing.T) {
	svc, store, _ := newTestService(t)

	tests := []struct {
		name string
		id   string
	}{
		{"буквы", "abc"},
		{"пустой", ""},
		{"отрицательный", "-1"},
		{"дробный", "1.5"},
		{"больше uint256", "115792089237316195423570985008687907853269984665640564039457584007913129639936"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.GetAgreement(context.Background(), tt.id)
			if !errors.Is(err, ErrInvalidAgreementID) {
				t.Errorf("ожидалась ErrInvalidAgreementID, получено %v", err)
			}
		})
	}

	if store.gets != 0 {
		t.Errorf("некорректный id не должен доходить до хранилища, обращений: %d", store.gets)
	}
}

func TestGetAgreement_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.GetAgreement(context.Background(), "999999")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}

func TestGetAgreement_CanonicalAndCached(t *testing.T) {
	svc, store, cache := newTestService(t)
	seedAgreement(t, store, "7", "0xcc", "0xaa")

	a, err := svc.GetAgreement(context.Background(), "007")
	if err != nil {
		t.Fatalf("GetAgreement() error: %v", err)
	}
	if a.AgreementID != "7" {
		t.Errorf("AgreementID = %q, ожидалось 7", a.AgreementID)
	}

	if _, err := svc.GetAgreement(context.Background(), "7"); err != nil {
		t.Fatalf("GetAgreement() error: %v", err)
	}
	if store.gets != 1 {
		t.Errorf("повторный запрос должен обслуживаться кэшем, обращений к хранилищу: %d", store.gets)
	}

	cache.InvalidateAgreement("7")
	if _, err := svc.GetAgreement(context.Background(), "7"); err != nil {
		t.Fatalf("GetAgreement() error: %v", err)
	}
	if store.gets != 2 {
		t.Errorf("после сброса кэша ожидалось обращение к хранилищу, обращений: %d", store.gets)
	}
}

func TestFindAgreement_MissingIsNil(t *testing.T) {
	svc, _, cache := newTestService(t)

	a, err := svc.FindAgreement(context.Background(), "1")
	if err != nil || a != nil {
		t.Errorf("FindAgreement() = %v, %v; ожидалось nil, nil", a, err)
	}
	if cache.Len() != 0 {
		t.Error("отсутствующий договор не должен кэшироваться")
	}
}

func TestListByAddress_CaseInsensitive(t *testing.T) {
	svc, store, _ := newTestService(t)
	consumer := "0x00000000000000000000000000000000000000cc"
	provider := "0x00000000000000000000000000000000000000aa"
	seedAgreement(t, store, "1", consumer, provider)
	seedAgreement(t, store, "2", "0x00000000000000000000000000000000000000dd", provider)

	if err := store.UpsertOffering(context.Background(), &model.Offering{OfferingID: "1", Provider: provider, Capacity: 5}); err != nil {
		t.Fatalf("UpsertOffering() error: %v", err)
	}

	ctx := context.Background()

	byConsumer, err := svc.ListAgreementsByConsumer(ctx, "0x00000000000000000000000000000000000000CC")
	if err != nil {
		t.Fatalf("ListAgreementsByConsumer() error: %v", err)
	}
	if len(byConsumer) != 1 || byConsumer[0].AgreementID != "1" {
		t.Errorf("по потребителю: %+v", byConsumer)
	}

	byProvider, err := svc.ListAgreementsByProvider(ctx, "0x00000000000000000000000000000000000000AA")
	if err != nil {
		t.Fatalf("ListAgreementsByProvider() error: %v", err)
	}
	if len(byProvider) != 2 {
		t.Errorf("по провайдеру: ожидалось 2, получено %d", len(byProvider))
	}

	offerings, err := svc.ListOfferingsByProvider(ctx, "0x00000000000000000000000000000000000000AA")
	if err != nil {
		t.Fatalf("ListOfferingsByProvider() error: %v", err)
	}
	if len(offerings) != 1 {
		t.Errorf("предложения провайдера: ожидалось 1, получено %d", len(offerings))
	}
}

func TestList_EmptyIsNotNil(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	offerings, err := svc.ListOfferings(ctx)
	if err != nil || offerings == nil {
		t.Errorf("ListOfferings() = %v, %v; ожидался пустой срез", offerings, err)
	}
	agreements, err := svc.ListAgreements(ctx)
	if err != nil || agreements == nil {
		t.Errorf("ListAgreements() = %v, %v; ожидался пустой срез", agreements, err)
	}
}

func TestAgreementCache_TTL(t *testing.T) {
	cache := NewAgreementCache(10, 50*time.Millisecond)
	cache.SetIfCurrent("1", &model.Agreement{AgreementID: "1"}, cache.Generation())

	if _, ok := cache.Get("1"); !ok {
		t.Fatal("ожидался cache hit сразу после SetIfCurrent")
	}
	time.Sleep(150 * time.Millisecond)
	if _, ok := cache.Get("1"); ok {
		t.Error("ожидался cache miss после истечения TTL")
	}
}

// cancellingStore отменяет договор сразу после первого чтения из хранилища,
// как проектор, успевший обработать AgreementCancelled между чтением и
// записью в кэш.
type cancellingStore struct {
	*repository.MemoryStore
	cache *AgreementCache
	fired bool
}

func (s *cancellingStore) GetAgreement(ctx context.Context, id string) (*model.Agreement, error) {
	a, err := s.MemoryStore.GetAgreement(ctx, id)
	if err == nil && !s.fired {
		s.fired = true
		if err := s.MemoryStore.DeactivateAgreement(ctx, id); err != nil {
			return nil, err
		}
		s.cache.InvalidateAgreement(id)
	}
	return a, err
}

func TestFindAgreement_CancelDuringReadNotCached(t *testing.T) {
	ctx := context.Background()
	cache := NewAgreementCache(10, time.Minute)
	store := &cancellingStore{MemoryStore: repository.NewMemoryStore(), cache: cache}
	svc := NewMarketplaceService(store, cache, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := store.UpsertAgreement(ctx, &model.Agreement{AgreementID: "7", Capacity: 1, IsActive: true}); err != nil {
		t.Fatalf("UpsertAgreement() error: %v", err)
	}

	first, err := svc.FindAgreement(ctx, "7")
	if err != nil {
		t.Fatalf("FindAgreement() error: %v", err)
	}
	if !first.IsActive {
		t.Fatal("первое чтение должно вернуть снимок до отмены")
	}
	if cache.Len() != 0 {
		t.Error("снимок, прочитанный до сброса, не должен попасть в кэш")
	}

	second, err := svc.FindAgreement(ctx, "7")
	if err != nil {
		t.Fatalf("FindAgreement() error: %v", err)
	}
	if second.IsActive {
		t.Error("отменённый договор возвращён как активный")
	}
}

func TestAgreementCache_SetIfCurrent(t *testing.T) {
	cache := NewAgreementCache(10, time.Minute)

	gen := cache.Generation()
	cache.InvalidateAgreement("1")
	if cache.SetIfCurrent("1", &model.Agreement{AgreementID: "1"}, gen) {
		t.Error("запись со старым поколением не должна сохраняться")
	}
	if _, ok := cache.Get("1"); ok {
		t.Error("ожидался cache miss")
	}

	if !cache.SetIfCurrent("1", &model.Agreement{AgreementID: "1"}, cache.Generation()) {
		t.Error("запись с текущим поколением должна сохраняться")
	}
	if _, ok := cache.Get("1"); !ok {
		t.Error("ожидался cache hit")
	}
}
