// memory.go — реализация Store в памяти.
// Используется в unit-тестах и при CM_STORE=memory (данные теряются при рестарте).
package repository

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/storagemarket/internal/domain/model"
)

// paymentKey — ключ дедупликации платежей.
type paymentKey struct {
	txHash   string
	logIndex uint
}

// MemoryStore — потокобезопасная реализация Store в памяти.
// Все записи сериализуются одним мьютексом, наружу отдаются копии.
type MemoryStore struct {
	mu          sync.RWMutex
	offerings   map[string]*model.Offering
	agreements  map[string]*model.Agreement
	payments    map[paymentKey]struct{}
	checkpoints map[string]*model.Checkpoint
	now         func() time.Time
}

// NewMemoryStore создаёт пустое хранилище в памяти.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		offerings:   make(map[string]*model.Offering),
		agreements:  make(map[string]*model.Agreement),
		payments:    make(map[paymentKey]struct{}),
		checkpoints: make(map[string]*model.Checkpoint),
		now:         time.Now,
	}
}

// --- OfferingRepository ---

func (s *MemoryStore) UpsertOffering(_ context.Context, o *model.Offering) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	existing, ok := s.offerings[o.OfferingID]
	if !ok {
		existing = &model.Offering{OfferingID: o.OfferingID, IsAvailable: true, CreatedAt: now}
		s.offerings[o.OfferingID] = existing
	}
	existing.Provider = o.Provider
	existing.Capacity = o.Capacity
	existing.PricePerGBPerDay = o.PricePerGBPerDay
	existing.UpdatedAt = now
	return nil
}

func (s *MemoryStore) MarkOfferingUnavailable(_ context.Context, offeringID, provider string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	existing, ok := s.offerings[offeringID]
	if !ok {
		existing = &model.Offering{OfferingID: offeringID, Provider: provider, CreatedAt: now}
		s.offerings[offeringID] = existing
	}
	existing.IsAvailable = false
	existing.UpdatedAt = now
	return nil
}

func (s *MemoryStore) ListAvailableOfferings(_ context.Context) ([]*model.Offering, error) {
	return s.filterOfferings(func(o *model.Offering) bool { return o.IsAvailable }), nil
}

func (s *MemoryStore) ListOfferingsByProvider(_ context.Context, provider string) ([]*model.Offering, error) {
	return s.filterOfferings(func(o *model.Offering) bool { return o.Provider == provider }), nil
}

// filterOfferings возвращает копии предложений, отсортированные по id.
func (s *MemoryStore) filterOfferings(keep func(*model.Offering) bool) []*model.Offering {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*model.Offering, 0)
	for _, o := range s.offerings {
		if keep(o) {
			cp := *o
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return lessID(result[i].OfferingID, result[j].OfferingID) })
	return result
}

// --- AgreementRepository ---

func (s *MemoryStore) UpsertAgreement(_ context.Context, a *model.Agreement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	existing, ok := s.agreements[a.AgreementID]
	if !ok {
		existing = &model.Agreement{AgreementID: a.AgreementID, IsActive: true, CreatedAt: now}
		s.agreements[a.AgreementID] = existing
	}
	existing.Consumer = a.Consumer
	existing.Provider = a.Provider
	existing.Capacity = a.Capacity
	existing.TotalPrice = a.TotalPrice
	existing.StartTime = a.StartTime
	existing.EndTime = a.EndTime
	if existing.PricePerGBPerDay == nil && a.PricePerGBPerDay != nil {
		price := *a.PricePerGBPerDay
		existing.PricePerGBPerDay = &price
	}
	existing.UpdatedAt = now
	return nil
}

func (s *MemoryStore) DeactivateAgreement(_ context.Context, agreementID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	existing, ok := s.agreements[agreementID]
	if !ok {
		existing = &model.Agreement{AgreementID: agreementID, CreatedAt: now}
		s.agreements[agreementID] = existing
	}
	existing.IsActive = false
	existing.UpdatedAt = now
	return nil
}

func (s *MemoryStore) RecordPayment(_ context.Context, p *model.Payment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := paymentKey{txHash: p.TxHash, logIndex: p.LogIndex}
	if _, dup := s.payments[key]; dup {
		return false, nil
	}
	s.payments[key] = struct{}{}

	now := s.now()
	existing, ok := s.agreements[p.AgreementID]
	if !ok {
		existing = &model.Agreement{AgreementID: p.AgreementID, IsActive: true, CreatedAt: now}
		s.agreements[p.AgreementID] = existing
	}
	existing.TotalPaid = existing.TotalPaid.Add(p.Amount)
	if existing.LastPaymentAt == nil || p.PaidAt.After(*existing.LastPaymentAt) {
		paidAt := p.PaidAt
		existing.LastPaymentAt = &paidAt
	}
	existing.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) GetAgreement(_ context.Context, agreementID string) (*model.Agreement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agreements[agreementID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAgreement(a), nil
}

func (s *MemoryStore) ListAgreements(_ context.Context) ([]*model.Agreement, error) {
	return s.filterAgreements(func(*model.Agreement) bool { return true }), nil
}

func (s *MemoryStore) ListAgreementsByConsumer(_ context.Context, consumer string) ([]*model.Agreement, error) {
	return s.filterAgreements(func(a *model.Agreement) bool { return a.Consumer == consumer }), nil
}

func (s *MemoryStore) ListAgreementsByProvider(_ context.Context, provider string) ([]*model.Agreement, error) {
	return s.filterAgreements(func(a *model.Agreement) bool { return a.Provider == provider }), nil
}

// filterAgreements возвращает копии договоров, отсортированные по id.
func (s *MemoryStore) filterAgreements(keep func(*model.Agreement) bool) []*model.Agreement {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*model.Agreement, 0)
	for _, a := range s.agreements {
		if keep(a) {
			result = append(result, copyAgreement(a))
		}
	}
	sort.Slice(result, func(i, j int) bool { return lessID(result[i].AgreementID, result[j].AgreementID) })
	return result
}

// --- CheckpointRepository ---

func (s *MemoryStore) GetCheckpoint(_ context.Context, id string) (*model.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.checkpoints[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) SaveCheckpoint(_ context.Context, id string, block uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.checkpoints[id]
	if !ok {
		c = &model.Checkpoint{ID: id}
		s.checkpoints[id] = c
	}
	if block > c.LastBlock {
		c.LastBlock = block
	}
	c.UpdatedAt = s.now()
	return nil
}

// copyAgreement возвращает глубокую копию договора.
func copyAgreement(a *model.Agreement) *model.Agreement {
	cp := *a
	if a.PricePerGBPerDay != nil {
		price := *a.PricePerGBPerDay
		cp.PricePerGBPerDay = &price
	}
	if a.LastPaymentAt != nil {
		t := *a.LastPaymentAt
		cp.LastPaymentAt = &t
	}
	return &cp
}

// lessID сравнивает десятичные идентификаторы как числа.
func lessID(a, b string) bool {
	x, okA := new(big.Int).SetString(a, 10)
	y, okB := new(big.Int).SetString(b, 10)
	if !okA || !okB {
		return a < b
	}
	return x.Cmp(y) < 0
}

// CheckReady — хранилище в памяти всегда готово.
func (s *MemoryStore) CheckReady() (status string, message string) {
	return "ok", "in-memory"
}
