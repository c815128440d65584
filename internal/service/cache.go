// Пакет service — чтение проекции маркетплейса и мониторинг зависимостей.
// AgreementCache — LRU-кэш договоров с TTL поверх hashicorp/golang-lru/v2/expirable.
package service

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/storagemarket/internal/domain/model"
)

// agreementCacheRequests — обращения к кэшу договоров по результату (hit, miss).
var agreementCacheRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "storagemarket_agreement_cache_requests_total",
		Help: "Количество обращений к LRU-кэшу договоров.",
	},
	[]string{"result"},
)

// AgreementCache — кэш договоров по agreementId.
// Проектор сбрасывает запись при каждом изменении договора, TTL ограничивает
// устаревание при запуске нескольких экземпляров над одной БД.
//
// Снимок, прочитанный из хранилища до сброса, не должен попасть в кэш после
// него: каждый сброс увеличивает поколение, SetIfCurrent добавляет запись
// только если поколение не изменилось с момента чтения.
type AgreementCache struct {
	cache *expirable.LRU[string, *model.Agreement]

	mu         sync.Mutex
	generation uint64
}

// NewAgreementCache создаёт кэш на maxSize записей с временем жизни ttl.
func NewAgreementCache(maxSize int, ttl time.Duration) *AgreementCache {
	return &AgreementCache{cache: expirable.NewLRU[string, *model.Agreement](maxSize, nil, ttl)}
}

// Generation возвращает текущее поколение. Снимается до чтения из хранилища.
func (c *AgreementCache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// SetIfCurrent добавляет запись, если после generation не было сбросов.
// Возвращает false, если снимок мог устареть и не был сохранён.
func (c *AgreementCache) SetIfCurrent(agreementID string, a *model.Agreement, generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != generation {
		return false
	}
	c.cache.Add(agreementID, a)
	return true
}

// Get возвращает договор из кэша.
func (c *AgreementCache) Get(agreementID string) (*model.Agreement, bool) {
	val, ok := c.cache.Get(agreementID)
	if ok {
		agreementCacheRequests.WithLabelValues("hit").Inc()
		return val, true
	}
	agreementCacheRequests.WithLabelValues("miss").Inc()
	return nil, false
}

// InvalidateAgreement удаляет запись. Реализует projector.AgreementInvalidator.
func (c *AgreementCache) InvalidateAgreement(agreementID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.cache.Remove(agreementID)
}

// Len возвращает число записей в кэше.
func (c *AgreementCache) Len() int {
	return c.cache.Len()
}
