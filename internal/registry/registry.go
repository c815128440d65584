// Пакет registry — реестр живых соединений агентов провайдеров.
//
// Реестр хранится только в памяти и принадлежит координатору: экземпляр
// передаётся диспетчеру и обработчикам соединений явно. Ключ записи —
// идентификатор соединения, а не адрес провайдера: один адрес может
// занимать несколько записей одновременно, записи независимы.
//
// Порядок обхода — порядок первой регистрации соединения. Это делает
// выбор провайдера детерминированным в пределах процесса.
package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/storagemarket/internal/domain/model"
	"github.com/bigkaa/storagemarket/internal/protocol"
)

// connectedProviders — число зарегистрированных соединений.
var connectedProviders = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "storagemarket_connected_providers",
	Help: "Количество зарегистрированных соединений провайдеров",
})

// Conn — живое соединение с агентом провайдера.
type Conn interface {
	// ID — уникальный идентификатор соединения.
	ID() string
	// Send отправляет сообщение агенту.
	Send(ctx context.Context, env protocol.Envelope) error
}

// entry — запись реестра.
type entry struct {
	conn Conn
	info model.ProviderConnection
}

// Registry — потокобезопасный реестр соединений провайдеров.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string // connectionID в порядке первой регистрации
	now     func() time.Time
	logger  *slog.Logger
}

// New создаёт пустой реестр.
func New(logger *slog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		now:     time.Now,
		logger:  logger.With(slog.String("component", "registry")),
	}
}

// Register добавляет или перезаписывает запись соединения.
// Уникальность providerAddress не проверяется. Повторная регистрация
// по тому же соединению обновляет данные и сохраняет позицию в порядке обхода.
func (r *Registry) Register(conn Conn, providerAddress string, availableStorage int64) model.ProviderConnection {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := conn.ID()
	info := model.ProviderConnection{
		ConnectionID:     id,
		ProviderAddress:  providerAddress,
		AvailableStorage: availableStorage,
		ConnectedAt:      r.now(),
	}

	if _, exists := r.entries[id]; !exists {
		r.order = append(r.order, id)
	}
	r.entries[id] = &entry{conn: conn, info: info}
	connectedProviders.Set(float64(len(r.entries)))

	r.logger.Info("Провайдер зарегистрирован",
		slog.String("connection_id", id),
		slog.String("provider", providerAddress),
		slog.Int64("available_gb", availableStorage),
		slog.Int("total", len(r.entries)),
	)
	return info
}

// Unregister удаляет запись соединения. Отсутствующий id — не ошибка.
// Возвращает true, если запись была удалена.
func (r *Registry) Unregister(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[connectionID]
	if !ok {
		return false
	}
	delete(r.entries, connectionID)
	for i, id := range r.order {
		if id == connectionID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	connectedProviders.Set(float64(len(r.entries)))

	r.logger.Info("Провайдер отключён",
		slog.String("connection_id", connectionID),
		slog.String("provider", e.info.ProviderAddress),
		slog.Int("total", len(r.entries)),
	)
	return true
}

// SelectEligible возвращает первое в порядке регистрации соединение,
// у которого AvailableStorage >= requiredGB. ok = false, если такого нет.
func (r *Registry) SelectEligible(requiredGB int64) (Conn, model.ProviderConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, id := range r.order {
		e := r.entries[id]
		if e.info.AvailableStorage >= requiredGB {
			return e.conn, e.info, true
		}
	}
	return nil, model.ProviderConnection{}, false
}

// Get возвращает запись соединения по id.
func (r *Registry) Get(connectionID string) (model.ProviderConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[connectionID]
	if !ok {
		return model.ProviderConnection{}, false
	}
	return e.info, true
}

// List возвращает копии всех записей в порядке регистрации.
func (r *Registry) List() []model.ProviderConnection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]model.ProviderConnection, 0, len(r.order))
	for _, id := range r.order {
		result = append(result, r.entries[id].info)
	}
	return result
}

// Len возвращает число зарегистрированных соединений.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
