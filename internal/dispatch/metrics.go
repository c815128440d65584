// metrics.go — Prometheus метрики диспетчера фрагментов.
package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// dispatchTotal — попытки отправки фрагмента по результату.
	dispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storagemarket_dispatch_total",
			Help: "Количество попыток отправки фрагментов провайдерам",
		},
		[]string{"result"},
	)

	// transfersTotal — завершённые передачи по конечному состоянию.
	transfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storagemarket_transfers_total",
			Help: "Количество завершённых передач фрагментов по статусу",
		},
		[]string{"status"},
	)

	// transfersInFlight — передачи, ожидающие подтверждения.
	transfersInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storagemarket_transfers_in_flight",
		Help: "Количество передач, ожидающих подтверждения провайдера",
	})
)
