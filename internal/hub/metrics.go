// metrics.go — Prometheus метрики соединений агентов.
package hub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// messagesTotal — сообщения агентов по направлению и событию.
	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storagemarket_ws_messages_total",
		Help: "Сообщения WebSocket по направлению (in/out) и событию.",
	}, []string{"direction", "event"})

	// rejectedTotal — отклонённые сообщения агентов по причине.
	rejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storagemarket_ws_rejected_total",
		Help: "Отклонённые сообщения агентов по причине.",
	}, []string{"reason"})

	// connectionsTotal — принятые WebSocket соединения.
	connectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storagemarket_ws_connections_total",
		Help: "Принятые WebSocket соединения агентов.",
	})
)
