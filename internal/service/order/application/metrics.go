// internal/service/order/application/metrics.go
package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sagaTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fulfil",
		Subsystem: "order",
		Name:      "saga_transitions_total",
		Help:      "Number of saga state transitions, labelled by resulting status.",
	}, []string{"status"})

	signalRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fulfil",
		Subsystem: "order",
		Name:      "signal_rejections_total",
		Help:      "Number of rejected signals and queries, labelled by reason.",
	}, []string{"reason"})

	activeSagas = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "fulfil",
		Subsystem: "order",
		Name:      "active_sagas",
		Help:      "Number of in-flight order sagas on this instance.",
	})
)
