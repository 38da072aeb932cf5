// Package metrics содержит метрики Prometheus сервиса сделок.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector собирает метрики выбора действий, подтверждений и переходов сделок.
// Методы безопасны для nil-получателя.
type Collector struct {
	registry           *prometheus.Registry
	dispatchOutcomes   *prometheus.CounterVec
	confirmations      *prometheus.CounterVec
	transitions        *prometheus.CounterVec
	transitionDuration prometheus.Histogram
	httpRequests       *prometheus.CounterVec
}

// NewCollector создаёт коллектор с собственным реестром.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		dispatchOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deal_dispatch_outcomes_total",
			Help: "Dispatched deal views by side and outcome kind",
		}, []string{"side", "kind"}),
		confirmations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deal_confirmations_total",
			Help: "Resolved confirmation tickets by answer",
		}, []string{"answer"}),
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "deal_transitions_total",
			Help: "Deal mutations sent to the backend by action and result",
		}, []string{"action", "result"}),
		transitionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "deal_transition_duration_seconds",
			Help:    "Time taken by the backend to apply a deal mutation",
			Buckets: prometheus.DefBuckets,
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method and status code",
		}, []string{"method", "code"}),
	}
}

// ObserveDispatch учитывает результат выбора элемента интерфейса.
func (c *Collector) ObserveDispatch(side, kind string) {
	if c == nil {
		return
	}
	c.dispatchOutcomes.WithLabelValues(side, kind).Inc()
}

// ObserveConfirmation учитывает ответ на запрос подтверждения.
func (c *Collector) ObserveConfirmation(yes bool) {
	if c == nil {
		return
	}
	answer := "no"
	if yes {
		answer = "yes"
	}
	c.confirmations.WithLabelValues(answer).Inc()
}

// ObserveTransition учитывает отправленную мутацию и её длительность.
func (c *Collector) ObserveTransition(action string, ok bool, d time.Duration) {
	if c == nil {
		return
	}
	result := "error"
	if ok {
		result = "success"
	}
	c.transitions.WithLabelValues(action, result).Inc()
	c.transitionDuration.Observe(d.Seconds())
}

// ObserveRequest учитывает HTTP-запрос.
func (c *Collector) ObserveRequest(method string, code int) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

// Handler возвращает HTTP-обработчик для выдачи метрик.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{DisableCompression: true})
}
