package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process registry and the ledger counters. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	messagesProcessed   *prometheus.CounterVec
	messagesPoisoned    *prometheus.CounterVec
	outboxPublished     prometheus.Counter
	outboxFailed        prometheus.Counter
	operationsInitiated *prometheus.CounterVec
}

func New(service string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	constLabels := prometheus.Labels{"service": service}
	m := &Metrics{
		Registry: reg,
		messagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "messages_processed_total",
			Help:        "Inbound messages by consumer and outcome.",
			ConstLabels: constLabels,
		}, []string{"consumer", "outcome"}),
		messagesPoisoned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "messages_poisoned_total",
			Help:        "Messages that can never be applied and were dead-lettered.",
			ConstLabels: constLabels,
		}, []string{"consumer"}),
		outboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "outbox_published_total",
			Help:        "Outbox rows relayed to Kafka.",
			ConstLabels: constLabels,
		}),
		outboxFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "outbox_failed_total",
			Help:        "Failed outbox relay attempts.",
			ConstLabels: constLabels,
		}),
		operationsInitiated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "operations_initiated_total",
			Help:        "Deposit and withdraw operations accepted.",
			ConstLabels: constLabels,
		}, []string{"type"}),
	}

	reg.MustRegister(
		m.messagesProcessed,
		m.messagesPoisoned,
		m.outboxPublished,
		m.outboxFailed,
		m.operationsInitiated,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) MessageProcessed(consumer, outcome string) {
	if m != nil {
		m.messagesProcessed.WithLabelValues(consumer, outcome).Inc()
	}
}

func (m *Metrics) MessagePoisoned(consumer string) {
	if m != nil {
		m.messagesPoisoned.WithLabelValues(consumer).Inc()
	}
}

func (m *Metrics) OutboxPublished() {
	if m != nil {
		m.outboxPublished.Inc()
	}
}

func (m *Metrics) OutboxFailed() {
	if m != nil {
		m.outboxFailed.Inc()
	}
}

func (m *Metrics) OperationInitiated(opType string) {
	if m != nil {
		m.operationsInitiated.WithLabelValues(opType).Inc()
	}
}
