package kafka

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts publish outcomes per topic.
type Metrics struct {
	published *prometheus.CounterVec
	failed    *prometheus.CounterVec
}

// NewMetrics registers the producer collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		published: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kafka_messages_published_total",
			Help: "Events successfully written to Kafka",
		}, []string{"topic"}),
		failed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kafka_publish_failures_total",
			Help: "Events that could not be written to Kafka",
		}, []string{"topic"}),
	}
}

func (m *Metrics) observe(topic string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.failed.WithLabelValues(topic).Inc()
		return
	}
	m.published.WithLabelValues(topic).Inc()
}
