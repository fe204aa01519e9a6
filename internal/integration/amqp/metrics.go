package amqp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ec = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "integration_amqp_event_count",
	Help: "The number of events published by the AMQP / RabbitMQ integration (per event type and result).",
}, []string{"event", "result"})

func amqpEventCounter(e, result string) prometheus.Counter {
	return ec.With(prometheus.Labels{"event": e, "result": result})
}
