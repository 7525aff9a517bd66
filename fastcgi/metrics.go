package fastcgi

import (
	"github.com/prometheus/client_golang/prometheus"
)

//Metrics counts socket and request activity of a Client. A nil *Metrics
//records nothing.
type Metrics struct {
	SocketsAllocated prometheus.Counter
	SocketsReused    prometheus.Counter
	SocketsEvicted   *prometheus.CounterVec
	RequestsSent     prometheus.Counter
	Responses        *prometheus.CounterVec
	ResponseDuration prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SocketsAllocated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fastcgi",
			Name:      "sockets_allocated_total",
			Help:      "Sockets created by the pool.",
		}),
		SocketsReused: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fastcgi",
			Name:      "sockets_reused_total",
			Help:      "Requests served by an idle pooled socket.",
		}),
		SocketsEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fastcgi",
			Name:      "sockets_evicted_total",
			Help:      "Sockets removed from the pool, by reason.",
		}, []string{"reason"}),
		RequestsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fastcgi",
			Name:      "requests_sent_total",
			Help:      "Requests fully written to an application.",
		}),
		Responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fastcgi",
			Name:      "responses_total",
			Help:      "Response reads, by result.",
		}, []string{"result"}),
		ResponseDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fastcgi",
			Name:      "response_duration_seconds",
			Help:      "Time from request write to complete response.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.SocketsAllocated,
			m.SocketsReused,
			m.SocketsEvicted,
			m.RequestsSent,
			m.Responses,
			m.ResponseDuration,
		)
	}

	return m
}

func (m *Metrics) allocated() {
	if m != nil {
		m.SocketsAllocated.Inc()
	}
}

func (m *Metrics) reused() {
	if m != nil {
		m.SocketsReused.Inc()
	}
}

func (m *Metrics) evicted(reason string) {
	if m != nil {
		m.SocketsEvicted.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) sent() {
	if m != nil {
		m.RequestsSent.Inc()
	}
}

func (m *Metrics) responded(resp *Response, err error) {
	if m == nil {
		return
	}

	if err != nil {
		m.Responses.WithLabelValues("failure").Inc()
		return
	}

	m.Responses.WithLabelValues("success").Inc()
	m.ResponseDuration.Observe(resp.ElapsedSeconds())
}
