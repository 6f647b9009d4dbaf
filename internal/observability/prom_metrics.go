package observability

import (
	"net/http"

	"codeberg.org/mutker/sensordash/internal/history"
	"codeberg.org/mutker/sensordash/internal/sample"
	"codeberg.org/mutker/sensordash/internal/session"
	"codeberg.org/mutker/sensordash/internal/status"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PromObs exports the acquisition pipeline as Prometheus metrics. It serves
// as the session's Metrics sink, a status listener and a history observer.
type PromObs struct {
	gatherer prometheus.Gatherer

	starts     *prometheus.CounterVec
	dispatched *prometheus.CounterVec
	parseFails *prometheus.CounterVec
	transport  *prometheus.CounterVec
	requests   prometheus.Counter
	notices    *prometheus.CounterVec
	connection *prometheus.GaugeVec
	historyLen prometheus.Gauge

	buf *history.Buffer
}

// NewPromObs registers the collectors on reg. A nil reg uses the default
// registry.
func NewPromObs(reg prometheus.Registerer, gatherer prometheus.Gatherer) *PromObs {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	p := &PromObs{
		gatherer: gatherer,
		starts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensordash_session_starts_total",
			Help: "Acquisition runs started, by source.",
		}, []string{"source"}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensordash_samples_dispatched_total",
			Help: "Samples accepted into history, by source.",
		}, []string{"source"}),
		parseFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensordash_parse_failures_total",
			Help: "Payloads rejected as malformed, by source.",
		}, []string{"source"}),
		transport: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensordash_transport_failures_total",
			Help: "Push channels that failed to open or faulted, by source.",
		}, []string{"source"}),
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sensordash_request_failures_total",
			Help: "Pull requests that failed.",
		}),
		notices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensordash_notices_total",
			Help: "Operator notices emitted, by severity.",
		}, []string{"severity"}),
		connection: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sensordash_connection_status",
			Help: "1 for the current connection status, 0 otherwise.",
		}, []string{"status"}),
		historyLen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sensordash_history_length",
			Help: "Samples currently held in the history buffer.",
		}),
	}

	reg.MustRegister(p.starts, p.dispatched, p.parseFails, p.transport,
		p.requests, p.notices, p.connection, p.historyLen)

	p.OnStatus(status.Disconnected)

	return p
}

// Handler serves the gathered metrics.
func (p *PromObs) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}

// TrackHistory keeps the history length gauge in sync with buf.
func (p *PromObs) TrackHistory(buf *history.Buffer) {
	p.buf = buf
	p.historyLen.Set(float64(buf.Count()))
	buf.Subscribe(p)
}

func (p *PromObs) SessionStarted(source session.Source) {
	p.starts.WithLabelValues(string(source)).Inc()
}

func (p *PromObs) SampleDispatched(source session.Source) {
	p.dispatched.WithLabelValues(string(source)).Inc()
}

func (p *PromObs) ParseFailed(source session.Source) {
	p.parseFails.WithLabelValues(string(source)).Inc()
}

func (p *PromObs) RequestFailed() {
	p.requests.Inc()
}

func (p *PromObs) TransportFailed(source session.Source) {
	p.transport.WithLabelValues(string(source)).Inc()
}

func (p *PromObs) OnStatus(s status.Status) {
	for _, known := range []status.Status{status.Connected, status.Disconnected, status.Error} {
		v := 0.0
		if known == s {
			v = 1
		}
		p.connection.WithLabelValues(string(known)).Set(v)
	}
}

func (p *PromObs) OnNotice(n status.Notice) {
	p.notices.WithLabelValues(string(n.Severity)).Inc()
}

func (p *PromObs) OnAppend(sample.Sample) {
	if p.buf != nil {
		p.historyLen.Set(float64(p.buf.Count()))
	}
}

func (p *PromObs) OnClear() {
	p.historyLen.Set(0)
}
