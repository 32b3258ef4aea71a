// Package metrics provides Prometheus metrics for the acquisition driver and its sinks.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all Prometheus metrics of an acquisition session.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	SessionActive    prometheus.Gauge
	Sessions         prometheus.Counter
	BatchesRead      prometheus.Counter
	ReadErrors       prometheus.Counter
	BatchesDropped   prometheus.Counter
	Deliveries       prometheus.Counter
	SamplesDelivered prometheus.Counter
	ButtonEvents     prometheus.Counter
	EventsDropped    prometheus.Counter
	SettingsRequests *prometheus.CounterVec
	SettingsErrors   *prometheus.CounterVec
	SinkErrors       *prometheus.CounterVec
	DeliverySize     prometheus.Histogram
}

// New creates the metrics and registers them with registry.
func New(registry prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register timeswipe metrics: %w", err)
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.SessionActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "timeswipe_session_active",
		Help: "Whether an acquisition session is running (1) or not (0)",
	})
	m.Sessions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timeswipe_sessions_total",
		Help: "Total number of acquisition sessions started",
	})
	m.BatchesRead = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timeswipe_batches_read_total",
		Help: "Total number of batches read from the record source",
	})
	m.ReadErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timeswipe_read_errors_total",
		Help: "Total number of failed record source reads",
	})
	m.BatchesDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timeswipe_batches_dropped_total",
		Help: "Total number of batches lost because the record queue was full",
	})
	m.Deliveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timeswipe_deliveries_total",
		Help: "Total number of data callback invocations",
	})
	m.SamplesDelivered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timeswipe_samples_delivered_total",
		Help: "Total number of per-channel samples handed to the data callback",
	})
	m.ButtonEvents = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timeswipe_button_events_total",
		Help: "Total number of button events delivered",
	})
	m.EventsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "timeswipe_events_dropped_total",
		Help: "Total number of button events lost because the event queue was full",
	})
	m.SettingsRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timeswipe_settings_requests_total",
		Help: "Total number of settings requests partitioned by direction",
	}, []string{"direction"})
	m.SettingsErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timeswipe_settings_errors_total",
		Help: "Total number of settings requests answered with an error",
	}, []string{"direction"})
	m.SinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "timeswipe_sink_errors_total",
		Help: "Total number of sink write failures partitioned by sink",
	}, []string{"sink"})
	m.DeliverySize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "timeswipe_delivery_samples",
		Help:    "Per-channel sample count of delivered bursts",
		Buckets: prometheus.ExponentialBuckets(32, 2, 12),
	})
}

// Describe implements the prometheus.Collector interface.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.SessionActive.Describe(ch)
	m.Sessions.Describe(ch)
	m.BatchesRead.Describe(ch)
	m.ReadErrors.Describe(ch)
	m.BatchesDropped.Describe(ch)
	m.Deliveries.Describe(ch)
	m.SamplesDelivered.Describe(ch)
	m.ButtonEvents.Describe(ch)
	m.EventsDropped.Describe(ch)
	m.SettingsRequests.Describe(ch)
	m.SettingsErrors.Describe(ch)
	m.SinkErrors.Describe(ch)
	m.DeliverySize.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.SessionActive.Collect(ch)
	m.Sessions.Collect(ch)
	m.BatchesRead.Collect(ch)
	m.ReadErrors.Collect(ch)
	m.BatchesDropped.Collect(ch)
	m.Deliveries.Collect(ch)
	m.SamplesDelivered.Collect(ch)
	m.ButtonEvents.Collect(ch)
	m.EventsDropped.Collect(ch)
	m.SettingsRequests.Collect(ch)
	m.SettingsErrors.Collect(ch)
	m.SinkErrors.Collect(ch)
	m.DeliverySize.Collect(ch)
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.Sessions.Inc()
	m.SessionActive.Set(1)
}

func (m *Metrics) SessionStopped() {
	if m == nil {
		return
	}
	m.SessionActive.Set(0)
}

func (m *Metrics) BatchRead() {
	if m == nil {
		return
	}
	m.BatchesRead.Inc()
}

func (m *Metrics) ReadFailed() {
	if m == nil {
		return
	}
	m.ReadErrors.Inc()
}

func (m *Metrics) BatchDropped() {
	if m == nil {
		return
	}
	m.BatchesDropped.Inc()
}

// Delivered records one data callback invocation of n samples per channel.
func (m *Metrics) Delivered(n int) {
	if m == nil {
		return
	}
	m.Deliveries.Inc()
	m.SamplesDelivered.Add(float64(n))
	m.DeliverySize.Observe(float64(n))
}

func (m *Metrics) ButtonEvent() {
	if m == nil {
		return
	}
	m.ButtonEvents.Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.EventsDropped.Inc()
}

// SettingsRequest records a processed request; direction is "get" or "set".
func (m *Metrics) SettingsRequest(direction string, failed bool) {
	if m == nil {
		return
	}
	m.SettingsRequests.WithLabelValues(direction).Inc()
	if failed {
		m.SettingsErrors.WithLabelValues(direction).Inc()
	}
}

func (m *Metrics) SinkFailed(sink string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(sink).Inc()
}
