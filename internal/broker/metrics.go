package broker

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes broker state to Prometheus. All methods are nil-safe, so a
// Broker built without WithMetrics records nothing.
type Metrics struct {
	// Transitions counts broker operations by op and result ("ok" or an error kind).
	Transitions *prometheus.CounterVec

	// Loaded is the number of loaded services.
	Loaded prometheus.Gauge

	// ServiceStatus is 1 for the current status of each loaded service and 0 otherwise.
	ServiceStatus *prometheus.GaugeVec

	// OpenConnections is the connection count of each loaded service.
	OpenConnections *prometheus.GaugeVec
}

var allStatuses = []Status{StatusReady, StatusStarted, StatusStopped}

// NewMetrics creates broker metrics and registers them with reg. A nil reg
// leaves them unregistered. Collectors already registered under the same
// names are reused.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "svcbroker",
			Subsystem: "broker",
			Name:      "transitions_total",
			Help:      "Broker operations by operation and result",
		}, []string{"op", "result"}),
		Loaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "svcbroker",
			Subsystem: "broker",
			Name:      "loaded_services",
			Help:      "Number of loaded services",
		}),
		ServiceStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "svcbroker",
			Subsystem: "broker",
			Name:      "service_status",
			Help:      "Lifecycle status of each loaded service",
		}, []string{"service", "status"}),
		OpenConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "svcbroker",
			Subsystem: "broker",
			Name:      "open_connections",
			Help:      "Open connections per loaded service",
		}, []string{"service"}),
	}

	if reg != nil {
		m.Transitions = registerOrReuse(reg, m.Transitions).(*prometheus.CounterVec)
		m.Loaded = registerOrReuse(reg, m.Loaded).(prometheus.Gauge)
		m.ServiceStatus = registerOrReuse(reg, m.ServiceStatus).(*prometheus.GaugeVec)
		m.OpenConnections = registerOrReuse(reg, m.OpenConnections).(*prometheus.GaugeVec)
	}
	return m
}

func registerOrReuse(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
		panic(err)
	}
	return c
}

// RecordTransition counts one operation outcome.
func (m *Metrics) RecordTransition(op Op, err error) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(string(op), reason(err)).Inc()
}

// SetLoaded sets the number of loaded services.
func (m *Metrics) SetLoaded(n int) {
	if m == nil {
		return
	}
	m.Loaded.Set(float64(n))
}

// SetStatus marks status as the current status of service.
func (m *Metrics) SetStatus(service string, status Status) {
	if m == nil {
		return
	}
	for _, s := range allStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		m.ServiceStatus.WithLabelValues(service, s.String()).Set(v)
	}
}

// SetOpenConnections sets the connection count of service.
func (m *Metrics) SetOpenConnections(service string, n int64) {
	if m == nil {
		return
	}
	m.OpenConnections.WithLabelValues(service).Set(float64(n))
}

// RemoveService drops the per-service series of an unloaded service.
func (m *Metrics) RemoveService(service string) {
	if m == nil {
		return
	}
	for _, s := range allStatuses {
		m.ServiceStatus.DeleteLabelValues(service, s.String())
	}
	m.OpenConnections.DeleteLabelValues(service)
}
