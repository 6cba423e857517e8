package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "recap_circuit_breaker_state",
			Help: "Current state of circuit breaker (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name", "service"},
	)

	breakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recap_circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "service", "state", "result"},
	)

	breakerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recap_circuit_breaker_failures_total",
			Help: "Total number of failures in circuit breaker",
		},
		[]string{"name", "service"},
	)

	breakerStateChanges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recap_circuit_breaker_state_changes_total",
			Help: "Total number of circuit breaker state changes",
		},
		[]string{"name", "service", "from_state", "to_state"},
	)

	breakerOpenSince = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "recap_circuit_breaker_open_since_seconds",
			Help: "Timestamp when the circuit breaker entered open state (0 if not open)",
		},
		[]string{"name", "service"},
	)
)

// MetricsCollector tracks registered breakers and exports their state
type MetricsCollector struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	services map[string]string // breaker key -> service label
}

// NewMetricsCollector creates an empty collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		breakers: make(map[string]*Breaker),
		services: make(map[string]string),
	}
}

// Register hooks a breaker into metrics export and state-change counting
func (mc *MetricsCollector) Register(name, service string, b *Breaker) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	key := service + ":" + name
	mc.breakers[key] = b
	mc.services[key] = service

	chained := b.config.OnStateChange
	b.config.OnStateChange = func(bName string, from State, to State) {
		if chained != nil {
			chained(bName, from, to)
		}

		breakerStateChanges.WithLabelValues(name, service, from.String(), to.String()).Inc()
		breakerState.WithLabelValues(name, service).Set(float64(to))

		if to == StateOpen {
			breakerOpenSince.WithLabelValues(name, service).SetToCurrentTime()
		} else if from == StateOpen {
			breakerOpenSince.WithLabelValues(name, service).Set(0)
		}
	}
}

// RecordRequest records one request outcome seen through a breaker
func (mc *MetricsCollector) RecordRequest(name, service string, state State, success bool) {
	result := "success"
	if !success {
		result = "failure"
		breakerFailures.WithLabelValues(name, service).Inc()
	}
	breakerRequests.WithLabelValues(name, service, state.String(), result).Inc()
}

func (mc *MetricsCollector) export() {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	for key, b := range mc.breakers {
		service := mc.services[key]
		breakerState.WithLabelValues(b.Name(), service).Set(float64(b.State()))
	}
}

// Collector is the process-wide breaker metrics collector
var Collector = NewMetricsCollector()

// StartMetricsCollection starts a background loop refreshing state gauges
func StartMetricsCollection() {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			Collector.export()
		}
	}()
}
