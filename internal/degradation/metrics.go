package degradation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// degradationEvents counts level transitions by the dependencies that
	// caused them.
	degradationEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recap_degradation_events_total",
			Help: "Total number of degradation events by level and dependency",
		},
		[]string{"level", "dependency"},
	)

	// currentLevel tracks the current system degradation level.
	currentLevel = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "recap_degradation_level",
			Help: "Current system degradation level (0=none, 1=minor, 2=moderate, 3=severe)",
		},
	)

	// dependencyHealth tracks individual dependency health.
	dependencyHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "recap_dependency_health",
			Help: "Dependency health status (1=healthy, 0=unhealthy)",
		},
		[]string{"dependency"},
	)
)

// RecordDependencyHealth updates the health gauge for one dependency.
func RecordDependencyHealth(dependency string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	dependencyHealth.WithLabelValues(dependency).Set(value)
}
