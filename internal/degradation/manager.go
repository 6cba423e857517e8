// Package degradation tracks the health of the pipeline's backing
// dependencies and derives a single system-wide degradation level from
// them. The stores and provider chain already degrade themselves per
// call; this manager only observes, so operators see one gauge instead
// of chasing per-component warnings.
package degradation

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Level represents the severity of degradation.
type Level int

const (
	LevelNone     Level = iota
	LevelMinor          // single dependency issue
	LevelModerate       // multiple dependency issues
	LevelSevere         // most dependencies failing
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelMinor:
		return "minor"
	case LevelModerate:
		return "moderate"
	case LevelSevere:
		return "severe"
	default:
		return "unknown"
	}
}

// Probe reports whether one dependency is currently usable. Probes must
// be cheap; they run on every evaluation tick.
type Probe func() bool

// Manager aggregates dependency health into a degradation level and
// keeps the level gauge current through a background monitor loop.
type Manager struct {
	logger   *zap.Logger
	interval time.Duration

	mu      sync.RWMutex
	probes  map[string]Probe
	manual  map[string]bool
	level   Level
	started bool
	stopCh  chan struct{}
}

func NewManager(interval time.Duration, logger *zap.Logger) *Manager {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Manager{
		logger:   logger,
		interval: interval,
		probes:   make(map[string]Probe),
		manual:   make(map[string]bool),
		stopCh:   make(chan struct{}),
	}
}

// Track registers a pull-style dependency. The probe is consulted on
// every evaluation.
func (m *Manager) Track(name string, probe Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probes[name] = probe
}

// SetHealth updates a push-style dependency, for components that learn
// about failures asynchronously instead of exposing a probe.
func (m *Manager) SetHealth(name string, healthy bool) {
	m.mu.Lock()
	m.manual[name] = healthy
	m.mu.Unlock()

	RecordDependencyHealth(name, healthy)
}

// Start begins the background monitor loop. Safe to call once.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	m.Evaluate()
	go m.monitorLoop()

	m.logger.Info("Degradation manager started",
		zap.Duration("check_interval", m.interval),
	)
}

// Stop halts the monitor loop.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return
	}
	close(m.stopCh)
	m.started = false

	m.logger.Info("Degradation manager stopped")
}

func (m *Manager) monitorLoop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.Evaluate()
		}
	}
}

// Evaluate runs every probe, updates the health and level metrics, and
// returns the resulting level. Level changes are logged once, not on
// every tick.
func (m *Manager) Evaluate() Level {
	m.mu.RLock()
	probes := make(map[string]Probe, len(m.probes))
	for name, p := range m.probes {
		probes[name] = p
	}
	manual := make(map[string]bool, len(m.manual))
	for name, healthy := range m.manual {
		manual[name] = healthy
	}
	m.mu.RUnlock()

	var unhealthy []string
	for name, probe := range probes {
		healthy := probe()
		RecordDependencyHealth(name, healthy)
		if !healthy {
			unhealthy = append(unhealthy, name)
		}
	}
	for name, healthy := range manual {
		RecordDependencyHealth(name, healthy)
		if !healthy {
			unhealthy = append(unhealthy, name)
		}
	}
	sort.Strings(unhealthy)

	level := levelFor(len(unhealthy))
	currentLevel.Set(float64(level))

	m.mu.Lock()
	previous := m.level
	m.level = level
	m.mu.Unlock()

	if level == previous {
		return level
	}

	if level > LevelNone {
		for _, name := range unhealthy {
			degradationEvents.WithLabelValues(level.String(), name).Inc()
		}
		m.logger.Warn("System degradation level changed",
			zap.String("level", level.String()),
			zap.String("previous", previous.String()),
			zap.Strings("unhealthy", unhealthy),
		)
	} else {
		m.logger.Info("System degradation cleared",
			zap.String("previous", previous.String()),
		)
	}

	return level
}

// Level returns the level from the most recent evaluation.
func (m *Manager) Level() Level {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.level
}

// Degraded reports whether any tracked dependency is unhealthy.
func (m *Manager) Degraded() bool {
	return m.Level() > LevelNone
}

func levelFor(failed int) Level {
	switch failed {
	case 0:
		return LevelNone
	case 1:
		return LevelMinor
	case 2:
		return LevelModerate
	default:
		return LevelSevere
	}
}
