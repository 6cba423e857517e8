package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager registers checkers, runs them on demand and on a background
// interval, and aggregates their results.
type Manager struct {
	checkers      map[string]Checker
	lastResults   map[string]CheckResult
	checkInterval time.Duration
	checkTimeout  time.Duration
	started       bool
	stopCh        chan struct{}
	logger        *zap.Logger
	mu            sync.RWMutex
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		checkers:      make(map[string]Checker),
		lastResults:   make(map[string]CheckResult),
		checkInterval: 30 * time.Second,
		stopCh:        make(chan struct{}),
		logger:        logger,
	}
}

// NewManagerWithConfig builds a manager with the given check interval and a
// per-check timeout that overrides each checker's own. Zero values keep the
// defaults.
func NewManagerWithConfig(checkInterval, checkTimeout time.Duration, logger *zap.Logger) *Manager {
	m := NewManager(logger)
	if checkInterval > 0 {
		m.checkInterval = checkInterval
	}
	if checkTimeout > 0 {
		m.checkTimeout = checkTimeout
	}
	return m
}

// RegisterChecker registers a health check under its name.
func (m *Manager) RegisterChecker(checker Checker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := checker.Name()
	if name == "" {
		return fmt.Errorf("checker name cannot be empty")
	}
	if _, exists := m.checkers[name]; exists {
		return fmt.Errorf("checker %s already registered", name)
	}

	m.checkers[name] = checker
	m.logger.Info("Health checker registered",
		zap.String("checker", name),
		zap.Bool("critical", checker.IsCritical()),
		zap.Duration("timeout", checker.Timeout()),
	)
	return nil
}

// GetCheckers returns all registered checkers.
func (m *Manager) GetCheckers() map[string]Checker {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]Checker, len(m.checkers))
	for name, checker := range m.checkers {
		result[name] = checker
	}
	return result
}

// GetOverallHealth runs every check and returns the aggregate status.
func (m *Manager) GetOverallHealth(ctx context.Context) OverallHealth {
	start := time.Now()
	detailed := m.GetDetailedHealth(ctx)

	overall := detailed.Overall
	overall.Timestamp = detailed.Timestamp
	overall.Duration = time.Since(start)
	return overall
}

// GetDetailedHealth runs every check and returns per-component results.
func (m *Manager) GetDetailedHealth(ctx context.Context) DetailedHealth {
	components := m.runChecks(ctx)

	summary := summarize(components)
	return DetailedHealth{
		Overall:    calculateOverallStatus(components, summary),
		Components: components,
		Summary:    summary,
		Timestamp:  time.Now(),
	}
}

// IsReady reports whether the service should receive traffic.
func (m *Manager) IsReady(ctx context.Context) bool {
	return m.GetOverallHealth(ctx).Ready
}

// IsLive reports whether the process is alive. Dependency failures never
// fail liveness; a restart would not fix an upstream outage.
func (m *Manager) IsLive(ctx context.Context) bool {
	return m.GetOverallHealth(ctx).Live
}

// GetLastResults returns the most recent results without running checks.
func (m *Manager) GetLastResults() map[string]CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results := make(map[string]CheckResult, len(m.lastResults))
	for name, result := range m.lastResults {
		results[name] = result
	}
	return results
}

// Start begins background health checking.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	count := len(m.checkers)
	m.mu.Unlock()

	go m.backgroundChecker()

	m.logger.Info("Health manager started",
		zap.Duration("check_interval", m.checkInterval),
		zap.Int("registered_checkers", count),
	)
}

// Stop halts background health checking.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return
	}
	close(m.stopCh)
	m.started = false

	m.logger.Info("Health manager stopped")
}

func (m *Manager) backgroundChecker() {
	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			results := m.runChecks(ctx)
			cancel()

			m.logger.Debug("Background health checks completed",
				zap.Int("checks_run", len(results)),
			)
		}
	}
}

// runChecks executes every registered check with its own timeout and
// caches the results.
func (m *Manager) runChecks(ctx context.Context) map[string]CheckResult {
	m.mu.RLock()
	checkers := make(map[string]Checker, len(m.checkers))
	for name, checker := range m.checkers {
		checkers[name] = checker
	}
	m.mu.RUnlock()

	components := make(map[string]CheckResult, len(checkers))
	for name, checker := range checkers {
		components[name] = m.runSingleCheck(ctx, checker)
	}

	m.mu.Lock()
	for name, result := range components {
		m.lastResults[name] = result
	}
	m.mu.Unlock()

	return components
}

func (m *Manager) runSingleCheck(ctx context.Context, checker Checker) CheckResult {
	budget := checker.Timeout()
	if m.checkTimeout > 0 {
		budget = m.checkTimeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	start := time.Now()
	result := checker.Check(checkCtx)

	result.Component = checker.Name()
	result.Critical = checker.IsCritical()
	result.Duration = time.Since(start)
	result.Timestamp = start

	return result
}

func summarize(components map[string]CheckResult) HealthSummary {
	summary := HealthSummary{Total: len(components)}
	for _, result := range components {
		switch result.Status {
		case StatusHealthy:
			summary.Healthy++
		case StatusDegraded:
			summary.Degraded++
		case StatusUnhealthy:
			summary.Unhealthy++
		}
		if result.Critical {
			summary.Critical++
		} else {
			summary.NonCritical++
		}
	}
	return summary
}

// calculateOverallStatus folds component results into one status. Only a
// failing critical component takes readiness down.
func calculateOverallStatus(components map[string]CheckResult, summary HealthSummary) OverallHealth {
	if summary.Total == 0 {
		return OverallHealth{
			Status:  StatusUnknown,
			Message: "No health checks registered",
			Ready:   false,
			Live:    true,
		}
	}

	criticalFailures := 0
	nonCriticalFailures := 0
	degraded := 0

	for _, result := range components {
		switch result.Status {
		case StatusDegraded:
			degraded++
		case StatusUnhealthy:
			if result.Critical {
				criticalFailures++
			} else {
				nonCriticalFailures++
			}
		}
	}

	var status CheckStatus
	var message string
	ready := true

	switch {
	case criticalFailures > 0:
		status = StatusUnhealthy
		message = fmt.Sprintf("%d critical component(s) failing", criticalFailures)
		ready = false
	case nonCriticalFailures > 0:
		status = StatusDegraded
		message = fmt.Sprintf("%d non-critical component(s) failing", nonCriticalFailures)
	case degraded > 0:
		status = StatusDegraded
		message = fmt.Sprintf("%d component(s) degraded", degraded)
	default:
		status = StatusHealthy
		message = fmt.Sprintf("All %d components healthy", summary.Total)
	}

	return OverallHealth{
		Status:   status,
		Message:  message,
		Degraded: status == StatusDegraded,
		Ready:    ready,
		Live:     true,
	}
}
