package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager runs registered checkers on demand.
type Manager struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	logger   *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{checkers: make(map[string]Checker), logger: logger}
}

// RegisterChecker registers a health check
func (m *Manager) RegisterChecker(checker Checker) error {
	name := checker.Name()
	if name == "" {
		return fmt.Errorf("checker name cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.checkers[name]; exists {
		return fmt.Errorf("checker %s already registered", name)
	}
	m.checkers[name] = checker
	m.logger.Info("Health checker registered",
		zap.String("checker", name),
		zap.Bool("critical", checker.IsCritical()),
		zap.Duration("timeout", checker.Timeout()))
	return nil
}

// Check runs every checker concurrently, each under its own timeout.
func (m *Manager) Check(ctx context.Context) OverallHealth {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	results := make(map[string]CheckResult, len(checkers))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, c := range checkers {
		wg.Add(1)
		go func(c Checker) {
			defer wg.Done()
			r := runSingleCheck(ctx, c)
			mu.Lock()
			results[c.Name()] = r
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return overall(results)
}

func runSingleCheck(ctx context.Context, checker Checker) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, checker.Timeout())
	defer cancel()

	start := time.Now()
	result := checker.Check(checkCtx)
	result.Component = checker.Name()
	result.Critical = checker.IsCritical()
	result.Duration = time.Since(start)
	result.Timestamp = start
	return result
}

func overall(components map[string]CheckResult) OverallHealth {
	out := OverallHealth{Timestamp: time.Now(), Components: components}
	if len(components) == 0 {
		out.Status, out.Ready, out.Message = StatusHealthy, true, "no dependencies registered"
		return out
	}
	var critical, degraded int
	for _, r := range components {
		switch {
		case r.Status == StatusUnhealthy && r.Critical:
			critical++
		case r.Status != StatusHealthy:
			degraded++
		}
	}
	switch {
	case critical > 0:
		out.Status = StatusUnhealthy
		out.Message = fmt.Sprintf("%d critical component(s) failing", critical)
	case degraded > 0:
		out.Status, out.Ready = StatusDegraded, true
		out.Message = fmt.Sprintf("%d component(s) degraded", degraded)
	default:
		out.Status, out.Ready = StatusHealthy, true
	}
	return out
}
