package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Worker is a background loop owned by serve.
type Worker interface {
	Start(ctx context.Context) error
	Stop()
	Name() string
}

// Manager starts workers in order and stops them in reverse.
type Manager struct {
	workers []Worker
	logger  *zap.Logger
	mu      sync.RWMutex
}

func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger}
}

func (m *Manager) Register(w Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers = append(m.workers, w)
}

// StartAll starts every worker. On the first failure the ones already
// started are stopped again.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	workers := append([]Worker(nil), m.workers...)
	m.mu.RUnlock()

	for i, w := range workers {
		if err := w.Start(ctx); err != nil {
			m.logger.Error("failed to start worker", zap.String("name", w.Name()), zap.Error(err))
			for j := i - 1; j >= 0; j-- {
				workers[j].Stop()
			}
			return err
		}
		m.logger.Info("worker started", zap.String("name", w.Name()))
	}
	return nil
}

func (m *Manager) StopAll() {
	m.mu.RLock()
	workers := append([]Worker(nil), m.workers...)
	m.mu.RUnlock()

	for i := len(workers) - 1; i >= 0; i-- {
		workers[i].Stop()
		m.logger.Info("worker stopped", zap.String("name", workers[i].Name()))
	}
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.workers)
}
