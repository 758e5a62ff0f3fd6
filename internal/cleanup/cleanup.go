// Package cleanup periodically removes state that outlived its use: idle rate
// limiter entries and, when a retention is configured, ended sessions.
package cleanup

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/elskow/bms/internal/config"
)

// Task removes stale items and reports how many went.
type Task struct {
	Name string
	Run  func(ctx context.Context) (int, error)
}

type Manager struct {
	config *config.CleanupConfig
	logger *zap.Logger
	tasks  []Task

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func NewManager(config *config.CleanupConfig, logger *zap.Logger, tasks ...Task) *Manager {
	return &Manager{
		config: config,
		logger: logger,
		tasks:  tasks,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// RunOnce runs every task. A failing task is logged and does not stop the
// others. It returns the total number of removed items.
func (m *Manager) RunOnce(ctx context.Context) int {
	total := 0
	for _, task := range m.tasks {
		removed, err := task.Run(ctx)
		if err != nil {
			m.logger.Error("cleanup task failed",
				zap.String("task", task.Name),
				zap.Error(err))
			continue
		}
		if removed > 0 {
			m.logger.Debug("cleanup task removed items",
				zap.String("task", task.Name),
				zap.Int("removed", removed))
		}
		total += removed
	}
	return total
}

// Start runs the tasks every configured interval until Stop.
func (m *Manager) Start() {
	go func() {
		defer close(m.done)

		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), m.config.Interval)
				m.RunOnce(ctx)
				cancel()
			}
		}
	}()
}

// Stop waits for a running pass to finish or for ctx to expire.
func (m *Manager) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stop) })
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
