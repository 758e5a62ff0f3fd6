package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Recorder accepts entries without blocking the caller.
type Recorder interface {
	Record(entry *Entry)
}

// AsyncRecorder writes entries from a single background worker. Write
// failures are logged and dropped.
type AsyncRecorder struct {
	store   Store
	log     *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan *Entry
	done   chan struct{}
}

func NewAsyncRecorder(store Store, log *zap.Logger, buffer int) *AsyncRecorder {
	if buffer <= 0 {
		buffer = 256
	}
	return &AsyncRecorder{
		store:   store,
		log:     log,
		timeout: 5 * time.Second,
		queue:   make(chan *Entry, buffer),
		done:    make(chan struct{}),
	}
}

func (r *AsyncRecorder) Start() {
	go r.run()
}

func (r *AsyncRecorder) run() {
	defer close(r.done)
	for entry := range r.queue {
		r.write(entry)
	}
}

func (r *AsyncRecorder) write(entry *Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.store.Append(ctx, entry); err != nil {
		r.log.Error("failed to write audit entry",
			zap.String("action", entry.ActionType),
			zap.String("resource", entry.ResourceType),
			zap.Error(err))
	}
}

func (r *AsyncRecorder) Record(entry *Entry) {
	if entry == nil {
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.log.Warn("audit recorder stopped, dropping entry", zap.String("action", entry.ActionType))
		return
	}

	select {
	case r.queue <- entry:
	default:
		r.log.Warn("audit queue full, dropping entry", zap.String("action", entry.ActionType))
	}
}

// Stop closes the queue and waits for queued entries to be written or for
// ctx to expire.
func (r *AsyncRecorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
