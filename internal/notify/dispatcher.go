package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultBuffer   = 256
	insertAttempts  = 3
	insertRetryWait = 500 * time.Millisecond
	insertTimeout   = 5 * time.Second
)

type store interface {
	Insert(ctx context.Context, n Notification) error
}

// Dispatcher delivers notifications asynchronously. Callers enqueue without
// blocking; a worker persists each notification with retries. Delivery failure
// is logged and never surfaces to the operation that emitted the event.
type Dispatcher struct {
	store store
	log   *zap.Logger

	ch     chan Notification
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewDispatcher constructs a dispatcher with the given queue capacity.
// A non-positive buffer falls back to the default.
func NewDispatcher(store store, log *zap.Logger, buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Dispatcher{
		store: store,
		log:   log,
		ch:    make(chan Notification, buffer),
	}
}

// Start launches the delivery worker.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
}

// Notify enqueues a notification. It never blocks and never panics: a full
// queue or a closed dispatcher drops the notification with a log line.
func (d *Dispatcher) Notify(n Notification) {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.log.Warn("dispatcher closed, dropping notification",
			zap.String("user_id", n.UserID.String()),
			zap.String("type", n.Type))
		return
	}
	select {
	case d.ch <- n:
	default:
		d.log.Warn("notification queue full, dropping",
			zap.String("user_id", n.UserID.String()),
			zap.String("type", n.Type))
	}
}

// Close stops accepting notifications and waits for the queue to drain.
// Idempotent.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.ch)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for n := range d.ch {
		d.deliver(n)
	}
}

func (d *Dispatcher) deliver(n Notification) {
	var lastErr error
	for attempt := 1; attempt <= insertAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
		lastErr = d.store.Insert(ctx, n)
		cancel()
		if lastErr == nil {
			return
		}
		time.Sleep(insertRetryWait * time.Duration(attempt))
	}
	d.log.Error("notification delivery failed",
		zap.String("user_id", n.UserID.String()),
		zap.String("type", n.Type),
		zap.Error(lastErr))
}
