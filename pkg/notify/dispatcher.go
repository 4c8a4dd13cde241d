package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jdziat/simple-process-tracking/pkg/core"
	"github.com/jdziat/simple-process-tracking/pkg/logging"
	"github.com/jdziat/simple-process-tracking/pkg/security"
)

// DefaultTimeout bounds a single delivery.
const DefaultTimeout = 3 * time.Second

// Dispatcher delivers events to a sink in the background.
type Dispatcher struct {
	sink    Sink
	timeout time.Duration
	log     *logging.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher. A nil sink makes Dispatch a no-op.
func NewDispatcher(sink Sink, timeout time.Duration, log *logging.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Dispatcher{sink: sink, timeout: timeout, log: log.With("component", "notify")}
}

// Dispatch delivers event without blocking the caller. Failures, including
// a panicking sink, are logged and dropped.
func (d *Dispatcher) Dispatch(event core.Event) {
	if d == nil || d.sink == nil || event == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Debug("notification dropped after close", "event", fmt.Sprintf("%T", event))
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("notification sink panicked", "event", fmt.Sprintf("%T", event), "panic", r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.sink.Notify(ctx, event); err != nil {
			d.log.Warn("notification failed", "event", fmt.Sprintf("%T", event), "err", security.SanitizeMessage(err.Error()))
		}
	}()
}

// Wait blocks until in-flight deliveries finish. It must not overlap
// Dispatch calls; Close is safe to call while requests are in flight.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

// Close stops accepting events and waits for in-flight deliveries. Events
// dispatched afterwards are dropped.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}
