package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// EventHandler processes one inbound event.
type EventHandler interface {
	HandleEvent(ctx context.Context, evt models.Event) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, evt models.Event) error

// HandleEvent calls f(ctx, evt).
func (f EventHandlerFunc) HandleEvent(ctx context.Context, evt models.Event) error {
	return f(ctx, evt)
}

// Dispatcher routes inbound events to a handler. Events of one session are handled strictly one
// at a time in arrival order by a per-session worker; different sessions run concurrently.
type Dispatcher struct {
	svc     Service
	handler EventHandler

	// queues holds pending events per session; a key is present exactly while a worker runs.
	mu     sync.Mutex
	queues map[string][]models.Event
	wg     sync.WaitGroup
	intake sync.WaitGroup
}

// NewDispatcher creates a Dispatcher reading from svc and calling handler.
func NewDispatcher(svc Service, handler EventHandler) *Dispatcher {
	return &Dispatcher{
		svc:     svc,
		handler: handler,
		queues:  make(map[string][]models.Event),
	}
}

// Dispatch enqueues an event for its session, starting a worker if none is running.
func (d *Dispatcher) Dispatch(ctx context.Context, evt models.Event) {
	if err := evt.Validate(); err != nil {
		slog.Warn("Dispatcher.Dispatch: dropping invalid event", "error", err, "session_id", evt.SessionID, "kind", evt.Kind)
		return
	}

	d.mu.Lock()
	q, running := d.queues[evt.SessionID]
	d.queues[evt.SessionID] = append(q, evt)
	d.mu.Unlock()

	if running {
		slog.Debug("Dispatcher.Dispatch: queued behind running worker", "session_id", evt.SessionID, "pending", len(q)+1)
		return
	}

	d.wg.Add(1)
	go d.drain(ctx, evt.SessionID)
}

func (d *Dispatcher) drain(ctx context.Context, sessionID string) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		q := d.queues[sessionID]
		if len(q) == 0 {
			delete(d.queues, sessionID)
			d.mu.Unlock()
			return
		}
		evt := q[0]
		d.queues[sessionID] = q[1:]
		d.mu.Unlock()

		if err := d.handle(ctx, evt); err != nil {
			slog.Error("Dispatcher: event handling failed", "error", err, "session_id", sessionID, "kind", evt.Kind)
		}
	}
}

// handle runs the handler and converts a panic into an error so one session cannot take down
// another session's worker.
func (d *Dispatcher) handle(ctx context.Context, evt models.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return d.handler.HandleEvent(ctx, evt)
}

// Start begins consuming the service's event channel in the background.
func (d *Dispatcher) Start(ctx context.Context) {
	slog.Info("Dispatcher starting event processing", "transport", d.svc.Name())

	d.intake.Add(1)
	go func() {
		defer d.intake.Done()
		defer slog.Info("Dispatcher stopped event processing", "transport", d.svc.Name())

		for {
			select {
			case evt, ok := <-d.svc.Events():
				if !ok {
					slog.Debug("Dispatcher events channel closed")
					return
				}
				d.Dispatch(ctx, evt)

			case <-ctx.Done():
				slog.Debug("Dispatcher stopping due to context cancellation")
				return
			}
		}
	}()
}

// Wait blocks until the intake loop started by Start has exited (the service was stopped or the
// context cancelled) and every session worker has drained its queue.
func (d *Dispatcher) Wait() {
	d.intake.Wait()
	d.wg.Wait()
}

// ActiveSessions returns the number of sessions with a running worker.
func (d *Dispatcher) ActiveSessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}
