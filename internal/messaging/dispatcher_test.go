package messaging

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

func textEvent(session string, i int) models.Event {
	return models.Event{SessionID: session, ChatID: session, Kind: models.EventKindText, Text: fmt.Sprint(i)}
}

func TestDispatcherPreservesPerSessionOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = make(map[string][]string)
	)
	d := NewDispatcher(nil, EventHandlerFunc(func(ctx context.Context, evt models.Event) error {
		time.Sleep(time.Duration(len(evt.Text)) * 100 * time.Microsecond)
		mu.Lock()
		seen[evt.SessionID] = append(seen[evt.SessionID], evt.Text)
		mu.Unlock()
		return nil
	}))

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		d.Dispatch(ctx, textEvent("a", i))
		d.Dispatch(ctx, textEvent("b", i))
	}
	d.Wait()

	for _, session := range []string{"a", "b"} {
		got := seen[session]
		if len(got) != 50 {
			t.Fatalf("session %s: handled %d events, want 50", session, len(got))
		}
		for i, text := range got {
			if text != fmt.Sprint(i) {
				t.Fatalf("session %s: event %d was %q, order not preserved", session, i, text)
			}
		}
	}
	if n := d.ActiveSessions(); n != 0 {
		t.Errorf("expected no active sessions after drain, got %d", n)
	}
}

func TestDispatcherRunsSessionsConcurrently(t *testing.T) {
	release := make(chan struct{})
	bDone := make(chan struct{})
	d := NewDispatcher(nil, EventHandlerFunc(func(ctx context.Context, evt models.Event) error {
		if evt.SessionID == "a" {
			<-release
			return nil
		}
		close(bDone)
		return nil
	}))

	ctx := context.Background()
	d.Dispatch(ctx, textEvent("a", 0))
	d.Dispatch(ctx, textEvent("b", 0))

	select {
	case <-bDone:
	case <-time.After(time.Second):
		t.Fatal("blocked session held up another session")
	}
	close(release)
	d.Wait()
}

func TestDispatcherRecoversFromPanic(t *testing.T) {
	var (
		mu      sync.Mutex
		handled []string
	)
	d := NewDispatcher(nil, EventHandlerFunc(func(ctx context.Context, evt models.Event) error {
		if evt.Text == "0" {
			panic("boom")
		}
		mu.Lock()
		handled = append(handled, evt.SessionID+evt.Text)
		mu.Unlock()
		return nil
	}))

	ctx := context.Background()
	d.Dispatch(ctx, textEvent("a", 0))
	d.Dispatch(ctx, textEvent("a", 1))
	d.Dispatch(ctx, textEvent("b", 1))
	d.Wait()

	if len(handled) != 2 {
		t.Errorf("expected events after the panic to be handled, got %v", handled)
	}
}

func TestDispatcherDropsInvalidEvents(t *testing.T) {
	called := false
	d := NewDispatcher(nil, EventHandlerFunc(func(ctx context.Context, evt models.Event) error {
		called = true
		return nil
	}))
	d.Dispatch(context.Background(), models.Event{Kind: models.EventKindText})
	d.Wait()
	if called {
		t.Error("invalid event reached the handler")
	}
}

func TestDispatcherStartConsumesService(t *testing.T) {
	client := newFakeTelegramClient()
	svc := NewTelegramService(client)

	got := make(chan models.Event, 1)
	d := NewDispatcher(svc, EventHandlerFunc(func(ctx context.Context, evt models.Event) error {
		got <- evt
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := svc.Start(ctx); err != nil {
		t.Fatal(err)
	}
	d.Start(ctx)

	client.updates <- textUpdate(9, "hello")
	select {
	case evt := <-got:
		if evt.Text != "hello" || evt.SessionID != "telegram:9" {
			t.Errorf("unexpected event %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not deliver the event")
	}
	svc.Stop()
	d.Wait()
}
