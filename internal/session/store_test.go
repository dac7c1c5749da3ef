package session

import (
	"sync"
	"testing"
	"time"
)

func TestStoreResetGetDelete(t *testing.T) {
	st := NewStore()
	unlock := st.Lock("tg:1")
	defer unlock()

	if _, ok := st.Get("tg:1"); ok {
		t.Fatal("expected no session before reset")
	}

	sess := st.Reset("tg:1", "1", "dana")
	if sess.State != Collecting(0) {
		t.Errorf("fresh session state = %s, want collecting[0]", sess.State)
	}
	if err := sess.Accept(Answer{Value: "Dana"}, 3); err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	st.Save(sess)

	again := st.Reset("tg:1", "1", "dana")
	if len(again.Answers) != 0 || again.State != Collecting(0) {
		t.Errorf("reset left residue: %+v", again)
	}
	got, ok := st.Get("tg:1")
	if !ok || got != again {
		t.Error("Get did not return the reset session")
	}

	st.Delete("tg:1")
	if _, ok := st.Get("tg:1"); ok {
		t.Error("expected session removed")
	}
	if st.Count() != 0 {
		t.Errorf("expected empty store, got %d", st.Count())
	}
}

func TestSessionAcceptAdvancesToCompleted(t *testing.T) {
	sess := &Session{ID: "tg:1", State: Collecting(0)}
	for i := 0; i < 2; i++ {
		if err := sess.Accept(Answer{Value: "x"}, 2); err != nil {
			t.Fatalf("Accept %d failed: %v", i, err)
		}
	}
	if sess.State != Completed() {
		t.Errorf("state = %s, want completed", sess.State)
	}
	if err := sess.Accept(Answer{Value: "x"}, 2); err == nil {
		t.Error("expected error accepting after completion")
	}
}

func TestSessionAcceptRejectsOutOfStep(t *testing.T) {
	sess := &Session{ID: "tg:1", State: Collecting(1)}
	if err := sess.Accept(Answer{Value: "x"}, 3); err == nil {
		t.Error("expected error when answers do not match step")
	}
}

func TestStoreLockSerializesIdentity(t *testing.T) {
	st := NewStore()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := st.Lock("tg:1")
			mu.Lock()
			active++
			if active > maxSeen {
				maxSeen = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("expected exclusive access per identity, saw %d concurrent holders", maxSeen)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.locks) != 0 {
		t.Errorf("expected lock table to be drained, has %d entries", len(st.locks))
	}
}

func TestStoreLockDoesNotBlockOtherIdentities(t *testing.T) {
	st := NewStore()
	unlock := st.Lock("tg:1")
	defer unlock()

	done := make(chan struct{})
	go func() {
		other := st.Lock("tg:2")
		other()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on one identity blocked another identity")
	}
}

func TestStoreIdleTimeout(t *testing.T) {
	st := NewStore(WithIdleTimeout(20*time.Millisecond), WithCleanupInterval(5*time.Millisecond))
	unlock := st.Lock("tg:1")
	st.Reset("tg:1", "1", "")
	unlock()

	time.Sleep(60 * time.Millisecond)
	if _, ok := st.Get("tg:1"); ok {
		t.Error("expected idle session to expire")
	}
}
