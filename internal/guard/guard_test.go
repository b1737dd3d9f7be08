package guard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/agentdeck/internal/domain"
)

func TestWithLockMutualExclusion(t *testing.T) {
	km := NewKeyedMutex()
	ctx := context.Background()

	var inside int
	var maxInside int
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := km.WithLock(ctx, "panel-1", func() error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("WithLock: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxInside != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxInside)
	}
}

func TestWithLockFIFOOrder(t *testing.T) {
	km := NewKeyedMutex()
	ctx := context.Background()

	release := make(chan struct{})
	holderIn := make(chan struct{})
	go func() {
		_ = km.WithLock(ctx, "k", func() error {
			close(holderIn)
			<-release
			return nil
		})
	}()
	<-holderIn

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup

	// Enqueue waiters one at a time so their arrival order is known.
	for i := 0; i < 5; i++ {
		i := i
		before := km.Pending("k")
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = km.WithLock(ctx, "k", func() error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
		}()
		for km.Pending("k") == before {
			time.Sleep(time.Millisecond)
		}
	}

	close(release)
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("acquisition order = %v, want [0 1 2 3 4]", order)
		}
	}
}

func TestWithLockIndependentKeys(t *testing.T) {
	km := NewKeyedMutex()
	ctx := context.Background()

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = km.WithLock(ctx, "a", func() error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding
	defer close(release)

	// A different key must not be blocked.
	done := make(chan struct{})
	go func() {
		_ = km.WithLock(ctx, "b", func() error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on independent key blocked")
	}
}

func TestWithLockContextCancelled(t *testing.T) {
	km := NewKeyedMutex()

	holding := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = km.WithLock(context.Background(), "k", func() error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- km.WithLock(ctx, "k", func() error {
			t.Error("fn ran despite cancelled context")
			return nil
		})
	}()

	for km.Pending("k") < 2 {
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter never returned")
	}

	// The holder must still be able to release and the key must drain.
	close(release)
	deadline := time.Now().Add(time.Second)
	for km.Pending("k") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("queue did not drain after cancellation")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestScriptTrackerSingleSlot(t *testing.T) {
	tr := NewScriptTracker()

	if err := tr.Start("run", "script-1", "sess-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	err := tr.Start("run", "script-2", "sess-1")
	var inv *domain.InvalidStateError
	if !errors.As(err, &inv) {
		t.Errorf("second Start: got %v, want InvalidStateError", err)
	}

	cur, ok := tr.Current()
	if !ok || cur.ID != "script-1" || cur.Phase != ScriptRunning {
		t.Errorf("Current = %+v ok=%v, want script-1 running", cur, ok)
	}
}

func TestScriptTrackerCloseThenStart(t *testing.T) {
	tr := NewScriptTracker()
	if err := tr.Start("run", "script-1", "sess-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	snap, ok := tr.BeginClose()
	if !ok || snap.Phase != ScriptClosing {
		t.Fatalf("BeginClose = %+v ok=%v, want closing snapshot", snap, ok)
	}

	// Still occupied until termination finishes.
	if err := tr.Start("run", "script-2", "sess-1"); err == nil {
		t.Error("Start succeeded while previous script was closing")
	}
	if _, ok := tr.BeginClose(); ok {
		t.Error("BeginClose succeeded twice for the same script")
	}

	tr.Finish("script-1")
	if err := tr.Start("run", "script-2", "sess-1"); err != nil {
		t.Errorf("Start after Finish: %v", err)
	}
}

func TestScriptTrackerStaleFinishIgnored(t *testing.T) {
	tr := NewScriptTracker()
	if err := tr.Start("run", "script-2", "sess-1"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	tr.Finish("script-1") // stale id from an earlier script

	if _, ok := tr.Current(); !ok {
		t.Error("stale Finish evicted the current script")
	}
}
