package jaccount

import (
	"context"
	"testing"
	"time"
)

func TestMonitorKeepAliveAndExpiry(t *testing.T) {
	f := newFakeSSO(t)
	m := newTestManager(t, f,
		WithCaptchaSolver(staticSolver(f.validCaptcha)),
		WithMonitorIntervals(5*time.Millisecond, time.Millisecond),
	)

	if !m.Login(context.Background(), f.validUser, f.validPassword) {
		t.Fatal("login failed")
	}
	baseline := f.hits()

	expired := make(chan struct{}, 1)
	m.StartMonitor(func() {
		select {
		case expired <- struct{}{}:
		default:
		}
	})
	defer m.StopMonitor()

	// A live session gets liveness checks plus keep-alive traffic.
	deadline := time.Now().Add(2 * time.Second)
	for f.hits() <= baseline+1 {
		if time.Now().After(deadline) {
			t.Fatal("monitor issued no keep-alive traffic")
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-expired:
		t.Fatal("logout callback fired while the session was live")
	default:
	}

	// Kill the session server-side; the next check must fire the callback.
	f.mu.Lock()
	f.sessionDead = true
	f.mu.Unlock()

	select {
	case <-expired:
	case <-time.After(2 * time.Second):
		t.Fatal("logout callback did not fire after expiry")
	}
}

func TestMonitorStartIsIdempotent(t *testing.T) {
	f := newFakeSSO(t)
	m := newTestManager(t, f, WithMonitorIntervals(time.Hour, time.Hour))

	m.StartMonitor(nil)
	m.StartMonitor(nil) // no-op, no second goroutine
	m.StopMonitor()

	// With the first monitor stopped, a fresh start must succeed again.
	m.StartMonitor(nil)
	m.StopMonitor()
}

func TestMonitorStopWithoutStart(t *testing.T) {
	f := newFakeSSO(t)
	m := newTestManager(t, f)
	m.StopMonitor() // must not panic or block
}

func TestMonitorCallbackPanicIsContained(t *testing.T) {
	f := newFakeSSO(t)
	m := newTestManager(t, f, WithMonitorIntervals(5*time.Millisecond, time.Millisecond))

	fired := make(chan struct{}, 4)
	m.StartMonitor(func() {
		select {
		case fired <- struct{}{}:
		default:
		}
		panic("callback blew up")
	})
	defer m.StopMonitor()

	// The loop must survive a panicking callback and invoke it again on the
	// next expired check.
	for i := 0; i < 2; i++ {
		select {
		case <-fired:
		case <-time.After(2 * time.Second):
			t.Fatalf("callback invocation %d never happened", i+1)
		}
	}
}
