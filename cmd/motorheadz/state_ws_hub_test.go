package main

import (
	"context"
	"testing"
	"time"
)

// Hub tests use observers without a websocket connection; close() skips the
// nil conn.

func startHub(t *testing.T, cfg HubConfig) (*Hub, context.CancelFunc, <-chan struct{}) {
	t.Helper()
	hub := NewHub(slogDiscard(), cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	t.Cleanup(cancel)
	return hub, cancel, done
}

func joinObservers(t *testing.T, hub *Hub, addrs ...string) []*observer {
	t.Helper()
	obs := make([]*observer, 0, len(addrs))
	for _, addr := range addrs {
		o := hub.newObserver(nil, addr)
		if !hub.add(o) {
			t.Fatalf("add(%s) refused", addr)
		}
		obs = append(obs, o)
	}
	waitUntil(t, time.Second, func() bool { return hub.Observers() == len(addrs) }, "observers not joined")
	return obs
}

func expectFrame(t *testing.T, o *observer, want string) {
	t.Helper()
	select {
	case got, ok := <-o.out:
		if !ok {
			t.Fatalf("%s: queue closed, want %s", o.addr, want)
		}
		if string(got) != want {
			t.Fatalf("%s got %s, want %s", o.addr, got, want)
		}
	case <-time.After(time.Second):
		t.Fatalf("%s: no frame", o.addr)
	}
}

func TestHubFansOutToEveryObserver(t *testing.T) {
	hub, cancel, done := startHub(t, HubConfig{ObserverQueue: 4, FrameQueue: 8})
	obs := joinObservers(t, hub, "monitor", "dashboard")

	const msg = `{"type":"bang","data":{"on":true,"rhythm":"primary"}}`
	hub.Publish([]byte(msg))
	for _, o := range obs {
		expectFrame(t, o, msg)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("hub did not stop")
	}
	if n := hub.Observers(); n != 0 {
		t.Fatalf("Observers() = %d after stop, want 0", n)
	}
	for _, o := range obs {
		if _, ok := <-o.out; ok {
			t.Fatalf("%s: queue still open after stop", o.addr)
		}
	}
}

func TestHubDropsLaggingObserver(t *testing.T) {
	hub, _, _ := startHub(t, HubConfig{ObserverQueue: 1, FrameQueue: 8})
	obs := joinObservers(t, hub, "stuck", "live")
	stuck, live := obs[0], obs[1]

	stuck.out <- []byte(`"queued"`)
	const msg = `{"type":"engine_changed","data":{"on":false}}`
	hub.Publish([]byte(msg))

	expectFrame(t, live, msg)
	waitUntil(t, time.Second, func() bool { return hub.Observers() == 1 }, "lagging observer kept")

	// The frame already queued is still delivered before the close.
	if got := <-stuck.out; string(got) != `"queued"` {
		t.Fatalf("stuck got %s", got)
	}
	if _, ok := <-stuck.out; ok {
		t.Fatalf("lagging observer queue not closed")
	}
}

func TestHubDropIsIdempotent(t *testing.T) {
	hub, _, _ := startHub(t, HubConfig{})
	o := joinObservers(t, hub, "monitor")[0]

	hub.drop(o, "left")
	hub.drop(o, "left")
	if n := hub.Observers(); n != 0 {
		t.Fatalf("Observers() = %d, want 0", n)
	}
	o.close()
}

func TestHubGreetAfterObserverLeft(t *testing.T) {
	hub, _, _ := startHub(t, HubConfig{})
	o := joinObservers(t, hub, "early-quit")[0]

	// The peer hangs up while state_init is still being built.
	hub.drop(o, "left")
	hub.greet(o, []byte(`{"type":"state_init"}`))

	if _, ok := <-o.out; ok {
		t.Fatalf("frame queued for an observer that left")
	}
}

func TestHubGreetDeliversOrDropsLagging(t *testing.T) {
	hub, _, _ := startHub(t, HubConfig{ObserverQueue: 1})
	obs := joinObservers(t, hub, "fresh", "full")
	fresh, full := obs[0], obs[1]

	const msg = `{"type":"state_init"}`
	hub.greet(fresh, []byte(msg))
	expectFrame(t, fresh, msg)

	full.out <- []byte(`"queued"`)
	hub.greet(full, []byte(msg))
	if n := hub.Observers(); n != 1 {
		t.Fatalf("Observers() = %d, want lagging observer dropped", n)
	}
}

func TestHubRefusesObserversAfterStop(t *testing.T) {
	hub, cancel, done := startHub(t, HubConfig{})
	cancel()
	<-done

	o := hub.newObserver(nil, "late")
	if hub.add(o) {
		t.Fatalf("add() after stop = true")
	}
	// Neither call may block or panic once the hub is gone.
	hub.greet(o, []byte("x"))
	hub.drop(o, "left")
}

func TestHubPublishDropsWhenQueueFull(t *testing.T) {
	// Run is not started, so nothing drains the frame queue.
	hub := NewHub(slogDiscard(), HubConfig{FrameQueue: 1})
	hub.Publish([]byte("a"))
	hub.Publish([]byte("b"))
	if got := string(<-hub.frames); got != "a" {
		t.Fatalf("queued frame = %q, want a", got)
	}
	select {
	case extra := <-hub.frames:
		t.Fatalf("unexpected frame %q", extra)
	default:
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}
