package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestProbe_StartsOffline(t *testing.T) {
	p := NewProbe("http://127.0.0.1:1/healthz", time.Hour, nil)
	if p.Online() {
		t.Error("probe should be offline before the first check")
	}
}

func TestProbe_DetectsTransitions(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	healthy.Store(true)
	p := NewProbe(srv.URL+"/healthz", 10*time.Millisecond, srv.Client())
	p.Start(ctx)

	waitFor(t, "probe to come online", p.Online)

	select {
	case state := <-p.Changes():
		if !state {
			t.Errorf("first transition = %v, want online", state)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no transition signal for offline to online")
	}

	healthy.Store(false)
	waitFor(t, "probe to go offline", func() bool { return !p.Online() })

	select {
	case state := <-p.Changes():
		if state {
			t.Errorf("second transition = %v, want offline", state)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no transition signal for online to offline")
	}
}

func TestProbe_ServerErrorCountsAsOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewProbe(srv.URL, 10*time.Millisecond, srv.Client())
	p.Start(ctx)

	time.Sleep(50 * time.Millisecond)
	if p.Online() {
		t.Error("5xx health responses must read as offline")
	}
}

func TestProbe_StartIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := NewProbe(srv.URL, 10*time.Millisecond, srv.Client())
	p.Start(ctx)
	p.Start(ctx)

	waitFor(t, "probe to come online", p.Online)

	// A second Start must not spawn a second poller; one transition
	// is delivered, not two.
	<-p.Changes()
	select {
	case <-p.Changes():
		t.Error("duplicate transition after repeated Start")
	case <-time.After(50 * time.Millisecond):
	}
}
