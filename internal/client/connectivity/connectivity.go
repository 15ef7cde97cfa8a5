// Package connectivity abstracts the online/offline signal driving the
// sync engine. The engine depends on the Provider interface so tests
// can simulate transitions deterministically.
package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"
)

// Provider reports the current connectivity state and notifies
// subscribers of transitions. Transition signals may be spurious or
// bouncy; consumers must be idempotent under repeated online events.
type Provider interface {
	// Online reports the current connectivity state.
	Online() bool
	// Changes returns a channel receiving the new state on every
	// transition.
	Changes() <-chan bool
}

// Probe detects connectivity by periodically requesting the server's
// health endpoint.
type Probe struct {
	url      string
	interval time.Duration
	client   *http.Client

	mu      sync.Mutex
	online  bool
	started bool
	changes chan bool
}

// NewProbe creates a probe polling healthURL every interval. The probe
// starts pessimistic (offline) until the first successful check.
func NewProbe(healthURL string, interval time.Duration, httpClient *http.Client) *Probe {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Probe{
		url:      healthURL,
		interval: interval,
		client:   httpClient,
		changes:  make(chan bool, 8),
	}
}

// Online reports the last observed state.
func (p *Probe) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// Changes returns the transition channel. The channel is buffered; a
// slow consumer drops intermediate transitions rather than blocking
// the probe.
func (p *Probe) Changes() <-chan bool {
	return p.changes
}

// Start begins probing until ctx is cancelled. The first check runs
// immediately.
func (p *Probe) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.mu.Unlock()

	go func() {
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.check(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.check(ctx)
			}
		}
	}()
}

func (p *Probe) check(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	online := false
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.url, nil)
	if err == nil {
		resp, err := p.client.Do(req)
		if err == nil {
			resp.Body.Close()
			online = resp.StatusCode < 500
		}
	}

	p.mu.Lock()
	changed := online != p.online
	p.online = online
	p.mu.Unlock()

	if changed {
		select {
		case p.changes <- online:
		default:
		}
	}
}
