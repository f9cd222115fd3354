// Package netmon polls device network reachability and feeds the tri-state
// connectivity signal into the fact store. It is the only writer of the
// network-state fact.
package netmon

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/pocketsol/app-core/internal/facts"
)

// Prober answers a single reachability question. Implementations must honor
// the context deadline.
type Prober interface {
	Probe(ctx context.Context) (bool, error)
}

// Config holds monitor tuning parameters.
type Config struct {
	Interval     time.Duration // how often to probe (default: 10s)
	ProbeTimeout time.Duration // per-probe deadline (default: 5s)
}

// DefaultConfig returns sensible defaults for connectivity polling.
func DefaultConfig() Config {
	return Config{
		Interval:     10 * time.Second,
		ProbeTimeout: 5 * time.Second,
	}
}

// Monitor periodically probes reachability and publishes the result.
type Monitor struct {
	config Config
	prober Prober
	store  *facts.Store
	done   chan struct{}
}

// NewMonitor creates a Monitor publishing into the given fact store.
func NewMonitor(config Config, prober Prober, store *facts.Store) *Monitor {
	return &Monitor{
		config: config,
		prober: prober,
		store:  store,
		done:   make(chan struct{}),
	}
}

// Start probes once immediately, then begins the background polling loop.
func (m *Monitor) Start() {
	m.probe()
	go func() {
		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.done:
				return
			case <-ticker.C:
				m.probe()
			}
		}
	}()
}

// Stop terminates the polling loop. Safe to call once.
func (m *Monitor) Stop() {
	close(m.done)
}

func (m *Monitor) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.ProbeTimeout)
	defer cancel()

	state := facts.NetworkOffline
	reachable, err := m.prober.Probe(ctx)
	if err != nil {
		log.Printf("[netmon] probe error: %v", err)
	} else if reachable {
		state = facts.NetworkOnline
	}

	m.store.Update(func(f *facts.Facts) {
		if f.NetworkState != state {
			log.Printf("[netmon] network %s -> %s", f.NetworkState, state)
		}
		f.NetworkState = state
	})
}

// HTTPProber probes reachability with a HEAD request against a well-known
// endpoint. Any response, including an error status, proves the network path.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

// NewHTTPProber returns a prober for the given reachability URL.
func NewHTTPProber(url string) *HTTPProber {
	return &HTTPProber{URL: url, Client: &http.Client{}}
}

// Probe issues the HEAD request. A transport-level failure means offline.
func (p *HTTPProber) Probe(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false, err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return false, nil // unreachable, not an internal error
	}
	resp.Body.Close()
	return true, nil
}
