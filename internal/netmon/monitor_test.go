package netmon

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pocketsol/app-core/internal/facts"
)

type fakeProber struct {
	reachable bool
	err       error
	calls     int
}

func (p *fakeProber) Probe(ctx context.Context) (bool, error) {
	p.calls++
	return p.reachable, p.err
}

func TestProbe_PublishesTriState(t *testing.T) {
	tests := []struct {
		name   string
		prober *fakeProber
		want   facts.NetworkState
	}{
		{"reachable", &fakeProber{reachable: true}, facts.NetworkOnline},
		{"unreachable", &fakeProber{reachable: false}, facts.NetworkOffline},
		{"probe error", &fakeProber{err: errors.New("boom")}, facts.NetworkOffline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := facts.NewStore()
			m := NewMonitor(DefaultConfig(), tt.prober, store)
			m.probe()
			if got := store.Snapshot().NetworkState; got != tt.want {
				t.Errorf("NetworkState = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProbe_TransitionNotifiesSubscribers(t *testing.T) {
	store := facts.NewStore()
	var transitions []facts.NetworkState
	store.Subscribe(func(f facts.Facts) {
		transitions = append(transitions, f.NetworkState)
	}, facts.KeyNetworkState)

	p := &fakeProber{reachable: true}
	m := NewMonitor(DefaultConfig(), p, store)

	m.probe() // unknown -> online
	m.probe() // online -> online, no change
	p.reachable = false
	m.probe() // online -> offline

	want := []facts.NetworkState{facts.NetworkOnline, facts.NetworkOffline}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestHTTPProber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewHTTPProber(srv.URL)
	reachable, err := p.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe() error: %v", err)
	}
	if !reachable {
		t.Error("Probe() = false, want true for a responding server")
	}

	srv.Close()
	reachable, err = p.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe() after close error: %v", err)
	}
	if reachable {
		t.Error("Probe() = true, want false for a closed server")
	}
}
