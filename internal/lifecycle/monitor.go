// Package lifecycle tracks app foreground/background transitions and drives
// the biometric re-auth gate: backgrounding an active session demands a fresh
// authentication before the session is usable again.
package lifecycle

import (
	"context"
	"log"
	"sync"

	"github.com/pocketsol/app-core/internal/facts"
)

// Biometrics is the platform biometric capability. Both calls may block on a
// user prompt and must honor context cancellation.
type Biometrics interface {
	// Available reports whether the device can perform biometric auth.
	Available(ctx context.Context) (bool, error)
	// Authenticate runs the platform prompt. A false return without error
	// means the user cancelled.
	Authenticate(ctx context.Context, reason string) (bool, error)
}

// Monitor observes app lifecycle transitions and owns the biometric facts.
type Monitor struct {
	store      *facts.Store
	bio        Biometrics
	foreground bool

	mu      sync.Mutex
	probing bool // an availability probe is in flight
}

// NewMonitor creates a Monitor writing into the given fact store. The app
// starts foregrounded.
func NewMonitor(bio Biometrics, store *facts.Store) *Monitor {
	return &Monitor{store: store, bio: bio, foreground: true}
}

// AppStateChanged records a foreground/background transition. Returning to
// the foreground while a user session exists forces re-authentication.
func (m *Monitor) AppStateChanged(foreground bool) {
	wasForeground := m.foreground
	m.foreground = foreground
	if foreground && !wasForeground {
		m.store.Update(func(f *facts.Facts) {
			if !f.LoggedIn() {
				return
			}
			log.Printf("[lifecycle] foregrounded with active session, demanding re-auth")
			f.BiometricRequired = true
			f.BiometricAuthenticated = false
		})
	}
}

// EnsureChecked performs the once-per-session availability probe. If the
// platform has no biometric capability the gate is auto-granted without a
// prompt; otherwise authentication is demanded before the session is Ready.
func (m *Monitor) EnsureChecked(ctx context.Context) {
	snap := m.store.Snapshot()
	if !snap.LoggedIn() || snap.BiometricChecked {
		return
	}

	m.mu.Lock()
	if m.probing {
		m.mu.Unlock()
		return
	}
	m.probing = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.probing = false
		m.mu.Unlock()
	}()

	gen := m.store.Generation()

	available, err := m.bio.Available(ctx)
	if err != nil {
		log.Printf("[lifecycle] availability probe failed: %v (auto-granting)", err)
		available = false
	}

	m.store.UpdateIfGeneration(gen, func(f *facts.Facts) {
		if !f.LoggedIn() || f.BiometricChecked {
			return
		}
		f.BiometricChecked = true
		if available {
			f.BiometricRequired = true
		} else {
			f.BiometricAuthenticated = true
		}
	})
}

// Authenticate runs the platform biometric prompt. Success clears the gate;
// failure or cancellation leaves it demanding re-auth with no automatic
// retry. The returned error is nil on cancellation — the gate state already
// reflects the outcome.
func (m *Monitor) Authenticate(ctx context.Context, reason string) error {
	gen := m.store.Generation()

	ok, err := m.bio.Authenticate(ctx, reason)
	if err != nil {
		log.Printf("[lifecycle] authenticate failed: %v", err)
		return err
	}
	if !ok {
		log.Printf("[lifecycle] authenticate cancelled")
		return nil
	}

	m.store.UpdateIfGeneration(gen, func(f *facts.Facts) {
		if !f.LoggedIn() {
			return
		}
		f.BiometricAuthenticated = true
		f.BiometricRequired = false
	})
	return nil
}
