package facts

import "sync"

// Subscriber is invoked with a consistent snapshot of the facts after a
// mutation touched at least one of the keys it subscribed to. Subscribers run
// synchronously, one mutation at a time, and may call Store.Update themselves;
// nested updates are queued and delivered after the current round completes.
type Subscriber func(Facts)

type subscription struct {
	keys map[Key]bool // nil means all keys
	fn   Subscriber
}

type change struct {
	keys     []Key
	snapshot Facts
}

// Store is the process-wide fact store. It serializes mutations, enforces the
// logout reset invariant, and notifies key-scoped subscribers in order.
type Store struct {
	mu         sync.Mutex
	facts      Facts
	sessionGen uint64 // bumped whenever UserID changes
	subs       []subscription
	pending    []change
	draining   bool
}

// NewStore returns an empty fact store.
func NewStore() *Store {
	return &Store{}
}

// Subscribe registers fn for changes to the given keys. With no keys, fn is
// invoked on every change. Subscriptions cannot be removed; components that
// stop caring guard inside their handler instead (mirrors how handlers are
// registered once at wiring time).
func (s *Store) Subscribe(fn Subscriber, keys ...Key) {
	sub := subscription{fn: fn}
	if len(keys) > 0 {
		sub.keys = make(map[Key]bool, len(keys))
		for _, k := range keys {
			sub.keys[k] = true
		}
	}
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
}

// Snapshot returns a copy of the current facts.
func (s *Store) Snapshot() Facts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.facts
}

// Generation returns the current login-session generation. It changes exactly
// when UserID changes, so an async operation can capture it at launch and
// discard its result if the session it belonged to is gone.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionGen
}

// Update applies a mutation atomically. If the mutation changed anything, the
// logout invariant is enforced and subscribers whose keys intersect the
// changed set are notified with the post-mutation snapshot. Notification runs
// to completion before Update returns to the outermost caller.
func (s *Store) Update(mutate func(*Facts)) {
	s.update(mutate, nil)
}

// UpdateIfGeneration applies the mutation only while the login-session
// generation still equals gen. Async operations use this to discard results
// that raced a logout or a new login.
func (s *Store) UpdateIfGeneration(gen uint64, mutate func(*Facts)) {
	s.update(mutate, &gen)
}

func (s *Store) update(mutate func(*Facts), gen *uint64) {
	s.mu.Lock()
	if gen != nil && s.sessionGen != *gen {
		s.mu.Unlock()
		return
	}

	before := s.facts
	mutate(&s.facts)

	// Logout resets every session-scoped flag and clears the mirrored
	// identity. The fact store owns this invariant so no observer can leave
	// a stale biometric or provisioning flag behind.
	if before.UserID != "" && s.facts.UserID == "" {
		s.facts.BiometricRequired = false
		s.facts.BiometricAuthenticated = false
		s.facts.BiometricChecked = false
		s.facts.ChatConnectAttempted = false
		s.facts.ChatConnected = false
		s.facts.CheckingUsername = false
		s.facts.Username = ""
		s.facts.DisplayName = ""
		s.facts.ChatToken = ""
		s.facts.AvatarURL = ""
	}
	// BiometricAuthenticated can only hold while a user is present.
	if !s.facts.LoggedIn() {
		s.facts.BiometricAuthenticated = false
	}

	changed := diff(before, s.facts)
	if len(changed) == 0 {
		s.mu.Unlock()
		return
	}
	if before.UserID != s.facts.UserID {
		s.sessionGen++
	}

	s.pending = append(s.pending, change{keys: changed, snapshot: s.facts})
	if s.draining {
		// A subscriber triggered this update; the outer drain loop will
		// deliver it after the current round.
		s.mu.Unlock()
		return
	}
	s.draining = true
	for len(s.pending) > 0 {
		c := s.pending[0]
		s.pending = s.pending[1:]
		subs := make([]subscription, len(s.subs))
		copy(subs, s.subs)
		s.mu.Unlock()

		for _, sub := range subs {
			if sub.matches(c.keys) {
				sub.fn(c.snapshot)
			}
		}

		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}

func (sub subscription) matches(keys []Key) bool {
	if sub.keys == nil {
		return true
	}
	for _, k := range keys {
		if sub.keys[k] {
			return true
		}
	}
	return false
}

// diff returns the keys whose values differ between a and b.
func diff(a, b Facts) []Key {
	var keys []Key
	if a.NetworkState != b.NetworkState {
		keys = append(keys, KeyNetworkState)
	}
	if a.AuthReady != b.AuthReady {
		keys = append(keys, KeyAuthReady)
	}
	if a.UserID != b.UserID {
		keys = append(keys, KeyUser)
	}
	if a.WalletAddress != b.WalletAddress {
		keys = append(keys, KeyWalletAddress)
	}
	if a.WalletDelegated != b.WalletDelegated {
		keys = append(keys, KeyWalletDelegated)
	}
	if a.BiometricRequired != b.BiometricRequired {
		keys = append(keys, KeyBiometricRequired)
	}
	if a.BiometricAuthenticated != b.BiometricAuthenticated {
		keys = append(keys, KeyBiometricAuthenticated)
	}
	if a.BiometricChecked != b.BiometricChecked {
		keys = append(keys, KeyBiometricChecked)
	}
	if a.Username != b.Username {
		keys = append(keys, KeyUsername)
	}
	if a.DisplayName != b.DisplayName {
		keys = append(keys, KeyDisplayName)
	}
	if a.ChatToken != b.ChatToken {
		keys = append(keys, KeyChatToken)
	}
	if a.AvatarURL != b.AvatarURL {
		keys = append(keys, KeyAvatarURL)
	}
	if a.ChatConnectAttempted != b.ChatConnectAttempted {
		keys = append(keys, KeyChatConnectAttempted)
	}
	if a.ChatConnected != b.ChatConnected {
		keys = append(keys, KeyChatConnected)
	}
	if a.CheckingUsername != b.CheckingUsername {
		keys = append(keys, KeyCheckingUsername)
	}
	return keys
}
