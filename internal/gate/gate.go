// Package gate selects the single screen-state the UI should render from the
// current session facts. Evaluation is a pure ordered-predicate list: the
// first matching rule wins, so the order itself encodes priority (an offline
// network overrides everything, a pending biometric re-auth overrides
// loading, and so on).
package gate

import "github.com/pocketsol/app-core/internal/facts"

// State is the screen-state the UI layer renders.
type State int

const (
	// Offline: no network connectivity (or not yet determined).
	Offline State = iota
	// BiometricRequired: an active session must re-authenticate.
	BiometricRequired
	// Loading: auth provider bootstrapping or username lookup in flight.
	Loading
	// LoggedOut: auth is ready and no user is present.
	LoggedOut
	// NeedsWallet: logged in, no embedded wallet exists yet.
	NeedsWallet
	// NeedsDelegation: wallet exists but the user has not delegated it.
	NeedsDelegation
	// NeedsUsername: delegated and re-authed, chat identity missing.
	NeedsUsername
	// ConnectingChat: identity present, chat session not yet connected.
	ConnectingChat
	// Ready: all gates passed.
	Ready
)

// AllStates lists every screen-state, in priority order.
var AllStates = []State{
	Offline,
	BiometricRequired,
	Loading,
	LoggedOut,
	NeedsWallet,
	NeedsDelegation,
	NeedsUsername,
	ConnectingChat,
	Ready,
}

var stateNames = map[State]string{
	Offline:           "offline",
	BiometricRequired: "biometric_required",
	Loading:           "loading",
	LoggedOut:         "logged_out",
	NeedsWallet:       "needs_wallet",
	NeedsDelegation:   "needs_delegation",
	NeedsUsername:     "needs_username",
	ConnectingChat:    "connecting_chat",
	Ready:             "ready",
}

// String returns the snake_case name of the state.
func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Evaluate returns exactly one screen-state for the given facts. It is a pure
// function with no side effects; callers re-run it synchronously on every
// fact mutation.
func Evaluate(f facts.Facts) State {
	switch {
	case f.NetworkState != facts.NetworkOnline:
		return Offline
	case f.LoggedIn() && f.WalletDelegated && f.BiometricRequired && !f.BiometricAuthenticated:
		return BiometricRequired
	case !f.AuthReady || f.CheckingUsername:
		return Loading
	case !f.LoggedIn():
		return LoggedOut
	case !f.WalletDelegated && f.WalletAddress == "":
		return NeedsWallet
	case !f.WalletDelegated:
		return NeedsDelegation
	case f.BiometricAuthenticated && f.Username == "":
		return NeedsUsername
	case !f.ChatConnected:
		return ConnectingChat
	default:
		return Ready
	}
}
