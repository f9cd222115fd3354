package gate

import (
	"testing"

	"github.com/pocketsol/app-core/internal/facts"
)

// online returns a logged-in, fully-gated fact set that evaluates to Ready.
func online() facts.Facts {
	return facts.Facts{
		NetworkState:           facts.NetworkOnline,
		AuthReady:              true,
		UserID:                 "u1",
		WalletAddress:          "So1abc",
		WalletDelegated:        true,
		BiometricAuthenticated: true,
		Username:               "alice",
		ChatConnected:          true,
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*facts.Facts)
		want   State
	}{
		{"all gates passed", func(f *facts.Facts) {}, Ready},
		{"offline", func(f *facts.Facts) { f.NetworkState = facts.NetworkOffline }, Offline},
		{"network unknown", func(f *facts.Facts) { f.NetworkState = facts.NetworkUnknown }, Offline},
		{"biometric demanded after backgrounding", func(f *facts.Facts) {
			f.BiometricRequired = true
			f.BiometricAuthenticated = false
		}, BiometricRequired},
		{"auth bootstrapping", func(f *facts.Facts) {
			f.AuthReady = false
			f.UserID = ""
		}, Loading},
		{"username lookup in flight", func(f *facts.Facts) { f.CheckingUsername = true }, Loading},
		{"logged out", func(f *facts.Facts) {
			f.UserID = ""
			f.WalletAddress = ""
			f.WalletDelegated = false
			f.BiometricAuthenticated = false
			f.Username = ""
			f.ChatConnected = false
		}, LoggedOut},
		{"no wallet yet", func(f *facts.Facts) {
			f.WalletAddress = ""
			f.WalletDelegated = false
		}, NeedsWallet},
		{"wallet exists but not delegated", func(f *facts.Facts) { f.WalletDelegated = false }, NeedsDelegation},
		{"needs username", func(f *facts.Facts) { f.Username = "" }, NeedsUsername},
		{"chat connecting", func(f *facts.Facts) { f.ChatConnected = false }, ConnectingChat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := online()
			tt.mutate(&f)
			if got := Evaluate(f); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestEvaluate_PriorityOrder checks the tie-breaks the rule order encodes.
func TestEvaluate_PriorityOrder(t *testing.T) {
	// Biometric re-auth outranks the loading state.
	f := online()
	f.BiometricRequired = true
	f.BiometricAuthenticated = false
	f.CheckingUsername = true
	if got := Evaluate(f); got != BiometricRequired {
		t.Errorf("biometric vs loading: Evaluate() = %v, want %v", got, BiometricRequired)
	}

	// Offline outranks biometric re-auth.
	f.NetworkState = facts.NetworkOffline
	if got := Evaluate(f); got != Offline {
		t.Errorf("offline vs biometric: Evaluate() = %v, want %v", got, Offline)
	}

	// Missing wallet outranks missing username.
	f = online()
	f.WalletAddress = ""
	f.WalletDelegated = false
	f.Username = ""
	if got := Evaluate(f); got != NeedsWallet {
		t.Errorf("wallet vs username: Evaluate() = %v, want %v", got, NeedsWallet)
	}
}

// TestEvaluate_OfflineOverridesEverything enumerates fact combinations and
// verifies the hard override: any non-online network state wins.
func TestEvaluate_OfflineOverridesEverything(t *testing.T) {
	for _, ns := range []facts.NetworkState{facts.NetworkUnknown, facts.NetworkOffline} {
		for mask := 0; mask < 1<<6; mask++ {
			f := facts.Facts{
				NetworkState:           ns,
				AuthReady:              mask&1 != 0,
				WalletDelegated:        mask&2 != 0,
				BiometricRequired:      mask&4 != 0,
				BiometricAuthenticated: mask&8 != 0,
				ChatConnected:          mask&16 != 0,
			}
			if mask&32 != 0 {
				f.UserID = "u1"
				f.Username = "alice"
				f.WalletAddress = "So1abc"
			}
			if got := Evaluate(f); got != Offline {
				t.Fatalf("Evaluate(%+v) = %v, want Offline", f, got)
			}
		}
	}
}

func TestStateString(t *testing.T) {
	if Ready.String() != "ready" {
		t.Errorf("Ready.String() = %q", Ready.String())
	}
	if State(99).String() != "unknown" {
		t.Errorf("State(99).String() = %q", State(99).String())
	}
}
