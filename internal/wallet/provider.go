// Package wallet defines the narrow seam to the hosted auth/embedded-wallet
// provider. The orchestration core never talks to the provider SDK directly;
// everything flows through these interfaces so tests can substitute fakes and
// the provider can be swapped without touching the gates.
package wallet

import "context"

// LinkedAccount is one entry of a user's linked-accounts list as reported by
// the auth provider.
type LinkedAccount struct {
	Type      string `json:"type"` // "wallet", "email", "phone", ...
	Address   string `json:"address,omitempty"`
	Delegated bool   `json:"delegated,omitempty"`
}

// User is the opaque identity handle returned by the provider once login
// completes.
type User struct {
	ID             string
	LinkedAccounts []LinkedAccount
}

// Provider is the auth side of the embedded-wallet SDK.
type Provider interface {
	// Ready reports whether the provider finished its initial bootstrap.
	Ready() bool
	// User returns the logged-in user, or nil.
	User() *User
	// AccessToken returns a fresh bearer token for the current session.
	AccessToken(ctx context.Context) (string, error)
	// Login starts an interactive login with the given methods.
	Login(ctx context.Context, methods []string) error
	// Logout terminates the session.
	Logout(ctx context.Context) error
}

// Wallet is the embedded-wallet side of the SDK.
type Wallet interface {
	// Address returns the embedded wallet address, or empty if none exists.
	Address() string
	// Create provisions an embedded wallet for the current user.
	Create(ctx context.Context) (string, error)
	// Delegate grants the application signing authority over the wallet.
	Delegate(ctx context.Context, address, chainType string) error
	// Send submits a payment from the delegated wallet and returns the
	// transaction signature.
	Send(ctx context.Context, to, amount, token, memo string) (string, error)
}

// Delegated reports whether the user's linked accounts contain a delegated
// entry of type "wallet".
func Delegated(u *User) bool {
	if u == nil {
		return false
	}
	for _, acct := range u.LinkedAccounts {
		if acct.Type == "wallet" && acct.Delegated {
			return true
		}
	}
	return false
}
