// Package facts holds the session fact store: the small set of flags and
// identifiers that every orchestration component reads and a few of them
// write. Mutations are applied atomically and subscribers are notified
// synchronously, so no component ever computes from a torn fact set.
package facts

// NetworkState is the tri-state connectivity signal fed by the connectivity
// monitor. Anything other than NetworkOnline forces the offline screen-state
// regardless of all other facts.
type NetworkState int

const (
	NetworkUnknown NetworkState = iota
	NetworkOnline
	NetworkOffline
)

// String returns the lowercase name of the network state.
func (n NetworkState) String() string {
	switch n {
	case NetworkOnline:
		return "online"
	case NetworkOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// Key identifies a single fact for key-scoped subscriptions.
type Key string

const (
	KeyNetworkState           Key = "network_state"
	KeyAuthReady              Key = "auth_ready"
	KeyUser                   Key = "user"
	KeyWalletAddress          Key = "wallet_address"
	KeyWalletDelegated        Key = "wallet_delegated"
	KeyBiometricRequired      Key = "biometric_required"
	KeyBiometricAuthenticated Key = "biometric_authenticated"
	KeyBiometricChecked       Key = "biometric_checked"
	KeyUsername               Key = "username"
	KeyDisplayName            Key = "display_name"
	KeyChatToken              Key = "chat_token"
	KeyAvatarURL              Key = "avatar_url"
	KeyChatConnectAttempted   Key = "chat_connect_attempted"
	KeyChatConnected          Key = "chat_connected"
	KeyCheckingUsername       Key = "checking_username"
)

// Facts is the full session fact set. The zero value is the state before any
// observer has reported: network unknown, auth not bootstrapped, logged out.
type Facts struct {
	NetworkState NetworkState

	AuthReady bool
	UserID    string // empty when logged out

	WalletAddress   string // empty until an embedded wallet exists
	WalletDelegated bool

	// Session-scoped biometric flags; reset whenever UserID becomes empty.
	BiometricRequired      bool
	BiometricAuthenticated bool
	BiometricChecked       bool // availability probed this session

	// Durable chat identity, mirrored from the identity store.
	Username    string
	DisplayName string
	ChatToken   string
	AvatarURL   string

	// One-shot provisioning flags; reset on logout.
	ChatConnectAttempted bool
	ChatConnected        bool
	CheckingUsername     bool
}

// LoggedIn reports whether a user session exists.
func (f Facts) LoggedIn() bool {
	return f.UserID != ""
}

// StreamReady is the precondition composite for the agent event stream:
// user present, auth bootstrapped, wallet delegated, network online, chat
// identity provisioned and connected.
func (f Facts) StreamReady() bool {
	return f.LoggedIn() &&
		f.AuthReady &&
		f.WalletDelegated &&
		f.NetworkState == NetworkOnline &&
		f.Username != "" &&
		f.ChatConnected
}

// PaymentReady is the readiness composite for materializing a queued payment
// intent: user present, wallet delegated, biometric passed, chat identity
// provisioned and connected.
func (f Facts) PaymentReady() bool {
	return f.LoggedIn() &&
		f.WalletDelegated &&
		f.BiometricAuthenticated &&
		f.Username != "" &&
		f.ChatConnected
}
