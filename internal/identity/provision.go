package identity

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/pocketsol/app-core/internal/backend"
	"github.com/pocketsol/app-core/internal/facts"
)

// TokenSource mints fresh bearer tokens for backend calls. The auth provider
// satisfies this.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// ChatSession is the managed chat SDK seam. Connect opens the realtime chat
// session for the given identity; the remaining calls are opaque
// capabilities the UI layer uses directly.
type ChatSession interface {
	Connect(ctx context.Context, id Identity) error
	Disconnect(ctx context.Context) error
	CreateChannel(ctx context.Context, withUsername string) (string, error)
	ListChannels(ctx context.Context) ([]string, error)
	SearchUsers(ctx context.Context, query string) ([]string, error)
}

// API is the slice of the backend client the provisioner needs.
type API interface {
	UserInfo(ctx context.Context, token string) (*backend.UserInfo, error)
	CreateUsername(ctx context.Context, token, username, displayName, walletAddress string) (*backend.UserInfo, error)
}

// Provisioner resolves or creates the chat identity, at most once per login.
// Failures degrade to the "no identity" state and are never fatal: the user
// can always retry through interactive setup.
type Provisioner struct {
	store   *facts.Store
	persist Store
	tokens  TokenSource
	api     API
	chat    ChatSession
}

// NewProvisioner wires a Provisioner.
func NewProvisioner(store *facts.Store, persist Store, tokens TokenSource, api API, chat ChatSession) *Provisioner {
	return &Provisioner{store: store, persist: persist, tokens: tokens, api: api, chat: chat}
}

// Ensure runs the provisioning flow. It is guarded by the
// chat-connect-attempted fact so it runs at most once per login session;
// concurrent callers after the first are no-ops.
func (p *Provisioner) Ensure(ctx context.Context) {
	var proceed bool
	var userID string
	p.store.Update(func(f *facts.Facts) {
		if !f.LoggedIn() || f.ChatConnectAttempted {
			return
		}
		f.ChatConnectAttempted = true
		proceed = true
		userID = f.UserID
	})
	if !proceed {
		return
	}
	gen := p.store.Generation()

	// Prefer the locally persisted identity: no remote calls needed.
	cached, err := p.persist.Load(ctx, userID)
	if err != nil {
		log.Printf("[identity] cache load failed: %v", err)
	}
	if cached != nil && cached.Username != "" && cached.ChatToken != "" {
		log.Printf("[identity] using cached identity username=%s", cached.Username)
		p.applyConnected(gen, *cached)
		return
	}

	p.store.UpdateIfGeneration(gen, func(f *facts.Facts) { f.CheckingUsername = true })
	defer p.store.UpdateIfGeneration(gen, func(f *facts.Facts) { f.CheckingUsername = false })

	token, err := p.tokens.AccessToken(ctx)
	if err != nil {
		log.Printf("[identity] access token fetch failed: %v", err)
		return
	}

	info, err := p.api.UserInfo(ctx, token)
	switch {
	case errors.Is(err, backend.ErrNotFound):
		// No identity yet; the gate will route to interactive setup.
		log.Printf("[identity] no remote identity, interactive setup required")
		return
	case err != nil:
		// Silent degrade: leave identity absent, user retries interactively.
		log.Printf("[identity] lookup failed: %v", err)
		return
	}

	id := Identity{
		Username:    info.Username,
		DisplayName: info.DisplayName,
		ChatToken:   info.ChatToken,
		AvatarURL:   info.AvatarURL,
	}
	if err := p.persist.Save(ctx, userID, id); err != nil {
		log.Printf("[identity] persist failed: %v", err)
	}

	if err := p.chat.Connect(ctx, id); err != nil {
		log.Printf("[identity] chat connect failed: %v", err)
		// Identity facts are still populated so the gate shows the
		// connecting state rather than interactive setup.
		p.applyIdentity(gen, id, false)
		return
	}
	p.applyConnected(gen, id)
}

// Submit runs the interactive create-identity path with a display name and
// username supplied by the user. Validation failures and username conflicts
// are recoverable; the caller re-prompts.
func (p *Provisioner) Submit(ctx context.Context, displayName, username string) error {
	if err := ValidateDisplayName(displayName); err != nil {
		return err
	}
	if err := ValidateUsername(username); err != nil {
		return err
	}

	snap := p.store.Snapshot()
	if !snap.LoggedIn() {
		return fmt.Errorf("identity: no active session")
	}
	gen := p.store.Generation()

	token, err := p.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("identity: access token: %w", err)
	}

	info, err := p.api.CreateUsername(ctx, token, username, displayName, snap.WalletAddress)
	if err != nil {
		return err // ErrUsernameTaken surfaces as-is for the retry prompt
	}

	id := Identity{
		Username:    info.Username,
		DisplayName: info.DisplayName,
		ChatToken:   info.ChatToken,
		AvatarURL:   info.AvatarURL,
	}
	if err := p.persist.Save(ctx, snap.UserID, id); err != nil {
		log.Printf("[identity] persist failed: %v", err)
	}

	if err := p.chat.Connect(ctx, id); err != nil {
		log.Printf("[identity] chat connect failed: %v", err)
		p.applyIdentity(gen, id, false)
		return nil
	}
	p.applyConnected(gen, id)
	return nil
}

// Teardown disconnects the chat session and clears the persisted identity.
// Preferences survive. Called on logout.
func (p *Provisioner) Teardown(ctx context.Context, userID string) {
	if err := p.chat.Disconnect(ctx); err != nil {
		log.Printf("[identity] chat disconnect: %v", err)
	}
	if userID == "" {
		return
	}
	if err := p.persist.Clear(ctx, userID); err != nil {
		log.Printf("[identity] clear failed: %v", err)
	}
}

func (p *Provisioner) applyConnected(gen uint64, id Identity) {
	p.applyIdentity(gen, id, true)
}

func (p *Provisioner) applyIdentity(gen uint64, id Identity, connected bool) {
	p.store.UpdateIfGeneration(gen, func(f *facts.Facts) {
		f.Username = id.Username
		f.DisplayName = id.DisplayName
		f.ChatToken = id.ChatToken
		f.AvatarURL = id.AvatarURL
		if connected {
			f.ChatConnected = true
		}
	})
}
