package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/pocketsol/app-core/internal/backend"
	"github.com/pocketsol/app-core/internal/facts"
	"github.com/pocketsol/app-core/internal/history"
	"github.com/pocketsol/app-core/internal/wallet"
)

// HandleAuthChange mirrors the auth provider's current state into the fact
// store. The provider SDK calls this on every login, logout, bootstrap and
// delegation change it reports.
func (c *Controller) HandleAuthChange() {
	u := c.provider.User()
	c.store.Update(func(f *facts.Facts) {
		f.AuthReady = c.provider.Ready()
		if u == nil {
			f.UserID = ""
			f.WalletAddress = ""
			f.WalletDelegated = false
			return
		}
		f.UserID = u.ID
		f.WalletAddress = c.wallet.Address()
		f.WalletDelegated = wallet.Delegated(u)
	})
}

// Login starts an interactive login with the given methods and mirrors the
// resulting provider state.
func (c *Controller) Login(ctx context.Context, methods []string) error {
	if err := c.provider.Login(ctx, methods); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	c.HandleAuthChange()
	return nil
}

// Logout ends the provider session and tears down everything session-scoped:
// chat connection, durable identity, push registration, archived history.
// The fact store's own logout invariant clears the session flags.
func (c *Controller) Logout(ctx context.Context) error {
	snap := c.store.Snapshot()
	userID := snap.UserID

	if err := c.provider.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if userID != "" {
		c.prov.Teardown(ctx, userID)
		if c.archive != nil {
			if err := c.archive.Clear(ctx, userID); err != nil {
				log.Printf("[app] clear archive: %v", err)
			}
		}
	}
	c.HandleAuthChange()
	return nil
}

// AppStateChanged forwards a foreground/background transition.
func (c *Controller) AppStateChanged(foreground bool) {
	c.lc.AppStateChanged(foreground)
}

// AuthenticateBiometric runs the biometric prompt to clear the re-auth gate.
func (c *Controller) AuthenticateBiometric(ctx context.Context) error {
	return c.lc.Authenticate(ctx, "Unlock your account")
}

// SubmitIdentity claims a username and display name for the session.
// Validation and conflict errors pass through for inline display.
func (c *Controller) SubmitIdentity(ctx context.Context, displayName, username string) error {
	return c.prov.Submit(ctx, displayName, username)
}

// CreateWallet provisions an embedded wallet for the logged-in user.
func (c *Controller) CreateWallet(ctx context.Context) error {
	addr, err := c.wallet.Create(ctx)
	if err != nil {
		c.alert(fmt.Sprintf("Wallet creation failed: %v", err))
		return err
	}
	c.store.Update(func(f *facts.Facts) {
		f.WalletAddress = addr
	})
	return nil
}

// DelegateWallet grants the app signing authority over the embedded wallet,
// then re-mirrors the provider state that records the delegation.
func (c *Controller) DelegateWallet(ctx context.Context) error {
	addr := c.store.Snapshot().WalletAddress
	if addr == "" {
		return fmt.Errorf("delegate: no wallet to delegate")
	}
	if err := c.wallet.Delegate(ctx, addr, "solana"); err != nil {
		c.alert(fmt.Sprintf("Delegation failed: %v", err))
		return err
	}
	c.HandleAuthChange()
	return nil
}

// HandleDeepLink ingests a payment deep link's parameters. Returns whether
// the arrival was accepted as a new intent.
func (c *Controller) HandleDeepLink(params map[string]string) bool {
	return c.intents.Ingest(params)
}

// SendTextMessage stages text and sends it over the agent stream. The user
// message is archived only once the send is accepted.
func (c *Controller) SendTextMessage(text string) error {
	c.stream.SetInput(text)
	if err := c.stream.Send(); err != nil {
		return err
	}
	if c.archive != nil {
		if userID := c.store.Snapshot().UserID; userID != "" {
			msg := history.Message{
				ID:   uuid.NewString(),
				Role: "user",
				Body: text,
				Ts:   time.Now().Unix(),
			}
			go func() {
				if err := c.archive.SaveMessage(context.Background(), userID, msg); err != nil {
					log.Printf("[app] archive user message: %v", err)
				}
			}()
		}
	}
	return nil
}

// LoadHistory fetches one transcript page from the backend and mirrors it
// into the local archive.
func (c *Controller) LoadHistory(ctx context.Context, pageNum, pageSize int) ([]backend.HistoryMessage, error) {
	if c.historyAPI == nil {
		return nil, nil
	}
	snap := c.store.Snapshot()
	if snap.UserID == "" {
		return nil, nil
	}
	token, err := c.provider.AccessToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	page, err := c.historyAPI.History(ctx, token, snap.UserID, pageNum, pageSize)
	if err != nil {
		return nil, err
	}
	if c.archive != nil && len(page) > 0 {
		msgs := make([]history.Message, 0, len(page))
		for _, m := range page {
			msgs = append(msgs, history.Message{ID: m.ID, Role: m.Role, Body: m.Body, Ts: m.Ts})
		}
		if err := c.archive.SavePage(ctx, snap.UserID, msgs); err != nil {
			log.Printf("[app] archive history page: %v", err)
		}
	}
	return page, nil
}

// AcceptPayment submits the surfaced confirmation through the delegated
// wallet. On failure the confirmation stays up so the user can retry or
// dismiss; on success it is discarded.
func (c *Controller) AcceptPayment(ctx context.Context) error {
	conf := c.intents.Confirmation()
	if conf == nil {
		return nil
	}
	sig, err := c.wallet.Send(ctx, conf.To, conf.Amount, conf.Token, conf.Memo)
	if err != nil {
		c.alert(fmt.Sprintf("Payment failed: %v", err))
		return err
	}
	log.Printf("[app] payment sent id=%s sig=%s", conf.ID, sig)
	c.intents.Discard()
	return nil
}

// DenyPayment discards the surfaced confirmation without sending.
func (c *Controller) DenyPayment() {
	c.intents.Discard()
}

// DismissConfirmation discards the surfaced confirmation.
func (c *Controller) DismissConfirmation() {
	c.intents.Discard()
}
