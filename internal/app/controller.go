// Package app wires the session components together: it re-runs the screen
// gate on every fact change, feeds the agent stream its composite readiness
// precondition, kicks off biometric probes and chat provisioning when their
// triggers fire, and keeps push registration aligned with the active wallet.
// It also exposes the imperative action surface the UI layer calls into.
package app

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pocketsol/app-core/internal/backend"
	"github.com/pocketsol/app-core/internal/facts"
	"github.com/pocketsol/app-core/internal/gate"
	"github.com/pocketsol/app-core/internal/history"
	"github.com/pocketsol/app-core/internal/identity"
	"github.com/pocketsol/app-core/internal/intent"
	"github.com/pocketsol/app-core/internal/lifecycle"
	"github.com/pocketsol/app-core/internal/metrics"
	"github.com/pocketsol/app-core/internal/stream"
	"github.com/pocketsol/app-core/internal/wallet"
)

// Archiver is the local message archive. Archive failures are never
// load-bearing; the controller logs and moves on.
type Archiver interface {
	SaveMessage(ctx context.Context, userID string, m history.Message) error
	SavePage(ctx context.Context, userID string, msgs []history.Message) error
	Clear(ctx context.Context, userID string) error
}

// PushRegistrar keeps push delivery subscribed for a wallet address.
type PushRegistrar interface {
	Register(ctx context.Context, walletAddress string) error
	Unregister(ctx context.Context, walletAddress string) error
}

// HistoryAPI is the backend slice used to fetch transcript pages.
type HistoryAPI interface {
	History(ctx context.Context, token, userID string, pageNum, pageSize int) ([]backend.HistoryMessage, error)
}

// Deps collects the controller's dependencies. Store, Provider, Wallet,
// Provisioner and Lifecycle are required; History, Archive and Push may be
// nil. Stream carries the agent endpoint plus optional test seams; its
// Tokens default to Provider and its OnFrame is owned by the controller.
type Deps struct {
	Store       *facts.Store
	Provider    wallet.Provider
	Wallet      wallet.Wallet
	Provisioner *identity.Provisioner
	Lifecycle   *lifecycle.Monitor
	History     HistoryAPI
	Archive     Archiver
	Push        PushRegistrar
	Stream      stream.Config
}

// Controller owns the component wiring and the screen-state output.
type Controller struct {
	store      *facts.Store
	provider   wallet.Provider
	wallet     wallet.Wallet
	prov       *identity.Provisioner
	lc         *lifecycle.Monitor
	historyAPI HistoryAPI
	archive    Archiver
	push       PushRegistrar
	stream     *stream.Stream
	intents    *intent.Queue

	mu       sync.Mutex
	state    gate.State
	pushAddr string // wallet address currently registered for push
	onState  func(gate.State)
	onAlert  func(string)
}

// NewController builds the controller, constructs the agent stream and intent
// queue, and subscribes to the fact store. The returned controller is live:
// fact mutations from any component drive it immediately.
func NewController(d Deps) *Controller {
	c := &Controller{
		store:      d.Store,
		provider:   d.Provider,
		wallet:     d.Wallet,
		prov:       d.Provisioner,
		lc:         d.Lifecycle,
		historyAPI: d.History,
		archive:    d.Archive,
		push:       d.Push,
	}

	sc := d.Stream
	if sc.Tokens == nil {
		sc.Tokens = d.Provider
	}
	sc.OnFrame = c.onAgentFrame
	c.stream = stream.NewStream(sc)
	c.intents = intent.NewQueue(d.Store)

	c.state = gate.Evaluate(d.Store.Snapshot())
	c.publishState(c.state)
	d.Store.Subscribe(c.onFacts)
	return c
}

// SetStateHandler registers the screen-state callback. Set once at wiring
// time, before any fact source starts reporting.
func (c *Controller) SetStateHandler(fn func(gate.State)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// SetAlertHandler registers the modal-alert callback for failed actions.
func (c *Controller) SetAlertHandler(fn func(string)) {
	c.mu.Lock()
	c.onAlert = fn
	c.mu.Unlock()
}

// State returns the current screen-state.
func (c *Controller) State() gate.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stream returns the agent stream for transcript and flag reads.
func (c *Controller) Stream() *stream.Stream {
	return c.stream
}

// Confirmation returns the surfaced payment confirmation, or nil.
func (c *Controller) Confirmation() *intent.Confirmation {
	return c.intents.Confirmation()
}

// Close tears down the agent stream.
func (c *Controller) Close() {
	c.stream.Close()
}

// onFacts runs on every fact change: feed the stream precondition, fire the
// per-session triggers, align push registration, and re-evaluate the gate.
func (c *Controller) onFacts(f facts.Facts) {
	c.stream.SetReady(f.StreamReady())

	if f.NetworkState == facts.NetworkOnline {
		metrics.NetworkOnline.Set(1)
	} else {
		metrics.NetworkOnline.Set(0)
	}

	if f.LoggedIn() && f.WalletDelegated {
		if !f.BiometricChecked {
			go c.lc.EnsureChecked(context.Background())
		}
		if f.BiometricAuthenticated && !f.ChatConnectAttempted {
			go c.prov.Ensure(context.Background())
		}
	}

	c.syncPush(f)

	if next := gate.Evaluate(f); next != c.State() {
		c.mu.Lock()
		prev := c.state
		c.state = next
		fn := c.onState
		c.mu.Unlock()

		log.Printf("[app] screen state %s -> %s", prev, next)
		c.publishState(next)
		if fn != nil {
			fn(next)
		}
	}
}

// publishState sets the one-hot screen-state gauge.
func (c *Controller) publishState(active gate.State) {
	for _, s := range gate.AllStates {
		v := 0.0
		if s == active {
			v = 1
		}
		metrics.ScreenState.WithLabelValues(s.String()).Set(v)
	}
}

// syncPush keeps exactly one push registration alive, for the logged-in
// user's wallet address. Registration churn happens off the notify path.
func (c *Controller) syncPush(f facts.Facts) {
	if c.push == nil {
		return
	}
	want := ""
	if f.LoggedIn() && f.WalletAddress != "" {
		want = f.WalletAddress
	}

	c.mu.Lock()
	if want == c.pushAddr {
		c.mu.Unlock()
		return
	}
	prev := c.pushAddr
	c.pushAddr = want
	c.mu.Unlock()

	go func() {
		ctx := context.Background()
		if prev != "" {
			if err := c.push.Unregister(ctx, prev); err != nil {
				log.Printf("[app] push unregister %s: %v", prev, err)
			}
		}
		if want != "" {
			if err := c.push.Register(ctx, want); err != nil {
				log.Printf("[app] push register %s: %v", want, err)
			}
		}
	}()
}

// onAgentFrame archives inbound agent messages.
func (c *Controller) onAgentFrame(raw json.RawMessage) {
	if c.archive == nil {
		return
	}
	var frame struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &frame) != nil || frame.Message == "" {
		return
	}
	userID := c.store.Snapshot().UserID
	if userID == "" {
		return
	}
	msg := history.Message{
		ID:   uuid.NewString(),
		Role: "agent",
		Body: frame.Message,
		Ts:   time.Now().Unix(),
	}
	go func() {
		if err := c.archive.SaveMessage(context.Background(), userID, msg); err != nil {
			log.Printf("[app] archive agent message: %v", err)
		}
	}()
}

func (c *Controller) alert(msg string) {
	c.mu.Lock()
	fn := c.onAlert
	c.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}
