// Package intent captures inbound payment deep links and holds them until
// the session readiness predicate is satisfied, then materializes them as
// confirmations for the user to accept or deny. A queued intent has no
// expiry: it waits for readiness indefinitely.
package intent

import (
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/pocketsol/app-core/internal/facts"
	"github.com/pocketsol/app-core/internal/metrics"
)

// DefaultToken is the payment token assumed when the deep link names none.
const DefaultToken = "SOL"

// PendingIntent is a normalized payment deep link awaiting readiness.
type PendingIntent struct {
	To     string
	Amount string // optional
	Token  string
	Memo   string // optional
}

// Confirmation is a materialized intent surfaced for user accept/deny.
type Confirmation struct {
	ID      string
	To      string
	Amount  string
	Token   string
	Memo    string
	Summary string
}

// Queue holds at most one pending intent and at most one confirmation.
type Queue struct {
	store *facts.Store

	mu           sync.Mutex
	pending      *PendingIntent
	confirmation *Confirmation
	onConfirm    func(Confirmation)
}

// NewQueue creates a Queue and subscribes it to the readiness facts.
func NewQueue(store *facts.Store) *Queue {
	q := &Queue{store: store}
	store.Subscribe(q.onFacts,
		facts.KeyUser,
		facts.KeyWalletDelegated,
		facts.KeyBiometricAuthenticated,
		facts.KeyUsername,
		facts.KeyChatConnected,
	)
	return q
}

// SetConfirmHandler registers a callback invoked when an intent
// materializes. Set once at wiring time.
func (q *Queue) SetConfirmHandler(fn func(Confirmation)) {
	q.mu.Lock()
	q.onConfirm = fn
	q.mu.Unlock()
}

// Ingest accepts one raw navigation parameter set. The caller clears the
// originating navigation state immediately after; a re-delivered arrival is
// ignored while an intent or confirmation from it is still alive. Returns
// whether the parameters were accepted.
func (q *Queue) Ingest(params map[string]string) bool {
	to := params["to"]
	if to == "" {
		return false
	}

	q.mu.Lock()
	if q.pending != nil || q.confirmation != nil {
		q.mu.Unlock()
		return false // already processed this arrival
	}
	token := params["token"]
	if token == "" {
		token = DefaultToken
	}
	q.pending = &PendingIntent{
		To:     to,
		Amount: params["amount"],
		Token:  token,
		Memo:   params["memo"],
	}
	q.mu.Unlock()

	log.Printf("[intent] queued payment intent to=%s token=%s", to, token)

	// Readiness may already hold; materialize without waiting for a change.
	q.onFacts(q.store.Snapshot())
	return true
}

// Pending returns a copy of the queued intent, or nil.
func (q *Queue) Pending() *PendingIntent {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == nil {
		return nil
	}
	p := *q.pending
	return &p
}

// Confirmation returns a copy of the surfaced confirmation, or nil.
func (q *Queue) Confirmation() *Confirmation {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.confirmation == nil {
		return nil
	}
	c := *q.confirmation
	return &c
}

// Discard drops the surfaced confirmation after accept, deny or dismiss.
func (q *Queue) Discard() {
	q.mu.Lock()
	q.confirmation = nil
	q.mu.Unlock()
}

// onFacts materializes the pending intent once the readiness predicate holds.
func (q *Queue) onFacts(f facts.Facts) {
	if !f.PaymentReady() {
		return
	}

	q.mu.Lock()
	if q.pending == nil || q.confirmation != nil {
		q.mu.Unlock()
		return
	}
	p := *q.pending
	q.pending = nil
	c := Confirmation{
		ID:      uuid.NewString(),
		To:      p.To,
		Amount:  p.Amount,
		Token:   p.Token,
		Memo:    p.Memo,
		Summary: Summarize(p),
	}
	q.confirmation = &c
	fn := q.onConfirm
	q.mu.Unlock()

	metrics.IntentsMaterialized.Inc()
	log.Printf("[intent] materialized confirmation id=%s", c.ID)
	if fn != nil {
		fn(c)
	}
}

// Summarize renders the human-readable confirmation line, e.g.
// "Send 5 SOL to abc with a memo of 'rent'".
func Summarize(p PendingIntent) string {
	s := "Send "
	if p.Amount != "" {
		s += p.Amount + " "
	}
	s += fmt.Sprintf("%s to %s", p.Token, p.To)
	if p.Memo != "" {
		s += fmt.Sprintf(" with a memo of '%s'", p.Memo)
	}
	return s
}
