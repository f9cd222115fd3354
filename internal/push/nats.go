// Package push receives wallet-addressed push notifications over NATS. It
// handles connection lifecycle and per-wallet subject subscriptions; token
// registration with the backend is the controller's job.
package push

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectPush is the subject prefix for wallet-addressed notifications
// (push.<wallet_address>).
const SubjectPush = "push"

// Notification is one decoded push payload.
type Notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "pocketsol-appcore",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Receiver wraps the NATS connection with per-wallet subscriptions.
type Receiver struct {
	conn    *nats.Conn
	mu      sync.Mutex
	subs    map[string]*nats.Subscription
	handler func(Notification)
}

// NewReceiver connects to NATS with the given config and returns a ready
// receiver. It returns an error if the initial connection fails.
func NewReceiver(config Config) (*Receiver, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[push] disconnected: %v", err)
			} else {
				log.Printf("[push] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[push] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[push] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("push: nats connect: %w", err)
	}

	log.Printf("[push] connected to %s", nc.ConnectedUrl())

	return &Receiver{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// SetHandler registers the notification callback. Set once at wiring time.
func (r *Receiver) SetHandler(fn func(Notification)) {
	r.mu.Lock()
	r.handler = fn
	r.mu.Unlock()
}

// Subscribe starts receiving notifications for the wallet address. A second
// subscription for the same address replaces the first.
func (r *Receiver) Subscribe(walletAddress string) error {
	subject := SubjectPush + "." + walletAddress
	sub, err := r.conn.Subscribe(subject, func(msg *nats.Msg) {
		var n Notification
		if err := json.Unmarshal(msg.Data, &n); err != nil {
			log.Printf("[push] unmarshal error on %s: %v", subject, err)
			return
		}
		r.mu.Lock()
		handler := r.handler
		r.mu.Unlock()
		if handler != nil {
			handler(n)
		}
	})
	if err != nil {
		return fmt.Errorf("push: subscribe %s: %w", subject, err)
	}

	r.mu.Lock()
	if prev, ok := r.subs[walletAddress]; ok {
		_ = prev.Unsubscribe()
	}
	r.subs[walletAddress] = sub
	r.mu.Unlock()

	log.Printf("[push] subscribed wallet=%s", walletAddress)
	return nil
}

// Unsubscribe stops receiving notifications for the wallet address.
func (r *Receiver) Unsubscribe(walletAddress string) error {
	r.mu.Lock()
	sub, ok := r.subs[walletAddress]
	if ok {
		delete(r.subs, walletAddress)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}

// Close drains the connection and releases all subscriptions.
func (r *Receiver) Close() {
	if err := r.conn.Drain(); err != nil {
		log.Printf("[push] drain error: %v", err)
	}
}
