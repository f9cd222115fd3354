package app

import (
	"context"
	"fmt"

	"github.com/pocketsol/app-core/internal/backend"
	"github.com/pocketsol/app-core/internal/identity"
	"github.com/pocketsol/app-core/internal/push"
)

// PushBridge implements PushRegistrar over the NATS receiver plus the
// backend's push-token endpoints: subscribing locally and registering the
// device token server-side move together.
type PushBridge struct {
	recv        *push.Receiver
	api         *backend.Client
	tokens      identity.TokenSource
	deviceToken string
}

// NewPushBridge builds the bridge. deviceToken is the platform push token
// for this installation.
func NewPushBridge(recv *push.Receiver, api *backend.Client, tokens identity.TokenSource, deviceToken string) *PushBridge {
	return &PushBridge{recv: recv, api: api, tokens: tokens, deviceToken: deviceToken}
}

// Register subscribes the receiver to the wallet's subject and registers the
// device token with the backend.
func (b *PushBridge) Register(ctx context.Context, walletAddress string) error {
	if err := b.recv.Subscribe(walletAddress); err != nil {
		return fmt.Errorf("push subscribe: %w", err)
	}
	token, err := b.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("push register: %w", err)
	}
	return b.api.RegisterPushToken(ctx, token, b.deviceToken, walletAddress)
}

// Unregister removes the subscription and the server-side registration.
func (b *PushBridge) Unregister(ctx context.Context, walletAddress string) error {
	if err := b.recv.Unsubscribe(walletAddress); err != nil {
		return fmt.Errorf("push unsubscribe: %w", err)
	}
	token, err := b.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("push unregister: %w", err)
	}
	return b.api.UnregisterPushToken(ctx, token, walletAddress)
}
