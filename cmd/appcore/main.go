// Command appcore runs the session core headless: it wires the fact store,
// connectivity monitor, identity provisioning, agent stream, push receiver
// and history archive together, drives a session from environment-provided
// credentials, and serves Prometheus metrics. It is the integration harness
// the mobile shells embed; the env-var provider stands in for the platform
// auth SDK.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pocketsol/app-core/internal/app"
	"github.com/pocketsol/app-core/internal/backend"
	"github.com/pocketsol/app-core/internal/facts"
	"github.com/pocketsol/app-core/internal/gate"
	"github.com/pocketsol/app-core/internal/history"
	"github.com/pocketsol/app-core/internal/identity"
	"github.com/pocketsol/app-core/internal/lifecycle"
	"github.com/pocketsol/app-core/internal/metrics"
	"github.com/pocketsol/app-core/internal/netmon"
	"github.com/pocketsol/app-core/internal/push"
	"github.com/pocketsol/app-core/internal/stream"
	"github.com/pocketsol/app-core/internal/wallet"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envProvider is the headless stand-in for the hosted auth SDK: the session
// is fixed for the lifetime of the process.
type envProvider struct {
	token string
	user  *wallet.User
}

func (p *envProvider) Ready() bool        { return true }
func (p *envProvider) User() *wallet.User { return p.user }

func (p *envProvider) AccessToken(ctx context.Context) (string, error) { return p.token, nil }

func (p *envProvider) Login(ctx context.Context, methods []string) error { return nil }
func (p *envProvider) Logout(ctx context.Context) error {
	p.user = nil
	return nil
}

// envWallet exposes the env-configured wallet address; signing operations
// are unavailable headless.
type envWallet struct {
	address string
}

func (w *envWallet) Address() string                            { return w.address }
func (w *envWallet) Create(ctx context.Context) (string, error) { return w.address, nil }
func (w *envWallet) Delegate(ctx context.Context, address, chainType string) error {
	return nil
}
func (w *envWallet) Send(ctx context.Context, to, amount, token, memo string) (string, error) {
	log.Printf("[wallet] headless send suppressed to=%s amount=%s %s", to, amount, token)
	return "", nil
}

// noopBiometrics reports no capability, so the biometric gate auto-grants.
type noopBiometrics struct{}

func (noopBiometrics) Available(ctx context.Context) (bool, error) { return false, nil }
func (noopBiometrics) Authenticate(ctx context.Context, reason string) (bool, error) {
	return true, nil
}

// logChat is the headless chat session: connection state is tracked, channel
// operations are logged.
type logChat struct{}

func (logChat) Connect(ctx context.Context, id identity.Identity) error {
	log.Printf("[chat] connected as %s", id.Username)
	return nil
}
func (logChat) Disconnect(ctx context.Context) error { return nil }
func (logChat) CreateChannel(ctx context.Context, withUsername string) (string, error) {
	return "", nil
}
func (logChat) ListChannels(ctx context.Context) ([]string, error)              { return nil, nil }
func (logChat) SearchUsers(ctx context.Context, query string) ([]string, error) { return nil, nil }

func main() {
	redisAddr := envOr("REDIS_ADDR", "localhost:6379")
	natsURL := envOr("NATS_URL", "")
	postgresDSN := envOr("POSTGRES_DSN", "")
	backendURL := envOr("BACKEND_URL", "https://api.pocketsol.app")
	streamURL := envOr("STREAM_URL", "wss://api.pocketsol.app/ws/v1")
	metricsAddr := envOr("METRICS_ADDR", ":9102")
	probeURL := envOr("PROBE_URL", backendURL+"/health")

	provider := &envProvider{token: os.Getenv("ACCESS_TOKEN")}
	if userID := os.Getenv("USER_ID"); userID != "" {
		provider.user = &wallet.User{
			ID: userID,
			LinkedAccounts: []wallet.LinkedAccount{{
				Type:      "wallet",
				Address:   os.Getenv("WALLET_ADDRESS"),
				Delegated: os.Getenv("WALLET_DELEGATED") == "true",
			}},
		}
	}
	w := &envWallet{address: os.Getenv("WALLET_ADDRESS")}

	log.Printf("PocketSol app core starting")
	log.Printf("  redis_addr:   %s", redisAddr)
	log.Printf("  nats_url:     %s", natsURL)
	log.Printf("  backend_url:  %s", backendURL)
	log.Printf("  stream_url:   %s", streamURL)
	log.Printf("  metrics_addr: %s", metricsAddr)
	log.Printf("  probe_url:    %s", probeURL)

	// --- Redis ---
	idStore, err := identity.NewRedisStore(redisAddr)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}

	// --- Backend ---
	api := backend.NewClient(backendURL)

	// --- NATS (optional) ---
	var receiver *push.Receiver
	if natsURL != "" {
		cfg := push.DefaultConfig()
		cfg.URL = natsURL
		receiver, err = push.NewReceiver(cfg)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		receiver.SetHandler(func(n push.Notification) {
			log.Printf("[push] %s: %s", n.Title, n.Body)
		})
	}

	// --- Postgres (optional) ---
	var archive *history.Archive
	if postgresDSN != "" {
		archive, err = history.Open(postgresDSN)
		if err != nil {
			log.Fatalf("failed to open history archive: %v", err)
		}
	}

	store := facts.NewStore()
	provisioner := identity.NewProvisioner(store, idStore, provider, api, logChat{})
	lc := lifecycle.NewMonitor(noopBiometrics{}, store)

	deps := app.Deps{
		Store:       store,
		Provider:    provider,
		Wallet:      w,
		Provisioner: provisioner,
		Lifecycle:   lc,
		History:     api,
		Stream:      stream.Config{Endpoint: streamURL, Tokens: provider},
	}
	if archive != nil {
		deps.Archive = archive
	}
	if receiver != nil {
		deps.Push = app.NewPushBridge(receiver, api, provider, envOr("PUSH_TOKEN", "headless"))
	}

	ctrl := app.NewController(deps)
	ctrl.SetStateHandler(func(s gate.State) {
		log.Printf("screen state: %s", s)
	})
	ctrl.SetAlertHandler(func(msg string) {
		log.Printf("alert: %s", msg)
	})

	// --- connectivity ---
	monitor := netmon.NewMonitor(netmon.DefaultConfig(), netmon.NewHTTPProber(probeURL), store)
	monitor.Start()

	// Mirror the env-provided session into the facts.
	ctrl.HandleAuthChange()

	// --- metrics ---
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: metricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metrics server error: %v", err)
		}
	}()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	ctrl.Close()
	monitor.Stop()
	if receiver != nil {
		receiver.Close()
	}
	if archive != nil {
		archive.Close()
	}
	if err := idStore.Close(); err != nil {
		log.Printf("identity store close error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}
}
