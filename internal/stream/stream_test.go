package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws/wsutil"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeTokens struct {
	token string
	err   error
}

func (f *fakeTokens) AccessToken(ctx context.Context) (string, error) {
	return f.token, f.err
}

type fakeTimer struct {
	d       time.Duration
	fn      func()
	clock   *fakeClock
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired {
		return false
	}
	t.stopped = true
	return true
}

// fakeClock records AfterFunc timers and fires them on Advance.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, fn: fn, clock: c}
	c.timers = append(c.timers, t)
	return t
}

// Advance fires every live timer with a delay <= d.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	var fire []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.d <= d {
			t.fired = true
			fire = append(fire, t)
		}
	}
	c.mu.Unlock()

	for _, t := range fire {
		t.fn()
	}
}

// Pending returns the number of armed, unfired timers.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// PendingDelay returns the delay of the single armed timer.
func (c *fakeClock) PendingDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			return t.d
		}
	}
	return 0
}

// fakeDialer hands out the client end of a net.Pipe and keeps the server end
// for the test to drive.
type fakeDialer struct {
	mu      sync.Mutex
	err     error
	dials   int
	lastURL string
	server  net.Conn
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (net.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.lastURL = url
	if d.err != nil {
		return nil, d.err
	}
	client, server := net.Pipe()
	d.server = server
	return client, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) Server() net.Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.server
}

// drainServer discards client frames so pipe writes never block.
func drainServer(conn net.Conn) {
	go func() {
		for {
			if _, err := wsutil.ReadClientText(conn); err != nil {
				return
			}
		}
	}()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestStream(t *testing.T) (*Stream, *fakeDialer, *fakeClock) {
	t.Helper()
	dialer := &fakeDialer{}
	clock := &fakeClock{}
	s := NewStream(Config{
		Endpoint: "wss://agent.example.com/stream",
		Tokens:   &fakeTokens{token: "jwt123"},
		Dialer:   dialer,
		Clock:    clock,
	})
	t.Cleanup(s.Close)
	return s, dialer, clock
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestConnect_TokenAsQueryCredential(t *testing.T) {
	s, dialer, _ := newTestStream(t)

	s.SetReady(true)
	waitFor(t, "open", func() bool { return s.State() == StateOpen })

	if got := dialer.lastURL; !strings.Contains(got, "?token=jwt123") {
		t.Errorf("dial URL = %q, want token query credential", got)
	}
}

func TestConnect_NotStartedWhilePreconditionsFalse(t *testing.T) {
	s, dialer, _ := newTestStream(t)

	s.SetReady(false)
	time.Sleep(10 * time.Millisecond)

	if dialer.Dials() != 0 {
		t.Errorf("dials = %d, want 0 while preconditions are false", dialer.Dials())
	}
	if s.State() != StateClosed {
		t.Errorf("state = %v, want closed", s.State())
	}
}

func TestTokenFailure_RemainsClosedWithoutReconnect(t *testing.T) {
	dialer := &fakeDialer{}
	clock := &fakeClock{}
	s := NewStream(Config{
		Endpoint: "wss://agent.example.com/stream",
		Tokens:   &fakeTokens{err: errors.New("expired")},
		Dialer:   dialer,
		Clock:    clock,
	})
	defer s.Close()

	s.SetReady(true)
	waitFor(t, "transport error", func() bool { return s.TransportError() != "" })

	if s.State() != StateClosed {
		t.Errorf("state = %v, want closed", s.State())
	}
	if dialer.Dials() != 0 {
		t.Errorf("dials = %d, want 0 after token failure", dialer.Dials())
	}
	if clock.Pending() != 0 {
		t.Error("reconnect scheduled after token failure, want none")
	}
}

func TestDialFailure_SchedulesReconnect(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("refused")}
	clock := &fakeClock{}
	s := NewStream(Config{
		Endpoint: "wss://agent.example.com/stream",
		Tokens:   &fakeTokens{token: "jwt"},
		Dialer:   dialer,
		Clock:    clock,
	})
	defer s.Close()

	s.SetReady(true)
	waitFor(t, "reconnect timer", func() bool { return clock.Pending() == 1 })

	if got := clock.PendingDelay(); got != ReconnectDelay {
		t.Errorf("reconnect delay = %v, want %v", got, ReconnectDelay)
	}
}

func TestClose_SchedulesExactlyOneReconnect(t *testing.T) {
	s, dialer, clock := newTestStream(t)

	s.SetReady(true)
	waitFor(t, "open", func() bool { return s.State() == StateOpen })

	dialer.Server().Close() // abnormal remote closure
	waitFor(t, "closed", func() bool { return s.State() == StateClosed })
	waitFor(t, "reconnect timer", func() bool { return clock.Pending() == 1 })

	if got := clock.PendingDelay(); got != ReconnectDelay {
		t.Errorf("reconnect delay = %v, want %v", got, ReconnectDelay)
	}
	if dialer.Dials() != 1 {
		t.Errorf("dials = %d before timer fires, want 1", dialer.Dials())
	}

	clock.Advance(ReconnectDelay)
	waitFor(t, "redial", func() bool { return dialer.Dials() == 2 && s.State() == StateOpen })

	if clock.Pending() != 0 {
		t.Errorf("pending timers = %d after successful reconnect, want 0", clock.Pending())
	}
}

func TestReconnect_CancelledWhenPreconditionsDrop(t *testing.T) {
	s, dialer, clock := newTestStream(t)

	s.SetReady(true)
	waitFor(t, "open", func() bool { return s.State() == StateOpen })

	dialer.Server().Close()
	waitFor(t, "reconnect timer", func() bool { return clock.Pending() == 1 })

	s.SetReady(false) // preconditions drop before the timer fires
	if clock.Pending() != 0 {
		t.Fatal("timer still armed after preconditions dropped")
	}

	clock.Advance(ReconnectDelay)
	time.Sleep(10 * time.Millisecond)
	if dialer.Dials() != 1 {
		t.Errorf("dials = %d, want 1 (cancelled reconnect must not execute)", dialer.Dials())
	}
}

func TestTeardown_ClosesOpenSocket(t *testing.T) {
	s, dialer, clock := newTestStream(t)

	s.SetReady(true)
	waitFor(t, "open", func() bool { return s.State() == StateOpen })

	server := dialer.Server()
	s.SetReady(false)

	if s.State() != StateClosed {
		t.Errorf("state = %v, want closed", s.State())
	}
	// The server end observes the closure.
	server.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := wsutil.ReadClientText(server); err == nil {
		t.Error("server read succeeded, want closed connection")
	}
	if clock.Pending() != 0 {
		t.Error("reconnect scheduled on explicit teardown")
	}
}

func TestSend(t *testing.T) {
	s, dialer, _ := newTestStream(t)

	s.SetReady(true)
	waitFor(t, "open", func() bool { return s.State() == StateOpen })
	server := dialer.Server()

	frames := make(chan []byte, 4)
	go func() {
		for {
			data, err := wsutil.ReadClientText(server)
			if err != nil {
				return
			}
			frames <- data
		}
	}()

	s.SetInput("hello agent")
	if err := s.Send(); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if s.Input() != "" {
		t.Errorf("input = %q after send, want cleared", s.Input())
	}
	if !s.Processing() {
		t.Error("Processing = false after send, want true")
	}

	select {
	case data := <-frames:
		var f outboundFrame
		if err := json.Unmarshal(data, &f); err != nil || f.Message != "hello agent" {
			t.Errorf("frame = %s (err %v)", data, err)
		}
	case <-time.After(time.Second):
		t.Fatal("no frame reached the server")
	}

	// A second send while the first is outstanding is a no-op.
	s.SetInput("queued")
	if err := s.Send(); !errors.Is(err, ErrNotReady) {
		t.Errorf("Send() while processing = %v, want ErrNotReady", err)
	}
	if s.Input() != "queued" {
		t.Errorf("input = %q, want untouched after rejected send", s.Input())
	}

	// The agent response clears processing and marks streaming.
	if err := wsutil.WriteServerText(server, []byte(`{"message":"hi there"}`)); err != nil {
		t.Fatalf("server write: %v", err)
	}
	waitFor(t, "processed", func() bool { return !s.Processing() })
	if !s.Streaming() {
		t.Error("Streaming = false after parsed frame, want true")
	}
}

func TestSend_RejectedWhileClosed(t *testing.T) {
	s, _, _ := newTestStream(t)

	s.SetInput("draft")
	if err := s.Send(); !errors.Is(err, ErrNotReady) {
		t.Errorf("Send() while closed = %v, want ErrNotReady", err)
	}
	if s.Input() != "draft" {
		t.Errorf("input = %q, want untouched", s.Input())
	}
}

func TestUnparseableFrame_SuppressesStreamingFlag(t *testing.T) {
	s, dialer, _ := newTestStream(t)

	s.SetReady(true)
	waitFor(t, "open", func() bool { return s.State() == StateOpen })
	server := dialer.Server()
	drainServer(server)

	s.SetInput("ping")
	if err := s.Send(); err != nil {
		t.Fatalf("Send() error: %v", err)
	}

	if err := wsutil.WriteServerText(server, []byte("not json at all")); err != nil {
		t.Fatalf("server write: %v", err)
	}
	waitFor(t, "processed", func() bool { return !s.Processing() })
	if s.Streaming() {
		t.Error("Streaming = true after unparseable frame, want suppressed")
	}
}

func TestInboundMessage_ReachesTranscriptAndHandler(t *testing.T) {
	dialer := &fakeDialer{}
	var handled []string
	var mu sync.Mutex
	s := NewStream(Config{
		Endpoint: "wss://agent.example.com/stream",
		Tokens:   &fakeTokens{token: "jwt"},
		Dialer:   dialer,
		Clock:    &fakeClock{},
		OnFrame: func(raw json.RawMessage) {
			mu.Lock()
			handled = append(handled, string(raw))
			mu.Unlock()
		},
	})
	defer s.Close()

	s.SetReady(true)
	waitFor(t, "open", func() bool { return s.State() == StateOpen })

	if err := wsutil.WriteServerText(dialer.Server(), []byte(`{"message":"welcome"}`)); err != nil {
		t.Fatalf("server write: %v", err)
	}
	waitFor(t, "handler", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 1
	})

	msgs := s.Transcript().Messages()
	if len(msgs) != 1 || msgs[0].Role != "agent" || msgs[0].Body != "welcome" {
		t.Errorf("transcript = %+v", msgs)
	}
}
