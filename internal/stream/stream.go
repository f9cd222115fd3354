// Package stream maintains the single logical duplex connection to the agent
// messaging endpoint. It owns exactly one socket and one reconnect timer at a
// time: the connection starts only while the composite session precondition
// holds, abnormal closure schedules exactly one reconnect after a fixed
// delay, and the preconditions dropping tears everything down synchronously.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/pocketsol/app-core/internal/metrics"
)

const (
	// ReconnectDelay is the fixed wait before a single reconnect attempt
	// after an abnormal closure.
	ReconnectDelay = 2000 * time.Millisecond

	// dialTimeout bounds the token fetch plus WebSocket dial.
	dialTimeout = 10 * time.Second
)

// ErrNotReady is returned by Send when the socket is not open or a prior
// send is still awaiting its response. The message is not queued.
var ErrNotReady = errors.New("stream: not ready to send")

// ConnState is the connection lifecycle state.
type ConnState int

const (
	StateClosed ConnState = iota
	StateConnecting
	StateOpen
	StateClosing
)

// String returns the lowercase state name.
func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// TokenSource mints a fresh bearer token for each connection attempt.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// Dialer opens the WebSocket connection. Tests substitute a pipe.
type Dialer interface {
	Dial(ctx context.Context, url string) (net.Conn, error)
}

type gobwasDialer struct{}

func (gobwasDialer) Dial(ctx context.Context, u string) (net.Conn, error) {
	conn, _, _, err := ws.Dial(ctx, u)
	return conn, err
}

// outboundFrame is the wire format for sends.
type outboundFrame struct {
	Message string `json:"message"`
}

// Config holds Stream construction parameters. Endpoint and Tokens are
// required; the rest default to production implementations.
type Config struct {
	Endpoint       string // wss URL of the agent messaging endpoint
	Tokens         TokenSource
	Dialer         Dialer
	Clock          Clock
	TranscriptSize int
	OnFrame        func(json.RawMessage) // invoked for each parsed inbound frame
}

// Stream is the reconnecting event stream. All mutable state is guarded by
// one mutex; the socket handle and the reconnect timer are owned exclusively
// and all control passes through SetReady.
type Stream struct {
	endpoint   string
	tokens     TokenSource
	dialer     Dialer
	clock      Clock
	transcript *Transcript
	onFrame    func(json.RawMessage)

	mu           sync.Mutex
	state        ConnState
	conn         net.Conn
	reconnect    Timer
	gen          uint64 // connection generation; bumps invalidate in-flight work
	ready        bool   // composite preconditions currently hold
	processing   bool   // a send is awaiting its response
	streaming    bool   // last inbound frame parsed (UI auto-scroll hint)
	input        string // pending outbound text
	transportErr string // recoverable transport error, "" when clear
}

// NewStream creates a Stream from the config.
func NewStream(config Config) *Stream {
	s := &Stream{
		endpoint:   config.Endpoint,
		tokens:     config.Tokens,
		dialer:     config.Dialer,
		clock:      config.Clock,
		transcript: NewTranscript(config.TranscriptSize),
		onFrame:    config.OnFrame,
	}
	if s.dialer == nil {
		s.dialer = gobwasDialer{}
	}
	if s.clock == nil {
		s.clock = realClock{}
	}
	return s
}

// SetReady feeds the composite precondition. Becoming true starts a
// connection if none exists; becoming false synchronously cancels any
// pending reconnect timer and closes any open socket.
func (s *Stream) SetReady(ready bool) {
	s.mu.Lock()
	was := s.ready
	s.ready = ready
	if !ready {
		if was {
			s.teardownLocked()
		}
		s.mu.Unlock()
		return
	}
	start := s.state == StateClosed && s.reconnect == nil
	s.mu.Unlock()

	if start {
		go s.connect()
	}
}

// Close tears the stream down regardless of preconditions. Idempotent.
func (s *Stream) Close() {
	s.mu.Lock()
	s.ready = false
	s.teardownLocked()
	s.mu.Unlock()
}

// State returns the current connection state.
func (s *Stream) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Processing reports whether a send is awaiting its response.
func (s *Stream) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

// Streaming reports whether the last inbound frame parsed cleanly (the UI
// uses this to auto-scroll).
func (s *Stream) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streaming
}

// TransportError returns the recoverable transport error message, or "".
func (s *Stream) TransportError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transportErr
}

// ClearTransportError dismisses the transport error banner.
func (s *Stream) ClearTransportError() {
	s.mu.Lock()
	s.transportErr = ""
	s.mu.Unlock()
}

// Transcript returns the retained message transcript.
func (s *Stream) Transcript() *Transcript {
	return s.transcript
}

// SetInput replaces the pending outbound text.
func (s *Stream) SetInput(text string) {
	s.mu.Lock()
	s.input = text
	s.mu.Unlock()
}

// Input returns the pending outbound text.
func (s *Stream) Input() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

// Send transmits the pending input as a {message} frame. It is rejected with
// ErrNotReady — leaving the input untouched — unless the socket is open and
// no prior send is outstanding. A successful send clears the input and
// resets the processed/streaming flags.
func (s *Stream) Send() error {
	s.mu.Lock()
	if s.state != StateOpen || s.processing {
		s.mu.Unlock()
		return ErrNotReady
	}
	text := s.input
	conn := s.conn
	s.processing = true
	s.streaming = false
	s.input = ""
	s.mu.Unlock()

	data, err := json.Marshal(outboundFrame{Message: text})
	if err != nil {
		return fmt.Errorf("stream: marshal: %w", err)
	}

	s.transcript.Add(Message{Role: "user", Body: text, Ts: time.Now().Unix()})
	metrics.StreamMessages.WithLabelValues("out").Inc()

	if err := wsutil.WriteClientMessage(conn, ws.OpText, data); err != nil {
		// The read loop observes the broken socket and runs the close path.
		return fmt.Errorf("stream: send: %w", err)
	}
	return nil
}

// connect performs one Closed -> Connecting -> Open transition: fetch a
// fresh token, dial with it as a query credential, and hand the socket to
// the read loop. Late results are discarded via the generation counter.
func (s *Stream) connect() {
	s.mu.Lock()
	if !s.ready || s.state != StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateConnecting
	s.gen++
	myGen := s.gen
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	token, err := s.tokens.AccessToken(ctx)
	if err != nil {
		log.Printf("[stream] token fetch failed: %v", err)
		s.mu.Lock()
		if s.gen == myGen {
			// Token failure blocks the connection outright: surface the
			// error and remain Closed with no reconnect.
			s.state = StateClosed
			s.transportErr = "could not authorize the connection"
		}
		s.mu.Unlock()
		return
	}

	conn, err := s.dialer.Dial(ctx, s.dialURL(token))
	if err != nil {
		log.Printf("[stream] dial failed: %v", err)
		s.mu.Lock()
		if s.gen == myGen {
			s.state = StateClosed
			if s.ready {
				s.transportErr = "connection failed"
				s.scheduleReconnectLocked()
			}
		}
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	if s.gen != myGen || !s.ready {
		s.mu.Unlock()
		conn.Close() // superseded while dialing
		return
	}
	s.conn = conn
	s.state = StateOpen
	s.transportErr = ""
	s.mu.Unlock()

	log.Printf("[stream] connected")
	go s.readLoop(conn, myGen)
}

// readLoop reads frames until the socket errors or closes, then runs the
// close path exactly once for its generation.
func (s *Stream) readLoop(conn net.Conn, myGen uint64) {
	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			s.closed(myGen, err)
			return
		}
		s.handleFrame(data)
	}
}

// handleFrame marks the outstanding request processed. Frames that parse as
// JSON set the streaming flag and reach the transcript and frame handler;
// unparseable frames only clear the processing flag.
func (s *Stream) handleFrame(data []byte) {
	metrics.StreamMessages.WithLabelValues("in").Inc()

	var frame struct {
		Message string `json:"message"`
	}
	parsed := json.Unmarshal(data, &frame) == nil

	s.mu.Lock()
	s.processing = false
	if parsed {
		s.streaming = true
	}
	s.mu.Unlock()

	if !parsed {
		log.Printf("[stream] dropping unparseable frame (%d bytes)", len(data))
		return
	}
	if frame.Message != "" {
		s.transcript.Add(Message{Role: "agent", Body: frame.Message, Ts: time.Now().Unix()})
	}
	if s.onFrame != nil {
		s.onFrame(json.RawMessage(data))
	}
}

// closed handles socket termination for a specific generation: clear
// in-flight state and, while preconditions still hold, schedule exactly one
// reconnect. A stale generation means teardown already ran.
func (s *Stream) closed(myGen uint64, cause error) {
	s.mu.Lock()
	if s.gen != myGen {
		s.mu.Unlock()
		return
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.state = StateClosed
	s.processing = false
	s.streaming = false
	if s.ready {
		s.transportErr = "connection lost"
		s.scheduleReconnectLocked()
	}
	s.mu.Unlock()

	log.Printf("[stream] closed: %v", cause)
}

// scheduleReconnectLocked arms the single reconnect timer, cancelling any
// previously scheduled one first. Caller holds s.mu.
func (s *Stream) scheduleReconnectLocked() {
	if s.reconnect != nil {
		s.reconnect.Stop()
	}
	metrics.StreamReconnects.Inc()
	s.reconnect = s.clock.AfterFunc(ReconnectDelay, func() {
		s.mu.Lock()
		s.reconnect = nil
		retry := s.ready && s.state == StateClosed
		s.mu.Unlock()
		if retry {
			s.connect()
		}
	})
}

// teardownLocked cancels the reconnect timer, invalidates in-flight work and
// closes any open socket. Caller holds s.mu. Idempotent.
func (s *Stream) teardownLocked() {
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	s.gen++
	if s.conn != nil {
		s.state = StateClosing
		s.conn.Close()
		s.conn = nil
	}
	s.state = StateClosed
	s.processing = false
	s.streaming = false
}

// dialURL appends the bearer token as the query credential.
func (s *Stream) dialURL(token string) string {
	sep := "?"
	if strings.Contains(s.endpoint, "?") {
		sep = "&"
	}
	return s.endpoint + sep + "token=" + url.QueryEscape(token)
}
