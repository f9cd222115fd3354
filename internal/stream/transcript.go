package stream

import "sync"

// DefaultTranscriptSize is the number of recent messages retained for the UI.
const DefaultTranscriptSize = 50

// Message is one transcript entry.
type Message struct {
	Role string `json:"role"` // "user" or "agent"
	Body string `json:"body"`
	Ts   int64  `json:"ts"`
}

// Transcript stores the last N messages of the agent conversation in memory.
// It is goroutine-safe and uses a ring buffer internally.
type Transcript struct {
	mu    sync.RWMutex
	items []Message
	pos   int
	count int
}

// NewTranscript creates a transcript retaining up to size messages.
func NewTranscript(size int) *Transcript {
	if size <= 0 {
		size = DefaultTranscriptSize
	}
	return &Transcript{items: make([]Message, size)}
}

// Add appends a message. If the buffer is full, the oldest is overwritten.
func (t *Transcript) Add(msg Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.items[t.pos] = msg
	t.pos = (t.pos + 1) % len(t.items)
	if t.count < len(t.items) {
		t.count++
	}
}

// Messages returns the retained messages in chronological order (oldest
// first).
func (t *Transcript) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]Message, t.count)
	start := (t.pos - t.count + len(t.items)) % len(t.items)
	for i := 0; i < t.count; i++ {
		result[i] = t.items[(start+i)%len(t.items)]
	}
	return result
}

// Clear drops all retained messages.
func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pos = 0
	t.count = 0
}
