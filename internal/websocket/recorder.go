package websocket

import (
	"encoding/json"
	"sync"
)

// Recorder keeps the most recent messages of a subscription and counts
// messages per topic.
type Recorder struct {
	mu       sync.RWMutex
	messages []Message
	topics   map[string]int
	total    int
	maxMsgs  int
}

// NewRecorder creates a recorder that keeps up to maxMessages messages.
func NewRecorder(maxMessages int) *Recorder {
	if maxMessages <= 0 {
		maxMessages = 1000
	}
	return &Recorder{
		topics:  make(map[string]int),
		maxMsgs: maxMessages,
	}
}

// Record stores a message, dropping the oldest one when full. Its signature
// matches the Watch handler.
func (r *Recorder) Record(msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total++
	r.topics[msg.Topic]++

	if len(r.messages) >= r.maxMsgs {
		copy(r.messages, r.messages[1:])
		r.messages = r.messages[:len(r.messages)-1]
	}
	r.messages = append(r.messages, msg)
	return nil
}

// Messages returns a copy of the kept messages, oldest first.
func (r *Recorder) Messages() []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Stats returns recorder statistics.
func (r *Recorder) Stats() RecorderStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topics := make(map[string]int, len(r.topics))
	for k, v := range r.topics {
		topics[k] = v
	}
	return RecorderStats{
		TotalMessages: r.total,
		KeptMessages:  len(r.messages),
		Topics:        topics,
	}
}

// RecorderStats contains recorder statistics.
type RecorderStats struct {
	TotalMessages int            `json:"total_messages"`
	KeptMessages  int            `json:"kept_messages"`
	Topics        map[string]int `json:"topics"`
}

// ExportJSON renders the session with its kept messages.
func (r *Recorder) ExportJSON(session *Session) ([]byte, error) {
	return json.MarshalIndent(struct {
		Session  *Session      `json:"session"`
		Stats    RecorderStats `json:"stats"`
		Messages []Message     `json:"messages"`
	}{session, r.Stats(), r.Messages()}, "", "  ")
}
