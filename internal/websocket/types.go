package websocket

import (
	"encoding/json"
	"time"
)

// Well-known gateway channels.
const (
	ChannelBlock          = "block"
	ChannelFinalizedBlock = "finalizedBlock"
)

// Message is one channel message pushed by a gateway node.
type Message struct {
	Topic    string          `json:"topic"`
	Data     json.RawMessage `json:"data,omitempty"`
	Raw      []byte          `json:"-"`
	Received time.Time       `json:"received"`
}

// Session describes one subscription.
type Session struct {
	URL      string    `json:"url"`
	UID      string    `json:"uid"`
	Channel  string    `json:"channel"`
	Started  time.Time `json:"started"`
	Ended    time.Time `json:"ended,omitempty"`
	Received int       `json:"received"`
}
