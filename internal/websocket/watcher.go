// Package websocket subscribes to gateway node channels over the node's /ws
// endpoint.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/PentesterFlow/nodeprobe/internal/errors"
	"github.com/PentesterFlow/nodeprobe/internal/logger"
)

// Path is the websocket endpoint on a gateway node.
const Path = "/ws"

// Config configures a Watcher.
type Config struct {
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration // Zero waits forever between messages
	MaxMessages      int           // Zero means until cancelled
	Headers          map[string]string
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
	}
}

// Watcher subscribes to a channel on the first candidate node that accepts
// the connection.
type Watcher struct {
	dialer  *websocket.Dialer
	headers http.Header
	config  Config
	log     *logger.Logger
}

// NewWatcher creates a new watcher.
func NewWatcher(config Config, log *logger.Logger) *Watcher {
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultConfig().HandshakeTimeout
	}
	if log == nil {
		log = logger.Nop()
	}

	headers := make(http.Header)
	for k, v := range config.Headers {
		headers.Set(k, v)
	}

	return &Watcher{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: config.HandshakeTimeout,
		},
		headers: headers,
		config:  config,
		log:     log.WithComponent("watch"),
	}
}

// URL maps a node base URL onto its websocket endpoint.
func URL(node string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(node))
	if err != nil || parsed.Host == "" {
		return "", errors.NewNodeError(errors.Validation, node, "websocket_url", "invalid node URL", err)
	}

	switch strings.ToLower(parsed.Scheme) {
	case "ws", "http":
		parsed.Scheme = "ws"
	case "wss", "https":
		parsed.Scheme = "wss"
	default:
		return "", errors.NewNodeError(errors.Validation, node, "websocket_url", "unsupported scheme "+parsed.Scheme, nil)
	}

	parsed.Path = strings.TrimRight(parsed.Path, "/") + Path
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String(), nil
}

// Watch subscribes to channel and calls handle for every message until
// MaxMessages is reached, the context ends, or handle returns an error.
// Candidates are tried in order. In pinned mode only the first candidate is
// tried. Cancellation after subscribing is a normal end of the session.
func (w *Watcher) Watch(ctx context.Context, candidates []string, mode errors.DispatchMode, channel string, handle func(Message) error) (*Session, error) {
	if channel == "" {
		return nil, errors.NewValidationError("watch", "channel is required")
	}
	if len(candidates) == 0 {
		return nil, errors.NewNoUsableNodesError("")
	}

	failure := errors.NewDispatchError(mode, "watch", len(candidates))
	tries := candidates
	if mode == errors.ModePinned {
		tries = candidates[:1]
	}

	for _, node := range tries {
		if err := ctx.Err(); err != nil {
			return nil, errors.NewCancelledError(node, "watch")
		}

		conn, session, err := w.subscribe(ctx, node, channel)
		if err != nil {
			w.log.AttemptFailed(node, "WS", Path, failure.Attempted+1, err)
			failure.Record(node, err)
			continue
		}
		w.log.WithNode(node).WithField("uid", session.UID).Info("subscribed to " + channel)
		return session, w.read(ctx, conn, session, handle)
	}

	return nil, failure
}

// subscribe connects, reads the uid greeting and sends the subscription.
func (w *Watcher) subscribe(ctx context.Context, node, channel string) (*websocket.Conn, *Session, error) {
	wsURL, err := URL(node)
	if err != nil {
		return nil, nil, err
	}

	conn, _, err := w.dialer.DialContext(ctx, wsURL, w.headers)
	if err != nil {
		return nil, nil, errors.Categorize(err, wsURL)
	}

	conn.SetReadDeadline(time.Now().Add(w.config.HandshakeTimeout))
	_, greeting, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, nil, errors.Categorize(err, wsURL)
	}

	uid := gjson.GetBytes(greeting, "uid").String()
	if uid == "" {
		conn.Close()
		return nil, nil, errors.NewNodeError(errors.Parse, wsURL, "websocket_greeting", "greeting has no uid", nil)
	}

	sub, _ := json.Marshal(map[string]string{"uid": uid, "subscribe": channel})
	conn.SetWriteDeadline(time.Now().Add(w.config.HandshakeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		conn.Close()
		return nil, nil, errors.Categorize(err, wsURL)
	}
	conn.SetWriteDeadline(time.Time{})
	conn.SetReadDeadline(time.Time{})

	return conn, &Session{
		URL:     wsURL,
		UID:     uid,
		Channel: channel,
		Started: time.Now(),
	}, nil
}

func (w *Watcher) read(ctx context.Context, conn *websocket.Conn, session *Session, handle func(Message) error) error {
	var closeOnce sync.Once
	closeConn := func() { closeOnce.Do(func() { conn.Close() }) }
	defer closeConn()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-stop:
		}
	}()

	defer func() { session.Ended = time.Now() }()

	for w.config.MaxMessages <= 0 || session.Received < w.config.MaxMessages {
		if w.config.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(w.config.ReadTimeout))
		}

		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Categorize(err, session.URL)
		}

		session.Received++
		if handle == nil {
			continue
		}
		if err := handle(parseMessage(raw)); err != nil {
			return err
		}
	}

	// Polite close after reaching the message limit.
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return nil
}

// parseMessage splits a gateway message into topic and data. Messages that
// are not JSON objects keep only Raw.
func parseMessage(raw []byte) Message {
	msg := Message{Raw: raw, Received: time.Now()}
	if !gjson.ValidBytes(raw) {
		return msg
	}
	parsed := gjson.ParseBytes(raw)
	msg.Topic = parsed.Get("topic").String()
	if data := parsed.Get("data"); data.Exists() {
		msg.Data = json.RawMessage(data.Raw)
	}
	return msg
}
