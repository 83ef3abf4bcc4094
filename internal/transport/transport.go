// internal/transport/transport.go
//
// The session rides a single logical event channel that is negotiated as
// upgrade-capable: a fresh client starts on HTTP long-polling, probes for a
// websocket in the background, and hands the session over once the streaming
// leg is confirmed. The successful upgrade is remembered so later reconnects
// dial the websocket directly, which matters when the same mobile client
// reconnects every few minutes.
package transport

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/casusgame/casus/internal/protocol"
)

// Transport-level liveness, independent of the application's 45s keep-alive.
const (
	heartbeatInterval = 60 * time.Second
	heartbeatTimeout  = 120 * time.Second
)

// Conn is one established leg (or negotiated pair of legs) of the event
// channel. Receive blocks until a frame arrives, the context ends, or the
// connection dies; the first error is terminal for the Conn.
type Conn interface {
	Send(ctx context.Context, f protocol.Frame) error
	Receive(ctx context.Context) (protocol.Frame, error)
	Close() error
	Kind() string
}

// Dialer establishes connections against a server base URL and remembers a
// confirmed websocket upgrade across dials.
type Dialer struct {
	base *url.URL
	log  *logrus.Logger

	mu       sync.Mutex
	upgraded bool
}

// NewDialer parses the server base URL, e.g. "http://host:5000".
func NewDialer(baseURL string, log *logrus.Logger) (*Dialer, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", baseURL)
	}
	return &Dialer{base: u, log: log}, nil
}

// Upgraded reports whether a websocket leg has ever been confirmed.
func (d *Dialer) Upgraded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.upgraded
}

func (d *Dialer) rememberUpgrade() {
	d.mu.Lock()
	if !d.upgraded {
		d.upgraded = true
		d.log.Info("transport: websocket upgrade confirmed, remembering for future dials")
	}
	d.mu.Unlock()
}

// Dial establishes the event channel for one client session. With a
// remembered upgrade it goes straight to the websocket and only falls back to
// polling if that fails; otherwise it comes up on polling and upgrades in the
// background.
func (d *Dialer) Dial(ctx context.Context, clientID string) (Conn, error) {
	if d.Upgraded() {
		ws, err := d.dialWebSocket(ctx, clientID)
		if err == nil {
			return ws, nil
		}
		d.log.Warnf("transport: remembered websocket dial failed, falling back to polling: %v", err)
	}

	poll, err := d.dialPolling(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return newUpgradableConn(d, poll, clientID), nil
}

// wsURL rewrites the base URL for the websocket endpoint.
func (d *Dialer) wsURL(clientID string) string {
	u := *d.base
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = strings.TrimSuffix(u.Path, "/") + "/ws"
	q := u.Query()
	q.Set("client", clientID)
	u.RawQuery = q.Encode()
	return u.String()
}

// httpURL builds a polling endpoint URL.
func (d *Dialer) httpURL(path, clientID string) string {
	u := *d.base
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	q := u.Query()
	q.Set("client", clientID)
	u.RawQuery = q.Encode()
	return u.String()
}
