// internal/transport/websocket.go
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/casusgame/casus/internal/protocol"
)

// wsConn is the streaming leg. A background pinger keeps the transport-level
// heartbeat going; the library answers server pings on its own during reads.
type wsConn struct {
	c      *websocket.Conn
	log    *logrus.Logger
	cancel context.CancelFunc
}

// dialWebSocket opens the streaming leg and starts its pinger.
func (d *Dialer) dialWebSocket(ctx context.Context, clientID string) (*wsConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(dialCtx, d.wsURL(clientID), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	pingCtx, pingCancel := context.WithCancel(context.Background())
	wc := &wsConn{c: c, log: d.log, cancel: pingCancel}
	go wc.pinger(pingCtx)

	d.rememberUpgrade()
	return wc, nil
}

// pinger sends a transport ping every heartbeatInterval. A ping that cannot
// complete within the heartbeat timeout means the link is gone; closing the
// connection here surfaces the failure to the read loop.
func (wc *wsConn) pinger(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, heartbeatTimeout)
			err := wc.c.Ping(pingCtx)
			cancel()
			if err != nil {
				wc.log.Warnf("transport: websocket ping failed: %v", err)
				wc.c.Close(websocket.StatusGoingAway, "ping failed")
				return
			}
		}
	}
}

func (wc *wsConn) Send(ctx context.Context, f protocol.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := wc.c.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (wc *wsConn) Receive(ctx context.Context) (protocol.Frame, error) {
	var f protocol.Frame
	msgType, data, err := wc.c.Read(ctx)
	if err != nil {
		return f, fmt.Errorf("websocket read: %w", err)
	}
	if msgType != websocket.MessageText {
		return f, fmt.Errorf("unexpected message type %d", msgType)
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

func (wc *wsConn) Close() error {
	wc.cancel()
	return wc.c.Close(websocket.StatusNormalClosure, "client closing")
}

func (wc *wsConn) Kind() string { return "websocket" }
