// internal/transport/polling.go
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/casusgame/casus/internal/protocol"
)

// pollConn is the fallback leg: commands go out as individual POSTs, inbound
// events arrive in batches from a long-poll GET. The long poll itself is the
// liveness signal on this leg, so its timeout tracks the transport heartbeat.
type pollConn struct {
	d        *Dialer
	clientID string
	httpc    *http.Client
	log      *logrus.Logger

	buf    []protocol.Frame
	closed chan struct{}
}

// dialPolling verifies the polling endpoint answers before handing the leg out.
func (d *Dialer) dialPolling(ctx context.Context, clientID string) (*pollConn, error) {
	pc := &pollConn{
		d:        d,
		clientID: clientID,
		httpc:    &http.Client{Timeout: heartbeatTimeout + 5*time.Second},
		log:      d.log,
		closed:   make(chan struct{}),
	}

	// An opening poll with a short deadline doubles as the reachability check.
	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, d.httpURL("/poll", clientID)+"&open=1", nil)
	if err != nil {
		return nil, fmt.Errorf("build open request: %w", err)
	}
	resp, err := pc.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("polling open: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("polling open: unexpected status %s", resp.Status)
	}
	frames, err := decodeFrames(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("polling open: %w", err)
	}
	pc.buf = frames
	return pc, nil
}

func (pc *pollConn) Send(ctx context.Context, f protocol.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, pc.d.httpURL("/emit", pc.clientID), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build emit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := pc.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("polling emit: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polling emit: unexpected status %s", resp.Status)
	}
	return nil
}

// Receive pops a buffered frame or blocks on the next long poll.
func (pc *pollConn) Receive(ctx context.Context) (protocol.Frame, error) {
	for {
		if len(pc.buf) > 0 {
			f := pc.buf[0]
			pc.buf = pc.buf[1:]
			return f, nil
		}
		select {
		case <-pc.closed:
			return protocol.Frame{}, fmt.Errorf("polling connection closed")
		default:
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pc.d.httpURL("/poll", pc.clientID), nil)
		if err != nil {
			return protocol.Frame{}, fmt.Errorf("build poll request: %w", err)
		}
		resp, err := pc.httpc.Do(req)
		if err != nil {
			return protocol.Frame{}, fmt.Errorf("long poll: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return protocol.Frame{}, fmt.Errorf("long poll: unexpected status %s", resp.Status)
		}
		frames, err := decodeFrames(resp.Body)
		resp.Body.Close()
		if err != nil {
			return protocol.Frame{}, fmt.Errorf("long poll: %w", err)
		}
		pc.buf = frames
		// An empty batch is a poll cycle expiring; go straight back around.
	}
}

func (pc *pollConn) Close() error {
	select {
	case <-pc.closed:
	default:
		close(pc.closed)
	}
	return nil
}

func (pc *pollConn) Kind() string { return "polling" }

func decodeFrames(r io.Reader) ([]protocol.Frame, error) {
	var frames []protocol.Frame
	if err := json.NewDecoder(r).Decode(&frames); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("decode frames: %w", err)
	}
	return frames, nil
}
