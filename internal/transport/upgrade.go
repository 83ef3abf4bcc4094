// internal/transport/upgrade.go
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/casusgame/casus/internal/protocol"
)

// upgradeProbeInterval paces websocket probes while the session runs on the
// polling leg.
const upgradeProbeInterval = 15 * time.Second

// upgradableConn starts on a polling leg and swaps in a websocket leg once a
// background probe confirms one. The session keeps a single Receive loop; a
// read error on a leg that was retired by the upgrade is retried on the new
// leg instead of surfacing as a disconnect.
type upgradableConn struct {
	d        *Dialer
	clientID string

	mu     sync.Mutex
	active Conn

	done chan struct{}
	once sync.Once
}

func newUpgradableConn(d *Dialer, initial Conn, clientID string) *upgradableConn {
	uc := &upgradableConn{
		d:        d,
		clientID: clientID,
		active:   initial,
		done:     make(chan struct{}),
	}
	go uc.probeLoop()
	return uc
}

// probeLoop tries to bring up the streaming leg until it succeeds or the
// connection closes.
func (uc *upgradableConn) probeLoop() {
	ticker := time.NewTicker(upgradeProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-uc.done:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		ws, err := uc.d.dialWebSocket(ctx, uc.clientID)
		cancel()
		if err != nil {
			uc.d.log.Debugf("transport: upgrade probe failed: %v", err)
			continue
		}

		uc.mu.Lock()
		old := uc.active
		uc.active = ws
		uc.mu.Unlock()
		old.Close()
		uc.d.log.Infof("transport: upgraded %s -> websocket", old.Kind())
		return
	}
}

func (uc *upgradableConn) current() Conn {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.active
}

func (uc *upgradableConn) Send(ctx context.Context, f protocol.Frame) error {
	return uc.current().Send(ctx, f)
}

// Receive reads from the active leg. A failure on a leg that has since been
// replaced by the upgrade is retried transparently on the new leg.
func (uc *upgradableConn) Receive(ctx context.Context) (protocol.Frame, error) {
	for {
		leg := uc.current()
		f, err := leg.Receive(ctx)
		if err == nil {
			return f, nil
		}
		select {
		case <-uc.done:
			return protocol.Frame{}, fmt.Errorf("connection closed")
		default:
		}
		if uc.current() != leg {
			// The failed leg was retired mid-read by the upgrade; carry on
			// with the new one.
			continue
		}
		return protocol.Frame{}, err
	}
}

func (uc *upgradableConn) Close() error {
	uc.once.Do(func() { close(uc.done) })
	return uc.current().Close()
}

func (uc *upgradableConn) Kind() string { return uc.current().Kind() }
