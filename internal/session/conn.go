// internal/session/conn.go
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/casusgame/casus/internal/game"
	"github.com/casusgame/casus/internal/protocol"
	"github.com/casusgame/casus/internal/transport"
)

// Dialer abstracts transport.Dialer so tests can script connections.
type Dialer interface {
	Dial(ctx context.Context, clientID string) (transport.Conn, error)
}

// ConnectionManager owns the transport session: connect and reconnect policy,
// the application keep-alive, and visibility-triggered recovery. Every method
// runs on the session loop; goroutines it spawns (dial, read pump, writer,
// heartbeat) only ever re-enter through s.post.
type ConnectionManager struct {
	s        *Session
	log      *logrus.Logger
	clock    clockwork.Clock
	dialer   Dialer
	clientID string

	state      ConnectionState
	conn       transport.Conn
	connecting bool
	gaveUp     bool

	// connEpoch distinguishes the current physical connection from stale
	// goroutines of an earlier one.
	connEpoch int

	outCh          chan protocol.Frame
	heartbeatStop  chan struct{}
	reconnectTimer clockwork.Timer
}

func newConnectionManager(s *Session, dialer Dialer, clientID string) *ConnectionManager {
	return &ConnectionManager{
		s:        s,
		log:      s.log,
		clock:    s.clock,
		dialer:   dialer,
		clientID: clientID,
	}
}

// State returns a copy of the connection state for the host's indicator.
func (cm *ConnectionManager) State() ConnectionState {
	return cm.state
}

// Connect establishes the transport. Idempotent while already connected, and
// a no-op while a dial is already outstanding: attempts are serialized.
func (cm *ConnectionManager) Connect() {
	if cm.state.Connected || cm.connecting || cm.gaveUp {
		return
	}
	cm.connecting = true
	epoch := cm.connEpoch

	go func() {
		dialCtx, cancel := context.WithTimeout(cm.s.ctx, 30*time.Second)
		conn, err := cm.dialer.Dial(dialCtx, cm.clientID)
		cancel()
		cm.s.post(func() {
			if epoch != cm.connEpoch {
				if conn != nil {
					conn.Close()
				}
				return
			}
			cm.connecting = false
			if err != nil {
				cm.log.Warnf("conn: dial failed: %v", err)
				cm.scheduleReconnect()
				return
			}
			cm.handleConnected(conn)
		})
	}()
}

// handleConnected is the single onConnect path: it fires exactly once per
// successful (re)establishment.
func (cm *ConnectionManager) handleConnected(conn transport.Conn) {
	cm.connEpoch++
	epoch := cm.connEpoch
	cm.conn = conn
	cm.state.Connected = true
	cm.state.Reconnecting = false
	cm.state.ReconnectAttempts = 0
	cm.gaveUp = false
	cm.cancelReconnectTimer()

	cm.log.WithFields(logrus.Fields{
		"room":      cm.s.roomID,
		"transport": conn.Kind(),
	}).Info("conn: connected")

	cm.outCh = make(chan protocol.Frame, 32)
	go cm.writePump(conn, cm.outCh)
	go cm.readPump(conn, epoch)

	cm.startHeartbeat()

	// A reconnect after a noticeable outage deserves a cheer.
	if !cm.state.LastDisconnect.IsZero() {
		if cm.clock.Since(cm.state.LastDisconnect) > 2*time.Second {
			cm.s.notify(game.NotifySuccess, "Connection restored!")
		}
		cm.state.LastDisconnect = time.Time{}
	}
	cm.s.ui.ConnectionChanged(cm.state)

	cm.s.resumeOrRedirect()
}

// readPump feeds inbound frames into the session loop in arrival order.
func (cm *ConnectionManager) readPump(conn transport.Conn, epoch int) {
	for {
		f, err := conn.Receive(cm.s.ctx)
		if err != nil {
			reason, transient := classifyDisconnect(err)
			cm.s.post(func() {
				if epoch != cm.connEpoch || !cm.state.Connected {
					return
				}
				cm.handleDisconnect(reason, transient)
			})
			return
		}
		cm.s.post(func() {
			if epoch != cm.connEpoch {
				return
			}
			cm.s.handleFrame(f)
		})
	}
}

// writePump serializes outbound frames for one physical connection.
func (cm *ConnectionManager) writePump(conn transport.Conn, out <-chan protocol.Frame) {
	for f := range out {
		ctx, cancel := context.WithTimeout(cm.s.ctx, 10*time.Second)
		err := conn.Send(ctx, f)
		cancel()
		if err != nil {
			cm.log.Warnf("conn: send %s failed: %v", f.Event, err)
			// The read pump notices the broken link and runs the disconnect path.
		}
	}
}

// Send queues a command frame. Dropped with a warning while disconnected; the
// server rebuilds client state on resume anyway.
func (cm *ConnectionManager) Send(event string, payload interface{}) {
	if !cm.state.Connected || cm.outCh == nil {
		cm.log.Warnf("conn: dropping %s while disconnected", event)
		return
	}
	f, err := protocol.NewFrame(event, payload)
	if err != nil {
		cm.log.Errorf("conn: %v", err)
		return
	}
	select {
	case cm.outCh <- f:
	default:
		cm.log.Warnf("conn: outbound queue full, dropping %s", event)
	}
}

// handleDisconnect records the outage, persists the resumable session, tells
// the user what happened, and arms the reconnection policy.
func (cm *ConnectionManager) handleDisconnect(reason string, transient bool) {
	cm.log.WithFields(logrus.Fields{"room": cm.s.roomID, "reason": reason}).Warn("conn: disconnected")

	cm.state.Connected = false
	cm.state.LastDisconnect = cm.clock.Now()
	cm.conn = nil
	cm.connEpoch++
	if cm.outCh != nil {
		close(cm.outCh)
		cm.outCh = nil
	}
	cm.stopHeartbeat()

	cm.s.saveSnapshot()

	if transient {
		cm.s.notify(game.NotifyWarning, "Connection lost. Reconnecting...")
	} else {
		cm.s.notify(game.NotifyError, "Server connection lost!")
	}
	cm.s.ui.ConnectionChanged(cm.state)

	cm.scheduleReconnect()
}

// scheduleReconnect arms the next bounded-backoff attempt, or gives up once
// the cap is exceeded. Giving up schedules a full reload after a fixed delay;
// that reload is the only self-reload path in the client.
func (cm *ConnectionManager) scheduleReconnect() {
	if cm.gaveUp || cm.state.Connected || cm.connecting {
		return
	}
	if cm.state.ReconnectAttempts >= cm.s.cfg.MaxReconnects {
		cm.gaveUp = true
		cm.state.Reconnecting = false
		cm.log.Errorf("conn: giving up after %d attempts", cm.state.ReconnectAttempts)
		cm.s.notify(game.NotifyError, "Could not reconnect. Reloading the page.")
		cm.s.ui.ConnectionChanged(cm.state)
		cm.clock.AfterFunc(cm.s.cfg.GiveUpReloadIn, func() {
			cm.s.post(cm.s.nav.Reload)
		})
		return
	}

	cm.state.Reconnecting = true
	delay := cm.backoffDelay(cm.state.ReconnectAttempts)
	cm.cancelReconnectTimer()
	cm.reconnectTimer = cm.clock.AfterFunc(delay, func() {
		cm.s.post(cm.attemptReconnect)
	})
}

// attemptReconnect is one observable, counted attempt.
func (cm *ConnectionManager) attemptReconnect() {
	if cm.state.Connected || cm.connecting || cm.gaveUp {
		return
	}
	cm.state.ReconnectAttempts++
	cm.log.Infof("conn: reconnect attempt %d/%d", cm.state.ReconnectAttempts, cm.s.cfg.MaxReconnects)
	if cm.state.ReconnectAttempts <= 3 {
		cm.s.notify(game.NotifyInfo, fmt.Sprintf("Reconnecting... (%d/%d)", cm.state.ReconnectAttempts, cm.s.cfg.MaxReconnects))
	}
	cm.s.ui.ConnectionChanged(cm.state)
	cm.Connect()
}

// backoffDelay doubles from the floor per completed attempt, capped at the
// ceiling: 2s, 4s, 8s, 10s, 10s, ...
func (cm *ConnectionManager) backoffDelay(attempts int) time.Duration {
	delay := cm.s.cfg.ReconnectFloor
	for i := 0; i < attempts && delay < cm.s.cfg.ReconnectCeil; i++ {
		delay *= 2
	}
	if delay > cm.s.cfg.ReconnectCeil {
		delay = cm.s.cfg.ReconnectCeil
	}
	return delay
}

func (cm *ConnectionManager) cancelReconnectTimer() {
	if cm.reconnectTimer != nil {
		cm.reconnectTimer.Stop()
		cm.reconnectTimer = nil
	}
}

// startHeartbeat arms the 45s application keep-alive. Starting while already
// running clears the existing timer first, so at most one heartbeat exists.
func (cm *ConnectionManager) startHeartbeat() {
	cm.stopHeartbeat()
	stop := make(chan struct{})
	cm.heartbeatStop = stop

	ticker := cm.clock.NewTicker(cm.s.cfg.KeepAliveInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.Chan():
				cm.s.post(func() {
					if cm.heartbeatStop != stop || !cm.state.Connected {
						return
					}
					cm.Send(protocol.CmdPing, protocol.Ping{RoomID: cm.s.roomID})
					cm.log.Debug("conn: keep-alive ping sent")
				})
			}
		}
	}()
}

// stopHeartbeat halts the keep-alive immediately.
func (cm *ConnectionManager) stopHeartbeat() {
	if cm.heartbeatStop != nil {
		close(cm.heartbeatStop)
		cm.heartbeatStop = nil
	}
}

// HandleVisibilityChange is the host's foreground/background signal. Regaining
// the foreground while disconnected and not already reconnecting triggers an
// immediate connect; backgrounding never tears anything down, because the
// dominant failure mode is a phone locking its screen for minutes.
func (cm *ConnectionManager) HandleVisibilityChange(visible bool) {
	if !visible {
		cm.log.Debug("conn: backgrounded, keeping session alive")
		return
	}
	if !cm.state.Connected && !cm.state.Reconnecting {
		cm.log.Info("conn: foregrounded while disconnected, reconnecting")
		cm.s.notify(game.NotifyInfo, "Reconnecting...")
		cm.Connect()
	}
}

// shutdown closes the transport without arming reconnection.
func (cm *ConnectionManager) shutdown() {
	cm.gaveUp = true
	cm.cancelReconnectTimer()
	cm.stopHeartbeat()
	cm.connEpoch++
	if cm.outCh != nil {
		close(cm.outCh)
		cm.outCh = nil
	}
	if cm.conn != nil {
		cm.conn.Close()
		cm.conn = nil
	}
	cm.state.Connected = false
	cm.state.Reconnecting = false
}

// classifyDisconnect sorts a read error into the two disconnect flavors:
// transport-level losses present as a transient recovering state, anything
// else as a hard failure. Both still run the same reconnection policy.
func classifyDisconnect(err error) (reason string, transient bool) {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		return "ping timeout", true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return "transport close", true
	case errors.Is(err, context.DeadlineExceeded):
		return "ping timeout", true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return "server disconnect", false
	case -1:
		// No close frame: the link dropped out from under us.
		if strings.Contains(err.Error(), "context canceled") {
			return "client shutdown", false
		}
		return "transport close", true
	default:
		return "server disconnect", false
	}
}
