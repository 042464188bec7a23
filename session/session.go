// Package session implements the longboy handshake: a short-lived websocket
// exchange that hands a newly admitted peer its session id, shared cipher
// key, and the (size, window) parameters it must use for every proto.Sender
// / proto.Receiver it constructs afterward. The datagram traffic itself
// never touches this connection — mirror.Socket and mirror.Listener carry
// that over plain UDP once the handshake completes.
package session

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Envelope is the single message exchanged during handshake. The server
// sends it once the client's connection is accepted; the client reads
// exactly one and then closes the websocket, since the protocol itself now
// carries everything else.
type Envelope struct {
	SessionID uint64 `json:"session_id"`
	CipherKey uint64 `json:"cipher_key"`
	Size      int    `json:"size"`
	Window    int    `json:"window"`
}

// ServerHandshake writes envelope to conn and does nothing else; the caller
// owns closing conn afterward.
func ServerHandshake(ctx context.Context, conn *websocket.Conn, envelope Envelope) error {
	if err := wsjson.Write(ctx, conn, envelope); err != nil {
		return fmt.Errorf("session: handshake write: %w", err)
	}
	return nil
}

// ClientHandshake reads the server's Envelope from conn.
func ClientHandshake(ctx context.Context, conn *websocket.Conn) (Envelope, error) {
	var envelope Envelope
	if err := wsjson.Read(ctx, conn, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("session: handshake read: %w", err)
	}
	return envelope, nil
}

// DialAndHandshake dials url and performs the client side of the handshake
// in one step, closing the websocket before returning — only the Envelope
// survives; the UDP mirror paths take over from there.
func DialAndHandshake(ctx context.Context, url string) (Envelope, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return Envelope{}, fmt.Errorf("session: dial: %w", err)
	}
	defer conn.CloseNow()

	envelope, err := ClientHandshake(ctx, conn)
	if err != nil {
		return Envelope{}, err
	}
	_ = conn.Close(websocket.StatusNormalClosure, "handshake complete")
	return envelope, nil
}

// Connector performs one connect attempt; it blocks for the lifetime of
// that attempt and returns when the connection ends.
type Connector func(ctx context.Context) error

// RunWithRetry retries connect forever with a fixed backoff until ctx is
// cancelled, logging each disconnect. Grounded on the feeder's own
// reconnect loop (exchanges.RunConnectionLoop / binance.Feeder.Run) —
// same backoff-and-retry shape, generalized to any named Connector.
func RunWithRetry(ctx context.Context, name string, backoff time.Duration, connect Connector, logf func(format string, args ...any)) error {
	for {
		if err := connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if logf != nil {
				logf("session: %s disconnected (%v), reconnecting in %s...", name, err, backoff)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// Session is an admitted peer's state for the lifetime of its datagram
// traffic, created once the handshake Envelope is known. It is safe for
// concurrent use: LastSeen is touched from the datagram send/receive loops
// while the heartbeat Sweeper reads it from its own goroutine.
type Session struct {
	ID         uint64
	CipherKey  uint64
	Size       int
	Window     int
	RemoteAddr net.Addr

	lastSeen atomic.Int64 // unix nanoseconds
}

// New constructs a Session from a completed handshake Envelope.
func New(remote net.Addr, envelope Envelope) *Session {
	s := &Session{
		ID:         envelope.SessionID,
		CipherKey:  envelope.CipherKey,
		Size:       envelope.Size,
		Window:     envelope.Window,
		RemoteAddr: remote,
	}
	s.Touch(time.Now())
	return s
}

// Touch records now as the last time this session was heard from (a
// heartbeat probe or a delivered datagram, at the caller's discretion).
func (s *Session) Touch(now time.Time) {
	s.lastSeen.Store(now.UnixNano())
}

// LastSeen returns the last time Touch was called.
func (s *Session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// Idle reports whether this session has not been touched within d.
func (s *Session) Idle(now time.Time, d time.Duration) bool {
	return now.Sub(s.LastSeen()) > d
}
