// Package mirror implements transport-level mirroring: the same datagram is
// written out several UDP sockets at once, each marked with a distinct DSCP
// codepoint, so that loss or throttling on one path (e.g. a captive-portal
// QoS policer punishing bulk traffic) doesn't take every copy down with it.
// It sits below proto — proto.Sender/Receiver never see more than one
// datagram per tick; mirror is what turns that one datagram into several
// wire transmissions and collapses the duplicates back into one inbound
// stream.
package mirror

import (
	"fmt"
	"net"
)

// Path names one of the mirrored transmission paths. Each carries the exact
// same bytes; only the outgoing DSCP marking and destination port differ.
type Path int

const (
	AudioVideo Path = iota
	Background
	Voice
)

// Paths enumerates every mirrored path, in the fixed order Socket and
// Listener use to derive per-path ports.
var Paths = [...]Path{AudioVideo, Background, Voice}

func (p Path) String() string {
	switch p {
	case AudioVideo:
		return "audio-video"
	case Background:
		return "background"
	case Voice:
		return "voice"
	default:
		return fmt.Sprintf("mirror.Path(%d)", int(p))
	}
}

// portOffset spaces the three mirrored paths onto consecutive UDP ports
// above the configured base port.
func (p Path) portOffset() int {
	switch p {
	case AudioVideo:
		return 0
	case Background:
		return 1
	case Voice:
		return 2
	default:
		panic("mirror: invalid Path")
	}
}

func pathAddr(base *net.UDPAddr, p Path) *net.UDPAddr {
	addr := *base
	addr.Port += p.portOffset()
	return &addr
}

// Socket fans a single datagram out across one UDP connection per Path, all
// addressed to the same remote host on consecutive ports.
type Socket struct {
	remote *net.UDPAddr
	conns  map[Path]*net.UDPConn
}

// Dial opens one UDP socket per mirrored path, each connected to remote's
// host on remote.Port+offset(path), and marks it with that path's DSCP
// codepoint (see qos_unix.go / qos_other.go). A failure to set the marking
// closes the sockets opened so far and fails the Dial.
func Dial(remote *net.UDPAddr) (*Socket, error) {
	s := &Socket{remote: remote, conns: make(map[Path]*net.UDPConn, len(Paths))}
	for _, p := range Paths {
		conn, err := net.DialUDP("udp", nil, pathAddr(remote, p))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("mirror: dial %s: %w", p, err)
		}
		if err := setQoS(conn, p); err != nil {
			s.Close()
			return nil, fmt.Errorf("mirror: qos %s: %w", p, err)
		}
		s.conns[p] = conn
	}
	return s, nil
}

// Send writes datagram to every mirrored path. It keeps going after a
// per-path write error (the whole point of mirroring is tolerating a dead
// path) but returns the first error encountered, wrapped with the path name,
// so callers can log it.
func (s *Socket) Send(datagram []byte) error {
	var firstErr error
	for _, p := range Paths {
		if _, err := s.conns[p].Write(datagram); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("mirror: write %s: %w", p, err)
		}
	}
	return firstErr
}

// Close closes every underlying socket, returning the first error seen.
func (s *Socket) Close() error {
	var firstErr error
	for _, p := range Paths {
		conn, ok := s.conns[p]
		if !ok {
			continue
		}
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Datagram is one inbound read, tagged with the path it arrived on.
type Datagram struct {
	Path Path
	Data []byte
	From *net.UDPAddr
}

// Listener binds one UDP socket per mirrored path and merges reads from all
// of them into a single channel. The consumer (a proto.Receiver's read loop)
// neither knows nor cares which path a given copy arrived on — Receiver's
// own dedup collapses the up-to-three deliveries into one.
type Listener struct {
	conns     map[Path]*net.UDPConn
	datagrams chan Datagram
	errs      chan error
	done      chan struct{}
}

// Listen binds one socket per path at local.Port+offset(path).
func Listen(local *net.UDPAddr, size int) (*Listener, error) {
	l := &Listener{
		conns:     make(map[Path]*net.UDPConn, len(Paths)),
		datagrams: make(chan Datagram, 64),
		errs:      make(chan error, len(Paths)),
		done:      make(chan struct{}),
	}
	for _, p := range Paths {
		conn, err := net.ListenUDP("udp", pathAddr(local, p))
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("mirror: listen %s: %w", p, err)
		}
		l.conns[p] = conn
		go l.readLoop(p, conn, size)
	}
	return l, nil
}

func (l *Listener) readLoop(p Path, conn *net.UDPConn, size int) {
	buf := make([]byte, size)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case l.errs <- fmt.Errorf("mirror: read %s: %w", p, err):
			default:
			}
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case l.datagrams <- Datagram{Path: p, Data: data, From: addr}:
		case <-l.done:
			return
		}
	}
}

// Datagrams returns the merged channel of inbound datagrams across every
// mirrored path.
func (l *Listener) Datagrams() <-chan Datagram { return l.datagrams }

// Errs returns a channel carrying the first read error seen per path.
func (l *Listener) Errs() <-chan error { return l.errs }

// Close stops every read loop and closes the underlying sockets.
func (l *Listener) Close() error {
	close(l.done)
	var firstErr error
	for _, p := range Paths {
		conn, ok := l.conns[p]
		if !ok {
			continue
		}
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
