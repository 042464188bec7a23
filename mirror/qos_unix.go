//go:build unix

package mirror

import (
	"net"

	"golang.org/x/sys/unix"
)

// DSCP codepoints (RFC 4594), expressed as the IP_TOS byte (codepoint<<2).
const (
	dscpVoiceEF        = 46 << 2 // Voice: expedited forwarding
	dscpAudioVideoAF41 = 34 << 2 // AudioVideo: assured forwarding, low drop
	dscpBackgroundCS1  = 8 << 2  // Background: scavenger class
)

func tosFor(p Path) int {
	switch p {
	case Voice:
		return dscpVoiceEF
	case AudioVideo:
		return dscpAudioVideoAF41
	case Background:
		return dscpBackgroundCS1
	default:
		return 0
	}
}

// setQoS marks conn's outgoing packets with the DSCP codepoint for p via
// IP_TOS. Best-effort: some sandboxes and container network namespaces
// reject the setsockopt outright, and a missing marking only degrades
// mirroring's loss-tolerance under congestion, so the caller may choose to
// log and continue rather than fail the dial.
func setQoS(conn *net.UDPConn, p Path) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	tos := tosFor(p)
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, tos)
	}); err != nil {
		return err
	}
	return sockErr
}
