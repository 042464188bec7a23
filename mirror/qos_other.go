//go:build !unix

package mirror

import "net"

// setQoS is a no-op on platforms without IP_TOS setsockopt support, matching
// the reference implementation's own stub (it never set DSCP markings on
// any platform either).
func setQoS(conn *net.UDPConn, p Path) error {
	return nil
}
