// Package pid defines the process identity and resource-declaration value
// types shared across the runtime: a Pid names a process by the address of
// its listening socket, and Resources advertises what a process or a
// spawn request needs from the scheduler.
package pid

import (
	"bytes"
	"fmt"
	"net"

	"github.com/google/orderedcode"
)

// Pid identifies a process by the address of its listening socket.
// Equality and ordering are structural: two Pids are equal iff their IP
// and port match byte-for-byte.
type Pid struct {
	IP   net.IP
	Port uint16
}

// New constructs a Pid from an IP and port.
func New(ip net.IP, port uint16) Pid {
	return Pid{IP: ip.To16(), Port: port}
}

// FromTCPAddr derives a Pid from a resolved TCP address, as used when a
// listener's bound address becomes the local process identity.
func FromTCPAddr(addr *net.TCPAddr) Pid {
	return New(addr.IP, uint16(addr.Port))
}

// ParseAddr parses a "host:port" string, as propagated across the
// self-re-exec bootstrap chain's internal environment variables, back
// into a Pid.
func ParseAddr(s string) (Pid, error) {
	addr, err := net.ResolveTCPAddr("tcp", s)
	if err != nil {
		return Pid{}, fmt.Errorf("pid: parsing address %q: %w", s, err)
	}
	return FromTCPAddr(addr), nil
}

// String renders the Pid as host:port.
func (p Pid) String() string {
	return fmt.Sprintf("%s:%d", p.IP, p.Port)
}

// Addr returns the dialable TCP address for this Pid.
func (p Pid) Addr() *net.TCPAddr {
	return &net.TCPAddr{IP: p.IP, Port: int(p.Port)}
}

// Equal reports structural equality.
func (p Pid) Equal(o Pid) bool {
	return p.IP.Equal(o.IP) && p.Port == o.Port
}

// canonicalKey returns an orderedcode-encoded byte string with a stable
// total order across Pids, used to decide which side of a connection
// initiates (§4.1: "the lexicographically smaller pid initiates").
func (p Pid) canonicalKey() []byte {
	b, err := orderedcode.Append(nil, string(p.IP.To16()), uint64(p.Port))
	if err != nil {
		// orderedcode.Append only fails on unsupported operand types; IP
		// bytes and a uint64 are always supported, so this is unreachable.
		panic(fmt.Sprintf("pid: encoding canonical key: %v", err))
	}
	return b
}

// Less reports whether p sorts before o under the canonical total order
// used to resolve simultaneous-connect races deterministically.
func (p Pid) Less(o Pid) bool {
	return bytes.Compare(p.canonicalKey(), o.canonicalKey()) < 0
}
