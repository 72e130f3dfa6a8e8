package model

import "fmt"

// Address is an IPv4-style interface address.
type Address uint32

// LoopbackAddress is assigned to every node's loopback interface.
const LoopbackAddress Address = 127<<24 | 1

// ParseAddress parses a dotted-quad string.
func ParseAddress(s string) (Address, error) {
	var a, b, c, d uint32
	if _, err := fmt.Sscanf(s, "%d.%d.%d.%d", &a, &b, &c, &d); err != nil {
		return 0, fmt.Errorf("parse address %q: %w", s, err)
	}
	if a > 255 || b > 255 || c > 255 || d > 255 {
		return 0, fmt.Errorf("parse address %q: octet out of range", s)
	}
	return Address(a<<24 | b<<16 | c<<8 | d), nil
}

func (a Address) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(a>>24), byte(a>>16), byte(a>>8), byte(a))
}

// ForwardingEntry maps a destination address to the outgoing interface
// for one path rank (1 is the shortest path).
type ForwardingEntry struct {
	Destination Address
	Rank        int
	InterfaceID int32
}

// RouteTriple is the persisted form of a forwarding entry.
type RouteTriple struct {
	NodeID           int32
	Destination      int32
	NextHopInterface int32
}
