// Package routing turns the link snapshot of one tick into ranked
// per-node forwarding tables.
package routing

import "errors"

var (
	// ErrInvalidK is returned for a path count below one.
	ErrInvalidK = errors.New("routing: k must be at least 1")

	// ErrUnresolvedNextHop is returned by the data plane when a node has
	// no entry for a destination address.
	ErrUnresolvedNextHop = errors.New("routing: unresolved next hop")

	// ErrCacheMiss reports that no cached routes exist for a tick.
	ErrCacheMiss = errors.New("routing: route cache miss")

	// ErrCacheMismatch reports cached routes that do not match the live
	// constellation.
	ErrCacheMismatch = errors.New("routing: route cache does not match constellation")
)
