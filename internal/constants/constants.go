// Package constants holds the fixed sizes and thresholds named throughout
// spec.md — kept in one place the way the teacher keeps ublk's device
// defaults in internal/constants.
package constants

import "time"

const (
	// InitialBufferCapacity is ByteBuffer's starting capacity (spec.md §3).
	InitialBufferCapacity = 1024

	// ReadScratchSize is the stack scratch extension ByteBuffer.ReadFd
	// appends as a second readv segment (spec.md §4.1).
	ReadScratchSize = 64 * 1024

	// MaxRequestLineBytes bounds how far the parser searches for CRLF
	// before rejecting a request line/header as malformed (spec.md §4.5).
	MaxRequestLineBytes = 8192

	// MaxRequestBodyBytes caps a trusted Content-Length; requests
	// exceeding it get 413 rather than unbounded buffering (spec.md §9).
	MaxRequestBodyBytes = 8 << 20

	// WritevBatchThreshold: under edge-triggered writes, or while more
	// than this many bytes remain, keep calling writev in a loop instead
	// of returning to the event loop (spec.md §4.7).
	WritevBatchThreshold = 10 * 1024

	// MaxConnections is the accept-overflow ceiling (spec.md §6).
	MaxConnections = 65536

	// ListenBacklog is the listen(2) backlog (spec.md §6).
	ListenBacklog = 6

	// MinPort and MaxPort bound the configurable listen port (spec.md §4.8).
	MinPort = 1024
	MaxPort = 65535

	// LingerTimeout is the SO_LINGER duration when graceful close is enabled.
	LingerTimeout = 1 * time.Second

	// KeepAliveMaxRequests advertised in the keep-alive response header.
	KeepAliveMaxRequests = 6
	// KeepAliveTimeoutSeconds advertised in the keep-alive response header.
	KeepAliveTimeoutSeconds = 120
)
