// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 StageKit Labs

package smx

import "io"

// DeviceIdentity is the pad's firmware-reported identity, read once per
// physical connection. Immutable while the connection lasts.
type DeviceIdentity struct {
	Serial          [16]byte
	FirmwareVersion uint16
	Player2         bool
}

// Transport is the byte-level connection the session drives. It owns raw
// I/O and packet framing but has no protocol knowledge beyond that.
//
// A Transport is not safe for concurrent use; the owning Device serializes
// every call under its session lock. Completion callbacks passed to SendRaw
// are invoked from within PumpIO, so they run under the same lock and must
// not re-enter the session.
type Transport interface {
	// Open attaches the transport to an established byte stream.
	Open(handle io.ReadWriteCloser) error

	// Close detaches and resets all connection-scoped state. Commands that
	// were queued but not yet flushed are dropped and their completion
	// callbacks never fire.
	Close()

	// IsOpen reports whether a stream is attached.
	IsOpen() bool

	// HasIdentity reports whether the pad's identity record has been read
	// on the current connection.
	HasIdentity() bool

	// Identity returns the identity record. Valid only when HasIdentity.
	Identity() DeviceIdentity

	// Activated and SetActivated track whether the one-time activation
	// handshake has run on the current connection. Cleared by Close.
	Activated() bool
	SetActivated(bool)

	// InputState returns the live step bitmask, one bit per panel.
	InputState() uint16

	// SendRaw queues a command for transmission. onComplete, if non-nil,
	// fires exactly once after the bytes are fully written. No-op when
	// the transport is not open.
	SendRaw(b []byte, onComplete func())

	// PollIncoming returns the next fully-framed inbound packet, or nil
	// when none is buffered.
	PollIncoming() []byte

	// PumpIO performs one send/receive pass. Errors are connection-level
	// faults; the session propagates them and leaves teardown to the
	// caller.
	PumpIO() error
}
