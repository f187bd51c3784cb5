// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 StageKit Labs

// Package link implements smx.Transport over a byte stream such as a
// serial port or a WebSocket byte bridge.
//
// The pad emits fixed 64-byte reports. Each report carries the live step
// bitmask plus an optional chunk of a logical packet; chunks are
// reassembled here and handed to the session whole, so the protocol layer
// never sees partial packets. Reads happen on an internal goroutine (the
// underlying stream blocks); everything else runs on the goroutine driving
// PumpIO.
package link

import (
	"errors"
	"io"
	"log"

	"github.com/stagekit/padlink/pkg/smx"
)

// Report framing.
const (
	reportSize = 64
	headerSize = 5 // sync, input lo, input hi, flags, payload length
	syncByte   = 0x4D

	// MaxPayload is the largest packet chunk one report can carry.
	MaxPayload = reportSize - headerSize
)

// Report flag bits.
const (
	flagEndOfPacket = 0x01 // this chunk completes a logical packet
	flagDeviceInfo  = 0x02 // payload is the identity record, not a chunk
)

// identityRecordSize is the device-info payload length: one spare byte,
// 16-byte serial, LE uint16 firmware version, player byte.
const identityRecordSize = 20

// ErrNotOpen is returned by Open when no stream can be attached, and
// ErrAlreadyOpen when one already is.
var (
	ErrNotOpen     = errors.New("link: not open")
	ErrAlreadyOpen = errors.New("link: already open")
)

type readEvent struct {
	data []byte
	err  error
}

type pendingCommand struct {
	data       []byte
	onComplete func()
}

// Stream is a smx.Transport over an io.ReadWriteCloser. Not safe for
// concurrent use; the owning session serializes access.
type Stream struct {
	log *log.Logger

	handle io.ReadWriteCloser
	events chan readEvent
	done   chan struct{}

	readErr  error
	recv     []byte   // raw bytes not yet framed
	packet   []byte   // logical packet under reassembly
	incoming [][]byte // completed packets awaiting PollIncoming
	outgoing []pendingCommand

	identity    smx.DeviceIdentity
	hasIdentity bool
	activated   bool
	inputState  uint16
}

// NewStream creates an unattached transport. logger defaults to the
// standard logger.
func NewStream(logger *log.Logger) *Stream {
	if logger == nil {
		logger = log.Default()
	}
	return &Stream{log: logger}
}

// Open attaches the transport to an established byte stream and requests
// the pad's identity record.
func (s *Stream) Open(handle io.ReadWriteCloser) error {
	if s.handle != nil {
		return ErrAlreadyOpen
	}
	if handle == nil {
		return ErrNotOpen
	}

	s.handle = handle
	s.events = make(chan readEvent, 64)
	s.done = make(chan struct{})
	go readLoop(handle, s.events, s.done)

	s.SendRaw([]byte{'i', '\n'}, nil)
	return nil
}

// readLoop feeds the stream's bytes to PumpIO. It exits on the first read
// error, which Close forces by closing the underlying stream.
func readLoop(handle io.Reader, events chan<- readEvent, done <-chan struct{}) {
	buf := make([]byte, 4*reportSize)
	for {
		n, err := handle.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case events <- readEvent{data: data}:
			case <-done:
				return
			}
		}
		if err != nil {
			select {
			case events <- readEvent{err: err}:
			case <-done:
			}
			return
		}
	}
}

// Close detaches the stream and drops all connection-scoped state,
// including queued commands, whose completion callbacks never fire.
func (s *Stream) Close() {
	if s.handle == nil {
		return
	}
	close(s.done)
	s.handle.Close()

	s.handle = nil
	s.events = nil
	s.done = nil
	s.readErr = nil
	s.recv = nil
	s.packet = nil
	s.incoming = nil
	s.outgoing = nil
	s.identity = smx.DeviceIdentity{}
	s.hasIdentity = false
	s.activated = false
	s.inputState = 0
}

// IsOpen reports whether a stream is attached.
func (s *Stream) IsOpen() bool { return s.handle != nil }

// HasIdentity reports whether the identity record has arrived.
func (s *Stream) HasIdentity() bool { return s.hasIdentity }

// Identity returns the pad's identity record.
func (s *Stream) Identity() smx.DeviceIdentity { return s.identity }

// Activated reports whether the activation handshake has run on this
// connection.
func (s *Stream) Activated() bool { return s.activated }

// SetActivated marks the activation handshake as run.
func (s *Stream) SetActivated(v bool) { s.activated = v }

// InputState returns the step bitmask from the most recent report.
func (s *Stream) InputState() uint16 { return s.inputState }

// SendRaw queues a command. No-op while not open.
func (s *Stream) SendRaw(b []byte, onComplete func()) {
	if s.handle == nil {
		return
	}
	data := make([]byte, len(b))
	copy(data, b)
	s.outgoing = append(s.outgoing, pendingCommand{data: data, onComplete: onComplete})
}

// PollIncoming returns the next reassembled packet, or nil.
func (s *Stream) PollIncoming() []byte {
	if len(s.incoming) == 0 {
		return nil
	}
	pkt := s.incoming[0]
	s.incoming = s.incoming[1:]
	return pkt
}

// PumpIO drains received bytes into the frame reassembler and flushes the
// outbound command queue. Returns the first connection-level fault.
func (s *Stream) PumpIO() error {
	if s.handle == nil {
		return ErrNotOpen
	}
	if s.readErr != nil {
		return s.readErr
	}

drain:
	for {
		select {
		case ev := <-s.events:
			if ev.err != nil {
				s.readErr = ev.err
				return s.readErr
			}
			s.recv = append(s.recv, ev.data...)
		default:
			break drain
		}
	}

	s.parseReports()

	for len(s.outgoing) > 0 {
		cmd := s.outgoing[0]
		if _, err := s.handle.Write(cmd.data); err != nil {
			return err
		}
		s.outgoing = s.outgoing[1:]
		if cmd.onComplete != nil {
			cmd.onComplete()
		}
	}
	return nil
}

// parseReports consumes whole 64-byte reports from the receive buffer,
// skipping forward to the next sync byte if framing is ever lost.
func (s *Stream) parseReports() {
	for len(s.recv) >= reportSize {
		if s.recv[0] != syncByte {
			skipped := 1
			for skipped < len(s.recv) && s.recv[skipped] != syncByte {
				skipped++
			}
			s.log.Printf("link: lost framing, skipped %d bytes", skipped)
			s.recv = s.recv[skipped:]
			continue
		}
		s.handleReport(s.recv[:reportSize])
		s.recv = s.recv[reportSize:]
	}
}

func (s *Stream) handleReport(report []byte) {
	s.inputState = uint16(report[1]) | uint16(report[2])<<8

	flags := report[3]
	n := int(report[4])
	if n > MaxPayload {
		s.log.Printf("link: report with invalid payload length %d", n)
		return
	}
	payload := report[headerSize : headerSize+n]

	if flags&flagDeviceInfo != 0 {
		s.handleIdentity(payload)
		return
	}

	s.packet = append(s.packet, payload...)
	if flags&flagEndOfPacket != 0 {
		s.incoming = append(s.incoming, s.packet)
		s.packet = nil
	}
}

func (s *Stream) handleIdentity(payload []byte) {
	if len(payload) < identityRecordSize {
		s.log.Printf("link: short identity record: %d bytes", len(payload))
		return
	}

	var id smx.DeviceIdentity
	copy(id.Serial[:], payload[1:17])
	id.FirmwareVersion = uint16(payload[17]) | uint16(payload[18])<<8
	id.Player2 = payload[19] == '2'

	s.identity = id
	s.hasIdentity = true
}
