// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 StageKit Labs

package smx

import (
	"io"
	"log"
	"sync"
	"time"
)

// UpdateReason tells the update callback why it fired.
type UpdateReason int

// Update callback reasons.
const (
	ReasonUpdated UpdateReason = iota
	ReasonFactoryResetComplete
)

// UpdateCallback is invoked whenever the pad's observable state changes:
// connect, disconnect, configuration readback, input change, or fresh
// telemetry. It runs synchronously on the goroutine driving the session,
// with the session lock held — implementations must not re-enter the
// Device and should hand work off to another goroutine.
type UpdateCallback func(pad int, reason UpdateReason)

// Info is the public connection/identity view returned by GetInfo.
type Info struct {
	Connected       bool
	Serial          [16]byte
	FirmwareVersion uint16
}

// Device is the session for one pad slot. It outlives individual physical
// connect/disconnect cycles; the configuration cache and telemetry
// bookkeeping reset on every disconnect.
//
// All mutable state is guarded by one lock. Public methods acquire it;
// methods with a Locked suffix require the caller to hold it. Exactly one
// goroutine is expected to drive Update, while any number of goroutines
// may call the read/queue methods (GetConfig, SetConfig, SendCommand,
// SetSensorTestMode, ...) — none of those block on I/O.
type Device struct {
	mu   sync.Mutex
	conn Transport
	wake chan<- struct{}
	log  *log.Logger
	now  func() time.Time

	callback UpdateCallback

	// Config sync engine. config holds the last device-confirmed record,
	// wantedConfig the last record requested by the application.
	config        Config
	wantedConfig  Config
	haveConfig    bool
	sendConfig    bool
	sendingConfig bool

	// Sensor-test protocol. awaitingTestMode is Off when no request is
	// outstanding.
	sensorTestMode    SensorTestMode
	awaitingTestMode  SensorTestMode
	testRequestSentAt time.Time
	haveTestData      bool
	testData          SensorTestData
}

// NewDevice creates a session over the given transport. wake, if non-nil,
// receives a signal whenever a command is queued from outside the pump
// goroutine, so a pump blocked on a timer can flush it promptly. logger
// defaults to the standard logger.
func NewDevice(conn Transport, wake chan<- struct{}, logger *log.Logger) *Device {
	if logger == nil {
		logger = log.Default()
	}
	return &Device{
		conn: conn,
		wake: wake,
		log:  logger,
		now:  time.Now,
	}
}

// SetUpdateCallback registers the change-notification callback, replacing
// any prior one. Pass nil to unregister.
func (d *Device) SetUpdateCallback(cb UpdateCallback) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.callback = cb
}

// OpenDeviceHandle attaches an established byte stream to the session's
// transport. Identity and configuration are read asynchronously by
// subsequent Update cycles; IsConnected stays false until both complete.
func (d *Device) OpenDeviceHandle(handle io.ReadWriteCloser) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn.Open(handle)
}

// CloseDevice disconnects and resets the configuration cache and all
// in-flight bookkeeping. The selected sensor test mode persists across
// reconnects; the outstanding request and last-received data do not.
func (d *Device) CloseDevice() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.conn.Close()
	d.haveConfig = false
	d.sendConfig = false
	d.sendingConfig = false
	d.awaitingTestMode = SensorTestOff
	d.haveTestData = false

	d.callUpdateCallbackLocked(ReasonUpdated)
}

// IsConnected reports whether the pad is usable: stream attached, identity
// read, and the configuration round trip completed at least once.
func (d *Device) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.isConnectedLocked()
}

func (d *Device) isConnectedLocked() bool {
	return d.conn.IsOpen() && d.conn.HasIdentity() && d.haveConfig
}

// GetInfo returns the connection flag and identity fields. Identity is
// zeroed while not connected.
func (d *Device) GetInfo() Info {
	d.mu.Lock()
	defer d.mu.Unlock()

	var info Info
	info.Connected = d.isConnectedLocked()
	if !info.Connected {
		return info
	}
	id := d.conn.Identity()
	info.Serial = id.Serial
	info.FirmwareVersion = id.FirmwareVersion
	return info
}

// IsPlayer2 reports whether the connected pad identifies as the second
// unit. False while not connected.
func (d *Device) IsPlayer2() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.isConnectedLocked() {
		return false
	}
	return d.conn.Identity().Player2
}

// GetConfig returns the pad configuration and whether one has been read
// on the current connection. While a write is pending the wanted record is
// returned, so GetConfig immediately after SetConfig observes the value
// the caller just set rather than stale data during the round trip.
func (d *Device) GetConfig() (Config, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sendConfig {
		return d.wantedConfig, d.haveConfig
	}
	return d.config, d.haveConfig
}

// SetConfig records a new desired configuration. Nothing is sent here; the
// next Update cycle performs the write. Deliberately no diff against the
// confirmed record — setting an identical value still schedules a write.
func (d *Device) SetConfig(cfg Config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.wantedConfig = cfg
	d.sendConfig = true
}

// GetInputState returns the live step bitmask, one bit per panel.
func (d *Device) GetInputState() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conn.InputState()
}

// SendCommand queues a raw command if connected (silently a no-op
// otherwise) and wakes the pump goroutine so the send is not delayed by
// the pump timer. onComplete fires exactly once, after the bytes are fully
// written — never if the command is dropped.
func (d *Device) SendCommand(cmd []byte, onComplete func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sendCommandLocked(cmd, onComplete)
}

func (d *Device) sendCommandLocked(cmd []byte, onComplete func()) {
	if !d.conn.IsOpen() {
		return
	}
	d.conn.SendRaw(cmd, onComplete)

	if d.wake != nil {
		select {
		case d.wake <- struct{}{}:
		default:
		}
	}
}

// FactoryReset restores the pad's default configuration, then reads the
// new record back. The readback's send completion raises
// ReasonFactoryResetComplete instead of the generic ReasonUpdated.
func (d *Device) FactoryReset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.sendCommandLocked(CmdFactoryReset(), nil)
	d.sendCommandLocked(CmdReadConfig(), func() {
		// Runs inside PumpIO with the lock already held.
		d.callUpdateCallbackLocked(ReasonFactoryResetComplete)
	})
}

// ForceRecalibration asks the pad to re-tare its sensors. Fire-and-forget.
func (d *Device) ForceRecalibration() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sendCommandLocked(CmdForceRecalibration(), nil)
}

// SetSensorTestMode selects the telemetry mode. The selection persists
// across reconnects; requests are issued by the Update cycle while the
// mode is not Off.
func (d *Device) SetSensorTestMode(mode SensorTestMode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sensorTestMode = mode
}

// GetTestData returns the most recently decoded telemetry, or false if no
// response has been decoded yet on this connection.
func (d *Device) GetTestData() (SensorTestData, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.haveTestData {
		return SensorTestData{}, false
	}
	return d.testData, true
}

// Update runs one pump cycle: activation handshake, config sync step,
// sensor-test step, transport I/O, input change notification, packet
// drain. No-op while no stream is attached. Transport faults are returned
// and abort the rest of the cycle; decode problems are logged and never
// tear down the connection.
func (d *Device) Update() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.conn.IsOpen() {
		return nil
	}

	d.checkActiveLocked()
	d.sendConfigLocked()
	d.updateSensorTestLocked()

	oldInput := d.conn.InputState()
	if err := d.conn.PumpIO(); err != nil {
		return err
	}
	if oldInput != d.conn.InputState() {
		d.callUpdateCallbackLocked(ReasonUpdated)
	}

	d.handlePacketsLocked()
	return nil
}

// checkActiveLocked runs the activation handshake exactly once per
// physical connection, as soon as identity is available: reset the panels,
// then request the current configuration.
func (d *Device) checkActiveLocked() {
	if !d.conn.IsOpen() || !d.conn.HasIdentity() || d.conn.Activated() {
		return
	}
	d.conn.SetActivated(true)

	d.sendCommandLocked(CmdPanelReset(), nil)
	d.sendCommandLocked(CmdReadConfig(), nil)
}

// sendConfigLocked is the config sync step. At most one write is in flight
// at a time, so a burst of SetConfig calls produces one wire write of the
// final wanted value rather than a flood. Nothing is written before the
// first readback has populated the cache.
func (d *Device) sendConfigLocked() {
	if !d.conn.IsOpen() || !d.sendConfig || d.sendingConfig {
		return
	}
	if !d.haveConfig {
		return
	}

	d.sendingConfig = true
	d.sendCommandLocked(CmdWriteConfig(d.wantedConfig), func() {
		d.sendingConfig = false
	})
	d.sendConfig = false

	// Assume the configuration is what we just wrote so GetConfig keeps
	// returning it while the verifying readback is in flight.
	d.config = d.wantedConfig

	d.sendCommandLocked(CmdReadConfig(), nil)
}

// updateSensorTestLocked is the sensor-test step: issue a request when the
// mode is active and none is outstanding, or re-issue after the previous
// one is presumed lost.
func (d *Device) updateSensorTestLocked() {
	if d.sensorTestMode == SensorTestOff {
		return
	}

	now := d.now()
	if d.awaitingTestMode != SensorTestOff {
		// The pad answers quickly; only presume the request lost after a
		// generous timeout.
		if now.Sub(d.testRequestSentAt) < sensorTestTimeout {
			return
		}
	}

	d.awaitingTestMode = d.sensorTestMode
	d.testRequestSentAt = now
	d.sendCommandLocked(CmdSensorTest(d.sensorTestMode), nil)
}

// handlePacketsLocked drains every buffered inbound packet, dispatching by
// the leading tag byte. Unknown tags are ignored for forward compatibility.
func (d *Device) handlePacketsLocked() {
	for {
		buf := d.conn.PollIncoming()
		if buf == nil {
			break
		}
		if len(buf) == 0 {
			continue
		}

		switch buf[0] {
		case PacketSensorTest:
			d.handleSensorTestPacketLocked(buf)
		case PacketConfig:
			d.handleConfigPacketLocked(buf)
		}
	}
}

// handleConfigPacketLocked reconciles a configuration readback: tag,
// 1-byte declared length, record bytes.
func (d *Device) handleConfigPacketLocked(buf []byte) {
	if len(buf) < 2 {
		d.log.Printf("smx: communication error: invalid configuration packet")
		return
	}
	size := int(buf[1])
	if len(buf) < size+2 {
		d.log.Printf("smx: communication error: invalid configuration packet")
		return
	}

	copy(d.config[:], buf[2:2+min(size, ConfigSize)])
	d.haveConfig = true

	d.callUpdateCallbackLocked(ReasonUpdated)
}

// handleSensorTestPacketLocked correlates a telemetry response against the
// outstanding request and decodes it. Responses that correlate with no
// request (likely another application polling the pad) or with a stale one
// are discarded.
func (d *Device) handleSensorTestPacketLocked(buf []byte) {
	mode, words, err := parseSensorTestPacket(buf)
	if err != nil {
		d.log.Printf("smx: communication error: %v", err)
		return
	}

	if d.awaitingTestMode == SensorTestOff {
		d.log.Printf("smx: ignoring unexpected sensor test response; it may have been requested by another application")
		return
	}

	// The response resolves the outstanding request whether or not it
	// matches; a mismatch means the answer to a request we no longer
	// care about.
	expected := d.awaitingTestMode
	d.awaitingTestMode = SensorTestOff

	if mode != expected {
		d.log.Printf("smx: ignoring sensor test response for mode %q, expected %q", byte(mode), byte(expected))
		return
	}

	// The application switched modes while the request was in the air;
	// the data is for the old mode, so drop it.
	if mode != d.sensorTestMode {
		return
	}

	d.testData = decodeSensorTestWords(words)
	d.haveTestData = true

	d.callUpdateCallbackLocked(ReasonUpdated)
}

func (d *Device) callUpdateCallbackLocked(reason UpdateReason) {
	if d.callback == nil {
		return
	}

	pad := 0
	if d.conn.HasIdentity() && d.conn.Identity().Player2 {
		pad = 1
	}
	d.callback(pad, reason)
}
