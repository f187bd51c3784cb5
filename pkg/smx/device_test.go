// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 StageKit Labs

package smx

import (
	"errors"
	"io"
	"log"
	"testing"
	"time"
)

// ============================================================
// Test fixtures
// ============================================================

// fakeTransport is an in-memory Transport. Queued completion callbacks
// fire during PumpIO, matching the contract of the real link transport.
type fakeTransport struct {
	open        bool
	hasIdentity bool
	identity    DeviceIdentity
	activated   bool
	// input is the step bitmask the next PumpIO will surface; seenInput
	// is what InputState reports, updated only during PumpIO like the
	// real link transport.
	input     uint16
	seenInput uint16

	sent        [][]byte
	completions []func()
	// holdCompletions keeps queued callbacks from firing, simulating a
	// command that has not finished flushing yet.
	holdCompletions bool

	incoming [][]byte
	pumpErr  error
}

func (f *fakeTransport) Open(handle io.ReadWriteCloser) error {
	f.open = true
	return nil
}

func (f *fakeTransport) Close() {
	f.open = false
	f.hasIdentity = false
	f.activated = false
	f.input = 0
	f.seenInput = 0
	f.completions = nil
	f.incoming = nil
}

func (f *fakeTransport) IsOpen() bool             { return f.open }
func (f *fakeTransport) HasIdentity() bool        { return f.hasIdentity }
func (f *fakeTransport) Identity() DeviceIdentity { return f.identity }
func (f *fakeTransport) Activated() bool          { return f.activated }
func (f *fakeTransport) SetActivated(v bool)      { f.activated = v }
func (f *fakeTransport) InputState() uint16       { return f.seenInput }

func (f *fakeTransport) SendRaw(b []byte, onComplete func()) {
	if !f.open {
		return
	}
	data := make([]byte, len(b))
	copy(data, b)
	f.sent = append(f.sent, data)
	if onComplete != nil {
		f.completions = append(f.completions, onComplete)
	}
}

func (f *fakeTransport) PollIncoming() []byte {
	if len(f.incoming) == 0 {
		return nil
	}
	pkt := f.incoming[0]
	f.incoming = f.incoming[1:]
	return pkt
}

func (f *fakeTransport) PumpIO() error {
	if f.pumpErr != nil {
		return f.pumpErr
	}
	f.seenInput = f.input
	if !f.holdCompletions {
		f.releaseCompletions()
	}
	return nil
}

func (f *fakeTransport) releaseCompletions() {
	pending := f.completions
	f.completions = nil
	for _, cb := range pending {
		cb()
	}
}

// sentCommands returns the tag bytes of every command sent so far.
func (f *fakeTransport) sentTags() []byte {
	tags := make([]byte, 0, len(f.sent))
	for _, cmd := range f.sent {
		tags = append(tags, cmd[0])
	}
	return tags
}

func (f *fakeTransport) countSent(tag byte) int {
	n := 0
	for _, cmd := range f.sent {
		if cmd[0] == tag {
			n++
		}
	}
	return n
}

func newTestDevice(t *testing.T) (*Device, *fakeTransport, *time.Time) {
	t.Helper()
	ft := &fakeTransport{}
	d := NewDevice(ft, nil, log.New(io.Discard, "", 0))

	now := time.Unix(1000, 0)
	d.now = func() time.Time { return now }
	return d, ft, &now
}

func configPacket(cfg Config) []byte {
	pkt := []byte{PacketConfig, byte(ConfigSize)}
	return append(pkt, cfg[:]...)
}

func sensorPacket(mode SensorTestMode, words []uint16) []byte {
	pkt := []byte{PacketSensorTest, byte(mode), byte(len(words))}
	for _, w := range words {
		pkt = append(pkt, byte(w), byte(w>>8))
	}
	return pkt
}

// packWords builds the shared word stream from per-panel records: word i
// carries panel p's bit i at bit position p.
func packWords(records map[int][panelRecordSize]byte) []uint16 {
	words := make([]uint16, panelRecordSize*8)
	for panel, rec := range records {
		for i := 0; i < panelRecordSize; i++ {
			for j := 0; j < 8; j++ {
				if rec[i]&(1<<j) != 0 {
					words[i*8+j] |= 1 << panel
				}
			}
		}
	}
	return words
}

// validHeader is a panel record header byte with signature bits 0,1,0 and
// no bad-sensor flags.
const validHeader = 0x02

// connect opens the device, provides identity, and completes the first
// configuration round trip so IsConnected becomes true.
func connect(t *testing.T, d *Device, ft *fakeTransport, cfg Config) {
	t.Helper()

	if err := d.OpenDeviceHandle(nil); err != nil {
		t.Fatalf("OpenDeviceHandle: %v", err)
	}
	ft.hasIdentity = true

	ft.incoming = append(ft.incoming, configPacket(cfg))
	if err := d.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !d.IsConnected() {
		t.Fatal("device should be connected after first config readback")
	}
	ft.sent = nil
}

// ============================================================
// Connection state
// ============================================================

func TestIsConnected_RequiresIdentityAndConfig(t *testing.T) {
	d, ft, _ := newTestDevice(t)

	if d.IsConnected() {
		t.Error("not connected before open")
	}

	if err := d.OpenDeviceHandle(nil); err != nil {
		t.Fatalf("OpenDeviceHandle: %v", err)
	}
	if d.IsConnected() {
		t.Error("not connected before identity is read")
	}

	ft.hasIdentity = true
	if d.IsConnected() {
		t.Error("not connected before the configuration round trip completes")
	}

	ft.incoming = append(ft.incoming, configPacket(Config{}))
	if err := d.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !d.IsConnected() {
		t.Error("connected once identity and configuration are in")
	}
}

func TestActivationHandshake_RunsOncePerConnection(t *testing.T) {
	d, ft, _ := newTestDevice(t)

	if err := d.OpenDeviceHandle(nil); err != nil {
		t.Fatalf("OpenDeviceHandle: %v", err)
	}
	ft.hasIdentity = true

	for i := 0; i < 3; i++ {
		if err := d.Update(); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	if got := ft.countSent(cmdPanelReset); got != 1 {
		t.Errorf("panel reset sent %d times, want 1", got)
	}
	if got := ft.countSent(cmdReadConfig); got != 1 {
		t.Errorf("config readback requested %d times, want 1", got)
	}
}

func TestCloseDevice_ResetsReadiness(t *testing.T) {
	d, ft, _ := newTestDevice(t)
	connect(t, d, ft, Config{})

	var reasons []UpdateReason
	d.SetUpdateCallback(func(pad int, reason UpdateReason) {
		reasons = append(reasons, reason)
	})

	d.CloseDevice()

	if d.IsConnected() {
		t.Error("still connected after close")
	}
	if _, have := d.GetConfig(); have {
		t.Error("haveConfig still true after close")
	}
	if _, have := d.GetTestData(); have {
		t.Error("test data still available after close")
	}
	if len(reasons) != 1 || reasons[0] != ReasonUpdated {
		t.Errorf("close should raise one Updated notification, got %v", reasons)
	}
}

func TestGetInfo_ZeroedWhileDisconnected(t *testing.T) {
	d, ft, _ := newTestDevice(t)
	ft.identity = DeviceIdentity{FirmwareVersion: 5}
	copy(ft.identity.Serial[:], "SN0123456789ABCD")

	if info := d.GetInfo(); info.Connected || info.FirmwareVersion != 0 {
		t.Errorf("identity should be zeroed while disconnected: %+v", info)
	}

	connect(t, d, ft, Config{})

	info := d.GetInfo()
	if !info.Connected {
		t.Fatal("expected connected")
	}
	if info.FirmwareVersion != 5 {
		t.Errorf("firmware version = %d, want 5", info.FirmwareVersion)
	}
	if string(info.Serial[:]) != "SN0123456789ABCD" {
		t.Errorf("serial = %q", info.Serial)
	}
}

// ============================================================
// Config sync engine
// ============================================================

func TestSetConfig_NoWriteBeforeFirstReadback(t *testing.T) {
	d, ft, _ := newTestDevice(t)
	if err := d.OpenDeviceHandle(nil); err != nil {
		t.Fatalf("OpenDeviceHandle: %v", err)
	}
	ft.hasIdentity = true

	var cfg Config
	cfg.SetLowThreshold(0, 33)
	d.SetConfig(cfg)

	if err := d.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := ft.countSent(cmdWriteConfig); got != 0 {
		t.Errorf("wrote configuration before first readback, %d writes", got)
	}
}

func TestSetConfig_WriteThenVerifyingReadback(t *testing.T) {
	d, ft, _ := newTestDevice(t)
	connect(t, d, ft, Config{})

	var cfg Config
	cfg.SetHighThreshold(3, 200)
	d.SetConfig(cfg)

	if err := d.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}

	tags := ft.sentTags()
	if len(tags) < 2 || tags[0] != cmdWriteConfig || tags[1] != cmdReadConfig {
		t.Fatalf("want write followed by readback, got tags %q", tags)
	}

	// Wire form: tag, 1-byte length, record bytes.
	w := ft.sent[0]
	if len(w) != 2+ConfigSize {
		t.Fatalf("write command length = %d, want %d", len(w), 2+ConfigSize)
	}
	if w[1] != byte(ConfigSize) {
		t.Errorf("declared length = %d, want %d", w[1], ConfigSize)
	}
	var sent Config
	copy(sent[:], w[2:])
	if sent.HighThreshold(3) != 200 {
		t.Error("write command does not carry the wanted record")
	}
}

func TestSetConfig_IdenticalValueStillSchedulesWrite(t *testing.T) {
	d, ft, _ := newTestDevice(t)

	var cfg Config
	cfg.SetLowThreshold(1, 10)
	connect(t, d, ft, cfg)

	// Same value as confirmed: the engine does not diff, it writes.
	d.SetConfig(cfg)
	if err := d.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if got := ft.countSent(cmdWriteConfig); got != 1 {
		t.Errorf("writes = %d, want 1", got)
	}
	if got := ft.countSent(cmdReadConfig); got != 1 {
		t.Errorf("verifying readbacks = %d, want 1", got)
	}
}

func TestSetConfig_AtMostOneWriteInFlight(t *testing.T) {
	d, ft, _ := newTestDevice(t)
	connect(t, d, ft, Config{})
	ft.holdCompletions = true

	var cfgA, cfgB, cfgC Config
	cfgA.SetLowThreshold(0, 1)
	cfgB.SetLowThreshold(0, 2)
	cfgC.SetLowThreshold(0, 3)

	d.SetConfig(cfgA)
	if err := d.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := ft.countSent(cmdWriteConfig); got != 1 {
		t.Fatalf("writes after first update = %d, want 1", got)
	}

	// Two quick SetConfig calls while the first write is still flushing:
	// no second write may go out yet.
	d.SetConfig(cfgB)
	d.SetConfig(cfgC)
	if err := d.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := ft.countSent(cmdWriteConfig); got != 1 {
		t.Fatalf("writes while in flight = %d, want 1", got)
	}

	// First write completes; the next cycle writes the final value once.
	ft.releaseCompletions()
	if err := d.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := ft.countSent(cmdWriteConfig); got != 2 {
		t.Fatalf("total writes = %d, want 2", got)
	}
	var second Config
	copy(second[:], ft.sent[len(ft.sent)-2][2:])
	if second.LowThreshold(0) != 3 {
		t.Errorf("second write carries low threshold %d, want 3 (the final wanted value)", second.LowThreshold(0))
	}
}

func TestGetConfig_ReturnsWantedWhilePending(t *testing.T) {
	d, ft, _ := newTestDevice(t)

	var confirmed Config
	confirmed.SetLowThreshold(0, 11)
	connect(t, d, ft, confirmed)

	var wanted Config
	wanted.SetLowThreshold(0, 77)
	d.SetConfig(wanted)

	// Not sent yet — no Update has run — but GetConfig must already
	// observe the wanted value.
	got, have := d.GetConfig()
	if !have {
		t.Fatal("haveConfig lost")
	}
	if got.LowThreshold(0) != 77 {
		t.Errorf("pending GetConfig low threshold = %d, want 77", got.LowThreshold(0))
	}
}

func TestConfigReadback_OverwritesConfirmed(t *testing.T) {
	d, ft, _ := newTestDevice(t)
	connect(t, d, ft, Config{})

	updates := 0
	d.SetUpdateCallback(func(pad int, reason UpdateReason) {
		if reason == ReasonUpdated {
			updates++
		}
	})

	var echo Config
	echo.SetHighThreshold(8, 42)
	ft.incoming = append(ft.incoming, configPacket(echo))
	if err := d.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, _ := d.GetConfig()
	if got.HighThreshold(8) != 42 {
		t.Errorf("confirmed high threshold = %d, want 42", got.HighThreshold(8))
	}
	if updates != 1 {
		t.Errorf("updates = %d, want 1", updates)
	}
}

func TestConfigReadback_Malformed(t *testing.T) {
	tests := []struct {
		name string
		pkt  []byte
	}{
		{"tag only", []byte{PacketConfig}},
		{"declared length exceeds packet", []byte{PacketConfig, 250, 1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, ft, _ := newTestDevice(t)
			connect(t, d, ft, Config{})

			var follow Config
			follow.SetLowThreshold(2, 9)
			ft.incoming = append(ft.incoming, tt.pkt, configPacket(follow))
			if err := d.Update(); err != nil {
				t.Fatalf("Update: %v", err)
			}

			// The malformed packet is dropped; the next one still lands.
			got, _ := d.GetConfig()
			if got.LowThreshold(2) != 9 {
				t.Error("valid packet after a malformed one was not processed")
			}
		})
	}
}

// ============================================================
// Sensor-test protocol
// ============================================================

func TestSensorTest_RequestAndTimeoutReissue(t *testing.T) {
	d, ft, now := newTestDevice(t)
	connect(t, d, ft, Config{})

	d.SetSensorTestMode(SensorTestCalibratedValues)
	if err := d.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := ft.countSent(cmdSensorTest); got != 1 {
		t.Fatalf("requests = %d, want 1", got)
	}
	want := []byte{cmdSensorTest, byte(SensorTestCalibratedValues), '\n'}
	if string(ft.sent[0]) != string(want) {
		t.Errorf("request bytes = %v, want %v", ft.sent[0], want)
	}

	// Within the timeout: no re-request.
	*now = now.Add(1999 * time.Millisecond)
	if err := d.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := ft.countSent(cmdSensorTest); got != 1 {
		t.Errorf("requests before timeout = %d, want 1", got)
	}

	// Past the timeout: the request is presumed lost and re-issued.
	*now = now.Add(2 * time.Millisecond)
	if err := d.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := ft.countSent(cmdSensorTest); got != 2 {
		t.Errorf("requests after timeout = %d, want 2", got)
	}
}

func TestSensorTest_RoundTrip(t *testing.T) {
	d, ft, _ := newTestDevice(t)
	connect(t, d, ft, Config{})

	d.SetSensorTestMode(SensorTestCalibratedValues)
	if err := d.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if _, have := d.GetTestData(); have {
		t.Fatal("no data should be available before a response decodes")
	}

	rec := [panelRecordSize]byte{}
	rec[0] = validHeader | 1<<4 // bad sensor 1
	rec[1], rec[2] = 0x34, 0x12 // sensor 0 = 0x1234
	rec[7], rec[8] = 0x00, 0x80 // sensor 3 = -32768
	rec[9] = 0x0A               // DIP = 10
	words := packWords(map[int][panelRecordSize]byte{4: rec})

	ft.incoming = append(ft.incoming, sensorPacket(SensorTestCalibratedValues, words))
	if err := d.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}

	data, have := d.GetTestData()
	if !have {
		t.Fatal("expected decoded test data")
	}
	if !data.HavePanelData[4] {
		t.Fatal("panel 4 should have data")
	}
	if data.SensorLevel[4][0] != 0x1234 {
		t.Errorf("sensor 0 = %d, want %d", data.SensorLevel[4][0], 0x1234)
	}
	if data.SensorLevel[4][3] != -32768 {
		t.Errorf("sensor 3 = %d, want -32768", data.SensorLevel[4][3])
	}
	if !data.BadSensor[4][1] || data.BadSensor[4][0] {
		t.Errorf("bad sensor flags = %v", data.BadSensor[4])
	}
	if data.DIPSwitch[4] != 10 {
		t.Errorf("DIP = %d, want 10", data.DIPSwitch[4])
	}
	for panel := 0; panel < PanelCount; panel++ {
		if panel != 4 && data.HavePanelData[panel] {
			t.Errorf("panel %d should have no data", panel)
		}
	}

	// The round trip resolved; the next cycle may request again
	// immediately.
	ft.sent = nil
	if err := d.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := ft.countSent(cmdSensorTest); got != 1 {
		t.Errorf("requests after resolved round trip = %d, want 1", got)
	}
}

func TestSensorTest_UnexpectedResponseDiscarded(t *testing.T) {
	d, ft, _ := newTestDevice(t)
	connect(t, d, ft, Config{})

	// No request outstanding: likely another application's query.
	rec := [panelRecordSize]byte{validHeader}
	words := packWords(map[int][panelRecordSize]byte{0: rec})
	ft.incoming = append(ft.incoming, sensorPacket(SensorTestCalibratedValues, words))
	if err := d.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if _, have := d.GetTestData(); have {
		t.Error("unsolicited response must not produce data")
	}
}

func TestSensorTest_StaleModeResponseRejected(t *testing.T) {
	d, ft, now := newTestDevice(t)
	connect(t, d, ft, Config{})

	d.SetSensorTestMode(SensorTestCalibratedValues)
	if err := d.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// Response echoes a different mode than the one requested.
	rec := [panelRecordSize]byte{validHeader}
	words := packWords(map[int][panelRecordSize]byte{0: rec})
	ft.incoming = append(ft.incoming, sensorPacket(SensorTestNoise, words))
	if err := d.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if _, have := d.GetTestData(); have {
		t.Fatal("mismatched response must be discarded")
	}

	// The mismatch resolved the outstanding request, so a new one goes
	// out on the very next cycle, not after the timeout.
	*now = now.Add(time.Millisecond)
	ft.sent = nil
	if err := d.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got := ft.countSent(cmdSensorTest); got != 1 {
		t.Errorf("requests after mismatch = %d, want 1", got)
	}
}

func TestSensorTest_ModeChangedWhileInFlight(t *testing.T) {
	d, ft, _ := newTestDevice(t)
	connect(t, d, ft, Config{})

	d.SetSensorTestMode(SensorTestCalibratedValues)
	if err := d.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}

	// The application switches modes while the request is in the air.
	d.SetSensorTestMode(SensorTestNoise)

	rec := [panelRecordSize]byte{validHeader}
	words := packWords(map[int][panelRecordSize]byte{0: rec})
	ft.incoming = append(ft.incoming, sensorPacket(SensorTestCalibratedValues, words))
	if err := d.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if _, have := d.GetTestData(); have {
		t.Error("response for the old mode must be discarded without decoding")
	}
}

// ============================================================
// Commands, callbacks, input
// ============================================================

func TestSendCommand_NoOpWhileClosed(t *testing.T) {
	d, ft, _ := newTestDevice(t)

	fired := false
	d.SendCommand([]byte("x\n"), func() { fired = true })

	if len(ft.sent) != 0 {
		t.Error("command sent while closed")
	}
	if fired {
		t.Error("completion fired for a dropped command")
	}
}

func TestSendCommand_WakesPump(t *testing.T) {
	ft := &fakeTransport{}
	wake := make(chan struct{}, 1)
	d := NewDevice(ft, wake, log.New(io.Discard, "", 0))

	if err := d.OpenDeviceHandle(nil); err != nil {
		t.Fatalf("OpenDeviceHandle: %v", err)
	}

	d.SendCommand([]byte("x\n"), nil)
	select {
	case <-wake:
	default:
		t.Error("queuing a command should signal the wake channel")
	}
}

func TestSendCommand_CompletionFiresOnceAfterFlush(t *testing.T) {
	d, ft, _ := newTestDevice(t)
	connect(t, d, ft, Config{})

	fired := 0
	d.SendCommand([]byte("x\n"), func() { fired++ })
	if fired != 0 {
		t.Fatal("completion fired before the pump flushed the command")
	}

	for i := 0; i < 3; i++ {
		if err := d.Update(); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	if fired != 1 {
		t.Errorf("completion fired %d times, want 1", fired)
	}
}

func TestFactoryReset_RaisesDedicatedReason(t *testing.T) {
	d, ft, _ := newTestDevice(t)
	connect(t, d, ft, Config{})

	var reasons []UpdateReason
	d.SetUpdateCallback(func(pad int, reason UpdateReason) {
		reasons = append(reasons, reason)
	})

	d.FactoryReset()
	tags := ft.sentTags()
	if len(tags) != 2 || tags[0] != cmdFactoryReset || tags[1] != cmdReadConfig {
		t.Fatalf("want factory reset then readback, got tags %q", tags)
	}

	if err := d.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}

	found := false
	for _, r := range reasons {
		if r == ReasonFactoryResetComplete {
			found = true
		}
	}
	if !found {
		t.Errorf("FactoryResetComplete not raised, reasons = %v", reasons)
	}
}

func TestUpdate_InputChangeNotifies(t *testing.T) {
	d, ft, _ := newTestDevice(t)
	connect(t, d, ft, Config{})

	updates := 0
	d.SetUpdateCallback(func(pad int, reason UpdateReason) { updates++ })

	if err := d.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updates != 0 {
		t.Fatalf("no notification expected without input change, got %d", updates)
	}

	ft.input = 0x0005
	if err := d.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updates != 1 {
		t.Errorf("updates = %d, want 1", updates)
	}
	if d.GetInputState() != 0x0005 {
		t.Errorf("input state = %#x, want 0x0005", d.GetInputState())
	}
}

func TestUpdate_PropagatesTransportFault(t *testing.T) {
	d, ft, _ := newTestDevice(t)
	connect(t, d, ft, Config{})

	wantErr := errors.New("stream broke")
	ft.pumpErr = wantErr
	if err := d.Update(); !errors.Is(err, wantErr) {
		t.Errorf("Update error = %v, want %v", err, wantErr)
	}

	// The fault does not tear the session down by itself.
	if !d.IsConnected() {
		t.Error("session state should be left as-is on a transport fault")
	}
}

func TestCallback_ReportsPlayer2PadIndex(t *testing.T) {
	d, ft, _ := newTestDevice(t)
	ft.identity.Player2 = true
	connect(t, d, ft, Config{})

	pads := make(map[int]bool)
	d.SetUpdateCallback(func(pad int, reason UpdateReason) { pads[pad] = true })

	ft.incoming = append(ft.incoming, configPacket(Config{}))
	if err := d.Update(); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if !pads[1] || pads[0] {
		t.Errorf("callback pad indexes = %v, want only 1", pads)
	}
}
