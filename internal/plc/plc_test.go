package plc

import (
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejusbharadwaj/pulsegate/internal/models"
)

type read struct {
	kind     string
	addr     uint16
	quantity uint16
}

type write struct {
	addr  uint16
	value uint16
}

// fakeClient serves registers from maps keyed by zero-based offset.
type fakeClient struct {
	holding  map[uint16]uint16
	input    map[uint16]uint16
	failAt   map[uint16]bool
	writeErr error
	reads    []read
	writes   []write
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		holding: map[uint16]uint16{},
		input:   map[uint16]uint16{},
		failAt:  map[uint16]bool{},
	}
}

func (f *fakeClient) regs(m map[uint16]uint16, addr, quantity uint16) ([]byte, error) {
	out := make([]byte, 0, quantity*2)
	for i := uint16(0); i < quantity; i++ {
		if f.failAt[addr+i] {
			return nil, io.ErrUnexpectedEOF
		}
		out = binary.BigEndian.AppendUint16(out, m[addr+i])
	}
	return out, nil
}

func (f *fakeClient) ReadHoldingRegisters(addr, quantity uint16) ([]byte, error) {
	f.reads = append(f.reads, read{"holding", addr, quantity})
	return f.regs(f.holding, addr, quantity)
}

func (f *fakeClient) ReadInputRegisters(addr, quantity uint16) ([]byte, error) {
	f.reads = append(f.reads, read{"input", addr, quantity})
	return f.regs(f.input, addr, quantity)
}

func (f *fakeClient) WriteSingleRegister(addr, value uint16) ([]byte, error) {
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	f.writes = append(f.writes, write{addr, value})
	return nil, nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestResolveAddress(t *testing.T) {
	tests := []struct {
		register int
		want     uint16
		wantErr  bool
	}{
		{register: 40001, want: 0},
		{register: 40023, want: 22},
		{register: 30016, want: 15},
		{register: 30001, want: 0},
		{register: 123, want: 123},
		{register: 40000, wantErr: true},
		{register: 30000, wantErr: true},
		{register: -5, wantErr: true},
	}
	for _, tt := range tests {
		got, err := ResolveAddress(tt.register)
		if tt.wantErr {
			assert.ErrorIs(t, err, models.ErrProtocol, "register %d", tt.register)
			continue
		}
		require.NoError(t, err, "register %d", tt.register)
		assert.Equal(t, tt.want, got, "register %d", tt.register)
	}

	assert.True(t, IsHolding(40000))
	assert.True(t, IsHolding(49999))
	assert.False(t, IsHolding(50000))
	assert.False(t, IsHolding(30016))
}

func TestCombineCounter(t *testing.T) {
	assert.Equal(t, uint32(0x00010002), CombineCounter(1, 2))
	assert.Equal(t, uint32(0xFFFFFFFF), CombineCounter(0xFFFF, 0xFFFF))
}

func TestReadCycle(t *testing.T) {
	client := newFakeClient()
	client.input[15] = 0b1010
	// m1: adjacent, LSB at lower address (offsets 22/23)
	client.holding[22] = 0x0002
	client.holding[23] = 0x0001
	// m2: adjacent, MSB at lower address (offsets 30/31)
	client.holding[30] = 0x0003
	client.holding[31] = 0x0004
	// m3: non adjacent (offsets 40/50)
	client.holding[40] = 7
	client.holding[50] = 1

	meters := []models.MeterConfig{
		{MeterID: "m1", CounterLSBRegister: 40023, CounterMSBRegister: 40024, Enabled: true},
		{MeterID: "m2", CounterLSBRegister: 40032, CounterMSBRegister: 40031, Enabled: true},
		{MeterID: "m3", CounterLSBRegister: 40041, CounterMSBRegister: 40051, Enabled: true},
		{MeterID: "input", CounterLSBRegister: 30023, CounterMSBRegister: 30024, Enabled: true},
		{MeterID: "off", CounterLSBRegister: 40023, CounterMSBRegister: 40024, Enabled: false},
	}

	cycle, err := NewReader(testLogger()).ReadCycle(client, meters)
	require.NoError(t, err)

	assert.Equal(t, uint16(0b1010), cycle.DigitalInputs)
	assert.Equal(t, map[string]uint32{
		"m1": 0x00010002,
		"m2": 0x00030004,
		"m3": 0x00010007,
	}, cycle.Counters)
	assert.Equal(t, []string{"input"}, cycle.Skipped)
	assert.False(t, cycle.ReadAt.IsZero())

	assert.Equal(t, []read{
		{"input", 15, 1},
		{"holding", 22, 2},
		{"holding", 30, 2},
		{"holding", 40, 1},
		{"holding", 50, 1},
	}, client.reads)
}

func TestReadCycleWarnsOncePerSkippedLayout(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	reader := NewReader(logger)
	client := newFakeClient()

	meters := []models.MeterConfig{
		{MeterID: "input", CounterLSBRegister: 30023, CounterMSBRegister: 30024, Enabled: true},
	}
	for i := 0; i < 3; i++ {
		cycle, err := reader.ReadCycle(client, meters)
		require.NoError(t, err)
		assert.Equal(t, []string{"input"}, cycle.Skipped)
	}

	levels := make([]logrus.Level, 0, len(hook.AllEntries()))
	for _, e := range hook.AllEntries() {
		levels = append(levels, e.Level)
	}
	assert.Equal(t, []logrus.Level{logrus.WarnLevel, logrus.DebugLevel, logrus.DebugLevel}, levels)

	// A changed layout is reported again.
	hook.Reset()
	meters[0].CounterMSBRegister = 30030
	_, err := reader.ReadCycle(client, meters)
	require.NoError(t, err)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestReadCycleAbortsOnFailure(t *testing.T) {
	client := newFakeClient()
	client.holding[22] = 1
	client.failAt[50] = true

	meters := []models.MeterConfig{
		{MeterID: "m1", CounterLSBRegister: 40023, CounterMSBRegister: 40024, Enabled: true},
		{MeterID: "m3", CounterLSBRegister: 40041, CounterMSBRegister: 40051, Enabled: true},
	}

	cycle, err := NewReader(testLogger()).ReadCycle(client, meters)
	assert.Nil(t, cycle, "partial results must be discarded")
	assert.ErrorIs(t, err, models.ErrTransport)
	assert.Contains(t, err.Error(), "m3")
}

func TestReadCycleDigitalInputFailure(t *testing.T) {
	client := newFakeClient()
	client.failAt[15] = true

	_, err := NewReader(testLogger()).ReadCycle(client, nil)
	assert.ErrorIs(t, err, models.ErrTransport)
}

func TestCounterIndex(t *testing.T) {
	tests := []struct {
		register int
		want     int
		wantErr  bool
	}{
		{register: 40023, want: 1},
		{register: 40025, want: 2},
		{register: 40027, want: 3},
		{register: 40085, want: 32},
		{register: 40087, wantErr: true},
		{register: 40024, wantErr: true},
		{register: 40021, wantErr: true},
	}
	for _, tt := range tests {
		got, err := CounterIndex(tt.register)
		if tt.wantErr {
			assert.ErrorIs(t, err, models.ErrProtocol, "register %d", tt.register)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func directExec(c Client) Exec {
	return func(fn func(Client) error) error { return fn(c) }
}

func TestResetterWritesMaskThenClears(t *testing.T) {
	client := newFakeClient()
	r := NewResetter(40100, 0, testLogger())

	var delay time.Duration
	var clear func()
	r.afterFunc = func(d time.Duration, f func()) { delay, clear = d, f }

	cmd, err := r.Reset(directExec(client), "m3", 40027)
	require.NoError(t, err)
	assert.Equal(t, ResetCommand{Index: 3, Register: 40100, Mask: 0b100}, cmd)
	assert.Equal(t, []write{{99, 0b100}}, client.writes)
	assert.Equal(t, DefaultResetHold, delay)

	require.NotNil(t, clear)
	clear()
	assert.Equal(t, []write{{99, 0b100}, {99, 0}}, client.writes)
}

func TestResetterHighIndexUsesSecondRegister(t *testing.T) {
	r := NewResetter(40100, time.Second, testLogger())

	cmd, err := r.Command(40023 + 2*16) // index 17
	require.NoError(t, err)
	assert.Equal(t, ResetCommand{Index: 17, Register: 40101, Mask: 1}, cmd)

	cmd, err = r.Command(40085) // index 32
	require.NoError(t, err)
	assert.Equal(t, ResetCommand{Index: 32, Register: 40101, Mask: 0x8000}, cmd)
}

func TestResetterFailures(t *testing.T) {
	client := newFakeClient()
	r := NewResetter(40100, time.Second, testLogger())
	r.afterFunc = func(time.Duration, func()) { t.Fatal("clear-back must not be scheduled") }

	_, err := r.Reset(directExec(client), "bad", 40024)
	assert.ErrorIs(t, err, models.ErrProtocol)

	client.writeErr = errors.New("broken pipe")
	_, err = r.Reset(directExec(client), "m1", 40023)
	assert.ErrorIs(t, err, models.ErrTransport)
	assert.Empty(t, client.writes)
}

func TestResetterClearFailureIsNotFatal(t *testing.T) {
	client := newFakeClient()
	r := NewResetter(40100, time.Second, testLogger())

	var clear func()
	r.afterFunc = func(_ time.Duration, f func()) { clear = f }

	_, err := r.Reset(directExec(client), "m1", 40023)
	require.NoError(t, err)

	client.writeErr = errors.New("timeout")
	assert.NotPanics(t, clear)
	assert.Len(t, client.writes, 1)
}

func TestResetterRejectsOverlappingResetOnSameRegister(t *testing.T) {
	client := newFakeClient()
	r := NewResetter(40100, time.Second, testLogger())

	var clears []func()
	r.afterFunc = func(_ time.Duration, f func()) { clears = append(clears, f) }

	_, err := r.Reset(directExec(client), "m1", 40023)
	require.NoError(t, err)

	_, err = r.Reset(directExec(client), "m2", 40025)
	assert.ErrorIs(t, err, ErrResetPending)
	assert.ErrorIs(t, err, models.ErrProtocol)

	// Index 17 lives on the second register and is independent.
	_, err = r.Reset(directExec(client), "m17", 40023+2*16)
	require.NoError(t, err)
	assert.Equal(t, []write{{99, 1}, {100, 1}}, client.writes)

	require.Len(t, clears, 2)
	clears[0]()
	cmd, err := r.Reset(directExec(client), "m2", 40025)
	require.NoError(t, err)
	assert.Equal(t, uint16(0b10), cmd.Mask)
	assert.Equal(t, []write{{99, 1}, {100, 1}, {99, 0}, {99, 0b10}}, client.writes)
}

func TestResetterReleasesRegisterAfterFailedWrite(t *testing.T) {
	client := newFakeClient()
	r := NewResetter(40100, time.Second, testLogger())
	r.afterFunc = func(time.Duration, func()) {}

	client.writeErr = errors.New("broken pipe")
	_, err := r.Reset(directExec(client), "m1", 40023)
	assert.ErrorIs(t, err, models.ErrTransport)

	client.writeErr = nil
	_, err = r.Reset(directExec(client), "m1", 40023)
	assert.NoError(t, err)
}
