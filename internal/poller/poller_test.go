package poller

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejusbharadwaj/pulsegate/internal/health"
	"github.com/tejusbharadwaj/pulsegate/internal/metrics"
	"github.com/tejusbharadwaj/pulsegate/internal/models"
	"github.com/tejusbharadwaj/pulsegate/internal/plc"
	"github.com/tejusbharadwaj/pulsegate/internal/state"
)

type fakeBus struct {
	mu       sync.Mutex
	holding  map[uint16]uint16
	readErr  error
	writes   [][2]uint16
	writeErr error
}

func (b *fakeBus) ReadHoldingRegisters(addr, quantity uint16) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.readErr != nil {
		return nil, b.readErr
	}
	out := make([]byte, 0, quantity*2)
	for i := uint16(0); i < quantity; i++ {
		out = binary.BigEndian.AppendUint16(out, b.holding[addr+i])
	}
	return out, nil
}

func (b *fakeBus) ReadInputRegisters(addr, quantity uint16) ([]byte, error) {
	return make([]byte, quantity*2), nil
}

func (b *fakeBus) WriteSingleRegister(addr, value uint16) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.writeErr != nil {
		return nil, b.writeErr
	}
	b.writes = append(b.writes, [2]uint16{addr, value})
	return nil, nil
}

func (b *fakeBus) setCounter(lsbOffset uint16, value uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.holding[lsbOffset] = uint16(value)
	b.holding[lsbOffset+1] = uint16(value >> 16)
}

type fakeTransport struct {
	bus        *fakeBus
	connected  bool
	connectErr error
	connects   int
	closes     int
}

func (t *fakeTransport) Connect() error {
	t.connects++
	if t.connectErr != nil {
		return t.connectErr
	}
	t.connected = true
	return nil
}

func (t *fakeTransport) Close() error {
	t.closes++
	t.connected = false
	return nil
}

func (t *fakeTransport) Connected() bool { return t.connected }

func (t *fakeTransport) Client() plc.Client { return t.bus }

type fakeStore struct {
	meters    []models.MeterConfig
	snapshots map[string]models.DailySnapshot
	lookups   int
}

func (s *fakeStore) ListMeters(context.Context) ([]models.MeterConfig, error) {
	return s.meters, nil
}

func (s *fakeStore) GetDailySnapshot(_ context.Context, meterID, date string) (*models.DailySnapshot, error) {
	s.lookups++
	snap, ok := s.snapshots[meterID+"/"+date]
	if !ok {
		return nil, nil
	}
	return &snap, nil
}

var testMeters = []models.MeterConfig{
	{MeterID: "m1", PulseVolumeLiters: 10, CounterLSBRegister: 40023, CounterMSBRegister: 40024, Enabled: true},
	{MeterID: "m2", PulseVolumeLiters: 1, CounterLSBRegister: 40025, CounterMSBRegister: 40026, Enabled: true},
}

type fixture struct {
	poller    *Poller
	transport *fakeTransport
	bus       *fakeBus
	store     *fakeStore
	runtime   *state.RuntimeStore
}

func newFixture(t *testing.T, runtimePath string) *fixture {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	if runtimePath == "" {
		runtimePath = filepath.Join(t.TempDir(), "runtime_state.json")
	}

	bus := &fakeBus{holding: map[uint16]uint16{}}
	transport := &fakeTransport{bus: bus}
	store := &fakeStore{meters: testMeters, snapshots: map[string]models.DailySnapshot{}}
	runtime := state.NewRuntimeStore(runtimePath)
	resetter := plc.NewResetter(40100, time.Hour, logger)

	p := NewPoller(
		Config{Interval: 10 * time.Millisecond, Location: time.UTC},
		transport,
		resetter,
		health.NewTracker(3),
		runtime,
		store,
		metrics.New(prometheus.NewRegistry()),
		logger,
	)
	p.now = func() time.Time { return time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC) }

	return &fixture{poller: p, transport: transport, bus: bus, store: store, runtime: runtime}
}

func TestInitRestoresFromRuntimeState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runtime_state.json")
	require.NoError(t, state.NewRuntimeStore(path).Save(state.Baselines{"m1": 100, "m2": 4294967000}))

	f := newFixture(t, path)
	f.store.snapshots["m1/2024-03-14"] = models.DailySnapshot{EndCounter: 1}

	require.NoError(t, f.poller.Init(context.Background()))

	assert.Equal(t, state.Baselines{"m1": 100, "m2": 4294967000}, f.poller.Snapshot().Baselines)
	assert.Zero(t, f.store.lookups, "runtime state takes priority over the store")
}

func TestInitFallsBackToYesterdaysSnapshots(t *testing.T) {
	f := newFixture(t, "")
	f.store.snapshots["m1/2024-03-14"] = models.DailySnapshot{MeterID: "m1", Date: "2024-03-14", EndCounter: 777}

	require.NoError(t, f.poller.Init(context.Background()))
	assert.Equal(t, state.Baselines{"m1": 777}, f.poller.Snapshot().Baselines)

	persisted, found, err := f.runtime.Load()
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, state.Baselines{"m1": 777}, persisted)
}

func TestPollOnceBackfillsMissingBaselines(t *testing.T) {
	f := newFixture(t, "")
	f.store.snapshots["m1/2024-03-14"] = models.DailySnapshot{EndCounter: 100}
	ctx := context.Background()
	require.NoError(t, f.poller.Init(ctx))

	f.bus.setCounter(22, 150)
	f.bus.setCounter(24, 70000)

	require.NoError(t, f.poller.PollOnce(ctx)) // connects
	require.NoError(t, f.poller.PollOnce(ctx)) // reads

	snap := f.poller.Snapshot()
	assert.Equal(t, map[string]uint32{"m1": 150, "m2": 70000}, snap.Counters)
	assert.Equal(t, state.Baselines{"m1": 100, "m2": 70000}, snap.Baselines, "first observation of m2 becomes its baseline")
	assert.False(t, snap.LastUpdate.IsZero())
	assert.Equal(t, health.Healthy, snap.Health.Status)

	persisted, _, err := f.runtime.Load()
	require.NoError(t, err)
	assert.Equal(t, snap.Baselines, persisted)

	// Later readings never move an existing baseline.
	f.bus.setCounter(24, 70500)
	require.NoError(t, f.poller.PollOnce(ctx))
	assert.Equal(t, uint32(70000), f.poller.Snapshot().Baselines["m2"])
}

func TestFailuresDegradeThenReconnect(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	require.NoError(t, f.poller.Init(ctx))

	f.bus.setCounter(22, 5)
	require.NoError(t, f.poller.PollOnce(ctx))
	require.NoError(t, f.poller.PollOnce(ctx))
	before := f.poller.Snapshot().Counters

	f.bus.readErr = errors.New("i/o timeout")
	f.bus.setCounter(22, 9)

	err := f.poller.PollOnce(ctx)
	assert.ErrorIs(t, err, models.ErrTransport)
	assert.Equal(t, health.Degraded, f.poller.Health().Status)
	assert.Equal(t, before, f.poller.Snapshot().Counters, "failed cycles leave the table untouched")

	assert.Error(t, f.poller.PollOnce(ctx))
	assert.Error(t, f.poller.PollOnce(ctx))
	assert.Equal(t, health.Snapshot{Status: health.Down, Failures: 3}, f.poller.Health())
	assert.False(t, f.transport.Connected(), "transport is dropped once down")

	// Reconnect attempts count like polls.
	f.transport.connectErr = errors.New("connection refused")
	assert.Error(t, f.poller.PollOnce(ctx))
	assert.Equal(t, 4, f.poller.Health().Failures)

	f.transport.connectErr = nil
	f.bus.readErr = nil
	require.NoError(t, f.poller.PollOnce(ctx))
	assert.Equal(t, health.Snapshot{Status: health.Healthy}, f.poller.Health())

	require.NoError(t, f.poller.PollOnce(ctx))
	assert.Equal(t, uint32(9), f.poller.Snapshot().Counters["m1"])
}

func TestTickSkipsWhileBusy(t *testing.T) {
	f := newFixture(t, "")
	f.poller.busy.Store(true)
	assert.False(t, f.poller.Tick(context.Background()))
	assert.Zero(t, f.transport.connects)

	f.poller.busy.Store(false)
	assert.True(t, f.poller.Tick(context.Background()))
	assert.Equal(t, 1, f.transport.connects)
}

func TestPollOnceStopsAfterCancel(t *testing.T) {
	f := newFixture(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.poller.PollOnce(ctx), context.Canceled)
	assert.Zero(t, f.transport.connects)
}

func TestResetDailyStart(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	require.NoError(t, f.poller.Init(ctx))

	f.bus.setCounter(22, 100)
	f.bus.setCounter(24, 200)
	require.NoError(t, f.poller.PollOnce(ctx))
	require.NoError(t, f.poller.PollOnce(ctx))

	f.bus.setCounter(22, 180)
	require.NoError(t, f.poller.PollOnce(ctx))

	reset := f.poller.ResetDailyStart([]string{"m1", "unknown"})
	assert.Equal(t, []string{"m1"}, reset)
	assert.Equal(t, state.Baselines{"m1": 180, "m2": 200}, f.poller.Snapshot().Baselines)

	persisted, _, err := f.runtime.Load()
	require.NoError(t, err)
	assert.Equal(t, uint32(180), persisted["m1"])
}

func TestResetCounter(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	require.NoError(t, f.poller.Init(ctx))

	_, err := f.poller.ResetCounter(ctx, "m2")
	assert.ErrorIs(t, err, models.ErrTransport, "reset needs an open connection")

	f.bus.setCounter(24, 500)
	require.NoError(t, f.poller.PollOnce(ctx))
	require.NoError(t, f.poller.PollOnce(ctx))
	require.Contains(t, f.poller.Snapshot().Baselines, "m2")

	cmd, err := f.poller.ResetCounter(ctx, "m2")
	require.NoError(t, err)
	assert.Equal(t, plc.ResetCommand{Index: 2, Register: 40100, Mask: 0b10}, cmd)
	assert.Equal(t, [][2]uint16{{99, 0b10}}, f.bus.writes)
	assert.NotContains(t, f.poller.Snapshot().Baselines, "m2")

	f.bus.setCounter(24, 0)
	require.NoError(t, f.poller.PollOnce(ctx))
	assert.Equal(t, uint32(0), f.poller.Snapshot().Baselines["m2"])

	_, err = f.poller.ResetCounter(ctx, "nope")
	assert.ErrorIs(t, err, models.ErrProtocol)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, "")
	require.NoError(t, f.poller.Init(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.poller.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
