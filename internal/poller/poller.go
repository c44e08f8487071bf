// Package poller runs the read loop against the PLC and owns the live counter table,
// the start-of-day baselines and the gateway health.
package poller

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/pulsegate/internal/health"
	"github.com/tejusbharadwaj/pulsegate/internal/metrics"
	"github.com/tejusbharadwaj/pulsegate/internal/models"
	"github.com/tejusbharadwaj/pulsegate/internal/plc"
	"github.com/tejusbharadwaj/pulsegate/internal/state"
)

const (
	DefaultInterval     = time.Second
	DefaultMeterRefresh = time.Minute
)

// MeterStore is the part of the relational store the poller reads.
type MeterStore interface {
	ListMeters(ctx context.Context) ([]models.MeterConfig, error)
	GetDailySnapshot(ctx context.Context, meterID, date string) (*models.DailySnapshot, error)
}

// Config holds the poller settings.
type Config struct {
	Interval     time.Duration
	MeterRefresh time.Duration
	Location     *time.Location
}

// Snapshot is a read-only copy of the live state, taken under one lock.
type Snapshot struct {
	Counters      map[string]uint32
	Baselines     state.Baselines
	DigitalInputs uint16
	LastUpdate    time.Time
	Health        health.Snapshot
}

type Poller struct {
	cfg       Config
	transport plc.Transport
	reader    *plc.Reader
	resetter  *plc.Resetter
	tracker   *health.Tracker
	runtime   *state.RuntimeStore
	store     MeterStore
	metrics   *metrics.Metrics
	logger    *logrus.Logger
	now       func() time.Time

	// busMu gives exclusive use of the transport to a read cycle or a reset write.
	busMu sync.Mutex
	// busy is set while a tick is running; overlapping ticks are dropped.
	busy atomic.Bool

	mu            sync.RWMutex
	meters        []models.MeterConfig
	metersAt      time.Time
	live          map[string]uint32
	baselines     state.Baselines
	digitalInputs uint16
	lastUpdate    time.Time
}

func NewPoller(
	cfg Config,
	transport plc.Transport,
	resetter *plc.Resetter,
	tracker *health.Tracker,
	runtime *state.RuntimeStore,
	store MeterStore,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MeterRefresh <= 0 {
		cfg.MeterRefresh = DefaultMeterRefresh
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	p := &Poller{
		cfg:       cfg,
		transport: transport,
		reader:    plc.NewReader(logger),
		resetter:  resetter,
		tracker:   tracker,
		runtime:   runtime,
		store:     store,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
		live:      make(map[string]uint32),
		baselines: make(state.Baselines),
	}
	tracker.Subscribe(p.onHealthTransition)
	return p
}

func (p *Poller) onHealthTransition(tr health.Transition) {
	p.metrics.HealthStatus.Set(float64(tr.To))

	entry := p.logger.WithFields(logrus.Fields{
		"from":     tr.From.String(),
		"to":       tr.To.String(),
		"failures": tr.Failures,
	})
	switch tr.To {
	case health.Down:
		entry.Error("Gateway is down")
	case health.Degraded:
		entry.Warn("Gateway degraded")
	default:
		entry.Info("Gateway recovered")
	}
}

// Init loads meters and restores the start-of-day baselines. The runtime state file
// wins; without it, yesterday's end-of-day counters from the store are used.
func (p *Poller) Init(ctx context.Context) error {
	if err := p.RefreshMeters(ctx); err != nil {
		return err
	}

	baselines, found, err := p.runtime.Load()
	if err != nil {
		p.logger.Errorf("Failed to load runtime state, falling back to the store: %v", err)
	}
	if found {
		p.mu.Lock()
		p.baselines = baselines
		p.mu.Unlock()
		p.logger.WithField("meters", len(baselines)).Info("Restored daily baselines from runtime state")
		p.persist(baselines.Clone())
		return nil
	}

	yesterday := p.now().In(p.cfg.Location).AddDate(0, 0, -1).Format(models.DateLayout)
	recovered := make(state.Baselines)
	for _, m := range p.Meters() {
		snap, err := p.store.GetDailySnapshot(ctx, m.MeterID, yesterday)
		if err != nil {
			p.logger.WithField("meter_id", m.MeterID).Errorf("Failed to read previous snapshot: %v", err)
			continue
		}
		if snap != nil {
			recovered[m.MeterID] = snap.EndCounter
		}
	}

	p.mu.Lock()
	p.baselines = recovered
	p.mu.Unlock()
	p.logger.WithFields(logrus.Fields{"meters": len(recovered), "date": yesterday}).Info("Derived daily baselines from stored snapshots")
	if len(recovered) > 0 {
		p.persist(recovered.Clone())
	}
	return nil
}

// RefreshMeters reloads the meter configuration from the store.
func (p *Poller) RefreshMeters(ctx context.Context) error {
	meters, err := p.store.ListMeters(ctx)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.meters = meters
	p.metersAt = p.now()
	p.mu.Unlock()
	return nil
}

// Run connects and polls until ctx is cancelled, then closes the transport.
func (p *Poller) Run(ctx context.Context) error {
	p.busMu.Lock()
	p.connect()
	p.busMu.Unlock()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.busMu.Lock()
			p.transport.Close()
			p.busMu.Unlock()
			return nil
		case <-ticker.C:
			go p.Tick(ctx)
		}
	}
}

// Tick runs one poll unless the previous one is still in flight. It reports whether it ran.
func (p *Poller) Tick(ctx context.Context) bool {
	if !p.busy.CompareAndSwap(false, true) {
		p.metrics.PollCycles.WithLabelValues("skipped").Inc()
		p.logger.Debug("Previous poll still running, skipping tick")
		return false
	}
	defer p.busy.Store(false)

	if err := p.PollOnce(ctx); err != nil {
		p.logger.Warnf("Poll failed: %v", err)
	}
	return true
}

// PollOnce reconnects when the transport is closed, otherwise performs one read cycle.
func (p *Poller) PollOnce(ctx context.Context) error {
	p.maybeRefreshMeters(ctx)

	p.busMu.Lock()
	defer p.busMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if !p.transport.Connected() {
		p.metrics.PollCycles.WithLabelValues("reconnect").Inc()
		return p.connect()
	}

	cycle, err := p.reader.ReadCycle(p.transport.Client(), p.Meters())
	if err != nil {
		p.metrics.PollCycles.WithLabelValues("error").Inc()
		p.tracker.Failure()
		p.metrics.Failures.Set(float64(p.tracker.Snapshot().Failures))
		if p.tracker.Status() == health.Down {
			p.transport.Close()
		}
		return err
	}

	p.commit(cycle)
	p.tracker.Success()
	p.metrics.Failures.Set(0)
	p.metrics.PollCycles.WithLabelValues("ok").Inc()
	return nil
}

// connect must be called with busMu held.
func (p *Poller) connect() error {
	if err := p.transport.Connect(); err != nil {
		p.tracker.Failure()
		p.metrics.Failures.Set(float64(p.tracker.Snapshot().Failures))
		return err
	}
	p.tracker.Success()
	p.metrics.Failures.Set(0)
	return nil
}

func (p *Poller) maybeRefreshMeters(ctx context.Context) {
	p.mu.RLock()
	stale := p.now().Sub(p.metersAt) >= p.cfg.MeterRefresh
	p.mu.RUnlock()
	if !stale {
		return
	}
	if err := p.RefreshMeters(ctx); err != nil {
		p.logger.Errorf("Failed to refresh meters, keeping previous list: %v", err)
	}
}

// commit swaps in a complete cycle and backfills missing baselines with the
// first observed value, so a meter's first day reports zero instead of its lifetime total.
func (p *Poller) commit(cycle *plc.Cycle) {
	p.mu.Lock()
	p.live = cycle.Counters
	p.digitalInputs = cycle.DigitalInputs
	p.lastUpdate = cycle.ReadAt

	var added []string
	for id, value := range cycle.Counters {
		if _, ok := p.baselines[id]; !ok {
			p.baselines[id] = value
			added = append(added, id)
		}
	}
	var toSave state.Baselines
	if len(added) > 0 {
		toSave = p.baselines.Clone()
	}
	p.mu.Unlock()

	for id, value := range cycle.Counters {
		p.metrics.MeterCounter.WithLabelValues(id).Set(float64(value))
	}
	p.metrics.LastUpdateSecond.Set(float64(cycle.ReadAt.Unix()))

	if toSave != nil {
		p.logger.WithField("meters", added).Info("Established daily baseline from first reading")
		p.persist(toSave)
	}
}

func (p *Poller) persist(baselines state.Baselines) {
	if err := p.runtime.Save(baselines); err != nil {
		p.logger.Errorf("Failed to persist runtime state: %v", err)
	}
}

// ResetDailyStart sets the baseline of every given meter with a known live counter to
// that counter, and persists the result. It returns the meters that were reset.
func (p *Poller) ResetDailyStart(meterIDs []string) []string {
	p.mu.Lock()
	var reset []string
	for _, id := range meterIDs {
		if value, ok := p.live[id]; ok {
			p.baselines[id] = value
			reset = append(reset, id)
		}
	}
	toSave := p.baselines.Clone()
	p.mu.Unlock()

	if len(reset) > 0 {
		p.persist(toSave)
	}
	return reset
}

// ResetCounter clears a meter's counter on the PLC. The write is serialized with
// read cycles. The meter's baseline is dropped so the next cycle re-establishes it
// from the post-reset value.
func (p *Poller) ResetCounter(ctx context.Context, meterID string) (plc.ResetCommand, error) {
	meter, ok := p.Meter(meterID)
	if !ok {
		return plc.ResetCommand{}, fmt.Errorf("%w: unknown meter %q", models.ErrProtocol, meterID)
	}

	cmd, err := p.resetter.Reset(p.exec, meterID, meter.CounterLSBRegister)
	if err != nil {
		return plc.ResetCommand{}, err
	}

	p.mu.Lock()
	delete(p.baselines, meterID)
	toSave := p.baselines.Clone()
	p.mu.Unlock()
	p.persist(toSave)
	return cmd, nil
}

func (p *Poller) exec(fn func(plc.Client) error) error {
	p.busMu.Lock()
	defer p.busMu.Unlock()
	if !p.transport.Connected() {
		return fmt.Errorf("%w: not connected", models.ErrTransport)
	}
	return fn(p.transport.Client())
}

// Meters returns the current meter configuration.
func (p *Poller) Meters() []models.MeterConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.MeterConfig, len(p.meters))
	copy(out, p.meters)
	return out
}

// Meter looks up one meter by id.
func (p *Poller) Meter(meterID string) (models.MeterConfig, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, m := range p.meters {
		if m.MeterID == meterID {
			return m, true
		}
	}
	return models.MeterConfig{}, false
}

// Snapshot returns a consistent copy of the live state.
func (p *Poller) Snapshot() Snapshot {
	p.mu.RLock()
	live := make(map[string]uint32, len(p.live))
	for k, v := range p.live {
		live[k] = v
	}
	snap := Snapshot{
		Counters:      live,
		Baselines:     p.baselines.Clone(),
		DigitalInputs: p.digitalInputs,
		LastUpdate:    p.lastUpdate,
	}
	p.mu.RUnlock()

	snap.Health = p.tracker.Snapshot()
	return snap
}

// Health returns the current gateway health.
func (p *Poller) Health() health.Snapshot {
	return p.tracker.Snapshot()
}
