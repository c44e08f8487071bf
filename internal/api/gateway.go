// Package api is the read and command surface that outer layers (gRPC, dashboards)
// use to reach the polling engine.
package api

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/tejusbharadwaj/pulsegate/internal/counter"
	"github.com/tejusbharadwaj/pulsegate/internal/health"
	"github.com/tejusbharadwaj/pulsegate/internal/models"
	"github.com/tejusbharadwaj/pulsegate/internal/plc"
	"github.com/tejusbharadwaj/pulsegate/internal/poller"
)

var (
	ErrRateLimited  = errors.New("on-demand poll rate limit exceeded")
	ErrUnknownMeter = errors.New("unknown meter")
	ErrNoReading    = errors.New("no live reading for meter")
)

// Engine is the poller surface the gateway exposes.
type Engine interface {
	Snapshot() poller.Snapshot
	Health() health.Snapshot
	Meters() []models.MeterConfig
	Meter(meterID string) (models.MeterConfig, bool)
	PollOnce(ctx context.Context) error
	ResetCounter(ctx context.Context, meterID string) (plc.ResetCommand, error)
}

// MeterReading is the live view of one meter.
type MeterReading struct {
	MeterID          string    `json:"meter_id"`
	DisplayName      string    `json:"display_name"`
	Counter          uint32    `json:"counter"`
	Baseline         uint32    `json:"baseline"`
	DailyLitersSoFar float64   `json:"daily_liters_so_far"`
	EffectiveM3      float64   `json:"effective_m3"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type Gateway struct {
	engine  Engine
	limiter *rate.Limiter
	logger  *logrus.Logger
}

// NewGateway wraps engine. On-demand polls are limited to pollRate per second with
// the given burst.
func NewGateway(engine Engine, pollRate float64, burst int, logger *logrus.Logger) *Gateway {
	if pollRate <= 0 {
		pollRate = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &Gateway{
		engine:  engine,
		limiter: rate.NewLimiter(rate.Limit(pollRate), burst),
		logger:  logger,
	}
}

func (g *Gateway) Health() health.Snapshot {
	return g.engine.Health()
}

func (g *Gateway) LiveCounters() map[string]uint32 {
	return g.engine.Snapshot().Counters
}

func (g *Gateway) DailyStartCounters() map[string]uint32 {
	return g.engine.Snapshot().Baselines
}

func (g *Gateway) DigitalInputs() uint16 {
	return g.engine.Snapshot().DigitalInputs
}

// LastUpdate is the completion time of the last successful read cycle; zero before the first.
func (g *Gateway) LastUpdate() time.Time {
	return g.engine.Snapshot().LastUpdate
}

func (g *Gateway) Meters() []models.MeterConfig {
	return g.engine.Meters()
}

// TriggerPoll runs one poll cycle now. It waits for any in-flight cycle to finish first.
func (g *Gateway) TriggerPoll(ctx context.Context) error {
	if !g.limiter.Allow() {
		return ErrRateLimited
	}
	g.logger.Debug("On-demand poll requested")
	return g.engine.PollOnce(ctx)
}

func (g *Gateway) ResetCounter(ctx context.Context, meterID string) (plc.ResetCommand, error) {
	if _, ok := g.engine.Meter(meterID); !ok {
		return plc.ResetCommand{}, fmt.Errorf("%w: %s", ErrUnknownMeter, meterID)
	}
	return g.engine.ResetCounter(ctx, meterID)
}

// TodayConsumption returns the liters consumed by meterID since the start-of-day baseline.
func (g *Gateway) TodayConsumption(meterID string) (float64, error) {
	reading, err := g.Reading(meterID)
	if err != nil {
		return 0, err
	}
	return reading.DailyLitersSoFar, nil
}

// Reading returns the live view of one meter.
func (g *Gateway) Reading(meterID string) (MeterReading, error) {
	meter, ok := g.engine.Meter(meterID)
	if !ok {
		return MeterReading{}, fmt.Errorf("%w: %s", ErrUnknownMeter, meterID)
	}
	snap := g.engine.Snapshot()
	reading, ok := readingOf(meter, snap)
	if !ok {
		return MeterReading{}, fmt.Errorf("%w: %s", ErrNoReading, meterID)
	}
	return reading, nil
}

// Readings returns the live view of every meter with a reading, ordered by id.
func (g *Gateway) Readings() []MeterReading {
	snap := g.engine.Snapshot()
	var out []MeterReading
	for _, m := range g.engine.Meters() {
		if r, ok := readingOf(m, snap); ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MeterID < out[j].MeterID })
	return out
}

func readingOf(m models.MeterConfig, snap poller.Snapshot) (MeterReading, bool) {
	current, ok := snap.Counters[m.MeterID]
	if !ok {
		return MeterReading{}, false
	}
	baseline, ok := snap.Baselines[m.MeterID]
	if !ok {
		baseline = current
	}
	return MeterReading{
		MeterID:          m.MeterID,
		DisplayName:      m.DisplayName,
		Counter:          current,
		Baseline:         baseline,
		DailyLitersSoFar: counter.ToLiters(counter.Delta(current, baseline), m.PulseVolumeLiters),
		EffectiveM3:      counter.EffectiveVolumeM3(current, m.PulseVolumeLiters, m.PhysicalMeterOffsetM3),
		UpdatedAt:        snap.LastUpdate,
	}, true
}
