package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/pulsegate/internal/counter"
	"github.com/tejusbharadwaj/pulsegate/internal/database"
	"github.com/tejusbharadwaj/pulsegate/internal/metrics"
	"github.com/tejusbharadwaj/pulsegate/internal/models"
	"github.com/tejusbharadwaj/pulsegate/internal/poller"
	"github.com/tejusbharadwaj/pulsegate/internal/publisher"
)

// Job names, used in logs and metrics.
const (
	JobMidnightReset = "midnight_reset"
	JobDailyRollup   = "daily_rollup"
	JobMonthlyRollup = "monthly_rollup"
	JobLivePublish   = "live_publish"
)

const jobTimeout = 2 * time.Minute

// Specs holds the cron expressions of the four jobs, evaluated in the scheduler's location.
type Specs struct {
	MidnightReset string `mapstructure:"midnight_reset"`
	DailyRollup   string `mapstructure:"daily_rollup"`
	MonthlyRollup string `mapstructure:"monthly_rollup"`
	LivePublish   string `mapstructure:"live_publish"`
}

// DefaultSpecs: 00:00 reset, 23:59 daily rollup, 00:01 on the 1st monthly rollup,
// live publish every two minutes.
var DefaultSpecs = Specs{
	MidnightReset: "0 0 * * *",
	DailyRollup:   "59 23 * * *",
	MonthlyRollup: "1 0 1 * *",
	LivePublish:   "*/2 * * * *",
}

// LiveState is the poller surface the jobs read from.
type LiveState interface {
	Meters() []models.MeterConfig
	Snapshot() poller.Snapshot
	ResetDailyStart(meterIDs []string) []string
}

type Scheduler struct {
	ctx       context.Context
	specs     Specs
	location  *time.Location
	live      LiveState
	store     database.Store
	publisher publisher.Publisher
	metrics   *metrics.Metrics
	logger    *logrus.Logger
	cron      *cron.Cron
	now       func() time.Time
}

func NewScheduler(
	ctx context.Context,
	specs Specs,
	location *time.Location,
	live LiveState,
	store database.Store,
	pub publisher.Publisher,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *Scheduler {
	if location == nil {
		location = time.Local
	}
	specs = withDefaults(specs)

	cronLogger := cron.PrintfLogger(logger)
	return &Scheduler{
		ctx:       ctx,
		specs:     specs,
		location:  location,
		live:      live,
		store:     store,
		publisher: pub,
		metrics:   m,
		logger:    logger,
		cron: cron.New(
			cron.WithLocation(location),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		now: time.Now,
	}
}

func withDefaults(s Specs) Specs {
	if s.MidnightReset == "" {
		s.MidnightReset = DefaultSpecs.MidnightReset
	}
	if s.DailyRollup == "" {
		s.DailyRollup = DefaultSpecs.DailyRollup
	}
	if s.MonthlyRollup == "" {
		s.MonthlyRollup = DefaultSpecs.MonthlyRollup
	}
	if s.LivePublish == "" {
		s.LivePublish = DefaultSpecs.LivePublish
	}
	return s
}

// Start registers the jobs and starts the cron runner.
func (s *Scheduler) Start() error {
	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{JobMidnightReset, s.specs.MidnightReset, s.RunMidnightReset},
		{JobDailyRollup, s.specs.DailyRollup, s.RunDailyRollup},
		{JobMonthlyRollup, s.specs.MonthlyRollup, s.RunMonthlyRollup},
		{JobLivePublish, s.specs.LivePublish, s.RunLivePublish},
	}
	for _, j := range jobs {
		if _, err := s.cron.AddFunc(j.spec, s.wrap(j.name, j.run)); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", j.name, j.spec, err)
		}
	}
	s.cron.Start()
	s.logger.WithField("location", s.location.String()).Info("Scheduler started")
	return nil
}

// Stop the scheduler and wait for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// wrap turns a job into a cron callback that logs and counts its outcome.
func (s *Scheduler) wrap(name string, run func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
		defer cancel()

		start := time.Now()
		err := run(ctx)
		entry := s.logger.WithFields(logrus.Fields{"job": name, "duration": time.Since(start).String()})
		if err != nil {
			s.metrics.JobRuns.WithLabelValues(name, "error").Inc()
			entry.Errorf("Job finished with errors: %v", err)
			return
		}
		s.metrics.JobRuns.WithLabelValues(name, "ok").Inc()
		entry.Debug("Job finished")
	}
}

// RunMidnightReset moves the start-of-day baseline of every enabled meter with a
// known live counter to that counter.
func (s *Scheduler) RunMidnightReset(context.Context) error {
	var ids []string
	for _, m := range s.live.Meters() {
		if m.Enabled {
			ids = append(ids, m.MeterID)
		}
	}
	reset := s.live.ResetDailyStart(ids)
	s.logger.WithFields(logrus.Fields{"job": JobMidnightReset, "meters": len(reset)}).Info("Daily baselines reset")
	return nil
}

// RunDailyRollup records today's snapshot for every enabled meter and publishes a
// daily event for each row actually inserted. A re-run for the same date leaves the
// stored rows untouched.
func (s *Scheduler) RunDailyRollup(ctx context.Context) error {
	now := s.now().In(s.location)
	today := now.Format(models.DateLayout)
	yesterday := now.AddDate(0, 0, -1).Format(models.DateLayout)
	snap := s.live.Snapshot()

	var errs []error
	for _, m := range s.live.Meters() {
		if !m.Enabled {
			continue
		}
		current, ok := snap.Counters[m.MeterID]
		if !ok {
			s.logger.WithFields(logrus.Fields{"job": JobDailyRollup, "meter_id": m.MeterID}).Warn("No live counter, skipping meter")
			continue
		}
		if err := s.rollupDay(ctx, m, today, yesterday, current); err != nil {
			errs = append(errs, fmt.Errorf("meter %s: %w", m.MeterID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) rollupDay(ctx context.Context, m models.MeterConfig, today, yesterday string, current uint32) error {
	if err := counter.CheckPulseVolume(m.PulseVolumeLiters); err != nil {
		return err
	}

	var previous uint32
	prev, err := s.store.GetDailySnapshot(ctx, m.MeterID, yesterday)
	if err != nil {
		return err
	}
	if prev != nil {
		previous = prev.EndCounter
	}

	delta := counter.Delta(current, previous)
	row := models.DailySnapshot{
		MeterID:         m.MeterID,
		Date:            today,
		EndCounter:      current,
		PreviousCounter: previous,
		DeltaPulses:     delta,
		DailyLiters:     counter.ToLiters(delta, m.PulseVolumeLiters),
		EffectiveM3:     counter.EffectiveVolumeM3(current, m.PulseVolumeLiters, m.PhysicalMeterOffsetM3),
	}

	inserted, err := s.store.InsertDailySnapshot(ctx, row)
	if err != nil {
		return err
	}
	entry := s.logger.WithFields(logrus.Fields{"job": JobDailyRollup, "meter_id": m.MeterID, "date": today})
	if !inserted {
		entry.Info("Daily snapshot already recorded")
		return nil
	}
	entry.WithField("liters", row.DailyLiters).Info("Daily snapshot recorded")

	return s.publish(m.MeterID, publisher.KindDaily, models.DailyEvent{
		Date:    today,
		Liters:  row.DailyLiters,
		Counter: current,
	})
}

// RunMonthlyRollup sums the daily snapshots of the month before now and upserts
// one monthly row per enabled meter.
func (s *Scheduler) RunMonthlyRollup(ctx context.Context) error {
	now := s.now().In(s.location)
	prev := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.location).AddDate(0, -1, 0)
	year, month := prev.Year(), int(prev.Month())

	var errs []error
	for _, m := range s.live.Meters() {
		if !m.Enabled {
			continue
		}
		if err := s.rollupMonth(ctx, m.MeterID, year, month); err != nil {
			errs = append(errs, fmt.Errorf("meter %s: %w", m.MeterID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Scheduler) rollupMonth(ctx context.Context, meterID string, year, month int) error {
	liters, days, err := s.store.SumDailyLiters(ctx, meterID, year, month)
	if err != nil {
		return err
	}

	row := models.MonthlyConsumption{
		MeterID:       meterID,
		Year:          year,
		Month:         month,
		MonthlyLiters: liters,
		MonthlyM3:     liters / 1000,
		DaysCounted:   days,
	}
	if err := s.store.UpsertMonthlyConsumption(ctx, row); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"job":      JobMonthlyRollup,
		"meter_id": meterID,
		"year":     year,
		"month":    month,
		"days":     days,
	}).Info("Monthly consumption recorded")

	return s.publish(meterID, publisher.KindMonthly, models.MonthlyEvent{
		Year:          year,
		Month:         month,
		MonthlyLiters: row.MonthlyLiters,
		MonthlyM3:     row.MonthlyM3,
	})
}

// RunLivePublish publishes the consumption so far today for every enabled meter with
// a known live counter. Nothing is written to the store.
func (s *Scheduler) RunLivePublish(context.Context) error {
	snap := s.live.Snapshot()
	ts := s.now()

	var errs []error
	for _, m := range s.live.Meters() {
		if !m.Enabled {
			continue
		}
		current, ok := snap.Counters[m.MeterID]
		if !ok {
			continue
		}
		if err := s.publish(m.MeterID, publisher.KindLive, LiveEvent(m, current, snap.Baselines, ts)); err != nil {
			errs = append(errs, fmt.Errorf("meter %s: %w", m.MeterID, err))
		}
	}
	return errors.Join(errs...)
}

// LiveEvent computes the live payload of one meter. A missing baseline counts as
// the current value, so the day reports zero rather than the lifetime total.
func LiveEvent(m models.MeterConfig, current uint32, baselines map[string]uint32, ts time.Time) models.LiveEvent {
	baseline, ok := baselines[m.MeterID]
	if !ok {
		baseline = current
	}
	return models.LiveEvent{
		Timestamp:        ts,
		PulseCount:       current,
		RawGatewayM3:     counter.RawVolumeM3(current, m.PulseVolumeLiters),
		OffsetM3:         m.PhysicalMeterOffsetM3,
		EffectiveM3:      counter.EffectiveVolumeM3(current, m.PulseVolumeLiters, m.PhysicalMeterOffsetM3),
		DailyLitersSoFar: counter.ToLiters(counter.Delta(current, baseline), m.PulseVolumeLiters),
	}
}

func (s *Scheduler) publish(meterID, kind string, payload interface{}) error {
	if err := s.publisher.Publish(meterID, kind, payload); err != nil {
		return err
	}
	s.metrics.EventsPublished.WithLabelValues(kind).Inc()
	return nil
}
