package models

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Error classes shared by the gateway packages. Wrap them with fmt.Errorf("%w: ...")
// and classify with errors.Is.
var (
	ErrTransport   = errors.New("transport error")
	ErrProtocol    = errors.New("protocol error")
	ErrPersistence = errors.New("persistence error")
	ErrArithmetic  = errors.New("arithmetic error")
)

// MaxMeterIDLength bounds meter ids; they end up in MQTT topics and gRPC requests.
const MaxMeterIDLength = 64

var meterIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]*$`)

// ValidateMeterID checks the shape every meter id must have, wherever it enters the gateway.
func ValidateMeterID(meterID string) error {
	if meterID == "" {
		return errors.New("missing meter_id")
	}
	if len(meterID) > MaxMeterIDLength {
		return fmt.Errorf("meter_id exceeds %d characters", MaxMeterIDLength)
	}
	if !meterIDPattern.MatchString(meterID) {
		return fmt.Errorf("invalid meter_id: %s", meterID)
	}
	return nil
}

// DateLayout is the calendar date format used for snapshot keys.
const DateLayout = "2006-01-02"

// MeterConfig describes one metering point wired to a 32-bit pulse counter on the PLC.
type MeterConfig struct {
	MeterID               string  `json:"meter_id" mapstructure:"meter_id"`
	DisplayName           string  `json:"display_name" mapstructure:"display_name"`
	PulseVolumeLiters     float64 `json:"pulse_volume_liters" mapstructure:"pulse_volume_liters"`
	CounterLSBRegister    int     `json:"counter_lsb_register" mapstructure:"counter_lsb_register"`
	CounterMSBRegister    int     `json:"counter_msb_register" mapstructure:"counter_msb_register"`
	PhysicalMeterOffsetM3 float64 `json:"physical_meter_offset_m3" mapstructure:"physical_meter_offset_m3"`
	Enabled               bool    `json:"enabled" mapstructure:"enabled"`
}

// DailySnapshot is the persisted end-of-day record for one meter.
type DailySnapshot struct {
	MeterID         string  `json:"meter_id"`
	Date            string  `json:"date"`
	EndCounter      uint32  `json:"end_counter"`
	PreviousCounter uint32  `json:"previous_counter"`
	DeltaPulses     uint32  `json:"delta_pulses"`
	DailyLiters     float64 `json:"daily_liters"`
	EffectiveM3     float64 `json:"effective_m3"`
}

// MonthlyConsumption is the persisted per-month total for one meter.
type MonthlyConsumption struct {
	MeterID       string  `json:"meter_id"`
	Year          int     `json:"year"`
	Month         int     `json:"month"`
	MonthlyLiters float64 `json:"monthly_liters"`
	MonthlyM3     float64 `json:"monthly_m3"`
	DaysCounted   int     `json:"days_counted"`
}

// DailyEvent is published on .../meters/{id}/daily.
type DailyEvent struct {
	Date    string  `json:"date"`
	Liters  float64 `json:"liters"`
	Counter uint32  `json:"counter"`
}

// MonthlyEvent is published on .../meters/{id}/monthly.
type MonthlyEvent struct {
	Year          int     `json:"year"`
	Month         int     `json:"month"`
	MonthlyLiters float64 `json:"monthlyLiters"`
	MonthlyM3     float64 `json:"monthlyM3"`
}

// LiveEvent is published on .../meters/{id}/live.
type LiveEvent struct {
	Timestamp        time.Time `json:"timestamp"`
	PulseCount       uint32    `json:"pulse_count"`
	RawGatewayM3     float64   `json:"raw_gateway_m3"`
	OffsetM3         float64   `json:"offset_m3"`
	EffectiveM3      float64   `json:"effective_m3"`
	DailyLitersSoFar float64   `json:"daily_liters_so_far"`
}
