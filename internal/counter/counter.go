// Package counter holds the pulse counter arithmetic. Everything here is pure.
package counter

import (
	"fmt"
	"math"

	"github.com/tejusbharadwaj/pulsegate/internal/models"
)

// MaxCounter is the largest value the PLC register pair can hold.
const MaxCounter uint32 = math.MaxUint32

// Delta returns the number of pulses between baseline and current, modulo 2^32.
//
// A current value below the baseline is always read as a wraparound. This includes
// current == baseline-1, which yields MaxCounter rather than being flagged as an
// anomaly; that is a product policy, not something the counter can tell us.
func Delta(current, baseline uint32) uint32 {
	if current >= baseline {
		return current - baseline
	}
	return (MaxCounter - baseline) + current + 1
}

// ToLiters converts a pulse delta to liters.
func ToLiters(delta uint32, pulseVolumeLiters float64) float64 {
	return float64(delta) * pulseVolumeLiters
}

// RawVolumeM3 is the gateway-side volume of a raw counter without any offset.
func RawVolumeM3(rawCounter uint32, pulseVolumeLiters float64) float64 {
	return float64(rawCounter) * pulseVolumeLiters / 1000
}

// EffectiveVolumeM3 aligns the gateway volume with the physical meter face.
func EffectiveVolumeM3(rawCounter uint32, pulseVolumeLiters, offsetM3 float64) float64 {
	return offsetM3 + RawVolumeM3(rawCounter, pulseVolumeLiters)
}

// CheckPulseVolume rejects pulse volumes that would poison every conversion.
func CheckPulseVolume(pulseVolumeLiters float64) error {
	if math.IsNaN(pulseVolumeLiters) || math.IsInf(pulseVolumeLiters, 0) || pulseVolumeLiters <= 0 {
		return fmt.Errorf("%w: invalid pulse volume %v", models.ErrArithmetic, pulseVolumeLiters)
	}
	return nil
}
