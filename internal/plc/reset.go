package plc

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/pulsegate/internal/models"
)

const (
	// CounterBaseRegister is the LSB register of counter 1. Counters are laid out
	// as LSB/MSB pairs from here on.
	CounterBaseRegister = 40023
	MaxCounterIndex     = 32

	DefaultResetHold = 500 * time.Millisecond
)

// ErrResetPending is returned while the reset register still holds another counter's bit.
var ErrResetPending = fmt.Errorf("%w: reset still in progress", models.ErrProtocol)

// Exec runs fn with exclusive use of the field-bus client.
type Exec func(fn func(Client) error) error

// ResetCommand is the register write that clears one counter.
type ResetCommand struct {
	Index    int
	Register int
	Mask     uint16
}

// CounterIndex maps a counter's LSB register to its 1-based index on the reset bitmask.
func CounterIndex(lsbRegister int) (int, error) {
	offset := lsbRegister - CounterBaseRegister
	if offset < 0 || offset%2 != 0 {
		return 0, fmt.Errorf("%w: register %d is not a counter LSB register", models.ErrProtocol, lsbRegister)
	}
	index := offset/2 + 1
	if index < 1 || index > MaxCounterIndex {
		return 0, fmt.Errorf("%w: counter index %d out of range [1, %d]", models.ErrProtocol, index, MaxCounterIndex)
	}
	return index, nil
}

// Resetter pulses a bit on the reset bitmask, then clears it after a hold delay.
//
// The reset bitmask is 32 bits wide across two registers starting at the configured
// reset register: indexes 1-16 live in the first register, 17-32 in the next one.
// Only one reset per register may be in flight: a second set-write would replace the
// first bit, and the first clear-back would cut the second pulse short.
type Resetter struct {
	register  int
	hold      time.Duration
	logger    *logrus.Logger
	afterFunc func(time.Duration, func())

	mu      sync.Mutex
	pending map[int]bool
}

func NewResetter(register int, hold time.Duration, logger *logrus.Logger) *Resetter {
	if hold <= 0 {
		hold = DefaultResetHold
	}
	return &Resetter{
		register: register,
		hold:     hold,
		logger:   logger,
		pending:  make(map[int]bool),
		afterFunc: func(d time.Duration, f func()) {
			time.AfterFunc(d, f)
		},
	}
}

// Command computes the write for a counter without touching the device.
func (r *Resetter) Command(lsbRegister int) (ResetCommand, error) {
	index, err := CounterIndex(lsbRegister)
	if err != nil {
		return ResetCommand{}, err
	}
	bit := uint32(1) << (index - 1)
	cmd := ResetCommand{Index: index, Register: r.register, Mask: uint16(bit)}
	if index > 16 {
		cmd.Register = r.register + 1
		cmd.Mask = uint16(bit >> 16)
	}
	return cmd, nil
}

// Reset writes the mask and schedules the clear-back. It returns once the set-write
// succeeded; a failing clear-back is only logged.
func (r *Resetter) Reset(exec Exec, meterID string, lsbRegister int) (ResetCommand, error) {
	cmd, err := r.Command(lsbRegister)
	if err != nil {
		return ResetCommand{}, err
	}
	addr, err := ResolveAddress(cmd.Register)
	if err != nil {
		return ResetCommand{}, err
	}
	if !r.acquire(cmd.Register) {
		return ResetCommand{}, fmt.Errorf("%w: register %d", ErrResetPending, cmd.Register)
	}

	err = exec(func(c Client) error {
		if _, err := c.WriteSingleRegister(addr, cmd.Mask); err != nil {
			return fmt.Errorf("%w: write reset mask: %v", models.ErrTransport, err)
		}
		return nil
	})
	if err != nil {
		r.release(cmd.Register)
		return ResetCommand{}, err
	}

	fields := logrus.Fields{"meter_id": meterID, "index": cmd.Index, "register": cmd.Register, "mask": cmd.Mask}
	r.logger.WithFields(fields).Info("Counter reset requested")

	r.afterFunc(r.hold, func() {
		defer r.release(cmd.Register)
		err := exec(func(c Client) error {
			_, err := c.WriteSingleRegister(addr, 0)
			return err
		})
		if err != nil {
			r.logger.WithFields(fields).Errorf("Failed to clear reset register: %v", err)
		}
	})
	return cmd, nil
}

func (r *Resetter) acquire(register int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending[register] {
		return false
	}
	r.pending[register] = true
	return true
}

func (r *Resetter) release(register int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, register)
}
