package plc

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tejusbharadwaj/pulsegate/internal/models"
)

// Cycle is the result of one complete read pass.
type Cycle struct {
	DigitalInputs uint16
	Counters      map[string]uint32
	// Skipped lists meters whose register layout is unsupported.
	Skipped []string
	ReadAt  time.Time
}

type readPlan struct {
	meterID string
	// paired: one 2-register read starting at start; lsbFirst tells which half is the LSB.
	paired   bool
	start    uint16
	lsbFirst bool
	// otherwise two single reads
	lsb uint16
	msb uint16
}

// Reader performs read cycles. It holds no connection; the caller passes the client
// it owns for the duration of the cycle.
type Reader struct {
	logger *logrus.Logger

	mu sync.Mutex
	// warned holds the layouts already reported as unsupported, keyed by meter and registers.
	warned map[string]bool
}

func NewReader(logger *logrus.Logger) *Reader {
	return &Reader{logger: logger, warned: make(map[string]bool)}
}

// ReadCycle reads the digital inputs and every enabled meter's counter.
//
// The result is all-or-nothing: any read error aborts the cycle and nothing is returned,
// so callers never publish a table that is half from this cycle and half from the last.
// Meters with an unsupported register layout are skipped and listed in Cycle.Skipped.
func (r *Reader) ReadCycle(client Client, meters []models.MeterConfig) (*Cycle, error) {
	inputs, err := r.readDigitalInputs(client)
	if err != nil {
		return nil, err
	}

	cycle := &Cycle{
		DigitalInputs: inputs,
		Counters:      make(map[string]uint32, len(meters)),
	}

	for _, m := range meters {
		if !m.Enabled {
			continue
		}
		plan, err := planRead(m)
		if err != nil {
			r.reportSkipped(m, err)
			cycle.Skipped = append(cycle.Skipped, m.MeterID)
			continue
		}

		value, err := readCounter(client, plan)
		if err != nil {
			return nil, fmt.Errorf("meter %s: %w", m.MeterID, err)
		}
		cycle.Counters[m.MeterID] = value
	}

	cycle.ReadAt = time.Now()
	return cycle, nil
}

// reportSkipped warns the first time a meter layout is skipped; repeats log at debug.
func (r *Reader) reportSkipped(m models.MeterConfig, err error) {
	key := fmt.Sprintf("%s/%d/%d", m.MeterID, m.CounterLSBRegister, m.CounterMSBRegister)
	r.mu.Lock()
	first := !r.warned[key]
	r.warned[key] = true
	r.mu.Unlock()

	entry := r.logger.WithFields(logrus.Fields{
		"meter_id": m.MeterID,
		"lsb":      m.CounterLSBRegister,
		"msb":      m.CounterMSBRegister,
	})
	if first {
		entry.Warnf("Skipping meter: %v", err)
		return
	}
	entry.Debugf("Skipping meter: %v", err)
}

func (r *Reader) readDigitalInputs(client Client) (uint16, error) {
	addr, _ := ResolveAddress(DigitalInputRegister)
	data, err := client.ReadInputRegisters(addr, 1)
	if err != nil {
		return 0, fmt.Errorf("%w: read digital inputs: %v", models.ErrTransport, err)
	}
	if len(data) < 2 {
		return 0, fmt.Errorf("%w: digital inputs: short response (%d bytes)", models.ErrProtocol, len(data))
	}
	return binary.BigEndian.Uint16(data), nil
}

func planRead(m models.MeterConfig) (readPlan, error) {
	if !IsHolding(m.CounterLSBRegister) || !IsHolding(m.CounterMSBRegister) {
		return readPlan{}, fmt.Errorf("%w: only holding register counters are supported", models.ErrProtocol)
	}
	lsb, err := ResolveAddress(m.CounterLSBRegister)
	if err != nil {
		return readPlan{}, err
	}
	msb, err := ResolveAddress(m.CounterMSBRegister)
	if err != nil {
		return readPlan{}, err
	}

	plan := readPlan{meterID: m.MeterID, lsb: lsb, msb: msb}
	switch {
	case msb == lsb+1:
		plan.paired, plan.start, plan.lsbFirst = true, lsb, true
	case lsb == msb+1:
		plan.paired, plan.start, plan.lsbFirst = true, msb, false
	}
	return plan, nil
}

func readCounter(client Client, p readPlan) (uint32, error) {
	if p.paired {
		data, err := readHolding(client, p.start, 2)
		if err != nil {
			return 0, err
		}
		first := binary.BigEndian.Uint16(data[0:2])
		second := binary.BigEndian.Uint16(data[2:4])
		if p.lsbFirst {
			return CombineCounter(second, first), nil
		}
		return CombineCounter(first, second), nil
	}

	lsbData, err := readHolding(client, p.lsb, 1)
	if err != nil {
		return 0, err
	}
	msbData, err := readHolding(client, p.msb, 1)
	if err != nil {
		return 0, err
	}
	return CombineCounter(binary.BigEndian.Uint16(msbData), binary.BigEndian.Uint16(lsbData)), nil
}

func readHolding(client Client, addr, quantity uint16) ([]byte, error) {
	data, err := client.ReadHoldingRegisters(addr, quantity)
	if err != nil {
		return nil, fmt.Errorf("%w: read holding %d+%d: %v", models.ErrTransport, addr, quantity, err)
	}
	if len(data) < int(quantity)*2 {
		return nil, fmt.Errorf("%w: holding %d+%d: short response (%d bytes)", models.ErrProtocol, addr, quantity, len(data))
	}
	return data, nil
}
