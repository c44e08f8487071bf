// Package plc reads the pulse counters from the PLC over Modbus TCP and drives the
// counter reset register.
//
// Register addresses are configured in the classic 5-digit Modbus notation
// (4xxxx holding, 3xxxx input) and resolved to zero-based protocol offsets here.
package plc

import (
	"fmt"

	"github.com/tejusbharadwaj/pulsegate/internal/models"
)

const (
	holdingBase = 40000
	holdingEnd  = 50000
	inputBase   = 30000

	// DigitalInputRegister holds the 16 digital inputs as a bitmask.
	DigitalInputRegister = 30016
)

// Client is the part of a Modbus client the gateway needs. goburrow's modbus.Client satisfies it.
type Client interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
}

// ResolveAddress maps a configured register to its zero-based protocol offset.
func ResolveAddress(register int) (uint16, error) {
	offset := register
	switch {
	case register >= holdingBase:
		offset = register - (holdingBase + 1)
	case register >= inputBase:
		offset = register - (inputBase + 1)
	}
	if offset < 0 || offset > 0xFFFF {
		return 0, fmt.Errorf("%w: register %d has no valid offset", models.ErrProtocol, register)
	}
	return uint16(offset), nil
}

// IsHolding reports whether the configured register is a holding register.
func IsHolding(register int) bool {
	return register >= holdingBase && register < holdingEnd
}

// CombineCounter builds the 32-bit counter from its two 16-bit halves.
func CombineCounter(msb, lsb uint16) uint32 {
	return uint32(msb)<<16 | uint32(lsb)
}
