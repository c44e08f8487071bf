// Package pulsegate implements an edge gateway that turns PLC pulse counters into
// water consumption records.
//
// # Architecture
//
// The service is structured into several key packages:
//   - counter: wraparound-safe 32-bit deltas and liter/m³ conversion
//   - plc: register addressing, the read cycle and the counter reset protocol over Modbus TCP
//   - health: the HEALTHY/DEGRADED/DOWN state machine
//   - state: the crash-safe runtime state file holding start-of-day baselines
//   - poller: the read loop that owns live counters, baselines and health
//   - scheduler: midnight reset, daily and monthly rollups, live publishing
//   - database: SQLite/PostgreSQL storage for meters, daily snapshots and monthly totals
//   - publisher: MQTT event delivery
//   - api: the gateway façade used by outer layers
//   - grpc: gRPC status, readings, reset and health services
//   - config: YAML configuration with environment expansion
//
// Key Features
//
//   - Crash Safety:
//     Start-of-day baselines are mirrored to a JSON file on every change and
//     restored before the store is consulted.
//
//   - Connection Health:
//     Three consecutive failures mark the gateway DOWN; the PLC connection is
//     dropped and re-established on the next tick.
//
//   - Idempotent Rollups:
//     Daily snapshots are insert-once per (meter, date); monthly totals are
//     recomputed in place.
//
// Example Usage
//
//	conn, _ := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
//	client := server.NewGatewayClient(conn)
//	reading, err := client.GetReading(ctx, "main")
//
// For more information about specific packages, see their respective
// documentation.
package pulsegate
