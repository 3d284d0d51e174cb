// Package stream manages background agent executions with event
// accumulation and cursor-based pagination for polling.
//
// An Execution wraps one background producer goroutine and its append-only
// event log. The Manager owns all live executions: it creates them, looks
// them up for pollers, and sweeps out terminal executions past the
// retention window on every create. All failure information from a
// background producer is funneled into the execution's own event log and
// flags; nothing escapes the driver goroutine.
package stream
