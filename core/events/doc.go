// Package events defines the notifications the ingestion pipeline publishes
// on the event bus.
//
// Available event types:
//   - EventStored: a new telemetry event was persisted
//   - StatsUpdated: a vehicle aggregate changed
//   - DuplicateSkipped: a redelivered event was recognized
//   - MessageDropped: a message was discarded
package events
