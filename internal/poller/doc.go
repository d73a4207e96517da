// Package poller keeps registry state fresh by periodically fetching
// live status from every registered device.
//
// The poll cadence adapts to demand: a fast interval while a consumer is
// watching live state and a slow background interval otherwise, switched
// via SetActive. Suspend pauses polling briefly so bulk commands settle
// before the next read.
//
// Fetches run concurrently with a per-device in-flight guard: a device
// whose previous fetch has not returned is skipped for the cycle, so an
// unreachable device never accumulates a backlog or delays the tick.
// Results flow through Registry.ApplyStatus, which diffs against current
// state and emits a change event only when a field moved.
package poller
