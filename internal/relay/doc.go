// Package relay bridges registry events to the optional integrations.
//
//	┌──────────┐  events   ┌───────┐        ┌──────────────────────────┐
//	│ registry │ ────────► │ relay │ ─────► │ MQTT (retained state)    │
//	└──────────┘           └───────┘ ─────► │ InfluxDB (telemetry)     │
//	                                 ─────► │ SQLite (state history)   │
//	                                        └──────────────────────────┘
//
// The relay is the only component that knows about the sinks; the
// registry, poller, and dispatcher stay integration-free. Each sink is
// optional and individually nil-able, and failures in one sink never
// affect the others or block event delivery.
//
// On MQTT reconnect, RepublishAll rebuilds the broker's retained state
// from the registry so external consumers recover a complete picture.
package relay
