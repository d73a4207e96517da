// Package dispatch translates user speed intents into device requests.
//
// Raw intent streams are bursty: a slider drag emits dozens of values in
// under a second. Each device gets a small state machine that debounces
// the stream so only the settled value is sent:
//
//	idle ──intent──► pending ──timer──► in-flight ──done──► idle
//
// An intent arriving while pending replaces the target and restarts the
// debounce timer. An intent arriving while a request is in flight is
// coalesced down to the single latest value, dispatched when the request
// finishes. At most one request per device is ever outstanding.
//
// Intents update the registry optimistically so consumers see the new
// state without waiting for the request or the next poll. The device's
// confirmed response corrects the value if they differ; a failed request
// rolls back to the last confirmed speed, and the poller converges any
// remaining drift onto the device's actual state.
//
// SetAllSpeed fans a preset out to every device at once, skipping the
// debounce and pausing background polling briefly so the burst settles
// before the next read.
package dispatch
