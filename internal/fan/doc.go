// Package fan provides the device model, remote-control client, and
// registry for OpenFan Core.
//
// # Architecture
//
//	┌────────────────────────────────────────────────────────────────┐
//	│                          fan package                           │
//	│                                                                │
//	│  ┌─────────────┐   ┌──────────────┐   ┌────────────────────┐   │
//	│  │    Fan      │   │   Client     │   │      Registry      │   │
//	│  │ (types.go)  │   │ (client.go)  │   │   (registry.go)    │   │
//	│  │             │   │              │   │                    │   │
//	│  │ • invariants│   │ • status     │   │ • serial → Fan     │   │
//	│  │ • clamping  │   │ • set speed  │   │ • snapshot reads   │   │
//	│  │ • naming    │   │ • set power  │   │ • diff + events    │   │
//	│  └─────────────┘   └──────────────┘   └────────────────────┘   │
//	│                                                │               │
//	│                                       ┌────────▼───────┐       │
//	│                                       │   event bus    │       │
//	│                                       │  (events.go)   │       │
//	│                                       └────────────────┘       │
//	└────────────────────────────────────────────────────────────────┘
//
// # Invariants
//
//   - Serials are unique; duplicate announcements update address/port in
//     place and never create a second entry.
//   - SpeedPercent is always within [0,100].
//   - IsOn == (SpeedPercent > 0) holds after every state transition.
//   - LastNonZeroSpeed is positive once any positive speed was observed,
//     and is never reset to zero.
//
// # Event delivery
//
// Registry mutations that change observable state publish exactly one
// event. Each subscriber sees events in emission order over a buffered
// channel; a subscriber that stops draining has events dropped rather
// than blocking the registry.
//
// # Error taxonomy
//
// Client operations fail with exactly one of ErrTransport (unreachable),
// ErrProtocol (non-200 or malformed body), or ErrSemantic (device said
// not-ok). All three are non-fatal and leave state untouched.
package fan
