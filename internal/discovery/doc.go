// Package discovery watches the local network for fan device
// announcements and keeps the device registry in sync with what is
// actually present.
//
// # Architecture
//
//	┌──────────────┐   mDNS/DNS-SD    ┌──────────────┐
//	│   network    │ ───────────────► │ browse loop  │
//	└──────────────┘                  └──────┬───────┘
//	                                         │ filter by instance prefix
//	                          removals ◄─────┼─────► announcements
//	                              │          │            │
//	                              │          │      ┌─────▼─────┐
//	                              │          │      │ worker    │  initial
//	                              │          │      │ pool (2)  │  status fetch
//	                              │          │      └─────┬─────┘
//	                              ▼          │            ▼
//	                         Registry.Remove │       Registry.Upsert
//
// Devices announce themselves as "_http._tcp" instances whose names carry
// the "uOpenFan-" namespace prefix; the serial is the instance name with
// the prefix stripped. Announcements outside the namespace are dropped
// without logging.
//
// Departure is detected two ways. A goodbye announcement (TTL zero)
// removes the device immediately when the resolver surfaces it, but many
// resolvers swallow goodbyes, so browsing also runs in bounded sessions
// (RebrowseInterval) that re-hear every present device, and a sweeper
// evicts any device not re-announced within StaleTimeout.
//
// First sightings get a best-effort status fetch before registration so
// the device enters the registry with live state when reachable; a failed
// fetch still registers the device with zero state, which the poller
// corrects on its next cycle. Re-announcements of a known serial refresh
// only the address and port.
//
// The engine can be stopped and restarted; a restart browses from scratch
// and backs the manual refresh operation.
package discovery
