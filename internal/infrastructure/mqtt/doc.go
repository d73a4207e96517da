// Package mqtt mirrors fan state onto an MQTT broker for external
// consumers (dashboards, home-automation systems).
//
// The engine is publish-only: device control stays on the HTTP API, so
// there is no subscription surface. Per-device state is published
// retained on openfan/fan/{serial}/state; lifecycle events go out
// non-retained on openfan/fan/{serial}/event/{type}.
//
// Engine availability is signalled on openfan/system/status: an online
// payload on connect, a graceful offline payload on Close, and a broker-
// published Last Will if the engine crashes.
//
// The paho client auto-reconnects with backoff; the OnConnect callback
// lets the relay re-publish all retained state after a reconnect.
package mqtt
