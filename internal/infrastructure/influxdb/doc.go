// Package influxdb records fan telemetry (RPM, duty cycle, on/off) to an
// InfluxDB v2 time-series database.
//
// The integration is optional and write-only: the engine never reads the
// series back. Points are batched and sent on a background flush, so
// recording telemetry costs the caller a channel send, never a network
// round trip. Async write failures surface through the SetOnError
// callback for logging.
package influxdb
