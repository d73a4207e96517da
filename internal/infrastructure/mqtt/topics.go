package mqtt

import "fmt"

// Topic prefixes for the OpenFan MQTT namespace.
//
// State topics are retained so late subscribers see current state;
// event topics are fire-and-forget.
const (
	// TopicPrefix is the base for all engine topics.
	TopicPrefix = "openfan"

	// TopicPrefixFan is the base for per-device topics.
	TopicPrefixFan = "openfan/fan"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "openfan/system"
)

// Topics provides builders for OpenFan MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.FanState("48CA43DBD6F4")
//	// Returns: "openfan/fan/48CA43DBD6F4/state"
type Topics struct{}

// FanState returns the retained state topic for one device.
//
// Example: openfan/fan/48CA43DBD6F4/state
func (Topics) FanState(serial string) string {
	return fmt.Sprintf("%s/%s/state", TopicPrefixFan, serial)
}

// FanEvent returns the event topic for one device.
//
// Example: openfan/fan/48CA43DBD6F4/event/device_found
func (Topics) FanEvent(serial, eventType string) string {
	return fmt.Sprintf("%s/%s/event/%s", TopicPrefixFan, serial, eventType)
}

// SystemStatus returns the engine status topic, also used as the LWT topic.
// External subscribers can match every device with the usual wildcard
// patterns, e.g. openfan/fan/+/state.
//
// Example: openfan/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}
