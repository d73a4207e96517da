package fan

import (
	"fmt"
	"strings"
)

// DefaultSpeed is applied when powering on a fan that has never reported
// a positive speed.
const DefaultSpeed = 50

// Fan represents one OpenFan device known to the registry.
//
// Serial is the primary key and is immutable once assigned. Address and
// Port may be refreshed by a re-announcement. The live state fields
// (IsOn, SpeedPercent, RPM) are mutated only through Registry methods,
// which maintain the state invariants.
type Fan struct {
	// Serial uniquely identifies the device. It is the announced mDNS
	// instance name with the device-namespace prefix stripped.
	Serial string `json:"serial"`

	// Address is the device's IPv4 address as resolved at discovery time.
	Address string `json:"address"`

	// Port is the device's HTTP port (default 80).
	Port int `json:"port"`

	// Name is the human-friendly display name derived from the serial.
	Name string `json:"name"`

	// IsOn mirrors SpeedPercent > 0 after every state transition.
	IsOn bool `json:"is_on"`

	// SpeedPercent is the commanded PWM duty cycle, always within [0,100].
	SpeedPercent int `json:"speed_percent"`

	// RPM is the last reported rotation speed.
	RPM int `json:"rpm"`

	// LastNonZeroSpeed remembers the most recent positive speed so a
	// power-on can restore it. Never reset to zero.
	LastNonZeroSpeed int `json:"last_non_zero_speed"`
}

// Status is the parsed payload of a device status response.
type Status struct {
	RPM          int `json:"rpm"`
	SpeedPercent int `json:"pwm_percent"`
}

// BaseURL returns the device's HTTP base URL.
func (f *Fan) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", f.Address, f.Port)
}

// ApplyStatus folds a confirmed status payload into the fan,
// maintaining the IsOn and LastNonZeroSpeed invariants. For fans held by
// a Registry this happens through Registry.ApplyStatus; calling it
// directly is only appropriate before the fan is registered.
func (f *Fan) ApplyStatus(st Status) {
	f.RPM = st.RPM
	f.SpeedPercent = ClampSpeed(st.SpeedPercent)
	f.IsOn = f.SpeedPercent > 0
	if f.SpeedPercent > 0 {
		f.LastNonZeroSpeed = f.SpeedPercent
	}
}

// applySpeed folds a confirmed speed command into the fan,
// maintaining the IsOn and LastNonZeroSpeed invariants.
func (f *Fan) applySpeed(speed int) {
	f.SpeedPercent = ClampSpeed(speed)
	f.IsOn = f.SpeedPercent > 0
	if f.SpeedPercent > 0 {
		f.LastNonZeroSpeed = f.SpeedPercent
	}
}

// RestoreSpeed returns the speed a power-on should apply: the last
// remembered positive speed, then the given fallback, then DefaultSpeed
// when the fallback is not positive.
func (f *Fan) RestoreSpeed(fallback int) int {
	if f.LastNonZeroSpeed > 0 {
		return f.LastNonZeroSpeed
	}
	if fallback > 0 {
		return ClampSpeed(fallback)
	}
	return DefaultSpeed
}

// ClampSpeed clamps a speed value to the valid range [0,100].
func ClampSpeed(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// FriendlyName derives the display name for a serial: the segment before
// the first separator, the whole serial if it has none, or a placeholder
// built from the serial's tail when the segment is empty.
func FriendlyName(serial string) string {
	name := serial
	if idx := strings.Index(serial, "-"); idx >= 0 {
		name = serial[:idx]
	}
	if name != "" {
		return name
	}
	tail := serial
	if len(tail) > 4 {
		tail = tail[len(tail)-4:]
	}
	return "Fan " + tail
}
