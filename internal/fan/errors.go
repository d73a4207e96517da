package fan

import "errors"

// Domain errors for the fan package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, fan.ErrTransport) {
//	    // device unreachable, retry on next poll
//	}
var (
	// ErrNotFound is returned when a serial does not exist in the registry.
	ErrNotFound = errors.New("fan: not found")

	// ErrTransport is returned when the device cannot be reached
	// (connection refused, timeout).
	ErrTransport = errors.New("fan: transport error")

	// ErrProtocol is returned on a non-200 response or an unparseable body.
	ErrProtocol = errors.New("fan: protocol error")

	// ErrSemantic is returned when the body parses but the device reports
	// a status other than "ok".
	ErrSemantic = errors.New("fan: device reported failure")
)
