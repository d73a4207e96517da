package fan

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTP client constants.
const (
	// defaultRequestTimeout bounds a single status or command request.
	defaultRequestTimeout = 3 * time.Second

	// maxIdleConnsPerHost keeps a small pooled connection per device so
	// frequent polling reuses connections instead of reopening them.
	maxIdleConnsPerHost = 2

	// maxResponseBytes caps how much of a device response is read.
	// Status payloads are a few dozen bytes; anything larger is garbage.
	maxResponseBytes = 4096

	statusPath  = "/api/v0/fan/status"
	setSpeedFmt = "%s/api/v0/fan/0/set?value=%d"
)

// Client performs remote-control operations against OpenFan devices over
// plain HTTP. One Client serves every device; the underlying transport
// pools a small number of connections per host.
//
// Client never mutates registry state. Callers fold successful results
// into the Registry, which keeps the "no mutation on failure" rule in one
// place.
//
// All methods are safe for concurrent use.
type Client struct {
	http   *http.Client
	logger Logger
}

// statusResponse is the wire format of both device endpoints.
type statusResponse struct {
	Status     string `json:"status"`
	RPM        int    `json:"rpm"`
	PWMPercent int    `json:"pwm_percent"`
}

// NewClient creates a device client with the given per-request timeout.
// Pass 0 for the default (3s).
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &Client{
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: maxIdleConnsPerHost,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.logger = logger
}

// Status fetches the device's authoritative state.
//
// On success the parsed payload is returned with the speed already
// clamped to [0,100]. On any failure (timeout, non-200, malformed body,
// status != "ok") an error in the fan error taxonomy is returned and no
// state anywhere is touched.
func (c *Client) Status(ctx context.Context, f Fan) (Status, error) {
	body, err := c.get(ctx, f.BaseURL()+statusPath)
	if err != nil {
		return Status{}, err
	}
	return Status{
		RPM:          body.RPM,
		SpeedPercent: ClampSpeed(body.PWMPercent),
	}, nil
}

// SetSpeed commands the device to the given speed, clamped to [0,100].
//
// Returns the clamped value actually sent. The caller applies it to the
// registry only when the error is nil, so the cache never claims a
// command succeeded when it did not.
func (c *Client) SetSpeed(ctx context.Context, f Fan, speed int) (int, error) {
	v := ClampSpeed(speed)
	if _, err := c.get(ctx, fmt.Sprintf(setSpeedFmt, f.BaseURL(), v)); err != nil {
		return 0, err
	}
	return v, nil
}

// SetPower turns the fan on or off. On restores the last remembered
// positive speed (or the default); off is speed zero.
func (c *Client) SetPower(ctx context.Context, f Fan, on bool) (int, error) {
	if !on {
		return c.SetSpeed(ctx, f, 0)
	}
	return c.SetSpeed(ctx, f, f.RestoreSpeed(0))
}

// Toggle flips the fan's power state.
func (c *Client) Toggle(ctx context.Context, f Fan) (int, error) {
	return c.SetPower(ctx, f, !f.IsOn)
}

// get performs one device request and validates the response envelope.
// Failures map onto the package error taxonomy: ErrTransport for network
// errors, ErrProtocol for non-200 or unparseable bodies, ErrSemantic for
// a parsed body with status != "ok".
func (c *Client) get(ctx context.Context, url string) (*statusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrProtocol, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close() //nolint:errcheck // nothing useful to do with a close error

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrProtocol, resp.StatusCode)
	}

	var body statusResponse
	if err := json.NewDecoder(http.MaxBytesReader(nil, resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decoding body: %w", ErrProtocol, err)
	}

	if body.Status != "ok" {
		return nil, fmt.Errorf("%w: status %q", ErrSemantic, body.Status)
	}

	return &body, nil
}
