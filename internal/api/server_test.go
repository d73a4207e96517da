package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/openfan-core/internal/fan"
	"github.com/nerrad567/openfan-core/internal/infrastructure/config"
	"github.com/nerrad567/openfan-core/internal/infrastructure/logging"
)

// mockDispatcher records dispatched commands.
type mockDispatcher struct {
	mu       sync.Mutex
	registry *fan.Registry
	speeds   map[string][]int
	powers   map[string][]bool
	toggles  map[string]int
	allSpeed []int
}

func newMockDispatcher(registry *fan.Registry) *mockDispatcher {
	return &mockDispatcher{
		registry: registry,
		speeds:   make(map[string][]int),
		powers:   make(map[string][]bool),
		toggles:  make(map[string]int),
	}
}

func (m *mockDispatcher) SetSpeed(serial string, speed int) error {
	if _, err := m.registry.Get(serial); err != nil {
		return err
	}
	m.mu.Lock()
	m.speeds[serial] = append(m.speeds[serial], speed)
	m.mu.Unlock()
	return nil
}

func (m *mockDispatcher) SetPower(serial string, on bool) error {
	if _, err := m.registry.Get(serial); err != nil {
		return err
	}
	m.mu.Lock()
	m.powers[serial] = append(m.powers[serial], on)
	m.mu.Unlock()
	return nil
}

func (m *mockDispatcher) Toggle(serial string) error {
	if _, err := m.registry.Get(serial); err != nil {
		return err
	}
	m.mu.Lock()
	m.toggles[serial]++
	m.mu.Unlock()
	return nil
}

func (m *mockDispatcher) SetAllSpeed(speed int) error {
	if speed < 0 || speed > 100 {
		return errOutOfRange
	}
	m.mu.Lock()
	m.allSpeed = append(m.allSpeed, speed)
	m.mu.Unlock()
	return nil
}

var errOutOfRange = &outOfRangeError{}

type outOfRangeError struct{}

func (*outOfRangeError) Error() string { return "speed out of range [0,100]" }

// mockRestarter records discovery restarts.
type mockRestarter struct {
	mu    sync.Mutex
	count int
}

func (m *mockRestarter) Restart(_ context.Context) {
	m.mu.Lock()
	m.count++
	m.mu.Unlock()
}

func (m *mockRestarter) restarts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.count
}

// mockActivator records poll cadence switches.
type mockActivator struct {
	mu     sync.Mutex
	states []bool
}

func (m *mockActivator) SetActive(active bool) {
	m.mu.Lock()
	m.states = append(m.states, active)
	m.mu.Unlock()
}

func (m *mockActivator) last() (bool, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.states) == 0 {
		return false, false
	}
	return m.states[len(m.states)-1], true
}

// testEnv bundles a server wired with mocks and its router.
type testEnv struct {
	server     *Server
	router     http.Handler
	registry   *fan.Registry
	dispatcher *mockDispatcher
	restarter  *mockRestarter
	activator  *mockActivator
}

func newTestEnv(t *testing.T, history fan.StateHistoryRepository) *testEnv {
	t.Helper()

	registry := fan.NewRegistry()
	dispatcher := newMockDispatcher(registry)
	restarter := &mockRestarter{}
	activator := &mockActivator{}

	s, err := New(Deps{
		Config:     config.API{Host: "127.0.0.1", Port: 0},
		WS:         config.WebSocket{MaxMessageSize: 4096, SendBuffer: 16},
		Logger:     logging.Default(),
		Registry:   registry,
		Dispatcher: dispatcher,
		Discovery:  restarter,
		Poller:     activator,
		History:    history,
		Presets:    []int{0, 25, 50, 75, 100},
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	s.srvCtx, s.cancel = context.WithCancel(context.Background())
	s.hub = NewHub(s.wsCfg, s.logger)
	s.hub.SetOnClientCountChange(s.handleClientCountChange)
	t.Cleanup(s.cancel)

	return &testEnv{
		server:     s,
		router:     s.buildRouter(),
		registry:   registry,
		dispatcher: dispatcher,
		restarter:  restarter,
		activator:  activator,
	}
}

func (e *testEnv) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("response not valid JSON: %v\nbody: %s", err, rec.Body.String())
	}
}

func TestNew_MissingDeps(t *testing.T) {
	registry := fan.NewRegistry()

	if _, err := New(Deps{Registry: registry, Dispatcher: newMockDispatcher(registry)}); err == nil {
		t.Error("New() without logger should fail")
	}
	if _, err := New(Deps{Logger: logging.Default(), Dispatcher: newMockDispatcher(registry)}); err == nil {
		t.Error("New() without registry should fail")
	}
	if _, err := New(Deps{Logger: logging.Default(), Registry: registry}); err == nil {
		t.Error("New() without dispatcher should fail")
	}
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	env.registry.Upsert(fan.Fan{Serial: "AB12"})

	rec := env.request(t, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp map[string]any
	decodeJSON(t, rec, &resp)
	if resp["status"] != "ok" || resp["fans"] != float64(1) {
		t.Errorf("health = %v", resp)
	}
}

// stubChecker satisfies HealthChecker with a fixed result.
type stubChecker struct{ err error }

func (s stubChecker) HealthCheck(context.Context) error { return s.err }

func TestHandleHealth_ReportsDegradedComponent(t *testing.T) {
	env := newTestEnv(t, nil)
	env.server.components = map[string]HealthChecker{
		"mqtt":     stubChecker{},
		"influxdb": stubChecker{err: errors.New("not connected")},
	}

	rec := env.request(t, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp map[string]any
	decodeJSON(t, rec, &resp)
	if resp["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", resp["status"])
	}
	components, ok := resp["components"].(map[string]any)
	if !ok {
		t.Fatalf("components missing: %v", resp)
	}
	if components["mqtt"] != "ok" {
		t.Errorf("mqtt = %v, want ok", components["mqtt"])
	}
	if components["influxdb"] != "not connected" {
		t.Errorf("influxdb = %v, want not connected", components["influxdb"])
	}
}

func TestHandleListFans_SortedBySerial(t *testing.T) {
	env := newTestEnv(t, nil)
	env.registry.Upsert(fan.Fan{Serial: "CD34", Address: "192.168.1.51", Port: 80})
	env.registry.Upsert(fan.Fan{Serial: "AB12", Address: "192.168.1.50", Port: 80})

	rec := env.request(t, http.MethodGet, "/api/v1/fans/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Fans  []fan.Fan `json:"fans"`
		Count int       `json:"count"`
	}
	decodeJSON(t, rec, &resp)
	if resp.Count != 2 || len(resp.Fans) != 2 {
		t.Fatalf("count = %d, fans = %d", resp.Count, len(resp.Fans))
	}
	if resp.Fans[0].Serial != "AB12" || resp.Fans[1].Serial != "CD34" {
		t.Errorf("fans not sorted: %s, %s", resp.Fans[0].Serial, resp.Fans[1].Serial)
	}
}

func TestHandleGetFan(t *testing.T) {
	env := newTestEnv(t, nil)
	env.registry.Upsert(fan.Fan{Serial: "AB12", Address: "192.168.1.50", Port: 80})

	rec := env.request(t, http.MethodGet, "/api/v1/fans/AB12", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var got fan.Fan
	decodeJSON(t, rec, &got)
	if got.Serial != "AB12" {
		t.Errorf("Serial = %q", got.Serial)
	}

	rec = env.request(t, http.MethodGet, "/api/v1/fans/GHOST", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown serial status = %d, want 404", rec.Code)
	}
}

func TestHandleSetSpeed(t *testing.T) {
	env := newTestEnv(t, nil)
	env.registry.Upsert(fan.Fan{Serial: "AB12"})

	rec := env.request(t, http.MethodPut, "/api/v1/fans/AB12/speed", setSpeedRequest{Speed: 73})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	env.dispatcher.mu.Lock()
	got := env.dispatcher.speeds["AB12"]
	env.dispatcher.mu.Unlock()
	if len(got) != 1 || got[0] != 73 {
		t.Errorf("dispatched speeds = %v, want [73]", got)
	}
}

func TestHandleSetSpeed_Errors(t *testing.T) {
	env := newTestEnv(t, nil)
	env.registry.Upsert(fan.Fan{Serial: "AB12"})

	rec := env.request(t, http.MethodPut, "/api/v1/fans/GHOST/speed", setSpeedRequest{Speed: 50})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown serial status = %d, want 404", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPut, "/api/v1/fans/AB12/speed", strings.NewReader("not json"))
	rec2 := httptest.NewRecorder()
	env.router.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rec2.Code)
	}
}

func TestHandleSetPower(t *testing.T) {
	env := newTestEnv(t, nil)
	env.registry.Upsert(fan.Fan{Serial: "AB12"})

	rec := env.request(t, http.MethodPut, "/api/v1/fans/AB12/power", setPowerRequest{On: true})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}

	env.dispatcher.mu.Lock()
	got := env.dispatcher.powers["AB12"]
	env.dispatcher.mu.Unlock()
	if len(got) != 1 || got[0] != true {
		t.Errorf("dispatched powers = %v, want [true]", got)
	}
}

func TestHandleToggle(t *testing.T) {
	env := newTestEnv(t, nil)
	env.registry.Upsert(fan.Fan{Serial: "AB12"})

	rec := env.request(t, http.MethodPost, "/api/v1/fans/AB12/toggle", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}

	env.dispatcher.mu.Lock()
	got := env.dispatcher.toggles["AB12"]
	env.dispatcher.mu.Unlock()
	if got != 1 {
		t.Errorf("toggles = %d, want 1", got)
	}
}

func TestHandleSetAllSpeed(t *testing.T) {
	env := newTestEnv(t, nil)
	env.registry.Upsert(fan.Fan{Serial: "AB12"})
	env.registry.Upsert(fan.Fan{Serial: "CD34"})

	rec := env.request(t, http.MethodPost, "/api/v1/fans/speed", setSpeedRequest{Speed: 75})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}

	env.dispatcher.mu.Lock()
	got := env.dispatcher.allSpeed
	env.dispatcher.mu.Unlock()
	if len(got) != 1 || got[0] != 75 {
		t.Errorf("allSpeed = %v, want [75]", got)
	}

	rec = env.request(t, http.MethodPost, "/api/v1/fans/speed", setSpeedRequest{Speed: 101})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("out-of-range status = %d, want 400", rec.Code)
	}
}

func TestHandleListPresets(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.request(t, http.MethodGet, "/api/v1/fans/presets", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Presets []int `json:"presets"`
	}
	decodeJSON(t, rec, &resp)
	if len(resp.Presets) != 5 || resp.Presets[1] != 25 {
		t.Errorf("presets = %v", resp.Presets)
	}
}

// stubHistory serves canned history entries.
type stubHistory struct {
	entries []fan.StateHistoryEntry
}

func (s *stubHistory) RecordStateChange(context.Context, string, fan.Fan, string) error {
	return nil
}

func (s *stubHistory) GetHistory(_ context.Context, serial string, _ int) ([]fan.StateHistoryEntry, error) {
	var out []fan.StateHistoryEntry
	for _, e := range s.entries {
		if e.Serial == serial {
			out = append(out, e)
		}
	}
	return out, nil
}

func TestHandleGetHistory(t *testing.T) {
	history := &stubHistory{entries: []fan.StateHistoryEntry{
		{ID: 2, Serial: "AB12", SpeedPercent: 75, IsOn: true, Source: fan.SourceCommand},
		{ID: 1, Serial: "AB12", SpeedPercent: 40, IsOn: true, Source: fan.SourcePoll},
	}}
	env := newTestEnv(t, history)

	rec := env.request(t, http.MethodGet, "/api/v1/fans/AB12/history?limit=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		Entries []fan.StateHistoryEntry `json:"entries"`
		Count   int                     `json:"count"`
	}
	decodeJSON(t, rec, &resp)
	if resp.Count != 2 || resp.Entries[0].ID != 2 {
		t.Errorf("history = %+v", resp)
	}

	rec = env.request(t, http.MethodGet, "/api/v1/fans/AB12/history?limit=bogus", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
}

func TestHandleGetHistory_Disabled(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.request(t, http.MethodGet, "/api/v1/fans/AB12/history", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHandleDiscoveryRefresh(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.request(t, http.MethodPost, "/api/v1/discovery/refresh", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}

	// Restart runs on a background goroutine.
	deadline := time.Now().Add(time.Second)
	for env.restarter.restarts() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if env.restarter.restarts() != 1 {
		t.Errorf("restarts = %d, want 1", env.restarter.restarts())
	}
}

func TestHandlePollerActive(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.request(t, http.MethodPut, "/api/v1/poller/active", setActiveRequest{Active: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	if got, ok := env.activator.last(); !ok || !got {
		t.Errorf("poller active = %v %v, want true", got, ok)
	}
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.request(t, http.MethodGet, "/api/v1/health", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "client-supplied")
	rec2 := httptest.NewRecorder()
	env.router.ServeHTTP(rec2, req)
	if rec2.Header().Get("X-Request-ID") != "client-supplied" {
		t.Error("client X-Request-ID not echoed")
	}
}

func TestWebSocket_SubscribeAndBroadcast(t *testing.T) {
	env := newTestEnv(t, nil)
	go env.server.hub.Run(env.server.srvCtx)
	go env.server.broadcastRegistryEvents(env.server.srvCtx)

	ts := httptest.NewServer(env.router)
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Subscribe to state changes.
	sub := WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "1",
		Payload: WSSubscribePayload{Channels: []string{"fan.device_found", "fan.state_changed"}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatal(err)
	}

	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatal(err)
	}
	if ack.Type != WSTypeResponse || ack.ID != "1" {
		t.Fatalf("ack = %+v", ack)
	}

	// A registry change should reach the subscriber.
	env.registry.Upsert(fan.Fan{Serial: "AB12", Address: "192.168.1.50", Port: 80})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev WSMessage
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != WSTypeEvent || ev.EventType != "fan.device_found" {
		t.Errorf("event = %+v", ev)
	}

	// Connecting a client should have switched polling to active.
	if got, ok := env.activator.last(); !ok || !got {
		t.Errorf("poller active after client connect = %v %v, want true", got, ok)
	}
}
