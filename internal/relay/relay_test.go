package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/openfan-core/internal/fan"
)

// mockPublisher records published messages.
type mockPublisher struct {
	mu       sync.Mutex
	retained map[string][]byte
	events   map[string][][]byte
	err      error
}

func newMockPublisher() *mockPublisher {
	return &mockPublisher{
		retained: make(map[string][]byte),
		events:   make(map[string][][]byte),
	}
}

func (m *mockPublisher) PublishRetained(topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.retained[topic] = payload
	return nil
}

func (m *mockPublisher) PublishEvent(topic string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events[topic] = append(m.events[topic], payload)
	return nil
}

func (m *mockPublisher) retainedPayload(topic string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.retained[topic]
	return p, ok
}

func (m *mockPublisher) eventCount(topic string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events[topic])
}

// mockTelemetry records telemetry writes.
type mockTelemetry struct {
	mu     sync.Mutex
	points []string
	gauges [][2]int
}

func (m *mockTelemetry) WriteFanTelemetry(serial string, rpm, speedPercent int, isOn bool) {
	m.mu.Lock()
	m.points = append(m.points, serial)
	m.mu.Unlock()
}

func (m *mockTelemetry) WriteFleetGauge(total, running int) {
	m.mu.Lock()
	m.gauges = append(m.gauges, [2]int{total, running})
	m.mu.Unlock()
}

func (m *mockTelemetry) pointCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.points)
}

func (m *mockTelemetry) lastGauge() ([2]int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.gauges) == 0 {
		return [2]int{}, false
	}
	return m.gauges[len(m.gauges)-1], true
}

// mockHistory records state-change persistence calls.
type mockHistory struct {
	mu      sync.Mutex
	records []string
	err     error
}

func (m *mockHistory) RecordStateChange(_ context.Context, serial string, _ fan.Fan, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, serial+"/"+source)
	return nil
}

func (m *mockHistory) recordCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestRelay_DeviceFoundFansOut(t *testing.T) {
	registry := fan.NewRegistry()
	publisher := newMockPublisher()
	telemetry := &mockTelemetry{}
	history := &mockHistory{}

	r := New(registry, publisher, telemetry, history)
	r.Start(context.Background())
	defer r.Stop()

	registry.Upsert(fan.Fan{
		Serial: "AB12", Address: "192.168.1.50", Port: 80,
		IsOn: true, SpeedPercent: 40, RPM: 1180, LastNonZeroSpeed: 40,
	})

	waitFor(t, time.Second, func() bool {
		_, ok := publisher.retainedPayload("openfan/fan/AB12/state")
		return ok && telemetry.pointCount() > 0 && history.recordCount() > 0
	})

	payload, _ := publisher.retainedPayload("openfan/fan/AB12/state")
	var got fan.Fan
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatalf("retained payload not valid JSON: %v", err)
	}
	if got.Serial != "AB12" || !got.IsOn || got.SpeedPercent != 40 {
		t.Errorf("retained state = %+v", got)
	}

	if publisher.eventCount("openfan/fan/AB12/event/device_found") != 1 {
		t.Error("device_found lifecycle event not published")
	}

	if gauge, ok := telemetry.lastGauge(); !ok || gauge != [2]int{1, 1} {
		t.Errorf("fleet gauge = %v, want [1 1]", gauge)
	}
}

func TestRelay_StateChangeUpdatesRetained(t *testing.T) {
	registry := fan.NewRegistry()
	publisher := newMockPublisher()
	history := &mockHistory{}

	r := New(registry, publisher, nil, history)
	r.Start(context.Background())
	defer r.Stop()

	registry.Upsert(fan.Fan{Serial: "AB12", Address: "192.168.1.50", Port: 80})
	registry.ApplySpeed("AB12", 75)

	waitFor(t, time.Second, func() bool { return history.recordCount() >= 2 })

	payload, _ := publisher.retainedPayload("openfan/fan/AB12/state")
	var got fan.Fan
	if err := json.Unmarshal(payload, &got); err != nil {
		t.Fatal(err)
	}
	if got.SpeedPercent != 75 || !got.IsOn {
		t.Errorf("retained state after command = %+v", got)
	}

	history.mu.Lock()
	last := history.records[len(history.records)-1]
	history.mu.Unlock()
	if !strings.HasSuffix(last, "/"+fan.SourceCommand) {
		t.Errorf("history record = %q, want command source", last)
	}
}

func TestRelay_DeviceLostClearsRetained(t *testing.T) {
	registry := fan.NewRegistry()
	publisher := newMockPublisher()
	telemetry := &mockTelemetry{}

	r := New(registry, publisher, telemetry, nil)
	r.Start(context.Background())
	defer r.Stop()

	registry.Upsert(fan.Fan{Serial: "AB12", Address: "192.168.1.50", Port: 80})
	waitFor(t, time.Second, func() bool {
		_, ok := publisher.retainedPayload("openfan/fan/AB12/state")
		return ok
	})

	registry.Remove("AB12")
	waitFor(t, time.Second, func() bool {
		return publisher.eventCount("openfan/fan/AB12/event/device_lost") == 1
	})

	payload, _ := publisher.retainedPayload("openfan/fan/AB12/state")
	if len(payload) != 0 {
		t.Errorf("retained payload after loss = %s, want empty (cleared)", payload)
	}

	waitFor(t, time.Second, func() bool {
		gauge, ok := telemetry.lastGauge()
		return ok && gauge == [2]int{0, 0}
	})
}

func TestRelay_NilSinksSkipped(t *testing.T) {
	registry := fan.NewRegistry()

	r := New(registry, nil, nil, nil)
	r.Start(context.Background())
	defer r.Stop()

	// Nothing to assert beyond not panicking.
	registry.Upsert(fan.Fan{Serial: "AB12"})
	registry.ApplySpeed("AB12", 50)
	registry.Remove("AB12")
	time.Sleep(50 * time.Millisecond)
}

func TestRelay_SinkFailureDoesNotStopForwarding(t *testing.T) {
	registry := fan.NewRegistry()
	publisher := newMockPublisher()
	publisher.err = errors.New("broker gone")
	history := &mockHistory{}

	r := New(registry, publisher, nil, history)
	r.Start(context.Background())
	defer r.Stop()

	registry.Upsert(fan.Fan{Serial: "AB12"})

	// History still records despite the publish failures.
	waitFor(t, time.Second, func() bool { return history.recordCount() == 1 })
}

func TestRelay_RepublishAll(t *testing.T) {
	registry := fan.NewRegistry()
	registry.Upsert(fan.Fan{Serial: "AB12", Address: "192.168.1.50", Port: 80})
	registry.Upsert(fan.Fan{Serial: "CD34", Address: "192.168.1.51", Port: 80})

	publisher := newMockPublisher()
	r := New(registry, publisher, nil, nil)

	r.RepublishAll()

	for _, serial := range []string{"AB12", "CD34"} {
		if _, ok := publisher.retainedPayload("openfan/fan/" + serial + "/state"); !ok {
			t.Errorf("state for %s not republished", serial)
		}
	}
}

func TestRelay_StartStopIdempotent(t *testing.T) {
	registry := fan.NewRegistry()
	r := New(registry, nil, nil, nil)

	ctx := context.Background()
	r.Start(ctx)
	r.Start(ctx) // no-op

	r.Stop()
	r.Stop() // no-op

	r.Start(ctx)
	r.Stop()
}
