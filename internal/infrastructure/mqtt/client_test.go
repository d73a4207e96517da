package mqtt

import (
	"strings"
	"testing"

	"github.com/nerrad567/openfan-core/internal/infrastructure/config"
)

func TestTopics(t *testing.T) {
	topics := Topics{}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"fan state", topics.FanState("48CA43DBD6F4"), "openfan/fan/48CA43DBD6F4/state"},
		{"fan event", topics.FanEvent("48CA43DBD6F4", "device_found"), "openfan/fan/48CA43DBD6F4/event/device_found"},
		{"system status", topics.SystemStatus(), "openfan/system/status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTT{
		Host:     "broker.local",
		Port:     1883,
		ClientID: "openfan-core",
		Username: "fanuser",
		Password: "secret",
		QoS:      1,
	}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 {
		t.Fatalf("servers = %d, want 1", len(opts.Servers))
	}
	if got := opts.Servers[0].String(); got != "tcp://broker.local:1883" {
		t.Errorf("broker URL = %q", got)
	}
	if opts.ClientID != "openfan-core" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "fanuser" {
		t.Errorf("Username = %q", opts.Username)
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect not enabled")
	}
	if !opts.CleanSession {
		t.Error("CleanSession not enabled")
	}
}

func TestConfigureLWT(t *testing.T) {
	cfg := config.MQTT{Host: "broker.local", Port: 1883, ClientID: "openfan-core"}
	opts := buildClientOptions(cfg)
	configureLWT(opts, cfg.ClientID)

	if !opts.WillEnabled {
		t.Fatal("LWT not enabled")
	}
	if opts.WillTopic != "openfan/system/status" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}
	if !opts.WillRetained {
		t.Error("LWT not retained")
	}

	payload := string(opts.WillPayload)
	if !strings.Contains(payload, `"status":"offline"`) {
		t.Errorf("LWT payload missing offline status: %s", payload)
	}
	if !strings.Contains(payload, `"reason":"unexpected_disconnect"`) {
		t.Errorf("LWT payload missing crash reason: %s", payload)
	}
}

func TestStatusPayloads(t *testing.T) {
	online := buildOnlinePayload("openfan-core")
	if !strings.Contains(online, `"status":"online"`) || !strings.Contains(online, `"client_id":"openfan-core"`) {
		t.Errorf("online payload malformed: %s", online)
	}

	offline := buildOfflinePayload("openfan-core")
	if !strings.Contains(offline, `"status":"offline"`) || !strings.Contains(offline, `"reason":"graceful_shutdown"`) {
		t.Errorf("offline payload malformed: %s", offline)
	}
}
