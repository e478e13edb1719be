package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(cfgPath, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func TestLoad_ValidConfig(t *testing.T) {
	cfgPath := writeConfig(t, `
[node]
  network_range = "192.168.0.0/24"
  broadcast_address = "192.168.0.255"
  port = 65432
  discovery_interval = "15s"
  receive_timeout = "750ms"
  journal_path = "/tmp/commands.db"
  rpc_socket = "/tmp/floorreg.sock"
  metrics_addr = ":9105"
  log_level = "debug"

[control]
  rpc_socket = "/tmp/other.sock"

[mqtt]
  broker = "tcp://localhost:1883"
  topic_prefix = "home/floor"
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Node.NetworkRange != "192.168.0.0/24" {
		t.Errorf("Node.NetworkRange: got %s, want 192.168.0.0/24", cfg.Node.NetworkRange)
	}
	if cfg.Node.BroadcastAddress != "192.168.0.255" {
		t.Errorf("Node.BroadcastAddress: got %s, want 192.168.0.255", cfg.Node.BroadcastAddress)
	}
	if cfg.Node.JournalPath != "/tmp/commands.db" {
		t.Errorf("Node.JournalPath: got %s, want /tmp/commands.db", cfg.Node.JournalPath)
	}
	if cfg.Node.LogLevel != "debug" {
		t.Errorf("Node.LogLevel: got %s, want debug", cfg.Node.LogLevel)
	}
	if cfg.Control.RPCSocket != "/tmp/other.sock" {
		t.Errorf("Control.RPCSocket: got %s, want /tmp/other.sock", cfg.Control.RPCSocket)
	}
	if cfg.MQTT.TopicPrefix != "home/floor" {
		t.Errorf("MQTT.TopicPrefix: got %s, want home/floor", cfg.MQTT.TopicPrefix)
	}

	d, err := cfg.Node.ParseReceiveTimeout()
	if err != nil || d != 750*time.Millisecond {
		t.Errorf("ReceiveTimeout: got %v (%v), want 750ms", d, err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	// Minimal config, all defaults should apply
	cfgPath := writeConfig(t, `
[node]
  log_level = "warn"
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Node.Port != 65432 {
		t.Errorf("default Port: got %d, want 65432", cfg.Node.Port)
	}
	if cfg.Node.BindAddress != "0.0.0.0" {
		t.Errorf("default BindAddress: got %s, want 0.0.0.0", cfg.Node.BindAddress)
	}
	if cfg.Node.DiscoveryInterval != "10s" {
		t.Errorf("default DiscoveryInterval: got %s, want 10s", cfg.Node.DiscoveryInterval)
	}
	if cfg.Node.ReceiveTimeout != "500ms" {
		t.Errorf("default ReceiveTimeout: got %s, want 500ms", cfg.Node.ReceiveTimeout)
	}
	if cfg.Node.JournalPath != "" {
		t.Errorf("default JournalPath: got %s, want empty", cfg.Node.JournalPath)
	}
	if cfg.Control.RPCSocket != cfg.Node.RPCSocket {
		t.Errorf("Control.RPCSocket should follow Node.RPCSocket, got %s", cfg.Control.RPCSocket)
	}
	if cfg.MQTT.Broker != "" {
		t.Errorf("MQTT should be disabled by default, got broker %s", cfg.MQTT.Broker)
	}
}

func TestLoad_NonexistentFile(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	cfgPath := writeConfig(t, "invalid [[[ toml")

	_, err := Load(cfgPath)
	if err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FLOORREG_BROADCAST_ADDRESS", "10.0.0.255")
	t.Setenv("FLOORREG_MQTT_PASSWORD", "s3cret")
	t.Setenv("FLOORREG_PORT", "40000")

	cfgPath := writeConfig(t, `
[node]
  broadcast_address = "192.168.0.255"
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Node.BroadcastAddress != "10.0.0.255" {
		t.Errorf("BroadcastAddress: got %s, want 10.0.0.255", cfg.Node.BroadcastAddress)
	}
	if cfg.MQTT.Password != "s3cret" {
		t.Errorf("MQTT.Password: got %s, want s3cret", cfg.MQTT.Password)
	}
	if cfg.Node.Port != 40000 {
		t.Errorf("Port: got %d, want 40000", cfg.Node.Port)
	}
}

func TestApplyEnv_IgnoresBadPort(t *testing.T) {
	cfg := &Config{Node: NodeConfig{Port: 1234}}
	cfg.ApplyEnv(func(key string) (string, bool) {
		if key == "FLOORREG_PORT" {
			return "not-a-number", true
		}
		return "", false
	})
	if cfg.Node.Port != 1234 {
		t.Errorf("Port: got %d, want 1234", cfg.Node.Port)
	}
}

func TestParseDiscoveryInterval_Default(t *testing.T) {
	cfg := &NodeConfig{}
	d, err := cfg.ParseDiscoveryInterval()
	if err != nil {
		t.Fatalf("parse interval: %v", err)
	}
	if d != 10*time.Second {
		t.Errorf("Default interval: got %v, want 10s", d)
	}
}

func TestParseDiscoveryInterval_RejectsBelowMinimum(t *testing.T) {
	for _, v := range []string{"1s", "9999ms", "0s", "-10s"} {
		cfg := &NodeConfig{DiscoveryInterval: v}
		if _, err := cfg.ParseDiscoveryInterval(); err == nil {
			t.Errorf("expected error for discovery_interval %q", v)
		}
	}

	cfg := &NodeConfig{DiscoveryInterval: "30s"}
	d, err := cfg.ParseDiscoveryInterval()
	if err != nil || d != 30*time.Second {
		t.Errorf("30s: got %v (%v)", d, err)
	}
}

func TestLoad_RejectsFastDiscovery(t *testing.T) {
	cfgPath := writeConfig(t, `
[node]
  discovery_interval = "1s"
`)
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if _, err := cfg.Node.ParseDiscoveryInterval(); err == nil {
		t.Error("expected 1s discovery interval to be rejected")
	}
}

func TestParseReceiveTimeout_RejectsZero(t *testing.T) {
	cfg := &NodeConfig{ReceiveTimeout: "0s"}
	if _, err := cfg.ParseReceiveTimeout(); err == nil {
		t.Error("expected error for zero receive timeout")
	}
}

func TestParseStaleThreshold(t *testing.T) {
	cfg := &NodeConfig{StaleThreshold: "120s"}
	d, err := cfg.ParseStaleThreshold()
	if err != nil {
		t.Fatalf("parse threshold: %v", err)
	}
	if d.Seconds() != 120 {
		t.Errorf("Threshold: got %v, want 120s", d)
	}
}

func TestUDPPort(t *testing.T) {
	for _, bad := range []int{-1, 0, 70000} {
		cfg := &NodeConfig{Port: bad}
		if _, err := cfg.UDPPort(); err == nil {
			t.Errorf("expected error for port %d", bad)
		}
	}
	cfg := &NodeConfig{Port: 65432}
	if p, err := cfg.UDPPort(); err != nil || p != 65432 {
		t.Errorf("UDPPort: got %d (%v), want 65432", p, err)
	}
}
