// Package config provides TOML configuration loading for floorreg.
package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config is the top-level configuration structure.
type Config struct {
	Node    NodeConfig    `toml:"node"`
	Control ControlConfig `toml:"control"`
	MQTT    MQTTConfig    `toml:"mqtt"`
}

// NodeConfig holds settings for the sensor transport node.
type NodeConfig struct {
	NetworkRange      string `toml:"network_range"`
	BroadcastAddress  string `toml:"broadcast_address"`
	BindAddress       string `toml:"bind_address"`
	Port              int    `toml:"port"`
	DiscoveryInterval string `toml:"discovery_interval"`
	ReceiveTimeout    string `toml:"receive_timeout"`
	TTL               int    `toml:"ttl"`
	JournalPath       string `toml:"journal_path"`
	JournalKeep       int    `toml:"journal_keep"`
	RPCSocket         string `toml:"rpc_socket"`
	StaleThreshold    string `toml:"stale_threshold"`
	MetricsAddr       string `toml:"metrics_addr"`
	LogLevel          string `toml:"log_level"`
}

// ControlConfig holds settings for the list/open/close client commands.
type ControlConfig struct {
	RPCSocket string `toml:"rpc_socket"`
}

// MQTTConfig holds settings for the optional MQTT bridge. The bridge is
// disabled when Broker is empty.
type MQTTConfig struct {
	Broker      string `toml:"broker"`
	ClientID    string `toml:"client_id"`
	Username    string `toml:"username"`
	Password    string `toml:"password"`
	TopicPrefix string `toml:"topic_prefix"`
}

// MinDiscoveryInterval is the shortest accepted discovery_interval.
const MinDiscoveryInterval = 10 * time.Second

// ParseDiscoveryInterval parses the discovery interval string to a
// time.Duration. Values below MinDiscoveryInterval are rejected.
func (n *NodeConfig) ParseDiscoveryInterval() (time.Duration, error) {
	if n.DiscoveryInterval == "" {
		return MinDiscoveryInterval, nil
	}
	d, err := time.ParseDuration(n.DiscoveryInterval)
	if err != nil {
		return 0, err
	}
	if d < MinDiscoveryInterval {
		return 0, fmt.Errorf("discovery_interval must be at least %s, got %s", MinDiscoveryInterval, d)
	}
	return d, nil
}

// ParseReceiveTimeout parses the receive timeout string to a time.Duration.
func (n *NodeConfig) ParseReceiveTimeout() (time.Duration, error) {
	if n.ReceiveTimeout == "" {
		return 500 * time.Millisecond, nil
	}
	d, err := time.ParseDuration(n.ReceiveTimeout)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("receive_timeout must be positive, got %s", d)
	}
	return d, nil
}

// ParseStaleThreshold parses the stale threshold string to a time.Duration.
func (n *NodeConfig) ParseStaleThreshold() (time.Duration, error) {
	if n.StaleThreshold == "" {
		return 5 * time.Minute, nil
	}
	return time.ParseDuration(n.StaleThreshold)
}

// UDPPort returns Port as a UDP port number.
func (n *NodeConfig) UDPPort() (uint16, error) {
	if n.Port <= 0 || n.Port > 65535 {
		return 0, fmt.Errorf("port %d out of range", n.Port)
	}
	return uint16(n.Port), nil
}

// Load reads and parses a TOML config file, applying defaults for unset values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.ApplyEnv(os.LookupEnv)
	applyDefaults(cfg)
	cfg.expandPaths()
	return cfg, nil
}

// ApplyEnv overrides selected keys from FLOORREG_* variables looked up with
// lookup. Invalid numeric values are ignored.
func (cfg *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	str("FLOORREG_NETWORK_RANGE", &cfg.Node.NetworkRange)
	str("FLOORREG_BROADCAST_ADDRESS", &cfg.Node.BroadcastAddress)
	str("FLOORREG_LOG_LEVEL", &cfg.Node.LogLevel)
	str("FLOORREG_METRICS_ADDR", &cfg.Node.MetricsAddr)
	str("FLOORREG_MQTT_BROKER", &cfg.MQTT.Broker)
	str("FLOORREG_MQTT_USERNAME", &cfg.MQTT.Username)
	str("FLOORREG_MQTT_PASSWORD", &cfg.MQTT.Password)

	if v, ok := lookup("FLOORREG_PORT"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.Node.Port = n
		}
	}
}

func (cfg *Config) expandPaths() {
	cfg.Node.JournalPath = ExpandPath(cfg.Node.JournalPath)
	cfg.Node.RPCSocket = ExpandPath(cfg.Node.RPCSocket)
	cfg.Control.RPCSocket = ExpandPath(cfg.Control.RPCSocket)
}

// ExpandPath expands tilde (~) to the user's home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	usr, err := user.Current()
	if err != nil {
		return path
	}
	if path == "~" {
		return usr.HomeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(usr.HomeDir, path[2:])
	}
	return path
}

func applyDefaults(cfg *Config) {

	// Node defaults
	if cfg.Node.BindAddress == "" {
		cfg.Node.BindAddress = "0.0.0.0"
	}
	if cfg.Node.Port == 0 {
		cfg.Node.Port = 65432
	}
	if cfg.Node.DiscoveryInterval == "" {
		cfg.Node.DiscoveryInterval = "10s"
	}
	if cfg.Node.ReceiveTimeout == "" {
		cfg.Node.ReceiveTimeout = "500ms"
	}
	if cfg.Node.JournalKeep == 0 {
		cfg.Node.JournalKeep = 1000
	}
	if cfg.Node.RPCSocket == "" {
		cfg.Node.RPCSocket = "/run/floorreg/node.sock"
	}
	if cfg.Node.StaleThreshold == "" {
		cfg.Node.StaleThreshold = "5m"
	}
	if cfg.Node.LogLevel == "" {
		cfg.Node.LogLevel = "info"
	}

	// Control defaults
	if cfg.Control.RPCSocket == "" {
		cfg.Control.RPCSocket = cfg.Node.RPCSocket
	}

	// MQTT defaults
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "floorreg"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "floorreg"
	}
}
