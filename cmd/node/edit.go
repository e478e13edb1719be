package node

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

const defaultConfigTemplate = `[node]
  # network_range   = "192.168.1.0/24"   # used to derive the broadcast address
  # broadcast_address = "192.168.1.255"  # overrides network_range
  bind_address       = "0.0.0.0"
  port               = 65432
  discovery_interval = "10s"
  receive_timeout    = "500ms"
  journal_path       = "/var/lib/floorreg/commands.db"
  journal_keep       = 1000
  rpc_socket         = "/run/floorreg/node.sock"
  stale_threshold    = "5m"
  # metrics_addr     = ":9105"
  log_level          = "info"

[control]
  rpc_socket = "/run/floorreg/node.sock"

[mqtt]
  # broker       = "tcp://localhost:1883"
  client_id    = "floorreg"
  topic_prefix = "floorreg"
`

// EditConfig opens the configuration file in the system editor, writing
// the default template first if the file does not exist.
func EditConfig(path string) error {
	created, err := ensureConfig(path)
	if err != nil {
		return err
	}
	if created {
		fmt.Printf("Created new config file at %s\n", path)
	}

	editor, err := findEditor(os.Getenv("EDITOR"), exec.LookPath)
	if err != nil {
		return err
	}

	cmd := exec.Command(editor, path)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// ensureConfig writes defaultConfigTemplate to path unless a file is
// already there.
func ensureConfig(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("checking %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, fmt.Errorf("creating directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0644); err != nil {
		return false, fmt.Errorf("writing default config: %w", err)
	}
	return true, nil
}

func findEditor(env string, lookPath func(string) (string, error)) (string, error) {
	if env != "" {
		return env, nil
	}
	for _, e := range []string{"vi", "nano", "vim"} {
		if _, err := lookPath(e); err == nil {
			return e, nil
		}
	}
	return "", fmt.Errorf("no editor found ($EDITOR not set, and vi/nano/vim not in PATH)")
}
