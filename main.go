// floorreg — floor sensor registry and door controller
//
// Usage:
//
//	floorreg node          — run the UDP transport, registry and RPC socket
//	floorreg list          — list sensors known to the running node
//	floorreg open <name>   — ask a sensor to open its door
//	floorreg close <name>  — ask a sensor to close its door
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"floorreg/cmd/control"
	"floorreg/cmd/node"
)

const (
	defaultSystemPath = "/etc/floorreg/config.toml"
	defaultLocalPath  = "config.toml"
	version           = "0.3.0"
)

func main() {
	// FLOORREG_* overrides may live in a local .env file.
	_ = godotenv.Load()

	configPath, args := parseArgs(os.Args[1:])
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// Auto-discover config if not specified
	if configPath == "" {
		if _, err := os.Stat(defaultLocalPath); err == nil {
			configPath = defaultLocalPath
		} else {
			configPath = defaultSystemPath
		}
	}

	subcommand, rest := args[0], args[1:]
	var err error

	switch subcommand {
	case "node":
		err = node.Run(configPath)
	case "list", "ls":
		err = control.List(configPath)
	case "open":
		err = control.Door(configPath, rest, true)
	case "close":
		err = control.Door(configPath, rest, false)
	case "watch":
		err = control.Watch(configPath)
	case "history":
		err = control.History(configPath, rest)
	case "edit":
		err = node.EditConfig(configPath)
	case "version":
		fmt.Printf("floorreg v%s\n", version)
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseArgs strips --config <path> and --config=<path> from args.
func parseArgs(in []string) (configPath string, args []string) {
	for i := 0; i < len(in); i++ {
		arg := in[i]
		if arg == "--config" && i+1 < len(in) {
			configPath = in[i+1]
			i++
			continue
		}
		if v, ok := strings.CutPrefix(arg, "--config="); ok {
			configPath = v
			continue
		}
		args = append(args, arg)
	}
	return configPath, args
}

func printUsage() {
	fmt.Printf(`floorreg v%s — floor sensor registry and door controller

Usage:
  floorreg <command> [--config <path>]

Commands:
  node            Run the sensor node (UDP discovery, reports, commands)
  list            List sensors known to the running node
  open <name>     Queue an open command for a sensor
  close <name>    Queue a close command for a sensor
  watch           Redraw the sensor list every few seconds
  history [n]     Show the last n commands (default 20)
  edit            Edit the configuration file in your system editor
  version         Print version information
  help            Show this help message

Options:
  --config <path>  Path to config file (default: looks for ./config.toml, then %s)

Environment:
  FLOORREG_* variables (also read from ./.env) override config keys,
  e.g. FLOORREG_BROADCAST_ADDRESS, FLOORREG_MQTT_BROKER.

Examples:
  floorreg node                  # Start the node with default config
  floorreg open Bedroom          # Ask the Bedroom sensor to open
  floorreg history 50            # Last 50 commands

`, version, defaultSystemPath)
}
