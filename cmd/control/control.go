// Package control implements the floorreg client commands that talk to a
// running node over its RPC socket.
package control

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"floorreg/internal/journal"
	"floorreg/internal/registry"
	"floorreg/internal/rpc"
	"floorreg/pkg/config"
)

const (
	watchInterval  = 2 * time.Second
	defaultHistory = 20
	clearScreen    = "\033[H\033[2J"
)

func dial(configPath string) (*rpc.Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	client, err := rpc.NewClient(cfg.Control.RPCSocket)
	if err != nil {
		return nil, fmt.Errorf("connecting to node: %w\nIs 'floorreg node' running?", err)
	}
	return client, nil
}

// List prints every sensor the node has heard from.
func List(configPath string) error {
	client, err := dial(configPath)
	if err != nil {
		return err
	}
	defer client.Close()

	sensors, err := client.ListSensors()
	if err != nil {
		return fmt.Errorf("fetching sensors: %w", err)
	}
	if len(sensors) == 0 {
		fmt.Println("No sensors have reported yet.")
		return nil
	}

	fmt.Printf("\n  Sensors (%d found)\n\n", len(sensors))
	displaySensorTable(os.Stdout, sensors)
	return nil
}

// Door queues an open or close command for the named sensor.
func Door(configPath string, args []string, open bool) error {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return fmt.Errorf("expected exactly one sensor name")
	}

	client, err := dial(configPath)
	if err != nil {
		return err
	}
	defer client.Close()

	cmd, err := client.SendCommand(args[0], open)
	if err != nil {
		return fmt.Errorf("sending command: %w", err)
	}
	fmt.Printf("✓ Queued %q for %s (%s:%d)\n", cmd.Payload, args[0], cmd.Address, cmd.Port)
	return nil
}

// History prints the most recent journalled commands. args may hold a
// record count.
func History(configPath string, args []string) error {
	limit := defaultHistory
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid record count: %s", args[0])
		}
		limit = n
	}

	client, err := dial(configPath)
	if err != nil {
		return err
	}
	defer client.Close()

	records, err := client.RecentCommands(limit)
	if err != nil {
		return fmt.Errorf("fetching history: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No commands recorded.")
		return nil
	}
	displayHistoryTable(os.Stdout, records)
	return nil
}

// Watch redraws the sensor table until interrupted. Output to a pipe is
// appended instead of redrawn.
func Watch(configPath string) error {
	client, err := dial(configPath)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	interactive := term.IsTerminal(int(os.Stdout.Fd()))
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		if err := drawWatch(os.Stdout, client, interactive); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case <-ticker.C:
		}
	}
}

func drawWatch(w io.Writer, client *rpc.Client, interactive bool) error {
	status, err := client.Status()
	if err != nil {
		return fmt.Errorf("fetching status: %w", err)
	}
	sensors, err := client.ListSensors()
	if err != nil {
		return fmt.Errorf("fetching sensors: %w", err)
	}

	if interactive {
		fmt.Fprint(w, clearScreen)
	}
	state := "not bound"
	if status.Listening {
		state = "listening on " + status.LocalAddr
	}
	discovery := "never"
	if !status.LastDiscovery.IsZero() {
		discovery = status.LastDiscovery.Local().Format("15:04:05")
	}
	fmt.Fprintf(w, "  floorreg %s · %d queued · %d subscribers · last discovery %s · %s\n\n",
		state, status.Pending, status.Subscribers, discovery, time.Now().Format("15:04:05"))
	displaySensorTable(w, sensors)
	return nil
}

func displaySensorTable(w io.Writer, sensors []registry.Entry) {
	fmt.Fprintf(w, "  %-4s %-20s %-16s %-8s %-6s %-10s %-8s\n",
		"#", "Name", "Address", "Temp", "Door", "Last Seen", "Reports")
	fmt.Fprintf(w, "  %s %s %s %s %s %s %s\n",
		strings.Repeat("─", 4),
		strings.Repeat("─", 20),
		strings.Repeat("─", 16),
		strings.Repeat("─", 8),
		strings.Repeat("─", 6),
		strings.Repeat("─", 10),
		strings.Repeat("─", 8))

	for i, e := range sensors {
		name := e.Report.Identity
		if name == "" {
			name = "(unnamed)"
		}
		address := e.Report.SourceAddress
		if address == "" {
			address = "-"
		}
		lastSeen := e.LastSeen.Format("15:04:05")
		if !e.Active {
			lastSeen += "*"
		}

		fmt.Fprintf(w, "  %-4d %-20s %-16s %-8s %-6s %-10s %-8d\n",
			i+1,
			truncate(name, 20),
			address,
			strconv.FormatFloat(e.Report.Temperature, 'f', 1, 64),
			doorState(e.Report.DoorOpen),
			lastSeen,
			e.Reports,
		)
	}
}

func displayHistoryTable(w io.Writer, records []journal.Record) {
	fmt.Fprintf(w, "  %-6s %-19s %-20s %-6s %-21s %-6s\n",
		"Seq", "Time", "Name", "Action", "Target", "Origin")
	for _, r := range records {
		fmt.Fprintf(w, "  %-6d %-19s %-20s %-6s %-21s %-6s\n",
			r.Seq,
			r.At.Local().Format("2006-01-02 15:04:05"),
			truncate(r.Identity, 20),
			r.Action,
			fmt.Sprintf("%s:%d", r.Address, r.Port),
			r.Origin,
		)
	}
}

func doorState(open *bool) string {
	switch {
	case open == nil:
		return "?"
	case *open:
		return "open"
	default:
		return "shut"
	}
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-1]) + "…"
}
