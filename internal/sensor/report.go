// Package sensor defines the floor-register report and command types and the
// JSON wire format spoken by the devices.
package sensor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// DefaultPort is the UDP port both the devices and floorreg bind to.
const DefaultPort = 65432

// Literal datagrams understood by the device firmware.
const (
	DiscoveryMessage = "Who is there?"
	OpenMessage      = "Knock-Knock, Open Up!"
	CloseMessage     = "Shut the Door!"
)

var (
	// ErrNotStructured is returned for datagrams that do not start with '{'.
	ErrNotStructured = errors.New("datagram is not a structured report")
	// ErrMissingTemperature is returned when a report has no temperature field.
	ErrMissingTemperature = errors.New("report has no temperature")
)

// Report is one reading sent by a device in answer to a discovery broadcast.
// Empty Identity and SourceAddress mean the field was absent.
type Report struct {
	Identity      string
	Temperature   float64
	SourceAddress string
	DoorOpen      *bool
}

// Command is a literal datagram queued for a single device.
type Command struct {
	Address string
	Port    uint16
	Payload string
}

// wireReport mirrors the JSON object sent by the firmware.
type wireReport struct {
	Name        *string  `json:"name,omitempty"`
	Temperature *float64 `json:"temperature"`
	SenderIP    *string  `json:"sender_ip,omitempty"`
	IsOpened    *bool    `json:"is_opened,omitempty"`
}

// Decode parses a datagram into a Report. The sender_ip claimed by the device
// is kept as-is; the receive path overwrites it with the real peer address.
func Decode(data []byte) (Report, error) {
	if !bytes.HasPrefix(data, []byte("{")) {
		return Report{}, ErrNotStructured
	}

	var w wireReport
	if err := json.Unmarshal(data, &w); err != nil {
		return Report{}, fmt.Errorf("decoding report: %w", err)
	}
	if w.Temperature == nil {
		return Report{}, ErrMissingTemperature
	}

	r := Report{
		Temperature: *w.Temperature,
		DoorOpen:    w.IsOpened,
	}
	if w.Name != nil {
		r.Identity = *w.Name
	}
	if w.SenderIP != nil {
		r.SourceAddress = *w.SenderIP
	}
	return r, nil
}

// MarshalJSON encodes the report with the same field names the devices use.
func (r Report) MarshalJSON() ([]byte, error) {
	w := wireReport{
		Temperature: &r.Temperature,
		IsOpened:    r.DoorOpen,
	}
	if r.Identity != "" {
		w.Name = &r.Identity
	}
	if r.SourceAddress != "" {
		w.SenderIP = &r.SourceAddress
	}
	return json.Marshal(w)
}

// WithSource returns a copy of r with SourceAddress set to host.
func (r Report) WithSource(host string) Report {
	r.SourceAddress = host
	return r
}

// WithDoor returns a copy of r with DoorOpen set.
func (r Report) WithDoor(open bool) Report {
	r.DoorOpen = &open
	return r
}

// Command builds the open or close command for the device that sent r.
// It reports false when the source address is unknown.
func (r Report) Command(open bool, port uint16) (Command, bool) {
	if r.SourceAddress == "" {
		return Command{}, false
	}
	return NewCommand(r.SourceAddress, port, open), true
}

// NewCommand returns the open or close command for addr:port.
func NewCommand(addr string, port uint16, open bool) Command {
	payload := CloseMessage
	if open {
		payload = OpenMessage
	}
	return Command{Address: addr, Port: port, Payload: payload}
}

// Action names the command payload ("open", "close" or "raw").
func (c Command) Action() string {
	switch c.Payload {
	case OpenMessage:
		return "open"
	case CloseMessage:
		return "close"
	default:
		return "raw"
	}
}

// HostOf returns the bare host of a peer address.
func HostOf(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	if u, ok := addr.(*net.UDPAddr); ok {
		if ip, ok := netip.AddrFromSlice(u.IP); ok {
			return ip.Unmap().String()
		}
	}
	return NormalizeHost(addr.String())
}

// NormalizeHost strips socket-address decoration such as "/10.0.0.7:54321"
// or "[::ffff:10.0.0.7]:54321" down to "10.0.0.7".
func NormalizeHost(s string) string {
	s = strings.TrimPrefix(strings.TrimSpace(s), "/")
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().Unmap().String()
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	s = strings.Trim(s, "[]")
	if ip, err := netip.ParseAddr(s); err == nil {
		return ip.Unmap().String()
	}
	return s
}
