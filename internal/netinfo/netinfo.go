// Package netinfo works out which broadcast address discovery should target.
package netinfo

import (
	"fmt"
	"net"
	"slices"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// LimitedBroadcast is used when no interface address can be found.
const LimitedBroadcast = "255.255.255.255"

// BroadcastAddress returns the subnet broadcast address for networkRange. With
// an empty range it uses the first up, non-loopback IPv4 interface, and falls
// back to the limited broadcast address.
func BroadcastAddress(networkRange string) (string, error) {
	if networkRange != "" {
		return DirectedBroadcast(networkRange)
	}

	ifaces, err := psnet.Interfaces()
	if err != nil {
		return "", fmt.Errorf("listing interfaces: %w", err)
	}
	if b, ok := fromInterfaces(ifaces); ok {
		return b, nil
	}
	return LimitedBroadcast, nil
}

// DirectedBroadcast returns the broadcast address of an IPv4 CIDR such as
// "192.168.1.17/24" (192.168.1.255).
func DirectedBroadcast(cidr string) (string, error) {
	_, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return "", fmt.Errorf("parsing network range: %w", err)
	}
	ip := broadcastIP(ipNet)
	if ip == nil {
		return "", fmt.Errorf("network range %s is not IPv4", cidr)
	}
	return ip.String(), nil
}

func fromInterfaces(ifaces psnet.InterfaceStatList) (string, bool) {
	for _, iface := range ifaces {
		if slices.Contains(iface.Flags, "loopback") || !slices.Contains(iface.Flags, "up") {
			continue
		}
		for _, addr := range iface.Addrs {
			ip, ipNet, err := net.ParseCIDR(addr.Addr)
			if err != nil || ip.To4() == nil || ip.IsLinkLocalUnicast() {
				continue
			}
			if b := broadcastIP(ipNet); b != nil {
				return b.String(), true
			}
		}
	}
	return "", false
}

func broadcastIP(n *net.IPNet) net.IP {
	ip := n.IP.To4()
	if ip == nil {
		return nil
	}
	mask := n.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	b := make(net.IP, len(ip))
	for i := range ip {
		b[i] = ip[i] | ^mask[i]
	}
	return b
}
