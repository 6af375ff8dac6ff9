package peerlink

import (
	"net"
	"strings"
)

// cgnat is the shared address space used by carrier NAT, Tailscale and
// Cloudflare WARP. Direct links from it rarely work.
var cgnat = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

var tunnelNames = []string{"tun", "tap", "wg", "ppp", "warp", "utun"}

type netInterface struct {
	name     string
	up       bool
	loopback bool
	addrs    []net.IP
}

// ShouldForceRelay reports whether the host looks like it sits behind a VPN
// or carrier NAT, where only TURN-relayed links connect reliably.
func ShouldForceRelay() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}

	list := make([]netInterface, 0, len(ifaces))
	for _, iface := range ifaces {
		ni := netInterface{
			name:     iface.Name,
			up:       iface.Flags&net.FlagUp != 0,
			loopback: iface.Flags&net.FlagLoopback != 0,
		}
		if addrs, err := iface.Addrs(); err == nil {
			for _, addr := range addrs {
				switch v := addr.(type) {
				case *net.IPNet:
					ni.addrs = append(ni.addrs, v.IP)
				case *net.IPAddr:
					ni.addrs = append(ni.addrs, v.IP)
				}
			}
		}
		list = append(list, ni)
	}
	return forceRelayFor(list)
}

func forceRelayFor(ifaces []netInterface) bool {
	for _, iface := range ifaces {
		if !iface.up || iface.loopback {
			continue
		}

		name := strings.ToLower(iface.name)
		for _, marker := range tunnelNames {
			if strings.Contains(name, marker) {
				return true
			}
		}

		for _, ip := range iface.addrs {
			if cgnat.Contains(ip) {
				return true
			}
		}
	}
	return false
}
