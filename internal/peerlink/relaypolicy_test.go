package peerlink

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForceRelayFor(t *testing.T) {
	eth := netInterface{name: "eth0", up: true, addrs: []net.IP{net.ParseIP("192.168.1.20")}}

	cases := []struct {
		name   string
		ifaces []netInterface
		want   bool
	}{
		{"plain lan", []netInterface{eth}, false},
		{"wireguard", []netInterface{eth, {name: "wg0", up: true}}, true},
		{"down tunnel ignored", []netInterface{eth, {name: "tun0"}}, false},
		{"loopback ignored", []netInterface{{name: "lo", up: true, loopback: true, addrs: []net.IP{net.ParseIP("100.64.0.1")}}}, false},
		{"cgnat address", []netInterface{{name: "en0", up: true, addrs: []net.IP{net.ParseIP("100.101.5.6")}}}, true},
		{"just outside cgnat", []netInterface{{name: "en0", up: true, addrs: []net.IP{net.ParseIP("100.128.0.1")}}}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, forceRelayFor(tc.ifaces))
		})
	}
}
