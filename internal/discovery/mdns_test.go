// ABOUTME: Tests for zeroconf publication
// ABOUTME: Checks the published service record without touching the network
package discovery

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPublisher(t *testing.T) {
	p := NewPublisher(Config{ServiceName: "Living Room", Port: 6600})
	require.NotNil(t, p)
	assert.Equal(t, "Living Room", p.config.ServiceName)

	// Stopping an idle publisher is harmless
	p.Stop()
}

func TestServiceRecord(t *testing.T) {
	ips := []net.IP{net.ParseIP("192.168.1.20")}
	svc, err := newService(Config{ServiceName: "Living Room", Port: 6600}, ips)
	require.NoError(t, err)

	assert.Equal(t, "Living Room", svc.Instance)
	assert.Equal(t, ServiceType, svc.Service)
	assert.Equal(t, 6600, svc.Port)
	assert.Equal(t, ips, svc.IPs)
	require.Len(t, svc.TXT, 2)
	assert.Contains(t, svc.TXT[0], "version=")
}

func TestLocalIPsSkipsLoopback(t *testing.T) {
	ips, err := localIPs()
	require.NoError(t, err)
	for _, ip := range ips {
		assert.False(t, ip.IsLoopback())
		assert.NotNil(t, ip.To4())
	}
}
