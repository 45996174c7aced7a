// ABOUTME: Zeroconf publication of the daemon's control service
// ABOUTME: Advertises _mpd._tcp over mDNS and browses for other daemons
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/sirupsen/logrus"

	"github.com/Resonate-Protocol/resonated/internal/version"
)

// ServiceType is the dns-sd service type published for the daemon
const ServiceType = "_mpd._tcp"

// ErrNoAddress is returned when no interface address can be published
var ErrNoAddress = errors.New("no usable interface address")

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
}

// Publisher advertises the daemon via mDNS
type Publisher struct {
	config Config
	log    *logrus.Entry

	mu     sync.Mutex
	server *mdns.Server
}

// ServerInfo describes a discovered daemon
type ServerInfo struct {
	Name string
	Host string
	Port int
}

// NewPublisher creates a publisher for config
func NewPublisher(config Config) *Publisher {
	return &Publisher{
		config: config,
		log:    logrus.WithFields(logrus.Fields{"component": "zeroconf", "service": config.ServiceName}),
	}
}

// Advertise starts answering mDNS queries for the service
func (p *Publisher) Advertise() error {
	ips, err := localIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}
	if len(ips) == 0 {
		return ErrNoAddress
	}

	service, err := newService(p.config, ips)
	if err != nil {
		return err
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	p.mu.Lock()
	old := p.server
	p.server = server
	p.mu.Unlock()
	if old != nil {
		old.Shutdown()
	}

	p.log.WithField("port", p.config.Port).Infof("Advertising %s", ServiceType)
	return nil
}

// Stop withdraws the service
func (p *Publisher) Stop() {
	p.mu.Lock()
	server := p.server
	p.server = nil
	p.mu.Unlock()

	if server != nil {
		if err := server.Shutdown(); err != nil {
			p.log.WithError(err).Warn("mDNS shutdown failed")
		}
	}
}

func newService(config Config, ips []net.IP) (*mdns.MDNSService, error) {
	service, err := mdns.NewMDNSService(
		config.ServiceName,
		ServiceType,
		"",
		"",
		config.Port,
		ips,
		[]string{"version=" + version.Version, "product=" + version.Product},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}
	return service, nil
}

// Browse collects daemons answering on the local network until timeout or
// ctx ends
func Browse(ctx context.Context, timeout time.Duration) ([]ServerInfo, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	var found []ServerInfo
	done := make(chan struct{})

	go func() {
		defer close(done)
		for entry := range entries {
			host := entry.Host
			if entry.AddrV4 != nil {
				host = entry.AddrV4.String()
			}
			found = append(found, ServerInfo{Name: entry.Name, Host: host, Port: entry.Port})
			logrus.WithField("component", "zeroconf").Debugf("Discovered %s at %s:%d", entry.Name, host, entry.Port)
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Timeout = timeout
	params.Entries = entries
	params.DisableIPv6 = true

	errc := make(chan error, 1)
	go func() { errc <- mdns.Query(params) }()

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
		err = ctx.Err()
		// Query returns once its timeout elapses
		<-errc
	}
	close(entries)
	<-done

	if err != nil {
		return found, fmt.Errorf("mdns query: %w", err)
	}
	return found, nil
}

// localIPs returns the IPv4 addresses of every up, non-loopback interface
func localIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
