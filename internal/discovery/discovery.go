// Package discovery advertises and locates chat servers over mDNS.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/kstaniek/ircprobe/internal/logging"
	"github.com/kstaniek/ircprobe/internal/metrics"
)

// ServiceType is the DNS-SD service advertised by ircrefd.
const ServiceType = "_irc._tcp"

const domain = "local."

// ErrNotFound is returned when a browse window closes without a usable entry.
var ErrNotFound = errors.New("no mdns service found")

// DefaultInstance returns "<prefix>-<hostname>".
func DefaultInstance(prefix string) string {
	host, _ := os.Hostname()
	if host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s-%s", prefix, host)
}

// Register advertises a service on port and returns a cleanup function. The
// advertisement is also withdrawn when ctx ends.
func Register(ctx context.Context, instance string, port int, meta []string) (func(), error) {
	svc, err := zeroconf.Register(instance, ServiceType, domain, port, meta, nil)
	if err != nil {
		metrics.IncError(metrics.ErrDiscovery)
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	var closed bool
	return func() {
		if closed {
			return
		}
		closed = true
		close(done)
		time.Sleep(50 * time.Millisecond)
	}, nil
}

// Endpoint is a resolved service instance.
type Endpoint struct {
	Instance string
	Host     string
	Port     int
	Text     []string
}

func (e Endpoint) Addr() string { return net.JoinHostPort(e.Host, fmt.Sprint(e.Port)) }

// Browse waits up to timeout for the first resolvable instance of
// ServiceType.
func Browse(ctx context.Context, timeout time.Duration) (Endpoint, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		metrics.IncError(metrics.ErrDiscovery)
		return Endpoint{}, fmt.Errorf("mdns resolver: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	entries := make(chan *zeroconf.ServiceEntry, 4)
	if err := resolver.Browse(ctx, ServiceType, domain, entries); err != nil {
		metrics.IncError(metrics.ErrDiscovery)
		return Endpoint{}, fmt.Errorf("mdns browse: %w", err)
	}
	for {
		select {
		case e, ok := <-entries:
			if !ok {
				return Endpoint{}, ErrNotFound
			}
			if ep, ok := toEndpoint(e); ok {
				logging.L().Info("mdns_resolved", "instance", ep.Instance, "addr", ep.Addr())
				return ep, nil
			}
		case <-ctx.Done():
			return Endpoint{}, ErrNotFound
		}
	}
}

// toEndpoint prefers an IPv4 address, then IPv6, then the advertised host
// name.
func toEndpoint(e *zeroconf.ServiceEntry) (Endpoint, bool) {
	if e == nil || e.Port <= 0 {
		return Endpoint{}, false
	}
	ep := Endpoint{Instance: e.Instance, Port: e.Port, Text: e.Text}
	switch {
	case len(e.AddrIPv4) > 0:
		ep.Host = e.AddrIPv4[0].String()
	case len(e.AddrIPv6) > 0:
		ep.Host = e.AddrIPv6[0].String()
	case e.HostName != "":
		ep.Host = e.HostName
	default:
		return Endpoint{}, false
	}
	return ep, true
}
