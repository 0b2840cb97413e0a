package refserver

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

// Start runs a server in the background and waits until it is listening.
// The returned stop function cancels Serve and shuts the server down.
func Start(ctx context.Context, opts ...ServerOption) (*Server, func(), error) {
	srv := NewServer(opts...)
	ctx, cancel := context.WithCancel(ctx)
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ctx) }()
	select {
	case <-srv.Ready():
	case err := <-errc:
		cancel()
		if err == nil {
			err = fmt.Errorf("%w: serve returned before listening", ErrListen)
		}
		return nil, nil, err
	case <-time.After(2 * time.Second):
		cancel()
		return nil, nil, fmt.Errorf("%w: not ready", ErrListen)
	}
	stop := func() {
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
	}
	return srv, stop, nil
}

// HostPort splits the bound address for clients. An unspecified listen host
// is reported as loopback.
func (s *Server) HostPort() (string, int) {
	host, port, err := net.SplitHostPort(s.Addr())
	if err != nil {
		return "127.0.0.1", s.Port()
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	p, _ := strconv.Atoi(port)
	return host, p
}
