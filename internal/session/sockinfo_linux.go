//go:build linux

package session

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// SockInfo reads TCP_INFO for the current connection.
func (s *Session) SockInfo() (SockInfo, error) {
	tcp, ok := s.current().(*net.TCPConn)
	if !ok {
		return SockInfo{}, ErrNotConnected
	}
	raw, err := tcp.SyscallConn()
	if err != nil {
		return SockInfo{}, fmt.Errorf("syscall conn: %w", err)
	}
	var (
		info *unix.TCPInfo
		gerr error
	)
	if err := raw.Control(func(fd uintptr) {
		info, gerr = unix.GetsockoptTCPInfo(int(fd), unix.IPPROTO_TCP, unix.TCP_INFO)
	}); err != nil {
		return SockInfo{}, fmt.Errorf("control: %w", err)
	}
	if gerr != nil {
		return SockInfo{}, fmt.Errorf("getsockopt(TCP_INFO): %w", gerr)
	}
	return SockInfo{
		RTT:          time.Duration(info.Rtt) * time.Microsecond,
		Unacked:      info.Unacked,
		Lost:         info.Lost,
		TotalRetrans: info.Total_retrans,
	}, nil
}
