package session

import (
	"errors"
	"time"
)

// ErrSockInfoUnsupported is returned where TCP_INFO is unavailable.
var ErrSockInfoUnsupported = errors.New("socket info unsupported")

// SockInfo is a kernel view of the session's TCP socket, used to observe
// send-side backpressure during floods.
type SockInfo struct {
	RTT          time.Duration
	Unacked      uint32
	Lost         uint32
	TotalRetrans uint32
}
