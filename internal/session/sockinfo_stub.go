//go:build !linux

package session

func (s *Session) SockInfo() (SockInfo, error) { return SockInfo{}, ErrSockInfoUnsupported }
