package refserver

import (
	"fmt"
	"net"
	"time"

	"github.com/kstaniek/ircprobe/internal/irc"
)

// greet writes the unsolicited notice every connection receives before
// registration.
func (s *Server) greet(c net.Conn) error {
	_ = c.SetWriteDeadline(time.Now().Add(s.handshakeTimeout))
	defer func() { _ = c.SetWriteDeadline(time.Time{}) }()
	line := ":" + s.name + " " + irc.Encode(irc.CmdNotice, "*", "Please authenticate with PASS command")
	if _, err := c.Write([]byte(line)); err != nil {
		return fmt.Errorf("write notice: %w", err)
	}
	return nil
}
