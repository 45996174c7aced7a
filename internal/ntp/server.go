// ABOUTME: UDP network time responder for RAOP receivers
// ABOUTME: Answers timing requests with NTP receive and transmit timestamps
package ntp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Server answers RAOP timing requests on one UDP socket
type Server struct {
	conn net.PacketConn
	log  *logrus.Entry
	now  func() time.Time

	closeOnce sync.Once
}

// Listen opens the timing socket on addr
func Listen(addr string) (*Server, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to open ntp socket: %w", err)
	}
	return NewServer(conn), nil
}

// NewServer serves timing requests arriving on conn
func NewServer(conn net.PacketConn) *Server {
	return &Server{
		conn: conn,
		log:  logrus.WithFields(logrus.Fields{"component": "ntp", "addr": conn.LocalAddr().String()}),
		now:  time.Now,
	}
}

// Addr returns the bound socket address
func (s *Server) Addr() net.Addr { return s.conn.LocalAddr() }

// Serve answers requests until ctx ends or the server is closed
func (s *Server) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	s.log.Info("Network time server listening")

	buf := make([]byte, 256)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("ntp read: %w", err)
		}
		recv := s.now()

		req, err := Unmarshal(buf[:n])
		if err != nil || req.Type != TypeRequest {
			s.log.WithField("peer", addr.String()).Debug("Ignoring non-timing packet")
			continue
		}

		resp := Reply(req, recv, s.now())
		if _, err := s.conn.WriteTo(resp.Marshal(), addr); err != nil {
			s.log.WithError(err).WithField("peer", addr.String()).Warn("Failed to send timing response")
		}
	}
}

// Close stops the server
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.conn.Close() })
	return err
}
