// Package socket defines the narrow datagram-socket abstraction UDPCP's
// engine consumes, plus a concrete UDP implementation. The engine treats the
// socket as an external collaborator (per the protocol's scope) — this
// interface is its entire contract with the network.
package socket

import (
	"errors"
	"net"
	"time"
)

// Socket is the datagram transport the engine drives. Implementations must
// make Recv's timeout errors distinguishable from other errors via IsTimeout.
type Socket interface {
	// SetReadTimeout bounds how long Recv may block.
	SetReadTimeout(d time.Duration) error
	// SendTo writes b to addr.
	SendTo(b []byte, addr net.Addr) (int, error)
	// Recv blocks (up to the read timeout) for one datagram, returning its
	// length and source address.
	Recv(buf []byte) (n int, from net.Addr, err error)
	// LocalAddr reports the address the socket is bound to.
	LocalAddr() net.Addr
	// Close releases the socket.
	Close() error
}

// IsTimeout reports whether err is a Recv timeout, as opposed to a
// transient or fatal transport error.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// UDPSocket is the production Socket backed by a *net.UDPConn, grounded on
// the listen/resolve pattern UDPCP's teacher uses for its own UDP transport.
type UDPSocket struct {
	conn    *net.UDPConn
	timeout time.Duration
}

// Listen binds a UDP socket at localAddr (host:port, or ":port" /
// "" to bind any interface on an OS-assigned or given port).
func Listen(localAddr string) (*UDPSocket, error) {
	addr, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}

	return &UDPSocket{conn: conn}, nil
}

// SetReadTimeout records the per-Recv timeout; it is applied fresh before
// every subsequent Recv call rather than as a one-shot absolute deadline,
// since net.Conn deadlines do not re-arm themselves.
func (s *UDPSocket) SetReadTimeout(d time.Duration) error {
	s.timeout = d
	if d <= 0 {
		return s.conn.SetReadDeadline(time.Time{})
	}
	return nil
}

func (s *UDPSocket) SendTo(b []byte, addr net.Addr) (int, error) {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return 0, errors.New("socket: addr is not a *net.UDPAddr")
	}
	return s.conn.WriteToUDP(b, udpAddr)
}

func (s *UDPSocket) Recv(buf []byte) (int, net.Addr, error) {
	if s.timeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
			return 0, nil, err
		}
	}
	n, addr, err := s.conn.ReadFromUDP(buf)
	return n, addr, err
}

func (s *UDPSocket) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *UDPSocket) Close() error {
	return s.conn.Close()
}

// ResolveTarget resolves addr (host:port, ":port", or empty) to a *net.UDPAddr,
// binding to all interfaces when addr is empty or port-only.
func ResolveTarget(addr string) (*net.UDPAddr, error) {
	if addr == "" {
		return &net.UDPAddr{IP: net.IPv4zero, Port: 0}, nil
	}
	return net.ResolveUDPAddr("udp", addr)
}
