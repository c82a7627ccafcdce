package netx

import (
	"errors"
	"net"
	"os"
	"sync"
	"time"
)

type tcpNetwork struct {
	mu       sync.Mutex
	listener *net.TCPListener
}

func NewTCPNetwork() Network {
	return &tcpNetwork{}
}

func (t *tcpNetwork) Listen(bindAddr string) (Addr, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return "", err
	}
	t.listener = l.(*net.TCPListener)
	return Addr(l.Addr().String()), nil
}

func (t *tcpNetwork) Accept(timeout time.Duration) (Conn, error) {
	t.mu.Lock()
	l := t.listener
	t.mu.Unlock()

	if l == nil {
		return nil, net.ErrClosed
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := l.SetDeadline(deadline); err != nil {
		return nil, err
	}
	c, err := l.Accept()
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, err
	}
	return &tcpConn{Conn: c}, nil
}

func (t *tcpNetwork) Dial(addr Addr, timeout time.Duration) (Conn, error) {
	c, err := net.DialTimeout("tcp", string(addr), timeout)
	if err != nil {
		return nil, err
	}
	return &tcpConn{Conn: c}, nil
}

func (t *tcpNetwork) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener != nil {
		err := t.listener.Close()
		t.listener = nil
		return err
	}
	return nil
}

type tcpConn struct {
	net.Conn
}

func (c *tcpConn) RemoteAddr() Addr {
	return Addr(c.Conn.RemoteAddr().String())
}

// IsTimeout reports whether err is a deadline expiry from a Conn or Accept.
func IsTimeout(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
