package netx

import (
	"errors"
	"io"
	"time"
)

type Addr string

// ErrTimeout is returned by Accept when no peer connected within the timeout.
var ErrTimeout = errors.New("netx: timeout")

type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() Addr
	SetDeadline(t time.Time) error
}

// Network is one bound listener plus a dialer. Accept and Dial take a timeout;
// zero means no deadline.
type Network interface {
	Listen(bindAddr string) (listenAddr Addr, err error)
	Accept(timeout time.Duration) (Conn, error)
	Dial(addr Addr, timeout time.Duration) (Conn, error)
	Close() error
}
