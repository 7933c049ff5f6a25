package util

import (
	"net"
	"strconv"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

const listenBacklog = 16

// FdConn is a raw socket descriptor. Reads and writes never block once the
// descriptor is non-blocking, and report unix.EAGAIN instead.
type FdConn struct {
	fd int
}

func NewFdConn(fd int) *FdConn {
	return &FdConn{fd: fd}
}

func (c *FdConn) Fd() int {
	return c.fd
}

func (c *FdConn) Read(p []byte) (int, error) {
	n, err := unix.Read(c.fd, p)
	if n < 0 {
		n = 0
	}
	return n, err
}

func (c *FdConn) Writev(bufs [][]byte) (int, error) {
	n, err := unix.Writev(c.fd, bufs)
	if n < 0 {
		n = 0
	}
	return n, err
}

func (c *FdConn) Close() error {
	if c.fd < 0 {
		return nil
	}
	err := unix.Close(c.fd)
	c.fd = -1
	return err
}

func sockaddr(host string, port int) (unix.Sockaddr, int, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil {
			return nil, 0, errors.Wrapf(err, "cannot resolve %v", host)
		}
		if len(ips) == 0 {
			return nil, 0, errors.Errorf("no address found for %v", host)
		}
		ip = ips[0]
	}
	if ip4 := ip.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}
	sa := &unix.SockaddrInet6{Port: port}
	copy(sa.Addr[:], ip.To16())
	return sa, unix.AF_INET6, nil
}

func address(sa unix.Sockaddr) string {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(sa.Addr[:]).String(), strconv.Itoa(sa.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(sa.Addr[:]).String(), strconv.Itoa(sa.Port))
	}
	return "unknown"
}

// Listen opens a non-blocking TCP listening socket.
func Listen(host string, port int) (_ *FdConn, err error) {
	sa, family, err := sockaddr(host, port)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create listening socket")
	}
	defer func() {
		if err != nil {
			unix.Close(fd)
		}
	}()

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return nil, errors.Wrap(err, "failed to set SO_REUSEADDR")
	}
	if err := unix.Bind(fd, sa); err != nil {
		return nil, errors.Wrapf(err, "failed to bind %v", address(sa))
	}
	if err := unix.Listen(fd, listenBacklog); err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %v", address(sa))
	}
	return NewFdConn(fd), nil
}

// Connect dials host:port with a blocking connect and returns the socket in
// non-blocking mode.
func Connect(host string, port int) (_ *FdConn, err error) {
	sa, family, err := sockaddr(host, port)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create socket")
	}
	defer func() {
		if err != nil {
			unix.Close(fd)
		}
	}()

	for {
		err = unix.Connect(fd, sa)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %v", address(sa))
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, errors.Wrap(err, "failed to set non-blocking mode")
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return nil, errors.Wrap(err, "failed to set TCP_NODELAY")
	}
	return NewFdConn(fd), nil
}

// Accept takes one pending connection off a listening socket. It returns
// unix.EAGAIN when none is pending.
func Accept(l *FdConn) (*FdConn, string, error) {
	for {
		fd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			unix.Close(fd)
			return nil, "", errors.Wrap(err, "failed to set TCP_NODELAY")
		}
		return NewFdConn(fd), address(sa), nil
	}
}

// LocalPort returns the port a socket is bound to.
func LocalPort(c *FdConn) (int, error) {
	sa, err := unix.Getsockname(c.fd)
	if err != nil {
		return 0, errors.Wrap(err, "failed to get socket name")
	}
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return sa.Port, nil
	case *unix.SockaddrInet6:
		return sa.Port, nil
	}
	return 0, errors.Errorf("unexpected socket address %T", sa)
}
