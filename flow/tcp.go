// SPDX-License-Identifier: GPL-3.0-or-later

package flow

import (
	"fmt"

	"github.com/netreactor/pump/address"
	"github.com/netreactor/pump/iobuf"
	"github.com/netreactor/pump/poll"
	"golang.org/x/sys/unix"
)

// TCPFlow owns one connected, non-blocking TCP socket. It has no notion of
// transport state (STARTING/STOPPING/...); it only issues syscalls and
// reports [Result].
type TCPFlow struct {
	fd     int
	id     uint64
	local  address.Endpoint
	remote address.Endpoint
}

var _ poll.Channel = (*TCPFlow)(nil)

// NewTCPFlow wraps an already-connected, non-blocking fd (produced by
// [DialTCP] or an acceptor) as a TCPFlow.
func NewTCPFlow(fd int, local, remote address.Endpoint) *TCPFlow {
	return &TCPFlow{fd: fd, id: poll.NewChannelID(), local: local, remote: remote}
}

// ID implements [poll.Channel].
func (f *TCPFlow) ID() uint64 { return f.id }

// FD implements [poll.Channel].
func (f *TCPFlow) FD() int { return f.fd }

// OnReadEvent implements [poll.Channel]; wired by the owning transport via
// a capability record rather than embedding transport logic here (spec §9
// "dynamic dispatch" design note). The zero-value implementation is a
// no-op so TCPFlow alone satisfies [poll.Channel] for tests.
func (f *TCPFlow) OnReadEvent() {}

// OnSendEvent implements [poll.Channel].
func (f *TCPFlow) OnSendEvent() {}

// OnErrorEvent implements [poll.Channel].
func (f *TCPFlow) OnErrorEvent(error) {}

// LocalAddr returns the flow's local endpoint.
func (f *TCPFlow) LocalAddr() address.Endpoint { return f.local }

// RemoteAddr returns the flow's remote endpoint.
func (f *TCPFlow) RemoteAddr() address.Endpoint { return f.remote }

// Close releases the underlying fd. Idempotent is the caller's
// responsibility (the owning transport only calls this once, from its CAS
// winner path).
func (f *TCPFlow) Close() error {
	return unix.Close(f.fd)
}

// Read performs one non-blocking read, returning a freshly wrapped
// [iobuf.Buffer] on success.
func (f *TCPFlow) Read(maxSize int) (*iobuf.Buffer, Result) {
	return readSome(f.fd, maxSize)
}

// Send writes as much of buf's unread bytes as the kernel will currently
// accept, advancing buf's read cursor by the amount written.
func (f *TCPFlow) Send(buf *iobuf.Buffer) (int, Result) {
	if buf.Empty() {
		return 0, ResultNoData
	}
	n, res := writeAll(f.fd, buf.Bytes())
	if n > 0 {
		buf.Advance(n)
	}
	return n, res
}

// newNonblockingSocket creates a non-blocking TCP socket of the given
// address family with SO_REUSEADDR set (spec §4.2 "init").
func newNonblockingSocket(family int) (int, error) {
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("flow: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("flow: setsockopt(SO_REUSEADDR): %w", err)
	}
	return fd, nil
}

func setTCPNoDelay(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return fmt.Errorf("flow: setsockopt(TCP_NODELAY): %w", err)
	}
	return nil
}

func sockaddrFamily(ep address.Endpoint) int {
	if ep.Family() == address.FamilyIPv6 {
		return unix.AF_INET6
	}
	return unix.AF_INET
}

func sockaddrOf(ep address.Endpoint) unix.Sockaddr {
	if ep.Family() == address.FamilyIPv6 {
		sa := &unix.SockaddrInet6{Port: int(ep.Port())}
		sa.Addr = ep.IP().As16()
		return sa
	}
	sa := &unix.SockaddrInet4{Port: int(ep.Port())}
	sa.Addr = ep.IP().As4()
	return sa
}
