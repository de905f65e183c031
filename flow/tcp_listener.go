// SPDX-License-Identifier: GPL-3.0-or-later

package flow

import (
	"fmt"

	"github.com/netreactor/pump/address"
	"github.com/netreactor/pump/poll"
	"golang.org/x/sys/unix"
)

// TCPListenFlow owns a non-blocking listening socket. Its Accept is called
// by an acceptor from the poller thread once readiness fires.
type TCPListenFlow struct {
	fd    int
	id    uint64
	local address.Endpoint
}

var _ poll.Channel = (*TCPListenFlow)(nil)

// ListenTCP creates, binds, and listens on a non-blocking TCP socket for
// addr, with a listen backlog of backlog connections.
func ListenTCP(addr address.Endpoint, backlog int) (*TCPListenFlow, error) {
	fd, err := newNonblockingSocket(sockaddrFamily(addr))
	if err != nil {
		return nil, err
	}
	if err := unix.Bind(fd, sockaddrOf(addr)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("flow: bind: %w", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("flow: listen: %w", err)
	}
	local := addr
	if sa, err := unix.Getsockname(fd); err == nil {
		local = endpointOf(sa)
	}
	return &TCPListenFlow{fd: fd, id: poll.NewChannelID(), local: local}, nil
}

// ID implements [poll.Channel].
func (f *TCPListenFlow) ID() uint64 { return f.id }

// FD implements [poll.Channel].
func (f *TCPListenFlow) FD() int { return f.fd }

// OnReadEvent implements [poll.Channel]; wired by the acceptor.
func (f *TCPListenFlow) OnReadEvent() {}

// OnSendEvent implements [poll.Channel].
func (f *TCPListenFlow) OnSendEvent() {}

// OnErrorEvent implements [poll.Channel].
func (f *TCPListenFlow) OnErrorEvent(error) {}

// LocalAddr returns the endpoint the listener is bound to.
func (f *TCPListenFlow) LocalAddr() address.Endpoint { return f.local }

// Close releases the listening socket.
func (f *TCPListenFlow) Close() error { return unix.Close(f.fd) }

// Accept performs one non-blocking accept4. ResultAgain means no pending
// connection right now; ResultAbort means the listener's fd is no longer
// usable.
func (f *TCPListenFlow) Accept() (*TCPFlow, Result) {
	connFD, sa, err := unix.Accept4(f.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return nil, classifySyscallErr(err)
	}
	setTCPNoDelay(connFD)
	remote := endpointOf(sa)
	local := f.local
	if lsa, err := unix.Getsockname(connFD); err == nil {
		local = endpointOf(lsa)
	}
	return NewTCPFlow(connFD, local, remote), ResultNo
}

// TCPDialFlow drives a non-blocking connect() to completion.
type TCPDialFlow struct {
	fd     int
	id     uint64
	local  address.Endpoint
	remote address.Endpoint
}

var _ poll.Channel = (*TCPDialFlow)(nil)

// DialTCP begins a non-blocking connect to remote. The caller must wait
// for write-readiness (or completion, in the completion poller) and then
// call [TCPDialFlow.CheckConnected].
func DialTCP(remote address.Endpoint) (*TCPDialFlow, error) {
	fd, err := newNonblockingSocket(sockaddrFamily(remote))
	if err != nil {
		return nil, err
	}
	setTCPNoDelay(fd)
	err = unix.Connect(fd, sockaddrOf(remote))
	if err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, fmt.Errorf("flow: connect: %w", err)
	}
	return &TCPDialFlow{fd: fd, id: poll.NewChannelID(), remote: remote}, nil
}

// ID implements [poll.Channel].
func (f *TCPDialFlow) ID() uint64 { return f.id }

// FD implements [poll.Channel].
func (f *TCPDialFlow) FD() int { return f.fd }

// OnReadEvent implements [poll.Channel].
func (f *TCPDialFlow) OnReadEvent() {}

// OnSendEvent implements [poll.Channel].
func (f *TCPDialFlow) OnSendEvent() {}

// OnErrorEvent implements [poll.Channel].
func (f *TCPDialFlow) OnErrorEvent(error) {}

// Close releases the connecting socket (used when the connect times out or
// fails).
func (f *TCPDialFlow) Close() error { return unix.Close(f.fd) }

// CheckConnected polls SO_ERROR to find out whether the non-blocking
// connect completed successfully. ResultAgain means still in progress (the
// caller should not normally see this once write-readiness fired, but a
// spurious wakeup is possible); ResultNo means connected; ResultAbort means
// the connect failed.
func (f *TCPDialFlow) CheckConnected() (*TCPFlow, Result) {
	errno, err := unix.GetsockoptInt(f.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return nil, ResultAbort
	}
	if errno == int(unix.EINPROGRESS) {
		return nil, ResultAgain
	}
	if errno != 0 {
		return nil, ResultAbort
	}
	local := address.Endpoint{}
	if lsa, err := unix.Getsockname(f.fd); err == nil {
		local = endpointOf(lsa)
	}
	return NewTCPFlow(f.fd, local, f.remote), ResultNo
}
