// SPDX-License-Identifier: GPL-3.0-or-later

package flow

import (
	"fmt"

	"github.com/netreactor/pump/address"
	"github.com/netreactor/pump/iobuf"
	"github.com/netreactor/pump/poll"
	"golang.org/x/sys/unix"
)

// UDPFlow owns one bound, non-blocking UDP socket. UDP has no connection
// state (spec §4.2): every read yields one datagram plus its sender,
// every send targets an explicit remote endpoint.
type UDPFlow struct {
	fd    int
	id    uint64
	local address.Endpoint
}

var _ poll.Channel = (*UDPFlow)(nil)

// ListenUDP creates and binds a non-blocking UDP socket to addr.
func ListenUDP(addr address.Endpoint) (*UDPFlow, error) {
	fd, err := unix.Socket(sockaddrFamily(addr), unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("flow: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("flow: setsockopt(SO_REUSEADDR): %w", err)
	}
	if err := unix.Bind(fd, sockaddrOf(addr)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("flow: bind: %w", err)
	}
	local := addr
	if sa, err := unix.Getsockname(fd); err == nil {
		local = endpointOf(sa)
	}
	return &UDPFlow{fd: fd, id: poll.NewChannelID(), local: local}, nil
}

// ID implements [poll.Channel].
func (f *UDPFlow) ID() uint64 { return f.id }

// FD implements [poll.Channel].
func (f *UDPFlow) FD() int { return f.fd }

// OnReadEvent implements [poll.Channel].
func (f *UDPFlow) OnReadEvent() {}

// OnSendEvent implements [poll.Channel].
func (f *UDPFlow) OnSendEvent() {}

// OnErrorEvent implements [poll.Channel].
func (f *UDPFlow) OnErrorEvent(error) {}

// LocalAddr returns the endpoint the socket is bound to.
func (f *UDPFlow) LocalAddr() address.Endpoint { return f.local }

// Close releases the socket.
func (f *UDPFlow) Close() error { return unix.Close(f.fd) }

// ReadFrom receives one datagram of up to maxSize bytes, along with the
// sender's endpoint.
func (f *UDPFlow) ReadFrom(maxSize int) (*iobuf.Buffer, address.Endpoint, Result) {
	tmp := make([]byte, maxSize)
	n, sa, err := unix.Recvfrom(f.fd, tmp, 0)
	if err != nil {
		return nil, address.Endpoint{}, classifySyscallErr(err)
	}
	return iobuf.Wrap(tmp[:n]), endpointOf(sa), ResultNo
}

// SendTo sends one complete datagram to remote. UDP sends are atomic at
// the syscall level: either the whole datagram is accepted by the kernel
// (ResultNo) or it is rejected (ResultAgain/ResultAbort); there is no
// partial-datagram case.
func (f *UDPFlow) SendTo(data []byte, remote address.Endpoint) Result {
	err := unix.Sendto(f.fd, data, 0, sockaddrOf(remote))
	if err != nil {
		return classifySyscallErr(err)
	}
	return ResultNo
}
