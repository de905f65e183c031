// SPDX-License-Identifier: GPL-3.0-or-later

// Package flow implements the thin per-socket I/O facade sitting directly
// on top of a file descriptor (spec §4.2): it issues the recv/send/accept/
// connect syscalls and translates OS error codes into [Result], the
// flow-level result enum. Transports (package transport) never touch a
// socket directly — they always go through a Flow.
package flow

import (
	"errors"
	"io"
	"net"
	"net/netip"

	"github.com/netreactor/pump/address"
	"github.com/netreactor/pump/iobuf"
	"golang.org/x/sys/unix"
)

// Result is the flow-level outcome of a read/send/connect/accept attempt
// (spec §4.2). It is distinct from [transport's] public Code: a flow never
// sees STARTING/STOPPING, only what the syscall just did.
type Result int

const (
	// ResultNo means the operation fully completed (all bytes moved, or a
	// new connection was accepted).
	ResultNo Result = iota
	// ResultAgain means the operation is incomplete and must be retried
	// once the fd becomes ready again (EAGAIN/EWOULDBLOCK).
	ResultAgain
	// ResultNoData means there is nothing to do right now — an empty send
	// queue, or (for read) a spurious wakeup with no bytes available.
	ResultNoData
	// ResultAbort means the peer is gone or a hard error occurred; the
	// owning transport must move to DISCONNECTED/ERROR.
	ResultAbort
)

func (r Result) String() string {
	switch r {
	case ResultNo:
		return "NO"
	case ResultAgain:
		return "AGAIN"
	case ResultNoData:
		return "NO_DATA"
	case ResultAbort:
		return "ABORT"
	default:
		return "UNKNOWN"
	}
}

// classifySyscallErr maps a raw syscall error from a non-blocking socket
// operation to a [Result]. EAGAIN/EWOULDBLOCK/EINTR are always retryable;
// everything else is a hard abort (the caller is responsible for further
// classification via errclass for logging).
func classifySyscallErr(err error) Result {
	if err == nil {
		return ResultNo
	}
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR) {
		return ResultAgain
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return ResultAbort
	}
	return ResultAbort
}

// endpointOf converts a syscall sockaddr into an [address.Endpoint]. Unknown
// or nil sockaddrs yield the zero Endpoint.
func endpointOf(sa unix.Sockaddr) address.Endpoint {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := netip.AddrFrom4(v.Addr)
		return address.FromAddrPort(netip.AddrPortFrom(ip, uint16(v.Port)))
	case *unix.SockaddrInet6:
		ip := netip.AddrFrom16(v.Addr)
		return address.FromAddrPort(netip.AddrPortFrom(ip, uint16(v.Port)))
	default:
		return address.Endpoint{}
	}
}

// writeAll issues one write of data to fd, returning the number of bytes
// the kernel accepted and a Result ([ResultAgain] when that is fewer than
// len(data)).
func writeAll(fd int, data []byte) (int, Result) {
	n, err := unix.Write(fd, data)
	if err != nil {
		return 0, classifySyscallErr(err)
	}
	if n < len(data) {
		return n, ResultAgain
	}
	return n, ResultNo
}

// readSome performs a single non-blocking read into a freshly allocated
// [iobuf.Buffer] of up to maxSize bytes.
func readSome(fd int, maxSize int) (*iobuf.Buffer, Result) {
	tmp := make([]byte, maxSize)
	n, err := unix.Read(fd, tmp)
	if err != nil {
		return nil, classifySyscallErr(err)
	}
	if n == 0 {
		return nil, ResultAbort // peer performed an orderly shutdown
	}
	return iobuf.Wrap(tmp[:n]), ResultNo
}
