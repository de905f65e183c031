//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/common/errclass/errclass.go
//

// Package errclass classifies network and transport errors into short,
// stable strings suitable for structured logging and metrics.
//
// The platform-specific files (unix.go, windows.go) supply the raw
// syscall error numbers; this file maps them, together with a handful
// of well-known stdlib sentinel errors, onto the exported class names.
package errclass

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// Class names. These are intentionally close to the POSIX errno names
// so that logs read naturally to anyone who has debugged a socket
// before; EGENERIC and EEOF are the two classes with no errno analogue.
const (
	EADDRNOTAVAIL   = "EADDRNOTAVAIL"
	EADDRINUSE      = "EADDRINUSE"
	ECONNABORTED    = "ECONNABORTED"
	ECONNREFUSED    = "ECONNREFUSED"
	ECONNRESET      = "ECONNRESET"
	EEOF            = "EEOF"
	EGENERIC        = "EGENERIC"
	EHOSTUNREACH    = "EHOSTUNREACH"
	EINVAL          = "EINVAL"
	EINTR           = "EINTR"
	ENETDOWN        = "ENETDOWN"
	ENETUNREACH     = "ENETUNREACH"
	ENOBUFS         = "ENOBUFS"
	ENOTCONN        = "ENOTCONN"
	EPROTONOSUPPORT = "EPROTONOSUPPORT"
	ETIMEDOUT       = "ETIMEDOUT"
)

// New classifies err into one of the class constants above, or returns
// the empty string when err is nil. Unrecognized errors are classified
// as [EGENERIC] rather than causing New to panic or return an empty
// string, since an empty string is reserved for "no error".
func New(err error) string {
	if err == nil {
		return ""
	}

	// Timeouts show up both as context errors and as net.Error.Timeout,
	// depending on which layer observed them first.
	if errors.Is(err, context.DeadlineExceeded) {
		return ETIMEDOUT
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ETIMEDOUT
	}

	if errors.Is(err, io.EOF) {
		return EEOF
	}
	if errors.Is(err, net.ErrClosed) {
		return ECONNABORTED
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		if class, ok := classifyErrno(errno); ok {
			return class
		}
	}

	var sysErr *os.SyscallError
	if errors.As(err, &sysErr) {
		var inner syscall.Errno
		if errors.As(sysErr.Err, &inner) {
			if class, ok := classifyErrno(inner); ok {
				return class
			}
		}
	}

	return EGENERIC
}

func classifyErrno(errno syscall.Errno) (string, bool) {
	switch errno {
	case errEADDRNOTAVAIL:
		return EADDRNOTAVAIL, true
	case errEADDRINUSE:
		return EADDRINUSE, true
	case errECONNABORTED:
		return ECONNABORTED, true
	case errECONNREFUSED:
		return ECONNREFUSED, true
	case errECONNRESET:
		return ECONNRESET, true
	case errEHOSTUNREACH:
		return EHOSTUNREACH, true
	case errEINVAL:
		return EINVAL, true
	case errEINTR:
		return EINTR, true
	case errENETDOWN:
		return ENETDOWN, true
	case errENETUNREACH:
		return ENETUNREACH, true
	case errENOBUFS:
		return ENOBUFS, true
	case errENOTCONN:
		return ENOTCONN, true
	case errEPROTONOSUPPORT:
		return EPROTONOSUPPORT, true
	case errETIMEDOUT:
		return ETIMEDOUT, true
	default:
		return "", false
	}
}
