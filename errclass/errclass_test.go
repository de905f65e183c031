// SPDX-License-Identifier: GPL-3.0-or-later

package errclass_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/netreactor/pump/errclass"
	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	assert.Equal(t, "", errclass.New(nil))
	assert.Equal(t, errclass.ETIMEDOUT, errclass.New(context.DeadlineExceeded))
	assert.Equal(t, errclass.EEOF, errclass.New(io.EOF))
	assert.Equal(t, errclass.ECONNABORTED, errclass.New(net.ErrClosed))
	assert.Equal(t, errclass.EGENERIC, errclass.New(errors.New("boom")))
}

func TestNewWrapsErrno(t *testing.T) {
	err := fmt.Errorf("connect: %w", &net.OpError{
		Op:  "dial",
		Err: os.NewSyscallError("connect", syscall.ECONNREFUSED),
	})
	assert.Equal(t, errclass.ECONNREFUSED, errclass.New(err))
}
