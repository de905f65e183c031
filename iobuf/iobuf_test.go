// SPDX-License-Identifier: GPL-3.0-or-later

package iobuf_test

import (
	"testing"

	"github.com/netreactor/pump/iobuf"
	"github.com/stretchr/testify/assert"
)

func TestNewCopies(t *testing.T) {
	data := []byte("hello")
	buf := iobuf.New(data)
	data[0] = 'X'
	assert.Equal(t, []byte("hello"), buf.Bytes())
}

func TestAdvance(t *testing.T) {
	buf := iobuf.New([]byte("hello world"))
	assert.Equal(t, 11, buf.Len())
	buf.Advance(6)
	assert.Equal(t, "world", string(buf.Bytes()))
	assert.Equal(t, 5, buf.Len())
	assert.False(t, buf.Empty())
	buf.Advance(5)
	assert.True(t, buf.Empty())
}

func TestRetainRelease(t *testing.T) {
	buf := iobuf.New([]byte("payload"))
	buf.Retain()
	buf.Release()
	assert.Equal(t, "payload", string(buf.Bytes()))
	buf.Release()
}

func TestAdvancePastEndPanics(t *testing.T) {
	buf := iobuf.New([]byte("hi"))
	assert.Panics(t, func() { buf.Advance(10) })
}
