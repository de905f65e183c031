// SPDX-License-Identifier: GPL-3.0-or-later

// Package httplayer is a thin HTTP/1.1 client round-tripper built on top of
// [transport.Dialer]/[transport.DialTLS], demonstrating the boundary
// between the reactor-style transport engine and an external protocol
// collaborator (spec §1): the transport engine owns the connection
// lifecycle, httplayer only ever sees it through the standard [net.Conn]
// and [http.RoundTripper] interfaces.
package httplayer

import (
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/netreactor/pump/address"
	"github.com/netreactor/pump/transport"
)

// transportConn is the subset of [*transport.TCPTransport] and
// [*transport.TLSTransport] that [connAdapter] needs; both satisfy it
// without modification since [transport.TLSTransport] embeds
// [*transport.TCPTransport] and overrides Send.
type transportConn interface {
	Start(svc *transport.Service, maxPendingSendBytes uint64, cb transport.Callbacks) transport.Code
	Send(data []byte) transport.Code
	ForceStop()
	LocalAddr() address.Endpoint
	RemoteAddr() address.Endpoint
}

// connAdapter wraps a [transportConn] as a [net.Conn]: reads are bridged
// from the transport's asynchronous OnRead callback through an [io.Pipe],
// writes are synchronous enqueues onto the transport's send queue with a
// spin-retry on backpressure (spec §4.3's CodeAgain): Write sleeps 1ms
// between attempts and gives up only once a write deadline is set and has
// passed; without a deadline it retries until Send stops returning
// CodeAgain.
//
// This exists so the thin HTTP/1.1 layer above can depend only on
// [net.Conn] and the standard library's request/response codec, never on
// transport's callback API directly.
type connAdapter struct {
	t transportConn

	pr *io.PipeReader
	pw *io.PipeWriter

	closeOnce sync.Once
	closeErr  error

	readDeadline  time.Time
	writeDeadline time.Time
}

var _ net.Conn = (*connAdapter)(nil)

// newConnAdapter starts t on svc, wiring its OnRead callback into the
// returned connAdapter's read side. The caller must not call t.Start
// itself.
func newConnAdapter(svc *transport.Service, t transportConn) (*connAdapter, error) {
	pr, pw := io.Pipe()
	c := &connAdapter{t: t, pr: pr, pw: pw}

	var once sync.Once
	fireEOF := func() {
		once.Do(func() { pw.CloseWithError(io.EOF) })
	}

	code := t.Start(svc, 4<<20, transport.Callbacks{
		OnRead: func(data []byte) {
			// Write blocks until the parsing goroutine's Read consumes
			// the bytes, which in turn blocks this transport's poller
			// goroutine until then — acceptable for a thin demo client
			// dedicated to one request at a time, not for a
			// high-throughput reactor workload.
			if _, err := pw.Write(data); err != nil {
				fireEOF()
			}
		},
		OnStopped:      fireEOF,
		OnDisconnected: fireEOF,
	})
	if code != transport.CodeOK {
		pw.Close()
		return nil, code
	}
	return c, nil
}

// Read implements [net.Conn].
func (c *connAdapter) Read(p []byte) (int, error) { return c.pr.Read(p) }

// Write implements [net.Conn]; it enqueues data on the transport's send
// queue, spin-retrying while the queue reports backpressure.
func (c *connAdapter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		switch c.t.Send(p) {
		case transport.CodeOK:
			return len(p), nil
		case transport.CodeAgain:
			if !c.writeDeadline.IsZero() && time.Now().After(c.writeDeadline) {
				return 0, os.ErrDeadlineExceeded
			}
			time.Sleep(time.Millisecond)
		default:
			return 0, net.ErrClosed
		}
	}
}

// Close implements [net.Conn].
func (c *connAdapter) Close() error {
	c.closeOnce.Do(func() {
		c.t.ForceStop()
		c.closeErr = c.pr.Close()
	})
	return c.closeErr
}

// LocalAddr implements [net.Conn].
func (c *connAdapter) LocalAddr() net.Addr { return c.t.LocalAddr().TCPAddr() }

// RemoteAddr implements [net.Conn].
func (c *connAdapter) RemoteAddr() net.Addr { return c.t.RemoteAddr().TCPAddr() }

// SetDeadline implements [net.Conn].
func (c *connAdapter) SetDeadline(t time.Time) error {
	c.readDeadline, c.writeDeadline = t, t
	return nil
}

// SetReadDeadline implements [net.Conn]. The transport engine has no
// per-read deadline primitive of its own; the pipe read simply blocks
// until OnRead delivers bytes or the transport reaches a terminal state.
func (c *connAdapter) SetReadDeadline(t time.Time) error {
	c.readDeadline = t
	return nil
}

// SetWriteDeadline implements [net.Conn].
func (c *connAdapter) SetWriteDeadline(t time.Time) error {
	c.writeDeadline = t
	return nil
}
