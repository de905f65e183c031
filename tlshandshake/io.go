// SPDX-License-Identifier: GPL-3.0-or-later

package tlshandshake

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/netreactor/pump/flow"
	"github.com/netreactor/pump/iobuf"
)

const recordHeaderLen = 5

// writeRecord sends plaintext as a single, unencrypted TLS record (used
// only before any traffic keys exist: the client's initial ClientHello /
// HelloRetryRequest-triggered resend, or the server's ServerHello).
func writeRecord(ctx context.Context, f *flow.TCPFlow, contentType byte, payload []byte) error {
	header := []byte{contentType, 0x03, 0x03, 0, 0}
	binary.BigEndian.PutUint16(header[3:], uint16(len(payload)))
	return writeAll(ctx, f, append(header, payload...))
}

// writeEncryptedRecord seals payload under c and sends the resulting
// record.
func writeEncryptedRecord(ctx context.Context, f *flow.TCPFlow, c *recordCipher, contentType byte, payload []byte) error {
	return writeAll(ctx, f, c.Seal(contentType, payload))
}

func writeAll(ctx context.Context, f *flow.TCPFlow, data []byte) error {
	buf := iobuf.Wrap(append([]byte(nil), data...))
	for !buf.Empty() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("tlshandshake: write: %w", err)
		}
		_, res := f.Send(buf)
		switch res {
		case flow.ResultNo, flow.ResultNoData:
			return nil
		case flow.ResultAgain:
			time.Sleep(time.Millisecond)
		default:
			return fmt.Errorf("tlshandshake: flow send aborted")
		}
	}
	return nil
}

// readExact blocks (spinning on the non-blocking fd, bounded by ctx) until
// exactly n bytes have been read.
func readExact(ctx context.Context, f *flow.TCPFlow, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("tlshandshake: read: %w", err)
		}
		chunk, res := f.Read(n - len(out))
		switch res {
		case flow.ResultNo:
			out = append(out, chunk.Bytes()...)
		case flow.ResultAgain:
			time.Sleep(time.Millisecond)
		default:
			return nil, fmt.Errorf("tlshandshake: flow read aborted")
		}
	}
	return out, nil
}

// readHandshakeMessage reads one complete TLS record from the wire and
// returns its handshake-message payload. If c is non-nil, the record is
// treated as protected and decrypted first; otherwise it is read as a
// plaintext handshake record (used only for the first flight of either
// role, before traffic keys exist).
func readHandshakeMessage(ctx context.Context, f *flow.TCPFlow, c *recordCipher) ([]byte, error) {
	header, err := readExact(ctx, f, recordHeaderLen)
	if err != nil {
		return nil, err
	}
	length := int(binary.BigEndian.Uint16(header[3:]))
	body, err := readExact(ctx, f, length)
	if err != nil {
		return nil, err
	}

	if c == nil {
		return body, nil
	}
	contentType, plaintext, err := c.Open(header, body)
	if err != nil {
		return nil, err
	}
	if contentType == contentTypeAlert {
		return nil, fmt.Errorf("tlshandshake: received TLS alert during handshake")
	}
	if contentType != contentTypeHandshake {
		return nil, fmt.Errorf("tlshandshake: expected handshake record, got content type %d", contentType)
	}
	return plaintext, nil
}

// writeRecord is Handshaker's bound convenience wrapper around the
// role-agnostic free function above.
func (h *Handshaker) writeRecord(ctx context.Context, contentType byte, payload []byte) error {
	return writeRecord(ctx, h.flow, contentType, payload)
}

func (h *Handshaker) writeEncryptedRecord(ctx context.Context, c *recordCipher, contentType byte, payload []byte) error {
	return writeEncryptedRecord(ctx, h.flow, c, contentType, payload)
}

func (h *Handshaker) readHandshakeMessage(ctx context.Context, c *recordCipher) ([]byte, error) {
	return readHandshakeMessage(ctx, h.flow, c)
}
