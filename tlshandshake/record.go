// SPDX-License-Identifier: GPL-3.0-or-later

package tlshandshake

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

// recordContentType values (RFC 8446 §5.1).
const (
	contentTypeHandshake    byte = 22
	contentTypeApplication  byte = 23
	contentTypeChangeCipher byte = 20
	contentTypeAlert        byte = 21
)

// recordCipher seals/opens TLS 1.3 protected records for one traffic
// secret direction (RFC 8446 §5.2): AEAD nonce is the static IV XORed with
// an 8-byte big-endian sequence number, and the additional data is just
// the record header.
type recordCipher struct {
	aead cipher.AEAD
	iv   []byte
	seq  uint64
}

func newRecordCipher(key, iv []byte) (*recordCipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("tlshandshake: aes.NewCipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("tlshandshake: cipher.NewGCM: %w", err)
	}
	return &recordCipher{aead: aead, iv: append([]byte(nil), iv...)}, nil
}

func (c *recordCipher) nonce() []byte {
	nonce := append([]byte(nil), c.iv...)
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], c.seq)
	for i := range seqBytes {
		nonce[len(nonce)-8+i] ^= seqBytes[i]
	}
	return nonce
}

// Seal wraps plaintext (a complete handshake or application_data payload)
// with contentType as a TLSInnerPlaintext, encrypts it, and returns a
// complete TLS record (header + ciphertext).
func (c *recordCipher) Seal(contentType byte, plaintext []byte) []byte {
	inner := append(append([]byte(nil), plaintext...), contentType)
	ciphertextLen := len(inner) + c.aead.Overhead()

	header := []byte{contentTypeApplication, 0x03, 0x03, 0, 0}
	binary.BigEndian.PutUint16(header[3:], uint16(ciphertextLen))

	sealed := c.aead.Seal(nil, c.nonce(), inner, header)
	c.seq++
	return append(header, sealed...)
}

// Open decrypts one record's ciphertext (the portion after the 5-byte
// header), returning the inner content type and plaintext.
func (c *recordCipher) Open(header, ciphertext []byte) (contentType byte, plaintext []byte, err error) {
	inner, err := c.aead.Open(nil, c.nonce(), ciphertext, header)
	if err != nil {
		return 0, nil, fmt.Errorf("tlshandshake: record authentication failed: %w", err)
	}
	c.seq++
	if len(inner) == 0 {
		return 0, nil, fmt.Errorf("tlshandshake: empty TLSInnerPlaintext")
	}
	// Strip zero padding then read the trailing real content type.
	i := len(inner) - 1
	for i > 0 && inner[i] == 0 {
		i--
	}
	return inner[i], inner[:i], nil
}
