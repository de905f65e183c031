// SPDX-License-Identifier: GPL-3.0-or-later

package tlshandshake

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordCipherSealOpenRoundtrip(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 12)
	for i := range key {
		key[i] = byte(i)
	}

	sealer, err := newRecordCipher(key, iv)
	require.NoError(t, err)
	opener, err := newRecordCipher(key, iv)
	require.NoError(t, err)

	record := sealer.Seal(contentTypeHandshake, []byte("hello finished"))
	header := record[:recordHeaderLen]
	ciphertext := record[recordHeaderLen:]

	ct, plaintext, err := opener.Open(header, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, contentTypeHandshake, ct)
	assert.Equal(t, []byte("hello finished"), plaintext)
}

func TestRecordCipherSequenceAdvances(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 12)
	sealer, err := newRecordCipher(key, iv)
	require.NoError(t, err)

	r1 := sealer.Seal(contentTypeApplication, []byte("a"))
	r2 := sealer.Seal(contentTypeApplication, []byte("a"))
	assert.NotEqual(t, r1, r2, "sequence number must change the ciphertext for identical plaintext")
}

func TestRecordCipherOpenRejectsTamperedCiphertext(t *testing.T) {
	key := make([]byte, 16)
	iv := make([]byte, 12)
	sealer, err := newRecordCipher(key, iv)
	require.NoError(t, err)
	opener, err := newRecordCipher(key, iv)
	require.NoError(t, err)

	record := sealer.Seal(contentTypeHandshake, []byte("data"))
	header := record[:recordHeaderLen]
	ciphertext := append([]byte(nil), record[recordHeaderLen:]...)
	ciphertext[0] ^= 0xff

	_, _, err = opener.Open(header, ciphertext)
	assert.Error(t, err)
}
