// SPDX-License-Identifier: GPL-3.0-or-later

package tlshandshake

import "errors"

// ApplicationCipher protects application_data records after the handshake
// completes (RFC 8446 §7.3), using the client or server application
// traffic secret returned by [Session.DeriveApplicationSecrets]. It is the
// one piece of this package a [github.com/netreactor/pump/transport]
// TLSTransport needs directly; everything else in the handshake is
// internal to [Handshaker].
type ApplicationCipher struct {
	cipher *recordCipher
}

// NewApplicationCipher derives the AEAD key/IV from trafficSecret and
// returns a ready-to-use ApplicationCipher.
func NewApplicationCipher(trafficSecret []byte) (*ApplicationCipher, error) {
	key, iv, err := TrafficKeys(trafficSecret)
	if err != nil {
		return nil, err
	}
	c, err := newRecordCipher(key, iv)
	if err != nil {
		return nil, err
	}
	return &ApplicationCipher{cipher: c}, nil
}

// Seal encrypts plaintext as one application_data record.
func (a *ApplicationCipher) Seal(plaintext []byte) []byte {
	return a.cipher.Seal(contentTypeApplication, plaintext)
}

// Open decrypts one record's ciphertext (header passed separately, as in
// [*recordCipher.Open]), returning the plaintext if the record carries
// application_data, or an error for anything else (e.g. a fatal alert or
// a post-handshake NewSessionTicket, which this driver does not support).
func (a *ApplicationCipher) Open(header, ciphertext []byte) ([]byte, error) {
	contentType, plaintext, err := a.cipher.Open(header, ciphertext)
	if err != nil {
		return nil, err
	}
	if contentType == contentTypeAlert {
		return nil, errAlertReceived
	}
	if contentType != contentTypeApplication {
		return nil, errUnexpectedRecord
	}
	return plaintext, nil
}

var errUnexpectedRecord = errors.New("tlshandshake: unexpected non-application_data record")

var errAlertReceived = errRecordAlert{}

type errRecordAlert struct{}

func (errRecordAlert) Error() string { return "tlshandshake: received TLS alert" }
