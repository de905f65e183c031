// SPDX-License-Identifier: GPL-3.0-or-later

package tlshandshake

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/hkdf"
)

// hkdfExpandLabel implements RFC 8446 §7.1's HKDF-Expand-Label over
// SHA-256, the only hash this driver's one supported suite
// ([TLSAES128GCMSHA256]) uses.
func hkdfExpandLabel(secret, label, context []byte, length int) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint16(uint16(length))
	b.AddUint8LengthPrefixed(func(l *cryptobyte.Builder) {
		l.AddBytes([]byte("tls13 "))
		l.AddBytes(label)
	})
	b.AddUint8LengthPrefixed(func(c *cryptobyte.Builder) {
		c.AddBytes(context)
	})
	info, err := b.Bytes()
	if err != nil {
		return nil, fmt.Errorf("tlshandshake: build HkdfLabel: %w", err)
	}

	out := make([]byte, length)
	reader := hkdf.Expand(sha256.New, secret, info)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, fmt.Errorf("tlshandshake: hkdf expand: %w", err)
	}
	return out, nil
}

func hkdfExtract(salt, ikm []byte) []byte {
	if salt == nil {
		salt = make([]byte, sha256.Size)
	}
	mac := hmac.New(sha256.New, salt)
	mac.Write(ikm)
	return mac.Sum(nil)
}

func deriveSecret(secret []byte, label string, transcriptHash []byte) ([]byte, error) {
	return hkdfExpandLabel(secret, []byte(label), transcriptHash, sha256.Size)
}

// DeriveHandshakeSecrets computes EarlySecret, HandshakeSecret, and the
// client/server handshake traffic secrets from the ECDHE shared secret and
// the transcript hash covering ClientHello..ServerHello (RFC 8446 §7.1's
// key schedule, restricted to the non-PSK branch this driver exercises).
func (s *Session) DeriveHandshakeSecrets(sharedSecret []byte) (clientHSSecret, serverHSSecret []byte, err error) {
	zero := make([]byte, sha256.Size)
	s.EarlySecret = hkdfExtract(nil, zero)

	derivedForHS, err := deriveSecret(s.EarlySecret, "derived", emptyHash())
	if err != nil {
		return nil, nil, err
	}
	s.HandshakeSecret = hkdfExtract(derivedForHS, sharedSecret)

	clientHSSecret, err = deriveSecret(s.HandshakeSecret, "c hs traffic", s.TranscriptHash)
	if err != nil {
		return nil, nil, err
	}
	serverHSSecret, err = deriveSecret(s.HandshakeSecret, "s hs traffic", s.TranscriptHash)
	if err != nil {
		return nil, nil, err
	}
	return clientHSSecret, serverHSSecret, nil
}

// DeriveApplicationSecrets computes MasterSecret and the client/server
// application traffic secrets, given the transcript hash covering through
// the server's Finished message.
func (s *Session) DeriveApplicationSecrets(transcriptThroughServerFinished []byte) (clientAppSecret, serverAppSecret []byte, err error) {
	derivedForMaster, err := deriveSecret(s.HandshakeSecret, "derived", emptyHash())
	if err != nil {
		return nil, nil, err
	}
	zero := make([]byte, sha256.Size)
	s.MasterSecret = hkdfExtract(derivedForMaster, zero)

	clientAppSecret, err = deriveSecret(s.MasterSecret, "c ap traffic", transcriptThroughServerFinished)
	if err != nil {
		return nil, nil, err
	}
	serverAppSecret, err = deriveSecret(s.MasterSecret, "s ap traffic", transcriptThroughServerFinished)
	if err != nil {
		return nil, nil, err
	}
	return clientAppSecret, serverAppSecret, nil
}

// TrafficKeys derives the AEAD key and IV for one direction's traffic
// secret (RFC 8446 §7.3), sized for AES-128-GCM.
func TrafficKeys(trafficSecret []byte) (key, iv []byte, err error) {
	key, err = hkdfExpandLabel(trafficSecret, []byte("key"), nil, 16)
	if err != nil {
		return nil, nil, err
	}
	iv, err = hkdfExpandLabel(trafficSecret, []byte("iv"), nil, 12)
	if err != nil {
		return nil, nil, err
	}
	return key, iv, nil
}

// FinishedVerifyData computes the Finished message's verify_data (RFC
// 8446 §4.4.4): HMAC over the transcript hash, keyed by a secret derived
// from the traffic secret for this direction.
func FinishedVerifyData(trafficSecret, transcriptHash []byte) ([]byte, error) {
	finishedKey, err := hkdfExpandLabel(trafficSecret, []byte("finished"), nil, sha256.Size)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, finishedKey)
	mac.Write(transcriptHash)
	return mac.Sum(nil), nil
}

func emptyHash() []byte {
	sum := sha256.Sum256(nil)
	return sum[:]
}
