// SPDX-License-Identifier: GPL-3.0-or-later

// Package tlshandshake drives a TLS 1.3 handshake over a bound flow (spec
// §4.5): it owns the transcript hash, the negotiated suite, and the
// derived secrets, and exposes an RFC 8446-shaped message codec that a
// QUIC layer could reuse for its own handshake records (spec §1, §6).
//
// [Handshaker] drives the client role (the dialer side of
// transport.DialTLS); [ServerHandshaker] drives the server role (the
// acceptor side of transport.TLSAcceptor), authenticating with a
// certificate the caller loads. Both share this file's transcript/
// key-schedule machinery and record.go/io.go's record layer. Client
// certificate authentication (CertificateRequest) is not implemented —
// this module has no caller that needs mutual TLS.
package tlshandshake

import (
	"crypto/ecdh"
	"crypto/sha256"
	"crypto/x509"
)

// CipherSuite identifies a TLS 1.3 cipher suite by its IANA wire value.
type CipherSuite uint16

const (
	// TLSAES128GCMSHA256 is TLS_AES_128_GCM_SHA256, the only suite this
	// driver offers (spec's crypto-provider abstraction needs exactly one
	// concrete suite to exercise the handshake state machine end to end).
	TLSAES128GCMSHA256 CipherSuite = 0x1301
)

// Extension IANA numbers used by the ClientHello/ServerHello codec (spec
// §6 "the in-library TLS 1.3 handshake... follows RFC 8446 wire formats
// exactly").
const (
	ExtServerName          uint16 = 0
	ExtSupportedGroups     uint16 = 10
	ExtSignatureAlgorithms uint16 = 13
	ExtALPN                uint16 = 16
	ExtPreSharedKey        uint16 = 41
	ExtEarlyData           uint16 = 42
	ExtSupportedVersions   uint16 = 43
	ExtPSKKeyExchangeModes uint16 = 45
	ExtKeyShare            uint16 = 51
	ExtQUICTransportParams uint16 = 0xffa5
)

// HandshakeType identifies a TLS handshake message type (RFC 8446 §4).
type HandshakeType uint8

const (
	TypeClientHello        HandshakeType = 1
	TypeServerHello        HandshakeType = 2
	TypeEncryptedExtensions HandshakeType = 8
	TypeCertificate        HandshakeType = 11
	TypeCertificateVerify  HandshakeType = 15
	TypeFinished           HandshakeType = 20
)

// Session accumulates the state of one handshake attempt (spec §3 "TLS
// session"). All fields are appended monotonically; a retried handshake
// (after HelloRetryRequest) keeps the same Session, but a handshake that
// fails and is retried from scratch allocates a fresh one — Session itself
// has no reset method by design.
type Session struct {
	// TranscriptHash accumulates every handshake message exchanged so far,
	// hashed with the negotiated suite's hash (SHA-256 for the one suite
	// this driver supports).
	TranscriptHash []byte

	// ECDHEKeys holds this side's ephemeral X25519 key share.
	ECDHEKeys *ecdh.PrivateKey

	// SelectedSuite is set once the ServerHello is parsed.
	SelectedSuite CipherSuite

	EarlySecret     []byte
	HandshakeSecret []byte
	MasterSecret    []byte

	// ClientAppSecret and ServerAppSecret are the derived application
	// traffic secrets, stored by [Handshaker] and [ServerHandshaker] from
	// the results of [Session.DeriveApplicationSecrets] once the server's
	// Finished message is in the transcript.
	ClientAppSecret []byte
	ServerAppSecret []byte

	// PeerCerts holds the certificate chain presented by the server,
	// leaf-first, once Certificate has been parsed.
	PeerCerts []*x509.Certificate

	transcript hashState
}

type hashState struct {
	h []byte // running digest input, re-hashed on demand (sha256 has no Clone pre-1.22 portable API we rely on)
}

// NewSession allocates a fresh, empty handshake Session.
func NewSession() *Session {
	return &Session{transcript: hashState{h: nil}}
}

// AppendTranscript feeds one handshake message's raw bytes (the
// HandshakeType+length header included) into the running transcript hash.
func (s *Session) AppendTranscript(msg []byte) {
	s.transcript.h = append(s.transcript.h, msg...)
	sum := sha256.Sum256(s.transcript.h)
	s.TranscriptHash = sum[:]
}
