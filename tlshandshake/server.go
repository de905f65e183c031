// SPDX-License-Identifier: GPL-3.0-or-later

package tlshandshake

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/netreactor/pump/flow"
	"golang.org/x/crypto/cryptobyte"
)

// ServerCallbacks is the capability record a [ServerHandshaker] invokes
// (spec §9 "dynamic dispatch" design note), mirroring [Callbacks] for the
// server role.
type ServerCallbacks struct {
	// OnHandshaked fires exactly once. On success, flow is the underlying
	// TCP flow, now ready for the caller to wrap in a TLS transport; on
	// failure flow is nil and err explains why.
	OnHandshaked func(success bool, flow *flow.TCPFlow, session *Session, err error)
}

// ServerHandshaker drives a server-role TLS 1.3 handshake over an accepted
// TCP flow to completion (spec §4.4: "for TLS, while the handshake runs,
// the handshaker is retained in a table ... on completion or timeout it is
// removed and (if successful) a TLS transport is handed to the user"). It
// shares [Handshaker]'s transcript/record-layer/key-schedule machinery but
// drives the opposite message flow: ServerHello/EncryptedExtensions/
// Certificate/CertificateVerify/Finished out, ClientHello/Finished in.
//
// HelloRetryRequest is not implemented server-side: this package's own
// client always offers an x25519 key_share, so a real ClientHello from it
// never needs one, and there is no other peer in this module's scope.
type ServerHandshaker struct {
	flow    *flow.TCPFlow
	cert    tls.Certificate
	timeout time.Duration
}

// NewServerHandshaker constructs a ServerHandshaker for an already-accepted
// flow, authenticating with cert (as loaded by e.g. [tls.LoadX509KeyPair]).
func NewServerHandshaker(f *flow.TCPFlow, cert tls.Certificate, timeout time.Duration) *ServerHandshaker {
	return &ServerHandshaker{flow: f, cert: cert, timeout: timeout}
}

// Start runs the handshake on the calling goroutine (the caller is
// expected to have already dispatched onto a dedicated goroutine from the
// acceptor's accept callback) and invokes cb.OnHandshaked exactly once
// before returning, mirroring [Handshaker.Start].
func (h *ServerHandshaker) Start(cb ServerCallbacks) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	session := NewSession()
	readyFlow, session, err := h.run(ctx, session)
	if err != nil {
		cb.OnHandshaked(false, nil, session, err)
		return
	}
	cb.OnHandshaked(true, readyFlow, session, nil)
}

func (h *ServerHandshaker) run(ctx context.Context, session *Session) (*flow.TCPFlow, *Session, error) {
	chBytes, err := readHandshakeMessage(ctx, h.flow, nil)
	if err != nil {
		return nil, session, fmt.Errorf("tlshandshake: read ClientHello: %w", err)
	}
	ch, err := ParseClientHello(chBytes)
	if err != nil {
		return nil, session, err
	}
	if len(ch.KeyShare) != 32 {
		return nil, session, fmt.Errorf("tlshandshake: ClientHello carries no x25519 key_share")
	}
	session.AppendTranscript(chBytes)

	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, session, fmt.Errorf("tlshandshake: generate ECDHE key: %w", err)
	}
	session.ECDHEKeys = priv

	peerKey, err := ecdh.X25519().NewPublicKey(ch.KeyShare)
	if err != nil {
		return nil, session, fmt.Errorf("tlshandshake: invalid ClientHello key_share: %w", err)
	}
	shared, err := priv.ECDH(peerKey)
	if err != nil {
		return nil, session, fmt.Errorf("tlshandshake: ECDH: %w", err)
	}

	sh := &ServerHello{CipherSuite: TLSAES128GCMSHA256, KeyShare: priv.PublicKey().Bytes()}
	if _, err := rand.Read(sh.Random[:]); err != nil {
		return nil, session, fmt.Errorf("tlshandshake: generate server random: %w", err)
	}
	session.SelectedSuite = sh.CipherSuite

	shBytes, err := sh.Marshal()
	if err != nil {
		return nil, session, fmt.Errorf("tlshandshake: marshal ServerHello: %w", err)
	}
	if err := writeRecord(ctx, h.flow, contentTypeHandshake, shBytes); err != nil {
		return nil, session, err
	}
	session.AppendTranscript(shBytes)

	clientHS, serverHS, err := session.DeriveHandshakeSecrets(shared)
	if err != nil {
		return nil, session, err
	}
	serverKey, serverIV, err := TrafficKeys(serverHS)
	if err != nil {
		return nil, session, err
	}
	writeCipher, err := newRecordCipher(serverKey, serverIV)
	if err != nil {
		return nil, session, err
	}

	eeMsg, err := marshalEncryptedExtensions()
	if err != nil {
		return nil, session, err
	}
	if err := writeEncryptedRecord(ctx, h.flow, writeCipher, contentTypeHandshake, eeMsg); err != nil {
		return nil, session, err
	}
	session.AppendTranscript(eeMsg)

	certMsg, err := marshalCertificateMessage(h.cert.Certificate)
	if err != nil {
		return nil, session, err
	}
	if err := writeEncryptedRecord(ctx, h.flow, writeCipher, contentTypeHandshake, certMsg); err != nil {
		return nil, session, err
	}
	session.AppendTranscript(certMsg)

	cvMsg, err := marshalCertificateVerify(h.cert.PrivateKey, session.TranscriptHash, true)
	if err != nil {
		return nil, session, err
	}
	if err := writeEncryptedRecord(ctx, h.flow, writeCipher, contentTypeHandshake, cvMsg); err != nil {
		return nil, session, err
	}
	session.AppendTranscript(cvMsg)

	serverVerify, err := FinishedVerifyData(serverHS, session.TranscriptHash)
	if err != nil {
		return nil, session, err
	}
	finishedMsg := append([]byte{byte(TypeFinished), 0, 0, byte(len(serverVerify))}, serverVerify...)
	if err := writeEncryptedRecord(ctx, h.flow, writeCipher, contentTypeHandshake, finishedMsg); err != nil {
		return nil, session, err
	}
	session.AppendTranscript(finishedMsg)
	serverFinishedTranscript := append([]byte(nil), session.TranscriptHash...)

	clientKey, clientIV, err := TrafficKeys(clientHS)
	if err != nil {
		return nil, session, err
	}
	readCipher, err := newRecordCipher(clientKey, clientIV)
	if err != nil {
		return nil, session, err
	}
	cfMsg, err := readHandshakeMessage(ctx, h.flow, readCipher)
	if err != nil {
		return nil, session, fmt.Errorf("tlshandshake: read client Finished: %w", err)
	}
	if len(cfMsg) < 4 || HandshakeType(cfMsg[0]) != TypeFinished {
		return nil, session, fmt.Errorf("tlshandshake: expected client Finished")
	}
	expected, err := FinishedVerifyData(clientHS, serverFinishedTranscript)
	if err != nil {
		return nil, session, err
	}
	if subtle.ConstantTimeCompare(cfMsg[4:], expected) != 1 {
		return nil, session, fmt.Errorf("tlshandshake: client Finished verify_data mismatch")
	}

	clientApp, serverApp, err := session.DeriveApplicationSecrets(serverFinishedTranscript)
	if err != nil {
		return nil, session, err
	}
	session.ClientAppSecret, session.ServerAppSecret = clientApp, serverApp
	return h.flow, session, nil
}

// marshalEncryptedExtensions builds an EncryptedExtensions message with an
// empty extensions list: this driver negotiates nothing beyond the
// mandatory key exchange (no ALPN/SNI acknowledgment), matching the
// client's minimal ClientHello.
func marshalEncryptedExtensions() ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint8(uint8(TypeEncryptedExtensions))
	b.AddUint24LengthPrefixed(func(body *cryptobyte.Builder) {
		body.AddUint16LengthPrefixed(func(exts *cryptobyte.Builder) {})
	})
	return b.Bytes()
}

// marshalCertificateMessage builds a Certificate message (RFC 8446 §4.4.2)
// carrying certs (leaf-first DER-encoded, as produced by
// [tls.Certificate.Certificate]) with an empty certificate_request_context
// and no per-certificate extensions.
func marshalCertificateMessage(certs [][]byte) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint8(uint8(TypeCertificate))
	b.AddUint24LengthPrefixed(func(body *cryptobyte.Builder) {
		body.AddUint8LengthPrefixed(func(reqCtx *cryptobyte.Builder) {})
		body.AddUint24LengthPrefixed(func(list *cryptobyte.Builder) {
			for _, der := range certs {
				list.AddUint24LengthPrefixed(func(entry *cryptobyte.Builder) {
					entry.AddBytes(der)
				})
				list.AddUint16LengthPrefixed(func(certExts *cryptobyte.Builder) {})
			}
		})
	})
	return b.Bytes()
}

// Signature scheme IANA numbers (RFC 8446 §4.2.3) this driver can produce.
const (
	sigSchemeRSAPSSRSAESHA256 uint16 = 0x0804
	sigSchemeECDSASecp256r1   uint16 = 0x0403
	sigSchemeEd25519          uint16 = 0x0807
)

// marshalCertificateVerify signs the RFC 8446 §4.4.3 CertificateVerify
// content (64 spaces, a role-specific context string, a zero byte, and the
// transcript hash so far) with privKey and wraps it as a
// Handshake(CertificateVerify) message. Only the key types a
// [tls.Certificate] commonly carries are supported.
func marshalCertificateVerify(privKey crypto.PrivateKey, transcriptHash []byte, isServer bool) ([]byte, error) {
	context := "TLS 1.3, client CertificateVerify"
	if isServer {
		context = "TLS 1.3, server CertificateVerify"
	}
	content := bytes.Repeat([]byte{0x20}, 64)
	content = append(content, []byte(context)...)
	content = append(content, 0x00)
	content = append(content, transcriptHash...)
	digest := sha256.Sum256(content)

	var sigScheme uint16
	var sig []byte
	var err error
	switch key := privKey.(type) {
	case *rsa.PrivateKey:
		sigScheme = sigSchemeRSAPSSRSAESHA256
		sig, err = rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest[:], &rsa.PSSOptions{
			SaltLength: rsa.PSSSaltLengthEqualsHash,
			Hash:       crypto.SHA256,
		})
	case *ecdsa.PrivateKey:
		sigScheme = sigSchemeECDSASecp256r1
		sig, err = ecdsa.SignASN1(rand.Reader, key, digest[:])
	case ed25519.PrivateKey:
		sigScheme = sigSchemeEd25519
		sig = ed25519.Sign(key, content)
	default:
		return nil, fmt.Errorf("tlshandshake: unsupported certificate private key type %T", privKey)
	}
	if err != nil {
		return nil, fmt.Errorf("tlshandshake: sign CertificateVerify: %w", err)
	}

	var b cryptobyte.Builder
	b.AddUint8(uint8(TypeCertificateVerify))
	b.AddUint24LengthPrefixed(func(body *cryptobyte.Builder) {
		body.AddUint16(sigScheme)
		body.AddUint16LengthPrefixed(func(s *cryptobyte.Builder) {
			s.AddBytes(sig)
		})
	})
	return b.Bytes()
}
