// SPDX-License-Identifier: GPL-3.0-or-later

package tlshandshake

import (
	"fmt"

	"golang.org/x/crypto/cryptobyte"
)

// tlsVersion13 is the wire value for TLS 1.3 (RFC 8446 §4.1.2 uses this
// inside the supported_versions extension; the record/legacy version
// fields stay pinned to {3,3} for middlebox compatibility).
const tlsVersion13 uint16 = 0x0304

// ClientHello is the subset of RFC 8446 ClientHello fields this driver
// produces: a fixed cipher suite list of one entry, the key_share and
// supported_versions extensions, and an optional SNI host name.
type ClientHello struct {
	Random        [32]byte
	SessionID     []byte
	CipherSuites  []CipherSuite
	KeyShare      []byte // X25519 public key, 32 bytes
	ServerName    string
	SupportedALPN []string
}

// Marshal encodes ch as a complete TLS Handshake message (type + 24-bit
// length + body), ready to be wrapped in a record by the caller.
func (ch *ClientHello) Marshal() ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint8(uint8(TypeClientHello))
	b.AddUint24LengthPrefixed(func(body *cryptobyte.Builder) {
		body.AddUint16(0x0303) // legacy_version = TLS 1.2, per RFC 8446 §4.1.2
		body.AddBytes(ch.Random[:])
		body.AddUint8LengthPrefixed(func(sid *cryptobyte.Builder) {
			sid.AddBytes(ch.SessionID)
		})
		body.AddUint16LengthPrefixed(func(suites *cryptobyte.Builder) {
			for _, cs := range ch.CipherSuites {
				suites.AddUint16(uint16(cs))
			}
		})
		body.AddUint8LengthPrefixed(func(comp *cryptobyte.Builder) {
			comp.AddUint8(0) // compression_methods = {null}
		})
		body.AddUint16LengthPrefixed(func(exts *cryptobyte.Builder) {
			addSupportedVersionsExt(exts)
			addKeyShareExt(exts, ch.KeyShare)
			if ch.ServerName != "" {
				addServerNameExt(exts, ch.ServerName)
			}
			if len(ch.SupportedALPN) > 0 {
				addALPNExt(exts, ch.SupportedALPN)
			}
		})
	})
	return b.Bytes()
}

func addSupportedVersionsExt(exts *cryptobyte.Builder) {
	exts.AddUint16(ExtSupportedVersions)
	exts.AddUint16LengthPrefixed(func(ext *cryptobyte.Builder) {
		ext.AddUint8LengthPrefixed(func(list *cryptobyte.Builder) {
			list.AddUint16(tlsVersion13)
		})
	})
}

func addKeyShareExt(exts *cryptobyte.Builder, pub []byte) {
	exts.AddUint16(ExtKeyShare)
	exts.AddUint16LengthPrefixed(func(ext *cryptobyte.Builder) {
		ext.AddUint16LengthPrefixed(func(list *cryptobyte.Builder) {
			list.AddUint16(0x001d) // x25519, RFC 8446 §4.2.7 / RFC 7748
			list.AddUint16LengthPrefixed(func(key *cryptobyte.Builder) {
				key.AddBytes(pub)
			})
		})
	})
}

func addServerNameExt(exts *cryptobyte.Builder, name string) {
	exts.AddUint16(ExtServerName)
	exts.AddUint16LengthPrefixed(func(ext *cryptobyte.Builder) {
		ext.AddUint16LengthPrefixed(func(list *cryptobyte.Builder) {
			list.AddUint8(0) // host_name
			list.AddUint16LengthPrefixed(func(host *cryptobyte.Builder) {
				host.AddBytes([]byte(name))
			})
		})
	})
}

func addALPNExt(exts *cryptobyte.Builder, protos []string) {
	exts.AddUint16(ExtALPN)
	exts.AddUint16LengthPrefixed(func(ext *cryptobyte.Builder) {
		ext.AddUint16LengthPrefixed(func(list *cryptobyte.Builder) {
			for _, p := range protos {
				list.AddUint8LengthPrefixed(func(proto *cryptobyte.Builder) {
					proto.AddBytes([]byte(p))
				})
			}
		})
	})
}

// ServerHello is the subset of parsed ServerHello fields this driver
// needs to complete the key schedule.
type ServerHello struct {
	Random       [32]byte
	CipherSuite  CipherSuite
	KeyShare     []byte // peer's X25519 public key, 32 bytes
	IsHelloRetry bool   // Random == the RFC 8446 §4.1.3 HRR sentinel
}

// Marshal encodes sh as a complete TLS Handshake message (type + 24-bit
// length + body), the server-role counterpart to [ClientHello.Marshal].
func (sh *ServerHello) Marshal() ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint8(uint8(TypeServerHello))
	b.AddUint24LengthPrefixed(func(body *cryptobyte.Builder) {
		body.AddUint16(0x0303) // legacy_version = TLS 1.2, per RFC 8446 §4.1.3
		body.AddBytes(sh.Random[:])
		body.AddUint8LengthPrefixed(func(sid *cryptobyte.Builder) {})
		body.AddUint16(uint16(sh.CipherSuite))
		body.AddUint8(0) // legacy_compression_method = null
		body.AddUint16LengthPrefixed(func(exts *cryptobyte.Builder) {
			addSupportedVersionsExt(exts)
			addKeyShareExt(exts, sh.KeyShare)
		})
	})
	return b.Bytes()
}

// ParsedClientHello is the subset of a client's ClientHello this driver's
// server role needs: the cipher suites it offered, its X25519 key_share,
// and the SNI host name it requested.
type ParsedClientHello struct {
	Random       [32]byte
	CipherSuites []CipherSuite
	KeyShare     []byte
	ServerName   string
}

// ParseClientHello decodes a complete Handshake(ClientHello) message
// (type+length header included), the server-role counterpart to
// [ParseServerHello].
func ParseClientHello(msg []byte) (*ParsedClientHello, error) {
	s := cryptobyte.String(msg)
	var msgType uint8
	var body cryptobyte.String
	if !s.ReadUint8(&msgType) || !s.ReadUint24LengthPrefixed(&body) {
		return nil, fmt.Errorf("tlshandshake: truncated handshake header")
	}
	if msgType != uint8(TypeClientHello) {
		return nil, fmt.Errorf("tlshandshake: expected ClientHello, got type %d", msgType)
	}

	var legacyVersion uint16
	var random []byte
	var sessionID cryptobyte.String
	var suites cryptobyte.String
	var compression cryptobyte.String
	var extensions cryptobyte.String
	if !body.ReadUint16(&legacyVersion) ||
		!readFixed(&body, &random, 32) ||
		!body.ReadUint8LengthPrefixed(&sessionID) ||
		!body.ReadUint16LengthPrefixed(&suites) ||
		!body.ReadUint8LengthPrefixed(&compression) ||
		!body.ReadUint16LengthPrefixed(&extensions) {
		return nil, fmt.Errorf("tlshandshake: malformed ClientHello body")
	}

	ch := &ParsedClientHello{}
	copy(ch.Random[:], random)
	for !suites.Empty() {
		var cs uint16
		if !suites.ReadUint16(&cs) {
			return nil, fmt.Errorf("tlshandshake: malformed cipher_suites list")
		}
		ch.CipherSuites = append(ch.CipherSuites, CipherSuite(cs))
	}

	for !extensions.Empty() {
		var extType uint16
		var extData cryptobyte.String
		if !extensions.ReadUint16(&extType) || !extensions.ReadUint16LengthPrefixed(&extData) {
			return nil, fmt.Errorf("tlshandshake: malformed extension in ClientHello")
		}
		switch extType {
		case ExtKeyShare:
			var list cryptobyte.String
			if !extData.ReadUint16LengthPrefixed(&list) {
				return nil, fmt.Errorf("tlshandshake: malformed key_share extension")
			}
			for !list.Empty() {
				var group uint16
				var key cryptobyte.String
				if !list.ReadUint16(&group) || !list.ReadUint16LengthPrefixed(&key) {
					return nil, fmt.Errorf("tlshandshake: malformed key_share entry")
				}
				if group == 0x001d { // x25519
					ch.KeyShare = append([]byte(nil), key...)
				}
			}
		case ExtServerName:
			var list cryptobyte.String
			if !extData.ReadUint16LengthPrefixed(&list) {
				return nil, fmt.Errorf("tlshandshake: malformed server_name extension")
			}
			for !list.Empty() {
				var nameType uint8
				var host cryptobyte.String
				if !list.ReadUint8(&nameType) || !list.ReadUint16LengthPrefixed(&host) {
					return nil, fmt.Errorf("tlshandshake: malformed server_name entry")
				}
				if nameType == 0 {
					ch.ServerName = string(host)
				}
			}
		}
	}
	return ch, nil
}

// helloRetryRequestRandom is the fixed SHA-256 value RFC 8446 §4.1.3
// specifies as the Random field of a HelloRetryRequest, distinguishing it
// from an ordinary ServerHello on the wire.
var helloRetryRequestRandom = [32]byte{
	0xCF, 0x21, 0xAD, 0x74, 0xE5, 0x9A, 0x61, 0x11,
	0xBE, 0x1D, 0x8C, 0x02, 0x1E, 0x65, 0xB8, 0x91,
	0xC2, 0xA2, 0x11, 0x16, 0x7A, 0xBB, 0x8C, 0x5E,
	0x07, 0x9E, 0x09, 0xE2, 0xC8, 0xA8, 0x33, 0x9C,
}

// ParseServerHello decodes a complete Handshake(ServerHello) message
// (type+length header included).
func ParseServerHello(msg []byte) (*ServerHello, error) {
	s := cryptobyte.String(msg)
	var msgType uint8
	var body cryptobyte.String
	if !s.ReadUint8(&msgType) || !s.ReadUint24LengthPrefixed(&body) {
		return nil, fmt.Errorf("tlshandshake: truncated handshake header")
	}
	if msgType != uint8(TypeServerHello) {
		return nil, fmt.Errorf("tlshandshake: expected ServerHello, got type %d", msgType)
	}

	var legacyVersion uint16
	var random []byte
	var sessionID cryptobyte.String
	var suite uint16
	var compression uint8
	var extensions cryptobyte.String
	if !body.ReadUint16(&legacyVersion) ||
		!readFixed(&body, &random, 32) ||
		!body.ReadUint8LengthPrefixed(&sessionID) ||
		!body.ReadUint16(&suite) ||
		!body.ReadUint8(&compression) ||
		!body.ReadUint16LengthPrefixed(&extensions) {
		return nil, fmt.Errorf("tlshandshake: malformed ServerHello body")
	}

	sh := &ServerHello{CipherSuite: CipherSuite(suite)}
	copy(sh.Random[:], random)
	sh.IsHelloRetry = sh.Random == helloRetryRequestRandom

	for !extensions.Empty() {
		var extType uint16
		var extData cryptobyte.String
		if !extensions.ReadUint16(&extType) || !extensions.ReadUint16LengthPrefixed(&extData) {
			return nil, fmt.Errorf("tlshandshake: malformed extension in ServerHello")
		}
		if extType == ExtKeyShare {
			var group uint16
			var key cryptobyte.String
			if !extData.ReadUint16(&group) || !extData.ReadUint16LengthPrefixed(&key) {
				return nil, fmt.Errorf("tlshandshake: malformed key_share extension")
			}
			sh.KeyShare = append([]byte(nil), key...)
		}
	}
	return sh, nil
}

func readFixed(s *cryptobyte.String, out *[]byte, n int) bool {
	var buf []byte
	if !s.ReadBytes(&buf, n) {
		return false
	}
	*out = buf
	return true
}
