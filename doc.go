// SPDX-License-Identifier: GPL-3.0-or-later

// Package pump provides the ambient primitives shared by the reactor-style
// transport engine: a generic [Func] composition layer, structured logging
// via [SLogger], error classification via [ErrClassifier], span IDs, and
// the [Config] used to pre-wire every constructor in the sibling packages.
//
// # Layout
//
// The transport engine itself lives in sibling packages:
//
//   - [github.com/netreactor/pump/address]: endpoint value type
//   - [github.com/netreactor/pump/iobuf]: refcounted byte buffer
//   - [github.com/netreactor/pump/timer]: timer wheel / priority queue
//   - [github.com/netreactor/pump/poll]: channel trackers and pollers
//     (readiness and completion notification disciplines)
//   - [github.com/netreactor/pump/flow]: per-socket I/O facades (TCP and UDP;
//     TLS records are handled by tlshandshake and transport)
//   - [github.com/netreactor/pump/transport]: the public transport state
//     machine, acceptors, dialers, and the [transport.Service] composition root
//   - [github.com/netreactor/pump/tlshandshake]: the TLS 1.3 handshake
//     driver, reusable by a QUIC layer; TLS 1.2 is not negotiated
//   - [github.com/netreactor/pump/errclass]: OS error classification
//   - [github.com/netreactor/pump/httplayer]: a thin HTTP/1.1 client layer
//     demonstrating the boundary between the transport engine and an
//     external protocol collaborator
//
// # Core Abstraction
//
// This root package is built around a single interface:
//
//	type Func[A, B any] interface {
//		Call(ctx context.Context, input A) (B, error)
//	}
//
// Each Func represents an atomic operation with exactly one success mode
// and one failure mode. This design enables type-safe composition via
// [Compose2] .. [Compose8], where the compiler verifies that outputs
// match inputs across pipeline stages. The httplayer package uses this to
// assemble its dial-then-round-trip pipeline without inventing its own
// bespoke glue code.
//
// # Observability
//
// All primitives support structured logging via [SLogger] (compatible
// with [log/slog]). By default logging is disabled; set a component's
// Logger field to a [*slog.Logger] to enable it. Error classification is
// configurable via [ErrClassifier]; the default, [DefaultErrClassifier],
// maps syscall errnos and stdlib sentinel errors onto stable class names
// via [github.com/netreactor/pump/errclass].
//
// Use [NewSpanID] to generate a unique, time-ordered identifier (UUIDv7)
// for each operation, then attach it to the logger with [*slog.Logger.With].
// All log entries from that operation share the same spanID, enabling
// correlation across the poller, flow, and transport layers.
//
// # Design Boundaries
//
// This package intentionally provides only primitives. Fan-out, retry,
// reconnect, and multi-step orchestration belong in a higher-level
// package built on top of [github.com/netreactor/pump/transport].
package pump
