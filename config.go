// SPDX-License-Identifier: GPL-3.0-or-later

package pump

import (
	"context"
	"net"
	"runtime"
	"time"
)

// Dialer abstracts the [*net.Dialer] behavior.
//
// By depending on an abstract implementation we allow for unit testing
// and for using alternative dialers (e.g. one that resolves through a
// proxy) without changing any transport code.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config holds common configuration for pump operations.
//
// Pass this to [transport.NewService] to pre-wire dependencies; it reads
// Logger, ErrClassifier and PollTimeout. All fields have sensible defaults
// set by [NewConfig].
type Config struct {
	// Dialer is a [*net.Dialer]-shaped dialer for callers that need one.
	// The transport package does not consult it: [transport.DialTCP]
	// connects through a raw non-blocking socket.
	//
	// Set by [NewConfig] to [*net.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] used by every component constructed from
	// this [Config], unless overridden per-component.
	//
	// Set by [NewConfig] to [DefaultSLogger].
	Logger SLogger

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time

	// PollerWorkers is a suggested number of pollers for a [transport.Service].
	// [transport.NewService] takes its poller count as an argument and does
	// not read this field.
	//
	// Set by [NewConfig] to [runtime.GOMAXPROCS](0).
	PollerWorkers int

	// PollTimeout is the timeout passed to the OS multiplex call when neither
	// mailbox had work in the previous loop iteration (spec §4.1 step 3).
	//
	// Set by [NewConfig] to 3ms.
	PollTimeout time.Duration

	// MaxPendingSendBytes is a default bound for a transport's send queue,
	// past which Send returns [transport.CodeAgain]. Transports take the
	// bound as an argument to Start and do not read this field.
	//
	// Set by [NewConfig] to 4 MiB.
	MaxPendingSendBytes uint64

	// SendChunkSize is a default maximum size for a single buffer segment
	// enqueued by a TCP/TLS transport's Send (spec §4.3). TCP transports
	// use a fixed 4096-byte chunk and do not read this field.
	//
	// Set by [NewConfig] to 4096.
	SendChunkSize int
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Dialer:              &net.Dialer{},
		ErrClassifier:       DefaultErrClassifier,
		Logger:              DefaultSLogger(),
		TimeNow:             time.Now,
		PollerWorkers:       runtime.GOMAXPROCS(0),
		PollTimeout:         3 * time.Millisecond,
		MaxPendingSendBytes: 4 << 20,
		SendChunkSize:       4096,
	}
}
