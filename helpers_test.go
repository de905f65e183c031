// SPDX-License-Identifier: GPL-3.0-or-later

package pump

import (
	"context"
	"log/slog"
)

// funcHandler is a minimal [slog.Handler] backed by a closure, used only to
// capture emitted records in tests without pulling in a stub dependency.
type funcHandler struct {
	handle func(ctx context.Context, record slog.Record) error
}

var _ slog.Handler = funcHandler{}

func (h funcHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h funcHandler) Handle(ctx context.Context, record slog.Record) error {
	return h.handle(ctx, record)
}

func (h funcHandler) WithAttrs([]slog.Attr) slog.Handler { return h }

func (h funcHandler) WithGroup(string) slog.Handler { return h }

// newCapturingLogger returns a logger that captures all log records into the
// returned slice. The caller can inspect the slice after exercising the code
// under test to verify which events were emitted.
func newCapturingLogger() (*slog.Logger, *[]slog.Record) {
	var records []slog.Record
	handler := funcHandler{
		handle: func(ctx context.Context, record slog.Record) error {
			records = append(records, record)
			return nil
		},
	}
	return slog.New(handler), &records
}
