package credential

import (
	"io"
	"log/slog"

	"github.com/jonboulle/clockwork"
)

type options struct {
	clock  clockwork.Clock
	logger *slog.Logger
	slot   string
}

// Option configures a credential store.
type Option func(*options)

// WithClock sets the clock used for expiry checks.
func WithClock(c clockwork.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger used for storage anomalies.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSlot names the record a SealedStore persists to. Hosts keeping more
// than one principal in a repository give each its own slot.
func WithSlot(name string) Option {
	return func(o *options) { o.slot = name }
}

func applyOptions(opts []Option) options {
	o := options{
		clock:  clockwork.NewRealClock(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		slot:   "current",
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With("component", "credential")
	return o
}
