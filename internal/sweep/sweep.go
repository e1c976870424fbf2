// Package sweep periodically purges expired tickets and handshakes. The auth
// components never schedule themselves; the process owns this loop.
package sweep

import (
	"context"
	"log/slog"
	"time"
)

// TicketPurger removes expired tickets from the store.
type TicketPurger interface {
	PurgeExpired(ctx context.Context) int
}

// HandshakePurger removes expired in-memory handshake states.
type HandshakePurger interface {
	PurgeExpiredHandshakes() int
}

// Vacuumer physically drops expired rows, as the postgres store does.
type Vacuumer interface {
	Vacuum(ctx context.Context) (int64, error)
}

// Runner drives the purge loops.
type Runner struct {
	tickets        TicketPurger
	handshakes     HandshakePurger
	vacuum         Vacuumer
	ticketEvery    time.Duration
	handshakeEvery time.Duration
	logger         *slog.Logger
}

type Option func(*Runner)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithVacuum runs v after every ticket purge.
func WithVacuum(v Vacuumer) Option {
	return func(r *Runner) { r.vacuum = v }
}

// WithIntervals overrides the purge periods; zero keeps the default.
func WithIntervals(tickets, handshakes time.Duration) Option {
	return func(r *Runner) {
		if tickets > 0 {
			r.ticketEvery = tickets
		}
		if handshakes > 0 {
			r.handshakeEvery = handshakes
		}
	}
}

// New builds a Runner. Either purger may be nil to disable its loop.
func New(tickets TicketPurger, handshakes HandshakePurger, opts ...Option) *Runner {
	r := &Runner{
		tickets:        tickets,
		handshakes:     handshakes,
		ticketEvery:    time.Minute,
		handshakeEvery: 10 * time.Second,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.logger = r.logger.With("component", "sweep")
	return r
}

// Run blocks until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	var ticketC, handshakeC <-chan time.Time
	if r.tickets != nil {
		t := time.NewTicker(r.ticketEvery)
		defer t.Stop()
		ticketC = t.C
	}
	if r.handshakes != nil {
		t := time.NewTicker(r.handshakeEvery)
		defer t.Stop()
		handshakeC = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticketC:
			r.SweepTickets(ctx)
		case <-handshakeC:
			r.SweepHandshakes()
		}
	}
}

// SweepTickets runs one ticket purge plus the optional vacuum.
func (r *Runner) SweepTickets(ctx context.Context) int {
	if r.tickets == nil {
		return 0
	}
	n := r.tickets.PurgeExpired(ctx)
	if n > 0 {
		r.logger.Info("purged expired tickets", "count", n)
	}
	if r.vacuum != nil {
		rows, err := r.vacuum.Vacuum(ctx)
		switch {
		case err != nil:
			r.logger.Warn("vacuum failed", "error", err)
		case rows > 0:
			r.logger.Debug("vacuumed expired rows", "count", rows)
		}
	}
	return n
}

// SweepHandshakes runs one handshake purge.
func (r *Runner) SweepHandshakes() int {
	if r.handshakes == nil {
		return 0
	}
	n := r.handshakes.PurgeExpiredHandshakes()
	if n > 0 {
		r.logger.Debug("purged expired handshakes", "count", n)
	}
	return n
}
