package sweep

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adeilh/rakh-connauth/auth"
	"github.com/adeilh/rakh-connauth/cache/memory"
)

type countingPurger struct {
	ticketCalls    atomic.Int64
	handshakeCalls atomic.Int64
}

func (p *countingPurger) PurgeExpired(context.Context) int {
	p.ticketCalls.Add(1)
	return 1
}

func (p *countingPurger) PurgeExpiredHandshakes() int {
	p.handshakeCalls.Add(1)
	return 2
}

type vacuumFunc func(context.Context) (int64, error)

func (f vacuumFunc) Vacuum(ctx context.Context) (int64, error) { return f(ctx) }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRunTicksBothLoops(t *testing.T) {
	p := &countingPurger{}
	r := New(p, p, WithLogger(discard()), WithIntervals(5*time.Millisecond, 5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool {
		return p.ticketCalls.Load() >= 2 && p.handshakeCalls.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunWithoutPurgersWaitsForCancel(t *testing.T) {
	r := New(nil, nil, WithLogger(discard()))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Run(ctx), context.DeadlineExceeded)
	assert.Zero(t, r.SweepTickets(ctx))
	assert.Zero(t, r.SweepHandshakes())
}

func TestSweepTicketsRunsVacuum(t *testing.T) {
	p := &countingPurger{}
	var vacuumed atomic.Int64
	r := New(p, nil, WithLogger(discard()), WithVacuum(vacuumFunc(func(context.Context) (int64, error) {
		vacuumed.Add(1)
		return 0, errors.New("db down")
	})))

	assert.Equal(t, 1, r.SweepTickets(context.Background()))
	assert.Equal(t, int64(1), vacuumed.Load())
}

func TestSweepAgainstManager(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	var offset atomic.Int64
	clock := func() time.Time { return now.Add(time.Duration(offset.Load())) }

	m, err := auth.NewManager(auth.ManagerConfig{
		Store:  memory.NewStore(),
		Logger: discard(),
		Now:    clock,
	})
	require.NoError(t, err)

	ctx := context.Background()
	_, err = m.IssueTicket(ctx, auth.TicketRequest{SubjectID: "u1", SubjectEmail: "u1@example.com", TTL: time.Minute})
	require.NoError(t, err)
	m.Handshakes().Attach("c1", auth.AuthResult{Success: true, SubjectID: "u1", Method: auth.MethodTicket})

	r := New(m.Tickets(), m.Handshakes(), WithLogger(discard()))
	assert.Zero(t, r.SweepTickets(ctx))
	assert.Zero(t, r.SweepHandshakes())

	offset.Store(int64(2 * time.Minute))
	assert.Equal(t, 1, r.SweepTickets(ctx))
	assert.Equal(t, 1, r.SweepHandshakes())
	assert.Zero(t, m.HandshakeStatistics().Active)
}
