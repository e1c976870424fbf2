package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/adeilh/rakh-connauth/cache"
)

// TicketManager issues, redeems and revokes tickets on top of a cache.Store.
// Persisted records are keyed "<namespace>:<id>" and carry a store TTL equal
// to the ticket lifetime.
type TicketManager struct {
	store  cache.Store
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
	newID  func() (string, error)
}

// NewTicketManager wires a TicketManager to store. Zero Config fields take
// their defaults.
func NewTicketManager(store cache.Store, cfg Config, opts ...Option) *TicketManager {
	o := newOptions(opts...)
	return &TicketManager{
		store:  store,
		cfg:    cfg.withDefaults(),
		now:    o.now,
		logger: o.logger.With("component", "tickets"),
		newID:  randomID,
	}
}

func (m *TicketManager) key(id string) string {
	return m.cfg.TicketNamespace + ":" + id
}

// EffectiveTTL applies the default for non-positive values and clamps the
// rest into [MinTicketTTL, MaxTicketTTL].
func (m *TicketManager) EffectiveTTL(requested time.Duration) time.Duration {
	ttl := requested
	if ttl <= 0 {
		ttl = m.cfg.DefaultTicketTTL
	}
	if ttl < MinTicketTTL {
		ttl = MinTicketTTL
	}
	if ttl > m.cfg.MaxTicketTTL {
		ttl = m.cfg.MaxTicketTTL
	}
	return ttl
}

// Generate mints and persists a new ticket. A store write failure is
// reported as ErrStorageUnavailable and no ticket is returned.
func (m *TicketManager) Generate(ctx context.Context, req TicketRequest) (Ticket, error) {
	if err := contextError(ctx); err != nil {
		return Ticket{}, err
	}
	if strings.TrimSpace(req.SubjectID) == "" {
		return Ticket{}, fmt.Errorf("%w: subject_id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.SubjectEmail) == "" {
		return Ticket{}, fmt.Errorf("%w: subject_email is required", ErrInvalidRequest)
	}
	if m.store == nil {
		return Ticket{}, fmt.Errorf("%w: no store configured", ErrStorageUnavailable)
	}

	id, err := m.newID()
	if err != nil {
		return Ticket{}, fmt.Errorf("auth: generate ticket id: %w", err)
	}

	perms := req.Permissions
	if len(perms) == 0 {
		perms = m.cfg.DefaultPermissions
	}
	ttl := m.EffectiveTTL(req.TTL)
	now := m.now()

	ticket := Ticket{
		ID:           id,
		SubjectID:    req.SubjectID,
		SubjectEmail: req.SubjectEmail,
		Permissions:  cloneStrings(perms),
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		SingleUse:    req.SingleUse,
		Metadata:     cloneMetadata(req.Metadata),
	}
	if ticket.Permissions == nil {
		ticket.Permissions = []string{}
	}

	payload, err := json.Marshal(ticket)
	if err != nil {
		return Ticket{}, fmt.Errorf("auth: encode ticket: %w", err)
	}
	if err := m.store.Set(ctx, m.key(id), payload, ttl); err != nil {
		m.logger.ErrorContext(ctx, "ticket store write failed",
			"ticket", Fingerprint(id),
			"error", err,
		)
		return Ticket{}, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	m.logger.InfoContext(ctx, "ticket issued",
		"ticket", Fingerprint(id),
		"subject_id", ticket.SubjectID,
		"ttl", ttl,
		"single_use", ticket.SingleUse,
	)
	return ticket.clone(), nil
}

// Validate redeems a ticket. It returns nil for unknown, expired or corrupt
// tickets and on store failure. A single-use ticket is consumed so that at
// most one concurrent caller ever receives it.
func (m *TicketManager) Validate(ctx context.Context, id string) *Ticket {
	ticket, ok := m.load(ctx, id, "validate")
	if !ok {
		return nil
	}
	if !ticket.SingleUse {
		out := ticket.clone()
		return &out
	}

	payload, err := m.store.Take(ctx, m.key(id))
	if err != nil {
		m.logger.DebugContext(ctx, "single-use ticket already consumed",
			"ticket", Fingerprint(id),
			"error", err,
		)
		return nil
	}
	consumed, err := decodeTicket(payload)
	if err != nil || consumed.IsExpired(m.now()) {
		return nil
	}
	m.logger.InfoContext(ctx, "single-use ticket consumed", "ticket", Fingerprint(id))
	return &consumed
}

// Lookup returns the ticket without consuming it.
func (m *TicketManager) Lookup(ctx context.Context, id string) *Ticket {
	ticket, ok := m.load(ctx, id, "lookup")
	if !ok {
		return nil
	}
	out := ticket.clone()
	return &out
}

// Revoke deletes a ticket and reports whether it existed.
func (m *TicketManager) Revoke(ctx context.Context, id string) bool {
	if id == "" || m.store == nil || contextError(ctx) != nil {
		return false
	}
	if err := m.store.Delete(ctx, m.key(id)); err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			m.logger.ErrorContext(ctx, "ticket revoke failed",
				"ticket", Fingerprint(id),
				"error", err,
			)
		}
		return false
	}
	m.logger.InfoContext(ctx, "ticket revoked", "ticket", Fingerprint(id))
	return true
}

// PurgeExpired removes tickets whose payload has expired but whose store
// entry lingers. Unreadable keys are skipped; a failed delete stops the
// sweep. It returns the number removed so far.
func (m *TicketManager) PurgeExpired(ctx context.Context) int {
	if m.store == nil || contextError(ctx) != nil {
		return 0
	}
	keys, err := m.store.Keys(ctx, m.cfg.TicketNamespace+":")
	if err != nil {
		m.logger.ErrorContext(ctx, "ticket purge scan failed", "error", err)
		return 0
	}

	now := m.now()
	var stale []string
	skipped := 0
	for _, key := range keys {
		payload, err := m.store.Get(ctx, key)
		if err != nil {
			if !errors.Is(err, cache.ErrNotFound) {
				skipped++
			}
			continue
		}
		ticket, err := decodeTicket(payload)
		if err != nil || ticket.IsExpired(now) {
			stale = append(stale, key)
		}
	}
	if skipped > 0 {
		m.logger.WarnContext(ctx, "ticket purge skipped unreadable keys", "count", skipped)
	}
	if len(stale) == 0 {
		return 0
	}

	removed, err := m.deleteKeys(ctx, stale)
	if err != nil {
		m.logger.ErrorContext(ctx, "ticket purge delete failed", "error", err, "removed", removed)
	}
	if removed > 0 {
		m.logger.InfoContext(ctx, "expired tickets purged", "count", removed)
	}
	return removed
}

func (m *TicketManager) deleteKeys(ctx context.Context, keys []string) (int, error) {
	if batch, ok := m.store.(cache.BatchDeleter); ok {
		return batch.DeleteMany(ctx, keys...)
	}
	removed := 0
	for _, key := range keys {
		if err := m.store.Delete(ctx, key); err != nil {
			if errors.Is(err, cache.ErrNotFound) {
				continue
			}
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// load reads and decodes a live ticket, dropping expired or unreadable
// records on the way.
func (m *TicketManager) load(ctx context.Context, id, op string) (Ticket, bool) {
	if id == "" || m.store == nil || contextError(ctx) != nil {
		return Ticket{}, false
	}
	log := m.logger.With("op", op, "ticket", Fingerprint(id))

	payload, err := m.store.Get(ctx, m.key(id))
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			log.DebugContext(ctx, "ticket rejected", "reason", "not_found")
		} else {
			log.ErrorContext(ctx, "ticket store read failed", "error", err)
		}
		return Ticket{}, false
	}

	ticket, err := decodeTicket(payload)
	if err != nil {
		log.WarnContext(ctx, "ticket payload unreadable", "error", err)
		_ = m.store.Delete(ctx, m.key(id))
		return Ticket{}, false
	}
	if ticket.IsExpired(m.now()) {
		log.DebugContext(ctx, "ticket rejected", "reason", "expired")
		_ = m.store.Delete(ctx, m.key(id))
		return Ticket{}, false
	}
	return ticket, true
}

func decodeTicket(payload []byte) (Ticket, error) {
	var t Ticket
	if err := json.Unmarshal(payload, &t); err != nil {
		return Ticket{}, err
	}
	if t.ID == "" || t.SubjectID == "" {
		return Ticket{}, errors.New("auth: ticket record incomplete")
	}
	return t, nil
}

func randomID() (string, error) {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
