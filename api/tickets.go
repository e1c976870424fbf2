package api

import (
	"errors"
	"time"

	"github.com/adeilh/rakh-connauth/auth"
	"github.com/adeilh/rakh-connauth/httpx"
)

// IssueTicketRequest is the JSON body of POST /v1/tickets. The subject is
// always the authenticated caller.
type IssueTicketRequest struct {
	Permissions []string       `json:"permissions,omitempty"`
	TTLSeconds  int64          `json:"ttl_seconds,omitempty"`
	SingleUse   *bool          `json:"single_use,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// IssueTicketResponse is returned with 201 Created.
type IssueTicketResponse struct {
	TicketID    string    `json:"ticket_id"`
	SubjectID   string    `json:"subject_id"`
	Permissions []string  `json:"permissions"`
	SingleUse   bool      `json:"single_use"`
	ExpiresAt   time.Time `json:"expires_at"`
	ExpiresIn   int64     `json:"expires_in"`
}

// IntrospectionResponse is returned by GET /v1/tickets/:id.
type IntrospectionResponse struct {
	auth.TicketIntrospection
	Error string `json:"error,omitempty"`
}

func (h *Handler) issueTicket(c httpx.Context) error {
	who, err := caller(c)
	if err != nil {
		return err
	}

	var req IssueTicketRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return httpx.HTTPError(httpx.StatusBadRequest, "invalid request body")
		}
	}
	if req.TTLSeconds < 0 {
		return httpx.HTTPError(httpx.StatusBadRequest, "ttl_seconds must not be negative")
	}

	// A caller can only delegate what it holds. An empty list inherits the
	// caller's permissions, and the ticket manager applies the baseline when
	// that is empty too.
	perms := req.Permissions
	if len(perms) == 0 {
		perms = who.Permissions
	}
	for _, p := range perms {
		if !contains(who.Permissions, p) {
			return httpx.HTTPError(httpx.StatusForbidden, "permission "+p+" not held by caller")
		}
	}

	singleUse := true
	if req.SingleUse != nil {
		singleUse = *req.SingleUse
	}

	ticket, err := h.manager.IssueTicket(c.Request().Context(), auth.TicketRequest{
		SubjectID:    who.SubjectID,
		SubjectEmail: who.SubjectEmail,
		Permissions:  perms,
		TTL:          time.Duration(req.TTLSeconds) * time.Second,
		SingleUse:    singleUse,
		Metadata:     req.Metadata,
	})
	if err != nil {
		return ticketError(err)
	}

	return c.JSON(httpx.StatusCreated, IssueTicketResponse{
		TicketID:    ticket.ID,
		SubjectID:   ticket.SubjectID,
		Permissions: ticket.Permissions,
		SingleUse:   ticket.SingleUse,
		ExpiresAt:   ticket.ExpiresAt,
		ExpiresIn:   int64(ticket.ExpiresAt.Sub(ticket.CreatedAt) / time.Second),
	})
}

func (h *Handler) introspectTicket(c httpx.Context) error {
	info := h.manager.IntrospectTicket(c.Request().Context(), c.Param("id"))
	resp := IntrospectionResponse{TicketIntrospection: info}
	if !info.Valid {
		resp.Error = "ticket not found or expired"
	}
	return c.JSON(httpx.StatusOK, resp)
}

func (h *Handler) revokeTicket(c httpx.Context) error {
	who, err := caller(c)
	if err != nil {
		return err
	}
	if err := h.manager.RevokeTicket(c.Request().Context(), c.Param("id"), who.SubjectID); err != nil {
		return ticketError(err)
	}
	return c.NoContent(httpx.StatusNoContent)
}

func ticketError(err error) error {
	switch {
	case errors.Is(err, auth.ErrInvalidRequest):
		return httpx.HTTPError(httpx.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrStorageUnavailable):
		return httpx.HTTPError(httpx.StatusServiceUnavailable, "ticket storage unavailable")
	case errors.Is(err, auth.ErrNotFoundOrExpired):
		return httpx.HTTPError(httpx.StatusNotFound, "ticket not found or expired")
	case errors.Is(err, auth.ErrForbidden):
		return httpx.HTTPError(httpx.StatusForbidden, "ticket belongs to another subject")
	default:
		return httpx.HTTPError(httpx.StatusInternalError, "internal error")
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
