package wsgate

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/adeilh/rakh-connauth/auth"
)

// ReadyEvent is the first message DefaultSession sends.
type ReadyEvent struct {
	Type        string      `json:"type"`
	SubjectID   string      `json:"subject_id"`
	Permissions []string    `json:"permissions,omitempty"`
	Method      auth.Method `json:"method"`
	At          time.Time   `json:"at"`
}

// DefaultSession announces the resolved identity and then drains client
// frames until the peer goes away.
func DefaultSession(ctx context.Context, conn *websocket.Conn, subject *auth.SubjectContext) error {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := wsjson.Write(writeCtx, conn, ReadyEvent{
		Type:        "ready",
		SubjectID:   subject.SubjectID,
		Permissions: subject.Permissions,
		Method:      subject.Method,
		At:          subject.AuthenticatedAt,
	})
	cancel()
	if err != nil {
		return err
	}
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return err
		}
	}
}
