// Package call drives the signaling state machine for peer-to-peer calls:
// caller/receiver pairing, busy detection and timeout-driven expiry.
package call

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/sameer2210/CodeX-sub000/pkg/auth"
)

// Status is the lifecycle state of a call session. Keep values stable, they
// are part of the wire protocol.
type Status string

const (
	StatusCalling   Status = "CALLING"
	StatusAccepted  Status = "ACCEPTED"
	StatusRejected  Status = "REJECTED"
	StatusCancelled Status = "CANCELLED"
	StatusEnded     Status = "ENDED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further transition can occur from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusEnded, StatusFailed:
		return true
	}
	return false
}

// Kind is the media kind of a call.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// ParseKind normalizes a client-supplied kind, defaulting to video.
func ParseKind(s string) Kind {
	if s == string(KindAudio) {
		return KindAudio
	}
	return KindVideo
}

// Session is the signaling record for one call attempt between exactly two
// identities within a team.
type Session struct {
	ID       string
	Team     string
	Caller   auth.Identity
	Receiver auth.Identity
	Kind     Kind

	CallerConn   uuid.UUID
	ReceiverConn uuid.UUID

	Offer  json.RawMessage
	Answer json.RawMessage

	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
	StartedAt time.Time
	EndedAt   time.Time

	timer *time.Timer
}

// PartnerConn returns the other participant's connection handle for the
// given sender.
func (s *Session) PartnerConn(connID uuid.UUID) uuid.UUID {
	if connID == s.CallerConn {
		return s.ReceiverConn
	}
	return s.CallerConn
}
