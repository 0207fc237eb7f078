package protocol

import (
	"encoding/json"

	"github.com/sameer2210/CodeX-sub000/internal/chat"
)

// Outbound payloads. Inbound payloads are read field-by-field by the
// dispatcher instead of being unmarshalled into structs, so only the
// server-to-client shapes live here.

type UserPresencePayload struct {
	Username string `json:"username"`
}

type ProjectPresencePayload struct {
	Username  string `json:"username"`
	ProjectID string `json:"projectId"`
}

type ActiveUsersPayload struct {
	ProjectID string   `json:"projectId"`
	Usernames []string `json:"usernames"`
}

type ChatHistoryPayload struct {
	ProjectID string         `json:"projectId"`
	Messages  []chat.Message `json:"messages"`
}

type JoinedProjectPayload struct {
	ProjectID string `json:"projectId"`
}

type TypingPayload struct {
	Username  string `json:"username"`
	ProjectID string `json:"projectId"`
	Typing    bool   `json:"typing"`
}

type CodeChangePayload struct {
	Username  string          `json:"username"`
	ProjectID string          `json:"projectId"`
	Payload   json.RawMessage `json:"payload"`
}

type IncomingCallPayload struct {
	CallID   string          `json:"callId"`
	From     string          `json:"from"`
	FromConn string          `json:"fromConn"`
	Kind     string          `json:"kind"`
	Offer    json.RawMessage `json:"offer"`
}

type CallAnswerPayload struct {
	CallID   string          `json:"callId"`
	From     string          `json:"from"`
	FromConn string          `json:"fromConn"`
	Answer   json.RawMessage `json:"answer,omitempty"`
}

type CallFailedPayload struct {
	CallID string `json:"callId,omitempty"`
	Reason string `json:"reason"`
}

type ICECandidatePayload struct {
	FromConn  string          `json:"fromConn"`
	Candidate json.RawMessage `json:"candidate"`
}

type CodeReviewPayload struct {
	ProjectID string `json:"projectId"`
	Review    string `json:"review"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}
