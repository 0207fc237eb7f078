// Package protocol defines the wire format shared by the dispatcher and the
// clients: a small JSON envelope carrying an event name and a payload.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Envelope is the frame exchanged in both directions.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Marshal builds an outbound frame. Payload marshalling of our own structs
// cannot fail in practice, but the error is still surfaced for the caller to
// log.
func Marshal(event string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		raw = b
	}
	return json.Marshal(Envelope{Event: event, Payload: raw})
}

// Kind enumerates the inbound events the dispatcher understands. Inbound
// routing is a closed set with an exhaustive switch; anything else is a
// protocol error, never a silent drop.
type Kind int

const (
	KindUnknown Kind = iota
	KindJoinProject
	KindLeaveProject
	KindChatMessage
	KindTypingStart
	KindTypingStop
	KindCodeChange
	KindCallUser
	KindCallAccepted
	KindCallRejected
	KindEndCall
	KindICECandidate
	KindGetReview
)

// Inbound event names.
const (
	EventJoinProject  = "join-project"
	EventLeaveProject = "leave-project"
	EventChatMessage  = "chat-message"
	EventTypingStart  = "typing-start"
	EventTypingStop   = "typing-stop"
	EventCodeChange   = "code-change"
	EventCallUser     = "call-user"
	EventCallAccepted = "call-accepted"
	EventCallRejected = "call-rejected"
	EventEndCall      = "end-call"
	EventICECandidate = "ice-candidate"
	EventGetReview    = "get-review"
)

// Outbound event names.
const (
	EventUserOnline        = "user-online"
	EventUserOffline       = "user-offline"
	EventUserJoinedProject = "user-joined-project"
	EventUserLeftProject   = "user-left-project"
	EventJoinedProject     = "joined-project"
	EventActiveUsers       = "active-users"
	EventChatHistory       = "chat-history"
	EventUserTyping        = "user-typing"
	EventIncomingCall      = "incoming-call"
	EventCallFailed        = "call-failed"
	EventCodeReview        = "code-review"
	EventError             = "error"
)

var kinds = map[string]Kind{
	EventJoinProject:  KindJoinProject,
	EventLeaveProject: KindLeaveProject,
	EventChatMessage:  KindChatMessage,
	EventTypingStart:  KindTypingStart,
	EventTypingStop:   KindTypingStop,
	EventCodeChange:   KindCodeChange,
	EventCallUser:     KindCallUser,
	EventCallAccepted: KindCallAccepted,
	EventCallRejected: KindCallRejected,
	EventEndCall:      KindEndCall,
	EventICECandidate: KindICECandidate,
	EventGetReview:    KindGetReview,
}

// ParseKind maps an inbound event name to its kind.
func ParseKind(event string) (Kind, bool) {
	k, ok := kinds[event]
	return k, ok
}
