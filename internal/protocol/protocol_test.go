package protocol_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sameer2210/CodeX-sub000/internal/protocol"
)

func TestParseKindCoversAllInboundEvents(t *testing.T) {
	inbound := []string{
		protocol.EventJoinProject,
		protocol.EventLeaveProject,
		protocol.EventChatMessage,
		protocol.EventTypingStart,
		protocol.EventTypingStop,
		protocol.EventCodeChange,
		protocol.EventCallUser,
		protocol.EventCallAccepted,
		protocol.EventCallRejected,
		protocol.EventEndCall,
		protocol.EventICECandidate,
		protocol.EventGetReview,
	}

	seen := make(map[protocol.Kind]bool)
	for _, event := range inbound {
		kind, ok := protocol.ParseKind(event)
		require.True(t, ok, "event %q not recognized", event)
		require.NotEqual(t, protocol.KindUnknown, kind)
		require.False(t, seen[kind], "event %q maps to a duplicate kind", event)
		seen[kind] = true
	}
}

func TestParseKindRejectsUnknown(t *testing.T) {
	_, ok := protocol.ParseKind("self-destruct")
	require.False(t, ok)
	_, ok = protocol.ParseKind("")
	require.False(t, ok)
}

func TestMarshalEnvelope(t *testing.T) {
	b, err := protocol.Marshal(protocol.EventError, protocol.ErrorPayload{Message: "nope"})
	require.NoError(t, err)

	var env protocol.Envelope
	require.NoError(t, json.Unmarshal(b, &env))
	require.Equal(t, protocol.EventError, env.Event)

	var payload protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(env.Payload, &payload))
	require.Equal(t, "nope", payload.Message)
}

func TestMarshalNilPayloadOmitsField(t *testing.T) {
	b, err := protocol.Marshal(protocol.EventUserOnline, nil)
	require.NoError(t, err)
	require.NotContains(t, string(b), "payload")
}
