package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sameer2210/CodeX-sub000/internal/call"
	"github.com/sameer2210/CodeX-sub000/internal/chat"
	"github.com/sameer2210/CodeX-sub000/internal/dispatch"
	"github.com/sameer2210/CodeX-sub000/internal/protocol"
	"github.com/sameer2210/CodeX-sub000/internal/registry"
	"github.com/sameer2210/CodeX-sub000/internal/rooms"
	"github.com/sameer2210/CodeX-sub000/pkg/auth"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type fakePeer struct {
	id uuid.UUID

	mu   sync.Mutex
	sent []protocol.Envelope
}

func newFakePeer() *fakePeer { return &fakePeer{id: uuid.New()} }

func (p *fakePeer) ID() uuid.UUID { return p.id }

func (p *fakePeer) Send(message []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(message, &env); err != nil {
		panic(err)
	}
	p.mu.Lock()
	p.sent = append(p.sent, env)
	p.mu.Unlock()
}

func (p *fakePeer) events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.sent))
	for i, env := range p.sent {
		out[i] = env.Event
	}
	return out
}

func (p *fakePeer) lastPayload(event string) (json.RawMessage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.sent) - 1; i >= 0; i-- {
		if p.sent[i].Event == event {
			return p.sent[i].Payload, true
		}
	}
	return nil, false
}

func (p *fakePeer) reset() {
	p.mu.Lock()
	p.sent = nil
	p.mu.Unlock()
}

type fakeReviewer struct {
	result string
	err    error
}

func (f *fakeReviewer) Review(context.Context, string, string) (string, error) {
	return f.result, f.err
}

type fixture struct {
	reg        *registry.Registry
	calls      *call.Manager
	dispatcher *dispatch.Dispatcher
	reviewer   *fakeReviewer
}

func newFixture(t *testing.T, ringTimeout time.Duration) *fixture {
	t.Helper()
	logger := newTestLogger()
	reg := registry.New(logger)
	store := chat.NewMemoryStore(0)
	router := rooms.NewRouter(logger, reg, store, 100, time.Millisecond)
	calls := call.NewManager(logger, ringTimeout)
	reviewer := &fakeReviewer{result: "looks good"}
	return &fixture{
		reg:        reg,
		calls:      calls,
		dispatcher: dispatch.New(logger, reg, router, calls, store, reviewer),
		reviewer:   reviewer,
	}
}

func (f *fixture) connect(team, username string) *fakePeer {
	peer := newFakePeer()
	f.reg.Register(peer, auth.Identity{Team: team, Username: username})
	f.dispatcher.HandleConnect(peer.ID())
	return peer
}

func (f *fixture) send(p *fakePeer, event, payloadJSON string) {
	frame := fmt.Sprintf(`{"event":%q,"payload":%s}`, event, payloadJSON)
	f.dispatcher.HandleMessage(context.Background(), p.ID(), []byte(frame))
}

func errorMessage(t *testing.T, p *fakePeer) string {
	t.Helper()
	raw, ok := p.lastPayload(protocol.EventError)
	require.True(t, ok, "expected an error event")
	var payload protocol.ErrorPayload
	require.NoError(t, json.Unmarshal(raw, &payload))
	return payload.Message
}

func TestUnknownEventIsProtocolError(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice := f.connect("acme", "alice")

	f.send(alice, "self-destruct", `{}`)
	require.Contains(t, errorMessage(t, alice), "unknown event")
}

func TestMalformedFrameIsProtocolError(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice := f.connect("acme", "alice")

	f.dispatcher.HandleMessage(context.Background(), alice.ID(), []byte(`{not json`))
	require.Contains(t, errorMessage(t, alice), "malformed")
}

func TestChatMessageFanOut(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice := f.connect("acme", "alice")
	bob := f.connect("acme", "bob")
	outsider := f.connect("acme", "carol") // connected, not in the room

	f.send(alice, protocol.EventJoinProject, `{"projectId":"proj1"}`)
	f.send(bob, protocol.EventJoinProject, `{"projectId":"proj1"}`)
	alice.reset()
	bob.reset()
	outsider.reset()

	f.send(alice, protocol.EventChatMessage, `{"projectId":"proj1","text":"hello"}`)

	for _, p := range []*fakePeer{alice, bob} {
		raw, ok := p.lastPayload(protocol.EventChatMessage)
		require.True(t, ok, "room member missed the message")
		var msg chat.Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		require.Equal(t, "hello", msg.Text)
		require.Equal(t, "alice", msg.Username)
		require.NotEmpty(t, msg.ID)
		require.False(t, msg.CreatedAt.IsZero())
	}
	require.NotContains(t, outsider.events(), protocol.EventChatMessage)
}

func TestChatMessageValidation(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice := f.connect("acme", "alice")
	f.send(alice, protocol.EventJoinProject, `{"projectId":"proj1"}`)

	f.send(alice, protocol.EventChatMessage, `{"projectId":"proj1","text":"   "}`)
	require.Contains(t, errorMessage(t, alice), "empty")

	f.send(alice, protocol.EventChatMessage, `{"text":"hi"}`)
	require.Contains(t, errorMessage(t, alice), "projectId")
}

func TestTypingGoesToOthersOnly(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice := f.connect("acme", "alice")
	bob := f.connect("acme", "bob")
	f.send(alice, protocol.EventJoinProject, `{"projectId":"proj1"}`)
	f.send(bob, protocol.EventJoinProject, `{"projectId":"proj1"}`)
	alice.reset()
	bob.reset()

	f.send(alice, protocol.EventTypingStart, `{"projectId":"proj1"}`)

	raw, ok := bob.lastPayload(protocol.EventUserTyping)
	require.True(t, ok)
	var payload protocol.TypingPayload
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.True(t, payload.Typing)
	require.Equal(t, "alice", payload.Username)
	require.NotContains(t, alice.events(), protocol.EventUserTyping)

	f.send(alice, protocol.EventTypingStop, `{"projectId":"proj1"}`)
	raw, _ = bob.lastPayload(protocol.EventUserTyping)
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.False(t, payload.Typing)
}

func TestCodeChangeRelayNoPersistence(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice := f.connect("acme", "alice")
	bob := f.connect("acme", "bob")
	f.send(alice, protocol.EventJoinProject, `{"projectId":"proj1"}`)
	f.send(bob, protocol.EventJoinProject, `{"projectId":"proj1"}`)
	bob.reset()

	f.send(alice, protocol.EventCodeChange, `{"projectId":"proj1","payload":{"delta":"abc"}}`)

	raw, ok := bob.lastPayload(protocol.EventCodeChange)
	require.True(t, ok)
	var payload protocol.CodeChangePayload
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.Equal(t, "alice", payload.Username)
	require.JSONEq(t, `{"delta":"abc"}`, string(payload.Payload))
	require.NotContains(t, alice.events(), protocol.EventCodeChange)
}

func TestCallUserDeliversIncomingCall(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice := f.connect("acme", "alice")
	bob := f.connect("acme", "bob")
	bob.reset()

	f.send(alice, protocol.EventCallUser, `{"username":"bob","kind":"audio","offer":{"sdp":"x"}}`)

	require.NotContains(t, alice.events(), protocol.EventCallFailed)
	raw, ok := bob.lastPayload(protocol.EventIncomingCall)
	require.True(t, ok)
	var payload protocol.IncomingCallPayload
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.Equal(t, "alice", payload.From)
	require.Equal(t, alice.ID().String(), payload.FromConn)
	require.Equal(t, "audio", payload.Kind)
	require.NotEmpty(t, payload.CallID)
}

func TestCallUserOfflineTargetFails(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice := f.connect("acme", "alice")

	f.send(alice, protocol.EventCallUser, `{"username":"nobody","offer":{"sdp":"x"}}`)

	raw, ok := alice.lastPayload(protocol.EventCallFailed)
	require.True(t, ok)
	var payload protocol.CallFailedPayload
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.Contains(t, payload.Reason, "not connected")

	// No session was created.
	_, active := f.calls.FindActiveByIdentity("acme", "alice")
	require.False(t, active)
}

func TestCallUserBusyTargetFails(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice := f.connect("acme", "alice")
	bob := f.connect("acme", "bob")
	carol := f.connect("acme", "carol")
	_ = bob

	f.send(alice, protocol.EventCallUser, `{"username":"bob","offer":{"sdp":"x"}}`)
	f.send(carol, protocol.EventCallUser, `{"username":"bob","offer":{"sdp":"y"}}`)

	raw, ok := carol.lastPayload(protocol.EventCallFailed)
	require.True(t, ok)
	var payload protocol.CallFailedPayload
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.Contains(t, payload.Reason, "busy")
}

func TestCallAcceptEndLifecycle(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice := f.connect("acme", "alice")
	bob := f.connect("acme", "bob")

	f.send(alice, protocol.EventCallUser, `{"username":"bob","offer":{"sdp":"x"}}`)
	raw, ok := bob.lastPayload(protocol.EventIncomingCall)
	require.True(t, ok)
	var incoming protocol.IncomingCallPayload
	require.NoError(t, json.Unmarshal(raw, &incoming))

	f.send(bob, protocol.EventCallAccepted, fmt.Sprintf(
		`{"target":%q,"callId":%q,"answer":{"sdp":"a"}}`, incoming.FromConn, incoming.CallID))

	raw, ok = alice.lastPayload(protocol.EventCallAccepted)
	require.True(t, ok)
	var accepted protocol.CallAnswerPayload
	require.NoError(t, json.Unmarshal(raw, &accepted))
	require.Equal(t, "bob", accepted.From)
	require.JSONEq(t, `{"sdp":"a"}`, string(accepted.Answer))

	sess, active := f.calls.FindActiveByIdentity("acme", "alice")
	require.True(t, active)
	require.Equal(t, call.StatusAccepted, sess.Status)

	// Hang up: the peer is notified and both identities are freed.
	f.send(alice, protocol.EventEndCall, fmt.Sprintf(`{"target":%q,"callId":%q}`, bob.ID().String(), incoming.CallID))
	require.Contains(t, bob.events(), protocol.EventEndCall)

	_, active = f.calls.FindActiveByIdentity("acme", "alice")
	require.False(t, active)
	_, active = f.calls.FindActiveByIdentity("acme", "bob")
	require.False(t, active)

	// The pair can call again now.
	bob.reset()
	f.send(alice, protocol.EventCallUser, `{"username":"bob","offer":{"sdp":"z"}}`)
	require.Contains(t, bob.events(), protocol.EventIncomingCall)
}

func TestCallRejectedFreesBusyIndex(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice := f.connect("acme", "alice")
	bob := f.connect("acme", "bob")

	f.send(alice, protocol.EventCallUser, `{"username":"bob","offer":{"sdp":"x"}}`)
	f.send(bob, protocol.EventCallRejected, fmt.Sprintf(`{"target":%q}`, alice.ID().String()))

	require.Contains(t, alice.events(), protocol.EventCallRejected)
	_, active := f.calls.FindActiveByIdentity("acme", "bob")
	require.False(t, active)
}

func TestCallTimeoutNotifiesBothParties(t *testing.T) {
	f := newFixture(t, 20*time.Millisecond)
	alice := f.connect("acme", "alice")
	bob := f.connect("acme", "bob")

	f.send(alice, protocol.EventCallUser, `{"username":"bob","offer":{"sdp":"x"}}`)

	for _, p := range []*fakePeer{alice, bob} {
		require.Eventually(t, func() bool {
			raw, ok := p.lastPayload(protocol.EventCallFailed)
			if !ok {
				return false
			}
			var payload protocol.CallFailedPayload
			return json.Unmarshal(raw, &payload) == nil && payload.Reason == "call timed out"
		}, time.Second, 5*time.Millisecond)
	}

	_, active := f.calls.FindActiveByIdentity("acme", "alice")
	require.False(t, active)
}

func TestCallSignalingWithoutTargetUsesSessionPairing(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice := f.connect("acme", "alice")
	bob := f.connect("acme", "bob")

	f.send(alice, protocol.EventCallUser, `{"username":"bob","offer":{"sdp":"x"}}`)
	raw, ok := bob.lastPayload(protocol.EventIncomingCall)
	require.True(t, ok)
	var incoming protocol.IncomingCallPayload
	require.NoError(t, json.Unmarshal(raw, &incoming))

	// No "target" handle anywhere below: the session pairing routes it.
	f.send(bob, protocol.EventCallAccepted, fmt.Sprintf(
		`{"callId":%q,"answer":{"sdp":"a"}}`, incoming.CallID))
	require.Contains(t, alice.events(), protocol.EventCallAccepted)
	require.NotContains(t, bob.events(), protocol.EventError)

	f.send(alice, protocol.EventEndCall, fmt.Sprintf(`{"callId":%q}`, incoming.CallID))
	require.Contains(t, bob.events(), protocol.EventEndCall)

	_, active := f.calls.FindActiveByIdentity("acme", "alice")
	require.False(t, active)
}

func TestDisconnectEndsActiveCall(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice := f.connect("acme", "alice")
	bob := f.connect("acme", "bob")
	carol := f.connect("acme", "carol")

	f.send(alice, protocol.EventCallUser, `{"username":"bob","offer":{"sdp":"x"}}`)
	raw, ok := bob.lastPayload(protocol.EventIncomingCall)
	require.True(t, ok)
	var incoming protocol.IncomingCallPayload
	require.NoError(t, json.Unmarshal(raw, &incoming))
	f.send(bob, protocol.EventCallAccepted, fmt.Sprintf(
		`{"callId":%q,"answer":{"sdp":"a"}}`, incoming.CallID))
	bob.reset()

	f.dispatcher.HandleDisconnect(alice.ID())

	// The remaining peer learns the call is over and both identities are free.
	raw, ok = bob.lastPayload(protocol.EventCallFailed)
	require.True(t, ok)
	var failed protocol.CallFailedPayload
	require.NoError(t, json.Unmarshal(raw, &failed))
	require.Equal(t, incoming.CallID, failed.CallID)
	require.Contains(t, failed.Reason, "disconnected")

	_, active := f.calls.FindActiveByIdentity("acme", "bob")
	require.False(t, active)

	// bob is immediately callable again.
	bob.reset()
	f.send(carol, protocol.EventCallUser, `{"username":"bob","offer":{"sdp":"y"}}`)
	require.Contains(t, bob.events(), protocol.EventIncomingCall)
}

func TestICECandidateRelay(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice := f.connect("acme", "alice")
	bob := f.connect("acme", "bob")

	f.send(alice, protocol.EventICECandidate, fmt.Sprintf(
		`{"target":%q,"candidate":{"c":"1"}}`, bob.ID().String()))

	raw, ok := bob.lastPayload(protocol.EventICECandidate)
	require.True(t, ok)
	var payload protocol.ICECandidatePayload
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.Equal(t, alice.ID().String(), payload.FromConn)
	require.JSONEq(t, `{"c":"1"}`, string(payload.Candidate))

	// Relay to a vanished handle is a silent no-op.
	f.send(alice, protocol.EventICECandidate, fmt.Sprintf(
		`{"target":%q,"candidate":{"c":"2"}}`, uuid.NewString()))
	require.NotContains(t, alice.events(), protocol.EventError)
}

func TestGetReviewBroadcastsToRoom(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice := f.connect("acme", "alice")
	bob := f.connect("acme", "bob")
	f.send(alice, protocol.EventJoinProject, `{"projectId":"proj1"}`)
	f.send(bob, protocol.EventJoinProject, `{"projectId":"proj1"}`)
	bob.reset()

	f.send(alice, protocol.EventGetReview, `{"projectId":"proj1","code":"package main","language":"go"}`)

	for _, p := range []*fakePeer{alice, bob} {
		raw, ok := p.lastPayload(protocol.EventCodeReview)
		require.True(t, ok)
		var payload protocol.CodeReviewPayload
		require.NoError(t, json.Unmarshal(raw, &payload))
		require.Equal(t, "looks good", payload.Review)
	}
}

func TestGetReviewFailureGoesToRequesterOnly(t *testing.T) {
	f := newFixture(t, time.Minute)
	f.reviewer.err = errors.New("model overloaded")
	alice := f.connect("acme", "alice")
	bob := f.connect("acme", "bob")
	f.send(alice, protocol.EventJoinProject, `{"projectId":"proj1"}`)
	f.send(bob, protocol.EventJoinProject, `{"projectId":"proj1"}`)
	bob.reset()

	f.send(alice, protocol.EventGetReview, `{"projectId":"proj1","code":"x","language":"go"}`)

	require.Contains(t, errorMessage(t, alice), "review failed")
	require.NotContains(t, bob.events(), protocol.EventError)
	require.NotContains(t, bob.events(), protocol.EventCodeReview)
}

func TestConnectAnnouncesOnlineToTeam(t *testing.T) {
	f := newFixture(t, time.Minute)
	bob := f.connect("acme", "bob")
	bob.reset()

	f.connect("acme", "alice")

	raw, ok := bob.lastPayload(protocol.EventUserOnline)
	require.True(t, ok)
	var payload protocol.UserPresencePayload
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.Equal(t, "alice", payload.Username)
}

func TestDisconnectRemovesFromActiveUsers(t *testing.T) {
	f := newFixture(t, time.Minute)
	alice := f.connect("acme", "alice")
	bob := f.connect("acme", "bob")
	f.send(alice, protocol.EventJoinProject, `{"projectId":"proj1"}`)
	f.send(bob, protocol.EventJoinProject, `{"projectId":"proj1"}`)
	bob.reset()

	f.dispatcher.HandleDisconnect(alice.ID())

	require.Eventually(t, func() bool {
		raw, ok := bob.lastPayload(protocol.EventActiveUsers)
		if !ok {
			return false
		}
		var payload protocol.ActiveUsersPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return false
		}
		return len(payload.Usernames) == 1 && payload.Usernames[0] == "bob"
	}, time.Second, 5*time.Millisecond)
}
