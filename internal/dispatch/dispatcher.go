// Package dispatch is the single entry point for inbound client events. It
// validates payload fields, routes to the room router / call manager /
// persistence collaborators, and translates their results into outbound
// events. It is also the only layer that turns failures into error events.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/sameer2210/CodeX-sub000/internal/call"
	"github.com/sameer2210/CodeX-sub000/internal/chat"
	"github.com/sameer2210/CodeX-sub000/internal/protocol"
	"github.com/sameer2210/CodeX-sub000/internal/registry"
	"github.com/sameer2210/CodeX-sub000/internal/review"
	"github.com/sameer2210/CodeX-sub000/internal/rooms"
	"github.com/sameer2210/CodeX-sub000/pkg/auth"
)

type Dispatcher struct {
	logger   *slog.Logger
	reg      *registry.Registry
	rooms    *rooms.Router
	calls    *call.Manager
	store    chat.Store
	reviewer review.Reviewer
}

func New(logger *slog.Logger, reg *registry.Registry, roomRouter *rooms.Router, calls *call.Manager, store chat.Store, reviewer review.Reviewer) *Dispatcher {
	d := &Dispatcher{
		logger:   logger.With(slog.String("component", "dispatcher")),
		reg:      reg,
		rooms:    roomRouter,
		calls:    calls,
		store:    store,
		reviewer: reviewer,
	}
	calls.SetOnExpire(d.handleCallExpired)
	return d
}

// HandleConnect runs once the connection is registered: the team learns the
// user came online.
func (d *Dispatcher) HandleConnect(connID uuid.UUID) {
	d.rooms.AnnounceOnline(connID)
}

// HandleDisconnect tears down the identity's live call, then runs the room
// leave protocol and drops the registration.
func (d *Dispatcher) HandleDisconnect(connID uuid.UUID) {
	if conn, ok := d.reg.Lookup(connID); ok {
		d.endActiveCall(conn)
	}
	d.rooms.DisconnectCleanup(connID)
}

// endActiveCall ends the departing identity's call so neither participant
// stays busy-indexed behind a dead socket. The remaining peer is told why.
func (d *Dispatcher) endActiveCall(conn registry.Connection) {
	sess, ok := d.calls.FindActiveByIdentity(conn.Identity.Team, conn.Identity.Username)
	if !ok {
		return
	}
	if _, err := d.calls.SetStatus(sess.ID, call.StatusEnded, call.SetStatusOptions{}); err != nil {
		d.logger.Warn("failed to end call on disconnect", slog.String("callID", sess.ID), slog.Any("error", err))
	}
	d.sendTo(sess.PartnerConn(conn.ID), protocol.EventCallFailed, protocol.CallFailedPayload{
		CallID: sess.ID,
		Reason: "peer disconnected",
	})
	d.calls.Cleanup(sess.ID)
}

// HandleMessage routes one inbound frame. Events from a single connection
// arrive here in order; handlers mutate shared state through the mutex-backed
// stores before any suspension point that matters for their invariants.
func (d *Dispatcher) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		d.logger.Warn("failed to unmarshal client message", slog.String("connID", connID.String()), slog.Any("error", err))
		d.sendError(connID, "malformed message")
		return
	}

	kind, known := protocol.ParseKind(env.Event)
	if !known {
		d.logger.Warn("received unknown event", slog.String("event", env.Event), slog.String("connID", connID.String()))
		d.sendError(connID, "unknown event: "+env.Event)
		return
	}

	conn, ok := d.reg.Lookup(connID)
	if !ok {
		// The connection dropped while the frame was queued. Nothing to do.
		return
	}

	payload := string(env.Payload)
	switch kind {
	case protocol.KindJoinProject:
		d.handleJoinProject(ctx, conn, payload)
	case protocol.KindLeaveProject:
		d.handleLeaveProject(conn, payload)
	case protocol.KindChatMessage:
		d.handleChatMessage(ctx, conn, payload)
	case protocol.KindTypingStart:
		d.handleTyping(conn, payload, true)
	case protocol.KindTypingStop:
		d.handleTyping(conn, payload, false)
	case protocol.KindCodeChange:
		d.handleCodeChange(conn, payload)
	case protocol.KindCallUser:
		d.handleCallUser(conn, payload)
	case protocol.KindCallAccepted:
		d.handleCallAccepted(conn, payload)
	case protocol.KindCallRejected:
		d.handleCallTerminal(conn, payload, call.StatusRejected, protocol.EventCallRejected)
	case protocol.KindEndCall:
		d.handleCallTerminal(conn, payload, call.StatusEnded, protocol.EventEndCall)
	case protocol.KindICECandidate:
		d.handleICECandidate(conn, payload)
	case protocol.KindGetReview:
		d.handleGetReview(ctx, conn, payload)
	}
}

func (d *Dispatcher) handleJoinProject(ctx context.Context, conn registry.Connection, payload string) {
	projectID := gjson.Get(payload, "projectId").String()
	if projectID == "" {
		d.sendError(conn.ID, "projectId is required")
		return
	}
	if err := d.rooms.JoinProject(ctx, conn.ID, projectID); err != nil {
		d.logger.Error("join-project failed", slog.String("projectId", projectID), slog.Any("error", err))
		d.sendError(conn.ID, err.Error())
	}
}

func (d *Dispatcher) handleLeaveProject(conn registry.Connection, payload string) {
	projectID := gjson.Get(payload, "projectId").String()
	if projectID == "" {
		return
	}
	d.rooms.LeaveProject(conn.ID, projectID)
}

func (d *Dispatcher) handleChatMessage(ctx context.Context, conn registry.Connection, payload string) {
	projectID := gjson.Get(payload, "projectId").String()
	text := strings.TrimSpace(gjson.Get(payload, "text").String())
	if projectID == "" {
		d.sendError(conn.ID, "projectId is required")
		return
	}
	if text == "" {
		d.sendError(conn.ID, "message text is empty")
		return
	}

	msg := &chat.Message{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Team:      conn.Identity.Team,
		Username:  conn.Identity.Username,
		Text:      text,
		Kind:      "text",
		CreatedAt: time.Now().UTC(),
	}
	// Persist before fan-out so receivers see the server-assigned id and
	// timestamp.
	if err := d.store.Save(ctx, msg); err != nil {
		d.logger.Error("failed to persist chat message", slog.Any("error", err))
		d.sendError(conn.ID, "failed to save message")
		return
	}

	// The whole room, sender included: the echo doubles as a send confirm.
	d.broadcastProject(conn.Identity.Team, projectID, protocol.EventChatMessage, msg, nil)
}

func (d *Dispatcher) handleTyping(conn registry.Connection, payload string, typing bool) {
	projectID := gjson.Get(payload, "projectId").String()
	if projectID == "" {
		d.sendError(conn.ID, "projectId is required")
		return
	}
	except := conn.ID
	d.broadcastProject(conn.Identity.Team, projectID, protocol.EventUserTyping, protocol.TypingPayload{
		Username:  conn.Identity.Username,
		ProjectID: projectID,
		Typing:    typing,
	}, &except)
}

func (d *Dispatcher) handleCodeChange(conn registry.Connection, payload string) {
	projectID := gjson.Get(payload, "projectId").String()
	body := gjson.Get(payload, "payload")
	if projectID == "" || !body.Exists() {
		d.sendError(conn.ID, "projectId and payload are required")
		return
	}
	except := conn.ID
	d.broadcastProject(conn.Identity.Team, projectID, protocol.EventCodeChange, protocol.CodeChangePayload{
		Username:  conn.Identity.Username,
		ProjectID: projectID,
		Payload:   json.RawMessage(body.Raw),
	}, &except)
}

func (d *Dispatcher) handleCallUser(conn registry.Connection, payload string) {
	target := gjson.Get(payload, "username").String()
	offer := gjson.Get(payload, "offer")
	if target == "" || !offer.Exists() {
		d.sendError(conn.ID, "username and offer are required")
		return
	}
	kind := call.ParseKind(gjson.Get(payload, "kind").String())
	callID := gjson.Get(payload, "callId").String()

	team := conn.Identity.Team
	receiverConn, online := d.reg.LookupByIdentity(team, target)
	if !online {
		d.sendTo(conn.ID, protocol.EventCallFailed, protocol.CallFailedPayload{
			CallID: callID,
			Reason: "user is not connected",
		})
		return
	}

	sess, err := d.calls.Create(call.CreateParams{
		CallID:       callID,
		Team:         team,
		Caller:       conn.Identity,
		Receiver:     auth.Identity{Team: team, Username: target},
		Kind:         kind,
		CallerConn:   conn.ID,
		ReceiverConn: receiverConn,
		Offer:        json.RawMessage(offer.Raw),
	})
	switch {
	case errors.Is(err, call.ErrBusy):
		d.sendTo(conn.ID, protocol.EventCallFailed, protocol.CallFailedPayload{CallID: callID, Reason: "user is busy"})
		return
	case errors.Is(err, call.ErrDuplicateCall):
		d.sendTo(conn.ID, protocol.EventCallFailed, protocol.CallFailedPayload{CallID: callID, Reason: "duplicate call id"})
		return
	case err != nil:
		d.logger.Error("failed to create call", slog.Any("error", err))
		d.sendError(conn.ID, "failed to create call")
		return
	}

	d.sendTo(receiverConn, protocol.EventIncomingCall, protocol.IncomingCallPayload{
		CallID:   sess.ID,
		From:     conn.Identity.Username,
		FromConn: conn.ID.String(),
		Kind:     string(sess.Kind),
		Offer:    sess.Offer,
	})
}

func (d *Dispatcher) handleCallAccepted(conn registry.Connection, payload string) {
	answer := gjson.Get(payload, "answer")
	if !answer.Exists() {
		d.sendError(conn.ID, "answer is required")
		return
	}

	sess, found := d.resolveCall(conn, payload)
	var targetConn uuid.UUID
	if found {
		targetConn = sess.PartnerConn(conn.ID)
		if _, err := d.calls.SetStatus(sess.ID, call.StatusAccepted, call.SetStatusOptions{
			Answer: json.RawMessage(answer.Raw),
		}); err != nil {
			d.logger.Warn("failed to mark call accepted", slog.String("callID", sess.ID), slog.Any("error", err))
		}
	} else {
		var ok bool
		if targetConn, ok = d.parseTargetConn(conn.ID, payload); !ok {
			return
		}
	}

	d.sendTo(targetConn, protocol.EventCallAccepted, protocol.CallAnswerPayload{
		CallID:   sess.ID,
		From:     conn.Identity.Username,
		FromConn: conn.ID.String(),
		Answer:   json.RawMessage(answer.Raw),
	})
}

// handleCallTerminal covers call-rejected and end-call: stamp the terminal
// status, relay to the peer, then evict the session and free the busy index.
// The session's own participant pairing resolves the delivery target; the
// payload "target" handle is only needed when no session matched.
func (d *Dispatcher) handleCallTerminal(conn registry.Connection, payload string, status call.Status, event string) {
	sess, found := d.resolveCall(conn, payload)
	var targetConn uuid.UUID
	if found {
		targetConn = sess.PartnerConn(conn.ID)
		if _, err := d.calls.SetStatus(sess.ID, status, call.SetStatusOptions{}); err != nil {
			d.logger.Warn("failed to mark call terminal", slog.String("callID", sess.ID), slog.Any("error", err))
		}
	} else {
		var ok bool
		if targetConn, ok = d.parseTargetConn(conn.ID, payload); !ok {
			return
		}
	}

	d.sendTo(targetConn, event, protocol.CallAnswerPayload{
		CallID:   sess.ID,
		From:     conn.Identity.Username,
		FromConn: conn.ID.String(),
	})

	// Cleanup after delivery so final state stayed readable until now.
	if found {
		d.calls.Cleanup(sess.ID)
	}
}

func (d *Dispatcher) handleICECandidate(conn registry.Connection, payload string) {
	targetConn, ok := d.parseTargetConn(conn.ID, payload)
	if !ok {
		return
	}
	candidate := gjson.Get(payload, "candidate")
	if !candidate.Exists() {
		d.sendError(conn.ID, "candidate is required")
		return
	}
	d.sendTo(targetConn, protocol.EventICECandidate, protocol.ICECandidatePayload{
		FromConn:  conn.ID.String(),
		Candidate: json.RawMessage(candidate.Raw),
	})
}

func (d *Dispatcher) handleGetReview(ctx context.Context, conn registry.Connection, payload string) {
	projectID := gjson.Get(payload, "projectId").String()
	code := gjson.Get(payload, "code").String()
	language := gjson.Get(payload, "language").String()
	if projectID == "" || code == "" || language == "" {
		d.sendError(conn.ID, "projectId, code and language are required")
		return
	}

	result, err := d.reviewer.Review(ctx, code, language)
	if err != nil {
		d.logger.Error("code review failed", slog.Any("error", err))
		d.sendError(conn.ID, "code review failed: "+err.Error())
		return
	}
	d.broadcastProject(conn.Identity.Team, projectID, protocol.EventCodeReview, protocol.CodeReviewPayload{
		ProjectID: projectID,
		Review:    result,
	}, nil)
}

// handleCallExpired notifies both participants that the ring window lapsed.
// The manager has already stamped the terminal state and cleaned up.
func (d *Dispatcher) handleCallExpired(sess call.Session) {
	payload := protocol.CallFailedPayload{CallID: sess.ID, Reason: "call timed out"}
	d.sendTo(sess.CallerConn, protocol.EventCallFailed, payload)
	d.sendTo(sess.ReceiverConn, protocol.EventCallFailed, payload)
}

// resolveCall finds the session a signaling event refers to: by explicit
// callId when supplied, otherwise by the sender's busy-index entry.
func (d *Dispatcher) resolveCall(conn registry.Connection, payload string) (call.Session, bool) {
	if callID := gjson.Get(payload, "callId").String(); callID != "" {
		if sess, ok := d.calls.FindActiveByIdentity(conn.Identity.Team, conn.Identity.Username); ok && sess.ID == callID {
			return sess, true
		}
		return call.Session{ID: callID}, false
	}
	return d.calls.FindActiveByIdentity(conn.Identity.Team, conn.Identity.Username)
}

// parseTargetConn extracts and validates the "target" connection handle of a
// direct signaling event.
func (d *Dispatcher) parseTargetConn(from uuid.UUID, payload string) (uuid.UUID, bool) {
	raw := gjson.Get(payload, "target").String()
	if raw == "" {
		d.sendError(from, "target is required")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		d.sendError(from, "target is not a valid connection id")
		return uuid.Nil, false
	}
	return id, true
}

// broadcastProject fans an event out to a project room. A nil except sends
// to every member, the requester included.
func (d *Dispatcher) broadcastProject(team, projectID, event string, payload any, except *uuid.UUID) {
	msg, err := protocol.Marshal(event, payload)
	if err != nil {
		d.logger.Error("failed to marshal broadcast", slog.String("event", event), slog.Any("error", err))
		return
	}
	for _, member := range d.reg.ListProjectMembers(team, projectID) {
		if except != nil && member.ConnID == *except {
			continue
		}
		if peer, ok := d.reg.Peer(member.ConnID); ok {
			peer.Send(msg)
		}
	}
}

// sendTo delivers to one connection; an absent handle is a silent no-op, the
// peer may have legitimately disconnected.
func (d *Dispatcher) sendTo(connID uuid.UUID, event string, payload any) {
	msg, err := protocol.Marshal(event, payload)
	if err != nil {
		d.logger.Error("failed to marshal event", slog.String("event", event), slog.Any("error", err))
		return
	}
	if peer, ok := d.reg.Peer(connID); ok {
		peer.Send(msg)
	}
}

func (d *Dispatcher) sendError(connID uuid.UUID, message string) {
	d.sendTo(connID, protocol.EventError, protocol.ErrorPayload{Message: message})
}
