// Package rooms orchestrates the join/leave protocol for project rooms and
// the presence notifications that go with it. Rooms are never materialized:
// membership is derived by scanning the registry, which is fine at the tens
// of users a room sees in practice.
package rooms

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sameer2210/CodeX-sub000/internal/chat"
	"github.com/sameer2210/CodeX-sub000/internal/protocol"
	"github.com/sameer2210/CodeX-sub000/internal/registry"
)

// TeamKey is the broadcast-group identifier for a whole team.
func TeamKey(team string) string {
	return "team:" + team
}

// ProjectKey is the broadcast-group identifier for a project within a team.
func ProjectKey(team, projectID string) string {
	return "project:" + team + ":" + projectID
}

// Router computes room membership and runs the join/leave side effects.
type Router struct {
	reg          *registry.Registry
	history      chat.Store
	historyLimit int
	leaveDelay   time.Duration

	logger *slog.Logger
}

func NewRouter(logger *slog.Logger, reg *registry.Registry, history chat.Store, historyLimit int, leaveDelay time.Duration) *Router {
	return &Router{
		reg:          reg,
		history:      history,
		historyLimit: historyLimit,
		leaveDelay:   leaveDelay,
		logger:       logger.With(slog.String("component", "room_router")),
	}
}

// JoinProject moves the connection into a project room: leaves the previous
// room if any, records the new room pointer, delivers recent chat history to
// the joiner, announces the join and rebroadcasts the active-user list.
// A history fetch failure is returned to the caller for reporting but the
// join itself is retained.
func (r *Router) JoinProject(ctx context.Context, connID uuid.UUID, projectID string) error {
	conn, ok := r.reg.Lookup(connID)
	if !ok {
		// Connection vanished while the event was in flight.
		return nil
	}
	team := conn.Identity.Team
	username := conn.Identity.Username

	if prev := conn.ProjectID; prev != "" && prev != projectID {
		r.reg.SetCurrentProject(connID, "")
		r.notifyRoom(team, prev, connID, protocol.EventUserLeftProject, protocol.ProjectPresencePayload{
			Username:  username,
			ProjectID: prev,
		})
		r.broadcastActiveUsers(team, prev)
	}

	r.reg.SetCurrentProject(connID, projectID)
	r.logger.Debug("user joined project room",
		slog.String("room", ProjectKey(team, projectID)),
		slog.String("username", username),
	)

	history, histErr := r.history.Recent(ctx, team, projectID, r.historyLimit)
	if histErr == nil {
		r.sendTo(connID, protocol.EventChatHistory, protocol.ChatHistoryPayload{
			ProjectID: projectID,
			Messages:  history,
		})
	}

	r.notifyRoom(team, projectID, connID, protocol.EventUserJoinedProject, protocol.ProjectPresencePayload{
		Username:  username,
		ProjectID: projectID,
	})
	r.broadcastActiveUsers(team, projectID)

	if histErr != nil {
		return fmt.Errorf("failed to load chat history: %w", histErr)
	}
	r.sendTo(connID, protocol.EventJoinedProject, protocol.JoinedProjectPayload{ProjectID: projectID})
	return nil
}

// LeaveProject clears the connection's room pointer and tells the room. The
// supplied projectID is trusted as-is: a mismatched id triggers a spurious
// rebroadcast for that room, which is a caller error.
func (r *Router) LeaveProject(connID uuid.UUID, projectID string) {
	conn, ok := r.reg.Lookup(connID)
	if !ok {
		return
	}
	team := conn.Identity.Team

	if conn.ProjectID == projectID {
		r.reg.SetCurrentProject(connID, "")
	}
	r.notifyRoom(team, projectID, connID, protocol.EventUserLeftProject, protocol.ProjectPresencePayload{
		Username:  conn.Identity.Username,
		ProjectID: projectID,
	})
	r.broadcastActiveUsers(team, projectID)
}

// DisconnectCleanup runs the leave protocol for a dropped connection and
// removes it from the registry. Departure notifications go out immediately;
// the active-user recompute waits out leaveDelay so a rapid reconnect does
// not flicker in the member list.
func (r *Router) DisconnectCleanup(connID uuid.UUID) {
	conn, ok := r.reg.Lookup(connID)
	if !ok {
		return
	}
	team := conn.Identity.Team
	username := conn.Identity.Username
	projectID := conn.ProjectID

	// Remove first so every recompute below excludes the dead handle.
	r.reg.Unregister(connID)

	if projectID != "" {
		r.notifyRoom(team, projectID, connID, protocol.EventUserLeftProject, protocol.ProjectPresencePayload{
			Username:  username,
			ProjectID: projectID,
		})
		time.AfterFunc(r.leaveDelay, func() {
			r.broadcastActiveUsers(team, projectID)
		})
	}

	r.notifyTeam(team, connID, protocol.EventUserOffline, protocol.UserPresencePayload{Username: username})
	r.logger.Debug("disconnect cleanup complete",
		slog.String("username", username),
		slog.String("room", TeamKey(team)),
	)
}

// AnnounceOnline tells the rest of the team a user's connection came up.
func (r *Router) AnnounceOnline(connID uuid.UUID) {
	conn, ok := r.reg.Lookup(connID)
	if !ok {
		return
	}
	r.notifyTeam(conn.Identity.Team, connID, protocol.EventUserOnline, protocol.UserPresencePayload{
		Username: conn.Identity.Username,
	})
}

// broadcastActiveUsers sends the recomputed username list to everyone in the
// project room, the subject connection included.
func (r *Router) broadcastActiveUsers(team, projectID string) {
	payload := protocol.ActiveUsersPayload{
		ProjectID: projectID,
		Usernames: r.reg.ActiveUsernames(team, projectID),
	}
	msg, err := protocol.Marshal(protocol.EventActiveUsers, payload)
	if err != nil {
		r.logger.Error("failed to marshal active-users", slog.Any("error", err))
		return
	}
	for _, member := range r.reg.ListProjectMembers(team, projectID) {
		if peer, ok := r.reg.Peer(member.ConnID); ok {
			peer.Send(msg)
		}
	}
}

// notifyRoom sends an event to every project-room member except the subject
// connection.
func (r *Router) notifyRoom(team, projectID string, except uuid.UUID, event string, payload any) {
	msg, err := protocol.Marshal(event, payload)
	if err != nil {
		r.logger.Error("failed to marshal room event", slog.String("event", event), slog.Any("error", err))
		return
	}
	for _, member := range r.reg.ListProjectMembers(team, projectID) {
		if member.ConnID == except {
			continue
		}
		if peer, ok := r.reg.Peer(member.ConnID); ok {
			peer.Send(msg)
		}
	}
}

// notifyTeam sends an event to every team member except the subject
// connection.
func (r *Router) notifyTeam(team string, except uuid.UUID, event string, payload any) {
	msg, err := protocol.Marshal(event, payload)
	if err != nil {
		r.logger.Error("failed to marshal team event", slog.String("event", event), slog.Any("error", err))
		return
	}
	for _, member := range r.reg.ListTeamMembers(team) {
		if member.ConnID == except {
			continue
		}
		if peer, ok := r.reg.Peer(member.ConnID); ok {
			peer.Send(msg)
		}
	}
}

// sendTo delivers an event to one connection; absent handles are a silent
// no-op.
func (r *Router) sendTo(connID uuid.UUID, event string, payload any) {
	msg, err := protocol.Marshal(event, payload)
	if err != nil {
		r.logger.Error("failed to marshal event", slog.String("event", event), slog.Any("error", err))
		return
	}
	if peer, ok := r.reg.Peer(connID); ok {
		peer.Send(msg)
	}
}
