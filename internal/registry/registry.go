// Package registry is the source of truth for live connections: which
// identity owns each connection handle and which project room it currently
// points at.
package registry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sameer2210/CodeX-sub000/pkg/auth"
)

// Peer is the delivery side of a connection. transport.Connection satisfies
// it; tests substitute in-memory fakes.
type Peer interface {
	ID() uuid.UUID
	Send(message []byte)
}

// Connection is the registry's record for one live transport session.
type Connection struct {
	ID        uuid.UUID
	Identity  auth.Identity
	ProjectID string // empty when not in a project room
	Peer      Peer
	CreatedAt time.Time

	// seq preserves registration order for member listings.
	seq uint64
}

// Member is one entry of a project member listing.
type Member struct {
	Username string
	ConnID   uuid.UUID
}

type identityKey struct {
	team     string
	username string
}

// Registry maps connection handles to identities and keeps a secondary
// (team, username) index used for direct call delivery. The index is
// last-writer-wins: a duplicate login overwrites it without closing the
// older socket.
type Registry struct {
	mu         sync.RWMutex
	conns      map[uuid.UUID]*Connection
	byIdentity map[identityKey]uuid.UUID
	nextSeq    uint64

	logger *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	return &Registry{
		conns:      make(map[uuid.UUID]*Connection),
		byIdentity: make(map[identityKey]uuid.UUID),
		logger:     logger.With(slog.String("component", "registry")),
	}
}

// Register inserts a connection record for an authenticated identity and
// points the identity index at it.
func (r *Registry) Register(peer Peer, identity auth.Identity) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextSeq++
	conn := &Connection{
		ID:        peer.ID(),
		Identity:  identity,
		Peer:      peer,
		CreatedAt: time.Now(),
		seq:       r.nextSeq,
	}
	r.conns[conn.ID] = conn
	r.byIdentity[identityKey{team: identity.Team, username: identity.Username}] = conn.ID

	r.logger.Debug("connection registered",
		slog.String("connID", conn.ID.String()),
		slog.String("team", identity.Team),
		slog.String("username", identity.Username),
	)
	return conn
}

// Unregister removes the connection. Idempotent. The identity index entry is
// removed only while it still points at this handle, so a newer duplicate
// login keeps receiving call signaling.
func (r *Registry) Unregister(connID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return
	}
	delete(r.conns, connID)

	key := identityKey{team: conn.Identity.Team, username: conn.Identity.Username}
	if r.byIdentity[key] == connID {
		delete(r.byIdentity, key)
	}
	r.logger.Debug("connection unregistered", slog.String("connID", connID.String()))
}

// SetCurrentProject moves the connection's room pointer. No-op for unknown
// handles.
func (r *Registry) SetCurrentProject(connID uuid.UUID, projectID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[connID]; ok {
		conn.ProjectID = projectID
	}
}

// Lookup returns a snapshot of the connection record.
func (r *Registry) Lookup(connID uuid.UUID) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connID]
	if !ok {
		return Connection{}, false
	}
	return *conn, true
}

// LookupByIdentity resolves the delivery handle for an identity, if any.
func (r *Registry) LookupByIdentity(team, username string) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byIdentity[identityKey{team: team, username: username}]
	return id, ok
}

// Peer resolves a connection handle to its delivery endpoint.
func (r *Registry) Peer(connID uuid.UUID) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connID]
	if !ok {
		return nil, false
	}
	return conn.Peer, true
}

// CountIdentityConnections reports how many live connections an identity
// currently holds. Duplicate logins each count.
func (r *Registry) CountIdentityConnections(team, username string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, conn := range r.conns {
		if conn.Identity.Team == team && conn.Identity.Username == username {
			count++
		}
	}
	return count
}

// OldestIdentityConnection returns the identity's longest-lived connection,
// used by the connection limiter's cycle mode.
func (r *Registry) OldestIdentityConnection(team, username string) (Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var oldest *Connection
	for _, conn := range r.conns {
		if conn.Identity.Team != team || conn.Identity.Username != username {
			continue
		}
		if oldest == nil || conn.seq < oldest.seq {
			oldest = conn
		}
	}
	if oldest == nil {
		return Connection{}, false
	}
	return *oldest, true
}

// Connections returns a snapshot of every live connection record. Used for
// shutdown sweeps.
func (r *Registry) Connections() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		out = append(out, *conn)
	}
	return out
}

// ListProjectMembers returns connections currently pointing at the project,
// in registration order. The order is stable for a given snapshot, nothing
// more.
func (r *Registry) ListProjectMembers(team, projectID string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Connection
	for _, conn := range r.conns {
		if conn.Identity.Team == team && conn.ProjectID == projectID {
			matched = append(matched, conn)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	members := make([]Member, len(matched))
	for i, conn := range matched {
		members[i] = Member{Username: conn.Identity.Username, ConnID: conn.ID}
	}
	return members
}

// ListTeamMembers returns all live connections for a team, in registration
// order.
func (r *Registry) ListTeamMembers(team string) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []*Connection
	for _, conn := range r.conns {
		if conn.Identity.Team == team {
			matched = append(matched, conn)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	members := make([]Member, len(matched))
	for i, conn := range matched {
		members[i] = Member{Username: conn.Identity.Username, ConnID: conn.ID}
	}
	return members
}

// ActiveUsernames returns the distinct usernames present in a project room,
// first-seen order. Duplicate logins collapse to one entry.
func (r *Registry) ActiveUsernames(team, projectID string) []string {
	members := r.ListProjectMembers(team, projectID)

	seen := make(map[string]struct{}, len(members))
	usernames := make([]string, 0, len(members))
	for _, m := range members {
		if _, dup := seen[m.Username]; dup {
			continue
		}
		seen[m.Username] = struct{}{}
		usernames = append(usernames, m.Username)
	}
	return usernames
}
