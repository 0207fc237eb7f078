package call

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sameer2210/CodeX-sub000/pkg/auth"
)

type participantKey struct {
	team     string
	username string
}

// ExpireFunc is invoked when a session rings past the timeout window without
// reaching a terminal state. It runs outside the manager lock; the session
// snapshot already carries the terminal status and the manager cleans the
// session up right after the callback returns.
type ExpireFunc func(sess Session)

// Manager owns all live call sessions and the busy index. The busy index
// gives O(1) answers to "is this identity already in a call", and the
// busy-check-and-create sequence runs under one lock so two simultaneous
// attempts sharing a participant can never both commit.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	active   map[participantKey]string // busy index: identity -> call id

	ringTimeout time.Duration
	onExpire    ExpireFunc

	logger *slog.Logger
}

func NewManager(logger *slog.Logger, ringTimeout time.Duration) *Manager {
	return &Manager{
		sessions:    make(map[string]*Session),
		active:      make(map[participantKey]string),
		ringTimeout: ringTimeout,
		logger:      logger.With(slog.String("component", "call_manager")),
	}
}

// SetOnExpire installs the timeout notification hook. Must be called before
// the first Create.
func (m *Manager) SetOnExpire(fn ExpireFunc) {
	m.onExpire = fn
}

// CreateParams carries everything needed to open a session.
type CreateParams struct {
	CallID       string // optional, allocated when empty
	Team         string
	Caller       auth.Identity
	Receiver     auth.Identity
	Kind         Kind
	CallerConn   uuid.UUID
	ReceiverConn uuid.UUID
	Offer        json.RawMessage
}

// Create opens a new session in CALLING state, indexes both participants and
// arms the ring timeout. Fails with ErrBusy when either participant already
// has an active call, and with ErrDuplicateCall on a caller-supplied id
// collision. No state is mutated on failure.
func (m *Manager) Create(p CreateParams) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	callerKey := participantKey{team: p.Team, username: p.Caller.Username}
	receiverKey := participantKey{team: p.Team, username: p.Receiver.Username}
	if _, busy := m.active[callerKey]; busy {
		return Session{}, ErrBusy
	}
	if _, busy := m.active[receiverKey]; busy {
		return Session{}, ErrBusy
	}

	callID := p.CallID
	if callID == "" {
		callID = uuid.NewString()
	} else if _, exists := m.sessions[callID]; exists {
		return Session{}, ErrDuplicateCall
	}

	now := time.Now()
	sess := &Session{
		ID:           callID,
		Team:         p.Team,
		Caller:       p.Caller,
		Receiver:     p.Receiver,
		Kind:         p.Kind,
		CallerConn:   p.CallerConn,
		ReceiverConn: p.ReceiverConn,
		Offer:        p.Offer,
		Status:       StatusCalling,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	sess.timer = time.AfterFunc(m.ringTimeout, func() { m.expire(callID) })

	m.sessions[callID] = sess
	m.active[callerKey] = callID
	m.active[receiverKey] = callID

	m.logger.Debug("call created",
		slog.String("callID", callID),
		slog.String("caller", p.Caller.Username),
		slog.String("receiver", p.Receiver.Username),
		slog.String("kind", string(p.Kind)),
	)
	return *sess, nil
}

// SetStatusOptions carries optional fields attached alongside a transition.
type SetStatusOptions struct {
	Answer json.RawMessage
}

// SetStatus applies a transition and stamps UpdatedAt. ACCEPTED additionally
// stamps StartedAt and attaches the answer; terminal statuses stamp EndedAt
// and stop the ring timer. The session stays in storage until Cleanup so the
// caller can still read final state while notifying participants.
func (m *Manager) SetStatus(callID string, status Status, opts SetStatusOptions) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[callID]
	if !ok {
		return Session{}, ErrNotFound
	}

	now := time.Now()
	sess.Status = status
	sess.UpdatedAt = now
	if status == StatusAccepted {
		sess.StartedAt = now
		if opts.Answer != nil {
			sess.Answer = opts.Answer
		}
	}
	if status.Terminal() {
		sess.EndedAt = now
		if sess.timer != nil {
			sess.timer.Stop()
		}
	}

	m.logger.Debug("call status changed", slog.String("callID", callID), slog.String("status", string(status)))
	return *sess, nil
}

// Cleanup cancels any pending timeout and evicts the session and both busy
// index entries. Idempotent.
func (m *Manager) Cleanup(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanupLocked(callID)
}

func (m *Manager) cleanupLocked(callID string) {
	sess, ok := m.sessions[callID]
	if !ok {
		return
	}
	if sess.timer != nil {
		sess.timer.Stop()
	}
	delete(m.sessions, callID)

	for _, username := range []string{sess.Caller.Username, sess.Receiver.Username} {
		key := participantKey{team: sess.Team, username: username}
		if m.active[key] == callID {
			delete(m.active, key)
		}
	}
	m.logger.Debug("call cleaned up", slog.String("callID", callID))
}

// FindActiveByIdentity resolves the identity's current call, if any. Used
// both for busy checks and for signaling events that arrive without a call
// id.
func (m *Manager) FindActiveByIdentity(team, username string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	callID, ok := m.active[participantKey{team: team, username: username}]
	if !ok {
		return Session{}, false
	}
	sess, ok := m.sessions[callID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// expire fires when the ring timer lapses. Stopping the timer on a terminal
// transition and the timer firing can race at the boundary, so the status is
// re-checked under the lock before any effect is applied.
func (m *Manager) expire(callID string) {
	m.mu.Lock()
	sess, ok := m.sessions[callID]
	if !ok || sess.Status.Terminal() {
		m.mu.Unlock()
		return
	}

	now := time.Now()
	sess.Status = StatusFailed
	sess.UpdatedAt = now
	sess.EndedAt = now
	snapshot := *sess
	m.cleanupLocked(callID)
	m.mu.Unlock()

	m.logger.Info("call expired without answer", slog.String("callID", callID))
	if m.onExpire != nil {
		m.onExpire(snapshot)
	}
}
