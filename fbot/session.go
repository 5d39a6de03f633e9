package fbot

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrSessionActive is returned by [SessionStore.Start] when the channel
	// already has a live session.
	ErrSessionActive = errors.New("session already active in this channel")

	// ErrSessionNotFound is returned when no live session exists for the
	// channel.
	ErrSessionNotFound = errors.New("no active session in this channel")

	// ErrSessionNotOwner is returned when a user other than the session
	// owner attempts to mutate or end the session.
	ErrSessionNotOwner = errors.New("session belongs to another user")
)

// Turn is a single exchange entry in a chat session transcript.
type Turn struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Session is a live conversational session bound to a channel and its
// owning user. Values returned from [SessionStore] are snapshots and safe
// to read without further locking.
type Session struct {
	ChannelID  string    `json:"channel_id"`
	OwnerID    string    `json:"owner_id"`
	Command    string    `json:"command"`
	ModelID    string    `json:"model_id"`
	StartedAt  time.Time `json:"started_at"`
	LastActive time.Time `json:"last_active"`
	Turns      []Turn    `json:"turns"`
}

func (s *Session) snapshot() *Session {
	cp := *s
	cp.Turns = make([]Turn, len(s.Turns))
	copy(cp.Turns, s.Turns)
	return &cp
}

// SessionStore holds at most one live session per channel. All methods are
// safe for concurrent use.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
	logger   *slog.Logger
}

// NewSessionStore returns an empty store.
func NewSessionStore(logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{
		sessions: map[string]*Session{},
		now:      time.Now,
		logger:   logger.With(loggerNameKey, "session_store"),
	}
}

// Start creates a session for channelID owned by ownerID. If the channel
// already has a live session, it returns [ErrSessionActive] and the
// existing session is untouched. Creation is atomic: of N concurrent
// callers for the same channel, exactly one succeeds.
func (s *SessionStore) Start(
	channelID string,
	ownerID string,
	command string,
	modelID string,
) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[channelID]; ok {
		return nil, ErrSessionActive
	}
	now := s.now()
	sess := &Session{
		ChannelID:  channelID,
		OwnerID:    ownerID,
		Command:    command,
		ModelID:    modelID,
		StartedAt:  now,
		LastActive: now,
	}
	s.sessions[channelID] = sess
	s.logger.Info(
		"session started",
		"channel_id", channelID,
		"owner_id", ownerID,
		"command", command,
	)
	return sess.snapshot(), nil
}

// Get returns a snapshot of the live session for channelID, or
// [ErrSessionNotFound].
func (s *SessionStore) Get(channelID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[channelID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess.snapshot(), nil
}

// AppendTurn records a transcript entry on the channel's session and
// refreshes its activity timestamp. Only the session owner may append.
func (s *SessionStore) AppendTurn(
	channelID string,
	userID string,
	role string,
	content string,
) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[channelID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.OwnerID != userID {
		return nil, ErrSessionNotOwner
	}
	now := s.now()
	sess.Turns = append(sess.Turns, Turn{Role: role, Content: content, At: now})
	sess.LastActive = now
	return sess.snapshot(), nil
}

// End removes the channel's session. Only the owner may end it.
func (s *SessionStore) End(channelID string, userID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[channelID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.OwnerID != userID {
		return nil, ErrSessionNotOwner
	}
	delete(s.sessions, channelID)
	s.logger.Info(
		"session ended",
		"channel_id", channelID,
		"owner_id", userID,
		"turns", len(sess.Turns),
	)
	return sess.snapshot(), nil
}

// ActiveCount returns the number of live sessions.
func (s *SessionStore) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// SweepExpired removes every session idle longer than maxIdle and returns
// the number removed.
func (s *SessionStore) SweepExpired(maxIdle time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-maxIdle)
	removed := 0
	for channelID, sess := range s.sessions {
		if sess.LastActive.Before(cutoff) {
			delete(s.sessions, channelID)
			removed++
			s.logger.Info(
				"session expired",
				"channel_id", channelID,
				"owner_id", sess.OwnerID,
				"idle", s.now().Sub(sess.LastActive).String(),
			)
		}
	}
	return removed
}
