package chat

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/NikhilSetiya/textbook-assistant/pkg/types"
)

const (
	DefaultMaxSessions        = 1000
	DefaultMaxTurnsPerSession = 50
)

type session struct {
	mu        sync.Mutex
	info      types.Session
	studentID string
	turns     []types.HistoryEntry
}

// SessionStore keeps recent chat sessions in memory. The least recently
// used session is dropped once MaxSessions is reached, and each session
// keeps only its newest turns.
type SessionStore struct {
	sessions *lru.Cache[string, *session]
	maxTurns int
	now      func() time.Time
}

// NewSessionStore creates a store; non-positive limits take the defaults
func NewSessionStore(maxSessions, maxTurns int) *SessionStore {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurnsPerSession
	}

	// Only fails for a non-positive size.
	sessions, _ := lru.New[string, *session](maxSessions)

	return &SessionStore{
		sessions: sessions,
		maxTurns: maxTurns,
		now:      time.Now,
	}
}

// Create opens a session that only exists on this gateway
func (s *SessionStore) Create(studentID, contextMode string) *types.Session {
	info := types.Session{
		SessionID:   uuid.New().String(),
		CreatedAt:   s.now().UTC(),
		ContextMode: contextMode,
		Local:       true,
	}
	s.sessions.Add(info.SessionID, &session{info: info, studentID: studentID})
	return &info
}

// Register tracks a session opened by the answering service
func (s *SessionStore) Register(info types.Session, studentID string) {
	if info.SessionID == "" {
		return
	}
	if existing, ok := s.sessions.Get(info.SessionID); ok {
		existing.mu.Lock()
		existing.info = info
		if studentID != "" {
			existing.studentID = studentID
		}
		existing.mu.Unlock()
		return
	}
	s.sessions.Add(info.SessionID, &session{info: info, studentID: studentID})
}

// Get returns the session with the given ID
func (s *SessionStore) Get(sessionID string) (types.Session, bool) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return types.Session{}, false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.info, true
}

// Record appends a turn to the session, opening it if this gateway has not
// seen it yet. Turns without a session ID are not kept.
func (s *SessionStore) Record(sessionID, studentID, contextMode, query, response string) (types.HistoryEntry, bool) {
	if sessionID == "" {
		return types.HistoryEntry{}, false
	}

	entry := types.HistoryEntry{
		ID:          uuid.New().String(),
		Query:       query,
		Response:    response,
		Timestamp:   s.now().UTC(),
		ContextMode: contextMode,
		SessionID:   sessionID,
	}

	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		sess = &session{
			info: types.Session{
				SessionID:   sessionID,
				CreatedAt:   entry.Timestamp,
				ContextMode: contextMode,
			},
			studentID: studentID,
		}
		// Another request may have opened it meanwhile; keep whichever won.
		if previous, found, _ := s.sessions.PeekOrAdd(sessionID, sess); found {
			sess = previous
		}
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.studentID == "" {
		sess.studentID = studentID
	}
	sess.turns = append(sess.turns, entry)
	if overflow := len(sess.turns) - s.maxTurns; overflow > 0 {
		sess.turns = append(sess.turns[:0:0], sess.turns[overflow:]...)
	}
	return entry, true
}

// History returns the newest matching turns in chronological order. An
// empty query matches every session.
func (s *SessionStore) History(query types.HistoryQuery) []types.HistoryEntry {
	limit := query.Limit
	if limit <= 0 {
		limit = types.DefaultHistoryLimit
	}

	var sessions []*session
	if query.SessionID != "" {
		if sess, ok := s.sessions.Peek(query.SessionID); ok {
			sessions = append(sessions, sess)
		}
	} else {
		sessions = s.sessions.Values()
	}

	entries := []types.HistoryEntry{}
	for _, sess := range sessions {
		sess.mu.Lock()
		if query.StudentID == "" || sess.studentID == query.StudentID {
			entries = append(entries, sess.turns...)
		}
		sess.mu.Unlock()
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})

	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries
}

// Len returns the number of tracked sessions
func (s *SessionStore) Len() int {
	return s.sessions.Len()
}
