// Package session keeps one versioned store and the conversation history per
// caller-chosen session id. Sessions expire after a period of inactivity.
package session

import (
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/querypilot/querypilot/internal/failure"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/prompt"
	"github.com/querypilot/querypilot/internal/query/duckdb"
)

const (
	DefaultTTL             = 30 * time.Minute
	DefaultCleanupInterval = 5 * time.Minute

	maxHistory = 50
)

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type Session struct {
	ID        string
	Store     *duckdb.Store
	CreatedAt time.Time

	mu      sync.Mutex
	history []prompt.Turn
}

func (s *Session) History() []prompt.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]prompt.Turn, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) AppendTurn(turn prompt.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, turn)
	if len(s.history) > maxHistory {
		s.history = append([]prompt.Turn(nil), s.history[len(s.history)-maxHistory:]...)
	}
}

func (s *Session) ResetHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

type Manager struct {
	root    string
	items   *cache.Cache
	forget  func(datasetID string)
	logger  *slog.Logger
	creates sync.Mutex
}

// NewManager stores session databases under root. forget, when set, is
// called with the dataset id of every session that is closed.
func NewManager(root string, ttl, cleanupInterval time.Duration, forget func(datasetID string), logger *slog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	m := &Manager{
		root:   root,
		items:  cache.New(ttl, cleanupInterval),
		forget: forget,
		logger: logger,
	}
	m.items.OnEvicted(m.evicted)
	return m
}

// Get returns a live session and extends its lifetime.
func (m *Manager) Get(id string) (*Session, bool) {
	value, ok := m.items.Get(id)
	if !ok {
		return nil, false
	}
	sess := value.(*Session)
	m.items.SetDefault(id, sess)
	return sess, true
}

func (m *Manager) GetOrCreate(id string) (*Session, error) {
	if !validID.MatchString(id) {
		return nil, failure.Newf(failure.KindInvalidRequest, "session id must match %s", validID.String())
	}
	if sess, ok := m.Get(id); ok {
		return sess, nil
	}

	m.creates.Lock()
	defer m.creates.Unlock()
	if sess, ok := m.Get(id); ok {
		return sess, nil
	}
	// An expired session the janitor has not collected yet still owns its
	// store and directory; Delete runs evicted on it.
	m.items.Delete(id)
	store, err := duckdb.NewStore(m.root, id)
	if err != nil {
		return nil, err
	}
	sess := &Session{ID: id, Store: store, CreatedAt: time.Now().UTC()}
	m.items.SetDefault(id, sess)
	observability.SetActiveSessions(m.items.ItemCount())
	m.logger.Info("session_created", slog.String("session", id), slog.String("dir", store.Dir()))
	return sess, nil
}

// End closes a session. It reports whether the session existed.
func (m *Manager) End(id string) bool {
	_, live := m.items.Get(id)
	m.items.Delete(id)
	return live
}

func (m *Manager) Count() int {
	return m.items.ItemCount()
}

// Close ends every session, including expired ones not yet collected.
func (m *Manager) Close() {
	m.items.DeleteExpired()
	for id := range m.items.Items() {
		m.items.Delete(id)
	}
}

func (m *Manager) evicted(id string, value any) {
	sess, ok := value.(*Session)
	if !ok {
		return
	}
	if current := sess.Store.Current(); current != nil && m.forget != nil {
		m.forget(current.ID)
	}
	if err := sess.Store.Close(); err != nil {
		m.logger.Warn("session_close_failed", slog.String("session", id), slog.Any("error", err))
	}
	observability.SetActiveSessions(m.items.ItemCount())
	m.logger.Info("session_closed", slog.String("session", id))
}
