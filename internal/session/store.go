package session

import (
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultCleanupInterval is how often expired sessions are purged when an idle timeout is set.
const DefaultCleanupInterval = 1 * time.Minute

// Opts holds configuration options for the Store.
type Opts struct {
	IdleTimeout     time.Duration // zero keeps sessions until completion or cancel
	CleanupInterval time.Duration
}

// Option defines a configuration option for the Store.
type Option func(*Opts)

// WithIdleTimeout drops sessions that see no event for d.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *Opts) { o.IdleTimeout = d }
}

// WithCleanupInterval sets how often expired sessions are purged.
func WithCleanupInterval(d time.Duration) Option {
	return func(o *Opts) { o.CleanupInterval = d }
}

type identityLock struct {
	mu   sync.Mutex
	refs int
}

// Store maps session identities to sessions. Every read or write of a given identity must happen
// between Lock(id) and the returned unlock; different identities do not block each other.
type Store struct {
	sessions *gocache.Cache

	mu    sync.Mutex
	locks map[string]*identityLock
}

// NewStore creates an empty session store.
func NewStore(opts ...Option) *Store {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}

	expiration := gocache.NoExpiration
	cleanup := time.Duration(0)
	if cfg.IdleTimeout > 0 {
		expiration = cfg.IdleTimeout
		cleanup = cfg.CleanupInterval
		if cleanup <= 0 {
			cleanup = DefaultCleanupInterval
		}
	}
	slog.Debug("session.NewStore: creating session store", "idle_timeout", cfg.IdleTimeout, "cleanup_interval", cleanup)

	c := gocache.New(expiration, cleanup)
	c.OnEvicted(func(id string, _ interface{}) {
		slog.Debug("session.Store: session evicted", "session_id", id)
	})

	return &Store{
		sessions: c,
		locks:    make(map[string]*identityLock),
	}
}

// Lock serializes access to one identity and returns the function that releases it.
func (s *Store) Lock(id string) (unlock func()) {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &identityLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}

// Get returns the live session for id.
func (s *Store) Get(id string) (*Session, bool) {
	v, ok := s.sessions.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Reset discards whatever session id had and starts a fresh one at the first field.
func (s *Store) Reset(id, chatID, username string) *Session {
	if _, existed := s.sessions.Get(id); existed {
		slog.Debug("session.Store.Reset: discarding previous session", "session_id", id)
	}
	now := time.Now()
	sess := &Session{
		ID:        id,
		ChatID:    chatID,
		Username:  username,
		State:     Collecting(0),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions.Set(id, sess, gocache.DefaultExpiration)
	return sess
}

// Save stores sess and restarts its idle timer.
func (s *Store) Save(sess *Session) {
	sess.UpdatedAt = time.Now()
	s.sessions.Set(sess.ID, sess, gocache.DefaultExpiration)
}

// Delete removes the session for id, if any.
func (s *Store) Delete(id string) {
	s.sessions.Delete(id)
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	return s.sessions.ItemCount()
}
