package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-auth-session/autherrors"
	"github.com/jrsteele09/go-auth-session/token/jwt"
	"github.com/jrsteele09/go-auth-session/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Keys names the three independently stored values of a session. Presence of
// AccessToken is the only signal that a session exists.
type Keys struct {
	AccessToken  string
	RefreshToken string
	User         string
}

// KeysWithPrefix returns the key layout under prefix.
func KeysWithPrefix(prefix string) Keys {
	if prefix != "" {
		prefix += ":"
	}
	return Keys{
		AccessToken:  prefix + "access_token",
		RefreshToken: prefix + "refresh_token",
		User:         prefix + "user",
	}
}

// Change is delivered to listeners after a write is readable.
type Change struct {
	Session *Session // Nil when the session was cleared
	Remote  bool     // True when another Store made the change
}

// Listener receives session changes.
type Listener func(Change)

// Store is the single owner of the session. Nothing else reads or writes the
// backend keys.
type Store struct {
	backend Backend
	keys    Keys
	id      string
	log     zerolog.Logger

	listeners map[uint64]Listener
	next      uint64
	mu        sync.RWMutex

	unsubscribe func()
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithKeyPrefix namespaces the backend keys.
func WithKeyPrefix(prefix string) StoreOption {
	return func(s *Store) {
		s.keys = KeysWithPrefix(prefix)
	}
}

// WithLogger sets the store logger.
func WithLogger(l zerolog.Logger) StoreOption {
	return func(s *Store) {
		s.log = l
	}
}

// NewStore attaches a Store to backend and starts listening for changes made
// by other Stores on the same backend.
func NewStore(backend Backend, options ...StoreOption) (*Store, error) {
	if backend == nil {
		return nil, errors.New("[NewStore] backend is required")
	}
	s := &Store{
		backend:   backend,
		keys:      KeysWithPrefix("auth"),
		id:        uuid.NewString(),
		log:       log.Logger,
		listeners: make(map[uint64]Listener),
	}
	for _, opt := range options {
		opt(s)
	}

	unsubscribe, err := backend.Subscribe(s.onEvent)
	if err != nil {
		return nil, fmt.Errorf("%w: subscribe: %v", autherrors.ErrStorageUnavailable, err)
	}
	s.unsubscribe = unsubscribe
	return s, nil
}

// ID identifies this Store in change events.
func (s *Store) ID() string {
	return s.id
}

// AccessToken returns the stored access token, or "" when logged out.
func (s *Store) AccessToken(ctx context.Context) (string, error) {
	token, _, err := s.backend.Get(ctx, s.keys.AccessToken)
	if err != nil {
		return "", storageErr("read access token", err)
	}
	return token, nil
}

// Get returns the current session, or nil when logged out.
func (s *Store) Get(ctx context.Context) (*Session, error) {
	accessToken, found, err := s.backend.Get(ctx, s.keys.AccessToken)
	if err != nil {
		return nil, storageErr("read access token", err)
	}
	if !found || accessToken == "" {
		return nil, nil
	}

	refreshToken, _, err := s.backend.Get(ctx, s.keys.RefreshToken)
	if err != nil {
		return nil, storageErr("read refresh token", err)
	}

	rawUser, found, err := s.backend.Get(ctx, s.keys.User)
	if err != nil {
		return nil, storageErr("read user", err)
	}
	if !found {
		s.log.Warn().Str("store", s.id).Msg("access token stored without a user, treating session as absent")
		return nil, nil
	}

	user, ok := s.decodeUser(rawUser, accessToken)
	if !ok {
		s.log.Warn().Str("store", s.id).Msg("stored session has no identifiable user, treating session as absent")
		return nil, nil
	}
	return New(accessToken, refreshToken, user), nil
}

// Set persists session, verifies it reads back, then notifies listeners.
func (s *Store) Set(ctx context.Context, session *Session) error {
	if session == nil || session.AccessToken == "" {
		return errors.New("[Store.Set] session requires an access token")
	}
	if session.User.IsZero() {
		return errors.New("[Store.Set] session requires a user")
	}

	rawUser, err := json.Marshal(session.User)
	if err != nil {
		return fmt.Errorf("[Store.Set] encode user: %w", err)
	}

	if err := s.backend.Set(ctx, s.keys.User, string(rawUser)); err != nil {
		return storageErr("write user", err)
	}
	if err := s.writeTokens(ctx, session.AccessToken, session.RefreshToken); err != nil {
		return err
	}

	s.changed(ctx, New(session.AccessToken, session.RefreshToken, session.User))
	return nil
}

// UpdateTokens replaces the credentials of the current session, leaving the
// user untouched. It fails with ErrSessionExpired if the session was cleared
// before or during the write, so a late refresh never resurrects a logged out
// session. Clear removes the user in the same Delete as the tokens, so a user
// key still present after the write means no clear has happened.
func (s *Store) UpdateTokens(ctx context.Context, accessToken, refreshToken string) (*Session, error) {
	if accessToken == "" {
		return nil, errors.New("[Store.UpdateTokens] access token is required")
	}
	current, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, autherrors.ErrSessionExpired
	}
	if refreshToken == "" {
		refreshToken = current.RefreshToken
	}

	if err := s.writeTokens(ctx, accessToken, refreshToken); err != nil {
		return nil, err
	}

	_, userFound, err := s.backend.Get(ctx, s.keys.User)
	if err != nil {
		return nil, storageErr("verify user", err)
	}
	if !userFound {
		s.discardTokens(ctx, accessToken)
		return nil, autherrors.ErrSessionExpired
	}

	updated := New(accessToken, refreshToken, current.User)
	s.changed(ctx, updated)
	return updated.Clone(), nil
}

// Clear removes the session. All three keys go in one Delete, which backends
// apply atomically.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.backend.Delete(ctx, s.keys.AccessToken, s.keys.RefreshToken, s.keys.User); err != nil {
		return storageErr("delete session", err)
	}
	s.changed(ctx, nil)
	return nil
}

// Subscribe registers listener for changes made by this or any other Store
// sharing the backend.
func (s *Store) Subscribe(listener Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.next
	s.next++
	s.listeners[id] = listener
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// Close stops listening to the backend. The backend itself is not closed.
func (s *Store) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// writeTokens writes the refresh token before the access token, then reads
// the access token back.
func (s *Store) writeTokens(ctx context.Context, accessToken, refreshToken string) error {
	if refreshToken == "" {
		if err := s.backend.Delete(ctx, s.keys.RefreshToken); err != nil {
			return storageErr("delete refresh token", err)
		}
	} else if err := s.backend.Set(ctx, s.keys.RefreshToken, refreshToken); err != nil {
		return storageErr("write refresh token", err)
	}

	if err := s.backend.Set(ctx, s.keys.AccessToken, accessToken); err != nil {
		return storageErr("write access token", err)
	}

	readBack, found, err := s.backend.Get(ctx, s.keys.AccessToken)
	if err != nil {
		return storageErr("verify access token", err)
	}
	if !found || readBack != accessToken {
		return storageErr("verify access token", errors.New("written value not readable"))
	}
	return nil
}

// discardTokens undoes a token write that raced with a clear. A token written
// since by a new login is left alone.
func (s *Store) discardTokens(ctx context.Context, accessToken string) {
	current, _, err := s.backend.Get(ctx, s.keys.AccessToken)
	if err == nil && current != accessToken {
		return
	}
	if err := s.backend.Delete(ctx, s.keys.AccessToken, s.keys.RefreshToken); err != nil {
		s.log.Error().Err(err).Str("store", s.id).Msg("discarding tokens written after a clear")
	}
}

func (s *Store) changed(ctx context.Context, session *Session) {
	s.notify(Change{Session: session})
	if err := s.backend.Publish(ctx, Event{Origin: s.id, Present: session != nil}); err != nil {
		s.log.Error().Err(err).Str("store", s.id).Msg("session change broadcast failed")
	}
}

func (s *Store) onEvent(e Event) {
	if e.Origin == s.id {
		return
	}
	change := Change{Remote: true}
	if e.Present {
		session, err := s.Get(context.Background())
		if err != nil {
			s.log.Error().Err(err).Str("store", s.id).Msg("reading session after remote change")
			return
		}
		change.Session = session
	}
	s.notify(change)
}

func (s *Store) notify(c Change) {
	s.mu.RLock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.RUnlock()

	for _, l := range listeners {
		l(Change{Session: c.Session.Clone(), Remote: c.Remote})
	}
}

// decodeUser restores the stored profile. An unreadable profile is rebuilt
// from the token claims. ok is false when neither identifies anyone.
func (s *Store) decodeUser(raw, accessToken string) (users.User, bool) {
	var u users.User
	if err := json.Unmarshal([]byte(raw), &u); err == nil {
		u = users.New(u.ID, u.Email, u.Name, u.Roles...)
		if !u.IsZero() {
			return u, true
		}
	}
	s.log.Warn().Str("store", s.id).Msg("stored user profile unreadable, deriving from token")
	if claims, err := jwt.Decode(accessToken); err == nil {
		return claims.User()
	}
	return users.User{}, false
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", autherrors.ErrStorageUnavailable, op, err)
}
