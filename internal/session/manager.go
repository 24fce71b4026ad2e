package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/herbal-consult-booking/internal/logging"
)

type EventType string

const (
	EventInitialSession EventType = "INITIAL_SESSION"
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
)

// Event is an auth state change. Session is nil after sign out.
type Event struct {
	Type    EventType
	Session *Session
}

// Destination is where a client should send the patient next.
type Destination string

const (
	DestinationSignIn       Destination = "sign_in"
	DestinationVerification Destination = "verification"
	DestinationMain         Destination = "main"
)

// TokenStore persists the refresh token between runs.
type TokenStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, refreshToken string) error
	Clear(ctx context.Context) error
}

type MemoryTokenStore struct {
	mu    sync.Mutex
	token string
}

func (m *MemoryTokenStore) Load(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *MemoryTokenStore) Save(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	return nil
}

func (m *MemoryTokenStore) Clear(context.Context) error {
	return m.Save(context.Background(), "")
}

// Manager is one client's session. It is created at start up, passed to
// whatever needs the current identity, and torn down by SignOut or Close.
type Manager struct {
	idp      IdentityProvider
	profiles ProfileStore
	tokens   TokenStore

	mu          sync.RWMutex
	current     *Session
	subscribers map[int]chan Event
	nextID      int
	closed      bool
}

func NewManager(idp IdentityProvider, profiles ProfileStore, tokens TokenStore) *Manager {
	if tokens == nil {
		tokens = &MemoryTokenStore{}
	}
	return &Manager{
		idp:         idp,
		profiles:    profiles,
		tokens:      tokens,
		subscribers: map[int]chan Event{},
	}
}

// Start restores the session from the stored refresh token, if any, and
// emits INITIAL_SESSION.
func (m *Manager) Start(ctx context.Context) (*Session, error) {
	refresh, err := m.tokens.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load refresh token: %w", err)
	}

	var s *Session
	if refresh != "" {
		s, err = m.idp.RefreshSession(ctx, refresh)
		if err != nil {
			logging.FromContext(ctx).Warn().Err(err).Msg("stored session could not be restored")
			_ = m.tokens.Clear(ctx)
			s = nil
		}
	}

	m.set(ctx, s, EventInitialSession)
	return s, nil
}

func (m *Manager) SignIn(ctx context.Context, email, password string) (*Session, error) {
	s, err := m.idp.SignIn(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return nil, err
	}
	m.set(ctx, s, EventSignedIn)
	return s, nil
}

// SignUp registers a patient through Register and signs them in when the
// provider returns a session.
func (m *Manager) SignUp(ctx context.Context, in SignUpInput) (*User, *Session, error) {
	user, s, err := Register(ctx, m.idp, m.profiles, in)
	if err != nil {
		return user, s, err
	}

	if s != nil {
		m.set(ctx, s, EventSignedIn)
	}
	return user, s, nil
}

// Register creates the identity and the patient profile. The returned
// session is nil when the provider requires email confirmation first.
func Register(ctx context.Context, idp IdentityProvider, profiles ProfileStore, in SignUpInput) (*User, *Session, error) {
	if !in.AgreedToTerms {
		return nil, nil, ErrTermsNotAccepted
	}
	in.Email = strings.TrimSpace(in.Email)

	user, s, err := idp.SignUp(ctx, in)
	if err != nil {
		return nil, nil, err
	}

	if err := profiles.CreateProfile(ctx, newPatientProfile(user, in)); err != nil {
		return user, s, err
	}
	return user, s, nil
}

func newPatientProfile(u *User, in SignUpInput) Profile {
	p := Profile{ID: u.ID, FullName: in.FullName, UserType: "patient"}
	if in.Email != "" {
		email := in.Email
		p.Email = &email
	}
	if dob, err := time.Parse(time.DateOnly, in.DateOfBirth); err == nil {
		p.DateOfBirth = &dob
	}
	return p
}

// Refresh exchanges the refresh token for a new access token.
func (m *Manager) Refresh(ctx context.Context) (*Session, error) {
	cur := m.Current()
	if cur == nil {
		return nil, ErrNoSession
	}
	s, err := m.idp.RefreshSession(ctx, cur.RefreshToken)
	if err != nil {
		return nil, err
	}
	m.set(ctx, s, EventTokenRefreshed)
	return s, nil
}

// SignOut ends the session locally even when the provider call fails.
func (m *Manager) SignOut(ctx context.Context) error {
	cur := m.Current()
	var err error
	if cur != nil {
		err = m.idp.SignOut(ctx, cur.AccessToken)
	}
	m.set(ctx, nil, EventSignedOut)
	return err
}

func (m *Manager) Current() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Subscribe returns a channel of auth state changes and a cancel func.
// Slow subscribers miss events rather than block the session.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Event, 8)
	if m.closed {
		close(ch)
		return ch, func() {}
	}

	id := m.nextID
	m.nextID++
	m.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.subscribers[id]; ok {
				delete(m.subscribers, id)
				close(c)
			}
		})
	}
}

// Close tears the manager down and closes every subscription.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.current = nil
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
}

// Destination decides the next screen: sign in without a session,
// verification until the intake form is submitted or the profile verified,
// otherwise the main app.
func (m *Manager) Destination(ctx context.Context) (Destination, error) {
	cur := m.Current()
	if cur == nil {
		return DestinationSignIn, nil
	}

	return ResolveDestination(ctx, m.profiles, cur.User.ID)
}

// ResolveDestination applies the verification rule for a signed in user.
func ResolveDestination(ctx context.Context, profiles ProfileStore, userID uuid.UUID) (Destination, error) {
	p, err := profiles.GetProfile(ctx, userID)
	if errors.Is(err, ErrProfileNotFound) {
		return DestinationVerification, nil
	}
	if err != nil {
		return "", err
	}
	return DestinationFor(p), nil
}

// DestinationFor applies the verification rule to a loaded profile.
func DestinationFor(p *Profile) Destination {
	if !p.IsVerified && !p.VerificationSubmitted {
		return DestinationVerification
	}
	return DestinationMain
}

func (m *Manager) set(ctx context.Context, s *Session, ev EventType) {
	var err error
	switch {
	case s == nil:
		err = m.tokens.Clear(ctx)
	case s.RefreshToken != "":
		err = m.tokens.Save(ctx, s.RefreshToken)
	}
	if err != nil {
		logging.FromContext(ctx).Warn().Err(err).Msg("failed to persist refresh token")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.current = s
	for _, ch := range m.subscribers {
		select {
		case ch <- Event{Type: ev, Session: s}:
		default:
		}
	}
}
