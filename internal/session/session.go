// Package session owns the authenticated actor's identity and its lifecycle.
// Identity is loaded once from local persisted state; until the session
// reaches StateReady no other component may issue a backend request, so every
// call is scoped to an actor.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"studymatch/pkg/domain"
)

// State is the session lifecycle phase.
type State string

const (
	StateSignedOut State = "signedOut"
	StateLoading   State = "loading"
	StateReady     State = "ready"
)

var (
	// ErrSignedOut means no authenticated actor exists; callers must route
	// to re-authentication rather than proceed anonymously.
	ErrSignedOut = errors.New("no authenticated actor")
	// ErrNothingToUpdate rejects a profile update with no fields set before
	// any network round-trip.
	ErrNothingToUpdate = errors.New("profile update has no fields")
)

// ProfileAPI is the slice of the backend client the session needs.
type ProfileAPI interface {
	UpdateProfile(ctx context.Context, token string, role domain.Role, update domain.ProfileUpdate) error
	GetParticipantProfile(ctx context.Context, token string) (domain.ParticipantProfile, error)
}

// Session is the actor session context.
type Session struct {
	store  *Store
	api    ProfileAPI
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	state State
	token string
	actor domain.User
}

// New constructs a signed-out session bound to a credential store.
func New(store *Store, api ProfileAPI, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		store:  store,
		api:    api,
		logger: logger,
		now:    time.Now,
		state:  StateSignedOut,
	}
}

// Restore loads the persisted identity. It moves the session through
// loading to ready, or leaves it signed out when no usable credential
// exists (absent, malformed, or expired).
func (s *Session) Restore(ctx context.Context) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateLoading
	token, actor, ok, err := s.store.Load(ctx)
	if err != nil {
		s.state = StateSignedOut
		return s.state, err
	}
	if !ok || actor.ID == "" {
		s.state = StateSignedOut
		return s.state, nil
	}
	if err := s.checkCredential(token); err != nil {
		s.logger.Warn("discarding persisted credential", "reason", err)
		s.state = StateSignedOut
		return s.state, nil
	}
	s.token = token
	s.actor = actor
	s.state = StateReady
	s.logger.Info("session restored", "actor_id", actor.ID, "role", actor.Role)
	return s.state, nil
}

// checkCredential decodes the token's claims without verifying the
// signature (only the backend holds the key) and rejects expired tokens so
// we fail to re-authentication up front instead of on the first request.
func (s *Session) checkCredential(token string) error {
	if strings.TrimSpace(token) == "" {
		return errors.New("empty token")
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return fmt.Errorf("parse token: %w", err)
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(s.now()) {
		return errors.New("token expired")
	}
	return nil
}

// SignIn installs and persists a fresh credential and actor record.
func (s *Session) SignIn(ctx context.Context, token string, actor domain.User) error {
	if err := s.checkCredential(token); err != nil {
		return err
	}
	if actor.ID == "" {
		return errors.New("actor id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Save(ctx, token, actor); err != nil {
		return err
	}
	s.token = token
	s.actor = actor
	s.state = StateReady
	return nil
}

// SignOut clears both in-memory and persisted identity.
func (s *Session) SignOut(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Clear(ctx); err != nil {
		return err
	}
	s.token = ""
	s.actor = domain.User{}
	s.state = StateSignedOut
	return nil
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Identity returns the actor and credential, or ErrSignedOut before the
// session is ready. Components gate every backend call on this.
func (s *Session) Identity() (domain.User, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateReady {
		return domain.User{}, "", ErrSignedOut
	}
	return s.actor, s.token, nil
}

// LoadParticipantProfile fetches the actor's extended participant profile.
func (s *Session) LoadParticipantProfile(ctx context.Context) (domain.ParticipantProfile, error) {
	_, token, err := s.Identity()
	if err != nil {
		return domain.ParticipantProfile{}, err
	}
	return s.api.GetParticipantProfile(ctx, token)
}

// UpdateProfile applies a partial profile edit for the actor's role. An
// update with no fields is rejected locally; a backend failure leaves the
// caller's form state untouched by contract.
func (s *Session) UpdateProfile(ctx context.Context, update domain.ProfileUpdate) error {
	actor, token, err := s.Identity()
	if err != nil {
		return err
	}
	if update.IsEmpty() {
		return ErrNothingToUpdate
	}
	if err := s.api.UpdateProfile(ctx, token, actor.Role, update); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	s.logger.Info("profile updated", "actor_id", actor.ID, "role", actor.Role)
	return nil
}
