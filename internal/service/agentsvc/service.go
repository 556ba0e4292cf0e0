package agentsvc

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"math"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/sgunadhya/oxidesk/internal/bus"
	"github.com/sgunadhya/oxidesk/internal/domain"
	"github.com/sgunadhya/oxidesk/internal/pkg/logger"
	"github.com/sgunadhya/oxidesk/internal/pkg/ratelimit"
	"github.com/sgunadhya/oxidesk/internal/service/availability"
	"github.com/sgunadhya/oxidesk/internal/store"
)

// Auth attempt limits, per case-folded email.
const (
	LoginAttempts  = 5
	LoginWindow    = 15 * time.Minute
	SessionLength  = 24 * time.Hour
	minPasswordLen = 8
)

// Service manages agent accounts and credential sessions.
type Service struct {
	store    store.Store
	bus      *bus.Bus
	presence *availability.Service

	loginLimiter *ratelimit.Limiter
	resetLimiter *ratelimit.Limiter
}

// New creates the agent account service.
func New(st store.Store, b *bus.Bus, presence *availability.Service) *Service {
	return &Service{
		store:        st,
		bus:          b,
		presence:     presence,
		loginLimiter: ratelimit.NewPerWindow(LoginAttempts, LoginWindow),
		resetLimiter: ratelimit.NewPerWindow(LoginAttempts, LoginWindow),
	}
}

// CreateInput carries the fields for a new agent.
type CreateInput struct {
	Email     string
	FirstName string
	LastName  *string
	Password  string
	// Roles is decided by the caller's policy layer; the core only refuses
	// an agent with none.
	Roles []string
}

// Create provisions the user and agent records. Agents must carry at least
// one role; the email is case-folded and unique per user type.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Agent, error) {
	if in.FirstName == "" {
		return nil, domain.Validationf("first name is required")
	}
	if len(in.Roles) == 0 {
		return nil, domain.Validationf("agent requires at least one role")
	}
	if len(in.Password) < minPasswordLen {
		return nil, domain.Validationf("password must be at least %d characters", minPasswordLen)
	}
	email := domain.FoldEmail(in.Email)
	if email == "" {
		return nil, domain.Validationf("email is required")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, domain.WrapError(domain.KindFatal, err, "hash password")
	}

	now := time.Now().UTC()
	u := &domain.User{ID: uuid.New().String(), Email: email, Type: domain.UserTypeAgent, CreatedAt: now, UpdatedAt: now}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	a := &domain.Agent{
		ID:           uuid.New().String(),
		UserID:       u.ID,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PasswordHash: string(hash),
		Availability: domain.AvailabilityOffline,
	}
	if err := s.store.CreateAgent(ctx, a); err != nil {
		return nil, err
	}
	logger.Info("agent created", "user_id", u.ID, "email", email)
	return a, nil
}

// Login verifies credentials and opens a session. Attempts count against
// the email's bucket whether or not the password matches; a drained bucket
// returns RateLimited with a retry hint.
func (s *Service) Login(ctx context.Context, email, password string) (*domain.Session, error) {
	folded := domain.FoldEmail(email)
	if !s.loginLimiter.Allow(folded) {
		return nil, domain.RateLimited(retryAfterSeconds(s.loginLimiter, folded))
	}

	u, err := s.store.GetUserByEmail(ctx, folded, domain.UserTypeAgent)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return nil, domain.NewError(domain.KindUnauthorized, "invalid credentials")
		}
		return nil, err
	}
	if u.DeletedAt != nil {
		return nil, domain.NewError(domain.KindUnauthorized, "invalid credentials")
	}
	agent, err := s.store.GetAgentByUserID(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(agent.PasswordHash), []byte(password)) != nil {
		return nil, domain.NewError(domain.KindUnauthorized, "invalid credentials")
	}

	now := time.Now().UTC()
	sess := &domain.Session{
		ID:             uuid.New().String(),
		UserID:         u.ID,
		Token:          randomToken(),
		CSRFToken:      randomToken(),
		AuthMethod:     "password",
		ExpiresAt:      now.Add(SessionLength),
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	if err := s.presence.MarkLoggedIn(ctx, u.ID); err != nil {
		logger.Error("mark logged in failed", "user_id", u.ID, "error", err)
	}

	s.bus.Publish(domain.Event{
		Type:       domain.EventAgentLoggedIn,
		OccurredAt: now,
		ActorID:    u.ID,
		Payload:    map[string]any{"user_id": u.ID},
	})
	return sess, nil
}

// Logout revokes the session and flips the agent offline.
func (s *Service) Logout(ctx context.Context, token string) error {
	sess, err := s.store.GetSessionByToken(ctx, token)
	if err != nil {
		return err
	}
	if err := s.store.DeleteSession(ctx, sess.ID); err != nil {
		return err
	}
	if err := s.presence.MarkLoggedOut(ctx, sess.UserID); err != nil {
		logger.Error("mark logged out failed", "user_id", sess.UserID, "error", err)
	}
	s.bus.Publish(domain.Event{
		Type:       domain.EventAgentLoggedOut,
		OccurredAt: time.Now().UTC(),
		ActorID:    sess.UserID,
		Payload:    map[string]any{"user_id": sess.UserID},
	})
	return nil
}

// Authenticate resolves a session token to a principal and touches the
// session plus the agent's activity heartbeat.
func (s *Service) Authenticate(ctx context.Context, token string, perms domain.PermissionSet) (*domain.Principal, error) {
	sess, err := s.store.GetSessionByToken(ctx, token)
	if err != nil {
		if domain.IsKind(err, domain.KindNotFound) {
			return nil, domain.NewError(domain.KindUnauthorized, "invalid session")
		}
		return nil, err
	}
	now := time.Now().UTC()
	if sess.ExpiresAt.Before(now) {
		return nil, domain.NewError(domain.KindUnauthorized, "session expired")
	}
	if err := s.store.TouchSession(ctx, sess.ID, now); err != nil {
		logger.Error("touch session failed", "session_id", sess.ID, "error", err)
	}
	if err := s.presence.Heartbeat(ctx, sess.UserID); err != nil {
		logger.Error("activity heartbeat failed", "user_id", sess.UserID, "error", err)
	}
	return &domain.Principal{UserID: sess.UserID, Permissions: perms}, nil
}

// ResetPassword swaps the password hash and revokes every session of the
// user in one transaction. Rate limited like login.
func (s *Service) ResetPassword(ctx context.Context, email, newPassword string) error {
	folded := domain.FoldEmail(email)
	if !s.resetLimiter.Allow(folded) {
		return domain.RateLimited(retryAfterSeconds(s.resetLimiter, folded))
	}
	if len(newPassword) < minPasswordLen {
		return domain.Validationf("password must be at least %d characters", minPasswordLen)
	}
	u, err := s.store.GetUserByEmail(ctx, folded, domain.UserTypeAgent)
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return domain.WrapError(domain.KindFatal, err, "hash password")
	}
	if err := s.store.ResetPasswordAtomic(ctx, u.ID, string(hash)); err != nil {
		return err
	}
	logger.Info("password reset", "user_id", u.ID)
	return nil
}

func retryAfterSeconds(l *ratelimit.Limiter, key string) int {
	d := l.RetryAfter(key)
	return int(math.Ceil(d.Seconds()))
}

func randomToken() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}
