package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"authservice/internal/metrics"
	"authservice/internal/models"
	"authservice/internal/repository"
	"authservice/internal/token"
)

// PasswordHasher hashes new passwords and checks candidates against stored
// hashes. Verify returns (false, nil) on a plain mismatch.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(encodedHash, password string) (bool, error)
}

// TokenCodec mints and checks signed access tokens.
type TokenCodec interface {
	Mint(userID int64, email string, role models.Role) (string, *token.Claims, error)
	Verify(tokenString string) (*token.Claims, error)
	DecodeUnverified(tokenString string) (*token.Claims, bool)
}

// RegisterInput carries already-validated registration fields.
type RegisterInput struct {
	Username string
	Email    string
	Password string
}

// AuthService issues, checks and revokes session tokens.
type AuthService struct {
	users       repository.UserRepository
	revocations repository.RevocationStore
	codec       TokenCodec
	hasher      PasswordHasher
	metrics     *metrics.Metrics
	logger      *zap.Logger

	// dummyHash is verified against when the email is unknown so that a
	// miss costs the same as a wrong password.
	dummyHash string
}

func NewAuthService(
	users repository.UserRepository,
	revocations repository.RevocationStore,
	codec TokenCodec,
	hasher PasswordHasher,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*AuthService, error) {
	dummy, err := hasher.Hash("timing-equaliser-not-a-password")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}

	return &AuthService{
		users:       users,
		revocations: revocations,
		codec:       codec,
		hasher:      hasher,
		metrics:     m,
		logger:      logger,
		dummyHash:   dummy,
	}, nil
}

// Register creates a USER account. The email must not be in use.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	existing, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		s.logger.Error("Failed to look up user by email", zap.Error(err))
		return nil, Internal("Registration failed", err)
	}
	if existing != nil {
		return nil, Conflict(MsgEmailInUse)
	}

	passwordHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		s.logger.Error("Failed to hash password", zap.Error(err))
		return nil, Internal("Registration failed", err)
	}

	user := &models.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: passwordHash,
		Role:         models.RoleUser,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, Conflict(MsgEmailInUse)
		}
		s.logger.Error("Failed to create user", zap.Error(err))
		return nil, Internal("Registration failed", err)
	}

	s.logger.Info("User registered", zap.Int64("user_id", user.ID))
	return user, nil
}

// Login returns an access token for an active user.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, error) {
	user, err := s.authenticate(ctx, "user", email, password)
	if err != nil {
		return "", err
	}
	return s.issue("user", user)
}

// LoginAdmin is Login restricted to ADMIN accounts.
func (s *AuthService) LoginAdmin(ctx context.Context, email, password string) (string, error) {
	user, err := s.authenticate(ctx, "admin", email, password)
	if err != nil {
		return "", err
	}
	if user.Role != models.RoleAdmin {
		s.countLogin("admin", metrics.OutcomeNotAdmin)
		return "", Unauthorized(MsgAdminsOnly)
	}
	return s.issue("admin", user)
}

// authenticate checks credentials, then the ban flag. Unknown email and
// wrong password are indistinguishable to the caller.
func (s *AuthService) authenticate(ctx context.Context, kind, email, password string) (*models.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		s.countLogin(kind, metrics.OutcomeError)
		s.logger.Error("Failed to look up user by email", zap.Error(err))
		return nil, Internal("Login failed", err)
	}

	encoded := s.dummyHash
	if user != nil {
		encoded = user.PasswordHash
	}

	ok, err := s.hasher.Verify(encoded, password)
	if err != nil && user != nil {
		// A corrupt stored hash can never match.
		s.logger.Error("Stored password hash is unreadable", zap.Int64("user_id", user.ID), zap.Error(err))
	}
	if user == nil || !ok {
		s.countLogin(kind, metrics.OutcomeInvalidCredentials)
		return nil, Unauthorized(MsgInvalidCredentials)
	}

	if user.Banned {
		s.countLogin(kind, metrics.OutcomeBanned)
		return nil, Unauthorized(MsgBanned)
	}
	return user, nil
}

func (s *AuthService) issue(kind string, user *models.User) (string, error) {
	signed, claims, err := s.codec.Mint(user.ID, user.Email, user.Role)
	if err != nil {
		s.countLogin(kind, metrics.OutcomeError)
		s.logger.Error("Failed to generate JWT token", zap.Error(err))
		return "", Internal("Login failed", err)
	}

	s.countLogin(kind, metrics.OutcomeSuccess)
	s.logger.Info("User logged in successfully.",
		zap.Int64("user_id", user.ID),
		zap.String("kind", kind),
		zap.Time("expires_at", claims.Expiry()),
	)
	return signed, nil
}

// Logout revokes tokenString until its own expiry. Revoking twice is
// harmless.
func (s *AuthService) Logout(ctx context.Context, tokenString string, userID int64) (string, error) {
	claims, ok := s.codec.DecodeUnverified(tokenString)
	if !ok || claims.ExpiresAt == nil {
		return "", BadRequest(MsgInvalidToken)
	}

	if err := s.revocations.Record(ctx, tokenString, userID, claims.Expiry()); err != nil {
		s.logger.Error("Failed to revoke token", zap.Int64("user_id", userID), zap.Error(err))
		return "", Internal("Logout failed", err)
	}

	s.metrics.RevocationsTotal.Inc()
	s.logger.Info("User logged out", zap.Int64("user_id", userID))
	return MsgLoggedOut, nil
}

// Authorize resolves the user behind tokenString and checks it holds one of
// roles (any authenticated user when roles is empty). Checks run in order:
// revocation, signature and expiry, user state, role.
func (s *AuthService) Authorize(ctx context.Context, tokenString string, roles []models.Role) (*models.User, error) {
	revoked, err := s.revocations.IsRevoked(ctx, tokenString)
	if err != nil {
		s.decide(metrics.DecisionError)
		s.logger.Error("Failed to check token revocation", zap.Error(err))
		return nil, Internal("Authorization failed", err)
	}
	if revoked {
		s.decide(metrics.DecisionRevoked)
		return nil, Unauthorized(MsgTokenInvalidated)
	}

	claims, err := s.codec.Verify(tokenString)
	if err != nil {
		s.decide(metrics.DecisionInvalidToken)
		s.logger.Debug("Token rejected", zap.Error(err))
		return nil, &Error{Kind: KindUnauthorized, Message: MsgInvalidOrExpiredToken, Err: err}
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		s.decide(metrics.DecisionError)
		s.logger.Error("Failed to load token subject", zap.Int64("user_id", claims.Subject), zap.Error(err))
		return nil, Internal("Authorization failed", err)
	}
	if user == nil || user.Banned {
		s.decide(metrics.DecisionUserRejected)
		return nil, Unauthorized(MsgUserNotFoundOrBanned)
	}

	if !user.HasAnyRole(roles...) {
		s.decide(metrics.DecisionForbidden)
		return nil, Unauthorized(MsgInsufficientPermissions)
	}

	s.decide(metrics.DecisionAllowed)
	return user, nil
}

func (s *AuthService) countLogin(kind, outcome string) {
	s.metrics.LoginAttemptsTotal.WithLabelValues(kind, outcome).Inc()
}

func (s *AuthService) decide(decision string) {
	s.metrics.GuardDecisionsTotal.WithLabelValues(decision).Inc()
}
