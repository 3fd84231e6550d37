package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/utafrali/authservice/internal/auth"
	"github.com/utafrali/authservice/internal/domain"
	"github.com/utafrali/authservice/internal/federation"
	"github.com/utafrali/authservice/internal/repository"
	apperrors "github.com/utafrali/authservice/pkg/errors"
	"github.com/utafrali/authservice/pkg/validator"
)

const (
	maxUsernameLength   = 50
	minUsernameLength   = 3
	maxUsernameAttempts = 5
)

// PasswordHasher turns passwords into one-way credentials and checks them.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) bool
}

// IdentityVerifier resolves a third-party identity token to a verified identity.
type IdentityVerifier interface {
	Verify(ctx context.Context, idToken string) (*federation.Identity, error)
}

// EventPublisher emits auth domain events. *event.Producer satisfies it.
type EventPublisher interface {
	PublishUserRegistered(ctx context.Context, user *domain.User) error
	PublishUserLoggedIn(ctx context.Context, user *domain.User) error
	PublishSessionsRevoked(ctx context.Context, userID string) error
}

// RegisterInput holds the parameters for registering a new user.
type RegisterInput struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,letterdigit"`
}

// LoginInput holds the parameters for user login.
type LoginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// AuthResult is returned by every operation that opens a session. The
// refresh token is carried in the embedded pair but never serialized.
type AuthResult struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email"`
	domain.TokenPair
}

// AuthService implements registration, login, token rotation, logout and
// federated sign-in on top of a UserRepository.
type AuthService struct {
	users    repository.UserRepository
	tokens   *auth.TokenCodec
	hasher   PasswordHasher
	identity IdentityVerifier
	events   EventPublisher
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewAuthService creates a new auth service. identity may be nil when
// federated sign-in is not configured.
func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenCodec,
	hasher PasswordHasher,
	identity IdentityVerifier,
	events EventPublisher,
	metrics *Metrics,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:    users,
		tokens:   tokens,
		hasher:   hasher,
		identity: identity,
		events:   events,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Register creates a local account with one open session.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (result *AuthResult, err error) {
	defer func() { s.metrics.observe(opRegister, err) }()

	input.Username = strings.TrimSpace(input.Username)
	input.Email = normalizeEmail(input.Email)
	if err := validator.Validate(input); err != nil {
		return nil, err
	}

	existing, err := s.users.FindByEmailOrUsername(ctx, input.Email, input.Username)
	switch {
	case err == nil && existing != nil:
		return nil, apperrors.DuplicateUser()
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return nil, apperrors.Internal(fmt.Errorf("lookup user: %w", err))
	}

	hash, err := s.hashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	sessionID, err := auth.NewRevocationID()
	if err != nil {
		return nil, apperrors.Internal(err)
	}

	now := s.now().UTC()
	user := &domain.User{
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: hash,
		AuthProvider: domain.ProviderLocal,
		Role:         domain.RoleUser,
		Sessions:     domain.NewSessionRegistry(sessionID),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.DuplicateUser()
		}
		return nil, apperrors.Internal(fmt.Errorf("create user: %w", err))
	}

	pair, err := s.signPair(user.ID, sessionID)
	if err != nil {
		return nil, err
	}

	if err := s.events.PublishUserRegistered(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.registered event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)

	return newAuthResult(user, pair), nil
}

// Login checks local credentials and opens a new session. An unknown email
// and a wrong password fail identically.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (result *AuthResult, err error) {
	defer func() { s.metrics.observe(opLogin, err) }()

	input.Email = normalizeEmail(input.Email)
	if err := validator.Validate(input); err != nil {
		return nil, err
	}

	user, err := s.users.GetByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.InvalidCredentials()
		}
		return nil, apperrors.Internal(fmt.Errorf("get user by email: %w", err))
	}

	if !s.hasher.Compare(user.PasswordHash, input.Password) {
		s.logger.InfoContext(ctx, "login rejected", slog.String("user_id", user.ID))
		return nil, apperrors.InvalidCredentials()
	}

	return s.openSession(ctx, user)
}

// Refresh exchanges a registered refresh token for a new pair. The old
// token's revocation id is swapped for the new one in a single conditional
// write, so each refresh token is accepted at most once.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (pair *domain.TokenPair, err error) {
	defer func() { s.metrics.observe(opRefresh, err) }()

	if refreshToken == "" {
		return nil, apperrors.InvalidToken("Refresh token required")
	}

	claims, err := s.tokens.Verify(refreshToken, auth.KindRefresh)
	if err != nil {
		if errors.Is(err, apperrors.ErrExpiredToken) {
			return nil, apperrors.ExpiredToken("Refresh token expired")
		}
		return nil, apperrors.InvalidToken("Invalid refresh token")
	}

	// The registry check and the swap are one conditional write in the
	// store. A cached copy of the user may lag behind it, so it is not read.
	next, sessionID, err := s.issuePair(claims.UserID)
	if err != nil {
		return nil, err
	}

	if err := s.users.RotateSession(ctx, claims.UserID, claims.TokenID, sessionID); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) || errors.Is(err, repository.ErrNotFound) {
			s.logger.WarnContext(ctx, "refresh token not registered",
				slog.String("user_id", claims.UserID),
			)
			return nil, apperrors.InvalidToken("Invalid refresh token")
		}
		return nil, apperrors.Internal(fmt.Errorf("rotate session: %w", err))
	}

	return &next, nil
}

// Logout revokes the session behind refreshToken. A token that does not
// verify has nothing to revoke and still succeeds; an expired but
// authentic token has its id removed.
func (s *AuthService) Logout(ctx context.Context, userID, refreshToken string) (err error) {
	defer func() { s.metrics.observe(opLogout, err) }()

	if refreshToken == "" {
		return nil
	}

	claims, verr := s.tokens.Verify(refreshToken, auth.KindRefresh)
	if verr != nil && !errors.Is(verr, apperrors.ErrExpiredToken) {
		s.logger.DebugContext(ctx, "logout with unverifiable refresh token",
			slog.String("user_id", userID),
		)
		return nil
	}
	if claims == nil {
		return nil
	}

	if err := s.users.RemoveSession(ctx, userID, claims.TokenID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return apperrors.Internal(fmt.Errorf("remove session: %w", err))
	}

	s.logger.InfoContext(ctx, "user logged out", slog.String("user_id", userID))
	return nil
}

// LogoutAll revokes every session of the user.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) (err error) {
	defer func() { s.metrics.observe(opLogoutAll, err) }()

	if err := s.users.ClearSessions(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return apperrors.Internal(fmt.Errorf("clear sessions: %w", err))
	}

	if err := s.events.PublishSessionsRevoked(ctx, userID); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.sessions_revoked event",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "all sessions revoked", slog.String("user_id", userID))
	return nil
}

// FederatedSignIn signs in with a Google ID token, creating the account on
// first use or linking an existing account with the same email.
func (s *AuthService) FederatedSignIn(ctx context.Context, idToken string) (result *AuthResult, err error) {
	defer func() { s.metrics.observe(opFederated, err) }()

	idToken = strings.TrimSpace(idToken)
	if idToken == "" {
		return nil, apperrors.FederatedAuthFailure("Google ID token is required")
	}
	if s.identity == nil {
		return nil, apperrors.Internal(errors.New("federated sign-in is not configured"))
	}

	ident, err := s.identity.Verify(ctx, idToken)
	if err != nil {
		if errors.Is(err, federation.ErrUnavailable) {
			return nil, apperrors.Internal(fmt.Errorf("verify identity token: %w", err))
		}
		s.logger.InfoContext(ctx, "identity token rejected", slog.String("error", err.Error()))
		return nil, apperrors.FederatedAuthFailure("Invalid Google token")
	}

	user, err := s.users.GetByEmail(ctx, ident.Email)
	switch {
	case err == nil:
		user, err = s.linkIdentity(ctx, user, ident)
	case errors.Is(err, repository.ErrNotFound):
		user, err = s.createFederatedUser(ctx, ident)
	default:
		err = apperrors.Internal(fmt.Errorf("get user by email: %w", err))
	}
	if err != nil {
		return nil, err
	}

	return s.openSession(ctx, user)
}

// linkIdentity backfills the provider linkage of an existing account. The
// username is never changed.
func (s *AuthService) linkIdentity(ctx context.Context, user *domain.User, ident *federation.Identity) (*domain.User, error) {
	changed := false
	if user.FederatedID == "" {
		user.FederatedID = ident.ProviderUserID
		changed = true
	}
	if user.AuthProvider != ident.Provider {
		user.AuthProvider = ident.Provider
		changed = true
	}
	if !changed {
		return user, nil
	}

	if err := s.users.Update(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.FederatedAuthFailure("Google account is linked to another user")
		}
		return nil, apperrors.Internal(fmt.Errorf("link identity: %w", err))
	}
	return user, nil
}

func (s *AuthService) createFederatedUser(ctx context.Context, ident *federation.Identity) (*domain.User, error) {
	password, err := auth.RandomPassword()
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, apperrors.Internal(fmt.Errorf("hash placeholder password: %w", err))
	}

	base := usernameBase(ident)
	for attempt := 0; attempt < maxUsernameAttempts; attempt++ {
		now := s.now().UTC()
		user := &domain.User{
			Username:     candidateUsername(base, attempt),
			Email:        ident.Email,
			PasswordHash: hash,
			FederatedID:  ident.ProviderUserID,
			AuthProvider: ident.Provider,
			Role:         domain.RoleUser,
			CreatedAt:    now,
			UpdatedAt:    now,
		}

		err := s.users.Create(ctx, user)
		if err == nil {
			if err := s.events.PublishUserRegistered(ctx, user); err != nil {
				s.logger.ErrorContext(ctx, "failed to publish user.registered event",
					slog.String("user_id", user.ID),
					slog.String("error", err.Error()),
				)
			}
			s.logger.InfoContext(ctx, "federated user created",
				slog.String("user_id", user.ID),
				slog.String("provider", user.AuthProvider),
			)
			return user, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.Internal(fmt.Errorf("create federated user: %w", err))
		}

		// A concurrent sign-in may have created the account in the meantime.
		if existing, gerr := s.users.GetByEmail(ctx, ident.Email); gerr == nil {
			return s.linkIdentity(ctx, existing, ident)
		}
	}

	return nil, apperrors.Internal(fmt.Errorf("no free username for %q after %d attempts", base, maxUsernameAttempts))
}

// openSession is the common tail of every sign-in: issue a pair, register
// its revocation id and stamp the login time in one write.
func (s *AuthService) openSession(ctx context.Context, user *domain.User) (*AuthResult, error) {
	pair, sessionID, err := s.issuePair(user.ID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.users.AddSession(ctx, user.ID, sessionID, now); err != nil {
		return nil, apperrors.Internal(fmt.Errorf("add session: %w", err))
	}
	user.Sessions.Add(sessionID)
	user.LastLoginAt = &now

	if err := s.events.PublishUserLoggedIn(ctx, user); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish user.logged_in event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user logged in",
		slog.String("user_id", user.ID),
		slog.String("provider", user.AuthProvider),
	)

	return newAuthResult(user, pair), nil
}

func (s *AuthService) issuePair(userID string) (domain.TokenPair, string, error) {
	sessionID, err := auth.NewRevocationID()
	if err != nil {
		return domain.TokenPair{}, "", apperrors.Internal(err)
	}
	pair, err := s.signPair(userID, sessionID)
	if err != nil {
		return domain.TokenPair{}, "", err
	}
	return pair, sessionID, nil
}

func (s *AuthService) signPair(userID, sessionID string) (domain.TokenPair, error) {
	access, err := s.tokens.IssueAccessToken(userID)
	if err != nil {
		return domain.TokenPair{}, apperrors.Internal(err)
	}
	refresh, err := s.tokens.SignRefreshToken(userID, sessionID)
	if err != nil {
		return domain.TokenPair{}, apperrors.Internal(err)
	}
	return domain.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *AuthService) hashPassword(password string) (string, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return "", apperrors.Validation("Password must be at most 72 bytes")
		}
		return "", apperrors.Internal(err)
	}
	return hash, nil
}

func newAuthResult(user *domain.User, pair domain.TokenPair) *AuthResult {
	return &AuthResult{
		UserID:    user.ID,
		Username:  user.Username,
		Email:     user.Email,
		TokenPair: pair,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// usernameBase derives a username from the display name, falling back to
// the local part of the email.
func usernameBase(ident *federation.Identity) string {
	name := strings.TrimSpace(ident.DisplayName)
	if name == "" {
		name, _, _ = strings.Cut(ident.Email, "@")
	}
	return truncateRunes(name, maxUsernameLength)
}

// candidateUsername returns base on the first attempt when it is long
// enough, otherwise base with a short random suffix.
func candidateUsername(base string, attempt int) string {
	if attempt == 0 && utf8.RuneCountInString(base) >= minUsernameLength {
		return base
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return truncateRunes(base, maxUsernameLength-len(suffix)-1) + "_" + suffix
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
