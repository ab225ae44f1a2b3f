// Package services contains server-side business logic. This file implements
// AuthService: registration, login with brute-force lockout, persistent
// sessions and one-time password resets.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/fermentstation/internal/common"
	"github.com/dmitrijs2005/fermentstation/internal/cryptox"
	"github.com/dmitrijs2005/fermentstation/internal/dbx"
	"github.com/dmitrijs2005/fermentstation/internal/email"
	"github.com/dmitrijs2005/fermentstation/internal/logging"
	"github.com/dmitrijs2005/fermentstation/internal/server/auth"
	"github.com/dmitrijs2005/fermentstation/internal/server/config"
	"github.com/dmitrijs2005/fermentstation/internal/server/models"
	"github.com/dmitrijs2005/fermentstation/internal/server/ratelimit"
	"github.com/dmitrijs2005/fermentstation/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/fermentstation/internal/server/tokens"
	"github.com/google/uuid"
)

const (
	// resetRequestGap is the minimum delay between two reset requests of a user.
	resetRequestGap = 5 * time.Minute
	resetHistory    = 5
)

// LoginResult is returned by a successful Login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Identity  models.Identity
}

// RegisterInput carries a self-service or admin registration.
// Tenant is either a tenant id (uuid) or a tenant name. Role is optional.
type RegisterInput struct {
	Email    string
	Password string
	Tenant   string
	Role     string
}

// ResetRequest is a "forgot password" submission with audit metadata.
type ResetRequest struct {
	Email     string
	IP        string
	UserAgent string
}

// CleanupReport counts rows removed by Cleanup.
type CleanupReport struct {
	Sessions      int64
	Resets        int64
	LoginFailures int64
}

type AuthService struct {
	db             *sql.DB
	repomanager    repomanager.RepositoryManager
	limiter        ratelimit.Limiter
	sessions       tokens.Issuer
	resets         tokens.Issuer
	mailer         email.Sender
	log            logging.Logger
	baseURL        string
	allowedTenants []string
	now            func() time.Time
}

// NewAuthService wires the service from server config. The limiter decides
// lockouts and mailer delivers reset links.
func NewAuthService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config,
	limiter ratelimit.Limiter, mailer email.Sender, log logging.Logger) *AuthService {

	hasher := tokens.NewHasher([]byte(cfg.SecretKey))
	return &AuthService{
		db:             db,
		repomanager:    m,
		limiter:        limiter,
		sessions:       tokens.NewRandomIssuer(hasher, cfg.SessionValidityDuration),
		resets:         tokens.NewSignedIssuer(hasher, []byte(cfg.SecretKey), auth.PurposePasswordReset, cfg.ResetTokenValidityDuration),
		mailer:         mailer,
		log:            log.With("module", "auth"),
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		allowedTenants: cfg.AllowedTenants,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Register creates an active user. The first user of a tenant becomes admin.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	emailNorm, err := cryptox.ValidateEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := cryptox.ValidatePassword(in.Password); err != nil {
		return nil, err
	}
	if in.Role != "" && in.Role != models.RoleAdmin && in.Role != models.RoleUser {
		return nil, common.NewValidationError("role", "unknown role")
	}

	tenantID, err := s.resolveTenant(ctx, in.Tenant)
	if err != nil {
		return nil, err
	}

	users := s.repomanager.Users(s.db)

	if _, err := users.GetByEmail(ctx, emailNorm); err == nil {
		return nil, common.ErrorAlreadyExists
	} else if !errors.Is(err, common.ErrorNotFound) {
		s.log.Error(ctx, "user lookup failed", "email", emailNorm, "error", err)
		return nil, common.ErrorInternal
	}

	role := in.Role
	if role == "" {
		n, err := users.CountInTenant(ctx, tenantID)
		if err != nil {
			return nil, common.ErrorInternal
		}
		role = models.RoleUser
		if n == 0 {
			role = models.RoleAdmin
		}
	}

	hash, err := cryptox.HashPassword(in.Password)
	if err != nil {
		return nil, common.ErrorInternal
	}

	u, err := users.Create(ctx, &models.User{
		TenantID:     tenantID,
		Email:        emailNorm,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	})
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, err
		}
		s.log.Error(ctx, "user create failed", "email", emailNorm, "error", err)
		return nil, common.ErrorInternal
	}

	s.log.Info(ctx, "user registered", "email", emailNorm, "tenant_id", tenantID, "role", role)
	return u, nil
}

// resolveTenant accepts a tenant id or a name. Names go through the
// registration whitelist and are created on first use.
func (s *AuthService) resolveTenant(ctx context.Context, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", common.NewValidationError("tenant", "tenant is required")
	}

	repo := s.repomanager.Tenants(s.db)

	if _, err := uuid.Parse(ref); err == nil {
		t, err := repo.GetByID(ctx, ref)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return "", common.NewValidationError("tenant", "unknown tenant")
			}
			return "", common.ErrorInternal
		}
		return t.ID, nil
	}

	name := common.NormalizeName(ref)
	if !s.tenantAllowed(name) {
		return "", common.ErrForbidden
	}

	t, err := repo.GetByName(ctx, name)
	if err == nil {
		return t.ID, nil
	}
	if !errors.Is(err, common.ErrorNotFound) {
		return "", common.ErrorInternal
	}

	t, err = repo.Create(ctx, name)
	if errors.Is(err, common.ErrorAlreadyExists) {
		// lost a creation race; the row exists now
		t, err = repo.GetByName(ctx, name)
	}
	if err != nil {
		s.log.Error(ctx, "tenant resolve failed", "tenant", name, "error", err)
		return "", common.ErrorInternal
	}
	return t.ID, nil
}

func (s *AuthService) tenantAllowed(name string) bool {
	if len(s.allowedTenants) == 0 {
		return true
	}
	for _, a := range s.allowedTenants {
		if strings.EqualFold(common.NormalizeName(a), name) {
			return true
		}
	}
	return false
}

// Login verifies credentials and opens a session. A locked identity is
// rejected before the password is looked at.
func (s *AuthService) Login(ctx context.Context, emailIn, password string) (*LoginResult, error) {
	key := common.NormalizeEmail(emailIn)
	if key == "" || password == "" {
		return nil, common.ErrAuthenticationFailed
	}
	now := s.now()

	d, err := s.limiter.Check(ctx, key, now)
	if err != nil {
		s.log.Warn(ctx, "lockout check failed, treating as unlocked", "email", key, "error", err)
	} else if d.Locked {
		s.log.Warn(ctx, "login refused, account locked", "email", key, "retry_after", d.RetryAfter.String())
		return nil, &common.LockedError{RetryAfter: d.RetryAfter}
	}

	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, key)
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			s.log.Error(ctx, "user lookup failed", "email", key, "error", err)
			return nil, common.ErrorInternal
		}
		cryptox.VerifyPassword(password, cryptox.DummyHash())
		s.recordFailure(ctx, key, now)
		return nil, common.ErrAuthenticationFailed
	}

	if !cryptox.VerifyPassword(password, user.PasswordHash) {
		s.recordFailure(ctx, key, now)
		return nil, common.ErrAuthenticationFailed
	}

	if !user.IsActive {
		s.log.Warn(ctx, "login refused, account inactive", "email", key)
		return nil, common.ErrAuthenticationFailed
	}

	if err := s.limiter.Reset(ctx, key); err != nil {
		s.log.Warn(ctx, "clearing login failures failed", "email", key, "error", err)
	}

	tok, err := s.openSession(ctx, user, now)
	if err != nil {
		return nil, err
	}

	s.log.Info(ctx, "login succeeded", "email", key, "tenant_id", user.TenantID)
	return &LoginResult{
		Token:     tok.Plain,
		ExpiresAt: tok.ExpiresAt,
		Identity:  models.Identity{UserID: user.ID, TenantID: user.TenantID, Email: user.Email, Role: user.Role},
	}, nil
}

func (s *AuthService) recordFailure(ctx context.Context, key string, now time.Time) {
	n, err := s.limiter.Fail(ctx, key, now)
	if err != nil {
		s.log.Warn(ctx, "recording login failure failed", "email", key, "error", err)
		return
	}
	s.log.Warn(ctx, "login failed", "email", key, "attempt", n)
}

func (s *AuthService) openSession(ctx context.Context, user *models.User, now time.Time) (tokens.Token, error) {
	tok, err := s.sessions.Issue(user.ID, now)
	if err != nil {
		return tokens.Token{}, common.ErrorInternal
	}
	err = s.repomanager.Sessions(s.db).Create(ctx, &models.Session{
		UserID:    user.ID,
		TenantID:  user.TenantID,
		TokenHash: tok.Hash,
		ExpiresAt: tok.ExpiresAt,
		CreatedAt: now,
	})
	if err != nil {
		s.log.Error(ctx, "session create failed", "user_id", user.ID, "error", err)
		return tokens.Token{}, common.ErrorInternal
	}
	return tok, nil
}

// ValidateSession resolves a session token to its identity.
func (s *AuthService) ValidateSession(ctx context.Context, token string) (*models.Identity, error) {
	now := s.now()
	hash, err := s.sessions.Check(token, now)
	if err != nil {
		return nil, err
	}
	id, err := s.repomanager.Sessions(s.db).FindIdentity(ctx, hash, now)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrTokenInvalidOrExpired
		}
		return nil, common.ErrorInternal
	}
	return id, nil
}

// Logout revokes the session. Unknown or empty tokens are a no-op.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	hash, err := s.sessions.Check(token, s.now())
	if err != nil {
		return nil
	}
	if err := s.repomanager.Sessions(s.db).Delete(ctx, hash); err != nil {
		return common.ErrorInternal
	}
	return nil
}

// ChangePassword validates and stores a new password for userID.
func (s *AuthService) ChangePassword(ctx context.Context, userID, newPassword string) error {
	if err := cryptox.ValidatePassword(newPassword); err != nil {
		return err
	}
	users := s.repomanager.Users(s.db)
	user, err := users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return err
		}
		return common.ErrorInternal
	}
	// A session may outlive a deactivation by one request.
	if !user.IsActive {
		return common.ErrForbidden
	}

	hash, err := cryptox.HashPassword(newPassword)
	if err != nil {
		return common.ErrorInternal
	}
	if err := users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return err
		}
		return common.ErrorInternal
	}
	s.log.Info(ctx, "password changed", "user_id", userID)
	return nil
}

// SetActive enables or disables the account of email. Disabling also
// revokes every session of the user; the count of revoked sessions is
// returned.
func (s *AuthService) SetActive(ctx context.Context, emailIn string, active bool) (*models.User, int64, error) {
	key := common.NormalizeEmail(emailIn)
	if key == "" {
		return nil, 0, common.NewValidationError("email", "email is required")
	}
	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, key)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, 0, err
		}
		return nil, 0, common.ErrorInternal
	}

	var revoked int64
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Users(tx).SetActive(ctx, user.ID, active); err != nil {
			return fmt.Errorf("error updating user: %w", err)
		}
		if active {
			return nil
		}
		revoked, err = s.repomanager.Sessions(tx).DeleteForUser(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("error revoking sessions: %w", err)
		}
		return nil
	})
	if err != nil {
		s.log.Error(ctx, "set active failed", "user_id", user.ID, "error", err)
		return nil, 0, common.ErrorInternal
	}

	user.IsActive = active
	s.log.Info(ctx, "account state changed", "user_id", user.ID, "active", active, "sessions_revoked", revoked)
	return user, revoked, nil
}

// RequestPasswordReset emails a reset link. Unknown emails, inactive users
// and throttled requests silently issue nothing, so callers always answer
// the same way.
func (s *AuthService) RequestPasswordReset(ctx context.Context, req ResetRequest) error {
	key := common.NormalizeEmail(req.Email)
	if key == "" {
		return nil
	}
	now := s.now()

	user, err := s.repomanager.Users(s.db).GetByEmail(ctx, key)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		s.log.Error(ctx, "user lookup failed", "email", key, "error", err)
		return common.ErrorInternal
	}
	if !user.IsActive {
		return nil
	}

	resets := s.repomanager.PasswordResets(s.db)

	recent, err := resets.ListRecent(ctx, user.ID, resetHistory)
	if err != nil {
		return common.ErrorInternal
	}
	for _, r := range recent {
		if r.Active(now) {
			s.log.Info(ctx, "reset throttled, active token exists", "user_id", user.ID)
			return nil
		}
	}
	if len(recent) > 0 && now.Sub(recent[0].CreatedAt) < resetRequestGap {
		s.log.Info(ctx, "reset throttled, recent request", "user_id", user.ID)
		return nil
	}

	tok, err := s.resets.Issue(user.ID, now)
	if err != nil {
		return common.ErrorInternal
	}

	row := &models.PasswordReset{
		UserID:    user.ID,
		TokenHash: tok.Hash,
		ExpiresAt: tok.ExpiresAt,
		RequestIP: req.IP,
		RequestUA: req.UserAgent,
		CreatedAt: now,
	}
	if err := resets.Create(ctx, row); err != nil {
		s.log.Error(ctx, "reset create failed", "user_id", user.ID, "error", err)
		return common.ErrorInternal
	}

	link := s.baseURL + "/reset/" + tok.Plain
	if _, err := s.mailer.Send(ctx, email.PasswordResetMessage(user.Email, link, s.resets.TTL())); err != nil {
		// An unsent row would throttle the retry the caller is told to make.
		if derr := resets.Delete(context.WithoutCancel(ctx), row.ID); derr != nil {
			s.log.Error(ctx, "reset rollback failed", "user_id", user.ID, "reset_id", row.ID, "error", derr)
		}
		return err
	}

	s.log.Info(ctx, "reset link sent", "user_id", user.ID)
	return nil
}

// VerifyResetToken checks a reset token without consuming it and returns the
// email it was issued for.
func (s *AuthService) VerifyResetToken(ctx context.Context, token string) (string, error) {
	r, err := s.lookupReset(ctx, token, s.now())
	if err != nil {
		return "", err
	}
	return r.Email, nil
}

func (s *AuthService) lookupReset(ctx context.Context, token string, now time.Time) (*models.PasswordReset, error) {
	hash, err := s.resets.Check(token, now)
	if err != nil {
		return nil, err
	}
	r, err := s.repomanager.PasswordResets(s.db).FindByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrTokenInvalidOrExpired
		}
		return nil, common.ErrorInternal
	}
	if !r.Active(now) {
		return nil, common.ErrTokenInvalidOrExpired
	}
	return r, nil
}

// ResetPassword consumes token and sets newPassword. Marking the token used,
// writing the hash and revoking sessions happen in one transaction.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := cryptox.ValidatePassword(newPassword); err != nil {
		return err
	}
	now := s.now()

	r, err := s.lookupReset(ctx, token, now)
	if err != nil {
		return err
	}

	hash, err := cryptox.HashPassword(newPassword)
	if err != nil {
		return common.ErrorInternal
	}

	var revoked int64
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		ok, err := s.repomanager.PasswordResets(tx).MarkUsed(ctx, r.ID, r.UserID, now)
		if err != nil {
			return fmt.Errorf("error marking reset used: %w", err)
		}
		if !ok {
			return common.ErrTokenInvalidOrExpired
		}
		if err := s.repomanager.Users(tx).UpdatePasswordHash(ctx, r.UserID, hash); err != nil {
			return fmt.Errorf("error updating password: %w", err)
		}
		revoked, err = s.repomanager.Sessions(tx).DeleteForUser(ctx, r.UserID)
		if err != nil {
			return fmt.Errorf("error revoking sessions: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrTokenInvalidOrExpired) {
			return err
		}
		s.log.Error(ctx, "password reset failed", "user_id", r.UserID, "error", err)
		return common.ErrorInternal
	}

	if err := s.limiter.Reset(ctx, common.NormalizeEmail(r.Email)); err != nil {
		s.log.Warn(ctx, "clearing login failures failed", "user_id", r.UserID, "error", err)
	}

	s.log.Info(ctx, "password reset", "user_id", r.UserID, "sessions_revoked", revoked)
	return nil
}

// Cleanup removes expired sessions, spent reset tokens and stale failure counters.
func (s *AuthService) Cleanup(ctx context.Context) (CleanupReport, error) {
	now := s.now()
	var rep CleanupReport
	var err error

	if rep.Sessions, err = s.repomanager.Sessions(s.db).DeleteExpired(ctx, now); err != nil {
		return rep, fmt.Errorf("cleanup sessions: %w", err)
	}
	if rep.Resets, err = s.repomanager.PasswordResets(s.db).DeleteStale(ctx, now); err != nil {
		return rep, fmt.Errorf("cleanup resets: %w", err)
	}
	if rep.LoginFailures, err = s.limiter.Sweep(ctx, now); err != nil {
		return rep, fmt.Errorf("cleanup login failures: %w", err)
	}

	s.log.Info(ctx, "cleanup done", "sessions", rep.Sessions, "resets", rep.Resets, "login_failures", rep.LoginFailures)
	return rep, nil
}
