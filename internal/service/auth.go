package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/vanshika/iou/backend/internal/domain"
	"github.com/vanshika/iou/backend/internal/phone"
	"github.com/vanshika/iou/backend/internal/ratelimit"
	"github.com/vanshika/iou/backend/internal/session"
)

// ErrInvalidCredentials is the single failure reported for any bad phone/PIN
// combination so callers cannot tell which part was wrong.
var ErrInvalidCredentials = &domain.Error{Kind: domain.ErrUnauthenticated, Reason: "Invalid phone or PIN"}

// RateLimitedError reports a throttled request.
type RateLimitedError struct {
	Scope  string
	Result ratelimit.Result
}

func (e *RateLimitedError) Error() string {
	return "Too many attempts. Please try again in " + humanDuration(e.Result.RetryAfter) + "."
}

// Flow tells a login form which screen comes next.
type Flow string

const (
	FlowSignup Flow = "signup"
	FlowLogin  Flow = "login"
)

// CheckResult is the enumeration-resistant answer to a phone check.
type CheckResult struct {
	Action   Flow
	NeedsPin bool
}

// AuthRequest is a sign-up, PIN setup, or login attempt.
type AuthRequest struct {
	Phone       string
	Pin         string
	DisplayName string
}

// AuthResult carries the authenticated user and a fresh session token.
type AuthResult struct {
	User         domain.User
	Token        string
	NeedsUpgrade bool
}

// AuthService orchestrates credential checks, rate limits, identity linking
// and session issuance.
type AuthService struct {
	creds    *Credentials
	users    UserStore
	linker   *Linker
	sessions *session.Issuer
	limits   ratelimit.Set
	logger   *slog.Logger
}

// NewAuthService constructs an AuthService.
func NewAuthService(creds *Credentials, users UserStore, linker *Linker, sessions *session.Issuer, limits ratelimit.Set, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		creds:    creds,
		users:    users,
		linker:   linker,
		sessions: sessions,
		limits:   limits,
		logger:   logger,
	}
}

// Check reports which flow a phone should follow.
func (a *AuthService) Check(ctx context.Context, raw string) (CheckResult, error) {
	p := phone.Normalize(raw)
	if p == "" {
		return CheckResult{}, domain.InvalidOperation("Phone number required")
	}
	if err := a.allow(a.limits.PhoneCheck, p); err != nil {
		return CheckResult{}, err
	}

	state, err := a.creds.CheckPhone(ctx, p)
	if err != nil {
		return CheckResult{}, err
	}
	if !state.Exists {
		return CheckResult{Action: FlowSignup}, nil
	}
	return CheckResult{Action: FlowLogin, NeedsPin: !state.HasPin}, nil
}

// Authenticate signs up a new phone, sets the first PIN of an account that
// has none, or logs in. Every success links pending IOUs addressed to the
// phone and issues a session.
func (a *AuthService) Authenticate(ctx context.Context, req AuthRequest) (AuthResult, error) {
	p := phone.Normalize(req.Phone)
	if p == "" || req.Pin == "" {
		return AuthResult{}, domain.InvalidOperation("Phone and PIN required")
	}
	if err := a.allow(a.limits.Auth, p); err != nil {
		return AuthResult{}, err
	}

	state, err := a.creds.CheckPhone(ctx, p)
	if err != nil {
		return AuthResult{}, err
	}

	var (
		user         domain.User
		needsUpgrade bool
	)
	switch {
	case !state.Exists:
		if strings.TrimSpace(req.DisplayName) == "" {
			return AuthResult{}, domain.InvalidOperation("Name required")
		}
		user, err = a.creds.CreateUser(ctx, p, req.DisplayName, req.Pin)
		if err != nil {
			return AuthResult{}, err
		}
		a.logger.InfoContext(ctx, "user signed up", "user_id", user.ID)
	case !state.HasPin:
		var ok bool
		user, ok, err = a.creds.SetPin(ctx, p, req.Pin)
		if err != nil {
			return AuthResult{}, err
		}
		if !ok {
			return AuthResult{}, ErrInvalidCredentials
		}
		a.logger.InfoContext(ctx, "pin set", "user_id", user.ID)
	default:
		verified, ok, err := a.creds.Verify(ctx, p, req.Pin)
		if err != nil {
			return AuthResult{}, err
		}
		if !ok {
			a.logger.WarnContext(ctx, "login failed", "phone_suffix", suffix(p))
			return AuthResult{}, ErrInvalidCredentials
		}
		user, needsUpgrade = verified.User, verified.Legacy
	}

	if _, err := a.linker.LinkByPhone(ctx, user.Phone, user.ID); err != nil {
		return AuthResult{}, fmt.Errorf("link ious: %w", err)
	}

	token, err := a.sessions.Issue(user.ID)
	if err != nil {
		return AuthResult{}, err
	}
	user.PinHash = nil
	return AuthResult{User: user, Token: token, NeedsUpgrade: needsUpgrade}, nil
}

// UpgradePin replaces the caller's PIN with a six digit one.
func (a *AuthService) UpgradePin(ctx context.Context, user domain.User, currentPin, newPin string) error {
	if currentPin == "" || newPin == "" {
		return domain.InvalidOperation("Current and new PIN required")
	}
	if err := a.allow(a.limits.Auth, phone.Normalize(user.Phone)); err != nil {
		return err
	}
	ok, err := a.creds.UpgradePin(ctx, user.ID, currentPin, newPin)
	if err != nil {
		return err
	}
	if !ok {
		return domain.InvalidOperation("Current PIN is incorrect")
	}
	a.logger.InfoContext(ctx, "pin upgraded", "user_id", user.ID)
	return nil
}

// Resolve maps a session token to its user.
func (a *AuthService) Resolve(ctx context.Context, token string) (domain.User, error) {
	userID, ok := a.sessions.Verify(token)
	if !ok {
		return domain.User{}, domain.ErrUnauthenticated
	}
	u, err := a.users.GetUserByID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, domain.ErrUnauthenticated
	}
	if err != nil {
		return domain.User{}, err
	}
	u.PinHash = nil
	return u, nil
}

// SessionTTL is the lifetime of issued tokens.
func (a *AuthService) SessionTTL() time.Duration {
	return a.sessions.TTL()
}

func (a *AuthService) allow(l *ratelimit.Limiter, key string) error {
	if !l.Enabled() {
		return nil
	}
	res := l.Check(key)
	if res.Allowed {
		return nil
	}
	a.logger.Warn("rate limited", "scope", l.Name())
	return &RateLimitedError{Scope: l.Name(), Result: res}
}

func suffix(p string) string {
	if len(p) <= 4 {
		return p
	}
	return p[len(p)-4:]
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= time.Minute:
		secs := int(math.Ceil(d.Seconds()))
		if secs <= 1 {
			return "1 second"
		}
		return fmt.Sprintf("%d seconds", secs)
	default:
		mins := int(math.Ceil(d.Minutes()))
		if mins == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", mins)
	}
}
