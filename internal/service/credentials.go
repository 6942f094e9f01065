package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/vanshika/iou/backend/internal/domain"
	"github.com/vanshika/iou/backend/internal/phone"
)

var (
	pinPattern       = regexp.MustCompile(`^\d{6}$`)
	legacyPinPattern = regexp.MustCompile(`^\d{4}$`)
)

// ValidPin reports whether pin is a current six digit PIN.
func ValidPin(pin string) bool {
	return pinPattern.MatchString(pin)
}

// PhoneState describes what a login form should ask for next.
type PhoneState struct {
	Exists bool
	HasPin bool
}

// Verified is a successful credential check. Legacy is set when a four digit
// PIN matched, which makes the account eligible for an upgrade.
type Verified struct {
	User   domain.User
	Legacy bool
}

// Credentials owns PIN hashing and account creation.
type Credentials struct {
	users UserStore
	cost  int
	nowFn func() time.Time
	newID func() string
}

// NewCredentials constructs Credentials with the given bcrypt cost; out of
// range costs fall back to bcrypt.DefaultCost.
func NewCredentials(users UserStore, cost int) *Credentials {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Credentials{
		users: users,
		cost:  cost,
		nowFn: time.Now,
		newID: uuid.NewString,
	}
}

// WithClock overrides the time provider (used primarily in tests).
func (c *Credentials) WithClock(nowFn func() time.Time) {
	if nowFn != nil {
		c.nowFn = nowFn
	}
}

// CheckPhone reports whether an account exists for raw and whether it has a PIN.
func (c *Credentials) CheckPhone(ctx context.Context, raw string) (PhoneState, error) {
	p := phone.Normalize(raw)
	if p == "" {
		return PhoneState{}, domain.InvalidOperation("Phone number required")
	}
	u, err := c.users.GetUserByPhone(ctx, p)
	if errors.Is(err, domain.ErrNotFound) {
		return PhoneState{}, nil
	}
	if err != nil {
		return PhoneState{}, err
	}
	return PhoneState{Exists: true, HasPin: u.HasPin()}, nil
}

// CreateUser registers a new account with a six digit PIN.
func (c *Credentials) CreateUser(ctx context.Context, raw, displayName, pin string) (domain.User, error) {
	p := phone.Normalize(raw)
	if p == "" {
		return domain.User{}, domain.InvalidOperation("Phone number required")
	}
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return domain.User{}, domain.InvalidOperation("Name required")
	}
	if !ValidPin(pin) {
		return domain.User{}, domain.InvalidOperation("PIN must be 6 digits")
	}

	hash, err := c.hash(pin)
	if err != nil {
		return domain.User{}, err
	}
	u := domain.User{
		ID:          c.newID(),
		Phone:       p,
		DisplayName: displayName,
		PinHash:     &hash,
		CreatedAt:   c.nowFn().UTC(),
	}
	if err := c.users.CreateUser(ctx, u); err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// SetPin completes an account that exists without a PIN. It reports false when
// there is no such account or a PIN is already set.
func (c *Credentials) SetPin(ctx context.Context, raw, pin string) (domain.User, bool, error) {
	if !ValidPin(pin) {
		return domain.User{}, false, domain.InvalidOperation("PIN must be 6 digits")
	}
	u, err := c.users.GetUserByPhone(ctx, phone.Normalize(raw))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, err
	}
	if u.HasPin() {
		return domain.User{}, false, nil
	}

	hash, err := c.hash(pin)
	if err != nil {
		return domain.User{}, false, err
	}
	ok, err := c.users.SetInitialPinHash(ctx, u.ID, hash)
	if err != nil || !ok {
		return domain.User{}, false, err
	}
	u.PinHash = &hash
	return u, true, nil
}

// Verify checks a four or six digit PIN against the stored hash.
func (c *Credentials) Verify(ctx context.Context, raw, pin string) (Verified, bool, error) {
	legacy := legacyPinPattern.MatchString(pin)
	if !legacy && !ValidPin(pin) {
		return Verified{}, false, nil
	}
	u, err := c.users.GetUserByPhone(ctx, phone.Normalize(raw))
	if errors.Is(err, domain.ErrNotFound) {
		return Verified{}, false, nil
	}
	if err != nil {
		return Verified{}, false, err
	}
	if !u.HasPin() || !matches(*u.PinHash, pin) {
		return Verified{}, false, nil
	}
	return Verified{User: u, Legacy: legacy}, true, nil
}

// UpgradePin replaces the PIN of userID after re-verifying currentPin.
func (c *Credentials) UpgradePin(ctx context.Context, userID, currentPin, newPin string) (bool, error) {
	if !ValidPin(newPin) {
		return false, domain.InvalidOperation("New PIN must be 6 digits")
	}
	if !legacyPinPattern.MatchString(currentPin) && !ValidPin(currentPin) {
		return false, nil
	}
	u, err := c.users.GetUserByID(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !u.HasPin() || !matches(*u.PinHash, currentPin) {
		return false, nil
	}

	hash, err := c.hash(newPin)
	if err != nil {
		return false, err
	}
	if err := c.users.UpdatePinHash(ctx, u.ID, hash); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Credentials) hash(pin string) (string, error) {
	out, err := bcrypt.GenerateFromPassword([]byte(pin), c.cost)
	if err != nil {
		return "", fmt.Errorf("hash pin: %w", err)
	}
	return string(out), nil
}

func matches(hash, pin string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) == nil
}
