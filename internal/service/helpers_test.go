package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/vanshika/iou/backend/internal/domain"
	"github.com/vanshika/iou/backend/internal/ratelimit"
	"github.com/vanshika/iou/backend/internal/repository"
	"github.com/vanshika/iou/backend/internal/session"
)

// tickingClock advances one second per call so creation order is strict.
type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *tickingClock {
	return &tickingClock{now: time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type testEnv struct {
	store    *flakyStore
	creds    *Credentials
	linker   *Linker
	notifier *Notifier
	ledger   *Ledger
	auth     *AuthService
	sessions *session.Issuer
	clock    *tickingClock
}

// flakyStore lets tests fail notification writes.
type flakyStore struct {
	*repository.MemoryStore
	failNotifications bool
}

func (f *flakyStore) CreateNotification(ctx context.Context, n domain.Notification) error {
	if f.failNotifications {
		return errors.New("notification store unavailable")
	}
	return f.MemoryStore.CreateNotification(ctx, n)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithLimits(t, ratelimit.NewSet(ratelimit.Policy{}, ratelimit.Policy{}, ratelimit.Policy{}))
}

func newTestEnvWithLimits(t *testing.T, limits ratelimit.Set) *testEnv {
	t.Helper()
	clock := newClock()
	store := &flakyStore{MemoryStore: repository.NewMemoryStore()}
	logger := discardLogger()

	creds := NewCredentials(store, bcrypt.MinCost)
	creds.WithClock(clock.Now)
	linker := NewLinker(store, store, logger)
	notifier := NewNotifier(store)
	notifier.WithClock(clock.Now)
	ledger := NewLedger(store, linker, notifier, logger)
	ledger.WithClock(clock.Now)

	sessions, err := session.NewIssuer("test-secret", session.DefaultTTL)
	require.NoError(t, err)

	return &testEnv{
		store:    store,
		creds:    creds,
		linker:   linker,
		notifier: notifier,
		ledger:   ledger,
		auth:     NewAuthService(creds, store, linker, sessions, limits, logger),
		sessions: sessions,
		clock:    clock,
	}
}

func (e *testEnv) signup(t *testing.T, phone, name, pin string) domain.User {
	t.Helper()
	res, err := e.auth.Authenticate(context.Background(), AuthRequest{Phone: phone, Pin: pin, DisplayName: name})
	require.NoError(t, err)
	return res.User
}

// placeholder creates an account without a PIN.
func (e *testEnv) placeholder(t *testing.T, id, phone, name string) domain.User {
	t.Helper()
	u := domain.User{ID: id, Phone: phone, DisplayName: name, CreatedAt: e.clock.Now()}
	require.NoError(t, e.store.CreateUser(context.Background(), u))
	return u
}

func (e *testEnv) createIOU(t *testing.T, from domain.User, in NewIOU) domain.IOUView {
	t.Helper()
	v, err := e.ledger.Create(context.Background(), from, in)
	require.NoError(t, err)
	return v
}

func ptr(s string) *string { return &s }

func ids(views []domain.IOUView) []string {
	out := make([]string, len(views))
	for i, v := range views {
		out[i] = v.ID
	}
	return out
}
