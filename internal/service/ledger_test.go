package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/iou/backend/internal/domain"
)

func TestCreateLinksRegisteredRecipientAndNotifies(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.signup(t, "5551111111", "Alice", "111111")
	bob := env.signup(t, "5552222222", "Bob", "222222")

	view := env.createIOU(t, alice, NewIOU{ToPhone: ptr("(555) 222-2222"), Description: ptr(" lunch ")})

	require.NotNil(t, view.ToUserID)
	assert.Equal(t, bob.ID, *view.ToUserID)
	assert.Equal(t, "5552222222", *view.ToPhone)
	assert.Equal(t, "lunch", *view.Description)
	assert.Equal(t, domain.StatusPending, view.Status)
	assert.NotEmpty(t, view.ShareToken)
	require.NotNil(t, view.From)
	assert.Nil(t, view.From.PinHash)

	notes, err := env.notifier.ListUnacknowledged(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, domain.NotificationNewIOU, notes[0].Type)
	assert.Equal(t, "Alice says you owe them: lunch", notes[0].Message)
}

func TestCreateUnregisteredRecipientStaysUnlinked(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "5551111111", "Alice", "111111")

	view := env.createIOU(t, alice, NewIOU{ToPhone: ptr("5559999999")})
	assert.Nil(t, view.ToUserID)
	assert.Nil(t, view.To)

	notes, err := env.notifier.ListUnacknowledged(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestCreateRequiresContent(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "5551111111", "Alice", "111111")

	_, err := env.ledger.Create(context.Background(), alice, NewIOU{Description: ptr("   "), ToPhone: ptr("")})
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)
	assert.Equal(t, "At least a recipient, description, or photo is required", domain.Reason(err, ""))

	view := env.createIOU(t, alice, NewIOU{PhotoURL: ptr("/uploads/a.png")})
	assert.Equal(t, "/uploads/a.png", *view.PhotoURL)
}

func TestCreateToOwnPhoneIsNotSelfLinked(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "5551111111", "Alice", "111111")

	view := env.createIOU(t, alice, NewIOU{ToPhone: ptr("5551111111"), Description: ptr("note to self")})
	assert.Nil(t, view.ToUserID)

	view = env.createIOU(t, alice, NewIOU{ToUserID: &alice.ID, Description: ptr("again")})
	assert.Nil(t, view.ToUserID)

	list, err := env.ledger.ListForUser(context.Background(), alice, Page{})
	require.NoError(t, err)
	assert.Len(t, list.Owed, 2)
	assert.Empty(t, list.Owing)
}

func TestCreateUnknownRecipientID(t *testing.T) {
	env := newTestEnv(t)
	alice := env.signup(t, "5551111111", "Alice", "111111")

	_, err := env.ledger.Create(context.Background(), alice, NewIOU{ToUserID: ptr("missing"), Description: ptr("x")})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetChecksExistenceBeforePermission(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.signup(t, "5551111111", "Alice", "111111")
	carol := env.signup(t, "5553333333", "Carol", "333333")
	view := env.createIOU(t, alice, NewIOU{ToPhone: ptr("5552222222"), Description: ptr("coffee")})

	_, err := env.ledger.Get(ctx, carol, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, "IOU not found", domain.Reason(err, ""))

	_, err = env.ledger.Get(ctx, carol, view.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	got, err := env.ledger.Get(ctx, alice, view.ID)
	require.NoError(t, err)
	assert.Equal(t, view.ID, got.ID)
}

func TestGetByShareTokenIsUngated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.signup(t, "5551111111", "Alice", "111111")
	view := env.createIOU(t, alice, NewIOU{ToName: ptr("Sam"), Description: ptr("ride")})

	got, err := env.ledger.GetByShareToken(ctx, view.ShareToken)
	require.NoError(t, err)
	assert.Equal(t, view.ID, got.ID)
	require.NotNil(t, got.From)
	assert.Equal(t, "Alice", got.From.DisplayName)

	_, err = env.ledger.GetByShareToken(ctx, "unknown")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClaim(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.signup(t, "5551111111", "Alice", "111111")
	bob := env.signup(t, "5552222222", "Bob", "222222")
	carol := env.signup(t, "5553333333", "Carol", "333333")
	view := env.createIOU(t, alice, NewIOU{ToName: ptr("Sam"), Description: ptr("ride")})

	_, err := env.ledger.Claim(ctx, alice, view.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)

	claimed, err := env.ledger.Claim(ctx, bob, view.ID)
	require.NoError(t, err)
	require.NotNil(t, claimed.ToUserID)
	assert.Equal(t, bob.ID, *claimed.ToUserID)
	require.NotNil(t, claimed.To)
	assert.Equal(t, "Bob", claimed.To.DisplayName)

	_, err = env.ledger.Claim(ctx, carol, view.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)
	_, err = env.ledger.Claim(ctx, bob, view.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = env.ledger.Claim(ctx, bob, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	notes, err := env.notifier.ListUnacknowledged(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, domain.NotificationClaimed, notes[0].Type)
	assert.Equal(t, "Bob claimed your IOU", notes[0].Message)
}

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.signup(t, "5551111111", "Alice", "111111")
	view := env.createIOU(t, alice, NewIOU{ToName: ptr("Sam")})

	claimers := make([]domain.User, 8)
	for i := range claimers {
		claimers[i] = env.placeholder(t, "c"+string(rune('a'+i)), "555000000"+string(rune('0'+i)), "Claimer")
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for _, c := range claimers {
		wg.Add(1)
		go func(c domain.User) {
			defer wg.Done()
			_, err := env.ledger.Claim(ctx, c, view.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
			} else if assert.ErrorIs(t, err, domain.ErrConflict) {
				conflicts++
			}
		}(c)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, len(claimers)-1, conflicts)
}

func TestMarkRepaidOnceAndNotifiesOtherParty(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.signup(t, "5551111111", "Alice", "111111")
	bob := env.signup(t, "5552222222", "Bob", "222222")
	carol := env.signup(t, "5553333333", "Carol", "333333")
	view := env.createIOU(t, alice, NewIOU{ToPhone: ptr("5552222222"), Description: ptr("lunch")})
	_, err := env.notifier.AcknowledgeAll(ctx, bob.ID)
	require.NoError(t, err)

	_, err = env.ledger.MarkRepaid(ctx, carol, view.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = env.ledger.MarkRepaid(ctx, carol, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	repaid, err := env.ledger.MarkRepaid(ctx, alice, view.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRepaid, repaid.Status)
	require.NotNil(t, repaid.RepaidAt)
	firstRepaidAt := *repaid.RepaidAt

	_, err = env.ledger.MarkRepaid(ctx, bob, view.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)
	assert.Equal(t, "IOU already repaid", domain.Reason(err, ""))

	stored, err := env.store.GetIOU(ctx, view.ID)
	require.NoError(t, err)
	assert.True(t, firstRepaidAt.Equal(*stored.RepaidAt))

	notes, err := env.notifier.ListUnacknowledged(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, domain.NotificationRepaid, notes[0].Type)
	assert.Equal(t, "Alice marked your IOU as repaid", notes[0].Message)

	aliceNotes, err := env.notifier.ListUnacknowledged(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, aliceNotes)
}

func TestMarkRepaidByRecipientOfUnlinkedIOU(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.signup(t, "5551111111", "Alice", "111111")
	view := env.createIOU(t, alice, NewIOU{ToPhone: ptr("5552222222"), Description: ptr("lunch")})
	bob := env.placeholder(t, "bob", "5552222222", "Bob")

	_, err := env.ledger.MarkRepaid(ctx, bob, view.ID)
	require.NoError(t, err)

	notes, err := env.notifier.ListUnacknowledged(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "Bob repaid you", notes[0].Message)
}

func TestNotificationFailureDoesNotUndoRepayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.signup(t, "5551111111", "Alice", "111111")
	bob := env.signup(t, "5552222222", "Bob", "222222")
	view := env.createIOU(t, alice, NewIOU{ToPhone: ptr("5552222222"), Description: ptr("lunch")})

	env.store.failNotifications = true
	repaid, err := env.ledger.MarkRepaid(ctx, bob, view.ID)
	require.NoError(t, err)
	assert.True(t, repaid.IsRepaid())

	stored, err := env.store.GetIOU(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRepaid, stored.Status)
}

func TestListForUserMergesLinkedAndPhoneAddressed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.signup(t, "5551111111", "Alice", "111111")
	first := env.createIOU(t, alice, NewIOU{ToPhone: ptr("5552222222"), Description: ptr("first")})
	second := env.createIOU(t, alice, NewIOU{ToPhone: ptr("5552222222"), Description: ptr("second")})

	bob := env.placeholder(t, "bob", "5552222222", "Bob")
	list, err := env.ledger.ListForUser(ctx, bob, Page{})
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID, first.ID}, ids(list.Owing))
	assert.Empty(t, list.Owed)

	_, err = env.ledger.Claim(ctx, bob, first.ID)
	require.NoError(t, err)

	list, err = env.ledger.ListForUser(ctx, bob, Page{})
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID, first.ID}, ids(list.Owing), "claimed IOU appears once")

	owed, err := env.ledger.ListForUser(ctx, alice, Page{})
	require.NoError(t, err)
	assert.Equal(t, []string{second.ID, first.ID}, ids(owed.Owed))
}

func TestListForUserPagination(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.signup(t, "5551111111", "Alice", "111111")
	var created []string
	for i := 0; i < 5; i++ {
		created = append(created, env.createIOU(t, alice, NewIOU{ToName: ptr("Sam")}).ID)
	}

	page, err := env.ledger.ListForUser(ctx, alice, Page{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{created[4], created[3]}, ids(page.Owed))
	assert.True(t, page.HasMoreOwed)
	assert.False(t, page.HasMoreOwing)

	page, err = env.ledger.ListForUser(ctx, alice, Page{Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Equal(t, []string{created[0]}, ids(page.Owed))
	assert.False(t, page.HasMoreOwed)

	page, err = env.ledger.ListForUser(ctx, alice, Page{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Owed)
}

func TestNormalizePage(t *testing.T) {
	limit, offset := normalizePage(Page{})
	assert.Equal(t, defaultPageSize, limit)
	assert.Zero(t, offset)

	limit, offset = normalizePage(Page{Limit: 1000, Offset: -3})
	assert.Equal(t, maxPageSize, limit)
	assert.Zero(t, offset)
}

func TestArchiveRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.signup(t, "5551111111", "Alice", "111111")
	bob := env.signup(t, "5552222222", "Bob", "222222")
	carol := env.signup(t, "5553333333", "Carol", "333333")
	view := env.createIOU(t, alice, NewIOU{ToPhone: ptr("5552222222"), Description: ptr("lunch")})

	assert.ErrorIs(t, env.ledger.Archive(ctx, carol, view.ID), domain.ErrForbidden)
	assert.ErrorIs(t, env.ledger.Archive(ctx, alice, "missing"), domain.ErrNotFound)

	require.NoError(t, env.ledger.Archive(ctx, alice, view.ID))
	require.NoError(t, env.ledger.Archive(ctx, alice, view.ID))

	list, err := env.ledger.ListForUser(ctx, alice, Page{})
	require.NoError(t, err)
	assert.Empty(t, list.Owed)

	archived, err := env.ledger.ListArchived(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, []string{view.ID}, ids(archived))

	// archiving is per user
	bobList, err := env.ledger.ListForUser(ctx, bob, Page{})
	require.NoError(t, err)
	assert.Equal(t, []string{view.ID}, ids(bobList.Owing))

	require.NoError(t, env.ledger.Unarchive(ctx, alice, view.ID))
	require.NoError(t, env.ledger.Unarchive(ctx, alice, view.ID))

	list, err = env.ledger.ListForUser(ctx, alice, Page{})
	require.NoError(t, err)
	assert.Equal(t, []string{view.ID}, ids(list.Owed))
	archived, err = env.ledger.ListArchived(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, archived)
}

func TestBalanceAndContacts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.signup(t, "5551111111", "Alice", "111111")
	bob := env.signup(t, "5552222222", "Bob", "222222")

	toBob := env.createIOU(t, alice, NewIOU{ToPhone: ptr("5552222222"), Description: ptr("lunch")})
	env.createIOU(t, alice, NewIOU{ToName: ptr("Sam"), Description: ptr("ride")})
	env.createIOU(t, alice, NewIOU{ToPhone: ptr("5559999999"), ToName: ptr("Dee")})
	env.createIOU(t, bob, NewIOU{ToPhone: ptr("5551111111"), Description: ptr("coffee")})

	bal, err := env.ledger.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, Balance{Owed: 3, Owe: 1}, bal)

	_, err = env.ledger.MarkRepaid(ctx, bob, toBob.ID)
	require.NoError(t, err)
	bal, err = env.ledger.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, Balance{Owed: 2, Owe: 1}, bal)

	contacts, err := env.ledger.Contacts(ctx, alice)
	require.NoError(t, err)
	require.Len(t, contacts, 3)
	assert.Equal(t, "Bob", contacts[0].Name, "bob's coffee IOU is the most recent")
	require.NotNil(t, contacts[0].UserID)
	assert.Equal(t, bob.ID, *contacts[0].UserID)
	assert.Equal(t, "Dee", contacts[1].Name)
	assert.Nil(t, contacts[1].UserID)
	assert.Equal(t, "Sam", contacts[2].Name)
	assert.Nil(t, contacts[2].Phone)
}
