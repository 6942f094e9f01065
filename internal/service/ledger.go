package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vanshika/iou/backend/internal/domain"
	"github.com/vanshika/iou/backend/internal/phone"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// NewIOU is the caller-supplied content of an IOU. Empty strings count as
// absent.
type NewIOU struct {
	ToUserID    *string
	ToPhone     *string
	ToName      *string
	Description *string
	PhotoURL    *string
}

// Page selects a window of a list.
type Page struct {
	Limit  int
	Offset int
}

// IOUList is a user's dashboard: IOUs they created (Owed) and IOUs addressed
// to them (Owing).
type IOUList struct {
	Owed         []domain.IOUView
	Owing        []domain.IOUView
	HasMoreOwed  bool
	HasMoreOwing bool
}

// Contact is someone the user has exchanged IOUs with. UserID is nil for
// recipients known only by phone or name.
type Contact struct {
	UserID    *string
	Phone     *string
	Name      string
	LastIOUAt time.Time
}

// Balance counts pending IOUs on each side.
type Balance struct {
	Owe  int
	Owed int
}

// Ledger implements the IOU lifecycle.
type Ledger struct {
	store    Store
	linker   *Linker
	notifier *Notifier
	logger   *slog.Logger
	nowFn    func() time.Time
	newID    func() string
}

// NewLedger constructs a Ledger.
func NewLedger(store Store, linker *Linker, notifier *Notifier, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:    store,
		linker:   linker,
		notifier: notifier,
		logger:   logger,
		nowFn:    time.Now,
		newID:    uuid.NewString,
	}
}

// WithClock overrides the time provider (used primarily in tests).
func (l *Ledger) WithClock(nowFn func() time.Time) {
	if nowFn != nil {
		l.nowFn = nowFn
	}
}

// Create records an IOU from creator. The recipient is resolved from ToPhone
// when it belongs to a registered user other than the creator.
func (l *Ledger) Create(ctx context.Context, creator domain.User, in NewIOU) (domain.IOUView, error) {
	iou := domain.IOU{
		ID:          l.newID(),
		FromUserID:  creator.ID,
		ToPhone:     phone.NormalizePtr(in.ToPhone),
		ToName:      trimmed(in.ToName),
		Description: trimmed(in.Description),
		PhotoURL:    trimmed(in.PhotoURL),
		Status:      domain.StatusPending,
		ShareToken:  uuid.NewString(),
		CreatedAt:   l.nowFn().UTC(),
	}

	if id := trimmed(in.ToUserID); id != nil && *id != creator.ID {
		to, err := l.store.GetUserByID(ctx, *id)
		if errors.Is(err, domain.ErrNotFound) {
			return domain.IOUView{}, domain.NotFound("Recipient not found")
		}
		if err != nil {
			return domain.IOUView{}, err
		}
		iou.ToUserID = &to.ID
		if iou.ToPhone == nil {
			iou.ToPhone = &to.Phone
		}
	} else if iou.ToPhone != nil {
		to, err := l.store.GetUserByPhone(ctx, *iou.ToPhone)
		switch {
		case errors.Is(err, domain.ErrNotFound):
		case err != nil:
			return domain.IOUView{}, err
		case to.ID != creator.ID:
			iou.ToUserID = &to.ID
		}
	}

	if iou.Description == nil && iou.PhotoURL == nil && iou.ToPhone == nil && iou.ToName == nil && iou.ToUserID == nil {
		return domain.IOUView{}, domain.InvalidOperation("At least a recipient, description, or photo is required")
	}

	if err := l.store.CreateIOU(ctx, iou); err != nil {
		return domain.IOUView{}, err
	}

	if iou.IsLinked() {
		msg := fmt.Sprintf("%s added an IOU for you", nameOf(creator))
		if iou.Description != nil {
			msg = fmt.Sprintf("%s says you owe them: %s", nameOf(creator), *iou.Description)
		}
		l.notify(ctx, *iou.ToUserID, iou.ID, domain.NotificationNewIOU, msg)
	}

	return l.linker.EnrichOne(ctx, iou)
}

// Get returns an IOU the caller is a party to. Existence is checked before
// permission.
func (l *Ledger) Get(ctx context.Context, caller domain.User, id string) (domain.IOUView, error) {
	iou, err := l.load(ctx, id)
	if err != nil {
		return domain.IOUView{}, err
	}
	if !CanView(caller, iou) {
		return domain.IOUView{}, domain.Forbidden("You do not have access to this IOU")
	}
	return l.linker.EnrichOne(ctx, iou)
}

// GetByShareToken returns the IOU behind a share link to anyone holding it.
func (l *Ledger) GetByShareToken(ctx context.Context, token string) (domain.IOUView, error) {
	iou, err := l.store.GetIOUByShareToken(ctx, strings.TrimSpace(token))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.IOUView{}, domain.NotFound("IOU not found")
	}
	if err != nil {
		return domain.IOUView{}, err
	}
	return l.linker.EnrichOne(ctx, iou)
}

// MarkRepaid settles a pending IOU and tells the other party.
func (l *Ledger) MarkRepaid(ctx context.Context, actor domain.User, id string) (domain.IOUView, error) {
	iou, err := l.load(ctx, id)
	if err != nil {
		return domain.IOUView{}, err
	}
	if !CanMarkRepaid(actor, iou) {
		return domain.IOUView{}, domain.Forbidden("Not your IOU")
	}
	if iou.IsRepaid() {
		return domain.IOUView{}, domain.InvalidOperation("IOU already repaid")
	}

	ok, err := l.store.MarkIOURepaid(ctx, iou.ID, l.nowFn().UTC())
	if err != nil {
		return domain.IOUView{}, err
	}
	if !ok {
		return domain.IOUView{}, domain.InvalidOperation("IOU already repaid")
	}

	updated, err := l.load(ctx, iou.ID)
	if err != nil {
		return domain.IOUView{}, err
	}
	view, err := l.linker.EnrichOne(ctx, updated)
	if err != nil {
		return domain.IOUView{}, err
	}

	name := nameOf(actor)
	if actor.ID == updated.FromUserID {
		if view.To != nil {
			l.notify(ctx, view.To.ID, updated.ID, domain.NotificationRepaid, name+" marked your IOU as repaid")
		}
	} else {
		l.notify(ctx, updated.FromUserID, updated.ID, domain.NotificationRepaid, name+" repaid you")
	}
	return view, nil
}

// Claim attaches claimer as the recipient of an unlinked IOU. The checks run
// in order: the IOU exists, the claimer is not its creator, and no recipient
// is attached yet. The final write is conditional, so of two racing claims
// exactly one succeeds.
func (l *Ledger) Claim(ctx context.Context, claimer domain.User, id string) (domain.IOUView, error) {
	iou, err := l.load(ctx, id)
	if err != nil {
		return domain.IOUView{}, err
	}
	if iou.FromUserID == claimer.ID {
		return domain.IOUView{}, domain.InvalidOperation("Cannot claim your own IOU")
	}
	if iou.IsLinked() {
		return domain.IOUView{}, domain.Conflict("IOU already claimed")
	}

	ok, err := l.store.ClaimIOU(ctx, iou.ID, claimer.ID)
	if err != nil {
		return domain.IOUView{}, err
	}
	if !ok {
		return domain.IOUView{}, domain.Conflict("IOU already claimed")
	}

	updated, err := l.load(ctx, iou.ID)
	if err != nil {
		return domain.IOUView{}, err
	}
	l.notify(ctx, updated.FromUserID, updated.ID, domain.NotificationClaimed, nameOf(claimer)+" claimed your IOU")
	return l.linker.EnrichOne(ctx, updated)
}

// Archive hides an IOU from user's default list. Archiving twice is a no-op.
func (l *Ledger) Archive(ctx context.Context, user domain.User, id string) error {
	iou, err := l.load(ctx, id)
	if err != nil {
		return err
	}
	if !CanView(user, iou) {
		return domain.Forbidden("You do not have access to this IOU")
	}
	return l.store.ArchiveIOU(ctx, domain.Archive{
		ID:         l.newID(),
		UserID:     user.ID,
		IOUID:      iou.ID,
		ArchivedAt: l.nowFn().UTC(),
	})
}

// Unarchive returns an IOU to user's default list. Unarchiving an IOU that is
// not archived is a no-op.
func (l *Ledger) Unarchive(ctx context.Context, user domain.User, id string) error {
	return l.store.UnarchiveIOU(ctx, user.ID, id)
}

// ListForUser returns the user's non-archived IOUs, newest first. Owing merges
// IOUs linked to the user with unlinked IOUs addressed to their phone; each
// list is paginated after the merge.
func (l *Ledger) ListForUser(ctx context.Context, user domain.User, page Page) (IOUList, error) {
	owed, owing, err := l.partition(ctx, user)
	if err != nil {
		return IOUList{}, err
	}
	archived, err := l.archivedIDs(ctx, user.ID)
	if err != nil {
		return IOUList{}, err
	}
	owed = withoutArchived(owed, archived)
	owing = withoutArchived(owing, archived)

	limit, offset := normalizePage(page)
	owedPage, moreOwed := paginate(owed, limit, offset)
	owingPage, moreOwing := paginate(owing, limit, offset)

	owedViews, err := l.linker.Enrich(ctx, owedPage)
	if err != nil {
		return IOUList{}, err
	}
	owingViews, err := l.linker.Enrich(ctx, owingPage)
	if err != nil {
		return IOUList{}, err
	}
	return IOUList{
		Owed:         owedViews,
		Owing:        owingViews,
		HasMoreOwed:  moreOwed,
		HasMoreOwing: moreOwing,
	}, nil
}

// ListArchived returns the IOUs user archived, most recently archived first.
func (l *Ledger) ListArchived(ctx context.Context, user domain.User) ([]domain.IOUView, error) {
	archives, err := l.store.ListArchives(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	ious := make([]domain.IOU, 0, len(archives))
	for _, a := range archives {
		iou, err := l.store.GetIOU(ctx, a.IOUID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		ious = append(ious, iou)
	}
	return l.linker.Enrich(ctx, ious)
}

// Contacts lists the distinct counterparts of user's IOUs, most recent first.
func (l *Ledger) Contacts(ctx context.Context, user domain.User) ([]Contact, error) {
	owed, owing, err := l.partition(ctx, user)
	if err != nil {
		return nil, err
	}
	owedViews, err := l.linker.Enrich(ctx, owed)
	if err != nil {
		return nil, err
	}
	owingViews, err := l.linker.Enrich(ctx, owing)
	if err != nil {
		return nil, err
	}

	byKey := map[string]*Contact{}
	add := func(key string, c Contact) {
		if key == "" {
			return
		}
		if existing, ok := byKey[key]; ok {
			if c.LastIOUAt.After(existing.LastIOUAt) {
				existing.LastIOUAt = c.LastIOUAt
			}
			return
		}
		byKey[key] = &c
	}

	for _, v := range owedViews {
		switch {
		case v.To != nil:
			add("user:"+v.To.ID, Contact{UserID: &v.To.ID, Phone: &v.To.Phone, Name: v.To.DisplayName, LastIOUAt: v.CreatedAt})
		case v.ToPhone != nil:
			name := *v.ToPhone
			if v.ToName != nil {
				name = *v.ToName
			}
			add("phone:"+*v.ToPhone, Contact{Phone: v.ToPhone, Name: name, LastIOUAt: v.CreatedAt})
		case v.ToName != nil:
			add("name:"+strings.ToLower(*v.ToName), Contact{Name: *v.ToName, LastIOUAt: v.CreatedAt})
		}
	}
	for _, v := range owingViews {
		if v.From != nil {
			add("user:"+v.From.ID, Contact{UserID: &v.From.ID, Phone: &v.From.Phone, Name: v.From.DisplayName, LastIOUAt: v.CreatedAt})
		}
	}

	out := make([]Contact, 0, len(byKey))
	for _, c := range byKey {
		out = append(out, *c)
	}
	sort.Slice(out, func(a, b int) bool {
		if !out[a].LastIOUAt.Equal(out[b].LastIOUAt) {
			return out[a].LastIOUAt.After(out[b].LastIOUAt)
		}
		return out[a].Name < out[b].Name
	})
	return out, nil
}

// Balance counts the user's pending, non-archived IOUs on each side.
func (l *Ledger) Balance(ctx context.Context, user domain.User) (Balance, error) {
	owed, owing, err := l.partition(ctx, user)
	if err != nil {
		return Balance{}, err
	}
	archived, err := l.archivedIDs(ctx, user.ID)
	if err != nil {
		return Balance{}, err
	}
	var b Balance
	for _, iou := range withoutArchived(owed, archived) {
		if !iou.IsRepaid() {
			b.Owed++
		}
	}
	for _, iou := range withoutArchived(owing, archived) {
		if !iou.IsRepaid() {
			b.Owe++
		}
	}
	return b, nil
}

// partition loads every IOU the user created and the deduplicated union of
// IOUs linked to them or addressed to their phone, each newest first.
func (l *Ledger) partition(ctx context.Context, user domain.User) (owed, owing []domain.IOU, err error) {
	owed, err = l.store.ListIOUsFrom(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	linked, err := l.store.ListIOUsTo(ctx, user.ID)
	if err != nil {
		return nil, nil, err
	}
	var byPhone []domain.IOU
	if p := phone.Normalize(user.Phone); p != "" {
		byPhone, err = l.store.ListUnlinkedIOUsByPhone(ctx, p)
		if err != nil {
			return nil, nil, err
		}
	}

	seen := make(map[string]struct{}, len(linked)+len(byPhone))
	owing = make([]domain.IOU, 0, len(linked)+len(byPhone))
	for _, iou := range append(linked, byPhone...) {
		if iou.FromUserID == user.ID {
			continue
		}
		if _, dup := seen[iou.ID]; dup {
			continue
		}
		seen[iou.ID] = struct{}{}
		owing = append(owing, iou)
	}
	sortNewestFirst(owing)
	return owed, owing, nil
}

func (l *Ledger) archivedIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	archives, err := l.store.ListArchives(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{}, len(archives))
	for _, a := range archives {
		ids[a.IOUID] = struct{}{}
	}
	return ids, nil
}

func (l *Ledger) load(ctx context.Context, id string) (domain.IOU, error) {
	iou, err := l.store.GetIOU(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.IOU{}, domain.NotFound("IOU not found")
	}
	return iou, err
}

// notify records a notification; a failure is logged and never undoes the
// ledger change that triggered it.
func (l *Ledger) notify(ctx context.Context, userID, iouID string, typ domain.NotificationType, msg string) {
	if _, err := l.notifier.Notify(ctx, userID, iouID, typ, msg); err != nil {
		l.logger.ErrorContext(ctx, "notification failed",
			"user_id", userID, "iou_id", iouID, "type", string(typ), "error", err)
	}
}

func withoutArchived(ious []domain.IOU, archived map[string]struct{}) []domain.IOU {
	if len(archived) == 0 {
		return ious
	}
	out := make([]domain.IOU, 0, len(ious))
	for _, iou := range ious {
		if _, ok := archived[iou.ID]; !ok {
			out = append(out, iou)
		}
	}
	return out
}

func sortNewestFirst(ious []domain.IOU) {
	sort.SliceStable(ious, func(a, b int) bool {
		return ious[a].CreatedAt.After(ious[b].CreatedAt)
	})
}

func normalizePage(p Page) (limit, offset int) {
	limit = p.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset = p.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func paginate(ious []domain.IOU, limit, offset int) ([]domain.IOU, bool) {
	if offset >= len(ious) {
		return []domain.IOU{}, false
	}
	end := offset + limit
	if end > len(ious) {
		end = len(ious)
	}
	return ious[offset:end], end < len(ious)
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func nameOf(u domain.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return "Someone"
}
