package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/vanshika/iou/backend/internal/domain"
	"github.com/vanshika/iou/backend/internal/phone"
)

// Linker attaches registered users to IOUs that were addressed to their phone
// and resolves the parties of IOUs for display.
type Linker struct {
	users  UserStore
	ious   IOUStore
	logger *slog.Logger
}

// NewLinker constructs a Linker.
func NewLinker(users UserStore, ious IOUStore, logger *slog.Logger) *Linker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Linker{users: users, ious: ious, logger: logger}
}

// LinkByPhone sets the recipient of every unlinked IOU addressed to raw to
// userID. Linked IOUs and IOUs created by userID are left alone, so repeated
// calls are harmless.
func (l *Linker) LinkByPhone(ctx context.Context, raw, userID string) (int64, error) {
	p := phone.Normalize(raw)
	if p == "" || userID == "" {
		return 0, nil
	}
	n, err := l.ious.LinkIOUsByPhone(ctx, p, userID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		l.logger.InfoContext(ctx, "linked ious by phone", "user_id", userID, "count", n)
	}
	return n, nil
}

// Enrich resolves the creator and recipient of each IOU. An unlinked IOU whose
// phone belongs to a registered user gets that user as To for display only;
// nothing is written back.
func (l *Linker) Enrich(ctx context.Context, ious []domain.IOU) ([]domain.IOUView, error) {
	r := resolver{linker: l, byID: map[string]*domain.User{}, byPhone: map[string]*domain.User{}}
	out := make([]domain.IOUView, 0, len(ious))
	for _, iou := range ious {
		view, err := r.view(ctx, iou)
		if err != nil {
			return nil, err
		}
		out = append(out, view)
	}
	return out, nil
}

// EnrichOne is Enrich for a single IOU.
func (l *Linker) EnrichOne(ctx context.Context, iou domain.IOU) (domain.IOUView, error) {
	views, err := l.Enrich(ctx, []domain.IOU{iou})
	if err != nil {
		return domain.IOUView{}, err
	}
	return views[0], nil
}

type resolver struct {
	linker  *Linker
	byID    map[string]*domain.User
	byPhone map[string]*domain.User
}

func (r resolver) view(ctx context.Context, iou domain.IOU) (domain.IOUView, error) {
	view := domain.IOUView{IOU: iou}

	from, err := r.userByID(ctx, iou.FromUserID)
	if err != nil {
		return domain.IOUView{}, err
	}
	view.From = from

	switch {
	case iou.IsLinked():
		view.To, err = r.userByID(ctx, *iou.ToUserID)
	case iou.ToPhone != nil:
		view.To, err = r.userByPhone(ctx, *iou.ToPhone)
	}
	if err != nil {
		return domain.IOUView{}, err
	}
	return view, nil
}

func (r resolver) userByID(ctx context.Context, id string) (*domain.User, error) {
	if u, ok := r.byID[id]; ok {
		return u, nil
	}
	u, err := r.linker.users.GetUserByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		r.byID[id] = nil
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.PinHash = nil
	r.byID[id] = &u
	return &u, nil
}

func (r resolver) userByPhone(ctx context.Context, raw string) (*domain.User, error) {
	p := phone.Normalize(raw)
	if p == "" {
		return nil, nil
	}
	if u, ok := r.byPhone[p]; ok {
		return u, nil
	}
	u, err := r.linker.users.GetUserByPhone(ctx, p)
	if errors.Is(err, domain.ErrNotFound) {
		r.byPhone[p] = nil
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.PinHash = nil
	r.byPhone[p] = &u
	return &u, nil
}
