package service

import (
	"context"
	"time"

	"github.com/vanshika/iou/backend/internal/domain"
)

// Store is the persistence contract shared by every service. Phones passed to
// it are already normalized. Lookups of missing rows return
// domain.ErrNotFound; the boolean results of conditional writes report whether
// the guarded row was changed.
type Store interface {
	UserStore
	IOUStore
	ArchiveStore
	NotificationStore
	Ping(ctx context.Context) error
}

// UserStore persists accounts.
type UserStore interface {
	// CreateUser fails with domain.ErrConflict when the phone is taken.
	CreateUser(ctx context.Context, user domain.User) error
	GetUserByID(ctx context.Context, id string) (domain.User, error)
	GetUserByPhone(ctx context.Context, phone string) (domain.User, error)
	// SetInitialPinHash stores hash only while the user has none.
	SetInitialPinHash(ctx context.Context, userID, hash string) (bool, error)
	UpdatePinHash(ctx context.Context, userID, hash string) error
}

// IOUStore persists IOUs. Lists are ordered by creation time, newest first.
type IOUStore interface {
	CreateIOU(ctx context.Context, iou domain.IOU) error
	GetIOU(ctx context.Context, id string) (domain.IOU, error)
	GetIOUByShareToken(ctx context.Context, token string) (domain.IOU, error)
	ListIOUsFrom(ctx context.Context, userID string) ([]domain.IOU, error)
	ListIOUsTo(ctx context.Context, userID string) ([]domain.IOU, error)
	ListUnlinkedIOUsByPhone(ctx context.Context, phone string) ([]domain.IOU, error)
	// LinkIOUsByPhone attaches userID to unlinked IOUs addressed to phone that
	// userID did not create, returning how many were linked.
	LinkIOUsByPhone(ctx context.Context, phone, userID string) (int64, error)
	// ClaimIOU sets the recipient only while none is attached.
	ClaimIOU(ctx context.Context, iouID, userID string) (bool, error)
	// MarkIOURepaid settles the IOU only while it is pending.
	MarkIOURepaid(ctx context.Context, iouID string, at time.Time) (bool, error)
}

// ArchiveStore persists per-user archive markers.
type ArchiveStore interface {
	// ArchiveIOU is a no-op when the pair is already archived.
	ArchiveIOU(ctx context.Context, archive domain.Archive) error
	UnarchiveIOU(ctx context.Context, userID, iouID string) error
	// ListArchives returns the user's archives, most recent first.
	ListArchives(ctx context.Context, userID string) ([]domain.Archive, error)
}

// NotificationStore persists notifications.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n domain.Notification) error
	// AcknowledgeNotification reports false when id does not belong to userID.
	AcknowledgeNotification(ctx context.Context, id, userID string, at time.Time) (bool, error)
	AcknowledgeAllNotifications(ctx context.Context, userID string, at time.Time) (int64, error)
	// ListUnacknowledgedNotifications returns newest first.
	ListUnacknowledgedNotifications(ctx context.Context, userID string) ([]domain.Notification, error)
}
