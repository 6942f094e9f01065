package domain

import "time"

// IOUStatus enumerates the settlement state of an IOU.
type IOUStatus string

const (
	StatusPending IOUStatus = "pending"
	StatusRepaid  IOUStatus = "repaid"
)

// IOU records a favor owed by FromUserID to a recipient that may only be
// known by phone or name until it is linked or claimed.
type IOU struct {
	ID          string
	FromUserID  string
	ToUserID    *string
	ToPhone     *string
	ToName      *string
	Description *string
	PhotoURL    *string
	Status      IOUStatus
	ShareToken  string
	CreatedAt   time.Time
	RepaidAt    *time.Time
}

// IsLinked reports whether a recipient user is attached.
func (i IOU) IsLinked() bool {
	return i.ToUserID != nil && *i.ToUserID != ""
}

// IsRepaid reports whether the IOU has been settled.
func (i IOU) IsRepaid() bool {
	return i.Status == StatusRepaid
}

// IOUView is an IOU with its parties resolved for display. To is nil when the
// recipient is only known by name or an unregistered phone.
type IOUView struct {
	IOU
	From *User
	To   *User
}

// Archive hides an IOU from one user's default list.
type Archive struct {
	ID         string
	UserID     string
	IOUID      string
	ArchivedAt time.Time
}
