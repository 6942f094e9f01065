package service

import (
	"github.com/vanshika/iou/backend/internal/domain"
	"github.com/vanshika/iou/backend/internal/phone"
)

// CanView reports whether user is the creator, the linked recipient, or the
// owner of the phone an unlinked IOU is addressed to.
func CanView(user domain.User, iou domain.IOU) bool {
	if user.ID == "" {
		return false
	}
	if user.ID == iou.FromUserID {
		return true
	}
	if iou.IsLinked() {
		return *iou.ToUserID == user.ID
	}
	return iou.ToPhone != nil && phone.Equal(user.Phone, *iou.ToPhone)
}

// CanMarkRepaid applies the same rule as CanView: either party may settle.
func CanMarkRepaid(user domain.User, iou domain.IOU) bool {
	return CanView(user, iou)
}
