package server

import "github.com/vanshika/iou/backend/internal/domain"

// --- Requests ---

type phoneRequest struct {
	Phone string `json:"phone"`
}

type authRequest struct {
	Phone       string `json:"phone"`
	Pin         string `json:"pin"`
	DisplayName string `json:"displayName"`
}

type upgradePinRequest struct {
	CurrentPin string `json:"currentPin"`
	NewPin     string `json:"newPin"`
}

type createIOURequest struct {
	ToUserID    *string `json:"toUserId"`
	ToPhone     *string `json:"toPhone"`
	ToName      *string `json:"toName"`
	Description *string `json:"description"`
	PhotoURL    *string `json:"photoUrl"`
}

type updateIOURequest struct {
	Action string `json:"action"`
}

type acknowledgeRequest struct {
	ID  string `json:"id"`
	All bool   `json:"all"`
}

// --- Responses ---

type errorResponse struct {
	Error string `json:"error"`
}

type rateLimitedResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Count   *int64 `json:"count,omitempty"`
}

type checkResponse struct {
	Action   string `json:"action"`
	NeedsPin bool   `json:"needsPin"`
}

type userResponse struct {
	ID          string `json:"id"`
	Phone       string `json:"phone"`
	DisplayName string `json:"displayName"`
	CreatedAt   string `json:"createdAt"`
}

type authResponse struct {
	User         *userResponse `json:"user"`
	NeedsUpgrade bool          `json:"needsUpgrade,omitempty"`
}

type iouResponse struct {
	ID          string        `json:"id"`
	FromUserID  string        `json:"fromUserId"`
	ToUserID    *string       `json:"toUserId"`
	ToPhone     *string       `json:"toPhone"`
	ToName      *string       `json:"toName"`
	Description *string       `json:"description"`
	PhotoURL    *string       `json:"photoUrl"`
	Status      string        `json:"status"`
	ShareToken  string        `json:"shareToken"`
	ShareURL    string        `json:"shareUrl"`
	CreatedAt   string        `json:"createdAt"`
	RepaidAt    *string       `json:"repaidAt"`
	From        *userResponse `json:"fromUser"`
	To          *userResponse `json:"toUser"`
}

type iouEnvelope struct {
	IOU iouResponse `json:"iou"`
}

type iouListEnvelope struct {
	IOUs []iouResponse `json:"ious"`
}

type listIOUsResponse struct {
	Owed         []iouResponse `json:"owed"`
	Owing        []iouResponse `json:"owing"`
	HasMoreOwed  bool          `json:"hasMoreOwed"`
	HasMoreOwing bool          `json:"hasMoreOwing"`
}

type uploadResponse struct {
	URL string `json:"url"`
}

type notificationResponse struct {
	ID        string `json:"id"`
	IOUID     string `json:"iouId"`
	Type      string `json:"type"`
	Message   string `json:"message"`
	CreatedAt string `json:"createdAt"`
}

type notificationsResponse struct {
	Notifications []notificationResponse `json:"notifications"`
}

type contactResponse struct {
	UserID    *string `json:"userId"`
	Phone     *string `json:"phone"`
	Name      string  `json:"name"`
	LastIOUAt string  `json:"lastIouAt"`
}

type contactsResponse struct {
	Contacts []contactResponse `json:"contacts"`
}

type balanceResponse struct {
	Owe  int `json:"owe"`
	Owed int `json:"owed"`
}

func toUserResponse(u domain.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Phone:       u.Phone,
		DisplayName: u.DisplayName,
		CreatedAt:   formatTime(u.CreatedAt),
	}
}

func toNotificationResponse(n domain.Notification) notificationResponse {
	return notificationResponse{
		ID:        n.ID,
		IOUID:     n.IOUID,
		Type:      string(n.Type),
		Message:   n.Message,
		CreatedAt: formatTime(n.CreatedAt),
	}
}
