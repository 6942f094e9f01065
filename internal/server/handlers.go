package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/vanshika/iou/backend/internal/blob"
	"github.com/vanshika/iou/backend/internal/domain"
	"github.com/vanshika/iou/backend/internal/ratelimit"
	"github.com/vanshika/iou/backend/internal/service"
)

const (
	defaultMaxUploadBytes = 10 << 20
	maxJSONBodyBytes      = 1 << 20
	multipartOverhead     = 1 << 20
	sniffLen              = 512
)

// CookieConfig describes the session cookie.
type CookieConfig struct {
	Name   string
	Secure bool
}

// APIDependencies collects the services behind the REST API.
type APIDependencies struct {
	Auth           *service.AuthService
	Ledger         *service.Ledger
	Notifier       *service.Notifier
	Blobs          blob.Store
	APILimit       *ratelimit.Limiter
	Cookie         CookieConfig
	MaxUploadBytes int64
	PublicBaseURL  string
}

// APIHandlers exposes HTTP handlers for the REST API.
type APIHandlers struct {
	logger        *slog.Logger
	auth          *service.AuthService
	ledger        *service.Ledger
	notifier      *service.Notifier
	blobs         blob.Store
	apiLimit      *ratelimit.Limiter
	cookie        CookieConfig
	maxUpload     int64
	publicBaseURL string
}

// NewAPIHandlers constructs an APIHandlers instance.
func NewAPIHandlers(logger *slog.Logger, deps APIDependencies) *APIHandlers {
	if deps.Cookie.Name == "" {
		deps.Cookie.Name = "session"
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = defaultMaxUploadBytes
	}
	return &APIHandlers{
		logger:        logger,
		auth:          deps.Auth,
		ledger:        deps.Ledger,
		notifier:      deps.Notifier,
		blobs:         deps.Blobs,
		apiLimit:      deps.APILimit,
		cookie:        deps.Cookie,
		maxUpload:     deps.MaxUploadBytes,
		publicBaseURL: deps.PublicBaseURL,
	}
}

type userHandler func(w http.ResponseWriter, r *http.Request, user domain.User)

// authed resolves the session cookie and applies the per-user API limit
// before calling next.
func (h *APIHandlers) authed(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok, err := h.currentUser(r)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		if !ok {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if h.apiLimit.Enabled() {
			res := h.apiLimit.Check(user.ID)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAtMillis(), 10))
			if !res.Allowed {
				writeRateLimited(w, res, "Too many requests. Please slow down.")
				return
			}
		}
		next(w, r, user)
	}
}

func (h *APIHandlers) currentUser(r *http.Request) (domain.User, bool, error) {
	c, err := r.Cookie(h.cookie.Name)
	if err != nil || c.Value == "" {
		return domain.User{}, false, nil
	}
	user, err := h.auth.Resolve(r.Context(), c.Value)
	if errors.Is(err, domain.ErrUnauthenticated) {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, err
	}
	return user, true, nil
}

// --- Auth ---

func (h *APIHandlers) handleAuthCheck(w http.ResponseWriter, r *http.Request) {
	var payload phoneRequest
	if !h.decode(w, r, &payload) {
		return
	}
	res, err := h.auth.Check(r.Context(), payload.Phone)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, checkResponse{Action: string(res.Action), NeedsPin: res.NeedsPin})
}

func (h *APIHandlers) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var payload authRequest
	if !h.decode(w, r, &payload) {
		return
	}
	res, err := h.auth.Authenticate(r.Context(), service.AuthRequest{
		Phone:       payload.Phone,
		Pin:         payload.Pin,
		DisplayName: payload.DisplayName,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.setSessionCookie(w, res.Token, h.auth.SessionTTL())
	user := toUserResponse(res.User)
	respondJSON(w, http.StatusOK, authResponse{User: &user, NeedsUpgrade: res.NeedsUpgrade})
}

func (h *APIHandlers) handleUpgradePin(w http.ResponseWriter, r *http.Request, user domain.User) {
	var payload upgradePinRequest
	if !h.decode(w, r, &payload) {
		return
	}
	if err := h.auth.UpgradePin(r.Context(), user, payload.CurrentPin, payload.NewPin); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *APIHandlers) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok, err := h.currentUser(r)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if !ok {
		respondJSON(w, http.StatusOK, authResponse{})
		return
	}
	resp := toUserResponse(user)
	respondJSON(w, http.StatusOK, authResponse{User: &resp})
}

func (h *APIHandlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.setSessionCookie(w, "", -1)
	respondJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *APIHandlers) setSessionCookie(w http.ResponseWriter, token string, ttl time.Duration) {
	c := &http.Cookie{
		Name:     h.cookie.Name,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if ttl < 0 {
		c.MaxAge = -1
	} else {
		c.MaxAge = int(ttl.Seconds())
		c.Expires = time.Now().Add(ttl)
	}
	http.SetCookie(w, c)
}

// --- Uploads ---

func (h *APIHandlers) handleUpload(w http.ResponseWriter, r *http.Request, user domain.User) {
	if h.blobs == nil {
		writeError(w, http.StatusServiceUnavailable, "Uploads are not configured")
		return
	}
	tooLarge := fmt.Sprintf("File too large (max %dMB)", int(math.Ceil(float64(h.maxUpload)/(1<<20))))

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusBadRequest, tooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid upload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	if header.Size > h.maxUpload {
		writeError(w, http.StatusBadRequest, tooLarge)
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, h.maxUpload+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid upload")
		return
	}
	if int64(len(data)) > h.maxUpload {
		writeError(w, http.StatusBadRequest, tooLarge)
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "No file provided")
		return
	}

	declared := header.Header.Get("Content-Type")
	if !blob.IsImage(header.Filename, declared, data[:min(len(data), sniffLen)]) {
		writeError(w, http.StatusBadRequest, "Only images are allowed")
		return
	}

	url, err := h.blobs.Upload(r.Context(), data, header.Filename, blob.ContentType(header.Filename, declared))
	if err != nil {
		h.logger.Error("upload failed", "error", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "Upload failed")
		return
	}
	respondJSON(w, http.StatusOK, uploadResponse{URL: url})
}

// --- Notifications ---

func (h *APIHandlers) handleListNotifications(w http.ResponseWriter, r *http.Request, user domain.User) {
	notes, err := h.notifier.ListUnacknowledged(r.Context(), user.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	resp := notificationsResponse{Notifications: make([]notificationResponse, 0, len(notes))}
	for _, n := range notes {
		resp.Notifications = append(resp.Notifications, toNotificationResponse(n))
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *APIHandlers) handleAcknowledge(w http.ResponseWriter, r *http.Request, user domain.User) {
	var payload acknowledgeRequest
	if !h.decode(w, r, &payload) {
		return
	}
	switch {
	case payload.All:
		n, err := h.notifier.AcknowledgeAll(r.Context(), user.ID)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, successResponse{Success: true, Count: &n})
	case payload.ID != "":
		if err := h.notifier.Acknowledge(r.Context(), payload.ID, user.ID); err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, successResponse{Success: true})
	default:
		writeError(w, http.StatusBadRequest, "Notification id required")
	}
}

// --- Helpers ---

// writeServiceError maps the domain error taxonomy onto HTTP statuses. Errors
// outside it are logged and reported without detail.
func (h *APIHandlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var limited *service.RateLimitedError
	switch {
	case errors.As(err, &limited):
		writeRateLimited(w, limited.Result, limited.Error())
	case errors.Is(err, domain.ErrInvalidOperation):
		writeError(w, http.StatusBadRequest, domain.Reason(err, "Invalid request"))
	case errors.Is(err, domain.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, domain.Reason(err, "Unauthorized"))
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, domain.Reason(err, "Forbidden"))
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, domain.Reason(err, "Not found"))
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, domain.Reason(err, "Conflict"))
	default:
		h.logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *APIHandlers) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := decodeJSON(r, dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeRateLimited(w http.ResponseWriter, res ratelimit.Result, msg string) {
	secs := int(math.Ceil(res.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	respondJSON(w, http.StatusTooManyRequests, rateLimitedResponse{Error: msg, RetryAfter: secs})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

func parseInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	if v, err := strconv.Atoi(value); err == nil {
		return v
	}
	return fallback
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(ts *time.Time) *string {
	if ts == nil || ts.IsZero() {
		return nil
	}
	s := formatTime(*ts)
	return &s
}
