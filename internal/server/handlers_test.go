package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/vanshika/iou/backend/internal/blob"
	"github.com/vanshika/iou/backend/internal/ratelimit"
	"github.com/vanshika/iou/backend/internal/repository"
	"github.com/vanshika/iou/backend/internal/service"
	"github.com/vanshika/iou/backend/internal/session"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

type testAPI struct {
	handler http.Handler
	store   *repository.MemoryStore
}

func noLimits() ratelimit.Set {
	return ratelimit.NewSet(ratelimit.Policy{}, ratelimit.Policy{}, ratelimit.Policy{})
}

func newTestAPI(t *testing.T, limits ratelimit.Set, maxUpload int64) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repository.NewMemoryStore()

	sessions, err := session.NewIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	blobs, err := blob.NewFSStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("new blob store: %v", err)
	}

	creds := service.NewCredentials(store, bcrypt.MinCost)
	linker := service.NewLinker(store, store, logger)
	notifier := service.NewNotifier(store)
	ledger := service.NewLedger(store, linker, notifier, logger)
	auth := service.NewAuthService(creds, store, linker, sessions, limits, logger)

	api := NewAPIHandlers(logger, APIDependencies{
		Auth:           auth,
		Ledger:         ledger,
		Notifier:       notifier,
		Blobs:          blobs,
		APILimit:       limits.API,
		Cookie:         CookieConfig{Name: "session"},
		MaxUploadBytes: maxUpload,
		PublicBaseURL:  "https://iou.example.com/",
	})
	handler := NewRouter(logger, RouterDependencies{
		Health:           StoreHealthService{Store: store},
		API:              api,
		Uploads:          blobs.Handler(),
		AllowedOrigins:   []string{"https://app.example.com"},
		AllowCredentials: true,
	})
	return &testAPI{handler: handler, store: store}
}

func (a *testAPI) do(t *testing.T, method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) login(t *testing.T, phone, pin, name string) *http.Cookie {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/auth", map[string]string{"phone": phone, "pin": pin, "displayName": name}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d: %s", phone, rec.Code, rec.Body.String())
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == "session" && c.Value != "" {
			return c
		}
	}
	t.Fatalf("login %s: no session cookie", phone)
	return nil
}

func (a *testAPI) createIOU(t *testing.T, cookie *http.Cookie, body map[string]string) iouResponse {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/ious", body, cookie)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create iou: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	return decodeBody[iouEnvelope](t, rec).IOU
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, msg string) {
	t.Helper()
	expectStatus(t, rec, status)
	if got := decodeBody[errorResponse](t, rec).Error; got != msg {
		t.Fatalf("expected error %q, got %q", msg, got)
	}
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthz(t *testing.T) {
	api := newTestAPI(t, noLimits(), 0)
	rec := api.do(t, http.MethodGet, "/healthz", nil, nil)
	expectStatus(t, rec, http.StatusOK)

	degraded := NewRouter(slog.New(slog.NewTextHandler(io.Discard, nil)), RouterDependencies{
		Health: StoreHealthService{Store: failingPinger{}},
	})
	rec = httptest.NewRecorder()
	degraded.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	expectStatus(t, rec, http.StatusServiceUnavailable)
	if payload := decodeBody[map[string]any](t, rec); payload["status"] != "degraded" {
		t.Fatalf("expected degraded status, got %v", payload)
	}
}

func TestAuthCheckAndSessionLifecycle(t *testing.T) {
	api := newTestAPI(t, noLimits(), 0)

	rec := api.do(t, http.MethodPost, "/api/auth/check", map[string]string{"phone": "555-111-1111"}, nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decodeBody[checkResponse](t, rec); got.Action != "signup" || got.NeedsPin {
		t.Fatalf("unexpected check result %+v", got)
	}

	rec = api.do(t, http.MethodPost, "/api/auth", map[string]string{"phone": "5551111111", "pin": "111111", "displayName": "Alice"}, nil)
	expectStatus(t, rec, http.StatusOK)
	if strings.Contains(rec.Body.String(), "pin") {
		t.Fatalf("auth response leaks pin material: %s", rec.Body.String())
	}
	var cookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "session" {
			cookie = c
		}
	}
	if cookie == nil || !cookie.HttpOnly || cookie.MaxAge != int(time.Hour.Seconds()) {
		t.Fatalf("unexpected session cookie %+v", cookie)
	}

	rec = api.do(t, http.MethodGet, "/api/auth/me", nil, cookie)
	expectStatus(t, rec, http.StatusOK)
	me := decodeBody[authResponse](t, rec)
	if me.User == nil || me.User.Phone != "5551111111" || me.User.DisplayName != "Alice" {
		t.Fatalf("unexpected me payload %+v", me)
	}

	rec = api.do(t, http.MethodGet, "/api/auth/me", nil, &http.Cookie{Name: "session", Value: "forged.token"})
	expectStatus(t, rec, http.StatusOK)
	if decodeBody[authResponse](t, rec).User != nil {
		t.Fatalf("forged token resolved to a user")
	}

	rec = api.do(t, http.MethodPost, "/api/auth/logout", nil, cookie)
	expectStatus(t, rec, http.StatusOK)
	cleared := rec.Result().Cookies()
	if len(cleared) != 1 || cleared[0].MaxAge >= 0 {
		t.Fatalf("expected cleared cookie, got %+v", cleared)
	}
}

func TestAuthenticateInvalidCredentials(t *testing.T) {
	api := newTestAPI(t, noLimits(), 0)
	api.login(t, "5551111111", "111111", "Alice")

	rec := api.do(t, http.MethodPost, "/api/auth", map[string]string{"phone": "5551111111", "pin": "999999"}, nil)
	expectError(t, rec, http.StatusUnauthorized, "Invalid phone or PIN")

	rec = api.do(t, http.MethodPost, "/api/auth", map[string]string{"phone": "5552222222", "pin": "12"}, nil)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = api.do(t, http.MethodPost, "/api/auth", map[string]any{"phone": "5551111111", "pin": "111111", "extra": true}, nil)
	expectError(t, rec, http.StatusBadRequest, "Invalid request body")
}

func TestAuthRateLimit(t *testing.T) {
	limits := ratelimit.NewSet(
		ratelimit.Policy{Limit: 10, Window: 15 * time.Minute},
		ratelimit.Policy{Limit: 1, Window: 15 * time.Minute},
		ratelimit.Policy{},
	)
	api := newTestAPI(t, limits, 0)
	api.login(t, "5551111111", "111111", "Alice")

	rec := api.do(t, http.MethodPost, "/api/auth", map[string]string{"phone": "5551111111", "pin": "111111"}, nil)
	expectStatus(t, rec, http.StatusTooManyRequests)
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	if got := decodeBody[rateLimitedResponse](t, rec); !strings.HasPrefix(got.Error, "Too many attempts") || got.RetryAfter < 1 {
		t.Fatalf("unexpected rate limit payload %+v", got)
	}
}

func TestAPIRateLimit(t *testing.T) {
	limits := ratelimit.NewSet(ratelimit.Policy{}, ratelimit.Policy{}, ratelimit.Policy{Limit: 2, Window: time.Minute})
	api := newTestAPI(t, limits, 0)
	cookie := api.login(t, "5551111111", "111111", "Alice")

	for i := 0; i < 2; i++ {
		expectStatus(t, api.do(t, http.MethodGet, "/api/balance", nil, cookie), http.StatusOK)
	}
	rec := api.do(t, http.MethodGet, "/api/balance", nil, cookie)
	expectStatus(t, rec, http.StatusTooManyRequests)
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("expected remaining 0, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	api := newTestAPI(t, noLimits(), 0)
	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/ious"},
		{http.MethodPost, "/api/ious"},
		{http.MethodGet, "/api/ious/abc"},
		{http.MethodPatch, "/api/ious/abc"},
		{http.MethodPost, "/api/ious/abc/claim"},
		{http.MethodDelete, "/api/ious/abc/archive"},
		{http.MethodGet, "/api/notifications"},
		{http.MethodPost, "/api/upload"},
		{http.MethodGet, "/api/contacts"},
	} {
		rec := api.do(t, route.method, route.path, nil, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", route.method, route.path, rec.Code)
		}
	}
}

func TestIOULifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t, noLimits(), 0)
	alice := api.login(t, "5551111111", "111111", "Alice")

	created := api.createIOU(t, alice, map[string]string{"toPhone": "(555) 222-2222", "description": "lunch"})
	if created.ToUserID != nil || created.Status != "pending" {
		t.Fatalf("unexpected created iou %+v", created)
	}
	if created.ShareURL != "https://iou.example.com/share/"+created.ShareToken {
		t.Fatalf("unexpected share url %q", created.ShareURL)
	}

	bob := api.login(t, "5552222222", "222222", "Bob")
	rec := api.do(t, http.MethodGet, "/api/ious", nil, bob)
	expectStatus(t, rec, http.StatusOK)
	list := decodeBody[listIOUsResponse](t, rec)
	if len(list.Owing) != 1 || list.Owing[0].ID != created.ID || list.Owing[0].To == nil || list.Owing[0].To.DisplayName != "Bob" {
		t.Fatalf("unexpected owing list %+v", list.Owing)
	}

	rec = api.do(t, http.MethodPatch, "/api/ious/"+created.ID, map[string]string{"action": "forgive"}, bob)
	expectError(t, rec, http.StatusBadRequest, "Invalid action")

	rec = api.do(t, http.MethodPatch, "/api/ious/"+created.ID, map[string]string{"action": "repaid"}, bob)
	expectStatus(t, rec, http.StatusOK)
	if got := decodeBody[iouEnvelope](t, rec).IOU; got.Status != "repaid" || got.RepaidAt == nil {
		t.Fatalf("expected repaid iou, got %+v", got)
	}

	rec = api.do(t, http.MethodPatch, "/api/ious/"+created.ID, map[string]string{"action": "repaid"}, alice)
	expectError(t, rec, http.StatusBadRequest, "IOU already repaid")

	rec = api.do(t, http.MethodGet, "/api/notifications", nil, alice)
	expectStatus(t, rec, http.StatusOK)
	notes := decodeBody[notificationsResponse](t, rec).Notifications
	if len(notes) != 1 || notes[0].Type != "repaid" || notes[0].Message != "Bob repaid you" {
		t.Fatalf("unexpected notifications %+v", notes)
	}

	rec = api.do(t, http.MethodPost, "/api/notifications/acknowledge", map[string]string{"id": notes[0].ID}, bob)
	expectError(t, rec, http.StatusNotFound, "Notification not found")

	rec = api.do(t, http.MethodPost, "/api/notifications/acknowledge", map[string]bool{"all": true}, alice)
	expectStatus(t, rec, http.StatusOK)
	if got := decodeBody[successResponse](t, rec); got.Count == nil || *got.Count != 1 {
		t.Fatalf("expected one acknowledged notification, got %+v", got)
	}
}

func TestGetIOUNotFoundBeforeForbidden(t *testing.T) {
	api := newTestAPI(t, noLimits(), 0)
	alice := api.login(t, "5551111111", "111111", "Alice")
	carol := api.login(t, "5553333333", "333333", "Carol")
	created := api.createIOU(t, alice, map[string]string{"toPhone": "5552222222", "description": "lunch"})

	expectError(t, api.do(t, http.MethodGet, "/api/ious/missing", nil, carol), http.StatusNotFound, "IOU not found")
	expectStatus(t, api.do(t, http.MethodGet, "/api/ious/"+created.ID, nil, carol), http.StatusForbidden)
	expectStatus(t, api.do(t, http.MethodGet, "/api/ious/"+created.ID, nil, alice), http.StatusOK)

	// the share link is public
	rec := api.do(t, http.MethodGet, "/api/ious/share/"+created.ShareToken, nil, nil)
	expectStatus(t, rec, http.StatusOK)
	if got := decodeBody[iouEnvelope](t, rec).IOU; got.ID != created.ID || got.From == nil || got.From.DisplayName != "Alice" {
		t.Fatalf("unexpected shared iou %+v", got)
	}
}

func TestCreateIOUValidation(t *testing.T) {
	api := newTestAPI(t, noLimits(), 0)
	alice := api.login(t, "5551111111", "111111", "Alice")

	rec := api.do(t, http.MethodPost, "/api/ious", map[string]string{"description": "  "}, alice)
	expectError(t, rec, http.StatusBadRequest, "At least a recipient, description, or photo is required")
}

func TestClaimConflict(t *testing.T) {
	api := newTestAPI(t, noLimits(), 0)
	alice := api.login(t, "5551111111", "111111", "Alice")
	bob := api.login(t, "5552222222", "222222", "Bob")
	carol := api.login(t, "5553333333", "333333", "Carol")
	created := api.createIOU(t, alice, map[string]string{"toName": "Sam", "description": "ride"})

	expectError(t, api.do(t, http.MethodPost, "/api/ious/"+created.ID+"/claim", nil, alice), http.StatusBadRequest, "Cannot claim your own IOU")
	expectStatus(t, api.do(t, http.MethodPost, "/api/ious/"+created.ID+"/claim", nil, bob), http.StatusOK)
	expectError(t, api.do(t, http.MethodPost, "/api/ious/"+created.ID+"/claim", nil, carol), http.StatusConflict, "IOU already claimed")
}

func TestArchiveEndpoints(t *testing.T) {
	api := newTestAPI(t, noLimits(), 0)
	alice := api.login(t, "5551111111", "111111", "Alice")
	created := api.createIOU(t, alice, map[string]string{"toName": "Sam"})

	expectStatus(t, api.do(t, http.MethodPost, "/api/ious/"+created.ID+"/archive", nil, alice), http.StatusOK)
	expectStatus(t, api.do(t, http.MethodPost, "/api/ious/"+created.ID+"/archive", nil, alice), http.StatusOK)

	rec := api.do(t, http.MethodGet, "/api/ious/archived", nil, alice)
	expectStatus(t, rec, http.StatusOK)
	if got := decodeBody[iouListEnvelope](t, rec).IOUs; len(got) != 1 || got[0].ID != created.ID {
		t.Fatalf("unexpected archived list %+v", got)
	}
	rec = api.do(t, http.MethodGet, "/api/ious", nil, alice)
	if got := decodeBody[listIOUsResponse](t, rec); len(got.Owed) != 0 {
		t.Fatalf("archived iou still listed: %+v", got.Owed)
	}

	expectStatus(t, api.do(t, http.MethodDelete, "/api/ious/"+created.ID+"/archive", nil, alice), http.StatusOK)
	rec = api.do(t, http.MethodGet, "/api/ious", nil, alice)
	if got := decodeBody[listIOUsResponse](t, rec); len(got.Owed) != 1 {
		t.Fatalf("unarchived iou missing: %+v", got.Owed)
	}
}

func TestContactsAndBalance(t *testing.T) {
	api := newTestAPI(t, noLimits(), 0)
	alice := api.login(t, "5551111111", "111111", "Alice")
	api.createIOU(t, alice, map[string]string{"toName": "Sam", "description": "ride"})

	rec := api.do(t, http.MethodGet, "/api/balance", nil, alice)
	expectStatus(t, rec, http.StatusOK)
	if got := decodeBody[balanceResponse](t, rec); got.Owed != 1 || got.Owe != 0 {
		t.Fatalf("unexpected balance %+v", got)
	}

	rec = api.do(t, http.MethodGet, "/api/contacts", nil, alice)
	expectStatus(t, rec, http.StatusOK)
	if got := decodeBody[contactsResponse](t, rec).Contacts; len(got) != 1 || got[0].Name != "Sam" || got[0].UserID != nil {
		t.Fatalf("unexpected contacts %+v", got)
	}
}

func multipartUpload(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func (a *testAPI) upload(t *testing.T, cookie *http.Cookie, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartUpload(t, filename, content)
	req := httptest.NewRequest(http.MethodPost, "/api/upload", body)
	req.Header.Set("Content-Type", contentType)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func TestUploadStoresImagesAndServesThem(t *testing.T) {
	api := newTestAPI(t, noLimits(), 0)
	alice := api.login(t, "5551111111", "111111", "Alice")

	rec := api.upload(t, alice, "receipt.png", pngHeader)
	expectStatus(t, rec, http.StatusOK)
	url := decodeBody[uploadResponse](t, rec).URL
	if !strings.HasPrefix(url, "/uploads/") || !strings.HasSuffix(url, ".png") {
		t.Fatalf("unexpected upload url %q", url)
	}

	served := api.do(t, http.MethodGet, url, nil, nil)
	expectStatus(t, served, http.StatusOK)
	if !bytes.Equal(served.Body.Bytes(), pngHeader) {
		t.Fatalf("served object differs from upload")
	}
}

func TestUploadRejectsNonImages(t *testing.T) {
	api := newTestAPI(t, noLimits(), 0)
	alice := api.login(t, "5551111111", "111111", "Alice")

	rec := api.upload(t, alice, "notes.txt", []byte("just some text, not a picture"))
	expectError(t, rec, http.StatusBadRequest, "Only images are allowed")
}

func TestUploadRejectsLargeFiles(t *testing.T) {
	api := newTestAPI(t, noLimits(), 16)
	alice := api.login(t, "5551111111", "111111", "Alice")

	rec := api.upload(t, alice, "big.png", bytes.Repeat([]byte{0x89}, 64))
	expectStatus(t, rec, http.StatusBadRequest)
	if got := decodeBody[errorResponse](t, rec).Error; !strings.HasPrefix(got, "File too large") {
		t.Fatalf("unexpected error %q", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	api := newTestAPI(t, noLimits(), 0)

	req := httptest.NewRequest(http.MethodOptions, "/api/ious", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusNoContent)
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatalf("expected credentialed CORS response")
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/ious", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusForbidden)
}

func TestSplitOrigins(t *testing.T) {
	got := SplitOrigins(" https://a.example.com, ,https://b.example.com ")
	if len(got) != 2 || got[0] != "https://a.example.com" || got[1] != "https://b.example.com" {
		t.Fatalf("unexpected origins %v", got)
	}
	if SplitOrigins("") != nil {
		t.Fatalf("expected nil for empty list")
	}
}

func TestRequestIDHeader(t *testing.T) {
	api := newTestAPI(t, noLimits(), 0)

	rec := api.do(t, http.MethodGet, "/healthz", nil, nil)
	if rec.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected a generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "trace-123")
	rec = httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get(requestIDHeader); got != "trace-123" {
		t.Fatalf("expected propagated request id, got %q", got)
	}
}
