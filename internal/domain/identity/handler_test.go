package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/consult/internal/platform/auth"
	"github.com/ehr/consult/internal/platform/idp"
	"github.com/ehr/consult/internal/platform/webhook"
)

const testSecret = "whsec_dGVzdC13ZWJob29rLXNlY3JldC0wMTIzNDU2Nzg5YWI="

func newTestHandler(t *testing.T) (*Handler, *mockRepo, *fakeProvider) {
	t.Helper()
	rec, repo, prov := newTestReconciler()
	v, err := webhook.NewVerifier(testSecret, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return NewHandler(rec, v, 100), repo, prov
}

func signedRequest(t *testing.T, payload []byte) *http.Request {
	t.Helper()
	h, err := webhook.SignedHeaders(testSecret, "msg_1", time.Now(), payload)
	if err != nil {
		t.Fatalf("SignedHeaders: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/identity", bytes.NewReader(payload))
	req.Header = h
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func statusOf(t *testing.T, err error, rec *httptest.ResponseRecorder) int {
	t.Helper()
	if err == nil {
		return rec.Code
	}
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %T: %v", err, err)
	}
	return he.Code
}

func TestWebhook(t *testing.T) {
	created := []byte(`{"type":"user.created","data":{"id":"user_1","public_metadata":{"role":"patient"}}}`)

	tests := []struct {
		name       string
		req        func(t *testing.T) *http.Request
		patchErr   error
		wantStatus int
		wantCount  int
	}{
		{"valid delivery", func(t *testing.T) *http.Request { return signedRequest(t, created) }, nil, http.StatusOK, 1},
		{"missing signature", func(t *testing.T) *http.Request {
			return httptest.NewRequest(http.MethodPost, "/webhooks/identity", bytes.NewReader(created))
		}, nil, http.StatusBadRequest, 0},
		{"tampered body", func(t *testing.T) *http.Request {
			req := signedRequest(t, created)
			req.Body = httpBody(`{"type":"user.created","data":{"id":"user_2"}}`)
			return req
		}, nil, http.StatusBadRequest, 0},
		{"malformed event", func(t *testing.T) *http.Request { return signedRequest(t, []byte(`{"type":"user.created"}`)) }, nil, http.StatusBadRequest, 0},
		{"unknown event acknowledged", func(t *testing.T) *http.Request {
			return signedRequest(t, []byte(`{"type":"email.created","data":{}}`))
		}, nil, http.StatusOK, 0},
		{"provider down", func(t *testing.T) *http.Request {
			return signedRequest(t, []byte(`{"type":"user.created","data":{"id":"user_3"}}`))
		}, errors.New("down"), http.StatusServiceUnavailable, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, repo, prov := newTestHandler(t)
			prov.patchErr = tt.patchErr
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(tt.req(t), rec)

			if got := statusOf(t, h.Webhook(c), rec); got != tt.wantStatus {
				t.Errorf("status = %d, want %d", got, tt.wantStatus)
			}
			if repo.count() != tt.wantCount {
				t.Errorf("identities = %d, want %d", repo.count(), tt.wantCount)
			}
		})
	}
}

func TestMe(t *testing.T) {
	h, repo, _ := newTestHandler(t)
	_, _ = repo.InsertIfAbsent(context.Background(), &Identity{ProviderID: "user_1", Role: auth.RolePatient, FirstName: "Asha"})
	i, _ := repo.GetByProviderID(context.Background(), "user_1")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req = req.WithContext(auth.WithActor(req.Context(), auth.Actor{ProviderID: "user_1", IdentityID: i.ID, Role: auth.RolePatient}))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Me(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body struct {
		Actor    auth.Actor `json:"actor"`
		Identity Identity   `json:"identity"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Actor.Role != auth.RolePatient || body.Identity.FirstName != "Asha" {
		t.Errorf("unexpected body: %+v", body)
	}
}

func TestMe_NoActor(t *testing.T) {
	h, _, _ := newTestHandler(t)
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/me", nil), rec)
	if got := statusOf(t, h.Me(c), rec); got != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", got)
	}
}

func TestSync(t *testing.T) {
	h, repo, prov := newTestHandler(t)
	prov.users = append(prov.users, patientUser("a"), patientUser("b"))

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/api/v1/admin/sync", nil), rec)
	if err := h.Sync(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res SyncResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Created != 2 || repo.count() != 2 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func httpBody(s string) io.ReadCloser {
	return io.NopCloser(strings.NewReader(s))
}

func patientUser(id string) idp.User {
	return idp.User{ID: id, PublicMetadata: map[string]any{"role": "patient"}}
}
