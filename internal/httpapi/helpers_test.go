package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gatehouse.dev/internal/auth"
)

var testSecret = []byte(strings.Repeat("s", 32))

type fakeService struct {
	token string
	view  auth.PrincipalView
	err   error

	calls       int
	gotIdentity string
	gotPassword string
	gotToken    string
	gotReg      auth.Registration
}

func (f *fakeService) Login(_ context.Context, usernameOrEmail, password string) (string, error) {
	f.calls++
	f.gotIdentity, f.gotPassword = usernameOrEmail, password
	return f.token, f.err
}

func (f *fakeService) Register(_ context.Context, in auth.Registration) (auth.PrincipalView, error) {
	f.calls++
	f.gotReg = in
	return f.view, f.err
}

func (f *fakeService) VerifyAccount(_ context.Context, token string) error {
	f.calls++
	f.gotToken = token
	return f.err
}

func (f *fakeService) RequestReset(_ context.Context, usernameOrEmail string) error {
	f.calls++
	f.gotIdentity = usernameOrEmail
	return f.err
}

func (f *fakeService) ConsumeReset(_ context.Context, resetToken, newPassword string) error {
	f.calls++
	f.gotToken, f.gotPassword = resetToken, newPassword
	return f.err
}

func newSigner(t *testing.T, now func() time.Time) *auth.TokenSigner {
	t.Helper()
	signer, err := auth.NewTokenSigner(auth.TokenConfig{Secret: testSecret, TTL: time.Minute, Now: now})
	if err != nil {
		t.Fatalf("NewTokenSigner: %v", err)
	}
	return signer
}

func issue(t *testing.T, signer *auth.TokenSigner, roles, perms []string) string {
	t.Helper()
	token, err := signer.Issue(auth.Claims{
		UserID:         "user-1",
		Name:           "Ada Lovelace",
		Username:       "ada",
		Email:          "ada@example.com",
		OrganizationID: "org-1",
		Roles:          roles,
		Permissions:    perms,
	}, 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return token
}

func newTestAPI(t *testing.T, svc AuthService, cfg Config) *API {
	t.Helper()
	if cfg.RateBurst == 0 {
		cfg.RateBurst, cfg.RatePerSec = 100, 100
	}
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = "http://localhost:8080/"
	}
	return New(svc, newSigner(t, nil), ReadyProbe{}, cfg)
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		if s, ok := body.(string); ok {
			payload = []byte(s)
		} else if payload, err = json.Marshal(body); err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "10.0.0.1:1234"
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return body
}
