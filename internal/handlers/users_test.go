package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/paulinevos/joindin-api/internal/account"
	"github.com/paulinevos/joindin-api/internal/apierr"
	"github.com/paulinevos/joindin-api/internal/storage"
)

type fakeAccountService struct {
	createID  int64
	createErr error
	updateErr error
	deleteErr error
	trustErr  error
	resetErr  error

	lastCreate  account.CreateRequest
	lastUpdate  account.UpdateRequest
	lastTrusted account.TrustedRequest
	lastCaller  account.Caller
	lastTarget  int64
	lastReset   string

	users map[int64]*storage.User
}

func (f *fakeAccountService) Create(_ context.Context, req account.CreateRequest) (int64, error) {
	f.lastCreate = req
	return f.createID, f.createErr
}

func (f *fakeAccountService) Update(_ context.Context, caller account.Caller, targetID int64, req account.UpdateRequest) error {
	f.lastCaller, f.lastTarget, f.lastUpdate = caller, targetID, req
	return f.updateErr
}

func (f *fakeAccountService) Delete(_ context.Context, caller account.Caller, targetID int64) error {
	f.lastCaller, f.lastTarget = caller, targetID
	return f.deleteErr
}

func (f *fakeAccountService) SetTrusted(_ context.Context, caller account.Caller, targetID int64, req account.TrustedRequest) error {
	f.lastCaller, f.lastTarget, f.lastTrusted = caller, targetID, req
	return f.trustErr
}

func (f *fakeAccountService) RequestPasswordReset(_ context.Context, username string) error {
	f.lastReset = username
	return f.resetErr
}

func (f *fakeAccountService) Get(_ context.Context, id int64) (*storage.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, apierr.NotFound("User not found")
	}
	return u, nil
}

func (f *fakeAccountService) GetByUsername(_ context.Context, username string) (*storage.User, error) {
	for _, u := range f.users {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, apierr.NotFound("Username not found")
}

type fakeRedeemer struct {
	verifyErr error
	resetErr  error

	lastToken    string
	lastPassword string
}

func (f *fakeRedeemer) RedeemEmailVerification(_ context.Context, tok string) error {
	f.lastToken = tok
	return f.verifyErr
}

func (f *fakeRedeemer) RedeemPasswordReset(_ context.Context, tok, newPassword string) error {
	f.lastToken, f.lastPassword = tok, newPassword
	return f.resetErr
}

const testBaseURL = "http://api.test"

func userTestRouter(svc *fakeAccountService, redeemer *fakeRedeemer, caller account.Caller) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	authed := func(c *gin.Context) { c.Set(callerKey, caller) }
	NewUserHandler(svc, redeemer, testLogger(), testBaseURL).RegisterRoutes(r, authed)
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterCreatedWithLocation(t *testing.T) {
	svc := &fakeAccountService{createID: 12}
	r := userTestRouter(svc, &fakeRedeemer{}, account.Caller{})

	w := postJSON(t, r, "/v2.1/users", map[string]any{
		"username":         "alice",
		"full_name":        "Alice A",
		"email":            "alice@example.com",
		"password":         "s3cretpass",
		"auto_verify_user": true,
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Location"); got != testBaseURL+"/v2.1/users/12" {
		t.Fatalf("unexpected Location %q", got)
	}
	if w.Body.Len() != 0 {
		t.Fatalf("expected empty body, got %q", w.Body.String())
	}
	if !svc.lastCreate.AutoVerify || svc.lastCreate.Username != "alice" {
		t.Fatalf("request not carried over: %+v", svc.lastCreate)
	}
}

func TestRegisterConflictSurfaces(t *testing.T) {
	svc := &fakeAccountService{createErr: apierr.New(apierr.KindConflict, "That username is already in use. Choose another")}
	r := userTestRouter(svc, &fakeRedeemer{}, account.Caller{})

	w := postJSON(t, r, "/v2.1/users", map[string]any{"username": "alice"})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if resp := decodeError(t, w); resp.Code != "CONFLICT" {
		t.Fatalf("expected CONFLICT, got %s", resp.Code)
	}
}

func TestVerifyConsumesToken(t *testing.T) {
	redeemer := &fakeRedeemer{}
	r := userTestRouter(&fakeAccountService{}, redeemer, account.Caller{})

	w := postJSON(t, r, "/v2.1/users/verifications", map[string]string{"token": "tok1"})

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
	if redeemer.lastToken != "tok1" {
		t.Fatalf("token not passed through, got %q", redeemer.lastToken)
	}
}

func TestVerifyRequiresToken(t *testing.T) {
	r := userTestRouter(&fakeAccountService{}, &fakeRedeemer{}, account.Caller{})

	w := postJSON(t, r, "/v2.1/users/verifications", map[string]string{})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestVerifyBadTokenFails(t *testing.T) {
	redeemer := &fakeRedeemer{verifyErr: apierr.New(apierr.KindValidation, "Verification failed")}
	r := userTestRouter(&fakeAccountService{}, redeemer, account.Caller{})

	w := postJSON(t, r, "/v2.1/users/verifications", map[string]string{"token": "stale"})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestResetPasswordRedeems(t *testing.T) {
	redeemer := &fakeRedeemer{}
	r := userTestRouter(&fakeAccountService{}, redeemer, account.Caller{})

	w := postJSON(t, r, "/v2.1/users/passwords", map[string]string{"token": "tok1", "password": "newpass99"})

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
	if redeemer.lastToken != "tok1" || redeemer.lastPassword != "newpass99" {
		t.Fatalf("payload not carried over")
	}
}

func TestRequestResetAccepted(t *testing.T) {
	svc := &fakeAccountService{}
	r := userTestRouter(svc, &fakeRedeemer{}, account.Caller{})

	w := postJSON(t, r, "/v2.1/emails/reset-password", map[string]string{"username": "alice"})

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if svc.lastReset != "alice" {
		t.Fatalf("username not passed, got %q", svc.lastReset)
	}
}

func TestRequestResetUnknownUser(t *testing.T) {
	svc := &fakeAccountService{resetErr: apierr.NotFound("Can't find that user")}
	r := userTestRouter(svc, &fakeRedeemer{}, account.Caller{})

	w := postJSON(t, r, "/v2.1/emails/reset-password", map[string]string{"username": "ghost"})

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetUserViewOmitsCredential(t *testing.T) {
	svc := &fakeAccountService{users: map[int64]*storage.User{
		5: {ID: 5, Username: "alice", FullName: "Alice A", PasswordHash: "supersecrethash", Verified: true},
	}}
	r := userTestRouter(svc, &fakeRedeemer{}, account.Caller{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v2.1/users/5", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp usersResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Users) != 1 || resp.Users[0].URI != testBaseURL+"/v2.1/users/5" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if strings.Contains(w.Body.String(), "supersecrethash") {
		t.Fatal("credential leaked into user view")
	}
}

func TestGetUserBadID(t *testing.T) {
	r := userTestRouter(&fakeAccountService{}, &fakeRedeemer{}, account.Caller{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v2.1/users/abc", nil))

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestLookupRequiresUsername(t *testing.T) {
	r := userTestRouter(&fakeAccountService{}, &fakeRedeemer{}, account.Caller{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v2.1/users", nil))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestLookupByUsername(t *testing.T) {
	svc := &fakeAccountService{users: map[int64]*storage.User{
		5: {ID: 5, Username: "alice"},
	}}
	r := userTestRouter(svc, &fakeRedeemer{}, account.Caller{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v2.1/users?username=alice", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp usersResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Users) != 1 || resp.Users[0].Username != "alice" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestUpdateCarriesCallerAndFields(t *testing.T) {
	svc := &fakeAccountService{}
	caller := account.Caller{UserID: 5, ClientID: "web"}
	r := userTestRouter(svc, &fakeRedeemer{}, caller)

	w := doJSON(t, r, http.MethodPut, "/v2.1/users/5", map[string]any{
		"full_name": "New Name",
		"biography": "",
	})

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
	if svc.lastCaller != caller || svc.lastTarget != 5 {
		t.Fatalf("caller not carried: %+v target %d", svc.lastCaller, svc.lastTarget)
	}
	if svc.lastUpdate.FullName == nil || *svc.lastUpdate.FullName != "New Name" {
		t.Fatal("full_name not set")
	}
	if svc.lastUpdate.Biography == nil || *svc.lastUpdate.Biography != "" {
		t.Fatal("explicit empty biography must arrive as set")
	}
	if svc.lastUpdate.Username != nil {
		t.Fatal("absent field must stay nil")
	}
}

func TestUpdateForbiddenSurfaces(t *testing.T) {
	svc := &fakeAccountService{updateErr: apierr.Forbidden("You do not have permission to update this user")}
	r := userTestRouter(svc, &fakeRedeemer{}, account.Caller{UserID: 6})

	w := doJSON(t, r, http.MethodPut, "/v2.1/users/5", map[string]any{"full_name": "X"})

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestDeleteUser(t *testing.T) {
	svc := &fakeAccountService{}
	r := userTestRouter(svc, &fakeRedeemer{}, account.Caller{UserID: 1})

	w := doJSON(t, r, http.MethodDelete, "/v2.1/users/5", nil)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if svc.lastTarget != 5 {
		t.Fatalf("expected target 5, got %d", svc.lastTarget)
	}
}

func TestSetTrustedDecode(t *testing.T) {
	cases := []struct {
		name          string
		body          string
		wantTrusted   *bool
		wantMalformed bool
	}{
		{"true", `{"trusted": true}`, boolPtr(true), false},
		{"false", `{"trusted": false}`, boolPtr(false), false},
		{"absent", `{}`, nil, false},
		{"number", `{"trusted": 1}`, nil, true},
		{"string", `{"trusted": "yes"}`, nil, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &fakeAccountService{}
			r := userTestRouter(svc, &fakeRedeemer{}, account.Caller{UserID: 1})

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/v2.1/users/5/trusted", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			r.ServeHTTP(w, req)

			if w.Code != http.StatusNoContent {
				t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
			}
			got := svc.lastTrusted
			if got.Malformed != tc.wantMalformed {
				t.Fatalf("malformed = %v, want %v", got.Malformed, tc.wantMalformed)
			}
			if (got.Trusted == nil) != (tc.wantTrusted == nil) {
				t.Fatalf("trusted presence = %v, want %v", got.Trusted, tc.wantTrusted)
			}
			if got.Trusted != nil && *got.Trusted != *tc.wantTrusted {
				t.Fatalf("trusted = %v, want %v", *got.Trusted, *tc.wantTrusted)
			}
		})
	}
}

func boolPtr(b bool) *bool { return &b }
