package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/paulinevos/joindin-api/internal/account"
	"github.com/paulinevos/joindin-api/internal/authz"
	"github.com/paulinevos/joindin-api/internal/notify"
	"github.com/paulinevos/joindin-api/internal/rate"
	"github.com/paulinevos/joindin-api/internal/security"
	"github.com/paulinevos/joindin-api/internal/storage"
	"github.com/paulinevos/joindin-api/internal/testutil"
	"github.com/paulinevos/joindin-api/internal/token"
)

func TestAccountFlowIntegration(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION") == "" {
		t.Skip("set RUN_DB_INTEGRATION=1 to run")
	}

	pool, err := testutil.SetupTestDB()
	if err != nil {
		t.Skipf("db connection failed: %v", err)
	}
	defer pool.Close()
	ctx := context.Background()
	defer testutil.CleanupTestData(ctx, pool)

	store := storage.New(pool)
	logger := testLogger()
	gate := authz.New(store)
	issuer := token.NewIssuer(store, logger, time.Hour, 4, testBaseURL)
	verifications := token.NewVerificationManager(store, time.Hour, time.Hour, 4)
	mailer := notify.NewEmailNotifier(notify.SMTPConfig{}, logger)
	svc := account.NewService(store, gate, issuer, verifications, mailer, logger, 4)

	_, err = pool.Exec(ctx, `
		INSERT INTO oauth_clients (id, secret, name, enabled_password_grant)
		VALUES ('itest-client', 'itest-secret', 'Integration test client', true)
	`)
	if err != nil {
		t.Fatalf("seed client: %v", err)
	}

	hash, err := security.HashPassword("alicepass1", 4)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	aliceID, err := store.CreateUser(ctx, storage.NewUser{
		Username:     "alice",
		FullName:     "Alice A",
		Email:        "alice@example.com",
		PasswordHash: hash,
	})
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := store.MarkVerified(ctx, aliceID); err != nil {
		t.Fatalf("verify user: %v", err)
	}

	gin.SetMode(gin.TestMode)
	router := gin.New()
	NewTokenHandler(issuer, rate.NewMemory(100, time.Minute), logger).RegisterRoutes(router)
	NewUserHandler(svc, verifications, logger, testBaseURL).RegisterRoutes(router, RequireToken(store, nil))

	var grant tokenResponse
	t.Run("password grant issues a token", func(t *testing.T) {
		resp := testutil.MakeAPIRequest(router, http.MethodPost, "/v2.1/token", map[string]string{
			"grant_type":    "password",
			"username":      "alice",
			"password":      "alicepass1",
			"client_id":     "itest-client",
			"client_secret": "itest-secret",
		})
		if resp.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
		}
		if err := json.Unmarshal(resp.Body.Bytes(), &grant); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if grant.AccessToken == "" {
			t.Fatal("expected access token")
		}
	})

	t.Run("wrong password is rejected", func(t *testing.T) {
		resp := testutil.MakeAPIRequest(router, http.MethodPost, "/v2.1/token", map[string]string{
			"grant_type":    "password",
			"username":      "alice",
			"password":      "wrongpass1",
			"client_id":     "itest-client",
			"client_secret": "itest-secret",
		})
		if resp.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", resp.Code)
		}
	})

	t.Run("token authorizes a profile update", func(t *testing.T) {
		raw, _ := json.Marshal(map[string]string{"full_name": "Alice Updated"})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPut, fmt.Sprintf("/v2.1/users/%d", aliceID), bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+grant.AccessToken)
		router.ServeHTTP(w, req)

		if w.Code != http.StatusNoContent {
			t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
		}

		updated, err := store.GetUserByID(ctx, aliceID)
		if err != nil {
			t.Fatalf("reload user: %v", err)
		}
		if updated.FullName != "Alice Updated" {
			t.Fatalf("update not persisted, got %q", updated.FullName)
		}
	})
}
