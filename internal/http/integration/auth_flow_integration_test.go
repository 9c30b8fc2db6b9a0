package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskhubio/taskhub/internal/config"
	apphttp "github.com/taskhubio/taskhub/internal/http"
)

// These tests exercise the full router against a real postgres instance.
// They are skipped unless TEST_DB_DSN points at a disposable database.

func testCfg() config.Config {
	return config.Config{
		Env:                 "test",
		JWTSecret:           "test-secret-key",
		JWTAccessTTLMinutes: 60,
		AuthRateLimit:       1000,
		AuthRateWindow:      time.Minute,
	}
}

func setupRouter(t *testing.T) (*gin.Engine, *pgxpool.Pool) {
	t.Helper()

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set; skipping integration test")
	}

	gin.SetMode(gin.TestMode)

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("failed to create pgx pool: %v", err)
	}
	t.Cleanup(pool.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	router := apphttp.NewRouter(apphttp.RouterDeps{
		Cfg:  testCfg(),
		Log:  logger,
		Pool: pool,
	})

	return router, pool
}

func resetDB(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()

	_, err := pool.Exec(context.Background(), `
		TRUNCATE jobs, tasks, users
		RESTART IDENTITY CASCADE
	`)
	if err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}

func doJSON(t *testing.T, r *gin.Engine, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()

	var buf io.Reader
	if body != "" {
		buf = bytes.NewBufferString(body)
	}

	req := httptest.NewRequest(method, path, buf)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func registerAndLogin(t *testing.T, r *gin.Engine, email string) string {
	t.Helper()

	w := doJSON(t, r, http.MethodPost, "/auth/register", "", `{"email": "`+email+`", "password": "longenoughpw"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("register got %d body=%s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, http.MethodPost, "/auth/login", "", `{"email": "`+email+`", "password": "longenoughpw"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("login got %d body=%s", w.Code, w.Body.String())
	}

	var resp struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal login response: %v", err)
	}
	if resp.AccessToken == "" {
		t.Fatalf("empty access token")
	}

	return resp.AccessToken
}

func TestRegisterLoginMeFlow(t *testing.T) {
	r, pool := setupRouter(t)
	resetDB(t, pool)

	token := registerAndLogin(t, r, "alice@example.com")

	// duplicate registration conflicts
	w := doJSON(t, r, http.MethodPost, "/auth/register", "", `{"email": "ALICE@example.com", "password": "longenoughpw"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate register got %d, want %d, body=%s", w.Code, http.StatusConflict, w.Body.String())
	}

	// registration must have queued exactly one welcome job
	var jobCount int
	if err := pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM jobs WHERE type = 'user.welcome'`).Scan(&jobCount); err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	if jobCount != 1 {
		t.Fatalf("expected 1 welcome job, got %d", jobCount)
	}

	w = doJSON(t, r, http.MethodGet, "/me", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("/me got %d body=%s", w.Code, w.Body.String())
	}

	var me struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &me); err != nil {
		t.Fatalf("failed to unmarshal /me response: %v", err)
	}
	if me.Email != "alice@example.com" {
		t.Fatalf("/me email = %q", me.Email)
	}

	// no token -> 401 with challenge
	w = doJSON(t, r, http.MethodGet, "/me", "", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated /me got %d", w.Code)
	}
	if got := w.Header().Get("WWW-Authenticate"); got != "Bearer" {
		t.Fatalf("WWW-Authenticate = %q", got)
	}
}

func TestTaskOwnershipFlow(t *testing.T) {
	r, pool := setupRouter(t)
	resetDB(t, pool)

	aliceToken := registerAndLogin(t, r, "alice@example.com")
	bobToken := registerAndLogin(t, r, "bob@example.com")

	// alice creates a task
	w := doJSON(t, r, http.MethodPost, "/tasks", aliceToken, `{"title": "write report"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create task got %d body=%s", w.Code, w.Body.String())
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("failed to unmarshal task: %v", err)
	}

	// alice can read it
	w = doJSON(t, r, http.MethodGet, "/tasks/"+created.ID, aliceToken, "")
	if w.Code != http.StatusOK {
		t.Fatalf("owner get got %d body=%s", w.Code, w.Body.String())
	}

	// bob sees 404, not 403
	w = doJSON(t, r, http.MethodGet, "/tasks/"+created.ID, bobToken, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign get got %d, want %d, body=%s", w.Code, http.StatusNotFound, w.Body.String())
	}

	// bob cannot update or delete it either
	w = doJSON(t, r, http.MethodPut, "/tasks/"+created.ID, bobToken, `{"title": "hijacked"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign update got %d, want %d", w.Code, http.StatusNotFound)
	}

	w = doJSON(t, r, http.MethodDelete, "/tasks/"+created.ID, bobToken, "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign delete got %d, want %d", w.Code, http.StatusNotFound)
	}

	// bob's list is empty, alice's has one
	w = doJSON(t, r, http.MethodGet, "/tasks", bobToken, "")
	if w.Code != http.StatusOK {
		t.Fatalf("bob list got %d body=%s", w.Code, w.Body.String())
	}

	var listResp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("failed to unmarshal list: %v", err)
	}
	if listResp.Count != 0 {
		t.Fatalf("bob sees %d tasks, want 0", listResp.Count)
	}

	w = doJSON(t, r, http.MethodGet, "/tasks", aliceToken, "")
	if err := json.Unmarshal(w.Body.Bytes(), &listResp); err != nil {
		t.Fatalf("failed to unmarshal list: %v", err)
	}
	if listResp.Count != 1 {
		t.Fatalf("alice sees %d tasks, want 1", listResp.Count)
	}
}

func TestDigestIdempotency(t *testing.T) {
	r, pool := setupRouter(t)
	resetDB(t, pool)

	token := registerAndLogin(t, r, "alice@example.com")

	w1 := doJSON(t, r, http.MethodPost, "/tasks/digest", token, "")
	if w1.Code != http.StatusAccepted {
		t.Fatalf("first digest got %d body=%s", w1.Code, w1.Body.String())
	}

	w2 := doJSON(t, r, http.MethodPost, "/tasks/digest", token, "")
	if w2.Code != http.StatusAccepted {
		t.Fatalf("second digest got %d body=%s", w2.Code, w2.Body.String())
	}

	var j1, j2 struct {
		JobID string `json:"jobId"`
	}
	if err := json.Unmarshal(w1.Body.Bytes(), &j1); err != nil {
		t.Fatalf("unmarshal first digest: %v", err)
	}
	if err := json.Unmarshal(w2.Body.Bytes(), &j2); err != nil {
		t.Fatalf("unmarshal second digest: %v", err)
	}

	if j1.JobID != j2.JobID {
		t.Fatalf("repeated digest produced a new job: %q vs %q", j1.JobID, j2.JobID)
	}

	var jobCount int
	if err := pool.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM jobs WHERE type = 'task.digest'`).Scan(&jobCount); err != nil {
		t.Fatalf("count jobs: %v", err)
	}
	if jobCount != 1 {
		t.Fatalf("expected 1 digest job, got %d", jobCount)
	}
}
