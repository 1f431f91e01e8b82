package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"rps.hh/internal/api"
	"rps.hh/internal/game"
	"rps.hh/internal/logging"
	"rps.hh/internal/metrics"
	"rps.hh/internal/store"
)

const (
	gatewayToken = "gateway-token"
	adminToken   = "admin-token"
)

type backend interface {
	api.Users
	game.Repository
}

type testEnv struct {
	store  backend
	server *httptest.Server
	client *http.Client
	close  func()
}

type matchResponse struct {
	ID           string `json:"id"`
	CreatorID    string `json:"creator_id"`
	OpponentID   string `json:"opponent_id"`
	Stake        int64  `json:"stake"`
	CreatorMove  string `json:"creator_move"`
	OpponentMove string `json:"opponent_move"`
	Status       string `json:"status"`
	WinnerID     string `json:"winner_id"`
	Version      int64  `json:"version"`
}

type userResponse struct {
	ID      string `json:"id"`
	Balance int64  `json:"balance"`
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id"`
}

func newEnv(t *testing.T, st backend, cleanup func()) *testEnv {
	t.Helper()

	rec := metrics.NewRecorder()
	coord := game.NewCoordinator(st, game.Options{Metrics: rec, Logger: logging.Discard()})
	srv := api.NewServer(coord, st, api.Config{
		GatewayToken: gatewayToken,
		AdminToken:   adminToken,
		Logger:       logging.Discard(),
		Metrics:      rec,
	})
	ts := httptest.NewServer(srv.Routes())

	return &testEnv{
		store:  st,
		server: ts,
		client: &http.Client{Timeout: 3 * time.Second},
		close: func() {
			ts.Close()
			if cleanup != nil {
				cleanup()
			}
		},
	}
}

func setupMemory(t *testing.T) *testEnv {
	t.Helper()
	return newEnv(t, store.NewMemory(), nil)
}

func setupPostgres(t *testing.T) *testEnv {
	t.Helper()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("db connection: %v", err)
	}

	st := store.New(pool)
	if err := st.Migrate(ctx); err != nil {
		pool.Close()
		t.Fatalf("apply schema: %v", err)
	}
	if _, err := pool.Exec(ctx, "TRUNCATE ledger_entries, matches, users RESTART IDENTITY"); err != nil {
		pool.Close()
		t.Fatalf("reset db: %v", err)
	}
	return newEnv(t, st, pool.Close)
}

// forEachBackend runs fn against the in-memory store and, when
// DATABASE_URL is set, against PostgreSQL.
func forEachBackend(t *testing.T, fn func(t *testing.T, env *testEnv)) {
	t.Run("memory", func(t *testing.T) {
		env := setupMemory(t)
		defer env.close()
		fn(t, env)
	})
	t.Run("postgres", func(t *testing.T) {
		env := setupPostgres(t)
		defer env.close()
		fn(t, env)
	})
}

func (e *testEnv) do(t *testing.T, token, userID, method, path, body string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func (e *testEnv) asUser(t *testing.T, userID, method, path, body string) *http.Response {
	t.Helper()
	return e.do(t, gatewayToken, userID, method, path, body)
}

func (e *testEnv) asAdmin(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	return e.do(t, adminToken, "", method, path, body)
}

func seedUser(t *testing.T, env *testEnv, id string, balance int64) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := env.store.CreateUser(ctx, id, balance); err != nil {
		t.Fatalf("seed user: %v", err)
	}
}

func getBalance(t *testing.T, env *testEnv, id string) int64 {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	u, err := env.store.GetUser(ctx, id)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	return u.Balance
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		var e errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		t.Fatalf("expected %d, got %d (error %q)", want, resp.StatusCode, e.Error)
	}
}

func expectError(t *testing.T, resp *http.Response, status int, code string) {
	t.Helper()
	defer resp.Body.Close()

	if resp.StatusCode != status {
		t.Fatalf("expected %d, got %d", status, resp.StatusCode)
	}
	var got errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if got.Error != code {
		t.Fatalf("expected error %q, got %q", code, got.Error)
	}
	if got.RequestID == "" {
		t.Fatal("expected request_id in error response")
	}
}

func decodeMatch(t *testing.T, resp *http.Response, status int) matchResponse {
	t.Helper()
	defer resp.Body.Close()

	expectStatus(t, resp, status)
	var got matchResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return got
}

func createMatch(t *testing.T, env *testEnv, userID string, stake int64) matchResponse {
	t.Helper()
	body := `{"stake":` + strconv.FormatInt(stake, 10) + `}`
	return decodeMatch(t, env.asUser(t, userID, http.MethodPost, "/v1/matches", body), http.StatusCreated)
}
