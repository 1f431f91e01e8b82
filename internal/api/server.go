package api

import (
	"context"
	"crypto/subtle"
	"iter"
	"log/slog"
	"net/http"
	"strings"

	"rps.hh/internal/logging"
	"rps.hh/internal/match"
	"rps.hh/internal/metrics"
	"rps.hh/internal/store"
)

const maxUserIDLen = 128

// Games is the match surface exposed over HTTP.
type Games interface {
	CreateMatch(ctx context.Context, creatorID string, stake int64) (match.Match, error)
	JoinMatch(ctx context.Context, matchID, opponentID string) (match.Match, error)
	SubmitMove(ctx context.Context, matchID, userID string, mv match.Move) (match.Match, error)
	CancelMatch(ctx context.Context, matchID, userID string) (match.Match, error)
	GetMatch(ctx context.Context, matchID, userID string) (match.Match, error)
	ListMatches(ctx context.Context, userID string) iter.Seq2[match.Match, error]
}

// Users manages ledger accounts.
type Users interface {
	CreateUser(ctx context.Context, id string, balance int64) (store.User, error)
	GetUser(ctx context.Context, id string) (store.User, error)
	Deposit(ctx context.Context, id string, amount int64) (store.User, error)
}

type Config struct {
	// GatewayToken authenticates the identity gateway, which forwards the
	// verified caller in X-User-ID.
	GatewayToken string
	AdminToken   string
	Logger       *slog.Logger
	Metrics      *metrics.Recorder
}

type Server struct {
	games        Games
	users        Users
	gatewayToken string
	adminToken   string
	logger       *slog.Logger
	metrics      *metrics.Recorder
}

func NewServer(games Games, users Users, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{
		games:        games,
		users:        users,
		gatewayToken: cfg.GatewayToken,
		adminToken:   cfg.AdminToken,
		logger:       logger,
		metrics:      cfg.Metrics,
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	player := func(h http.HandlerFunc) http.Handler { return s.gatewayMiddleware(h) }
	admin := func(h http.HandlerFunc) http.Handler { return s.adminMiddleware(h) }

	mux.Handle("POST /v1/matches", player(s.handleCreateMatch))
	mux.Handle("GET /v1/matches", player(s.handleListMatches))
	mux.Handle("GET /v1/matches/{id}", player(s.handleGetMatch))
	mux.Handle("POST /v1/matches/{id}/join", player(s.handleJoinMatch))
	mux.Handle("POST /v1/matches/{id}/moves", player(s.handleSubmitMove))
	mux.Handle("POST /v1/matches/{id}/cancel", player(s.handleCancelMatch))
	mux.Handle("GET /v1/users/me", player(s.handleGetMe))

	mux.Handle("POST /v1/users", admin(s.handleCreateUser))
	mux.Handle("POST /v1/users/{id}/deposits", admin(s.handleDeposit))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", s.metrics.Handler())

	return s.requestMiddleware(mux)
}

func (s *Server) gatewayMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r.Header.Get("Authorization"))
		if !secureCompare(token, s.gatewayToken) {
			writeError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if userID == "" || len(userID) > maxUserIDLen {
			writeError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := withUserID(r.Context(), userID)
		ctx = logging.WithLogger(ctx, logging.FromContext(ctx, s.logger).With(slog.String(logging.FieldUserID, userID)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r.Header.Get("Authorization"))
		if !secureCompare(token, s.adminToken) {
			writeError(w, r, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type userIDKey struct{}

func withUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey{}, id)
}

func userIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func secureCompare(a, b string) bool {
	if a == "" || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
