package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rps.hh/internal/logging"
	"rps.hh/internal/match"
	"rps.hh/internal/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

type createMatchRequest struct {
	Stake int64 `json:"stake"`
}

type submitMoveRequest struct {
	Move string `json:"move"`
}

type createUserRequest struct {
	ID      string `json:"id"`
	Balance int64  `json:"balance"`
}

type depositRequest struct {
	Amount int64 `json:"amount"`
}

type matchResponse struct {
	ID           string    `json:"id"`
	CreatorID    string    `json:"creator_id"`
	OpponentID   string    `json:"opponent_id,omitempty"`
	Stake        int64     `json:"stake"`
	CreatorMove  string    `json:"creator_move,omitempty"`
	OpponentMove string    `json:"opponent_move,omitempty"`
	Status       string    `json:"status"`
	WinnerID     string    `json:"winner_id,omitempty"`
	Version      int64     `json:"version"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type matchListResponse struct {
	Matches []matchResponse `json:"matches"`
}

type userResponse struct {
	ID        string    `json:"id"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	var req createMatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.logEvent(r.Context(), "match_create_failed", slog.String(logging.FieldReason, "invalid_request"))
		writeError(w, r, http.StatusBadRequest, "invalid_request")
		return
	}

	m, err := s.games.CreateMatch(r.Context(), userID, req.Stake)
	if err != nil {
		s.fail(w, r, "match_create_failed", err, slog.Int64(logging.FieldStake, req.Stake))
		return
	}

	s.logEvent(r.Context(), "match_created",
		slog.String(logging.FieldMatchID, m.ID),
		slog.Int64(logging.FieldStake, m.Stake),
	)
	writeJSON(w, http.StatusCreated, toMatchResponse(m, userID))
}

func (s *Server) handleListMatches(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	limit := defaultListLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			writeError(w, r, http.StatusBadRequest, "invalid_request")
			return
		}
		limit = n
	}

	resp := matchListResponse{Matches: []matchResponse{}}
	for m, err := range s.games.ListMatches(r.Context(), userID) {
		if err != nil {
			s.fail(w, r, "match_list_failed", err)
			return
		}
		resp.Matches = append(resp.Matches, toMatchResponse(m, userID))
		if len(resp.Matches) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	matchID := r.PathValue("id")

	m, err := s.games.GetMatch(r.Context(), matchID, userID)
	if err != nil {
		s.fail(w, r, "match_get_failed", err, slog.String(logging.FieldMatchID, matchID))
		return
	}
	writeJSON(w, http.StatusOK, toMatchResponse(m, userID))
}

func (s *Server) handleJoinMatch(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	matchID := r.PathValue("id")

	m, err := s.games.JoinMatch(r.Context(), matchID, userID)
	if err != nil {
		s.fail(w, r, "match_join_failed", err, slog.String(logging.FieldMatchID, matchID))
		return
	}

	s.logEvent(r.Context(), "match_joined",
		slog.String(logging.FieldMatchID, m.ID),
		slog.Int64(logging.FieldVersion, m.Version),
	)
	writeJSON(w, http.StatusOK, toMatchResponse(m, userID))
}

func (s *Server) handleSubmitMove(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	matchID := r.PathValue("id")

	var req submitMoveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.logEvent(r.Context(), "match_move_failed",
			slog.String(logging.FieldMatchID, matchID),
			slog.String(logging.FieldReason, "invalid_request"),
		)
		writeError(w, r, http.StatusBadRequest, "invalid_request")
		return
	}

	mv := match.Move(strings.ToLower(strings.TrimSpace(req.Move)))
	m, err := s.games.SubmitMove(r.Context(), matchID, userID, mv)
	if err != nil {
		s.fail(w, r, "match_move_failed", err, slog.String(logging.FieldMatchID, matchID))
		return
	}

	s.logEvent(r.Context(), "match_moved",
		slog.String(logging.FieldMatchID, m.ID),
		slog.String(logging.FieldStatus, string(m.Status)),
		slog.Int64(logging.FieldVersion, m.Version),
	)
	writeJSON(w, http.StatusOK, toMatchResponse(m, userID))
}

func (s *Server) handleCancelMatch(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	matchID := r.PathValue("id")

	m, err := s.games.CancelMatch(r.Context(), matchID, userID)
	if err != nil {
		s.fail(w, r, "match_cancel_failed", err, slog.String(logging.FieldMatchID, matchID))
		return
	}

	s.logEvent(r.Context(), "match_cancelled", slog.String(logging.FieldMatchID, m.ID))
	writeJSON(w, http.StatusOK, toMatchResponse(m, userID))
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	u, err := s.users.GetUser(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		s.fail(w, r, "user_get_failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.logEvent(r.Context(), "user_create_failed", slog.String(logging.FieldReason, "invalid_request"))
		writeError(w, r, http.StatusBadRequest, "invalid_request")
		return
	}

	if err := validateCreateUser(req); err != nil {
		s.logEvent(r.Context(), "user_create_failed",
			slog.String(logging.FieldReason, "invalid_request"),
			slog.String(logging.FieldUserID, req.ID),
		)
		writeError(w, r, http.StatusBadRequest, "invalid_request")
		return
	}

	u, err := s.users.CreateUser(r.Context(), strings.TrimSpace(req.ID), req.Balance)
	if err != nil {
		s.fail(w, r, "user_create_failed", err,
			slog.String(logging.FieldUserID, req.ID),
			slog.Int64("balance", req.Balance),
		)
		return
	}

	s.logEvent(r.Context(), "user_created",
		slog.String(logging.FieldUserID, u.ID),
		slog.Int64("balance", u.Balance),
	)
	writeJSON(w, http.StatusCreated, toUserResponse(u))
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")

	var req depositRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Amount <= 0 {
		s.logEvent(r.Context(), "deposit_failed",
			slog.String(logging.FieldReason, "invalid_request"),
			slog.String(logging.FieldUserID, userID),
		)
		writeError(w, r, http.StatusBadRequest, "invalid_request")
		return
	}

	u, err := s.users.Deposit(r.Context(), userID, req.Amount)
	if err != nil {
		s.fail(w, r, "deposit_failed", err,
			slog.String(logging.FieldUserID, userID),
			slog.Int64("amount", req.Amount),
		)
		return
	}

	s.logEvent(r.Context(), "deposit_credited",
		slog.String(logging.FieldUserID, u.ID),
		slog.Int64("amount", req.Amount),
		slog.Int64("balance", u.Balance),
	)
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

func validateCreateUser(req createUserRequest) error {
	id := strings.TrimSpace(req.ID)
	if id == "" || len(id) > maxUserIDLen {
		return errors.New("invalid id")
	}
	if req.Balance < 0 {
		return errors.New("invalid balance")
	}
	return nil
}

// toMatchResponse renders m as seen by viewer; the other player's move stays
// hidden until the match is over.
func toMatchResponse(m match.Match, viewer string) matchResponse {
	v := m.ViewFor(viewer)
	return matchResponse{
		ID:           v.ID,
		CreatorID:    v.CreatorID,
		OpponentID:   v.OpponentID,
		Stake:        v.Stake,
		CreatorMove:  string(v.CreatorMove),
		OpponentMove: string(v.OpponentMove),
		Status:       string(v.Status),
		WinnerID:     v.WinnerID,
		Version:      v.Version,
		CreatedAt:    v.CreatedAt,
		UpdatedAt:    v.UpdatedAt,
	}
}

func toUserResponse(u store.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Balance:   u.Balance,
		CreatedAt: u.CreatedAt,
	}
}
