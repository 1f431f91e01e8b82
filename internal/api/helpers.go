package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"rps.hh/internal/game"
	"rps.hh/internal/ledger"
	"rps.hh/internal/store"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	writeJSON(w, status, errorResponse{Error: code, RequestID: requestIDFrom(r.Context())})
}

var errTrailingData = errors.New("unexpected data after JSON body")

// decodeJSON reads exactly one JSON object with no unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errTrailingData
	}
	return nil
}

// errorStatus maps domain and store errors to a status and an error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, game.ErrInvalidStake):
		return http.StatusBadRequest, "invalid_stake"
	case errors.Is(err, game.ErrInvalidMove):
		return http.StatusBadRequest, "invalid_move"
	case errors.Is(err, game.ErrSelfJoin):
		return http.StatusBadRequest, "self_join"
	case errors.Is(err, ledger.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_amount"
	case errors.Is(err, game.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, game.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, game.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, game.ErrUserNotFound), errors.Is(err, store.ErrUserNotFound):
		return http.StatusNotFound, "user_not_found"
	case errors.Is(err, game.ErrInsufficientFunds):
		return http.StatusConflict, "insufficient_balance"
	case errors.Is(err, ledger.ErrBalanceOverflow):
		return http.StatusConflict, "balance_overflow"
	case errors.Is(err, game.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, game.ErrAlreadyMoved):
		return http.StatusConflict, "already_moved"
	case errors.Is(err, game.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, store.ErrUserExists):
		return http.StatusConflict, "user_exists"
	case errors.Is(err, game.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
