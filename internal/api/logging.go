package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"rps.hh/internal/logging"
)

var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func sanitizeRequestID(incoming string) string {
	if incoming != "" && requestIDPattern.MatchString(incoming) {
		return incoming
	}
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return hex.EncodeToString([]byte(time.Now().Format("150405.000000")))
	}
	return hex.EncodeToString(b[:])
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// requestMiddleware assigns a request id, scopes a logger to the request and
// records completion.
func (s *Server) requestMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := sanitizeRequestID(r.Header.Get("X-Request-ID"))
		w.Header().Set("X-Request-ID", reqID)

		logger := s.logger.With(
			slog.String(logging.FieldRequestID, reqID),
			slog.String(logging.FieldMethod, r.Method),
			slog.String(logging.FieldPath, r.URL.Path),
		)
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		ctx = logging.WithLogger(ctx, logger)
		r = r.WithContext(ctx)

		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RecordHTTPRequest(r.Method, route, ww.status, duration)
		logger.Info("request complete",
			slog.Int(logging.FieldStatusCode, ww.status),
			slog.Int64(logging.FieldDurationMS, duration.Milliseconds()),
		)
	})
}

func (s *Server) logEvent(ctx context.Context, event string, attrs ...slog.Attr) {
	logging.FromContext(ctx, s.logger).LogAttrs(ctx, slog.LevelInfo, event, attrs...)
}

// fail writes the error response for err and logs event with the reason.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, event string, err error, attrs ...slog.Attr) {
	status, code := errorStatus(err)
	attrs = append(attrs, slog.String(logging.FieldReason, code))
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context(), s.logger).LogAttrs(r.Context(), slog.LevelError, event,
			append(attrs, slog.String("error", err.Error()))...)
	} else {
		s.logEvent(r.Context(), event, attrs...)
	}
	writeError(w, r, status, code)
}
