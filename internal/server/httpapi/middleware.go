package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ABCWORK9/mintydoc/internal/common"
	"github.com/ABCWORK9/mintydoc/internal/logging"
	"github.com/ABCWORK9/mintydoc/internal/server/auth"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

const requestIDHeader = "X-Request-Id"

// instrument tags the request with an id, then records latency and status
// per route template.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		reqID := r.Header.Get(requestIDHeader)
		if reqID == "" || len(reqID) > 64 {
			reqID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, reqID)
		r = r.WithContext(logging.WithFields(r.Context(), "request_id", reqID))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.metrics.RecordHTTP(route, rec.status, time.Since(start))
		s.log.Debug(r.Context(), "request", "method", r.Method, "route", route, "status", rec.status, "elapsed", time.Since(start).String())
	})
}

type operatorKey struct{}

func operatorFrom(ctx context.Context) string {
	op, _ := ctx.Value(operatorKey{}).(string)
	return op
}

// requireOperator admits requests carrying a valid operator bearer token.
func (s *Server) requireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(common.AuthorizationHeaderName)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			s.writeError(w, r, common.Unauthorized("missing_token"))
			return
		}

		op, err := auth.OperatorFromToken(strings.TrimSpace(token), s.secret)
		if errors.Is(err, common.ErrTokenExpired) {
			s.writeError(w, r, common.Unauthorized("token_expired"))
			return
		}
		if err != nil {
			s.writeError(w, r, common.Unauthorized("invalid_token"))
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), operatorKey{}, op)))
	})
}
