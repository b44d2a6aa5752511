package httputil

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lotledger/lotledger-backend/pkg/actor"
	"github.com/lotledger/lotledger-backend/pkg/errors"
	"github.com/lotledger/lotledger-backend/pkg/logger"
)

type contextKey string

const (
	RequestIDKey contextKey = "request_id"
)

// RequestID middleware adds a request ID to each request
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logger middleware logs HTTP requests
func Logger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			log.Info().
				Str("request_id", GetRequestID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapped.statusCode).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Msg("HTTP request")
		})
	}
}

// Recoverer middleware recovers from panics
func Recoverer(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error().
						Interface("panic", err).
						Str("path", r.URL.Path).
						Msg("panic recovered")

					Error(w, errors.Internal("internal server error"))
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// TokenValidator turns a bearer token into an actor
type TokenValidator interface {
	ValidateBearer(token string) (*actor.Actor, error)
}

// TokenValidatorFunc adapts a function to TokenValidator
type TokenValidatorFunc func(token string) (*actor.Actor, error)

// ValidateBearer calls f(token)
func (f TokenValidatorFunc) ValidateBearer(token string) (*actor.Actor, error) {
	return f(token)
}

// Authenticate resolves the actor for every request except /health.
//
// A bearer token is always verified when present. Without one, required
// mode answers 401; otherwise the X-User-ID header set by an upstream
// gateway is trusted, and requests carrying neither run as the system actor.
func Authenticate(validator TokenValidator, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			var a *actor.Actor
			if header := r.Header.Get("Authorization"); header != "" {
				token, ok := strings.CutPrefix(header, "Bearer ")
				if !ok || token == "" {
					Error(w, errors.TokenInvalid())
					return
				}
				validated, err := validator.ValidateBearer(token)
				if err != nil {
					Error(w, err)
					return
				}
				a = validated
			} else if required {
				Error(w, errors.Unauthorized("missing bearer token"))
				return
			} else if userID := r.Header.Get("X-User-ID"); userID != "" {
				a = &actor.Actor{ID: userID, Email: r.Header.Get("X-User-Email")}
			} else {
				a = actor.SystemActor()
			}

			next.ServeHTTP(w, r.WithContext(actor.WithActor(r.Context(), a)))
		})
	}
}
