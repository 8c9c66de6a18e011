package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	apierrors "github.com/narvanalabs/functions/internal/api/errors"
	"github.com/narvanalabs/functions/internal/auth"
	"github.com/narvanalabs/functions/pkg/logger"
)

// Context keys for user information.
type contextKey string

// UserEmailKey is the context key for the authenticated user email.
const UserEmailKey contextKey = "user_email"

// GetUserID returns the authenticated actor of the request.
func GetUserID(ctx context.Context) string {
	return logger.UserIDFromContext(ctx)
}

// GetUserEmail extracts the user email from the request context.
func GetUserEmail(ctx context.Context) string {
	if v, ok := ctx.Value(UserEmailKey).(string); ok {
		return v
	}
	return ""
}

type actorSinkKey struct{}

func withActorSink(ctx context.Context, actor *string) context.Context {
	return context.WithValue(ctx, actorSinkKey{}, actor)
}

func reportActor(ctx context.Context, actor string) {
	if p, ok := ctx.Value(actorSinkKey{}).(*string); ok {
		*p = actor
	}
}

// ActorResolver maps a bearer token to the invoking actor.
type ActorResolver interface {
	ResolveActor(token string) (*auth.Identity, error)
}

// AuthMiddleware resolves the invoking actor from a bearer token.
type AuthMiddleware struct {
	resolver ActorResolver
	logger   *slog.Logger
}

// NewAuthMiddleware creates a new authentication middleware.
func NewAuthMiddleware(resolver ActorResolver, logger *slog.Logger) *AuthMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthMiddleware{
		resolver: resolver,
		logger:   logger,
	}
}

// Authenticate rejects requests without a valid token. The token is read
// from the Authorization header, or from the token query parameter for
// websocket clients that cannot set headers.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := chimiddleware.GetReqID(r.Context())

		token := auth.ExtractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			apierrors.WriteErrorWithRequestID(w, apierrors.NewUnauthorizedError("Missing authentication"), requestID)
			return
		}

		id, err := m.resolver.ResolveActor(token)
		if err != nil {
			m.logger.Debug("token rejected", "error", err, "request_id", requestID)
			msg := "Invalid token"
			if errors.Is(err, auth.ErrExpiredToken) {
				msg = "Token has expired"
			}
			apierrors.WriteErrorWithRequestID(w, apierrors.NewUnauthorizedError(msg), requestID)
			return
		}

		reportActor(r.Context(), id.Actor)
		ctx := logger.ContextWithUserID(r.Context(), id.Actor)
		ctx = context.WithValue(ctx, UserEmailKey, id.Email)
		if requestID != "" {
			ctx = logger.ContextWithRequestID(ctx, requestID)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
