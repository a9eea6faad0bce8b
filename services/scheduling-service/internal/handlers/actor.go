package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/AlexanderSalvatierra/citasalud/libs/auth"
	"github.com/AlexanderSalvatierra/citasalud/libs/httpx"
	"github.com/AlexanderSalvatierra/citasalud/services/scheduling-service/internal/model"
)

type ctxKey int

const ctxKeyActor ctxKey = iota

func WithActor(ctx context.Context, actor model.Actor) context.Context {
	return context.WithValue(ctx, ctxKeyActor, actor)
}

func ActorFromContext(ctx context.Context) (model.Actor, bool) {
	actor, ok := ctx.Value(ctxKeyActor).(model.Actor)
	return actor, ok
}

// RequireActor authenticates the bearer token and stores the resulting
// actor on the request context. Tokens are issued by the surrounding
// identity system; only HS256 verification happens here.
func RequireActor(secret string) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			claims, err := auth.ParseAndVerifyHS256(strings.TrimSpace(token), secret)
			if err != nil {
				http.Error(w, "invalid bearer token", http.StatusUnauthorized)
				return
			}
			actor := model.Actor{ID: claims.Sub, Role: claims.Role}
			next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
		})
	}
}
