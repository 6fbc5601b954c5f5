package identity

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const userKey = contextKey("user")

type resolver interface {
	Resolve(token string) (UserRef, error)
}

type unauthorizedWriter func(w http.ResponseWriter, message string)

// Middleware rejects requests without a valid bearer token and stores the
// caller in the request context.
func Middleware(r resolver, deny unauthorizedWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			header := req.Header.Get("Authorization")
			if header == "" {
				deny(w, "missing authorization header")
				return
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				deny(w, "invalid authorization header")
				return
			}
			user, err := r.Resolve(strings.TrimSpace(parts[1]))
			if err != nil {
				deny(w, "invalid token")
				return
			}
			next.ServeHTTP(w, req.WithContext(WithUser(req.Context(), user)))
		})
	}
}

func WithUser(ctx context.Context, user UserRef) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func UserFromContext(ctx context.Context) (UserRef, bool) {
	user, ok := ctx.Value(userKey).(UserRef)
	return user, ok
}
