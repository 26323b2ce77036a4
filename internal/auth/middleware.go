package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sakif/recipe-api/internal/model"
)

// contextKey is an unexported type used for context keys in this package.
//
// WHY A CUSTOM TYPE FOR CONTEXT KEYS?
// context.WithValue uses any as the key type. Using a package-private type
// prevents collisions: only THIS package can create a key of type contextKey,
// so only this package can read or write the user stored in the context.
type contextKey string

const userKey contextKey = "user"

// TokenResolver turns a presented key into the user it belongs to.
// service.AuthService implements it.
type TokenResolver interface {
	Resolve(ctx context.Context, key string) (*model.User, error)
}

// CredentialChecker verifies an email/password pair.
// service.UserService implements it.
type CredentialChecker interface {
	Authenticate(ctx context.Context, email, password string) (*model.User, error)
}

// RequireToken is a middleware that enforces token authentication.
//
// It reads "Authorization: Token <key>" (the "Bearer" scheme is accepted
// too), resolves the key, and stores the *model.User in the request context.
// If the header is missing or the key does not resolve to an active user it
// answers 401 and stops the chain.
//
// Chi applies middlewares in a chain: req → M1 → M2 → Handler → M2 → M1 → resp
func RequireToken(resolver TokenResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, ok := keyFromHeader(r.Header.Get("Authorization"))
			if !ok {
				unauthorized(w, `Token realm="api"`, "authentication credentials were not provided")
				return
			}

			user, err := resolver.Resolve(r.Context(), key)
			if err != nil {
				unauthorized(w, `Token realm="api"`, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// RequireStaff guards the admin pages with HTTP Basic auth. The username is
// the account email; only active staff users get through.
func RequireStaff(checker CredentialChecker) func(http.Handler) http.Handler {
	const challenge = `Basic realm="recipe-api admin", charset="UTF-8"`

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			email, password, ok := r.BasicAuth()
			if !ok {
				unauthorized(w, challenge, "authentication credentials were not provided")
				return
			}

			user, err := checker.Authenticate(r.Context(), email, password)
			if err != nil {
				unauthorized(w, challenge, "unable to authenticate with provided credentials")
				return
			}
			if !user.IsStaff {
				writeJSON(w, http.StatusForbidden, "forbidden", "staff access required")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// WithUser returns a copy of ctx carrying user.
func WithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext retrieves the authenticated user from the request context.
//
// Returns (nil, false) if the request did not pass through RequireToken or
// RequireStaff.
//
// Usage in handlers:
//
//	user, ok := auth.UserFromContext(r.Context())
//	if !ok {
//	    // should not happen behind RequireToken
//	}
func UserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(userKey).(*model.User)
	return u, ok && u != nil
}

// keyFromHeader extracts the key from "Token <key>" or "Bearer <key>".
// The scheme is case-insensitive.
func keyFromHeader(header string) (string, bool) {
	scheme, key, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found {
		return "", false
	}
	if !strings.EqualFold(scheme, "Token") && !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	key = strings.TrimSpace(key)
	return key, key != ""
}

func unauthorized(w http.ResponseWriter, challenge, message string) {
	w.Header().Set("WWW-Authenticate", challenge)
	writeJSON(w, http.StatusUnauthorized, "unauthorized", message)
}

// writeJSON mirrors the handler package's error body. It is duplicated here
// because handler imports auth.
func writeJSON(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
