package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"etiasassist.app/internal/apperr"
	"etiasassist.app/internal/auth"
)

const (
	authHeader    = "Authorization"
	bearer        = "Bearer "
	sessionCookie = "session"
)

// authenticate attaches the caller's principal when a valid session token
// is presented. Anonymous and invalid callers pass through without one;
// RequireRole decides whether that is acceptable.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		token := sessionToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := a.deps.Tokens.Parse(token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		// The stored account wins over the token's role claim so demotions
		// and deletions take effect immediately.
		user, err := a.deps.Users.Get(r.Context(), claims.Subject)
		if err != nil {
			if errors.Is(err, apperr.ErrNotFound) {
				next.ServeHTTP(w, r)
				return
			}
			writeDomainError(w, r, err)
			return
		}
		ctx := auth.ContextWithPrincipal(r.Context(), auth.PrincipalFor(user))
		ctx = auth.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects anonymous callers with 401 and callers whose role does
// not reach required with 403.
func RequireRole(required auth.Role) func(http.Handler) http.Handler {
	msg := "forbidden"
	switch required {
	case auth.RoleAdmin:
		msg = "admin access required"
	case auth.RoleSuperAdmin:
		msg = "super admin access required"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="etias-assist"`)
				writeError(w, r, http.StatusUnauthorized, "authentication required")
				return
			}
			if !p.Role.Allows(required) {
				writeError(w, r, http.StatusForbidden, msg)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func sessionToken(r *http.Request) string {
	if token, err := extractBearerToken(r.Header.Get(authHeader)); err == nil {
		return token
	}
	if c, err := r.Cookie(sessionCookie); err == nil {
		return strings.TrimSpace(c.Value)
	}
	return ""
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

// principal returns the caller, which RequireRole guarantees on protected
// routes.
func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFromContext(r.Context())
	return p
}
