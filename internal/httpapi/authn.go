package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"gatehouse.dev/internal/audit"
	"gatehouse.dev/internal/auth"
	"gatehouse.dev/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// Authenticate verifies the bearer token and attaches its claims to the request
// context. Any failure answers 401 with a fixed message.
func Authenticate(tokens TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := extractBearerToken(r.Header.Get(authHeader))
			if err != nil {
				unauthorized(w, r)
				return
			}
			claims, err := tokens.Verify(token)
			if err != nil {
				obs.Logger().WithField("kind", auth.Kind(err)).
					WithField("path", obs.CanonicalPath(r.URL.Path)).
					Debug("bearer token rejected")
				unauthorized(w, r)
				return
			}
			ctx := auth.ContextWithClaims(r.Context(), claims)
			ctx = auth.ContextWithToken(ctx, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Authorize admits the request when the caller holds any of roles and all of
// perms. An empty role set places no role requirement.
func Authorize(roles, perms []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				unauthorized(w, r)
				return
			}
			if (len(roles) > 0 && !claims.HasAnyRole(roles)) || !claims.HasAllPermissions(perms) {
				_ = audit.LogEvent(r.Context(), audit.AccessDenied, map[string]any{
					"path":           obs.CanonicalPath(r.URL.Path),
					"required_roles": roles,
					"required_perms": perms,
				})
				w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope"`)
				writeError(w, r, http.StatusForbidden, auth.Kind(auth.ErrForbidden), "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, r, http.StatusUnauthorized, auth.Kind(auth.ErrUnauthorized), "unauthorized")
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
