/*
auth.go - Caller identification and role checks

PURPOSE:
  Resolves the caller's role before any handler runs. Two sources:
  - Authorization: Bearer <jwt>, HS256, claims {sub, role, exp}
  - X-Role header, only when the server runs with ALLOW_ROLE_HEADER

  A request with neither is a GUEST. Routes that name roles reject
  everyone else with 403 and the library is never called.

SEE ALSO:
  - server.go: Which routes require which roles
  - handlers.go: Login issues tokens
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/warp/library-engine/library"
)

const (
	tokenTTL     = 12 * time.Hour
	roleHeader   = "X-Role"
	userHeader   = "X-User-Id"
	bearerPrefix = "bearer "
)

// Auth issues and verifies access tokens.
type Auth struct {
	secret          []byte
	allowRoleHeader bool
	now             func() time.Time
}

func NewAuth(secret string, allowRoleHeader bool) *Auth {
	return &Auth{secret: []byte(secret), allowRoleHeader: allowRoleHeader, now: time.Now}
}

// Issue signs a token for u.
func (a *Auth) Issue(u library.User) (string, time.Time, error) {
	exp := a.now().Add(tokenTTL)
	claims := jwt.MapClaims{
		"sub":  u.ID,
		"role": string(u.Role),
		"exp":  exp.Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies a token and returns the identity it carries.
func (a *Auth) Parse(raw string) (string, library.Role, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", "", err
	}
	mc, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", errors.New("invalid claims")
	}
	sub, _ := mc["sub"].(string)
	role, _ := mc["role"].(string)
	if !library.Role(role).Valid() {
		return "", "", fmt.Errorf("unknown role %q", role)
	}
	return sub, library.Role(role), nil
}

type actorKey struct{}

// Identify attaches the caller's Actor to the request context. It never
// rejects a request; a bad token is logged and leaves the caller a guest.
func (h *Handler) Identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := library.Actor{
			Role:      library.RoleGuest,
			IPAddress: clientIP(r),
			UserAgent: r.UserAgent(),
		}
		authz := strings.TrimSpace(r.Header.Get("Authorization"))
		switch {
		case len(authz) > len(bearerPrefix) && strings.EqualFold(authz[:len(bearerPrefix)], bearerPrefix):
			id, role, err := h.auth.Parse(strings.TrimSpace(authz[len(bearerPrefix):]))
			if err != nil {
				h.log.DebugContext(r.Context(), "rejected token", "error", err)
				break
			}
			actor.ID, actor.Role = id, role
		case h.auth.allowRoleHeader && r.Header.Get(roleHeader) != "":
			if role := library.Role(strings.ToUpper(r.Header.Get(roleHeader))); role.Valid() {
				actor.Role = role
				actor.ID = r.Header.Get(userHeader)
			}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorKey{}, actor)))
	})
}

// actorFrom returns the caller resolved by Identify.
func actorFrom(ctx context.Context) library.Actor {
	if a, ok := ctx.Value(actorKey{}).(library.Actor); ok {
		return a
	}
	return library.Actor{Role: library.RoleGuest}
}

// requireRole admits only the listed roles.
func requireRole(roles ...library.Role) func(http.Handler) http.Handler {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	denied := "Access Denied. Required: " + strings.Join(names, ", ")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !slices.Contains(roles, actorFrom(r.Context()).Role) {
				writeFail(w, http.StatusForbidden, denied)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP is the address chi's RealIP middleware left on the request,
// without the port.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
