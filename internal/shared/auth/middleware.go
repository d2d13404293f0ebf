package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/resolveit/platform/internal/shared/config"
	"github.com/resolveit/platform/internal/shared/types"
)

type contextKey string

const (
	UserContextKey contextKey = "user"
)

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// User represents the authenticated caller from JWT claims
type User struct {
	ID   types.ID `json:"id"`
	Role string   `json:"role"`
}

// Claims extends JWT claims with the account role
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Middleware creates JWT authentication middleware. Tokens are read from the
// Authorization header, or from the token query parameter for websocket
// upgrades where browsers cannot set headers.
func Middleware(cfg config.AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, msg := extractToken(r)
			if tokenString == "" {
				writeError(w, http.StatusUnauthorized, msg)
				return
			}

			user, err := ParseToken(cfg.JWTSecret, tokenString)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// ParseToken verifies an HS256 token and builds the user it identifies
func ParseToken(secret, tokenString string) (*User, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}

	id, err := types.ParseID(claims.Subject)
	if err != nil {
		return nil, jwt.ErrTokenInvalidSubject
	}

	role := strings.ToUpper(claims.Role)
	if role != RoleAdmin {
		role = RoleUser
	}
	return &User{ID: id, Role: role}, nil
}

// IssueToken signs a token for the given user. The service never issues
// tokens itself; this exists for tests and local tooling.
func IssueToken(secret string, user User, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = user.ID.String()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: claims,
		Role:             user.Role,
	})
	return token.SignedString([]byte(secret))
}

func extractToken(r *http.Request) (string, string) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if t := r.URL.Query().Get("token"); t != "" {
			return t, ""
		}
		return "", "missing authorization header"
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", "invalid authorization header format"
	}
	return parts[1], ""
}

// WithUser stores the user in the context
func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, UserContextKey, user)
}

// GetUser extracts the user from request context
func GetUser(ctx context.Context) *User {
	user, ok := ctx.Value(UserContextKey).(*User)
	if !ok {
		return nil
	}
	return user
}

// RequireRoles creates middleware that requires specific roles
func RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUser(r.Context())
			if user == nil {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			if !user.HasRole(roles...) {
				writeError(w, http.StatusForbidden, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// HasRole checks if user has any of the roles
func (u *User) HasRole(roles ...string) bool {
	for _, role := range roles {
		if u.Role == role {
			return true
		}
	}
	return false
}

// IsAdmin checks if user is an admin
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// CanAccess reports whether the user may read or modify a resource owned by ownerID
func (u *User) CanAccess(ownerID types.ID) bool {
	return u != nil && (u.IsAdmin() || u.ID == ownerID)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
