package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/robertarktes/booking-checkout/internal/domain"
)

const (
	GuestTokenHeader = "X-Guest-Token"
	RoleAdmin        = "admin"
)

type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Identity is the caller resolved from a bearer token or a guest token.
type Identity struct {
	Owner domain.Owner
	Admin bool
}

type identityKey struct{}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}

// AuthMiddleware resolves the caller. A bearer token must be a valid HS256
// JWT whose subject is a user id; without one, a guest token header
// identifies an anonymous buyer. Requests with neither pass through
// unauthenticated.
func AuthMiddleware(secret string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				id, err := parseToken(strings.TrimPrefix(auth, "Bearer "), secret)
				if err != nil {
					writeStatus(w, http.StatusUnauthorized, "Unauthenticated")
					return
				}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
				return
			}
			if guest := strings.TrimSpace(r.Header.Get(GuestTokenHeader)); guest != "" {
				id := Identity{Owner: domain.GuestOwner(guest)}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, id)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseToken(raw, secret string) (Identity, error) {
	var claims Claims
	tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, err
	}
	if !tok.Valid {
		return Identity{}, jwt.ErrTokenInvalidClaims
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Identity{}, err
	}
	return Identity{Owner: domain.UserOwner(userID), Admin: claims.Role == RoleAdmin}, nil
}

func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFrom(r.Context()); !ok {
			writeStatus(w, http.StatusUnauthorized, "Unauthenticated")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := IdentityFrom(r.Context()); !ok || !id.Admin {
			writeStatus(w, http.StatusForbidden, "Forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}
