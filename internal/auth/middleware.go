package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/aetherchat/aether/internal/api"
)

type contextKey string

const UserClaimsKey contextKey = "user_claims"

// TokenCookie is the cookie carrying the access token. The websocket
// gateway reads the same cookie during its handshake.
const TokenCookie = "token"

func Middleware(svc *Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				// Browsers authenticate with the token cookie instead
				// of an Authorization header.
				if c, err := r.Cookie(TokenCookie); err == nil {
					token = c.Value
				}
			}
			if token == "" {
				api.HandleError(w, api.ErrUnauthorized)
				return
			}

			claims, err := svc.ValidateAccessToken(token)
			if err != nil {
				api.HandleError(w, api.ErrInvalidToken)
				return
			}

			ctx := context.WithValue(r.Context(), UserClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

func GetUserClaims(ctx context.Context) *AccessClaims {
	claims, _ := ctx.Value(UserClaimsKey).(*AccessClaims)
	return claims
}
