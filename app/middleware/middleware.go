package appMiddleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/FACorreiaa/haru-planner/internal/api"
)

// AuthConfig controls token validation. An empty Audience or Issuer is not
// checked.
type AuthConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
}

// Authenticate validates an HS256 bearer token and puts the user id in the
// request context.
func Authenticate(cfg AuthConfig, logger *slog.Logger) func(http.Handler) http.Handler {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.ErrorResponse(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Authorization header required")
				return
			}
			scheme, tokenString, found := strings.Cut(authHeader, " ")
			if !found || !strings.EqualFold(scheme, "bearer") || strings.TrimSpace(tokenString) == "" {
				api.ErrorResponse(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Authorization header format must be Bearer {token}")
				return
			}

			claims := &Claims{}
			_, err := parser.ParseWithClaims(strings.TrimSpace(tokenString), claims, func(*jwt.Token) (any, error) {
				return cfg.Secret, nil
			})
			if err != nil {
				msg := "Invalid or expired token"
				if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
					msg = "Invalid token signature"
				}
				logger.DebugContext(r.Context(), "Token rejected", slog.Any("error", err))
				api.ErrorResponse(w, r, http.StatusUnauthorized, "UNAUTHORIZED", msg)
				return
			}
			userID := claims.User()
			if userID == "" {
				api.ErrorResponse(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "Token carries no user")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}
