// Package auth verifies session tokens issued by the web application.
package auth

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/tgdrive/geonotify/internal/logging"
)

type authContextKey string

const (
	authKey    authContextKey = "authUser"
	authCookie                = "access_token"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	jwt.RegisteredClaims
	Alias string `json:"alias,omitempty"`
}

// UserID is the numeric subject of the token.
func (c *Claims) UserID() (int64, error) {
	return strconv.ParseInt(c.Subject, 10, 64)
}

// Decode verifies an HS256 token. An empty secret rejects every token.
func Decode(secret string, token string) (*Claims, error) {
	if secret == "" {
		return nil, errors.Wrap(ErrInvalidToken, "no secret configured")
	}
	claims := &Claims{}
	tkn, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}))
	if err != nil {
		return nil, errors.Wrap(ErrInvalidToken, err.Error())
	}
	if !tkn.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := claims.UserID(); err != nil {
		return nil, errors.Wrap(ErrInvalidToken, "subject is not a user id")
	}
	return claims, nil
}

func WithUser(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, authKey, claims)
}

func GetJWTUser(ctx context.Context) *Claims {
	claims, _ := ctx.Value(authKey).(*Claims)
	return claims
}

// GetUser returns the authenticated user id, or 0.
func GetUser(ctx context.Context) int64 {
	claims := GetJWTUser(ctx)
	if claims == nil {
		return 0
	}
	id, _ := claims.UserID()
	return id
}

// TokenFromRequest reads a bearer token, falling back to the session cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(authCookie); err == nil {
		return c.Value
	}
	return ""
}

// Middleware rejects requests without a valid token. onError writes the
// response for rejected requests.
func Middleware(secret string, onError func(w http.ResponseWriter, r *http.Request, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r)
			if token == "" {
				onError(w, r, errors.Wrap(ErrInvalidToken, "missing token"))
				return
			}
			claims, err := Decode(secret, token)
			if err != nil {
				onError(w, r, err)
				return
			}
			ctx := WithUser(r.Context(), claims)
			lg := logging.FromContext(ctx).With(zap.String("user_id", claims.Subject))
			next.ServeHTTP(w, r.WithContext(logging.WithLogger(ctx, lg)))
		})
	}
}
