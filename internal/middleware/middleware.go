package middleware

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/tgdrive/geonotify/internal/logging"
	"github.com/tgdrive/geonotify/internal/middleware/handler"
)

type Middleware = func(http.Handler) http.Handler

func InjectLogger(lg *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := r.WithContext(logging.WithLogger(r.Context(), lg))
			next.ServeHTTP(w, req)
		})
	}
}

// Recoverer turns a panicking handler into a 500 response.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logging.FromContext(r.Context()).Error("http.panic",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path),
					zap.Stack("stack"))
				handler.WriteJSON(w, http.StatusInternalServerError, &handler.ErrorResponse{
					Code:    handler.InternalServerError,
					Message: "An error has occurred, please try again later",
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// RequireBearer rejects requests whose bearer token is not token. An empty
// token rejects everything.
func RequireBearer(token string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" || r.Header.Get("Authorization") != "Bearer "+token {
				handler.WriteJSON(w, http.StatusUnauthorized, &handler.ErrorResponse{Code: handler.Unauthorized})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
