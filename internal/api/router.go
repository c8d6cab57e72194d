// Package api is the HTTP surface of the notification service.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/tgdrive/geonotify/internal/auth"
	"github.com/tgdrive/geonotify/internal/chizap"
	"github.com/tgdrive/geonotify/internal/events"
	"github.com/tgdrive/geonotify/internal/middleware"
	"github.com/tgdrive/geonotify/internal/middleware/handler"
	"github.com/tgdrive/geonotify/internal/version"
	"github.com/tgdrive/geonotify/pkg/schemas"
)

type Notifications interface {
	LoadNotifications(ctx context.Context, userID int64, limit int) []schemas.Notification
	UnseenCount(ctx context.Context, userID int64) (int64, error)
	MarkAsRead(ctx context.Context, userID, id int64) bool
	MarkAsUnread(ctx context.Context, userID, id int64) bool
}

type Connections interface {
	Follow(ctx context.Context, followerID, followeeID int64) (bool, error)
	Unfollow(ctx context.Context, followerID, followeeID int64) (bool, error)
	ReverseConnections(ctx context.Context, userID int64) ([]schemas.UserRef, error)
}

type Settings interface {
	GetNotificationSettings(ctx context.Context, userID int64) (schemas.NotificationSettings, error)
	SetNotificationSettings(ctx context.Context, userID int64, settings schemas.NotificationSettings) error
}

type Publisher interface {
	Publish(ctx context.Context, p events.Payload) error
}

type Stream interface {
	Subscribe(userID int64) chan schemas.Notification
	Unsubscribe(userID int64, ch chan schemas.Notification)
}

type Deps struct {
	Notifications Notifications
	Connections   Connections
	Settings      Settings
	Events        Publisher
	Stream        Stream
	// Health reports whether the service can serve requests. Optional.
	Health func(ctx context.Context) error
}

type Config struct {
	JWTSecret         string
	IngestToken       string
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
}

type Server struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

func NewRouter(deps Deps, cfg Config, logger *zap.Logger) http.Handler {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 25 * time.Second
	}
	s := &Server{deps: deps, cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.InjectLogger(logger))
	r.Use(chizap.Chizap(logger, &chizap.Config{SkipPaths: []string{"/healthz"}}))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", handler.Handle(s.health))

	r.Route("/api", func(r chi.Router) {
		r.Get("/version", handler.Handle(func(r *http.Request) *handler.Response {
			return handler.NewSuccessResponse(http.StatusOK, version.GetVersionInfo())
		}))
		r.With(middleware.RequireBearer(cfg.IngestToken)).Post("/events", handler.Handle(s.ingestEvent))

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(cfg.JWTSecret, unauthorized))

			r.Get("/notifications", handler.Handle(s.listNotifications))
			r.Get("/notifications/unseen-count", handler.Handle(s.unseenCount))
			r.Get("/notifications/stream", s.stream)
			r.Put("/notifications/{id}/read", handler.Handle(s.markRead))
			r.Put("/notifications/{id}/unread", handler.Handle(s.markUnread))

			r.Post("/connections/{userId}", handler.Handle(s.follow))
			r.Delete("/connections/{userId}", handler.Handle(s.unfollow))
			r.Get("/users/{userId}/followers", handler.Handle(s.followers))

			r.Get("/settings/notifications", handler.Handle(s.getSettings))
			r.Put("/settings/notifications", handler.Handle(s.putSettings))
		})
	})
	return r
}

func unauthorized(w http.ResponseWriter, _ *http.Request, err error) {
	handler.WriteJSON(w, http.StatusUnauthorized, &handler.ErrorResponse{
		Code:    handler.Unauthorized,
		Message: err.Error(),
	})
}

func (s *Server) health(r *http.Request) *handler.Response {
	if s.deps.Health != nil {
		if err := s.deps.Health(r.Context()); err != nil {
			s.logger.Warn("http.health_failed", zap.Error(err))
			return handler.NewSuccessResponse(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		}
	}
	return handler.NewSuccessResponse(http.StatusOK, map[string]string{"status": "ok"})
}
