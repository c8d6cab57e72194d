package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/tgdrive/geonotify/internal/auth"
	"github.com/tgdrive/geonotify/internal/logging"
	"github.com/tgdrive/geonotify/internal/middleware/handler"
	"github.com/tgdrive/geonotify/pkg/schemas"
)

func pathID(r *http.Request, name string) (int64, *handler.Response) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, handler.NewErrorResponse(http.StatusBadRequest, handler.InvalidUriValue, "invalid "+name, nil)
	}
	return id, nil
}

func (s *Server) listNotifications(r *http.Request) *handler.Response {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return handler.NewErrorResponse(http.StatusBadRequest, handler.InvalidQueryValue, "invalid limit", nil)
		}
		limit = n
	}
	items := s.deps.Notifications.LoadNotifications(r.Context(), auth.GetUser(r.Context()), limit)
	return handler.NewSuccessResponse(http.StatusOK, schemas.NotificationList{Items: items})
}

func (s *Server) unseenCount(r *http.Request) *handler.Response {
	count, err := s.deps.Notifications.UnseenCount(r.Context(), auth.GetUser(r.Context()))
	if err != nil {
		return handler.NewInternalErrorResponse(err)
	}
	return handler.NewSuccessResponse(http.StatusOK, schemas.UnseenCount{Count: count})
}

func (s *Server) markRead(r *http.Request) *handler.Response {
	return s.mark(r, s.deps.Notifications.MarkAsRead)
}

func (s *Server) markUnread(r *http.Request) *handler.Response {
	return s.mark(r, s.deps.Notifications.MarkAsUnread)
}

func (s *Server) mark(r *http.Request, fn func(ctx context.Context, userID, id int64) bool) *handler.Response {
	id, res := pathID(r, "id")
	if res != nil {
		return res
	}
	if !fn(r.Context(), auth.GetUser(r.Context()), id) {
		return handler.NewSuccessResponse(http.StatusNotFound, schemas.MarkResult{OK: false})
	}
	return handler.NewSuccessResponse(http.StatusOK, schemas.MarkResult{OK: true})
}

// stream pushes notifications for the current user as server-sent events.
func (s *Server) stream(w http.ResponseWriter, r *http.Request) {
	userID := auth.GetUser(r.Context())
	lg := logging.FromContext(r.Context())
	rc := http.NewResponseController(w)

	// The stream outlives the server write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		lg.Warn("http.stream_deadline", zap.Error(err))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		lg.Warn("http.stream_unsupported", zap.Error(err))
		return
	}

	ch := s.deps.Stream.Subscribe(userID)
	defer s.deps.Stream.Unsubscribe(userID, ch)

	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case n, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(n)
			if err != nil {
				lg.Error("http.stream_marshal_failed", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: notification\ndata: %s\n\n", n.ID, data); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
