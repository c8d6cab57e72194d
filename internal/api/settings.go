package api

import (
	"encoding/json"
	"net/http"

	"github.com/tgdrive/geonotify/internal/auth"
	"github.com/tgdrive/geonotify/internal/middleware/handler"
	"github.com/tgdrive/geonotify/pkg/schemas"
)

func (s *Server) getSettings(r *http.Request) *handler.Response {
	settings, err := s.deps.Settings.GetNotificationSettings(r.Context(), auth.GetUser(r.Context()))
	if err != nil {
		return handler.NewInternalErrorResponse(err)
	}
	return handler.NewSuccessResponse(http.StatusOK, settings)
}

func (s *Server) putSettings(r *http.Request) *handler.Response {
	var in struct {
		EmailNotificationsEnabled *bool `json:"emailNotificationsEnabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		return handler.NewErrorResponse(http.StatusBadRequest, handler.InvalidBodyValue, "invalid request body", nil)
	}
	if in.EmailNotificationsEnabled == nil {
		return handler.NewErrorResponse(http.StatusBadRequest, handler.InvalidBodyValue, "emailNotificationsEnabled is required", nil)
	}
	settings := schemas.NotificationSettings{EmailNotificationsEnabled: *in.EmailNotificationsEnabled}
	if err := s.deps.Settings.SetNotificationSettings(r.Context(), auth.GetUser(r.Context()), settings); err != nil {
		return handler.NewInternalErrorResponse(err)
	}
	return handler.NewSuccessResponse(http.StatusOK, settings)
}
