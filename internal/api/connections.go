package api

import (
	"net/http"

	"github.com/go-faster/errors"

	"github.com/tgdrive/geonotify/internal/auth"
	"github.com/tgdrive/geonotify/internal/database"
	"github.com/tgdrive/geonotify/internal/middleware/handler"
	"github.com/tgdrive/geonotify/pkg/schemas"
	"github.com/tgdrive/geonotify/pkg/services"
)

func (s *Server) follow(r *http.Request) *handler.Response {
	followeeID, res := pathID(r, "userId")
	if res != nil {
		return res
	}
	created, err := s.deps.Connections.Follow(r.Context(), auth.GetUser(r.Context()), followeeID)
	if err != nil {
		return connectionError(err)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return handler.NewSuccessResponse(status, schemas.FollowResult{Created: created})
}

func (s *Server) unfollow(r *http.Request) *handler.Response {
	followeeID, res := pathID(r, "userId")
	if res != nil {
		return res
	}
	removed, err := s.deps.Connections.Unfollow(r.Context(), auth.GetUser(r.Context()), followeeID)
	if err != nil {
		return connectionError(err)
	}
	return handler.NewSuccessResponse(http.StatusOK, schemas.MarkResult{OK: removed})
}

func (s *Server) followers(r *http.Request) *handler.Response {
	userID, res := pathID(r, "userId")
	if res != nil {
		return res
	}
	users, err := s.deps.Connections.ReverseConnections(r.Context(), userID)
	if err != nil {
		return handler.NewInternalErrorResponse(err)
	}
	if users == nil {
		users = []schemas.UserRef{}
	}
	return handler.NewSuccessResponse(http.StatusOK, users)
}

func connectionError(err error) *handler.Response {
	switch {
	case errors.Is(err, services.ErrSelfFollow):
		return handler.NewErrorResponse(http.StatusBadRequest, handler.InvalidUriValue, err.Error(), nil)
	case database.IsRecordNotFoundErr(err):
		return handler.NewErrorResponse(http.StatusNotFound, handler.NotFoundEntity, "user not found", nil)
	default:
		return handler.NewInternalErrorResponse(err)
	}
}
