package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"

	"github.com/tgdrive/geonotify/internal/events"
	"github.com/tgdrive/geonotify/internal/middleware/handler"
)

type ingestRequest struct {
	Type    events.Type     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type ingestResponse struct {
	Accepted bool        `json:"accepted"`
	Type     events.Type `json:"type"`
}

// ingestEvent lets the web application announce domain events it produced.
func (s *Server) ingestEvent(r *http.Request) *handler.Response {
	var in ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		return handler.NewErrorResponse(http.StatusBadRequest, handler.InvalidBodyValue, "invalid request body", nil)
	}
	p, err := events.DecodePayload(in.Type, in.Payload)
	if err != nil {
		return handler.NewErrorResponse(http.StatusBadRequest, handler.InvalidBodyValue, err.Error(), nil)
	}
	if err := s.deps.Events.Publish(r.Context(), p); err != nil {
		if errors.Is(err, events.ErrInvalidPayload) {
			return handler.NewErrorResponse(http.StatusBadRequest, handler.InvalidBodyValue, err.Error(), nil)
		}
		return handler.NewInternalErrorResponse(err)
	}
	return handler.NewSuccessResponse(http.StatusAccepted, ingestResponse{Accepted: true, Type: in.Type})
}
