// Package handler adapts functions returning a *Response to http handlers.
package handler

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/tgdrive/geonotify/internal/logging"
)

func Handle(f func(r *http.Request) *Response) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		Write(w, r, f(r))
	}
}

// Write renders res. Errors that are not an *ErrorResponse become a generic
// 500 and are logged.
func Write(w http.ResponseWriter, r *http.Request, res *Response) {
	if res == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if res.Err == nil {
		statusCode := res.StatusCode
		if statusCode == 0 {
			statusCode = http.StatusOK
		}
		if res.Data != nil {
			WriteJSON(w, statusCode, res.Data)
		} else {
			w.WriteHeader(statusCode)
		}
		return
	}

	err, ok := res.Err.(*ErrorResponse)
	if !ok {
		logging.FromContext(r.Context()).Error("http.internal_error",
			zap.String("path", r.URL.Path),
			zap.Error(res.Err))
		res.StatusCode = http.StatusInternalServerError
		err = &ErrorResponse{Code: InternalServerError, Message: "An error has occurred, please try again later"}
	}
	WriteJSON(w, res.StatusCode, err)
}

func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
