package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandle(t *testing.T) {
	cases := []struct {
		Name string
		Func func(r *http.Request) *Response
		// expected
		Code int
		Body string
	}{
		{
			Name: "Success with data",
			Func: func(r *http.Request) *Response {
				return NewSuccessResponse(http.StatusOK, map[string]any{
					"ok": true,
				})
			},
			Code: http.StatusOK,
			Body: `{"ok": true}`,
		}, {
			Name: "Fail with ErrorResponse",
			Func: func(r *http.Request) *Response {
				return NewErrorResponse(http.StatusBadRequest, InvalidQueryValue, "invalid limit", nil)
			},
			Code: http.StatusBadRequest,
			Body: `
			{
				"code": "InvalidQueryValue",
				"message": "[InvalidQueryValue] invalid limit"
			}
			`,
		}, {
			Name: "Fail with any error",
			Func: func(r *http.Request) *Response {
				return NewInternalErrorResponse(errors.New("any error"))
			},
			Code: http.StatusInternalServerError,
			Body: `
			{
				"code": "InternalServerError",
				"message": "[InternalServerError] An error has occurred, please try again later"
			}
			`,
		}, {
			Name: "Status only",
			Func: func(r *http.Request) *Response {
				return NewSuccessResponse(http.StatusAccepted, nil)
			},
			Code: http.StatusAccepted,
		},
	}

	for _, tc := range cases {
		t.Run(tc.Name, func(t *testing.T) {
			res := httptest.NewRecorder()
			Handle(tc.Func).ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tc.Code, res.Code)
			if tc.Body != "" {
				assert.JSONEq(t, tc.Body, res.Body.String())
			} else {
				assert.Empty(t, res.Body.String())
			}
		})
	}
}
