package chizap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestChizap(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	r := chi.NewRouter()
	r.Use(Chizap(zap.New(core), &Config{
		SkipPaths: []string{"/healthz"},
		Context: func(context.Context) []zapcore.Field {
			return []zapcore.Field{zap.Int64("user_id", 7)}
		},
	}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {})
	r.Get("/api/notifications/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/notifications/3?x=1", nil))

	entries := logs.All()
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, zapcore.WarnLevel, e.Level)
	fields := e.ContextMap()
	assert.Equal(t, int64(404), fields["status"])
	assert.Equal(t, "/api/notifications/{id}", fields["route"])
	assert.Equal(t, "x=1", fields["query"])
	assert.Equal(t, int64(7), fields["user_id"])
}
