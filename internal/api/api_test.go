package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tgdrive/geonotify/internal/auth"
	"github.com/tgdrive/geonotify/internal/database"
	"github.com/tgdrive/geonotify/internal/events"
	"github.com/tgdrive/geonotify/pkg/schemas"
	"github.com/tgdrive/geonotify/pkg/services"
)

const (
	testSecret = "api-secret"
	testIngest = "ingest-token"
)

type fakeNotifications struct {
	mu       sync.Mutex
	items    map[int64][]schemas.Notification
	limits   []int
	seen     map[int64]bool
	countErr error
}

func (f *fakeNotifications) LoadNotifications(_ context.Context, userID int64, limit int) []schemas.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limits = append(f.limits, limit)
	if items, ok := f.items[userID]; ok {
		return items
	}
	return []schemas.Notification{}
}

func (f *fakeNotifications) UnseenCount(_ context.Context, userID int64) (int64, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	var n int64
	for _, item := range f.items[userID] {
		if !f.seen[item.ID] {
			n++
		}
	}
	return n, nil
}

func (f *fakeNotifications) owns(userID, id int64) bool {
	for _, item := range f.items[userID] {
		if item.ID == id {
			return true
		}
	}
	return false
}

func (f *fakeNotifications) MarkAsRead(_ context.Context, userID, id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.owns(userID, id) {
		return false
	}
	f.seen[id] = true
	return true
}

func (f *fakeNotifications) MarkAsUnread(_ context.Context, userID, id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.owns(userID, id) {
		return false
	}
	f.seen[id] = false
	return true
}

type fakeConnections struct {
	edges map[[2]int64]bool
	users map[int64]string
}

func (f *fakeConnections) Follow(_ context.Context, followerID, followeeID int64) (bool, error) {
	if followerID == followeeID {
		return false, services.ErrSelfFollow
	}
	if _, ok := f.users[followeeID]; !ok {
		return false, database.ErrNotFound
	}
	key := [2]int64{followerID, followeeID}
	if f.edges[key] {
		return false, nil
	}
	f.edges[key] = true
	return true, nil
}

func (f *fakeConnections) Unfollow(_ context.Context, followerID, followeeID int64) (bool, error) {
	key := [2]int64{followerID, followeeID}
	removed := f.edges[key]
	delete(f.edges, key)
	return removed, nil
}

func (f *fakeConnections) ReverseConnections(_ context.Context, userID int64) ([]schemas.UserRef, error) {
	var out []schemas.UserRef
	for edge := range f.edges {
		if edge[1] == userID {
			out = append(out, schemas.UserRef{ID: edge[0], Alias: f.users[edge[0]]})
		}
	}
	return out, nil
}

type fakeSettings struct {
	values map[int64]bool
}

func (f *fakeSettings) GetNotificationSettings(_ context.Context, userID int64) (schemas.NotificationSettings, error) {
	enabled, ok := f.values[userID]
	if !ok {
		enabled = true
	}
	return schemas.NotificationSettings{EmailNotificationsEnabled: enabled}, nil
}

func (f *fakeSettings) SetNotificationSettings(_ context.Context, userID int64, s schemas.NotificationSettings) error {
	f.values[userID] = s.EmailNotificationsEnabled
	return nil
}

type fakeStream struct {
	mu           sync.Mutex
	ch           chan schemas.Notification
	unsubscribed bool
}

func (f *fakeStream) Subscribe(int64) chan schemas.Notification {
	return f.ch
}

func (f *fakeStream) Unsubscribe(int64, chan schemas.Notification) {
	f.mu.Lock()
	f.unsubscribed = true
	f.mu.Unlock()
}

func (f *fakeStream) done() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubscribed
}

type fixture struct {
	router        http.Handler
	notifications *fakeNotifications
	connections   *fakeConnections
	settings      *fakeSettings
	stream        *fakeStream
	bus           *events.Bus
	received      chan events.Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	f := &fixture{
		notifications: &fakeNotifications{
			items: map[int64][]schemas.Notification{
				1: {
					{ID: 11, UserID: 1, Alias: "nino", Type: schemas.TypeGPSGuess, Details: map[string]any{"score": 87}, CreatedAt: now},
					{ID: 12, UserID: 1, Alias: "nino", Type: schemas.TypeUserStartedFollowing, Details: map[string]any{}, CreatedAt: now.Add(-time.Hour)},
				},
				2: {{ID: 21, UserID: 2, Type: schemas.TypeGPSPostFailed, CreatedAt: now}},
			},
			seen: map[int64]bool{},
		},
		connections: &fakeConnections{
			edges: map[[2]int64]bool{},
			users: map[int64]string{1: "nino", 2: "giorgi", 3: "tamar"},
		},
		settings: &fakeSettings{values: map[int64]bool{}},
		stream:   &fakeStream{ch: make(chan schemas.Notification, 1)},
		received: make(chan events.Event, 4),
	}
	f.bus = events.NewBus(context.Background(), events.Config{Mode: events.ModeSync}, nil, zap.NewNop())
	t.Cleanup(f.bus.Shutdown)
	f.bus.Subscribe(events.PostCreatedType, func(_ context.Context, evt events.Event) error {
		f.received <- evt
		return nil
	})

	f.router = NewRouter(Deps{
		Notifications: f.notifications,
		Connections:   f.connections,
		Settings:      f.settings,
		Events:        f.bus,
		Stream:        f.stream,
	}, Config{
		JWTSecret:         testSecret,
		IngestToken:       testIngest,
		AllowedOrigins:    []string{"https://geoguess.ge"},
		HeartbeatInterval: 20 * time.Millisecond,
	}, zap.NewNop())
	return f
}

func token(t *testing.T, userID string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: userID, ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (f *fixture) do(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, userID))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestVersion(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/version", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[map[string]string](t, rec)
	assert.Equal(t, "development", info["version"])
}

func TestRequiresAuth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/notifications", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Unauthorized")
}

func TestListNotifications(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/notifications?limit=5", "1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[schemas.NotificationList](t, rec)
	require.Len(t, list.Items, 2)
	assert.Equal(t, int64(11), list.Items[0].ID)
	assert.Equal(t, schemas.TypeGPSGuess, list.Items[0].Type)

	rec = f.do(t, http.MethodGet, "/api/notifications", "3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[]}`, rec.Body.String())
	assert.Equal(t, []int{5, 0}, f.notifications.limits)

	rec = f.do(t, http.MethodGet, "/api/notifications?limit=ten", "1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "[InvalidQueryValue] invalid limit")
}

func TestMarkReadAndUnread(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/notifications/unseen-count", "1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"count":2}`, rec.Body.String())

	rec = f.do(t, http.MethodPut, "/api/notifications/11/read", "1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/notifications/unseen-count", "1", "")
	assert.JSONEq(t, `{"count":1}`, rec.Body.String())

	rec = f.do(t, http.MethodPut, "/api/notifications/11/unread", "1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/notifications/unseen-count", "1", "")
	assert.JSONEq(t, `{"count":2}`, rec.Body.String())
}

func TestMarkReadOtherUsersNotification(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/notifications/21/read", "1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"ok":false}`, rec.Body.String())
	assert.False(t, f.notifications.seen[21])

	rec = f.do(t, http.MethodPut, "/api/notifications/abc/read", "1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnseenCountError(t *testing.T) {
	f := newFixture(t)
	f.notifications.countErr = errors.New("db down")

	rec := f.do(t, http.MethodGet, "/api/notifications/unseen-count", "1", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")
}

func TestFollow(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/connections/2", "1", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"created":true}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/connections/2", "1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"created":false}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/connections/1", "1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/connections/99", "1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/users/2/followers", "3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"id":1,"alias":"nino"}]`, rec.Body.String())

	rec = f.do(t, http.MethodDelete, "/api/connections/2", "1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/users/2/followers", "3", "")
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestSettings(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/settings/notifications", "1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"emailNotificationsEnabled":true}`, rec.Body.String())

	rec = f.do(t, http.MethodPut, "/api/settings/notifications", "1", `{"emailNotificationsEnabled":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, f.settings.values[1])

	rec = f.do(t, http.MethodGet, "/api/settings/notifications", "1", "")
	assert.JSONEq(t, `{"emailNotificationsEnabled":false}`, rec.Body.String())

	rec = f.do(t, http.MethodPut, "/api/settings/notifications", "1", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func ingest(t *testing.T, f *fixture, bearer, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader(body))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestIngestEvent(t *testing.T) {
	f := newFixture(t)

	rec := ingest(t, f, testIngest, `{"type":"post.created","payload":{"postId":7,"authorId":2,"authorAlias":"giorgi","title":"Narikala"}}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"accepted":true,"type":"post.created"}`, rec.Body.String())

	select {
	case evt := <-f.received:
		assert.Equal(t, events.PostCreatedType, evt.Type)
		p := evt.Payload.(events.PostCreated)
		assert.Equal(t, int64(7), p.PostID)
		assert.Equal(t, "Narikala", p.Title)
	case <-time.After(time.Second):
		t.Fatal("event was not dispatched")
	}
}

func TestIngestRejects(t *testing.T) {
	f := newFixture(t)

	rec := ingest(t, f, "", `{"type":"post.created","payload":{"postId":7,"authorId":2}}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ingest(t, f, token(t, "1"), `{"type":"post.created","payload":{"postId":7,"authorId":2}}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ingest(t, f, testIngest, `{"type":"post.deleted","payload":{}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ingest(t, f, testIngest, `{"type":"post.created","payload":{"authorId":2}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ingest(t, f, testIngest, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, f.received)
}

func TestCORS(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/notifications", nil)
	req.Header.Set("Origin", "https://geoguess.ge")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	assert.Equal(t, "https://geoguess.ge", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStream(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	f.stream.ch <- schemas.Notification{ID: 31, UserID: 1, Type: schemas.TypeGPSGuess, Details: map[string]any{"score": 87}}

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/notifications/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token(t, "1"))

	res, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, "text/event-stream", res.Header.Get("Content-Type"))

	var (
		data      string
		heartbeat bool
	)
	scanner := bufio.NewScanner(res.Body)
	for (data == "" || !heartbeat) && scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") {
			data = strings.TrimPrefix(line, "data: ")
		}
		if line == ": ping" {
			heartbeat = true
		}
	}
	cancel()

	var n schemas.Notification
	require.NoError(t, json.Unmarshal([]byte(data), &n))
	assert.Equal(t, int64(31), n.ID)
	assert.True(t, heartbeat)
	assert.Eventually(t, f.stream.done, time.Second, 10*time.Millisecond)
}
