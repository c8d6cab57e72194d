package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tgdrive/geonotify/internal/events"
)

func testEvent() events.Event {
	return events.Event{
		ID:         uuid.New(),
		Type:       events.PostCreatedType,
		Payload:    events.PostCreated{PostID: 4, AuthorID: 1, AuthorAlias: "A", Title: "Tbilisi view"},
		OccurredAt: time.Date(2026, 9, 1, 8, 0, 0, 0, time.UTC),
	}
}

func TestFanoutArgs(t *testing.T) {
	args := FanoutArgs{Event: testEvent()}
	assert.Equal(t, "notification_fanout", args.Kind())
	assert.Equal(t, 1, args.InsertOpts().MaxAttempts)

	data, err := json.Marshal(args)
	require.NoError(t, err)
	var got FanoutArgs
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, args, got)
}

func TestFanoutWorker(t *testing.T) {
	var got []events.Event
	w := &FanoutWorker{
		dispatch: func(_ context.Context, evt events.Event) int {
			got = append(got, evt)
			return 0
		},
		logger: zap.NewNop(),
	}
	evt := testEvent()
	job := &river.Job[FanoutArgs]{JobRow: &rivertype.JobRow{ID: 9}, Args: FanoutArgs{Event: evt}}

	require.NoError(t, w.Work(context.Background(), job))
	assert.Equal(t, []events.Event{evt}, got)
}

func TestErrorHandler(t *testing.T) {
	h := &errorHandler{logger: zap.NewNop()}
	row := &rivertype.JobRow{ID: 3, Kind: "notification_fanout", Attempt: 1}

	assert.Nil(t, h.HandleError(context.Background(), row, errors.New("boom")))
	assert.Nil(t, h.HandlePanic(context.Background(), row, "boom", "trace"))
}
