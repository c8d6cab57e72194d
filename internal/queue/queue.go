// Package queue hands events to river so fan-out survives the publishing
// process.
package queue

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/riverqueue/river/rivertype"
	"go.uber.org/zap"

	"github.com/tgdrive/geonotify/internal/events"
)

const fanoutQueue = "notifications"

// FanoutArgs carries one event to a worker.
type FanoutArgs struct {
	Event events.Event `json:"event"`
}

func (FanoutArgs) Kind() string { return "notification_fanout" }

func (FanoutArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: fanoutQueue, MaxAttempts: 1}
}

// Dispatcher runs the handlers for an event.
type Dispatcher func(ctx context.Context, evt events.Event) int

type FanoutWorker struct {
	river.WorkerDefaults[FanoutArgs]
	dispatch Dispatcher
	logger   *zap.Logger
}

// Work never fails the job: handler errors are logged by the dispatcher and
// fan-out is not retried.
func (w *FanoutWorker) Work(ctx context.Context, job *river.Job[FanoutArgs]) error {
	n := w.dispatch(ctx, job.Args.Event)
	w.logger.Debug("queue.fanout_done",
		zap.Int64("job_id", job.ID),
		zap.String("event_id", job.Args.Event.ID.String()),
		zap.String("type", string(job.Args.Event.Type)),
		zap.Int("handlers_ok", n))
	return nil
}

type errorHandler struct {
	logger *zap.Logger
}

func (h *errorHandler) HandleError(_ context.Context, job *rivertype.JobRow, err error) *river.ErrorHandlerResult {
	h.logger.Error("queue.job_failed",
		zap.Int64("job_id", job.ID),
		zap.String("kind", job.Kind),
		zap.Int("attempt", job.Attempt),
		zap.Error(err))
	return nil
}

func (h *errorHandler) HandlePanic(_ context.Context, job *rivertype.JobRow, panicVal any, trace string) *river.ErrorHandlerResult {
	h.logger.Error("queue.job_panicked",
		zap.Int64("job_id", job.ID),
		zap.String("kind", job.Kind),
		zap.Any("panic", panicVal),
		zap.String("trace", trace))
	return nil
}

type Config struct {
	Workers int
}

type Queue struct {
	client *river.Client[pgx.Tx]
	logger *zap.Logger
}

// New builds a river client that can both insert and work fan-out jobs.
func New(pool *pgxpool.Pool, cfg Config, dispatch Dispatcher, logger *zap.Logger) (*Queue, error) {
	logger = logger.Named("queue")
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}

	workers := river.NewWorkers()
	if err := river.AddWorkerSafely(workers, &FanoutWorker{dispatch: dispatch, logger: logger}); err != nil {
		return nil, errors.Wrap(err, "register fanout worker")
	}

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			fanoutQueue: {MaxWorkers: cfg.Workers},
		},
		Workers:      workers,
		ErrorHandler: &errorHandler{logger: logger},
	})
	if err != nil {
		return nil, errors.Wrap(err, "create river client")
	}
	return &Queue{client: client, logger: logger}, nil
}

// Enqueue inserts evt as a fan-out job.
func (q *Queue) Enqueue(ctx context.Context, evt events.Event) error {
	res, err := q.client.Insert(ctx, FanoutArgs{Event: evt}, nil)
	if err != nil {
		return errors.Wrap(err, "insert fanout job")
	}
	q.logger.Debug("queue.enqueued",
		zap.Int64("job_id", res.Job.ID),
		zap.String("event_id", evt.ID.String()))
	return nil
}

func (q *Queue) Start(ctx context.Context) error {
	if err := q.client.Start(ctx); err != nil {
		return errors.Wrap(err, "start river")
	}
	q.logger.Info("queue.started")
	return nil
}

func (q *Queue) Stop(ctx context.Context) error {
	if err := q.client.Stop(ctx); err != nil {
		return errors.Wrap(err, "stop river")
	}
	q.logger.Info("queue.stopped")
	return nil
}

// Migrate brings the river tables up to date.
func Migrate(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return errors.Wrap(err, "create river migrator")
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return errors.Wrap(err, "migrate river")
	}
	for _, v := range res.Versions {
		logger.Info("queue.migrated", zap.Int("version", v.Version))
	}
	return nil
}
