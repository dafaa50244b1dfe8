package mailqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/activity-fanout/pkg/config"
	"github.com/angelmondragon/activity-fanout/pkg/logger"
)

// Handler processes one queued payload. Returning an error wrapping SkipRetry
// archives the task immediately.
type Handler func(ctx context.Context, payload []byte) error

// Server runs the asynq worker that drains the mail queue.
type Server struct {
	server *asynq.Server
	cfg    config.MailQueueConfig
	logg   *logger.Logger
}

// NewServer configures the asynq server for the mail queue.
func NewServer(opts *goredis.Options, cfg config.MailQueueConfig, logg *logger.Logger) (*Server, error) {
	if opts == nil {
		return nil, errors.New("redis options required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	srv := asynq.NewServer(RedisOpt(opts), asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{cfg.Queue: 1},
		Logger:      &asynqLogger{logg: logg},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			taskID, _ := asynq.GetTaskID(ctx)
			errCtx := logg.WithFields(ctx, map[string]any{
				"task_id":   taskID,
				"task_type": task.Type(),
				"retried":   retried,
				"max_retry": maxRetry,
			})
			logg.Error(errCtx, "mail task failed", err)
		}),
	})
	return &Server{server: srv, cfg: cfg, logg: logg}, nil
}

// Run processes digest email tasks until ctx is canceled, then drains in-flight tasks.
func (s *Server) Run(ctx context.Context, handle Handler) error {
	if handle == nil {
		return errors.New("handler required")
	}
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskDigestEmail, func(taskCtx context.Context, task *asynq.Task) error {
		taskID, _ := asynq.GetTaskID(taskCtx)
		retried, _ := asynq.GetRetryCount(taskCtx)
		taskCtx = s.logg.WithFields(taskCtx, map[string]any{
			"task_id": taskID,
			"retried": retried,
		})
		return handle(taskCtx, task.Payload())
	})

	if err := s.server.Start(mux); err != nil {
		return fmt.Errorf("start mail queue server: %w", err)
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"queue":       s.cfg.Queue,
		"concurrency": s.cfg.Concurrency,
	}), "mail worker started")

	<-ctx.Done()
	s.server.Shutdown()
	s.logg.Info(ctx, "mail worker stopped")
	return ctx.Err()
}

// asynqLogger routes asynq's internal logging through the service logger.
type asynqLogger struct {
	logg *logger.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) {}

func (l *asynqLogger) Info(args ...interface{}) {
	l.logg.Info(context.Background(), fmt.Sprint(args...))
}

func (l *asynqLogger) Warn(args ...interface{}) {
	l.logg.Warn(context.Background(), fmt.Sprint(args...))
}

func (l *asynqLogger) Error(args ...interface{}) {
	l.logg.Error(context.Background(), fmt.Sprint(args...), nil)
}

func (l *asynqLogger) Fatal(args ...interface{}) {
	l.logg.Error(context.Background(), fmt.Sprint(args...), nil)
}
