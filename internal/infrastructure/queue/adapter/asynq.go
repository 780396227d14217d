package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/infrastructure/queue/port"
	"github.com/abba-boss/luxury-cars-automobiles-sub002/internal/observability"
)

// AsynqClient implements port.Client on github.com/hibiken/asynq.
type AsynqClient struct {
	client *asynq.Client
}

// NewAsynqClient builds a client for the Redis instance at redisURL.
func NewAsynqClient(redisURL string) (*AsynqClient, error) {
	if redisURL == "" {
		return nil, errors.New("asynq: redis url is empty")
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	return &AsynqClient{client: asynq.NewClient(opt)}, nil
}

var _ port.Client = (*AsynqClient)(nil)

func (a *AsynqClient) Enqueue(ctx context.Context, t port.Task, opts ...port.EnqueueOption) (string, error) {
	if t.Type == "" {
		return "", errors.New("asynq: task type is required")
	}
	info, err := a.client.EnqueueContext(ctx, asynq.NewTask(t.Type, t.Payload), toAsynqOptions(opts)...)
	if err != nil {
		return "", err
	}
	return info.ID, nil
}

func (a *AsynqClient) Close() error {
	return a.client.Close()
}

// toAsynqOptions maps the first option; callers pass one consolidated option.
func toAsynqOptions(opts []port.EnqueueOption) []asynq.Option {
	if len(opts) == 0 {
		return nil
	}
	op := opts[0]
	var out []asynq.Option
	if op.ProcessIn > 0 {
		out = append(out, asynq.ProcessIn(op.ProcessIn))
	}
	if op.Queue != "" {
		out = append(out, asynq.Queue(op.Queue))
	}
	if op.MaxRetry > 0 {
		out = append(out, asynq.MaxRetry(op.MaxRetry))
	}
	if op.UniqueTTL > 0 {
		out = append(out, asynq.Unique(op.UniqueTTL))
	}
	if op.Retention > 0 {
		out = append(out, asynq.Retention(op.Retention))
	}
	if !op.Deadline.IsZero() {
		out = append(out, asynq.Deadline(op.Deadline))
	}
	return out
}

// AsynqServer implements port.Server on github.com/hibiken/asynq.
type AsynqServer struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewAsynqServer builds a worker server consuming the weighted queues. Empty
// weights consume "realtime" only.
func NewAsynqServer(redisURL string, concurrency int, weights map[string]int, logger *slog.Logger) (*AsynqServer, error) {
	if redisURL == "" {
		return nil, errors.New("asynq: redis url is empty")
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("asynq: parse redis url: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 10
	}
	if len(weights) == 0 {
		weights = map[string]int{"realtime": 1}
	}
	logger = observability.OrDiscard(logger).With("component", "asynq")

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      weights,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("task failed", "type", task.Type(), "error", err)
		}),
	})
	return &AsynqServer{server: srv, mux: asynq.NewServeMux()}, nil
}

var _ port.Server = (*AsynqServer)(nil)

func (s *AsynqServer) Register(taskType string, h port.Handler) {
	s.mux.HandleFunc(taskType, func(ctx context.Context, t *asynq.Task) error {
		err := h(ctx, port.Task{Type: t.Type(), Payload: t.Payload()})
		if errors.Is(err, port.ErrSkipRetry) {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return err
	})
}

// Run starts the workers and blocks until ctx is canceled, then shuts down.
func (s *AsynqServer) Run(ctx context.Context) error {
	if err := s.server.Start(s.mux); err != nil {
		return err
	}
	<-ctx.Done()
	s.server.Shutdown()
	return nil
}
