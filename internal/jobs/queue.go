package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

const (
	taskTypePipeline = "notes:pipeline"
	queueName        = "notes"
)

// AsynqDispatcher は Redis 上の Asynq キューを介して Runner を実行します。
type AsynqDispatcher struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	runner Runner
	logger zerolog.Logger
}

// NewAsynqDispatcher は AsynqDispatcher を初期化します。concurrency が同時実行数の上限です。
func NewAsynqDispatcher(redisURL string, concurrency int, runner Runner, logger zerolog.Logger) (*AsynqDispatcher, error) {
	if runner == nil {
		return nil, errors.New("runner is nil")
	}
	if concurrency <= 0 {
		return nil, errors.New("concurrency must be positive")
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	d := &AsynqDispatcher{
		client: asynq.NewClient(opt),
		server: asynq.NewServer(opt, asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				queueName: 1,
			},
		}),
		mux:    asynq.NewServeMux(),
		runner: runner,
		logger: logger.With().Str("component", "asynq").Logger(),
	}
	d.mux.HandleFunc(taskTypePipeline, d.handleTask)
	return d, nil
}

// Start は Asynq サーバーをバックグラウンドで起動します。
func (d *AsynqDispatcher) Start(ctx context.Context) {
	go func() {
		if err := d.server.Run(d.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			d.logger.Error().Err(err).Msg("asynq server stopped with error")
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (d *AsynqDispatcher) Shutdown(ctx context.Context) error {
	d.server.Shutdown()
	return d.client.Close()
}

// Dispatch はタスクをキューに投入します。失敗時の再試行は行いません。
func (d *AsynqDispatcher) Dispatch(ctx context.Context, task Task) error {
	queued, err := newPipelineTask(task)
	if err != nil {
		return err
	}
	info, err := d.client.EnqueueContext(ctx, queued, asynq.MaxRetry(0))
	if err != nil {
		return err
	}
	d.logger.Debug().Str("session_id", task.SessionID).Str("task_id", info.ID).Msg("task enqueued")
	return nil
}

func newPipelineTask(task Task) (*asynq.Task, error) {
	if task.SessionID == "" {
		return nil, fmt.Errorf("task.SessionID is required")
	}
	body, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskTypePipeline, body, asynq.Queue(queueName)), nil
}

func (d *AsynqDispatcher) handleTask(ctx context.Context, t *asynq.Task) error {
	var task Task
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if task.SessionID == "" {
		return fmt.Errorf("missing sessionId in payload: %w", asynq.SkipRetry)
	}
	// 実行結果はレジストリに記録されるため、Asynq には常に成功として返す
	d.runner.Run(ctx, task)
	return nil
}
