// Package jobs は非同期ジョブ管理機能を提供します。
//
// セッション状態の保持（Registry）、パイプライン実行の投入（Dispatcher）、
// 投入・状態取得・ダウンロードの窓口（Manager）から構成されます。
package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Runner は1セッション分のパイプラインを実行します。失敗はレジストリに記録し、呼び出し元へは返しません。
type Runner interface {
	Run(ctx context.Context, task Task)
}

// Dispatcher はタスクを実行キューへ投入します。
type Dispatcher interface {
	Dispatch(ctx context.Context, task Task) error
}

// Pool は固定数のワーカーと固定長のキューで Runner を実行します。
type Pool struct {
	runner  Runner
	workers int
	tasks   chan Task
	logger  zerolog.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	group   *errgroup.Group
}

// NewPool は Pool を作成します。Start を呼ぶまでタスクは実行されません。
func NewPool(runner Runner, workers, queueSize int, logger zerolog.Logger) (*Pool, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner is nil")
	}
	if workers <= 0 {
		return nil, fmt.Errorf("workers must be positive")
	}
	if queueSize < 0 {
		return nil, fmt.Errorf("queueSize must not be negative")
	}
	return &Pool{
		runner:  runner,
		workers: workers,
		tasks:   make(chan Task, queueSize),
		logger:  logger.With().Str("component", "pool").Logger(),
	}, nil
}

// Start はワーカーを起動します。ctx は各 Run に渡されます。
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	g := new(errgroup.Group)
	for i := 0; i < p.workers; i++ {
		worker := i
		g.Go(func() error {
			for task := range p.tasks {
				p.run(ctx, worker, task)
			}
			return nil
		})
	}
	p.group = g
	p.logger.Info().Int("workers", p.workers).Int("queue_size", cap(p.tasks)).Msg("worker pool started")
}

// Dispatch はタスクをキューへ入れます。キューが満杯なら待たずに ErrQueueFull を返します。
func (p *Pool) Dispatch(ctx context.Context, task Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrDispatcherClosed
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown は新規投入を止め、キューに残ったタスクを処理し終えるまで待ちます。
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	group := p.group
	p.mu.Unlock()

	if group == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- group.Wait()
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) run(ctx context.Context, worker int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Int("worker", worker).
				Str("session_id", task.SessionID).
				Interface("panic", r).
				Msg("pipeline run panicked")
		}
	}()
	p.runner.Run(ctx, task)
}
