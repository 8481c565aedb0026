// Package taskmanager выполняет генерации историй как асинхронные задачи.
package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"storybook-server/internal/models"
)

var activeTasksGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "storybook_generation_tasks_active",
	Help: "Number of generation tasks currently pending or running.",
})

// ErrTooManyTasks превышен лимит одновременно активных задач.
var ErrTooManyTasks = errors.New("too many active generation tasks")

// TaskStatus статус задачи.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Task снимок состояния задачи генерации.
type Task struct {
	ID        uuid.UUID              `json:"id"`
	Status    TaskStatus             `json:"status"`
	Progress  int                    `json:"progress"`
	Stage     models.GenerationStage `json:"stage,omitempty"`
	Message   string                 `json:"message,omitempty"`
	StoryID   string                 `json:"story_id,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Owner     string                 `json:"-"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

func (t *Task) finished() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

// ProgressFunc записывает прогресс в задачу.
type ProgressFunc func(models.GenerationProgress)

// TaskFunc тело задачи. Возвращает id созданной истории.
type TaskFunc func(ctx context.Context, taskID uuid.UUID, progress ProgressFunc) (string, error)

// Config конфигурация TaskManager.
type Config struct {
	MaxTasks int
}

// TaskManager хранит задачи в памяти процесса.
type TaskManager struct {
	mu       sync.RWMutex
	tasks    map[uuid.UUID]*Task
	maxTasks int
	wg       sync.WaitGroup
	logger   *zap.Logger
	now      func() time.Time
}

// New создает TaskManager. MaxTasks <= 0 заменяется на 10.
func New(cfg Config, logger *zap.Logger) *TaskManager {
	maxTasks := cfg.MaxTasks
	if maxTasks <= 0 {
		maxTasks = 10
	}
	return &TaskManager{
		tasks:    make(map[uuid.UUID]*Task),
		maxTasks: maxTasks,
		logger:   logger.Named("TaskManager"),
		now:      time.Now,
	}
}

// Submit регистрирует задачу и запускает ее в отдельной горутине.
// Контекст задачи не зависит от ctx вызывающего: генерация не отменяется вместе с запросом.
func (tm *TaskManager) Submit(ctx context.Context, owner string, fn TaskFunc) (uuid.UUID, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	active := 0
	for _, t := range tm.tasks {
		if !t.finished() {
			active++
		}
	}
	if active >= tm.maxTasks {
		return uuid.Nil, fmt.Errorf("%w: limit %d", ErrTooManyTasks, tm.maxTasks)
	}

	now := tm.now()
	task := &Task{
		ID:        uuid.New(),
		Status:    TaskStatusPending,
		Owner:     owner,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tm.tasks[task.ID] = task
	activeTasksGauge.Inc()

	taskCtx := context.WithoutCancel(ctx)
	tm.wg.Add(1)
	go func() {
		defer tm.wg.Done()
		defer activeTasksGauge.Dec()
		tm.run(taskCtx, task.ID, fn)
	}()

	return task.ID, nil
}

func (tm *TaskManager) run(ctx context.Context, id uuid.UUID, fn TaskFunc) {
	log := tm.logger.With(zap.String("task_id", id.String()))
	tm.update(id, func(t *Task) { t.Status = TaskStatusRunning })

	storyID, err := fn(ctx, id, func(p models.GenerationProgress) {
		tm.update(id, func(t *Task) {
			t.Stage = p.Stage
			t.Message = p.Message
			if pct := p.Percent(); pct > t.Progress {
				t.Progress = pct
			}
		})
	})
	if err != nil {
		log.Warn("Generation task failed", zap.Error(err))
		tm.update(id, func(t *Task) {
			t.Status = TaskStatusFailed
			t.Stage = models.StageFailed
			t.Error = err.Error()
		})
		return
	}

	log.Info("Generation task completed", zap.String("story_id", storyID))
	tm.update(id, func(t *Task) {
		t.Status = TaskStatusCompleted
		t.Stage = models.StageDone
		t.Progress = 100
		t.StoryID = storyID
	})
}

func (tm *TaskManager) update(id uuid.UUID, mutate func(*Task)) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	t, ok := tm.tasks[id]
	if !ok {
		return
	}
	mutate(t)
	t.UpdatedAt = tm.now()
}

// GetTask возвращает копию задачи.
func (tm *TaskManager) GetTask(id uuid.UUID) (Task, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	t, ok := tm.tasks[id]
	if !ok {
		return Task{}, fmt.Errorf("%w: task %s", models.ErrNotFound, id)
	}
	return *t, nil
}

// CleanupTasks удаляет завершенные задачи старше age. Возвращает число удаленных.
func (tm *TaskManager) CleanupTasks(age time.Duration) int {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	now := tm.now()
	removed := 0
	for id, t := range tm.tasks {
		if t.finished() && now.Sub(t.UpdatedAt) > age {
			delete(tm.tasks, id)
			removed++
		}
	}
	if removed > 0 {
		tm.logger.Debug("Finished tasks cleaned up", zap.Int("removed", removed))
	}
	return removed
}

// RunCleanup периодически вызывает CleanupTasks до отмены ctx.
func (tm *TaskManager) RunCleanup(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tm.CleanupTasks(retention)
		}
	}
}

// Shutdown ждет завершения запущенных задач или отмены ctx.
func (tm *TaskManager) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		tm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for generation tasks: %w", ctx.Err())
	}
}
