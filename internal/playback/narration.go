package playback

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"storybook-server/internal/models"
)

// UtteranceID идентифицирует одно озвучивание внутри движка.
type UtteranceID string

// NarrationEngine синтезатор речи.
// onDone вызывается ровно один раз по завершении озвучивания (err == nil при
// естественном окончании) и никогда не вызывается синхронно изнутри Speak или Cancel.
type NarrationEngine interface {
	Speak(text string, onDone func(error)) (UtteranceID, error)
	Cancel(id UtteranceID)
}

// UnsupportedEngine используется, когда синтез речи недоступен.
type UnsupportedEngine struct{}

func (UnsupportedEngine) Speak(string, func(error)) (UtteranceID, error) {
	return "", fmt.Errorf("%w: text-to-speech is not supported on this system", models.ErrPlayback)
}

func (UnsupportedEngine) Cancel(UtteranceID) {}

// CommandEngine озвучивает текст внешней командой (например, espeak).
// Текст передается последним аргументом; отмена убивает процесс.
type CommandEngine struct {
	command string
	args    []string
	logger  *zap.Logger

	mu      sync.Mutex
	running map[UtteranceID]context.CancelFunc
	seq     atomic.Uint64
}

// NewCommandEngine проверяет наличие команды в PATH.
func NewCommandEngine(command string, logger *zap.Logger, args ...string) (*CommandEngine, error) {
	if command == "" {
		return nil, fmt.Errorf("%w: tts command is empty", models.ErrPlayback)
	}
	path, err := exec.LookPath(command)
	if err != nil {
		return nil, fmt.Errorf("%w: tts command %q not found: %v", models.ErrPlayback, command, err)
	}
	return &CommandEngine{
		command: path,
		args:    args,
		logger:  logger.Named("CommandEngine"),
		running: make(map[UtteranceID]context.CancelFunc),
	}, nil
}

// EngineFromCommand возвращает CommandEngine или UnsupportedEngine, если команды нет.
func EngineFromCommand(command string, logger *zap.Logger) NarrationEngine {
	engine, err := NewCommandEngine(command, logger)
	if err != nil {
		logger.Warn("Narration disabled", zap.String("command", command), zap.Error(err))
		return UnsupportedEngine{}
	}
	return engine
}

func (e *CommandEngine) Speak(text string, onDone func(error)) (UtteranceID, error) {
	ctx, cancel := context.WithCancel(context.Background())
	args := append(append([]string(nil), e.args...), text)
	cmd := exec.CommandContext(ctx, e.command, args...)
	if err := cmd.Start(); err != nil {
		cancel()
		return "", fmt.Errorf("%w: %v", models.ErrPlayback, err)
	}

	id := UtteranceID(strconv.FormatUint(e.seq.Add(1), 10))
	e.mu.Lock()
	e.running[id] = cancel
	e.mu.Unlock()

	e.logger.Debug("Utterance started", zap.String("utterance_id", string(id)), zap.Int("pid", cmd.Process.Pid))

	go func() {
		err := cmd.Wait()
		e.mu.Lock()
		delete(e.running, id)
		e.mu.Unlock()
		cancelled := ctx.Err() != nil
		cancel()

		switch {
		case cancelled:
			onDone(nil)
		case err != nil:
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				onDone(fmt.Errorf("%w: tts exited with code %d", models.ErrPlayback, exitErr.ExitCode()))
				return
			}
			onDone(fmt.Errorf("%w: %v", models.ErrPlayback, err))
		default:
			onDone(nil)
		}
	}()

	return id, nil
}

func (e *CommandEngine) Cancel(id UtteranceID) {
	e.mu.Lock()
	cancel, ok := e.running[id]
	e.mu.Unlock()
	if ok {
		cancel()
		e.logger.Debug("Utterance cancelled", zap.String("utterance_id", string(id)))
	}
}
