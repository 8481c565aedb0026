// Package playback реализует постраничный просмотр истории разворотами и озвучивание.
package playback

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"storybook-server/internal/models"
)

// NarrationNothingToRead уведомление, когда на развороте нет текста.
const NarrationNothingToRead = "No text to read on the current page(s)."

// Entry элемент развернутого списка: обложка или страница.
type Entry struct {
	IsCover  bool
	Title    string
	ImageURL string
	Page     models.Page
}

// Notice сообщение для оболочки просмотра. Err заполнен для ошибок озвучивания.
type Notice struct {
	Message string
	Err     error
}

// NoticeFunc получает уведомления просмотрщика. Вызывается без удержания блокировки.
type NoticeFunc func(Notice)

// Viewer конечный автомат просмотра: список [обложка, страница 1 … страница N],
// разворот s показывает элементы 2s и 2s+1.
type Viewer struct {
	mu       sync.Mutex
	entries  []Entry
	spread   int
	engine   NarrationEngine
	reading  bool
	current  UtteranceID
	gen      uint64
	onNotice NoticeFunc
	logger   *zap.Logger
}

// NewViewer открывает историю на нулевом развороте.
func NewViewer(story *models.Story, engine NarrationEngine, logger *zap.Logger) *Viewer {
	if engine == nil {
		engine = UnsupportedEngine{}
	}
	entries := make([]Entry, 0, len(story.Pages)+1)
	entries = append(entries, Entry{IsCover: true, Title: story.Title, ImageURL: story.CoverImageURL})
	for _, p := range story.Pages {
		entries = append(entries, Entry{Page: p, ImageURL: p.ImageURL})
	}
	return &Viewer{
		entries: entries,
		engine:  engine,
		logger:  logger.Named("Viewer").With(zap.String("story_id", story.ID)),
	}
}

// OnNotice задает обработчик уведомлений.
func (v *Viewer) OnNotice(fn NoticeFunc) {
	v.mu.Lock()
	v.onNotice = fn
	v.mu.Unlock()
}

func (v *Viewer) canNextLocked() bool { return 2*v.spread+3 <= len(v.entries) }
func (v *Viewer) canPrevLocked() bool { return v.spread > 0 }

func (v *Viewer) CanNext() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.canNextLocked()
}

func (v *Viewer) CanPrev() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.canPrevLocked()
}

// Next листает вперед. Возвращает false, если разворот последний; чтение при этом не прерывается.
func (v *Viewer) Next() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.canNextLocked() {
		return false
	}
	v.stopLocked()
	v.spread++
	return true
}

// Prev листает назад.
func (v *Viewer) Prev() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.canPrevLocked() {
		return false
	}
	v.stopLocked()
	v.spread--
	return true
}

func (v *Viewer) Spread() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.spread
}

func (v *Viewer) Reading() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reading
}

// Visible возвращает левый и, если есть, правый элемент текущего разворота.
func (v *Viewer) Visible() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.visibleLocked()
}

func (v *Viewer) visibleLocked() []Entry {
	left := 2 * v.spread
	right := left + 2
	if right > len(v.entries) {
		right = len(v.entries)
	}
	return append([]Entry(nil), v.entries[left:right]...)
}

// PageLabel подпись разворота: "Cover", "Page 1" или "Page 2/3".
func (v *Viewer) PageLabel() string {
	v.mu.Lock()
	defer v.mu.Unlock()

	var nums []int
	for _, e := range v.visibleLocked() {
		if !e.IsCover {
			nums = append(nums, e.Page.Index)
		}
	}
	switch len(nums) {
	case 0:
		return "Cover"
	case 1:
		return fmt.Sprintf("Page %d", nums[0])
	default:
		return fmt.Sprintf("Page %d/%d", nums[0], nums[1])
	}
}

// ToggleNarration включает или выключает озвучивание текущего разворота.
func (v *Viewer) ToggleNarration() error {
	v.mu.Lock()

	if v.reading {
		v.stopLocked()
		v.mu.Unlock()
		return nil
	}

	var parts []string
	for _, e := range v.visibleLocked() {
		if !e.IsCover && strings.TrimSpace(e.Page.Text) != "" {
			parts = append(parts, e.Page.Text)
		}
	}
	text := strings.TrimSpace(strings.Join(parts, " "))
	if text == "" {
		notify := v.onNotice
		v.mu.Unlock()
		if notify != nil {
			notify(Notice{Message: NarrationNothingToRead})
		}
		return nil
	}

	v.gen++
	gen := v.gen
	id, err := v.engine.Speak(text, func(err error) { v.finish(gen, err) })
	if err != nil {
		v.reading = false
		v.mu.Unlock()
		v.logger.Warn("Narration failed to start", zap.Error(err))
		return asPlaybackError(err)
	}
	v.current = id
	v.reading = true
	v.mu.Unlock()

	v.logger.Debug("Narration started", zap.String("utterance_id", string(id)), zap.Int("spread", v.Spread()))
	return nil
}

// Close прекращает озвучивание.
func (v *Viewer) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopLocked()
}

func (v *Viewer) stopLocked() {
	if !v.reading {
		return
	}
	v.engine.Cancel(v.current)
	v.gen++
	v.reading = false
	v.current = ""
}

func (v *Viewer) finish(gen uint64, err error) {
	v.mu.Lock()
	if gen != v.gen || !v.reading {
		v.mu.Unlock()
		return
	}
	v.reading = false
	v.current = ""
	notify := v.onNotice
	v.mu.Unlock()

	if err == nil {
		return
	}
	v.logger.Warn("Narration ended with error", zap.Error(err))
	if notify != nil {
		notify(Notice{Message: err.Error(), Err: asPlaybackError(err)})
	}
}

func asPlaybackError(err error) error {
	if errors.Is(err, models.ErrPlayback) {
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrPlayback, err)
}
