package models

// IdentityClass класс вызывающего.
type IdentityClass string

const (
	IdentityAuthenticated   IdentityClass = "authenticated"
	IdentityGuest           IdentityClass = "guest"
	IdentityUnauthenticated IdentityClass = "unauthenticated"
)

// Identity определяет, кто вызывает и куда будет записан результат.
type Identity struct {
	Class     IdentityClass `json:"class"`
	UserID    string        `json:"user_id,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
}

// OwnerKey ключ коллекции: user id для авторизованных, пусто для гостей.
func (i Identity) OwnerKey() string {
	if i.Class == IdentityAuthenticated {
		return i.UserID
	}
	return ""
}

// InspirationImage изображение, приложенное к запросу.
type InspirationImage struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data"`
	Name     string `json:"name,omitempty"`
}

// GenerationRequest запрос на генерацию истории.
type GenerationRequest struct {
	Prompt   string             `json:"prompt"`
	Images   []InspirationImage `json:"images,omitempty"`
	Identity Identity           `json:"identity"`
	// Length и Profile необязательны; при их наличии промпт дополняется.
	Length  StoryLength   `json:"length,omitempty"`
	Profile *ChildProfile `json:"profile,omitempty"`
	// RequestID связывает события прогресса с задачей; может быть пустым.
	RequestID string `json:"request_id,omitempty"`
}

// HasImages сообщает, приложил ли пользователь изображения.
func (r GenerationRequest) HasImages() bool {
	return len(r.Images) > 0
}

// GenerationStage стадия конвейера.
type GenerationStage string

const (
	StageNarrativeInFlight GenerationStage = "narrative_in_flight"
	StageIllustratingPage  GenerationStage = "illustrating_page"
	StageDone              GenerationStage = "done"
	StageFailed            GenerationStage = "failed"
)

// GenerationProgress информационное событие о ходе генерации.
type GenerationProgress struct {
	Stage       GenerationStage `json:"stage"`
	CurrentPage int             `json:"current_page,omitempty"`
	TotalPages  int             `json:"total_pages,omitempty"`
	StoryID     string          `json:"story_id,omitempty"`
	Message     string          `json:"message,omitempty"`
}

// Percent грубая оценка прогресса для отображения.
func (p GenerationProgress) Percent() int {
	switch p.Stage {
	case StageNarrativeInFlight:
		return 10
	case StageIllustratingPage:
		if p.TotalPages <= 0 {
			return 10
		}
		return 10 + 80*p.CurrentPage/p.TotalPages
	case StageDone:
		return 100
	default:
		return 0
	}
}
