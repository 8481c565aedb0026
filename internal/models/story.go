package models

import (
	"strings"
	"time"
)

const (
	// PlaceholderIllustrationURL подставляется, когда иллюстрацию страницы получить не удалось.
	PlaceholderIllustrationURL = "https://placehold.co/800x600/E0C3FC/5D3A9A?text=Illustration+Error&font=lora"
	// DefaultCoverURL используется, если у истории нет ни одной иллюстрации.
	DefaultCoverURL = "https://placehold.co/300x200/FFC0CB/333333?text=My+Story&font=lora"

	// MaxInspirationImages ограничивает число изображений в одном запросе.
	MaxInspirationImages = 5
	// TitleMaxRunes длина заголовка, взятого из промпта.
	TitleMaxRunes = 40
)

// Page одна страница истории. Index начинается с 1.
type Page struct {
	Index    int    `json:"index"`
	Text     string `json:"text"`
	ImageURL string `json:"image_url"`
}

// HasPlaceholder true, если вместо иллюстрации стоит заглушка.
func (p Page) HasPlaceholder() bool {
	return p.ImageURL == PlaceholderIllustrationURL
}

// Story собранная иллюстрированная история.
type Story struct {
	ID            string    `json:"id" db:"id"`
	Title         string    `json:"title" db:"title"`
	Pages         []Page    `json:"pages" db:"-"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	OwnerID       string    `json:"owner_id,omitempty" db:"owner_id"`
	CoverImageURL string    `json:"cover_image_url" db:"cover_image_url"`
	IsDemo        bool      `json:"is_demo" db:"is_demo"`
}

// Clone возвращает копию истории, не разделяющую слайс страниц с оригиналом.
func (s *Story) Clone() *Story {
	if s == nil {
		return nil
	}
	c := *s
	c.Pages = append([]Page(nil), s.Pages...)
	return &c
}

// Validate проверяет инварианты собранной истории.
func (s *Story) Validate() error {
	if len(s.Pages) == 0 {
		return ErrEmptyGeneration
	}
	for i, p := range s.Pages {
		if p.Index != i+1 {
			return ErrValidation
		}
	}
	return nil
}

// TitleFromPrompt берет первые TitleMaxRunes символов обрезанного промпта.
// Пустой результат означает, что заголовок нужно сгенерировать.
func TitleFromPrompt(prompt string) string {
	r := []rune(strings.TrimSpace(prompt))
	if len(r) > TitleMaxRunes {
		r = r[:TitleMaxRunes]
	}
	return strings.TrimSpace(string(r))
}
