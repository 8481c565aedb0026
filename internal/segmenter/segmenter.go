// Package segmenter делит сплошной текст истории на страницы.
package segmenter

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxPages число страниц по умолчанию.
	DefaultMaxPages = 5
	// DefaultMinLength минимальная длина фрагмента в символах.
	DefaultMinLength = 30
)

// Граница абзацев: перевод строки, необязательные пробелы, перевод строки.
var paragraphBoundary = regexp.MustCompile(`\n\s*\n`)

// Segment делит текст по пустым строкам, обрезает пробелы у фрагментов,
// отбрасывает фрагменты короче minLength символов и оставляет не больше maxPages.
// maxPages <= 0 снимает ограничение. Функция чистая и детерминированная.
func Segment(text string, minLength, maxPages int) []string {
	fragments := paragraphBoundary.Split(text, -1)
	pages := make([]string, 0, len(fragments))
	for _, f := range fragments {
		f = strings.TrimSpace(f)
		if f == "" || utf8.RuneCountInString(f) < minLength {
			continue
		}
		pages = append(pages, f)
		if maxPages > 0 && len(pages) == maxPages {
			break
		}
	}
	return pages
}

// Join собирает страницы обратно в текст через пустую строку.
// Segment(Join(p), min, max) возвращает p, если p получен из Segment с теми же параметрами.
func Join(pages []string) string {
	return strings.Join(pages, "\n\n")
}

// Splitter хранит параметры сегментации из конфигурации.
type Splitter struct {
	MinLength int
	MaxPages  int
}

// NewSplitter создает Splitter, подставляя значения по умолчанию вместо отрицательных.
func NewSplitter(minLength, maxPages int) Splitter {
	if minLength < 0 {
		minLength = DefaultMinLength
	}
	if maxPages < 0 {
		maxPages = DefaultMaxPages
	}
	return Splitter{MinLength: minLength, MaxPages: maxPages}
}

// Split применяет Segment с сохраненными параметрами.
func (s Splitter) Split(text string) []string {
	return Segment(text, s.MinLength, s.MaxPages)
}

// SplitWithFallback как Split, но при пустом результате и непустом тексте
// возвращает одну страницу со всем обрезанным текстом.
func (s Splitter) SplitWithFallback(text string) []string {
	pages := s.Split(text)
	if len(pages) > 0 {
		return pages
	}
	if trimmed := strings.TrimSpace(text); trimmed != "" {
		return []string{trimmed}
	}
	return nil
}
