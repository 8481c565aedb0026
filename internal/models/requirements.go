package models

import (
	"regexp"
	"strconv"
	"strings"
)

// StoryLength желаемая длина истории.
type StoryLength string

const (
	LengthShort  StoryLength = "short"
	LengthMedium StoryLength = "medium"
	LengthLong   StoryLength = "long"
)

var minutesPattern = regexp.MustCompile(`(\d+)\s*(?:min|minute)`)

// ParseStoryLength понимает как точные значения (short, Medium, LONG), так и свободный текст
// из извлеченных требований ("quick", "5 minutes").
func ParseStoryLength(s string) (StoryLength, bool) {
	v := strings.ToLower(strings.TrimSpace(s))
	if v == "" {
		return "", false
	}
	switch v {
	case string(LengthShort), string(LengthMedium), string(LengthLong):
		return StoryLength(v), true
	}
	if m := minutesPattern.FindStringSubmatch(v); m != nil {
		minutes, err := strconv.Atoi(m[1])
		if err != nil {
			return "", false
		}
		switch {
		case minutes <= 3:
			return LengthShort, true
		case minutes <= 7:
			return LengthMedium, true
		default:
			return LengthLong, true
		}
	}
	switch {
	case strings.Contains(v, "short"), strings.Contains(v, "quick"), strings.Contains(v, "brief"):
		return LengthShort, true
	case strings.Contains(v, "long"), strings.Contains(v, "bedtime"):
		return LengthLong, true
	case strings.Contains(v, "medium"):
		return LengthMedium, true
	}
	return "", false
}

// Pages число страниц для длины. Пустая длина возвращает 0: действует STORY_MAX_PAGES.
func (l StoryLength) Pages() int {
	switch l {
	case LengthShort:
		return 3
	case LengthMedium:
		return 5
	case LengthLong:
		return 8
	default:
		return 0
	}
}

// ChildProfile сведения о ребенке, для которого пишется история.
type ChildProfile struct {
	Name        string   `json:"name,omitempty"`
	Personality string   `json:"personality,omitempty"`
	Likes       []string `json:"likes,omitempty"`
}

// IsZero сообщает, что профиль ничего не содержит.
func (p *ChildProfile) IsZero() bool {
	return p == nil || (strings.TrimSpace(p.Name) == "" && strings.TrimSpace(p.Personality) == "" && len(p.Likes) == 0)
}

// StoryRequirements структурированные пожелания, извлеченные из свободного промпта.
type StoryRequirements struct {
	Ages                   []int    `json:"ages"`
	Length                 string   `json:"length,omitempty"`
	Names                  []string `json:"names"`
	Characters             []string `json:"characters"`
	EducationalBehavior    []string `json:"educational_behavior"`
	AvoidTopics            []string `json:"avoid_topics"`
	AdditionalRequirements []string `json:"additional_requirements"`
	ExtractionError        string   `json:"extraction_error,omitempty"`
}

// FallbackRequirements результат, когда извлечь требования не удалось: остается только исходный промпт.
func FallbackRequirements(prompt string, err error) StoryRequirements {
	r := StoryRequirements{
		Ages:                   []int{},
		Names:                  []string{},
		Characters:             []string{},
		EducationalBehavior:    []string{},
		AvoidTopics:            []string{},
		AdditionalRequirements: []string{strings.TrimSpace(prompt)},
	}
	if err != nil {
		r.ExtractionError = err.Error()
	}
	return r
}
