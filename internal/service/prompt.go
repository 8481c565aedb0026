package service

import (
	"fmt"
	"strings"

	"storybook-server/internal/models"
)

const (
	defaultPersonality = "kind and curious"
	defaultChildName   = "the child"
	defaultAgeHint     = "Make it engaging for a 3 to 6 year old."
)

var lengthHints = map[models.StoryLength]string{
	models.LengthShort:  "Make it brief, about 3 short paragraphs.",
	models.LengthMedium: "Make it a medium-length story, about 5 paragraphs.",
	models.LengthLong:   "Make it a longer story, about 8 paragraphs.",
}

// BuildStoryPrompt дополняет пользовательский промпт профилем ребенка, извлеченными
// требованиями и подсказкой длины. reqs и profile могут быть nil.
// Абзацы просят разделять пустой строкой: по ним текст делится на страницы.
func BuildStoryPrompt(prompt string, length models.StoryLength, profile *models.ChildProfile, reqs *models.StoryRequirements) string {
	var parts []string

	name := ""
	if !profile.IsZero() {
		name = strings.TrimSpace(profile.Name)
	}
	if name == "" && reqs != nil && len(reqs.Names) > 0 {
		name = joinList(reqs.Names)
	}
	if name != "" || !profile.IsZero() {
		if name == "" {
			name = defaultChildName
		}
		personality := defaultPersonality
		var likes []string
		if !profile.IsZero() {
			if p := strings.TrimSpace(profile.Personality); p != "" {
				personality = p
			}
			likes = profile.Likes
		}
		line := fmt.Sprintf("Write a story for a child named %s who is %s", name, personality)
		if len(likes) > 0 {
			line += " and loves " + joinList(likes)
		}
		parts = append(parts, line+".")
	}

	if reqs != nil {
		if len(reqs.Characters) > 0 {
			parts = append(parts, "Include these characters: "+strings.Join(reqs.Characters, ", ")+".")
		}
		if len(reqs.EducationalBehavior) > 0 {
			parts = append(parts, "Gently teach about "+joinList(reqs.EducationalBehavior)+".")
		}
		if len(reqs.AvoidTopics) > 0 {
			parts = append(parts, "Avoid "+joinList(reqs.AvoidTopics)+".")
		}
	}

	if prompt = strings.TrimSpace(prompt); prompt != "" {
		parts = append(parts, "Follow these instructions: "+prompt)
	}

	if hint, ok := lengthHints[length]; ok {
		parts = append(parts, hint)
	}
	parts = append(parts, ageHint(reqs))
	parts = append(parts, "Separate paragraphs with a blank line.")
	return strings.Join(parts, " ")
}

func ageHint(reqs *models.StoryRequirements) string {
	if reqs == nil || len(reqs.Ages) == 0 {
		return defaultAgeHint
	}
	lo, hi := reqs.Ages[0], reqs.Ages[0]
	for _, a := range reqs.Ages[1:] {
		lo = min(lo, a)
		hi = max(hi, a)
	}
	if lo == hi {
		return fmt.Sprintf("Make it engaging for a %d year old.", lo)
	}
	return fmt.Sprintf("Make it engaging for a %d to %d year old.", lo, hi)
}

// joinList: "a", "a and b", "a, b and c".
func joinList(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
	}
}
