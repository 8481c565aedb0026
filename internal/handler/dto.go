package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"storybook-server/internal/models"
)

// APIError стандартный ответ об ошибке.
type APIError struct {
	Message string `json:"message"`
}

type imageDTO struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data" binding:"required"`
	Name     string `json:"name,omitempty"`
}

type childProfileDTO struct {
	Name        string   `json:"name" binding:"max=64"`
	Personality string   `json:"personality" binding:"max=200"`
	Likes       []string `json:"likes" binding:"max=10"`
}

type generateStoryRequest struct {
	Prompt  string           `json:"prompt"`
	Images  []imageDTO       `json:"images" binding:"omitempty,dive"`
	Length  string           `json:"length,omitempty"`
	Profile *childProfileDTO `json:"profile,omitempty"`
}

// storyLength пустая строка допустима; остальное только short, medium или long.
func (r generateStoryRequest) storyLength() (models.StoryLength, error) {
	if strings.TrimSpace(r.Length) == "" {
		return "", nil
	}
	switch l := models.StoryLength(strings.ToLower(strings.TrimSpace(r.Length))); l {
	case models.LengthShort, models.LengthMedium, models.LengthLong:
		return l, nil
	}
	return "", fmt.Errorf("%w: length must be short, medium or long", models.ErrValidation)
}

func (r generateStoryRequest) childProfile() *models.ChildProfile {
	if r.Profile == nil {
		return nil
	}
	p := &models.ChildProfile{Name: r.Profile.Name, Personality: r.Profile.Personality, Likes: r.Profile.Likes}
	if p.IsZero() {
		return nil
	}
	return p
}

type extractRequirementsRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

// toImages декодирует base64, допускает data URI.
func (r generateStoryRequest) toImages() ([]models.InspirationImage, error) {
	images := make([]models.InspirationImage, 0, len(r.Images))
	for i, img := range r.Images {
		raw := img.Data
		if idx := strings.Index(raw, ";base64,"); strings.HasPrefix(raw, "data:") && idx > 0 {
			if img.MimeType == "" {
				img.MimeType = strings.TrimPrefix(raw[:idx], "data:")
			}
			raw = raw[idx+len(";base64,"):]
		}
		data, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: image %d is not valid base64", models.ErrValidation, i+1)
		}
		images = append(images, models.InspirationImage{MimeType: img.MimeType, Data: data, Name: img.Name})
	}
	return images, nil
}

type generateStoryResponse struct {
	TaskID    string `json:"task_id"`
	StatusURL string `json:"status_url"`
}

type guestSessionResponse struct {
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type deleteStoryResponse struct {
	Deleted bool   `json:"deleted"`
	Notice  string `json:"notice,omitempty"`
}

type liveMessage struct {
	Type    string         `json:"type"`
	Stories []models.Story `json:"stories"`
}
