package reader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"storybook-server/internal/models"
)

// LoadFile читает историю из JSON-файла.
func LoadFile(path string) (*models.Story, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read story file: %w", err)
	}
	var story models.Story
	if err := json.Unmarshal(data, &story); err != nil {
		return nil, fmt.Errorf("%w: story file is not valid JSON: %v", models.ErrValidation, err)
	}
	if err := story.Validate(); err != nil {
		return nil, fmt.Errorf("story file %s: %w", path, err)
	}
	return &story, nil
}

// Fetcher загружает историю с сервера.
type Fetcher struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// NewFetcher создает Fetcher с таймаутом.
func NewFetcher(baseURL, token string, timeout time.Duration) *Fetcher {
	return &Fetcher{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  &http.Client{Timeout: timeout},
	}
}

// Fetch запрашивает GET /api/v1/stories/{id}.
func (f *Fetcher) Fetch(ctx context.Context, id string) (*models.Story, error) {
	endpoint := f.BaseURL + "/api/v1/stories/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if f.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.Token)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch story: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: story %s", models.ErrNotFound, id)
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: server rejected the token", models.ErrTokenInvalid)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var story models.Story
	if err := json.NewDecoder(resp.Body).Decode(&story); err != nil {
		return nil, fmt.Errorf("decode story: %w", err)
	}
	return &story, nil
}
