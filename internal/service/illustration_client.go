package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"storybook-server/internal/config"
	"storybook-server/internal/models"
)

const (
	illustrationTextLimit          = 150
	illustrationTextLimitWithStyle = 120
)

var illustrationRequestsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "storybook_illustration_requests_total",
		Help: "Total number of requests to the illustration API.",
	},
	[]string{"client", "status"},
)

// IllustrationGenerator рисует иллюстрацию к тексту страницы и возвращает ссылку на нее (URL или data:).
type IllustrationGenerator interface {
	GenerateIllustration(ctx context.Context, pageText string, styleHint bool) (string, error)
}

// BuildIllustrationPrompt формирует промпт иллюстрации из текста страницы.
// styleHint означает, что пользователь приложил изображения-образцы стиля.
func BuildIllustrationPrompt(pageText string, styleHint bool) string {
	if styleHint {
		return fmt.Sprintf(`Create a children's book illustration in a style inspired by the user's uploaded image(s), depicting: "%s..."`,
			truncateRunes(pageText, illustrationTextLimitWithStyle))
	}
	return fmt.Sprintf(`A colorful and whimsical children's book illustration for a story page with the text: "%s..."`,
		truncateRunes(pageText, illustrationTextLimit))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// --- OpenAI Images ---

type openAIIllustrationClient struct {
	client *openaigo.Client
	model  string
	size   string
	logger *zap.Logger
}

func (c *openAIIllustrationClient) GenerateIllustration(ctx context.Context, pageText string, styleHint bool) (string, error) {
	prompt := BuildIllustrationPrompt(pageText, styleHint)
	resp, err := c.client.CreateImage(ctx, openaigo.ImageRequest{
		Prompt:         prompt,
		Model:          c.model,
		Size:           c.size,
		N:              1,
		ResponseFormat: openaigo.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		c.logger.Warn("Image API call failed", zap.Error(err))
		illustrationRequestsTotal.WithLabelValues("openai", "error").Inc()
		return "", fmt.Errorf("%w: %v", models.ErrIllustrationGeneration, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		illustrationRequestsTotal.WithLabelValues("openai", "error_empty_response").Inc()
		return "", fmt.Errorf("%w: API returned no image data", models.ErrIllustrationGeneration)
	}
	illustrationRequestsTotal.WithLabelValues("openai", "success").Inc()
	return "data:image/png;base64," + resp.Data[0].B64JSON, nil
}

// --- HTTP сервер изображений ---

// imageServerRequest тело запроса к серверу изображений.
type imageServerRequest struct {
	Prompt string `json:"prompt"`
	Ratio  string `json:"ratio"`
}

type httpIllustrationClient struct {
	baseURL string
	ratio   string
	client  *http.Client
	logger  *zap.Logger
}

func (c *httpIllustrationClient) GenerateIllustration(ctx context.Context, pageText string, styleHint bool) (string, error) {
	data, mimeType, err := c.callImageServer(ctx, BuildIllustrationPrompt(pageText, styleHint))
	if err != nil {
		illustrationRequestsTotal.WithLabelValues("http", "error").Inc()
		return "", fmt.Errorf("%w: %v", models.ErrIllustrationGeneration, err)
	}
	if len(data) == 0 {
		illustrationRequestsTotal.WithLabelValues("http", "error_empty_response").Inc()
		return "", fmt.Errorf("%w: API returned empty data", models.ErrIllustrationGeneration)
	}
	illustrationRequestsTotal.WithLabelValues("http", "success").Inc()
	return dataURI(mimeType, data), nil
}

func (c *httpIllustrationClient) callImageServer(ctx context.Context, prompt string) ([]byte, string, error) {
	log := c.logger.With(zap.String("api_url", c.baseURL))

	body, err := json.Marshal(imageServerRequest{Prompt: prompt, Ratio: c.ratio})
	if err != nil {
		return nil, "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	endpoint := strings.TrimSuffix(c.baseURL, "/") + "/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/*")

	resp, err := c.client.Do(req)
	if err != nil {
		log.Warn("Image server request failed", zap.Error(err))
		return nil, "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		log.Warn("Image server returned non-OK status",
			zap.Int("status_code", resp.StatusCode),
			zap.ByteString("response_body", payload),
		)
		return nil, "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(payload))
	}
	if readErr != nil {
		return nil, "", fmt.Errorf("failed to read response body: %w", readErr)
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" || !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(payload)
	}
	return payload, mimeType, nil
}

// disabledIllustrationClient всегда возвращает ошибку, так что каждая страница получит заглушку.
type disabledIllustrationClient struct{}

func (disabledIllustrationClient) GenerateIllustration(context.Context, string, bool) (string, error) {
	return "", fmt.Errorf("%w: illustration client is disabled", models.ErrIllustrationGeneration)
}

// NewIllustrationGenerator создает клиент иллюстраций по ILLUSTRATION_CLIENT_TYPE.
func NewIllustrationGenerator(cfg config.IllustrationConfig, logger *zap.Logger) (IllustrationGenerator, error) {
	log := logger.Named("IllustrationClient")
	httpClient := &http.Client{Timeout: cfg.Timeout}
	if cfg.Timeout <= 0 {
		httpClient.Timeout = 120 * time.Second
	}

	switch strings.ToLower(cfg.ClientType) {
	case "openai":
		oaCfg := openaigo.DefaultConfig(cfg.APIKey)
		oaCfg.BaseURL = cfg.BaseURL
		oaCfg.HTTPClient = httpClient
		log.Info("Using OpenAI illustration client", zap.String("model", cfg.Model), zap.String("size", cfg.Size))
		return &openAIIllustrationClient{
			client: openaigo.NewClientWithConfig(oaCfg),
			model:  cfg.Model,
			size:   cfg.Size,
			logger: log,
		}, nil
	case "http":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("ILLUSTRATION_API_BASE_URL is required for http illustration client")
		}
		log.Info("Using HTTP image server", zap.String("base_url", cfg.BaseURL), zap.String("ratio", cfg.Ratio))
		return &httpIllustrationClient{
			baseURL: cfg.BaseURL,
			ratio:   cfg.Ratio,
			client:  httpClient,
			logger:  log,
		}, nil
	case "none":
		log.Warn("Illustration client disabled, every page will get a placeholder")
		return disabledIllustrationClient{}, nil
	default:
		return nil, fmt.Errorf("unknown illustration client type: %s", cfg.ClientType)
	}
}
