package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/pkoukk/tiktoken-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"storybook-server/internal/config"
	"storybook-server/internal/models"
)

var (
	narrativeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storybook_narrative_requests_total",
			Help: "Total number of requests to the narrative generation API.",
		},
		[]string{"model", "status"},
	)
	narrativeRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storybook_narrative_request_duration_seconds",
			Help:    "Histogram of narrative generation request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)
	narrativePromptTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storybook_narrative_prompt_tokens",
			Help:    "Histogram of prompt token counts (reported or estimated).",
			Buckets: prometheus.LinearBuckets(25, 25, 20),
		},
		[]string{"model", "source"},
	)
	narrativeCompletionTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storybook_narrative_completion_tokens",
			Help:    "Histogram of completion token counts.",
			Buckets: prometheus.LinearBuckets(100, 100, 20),
		},
		[]string{"model"},
	)
)

// NarrativeGenerator превращает промпт и, необязательно, одно изображение в сплошной текст истории.
type NarrativeGenerator interface {
	GenerateNarrative(ctx context.Context, prompt string, image *models.InspirationImage) (string, error)
}

// --- OpenAI ---

type openAINarrativeClient struct {
	client *openaigo.Client
	model  string
	logger *zap.Logger
}

func (c *openAINarrativeClient) GenerateNarrative(ctx context.Context, prompt string, image *models.InspirationImage) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		narrativeRequestsTotal.WithLabelValues(c.model, "error").Inc()
		return "", fmt.Errorf("%w: prompt is empty", models.ErrNarrativeGeneration)
	}

	msg := openaigo.ChatCompletionMessage{Role: openaigo.ChatMessageRoleUser}
	if image != nil {
		msg.MultiContent = []openaigo.ChatMessagePart{
			{Type: openaigo.ChatMessagePartTypeText, Text: prompt},
			{
				Type:     openaigo.ChatMessagePartTypeImageURL,
				ImageURL: &openaigo.ChatMessageImageURL{URL: dataURI(image.MimeType, image.Data)},
			},
		}
	} else {
		msg.Content = prompt
	}

	start := time.Now()
	c.logger.Info("Sending narrative request",
		zap.String("model", c.model),
		zap.Int("prompt_bytes", len(prompt)),
		zap.Bool("with_image", image != nil),
	)

	resp, err := c.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model:    c.model,
		Messages: []openaigo.ChatCompletionMessage{msg},
	})
	duration := time.Since(start)
	if err != nil {
		c.logger.Error("Narrative API returned error", zap.Duration("duration", duration), zap.Error(err))
		narrativeRequestsTotal.WithLabelValues(c.model, "error").Inc()
		return "", fmt.Errorf("%w: %w", models.ErrNarrativeGeneration, err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		c.logger.Error("Narrative API returned empty response", zap.Duration("duration", duration))
		narrativeRequestsTotal.WithLabelValues(c.model, "error_empty_response").Inc()
		return "", fmt.Errorf("%w: empty response", models.ErrNarrativeGeneration)
	}

	narrativeRequestsTotal.WithLabelValues(c.model, "success").Inc()
	narrativeRequestDuration.WithLabelValues(c.model).Observe(duration.Seconds())

	text := resp.Choices[0].Message.Content
	if resp.Usage.TotalTokens > 0 {
		narrativePromptTokens.WithLabelValues(c.model, "reported").Observe(float64(resp.Usage.PromptTokens))
		narrativeCompletionTokens.WithLabelValues(c.model).Observe(float64(resp.Usage.CompletionTokens))
	} else if n, ok := estimateTokens(c.model, prompt); ok {
		narrativePromptTokens.WithLabelValues(c.model, "estimated").Observe(float64(n))
	}

	c.logger.Info("Narrative received",
		zap.Duration("duration", duration),
		zap.Int("text_length", len(text)),
	)
	return text, nil
}

// estimateTokens оценивает число токенов промпта, когда провайдер не вернул usage.
func estimateTokens(model, text string) (int, bool) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err != nil {
			return 0, false
		}
	}
	return len(enc.Encode(text, nil, nil)), true
}

// --- Ollama ---

type ollamaNarrativeClient struct {
	client  *api.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

func (c *ollamaNarrativeClient) GenerateNarrative(ctx context.Context, prompt string, image *models.InspirationImage) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		narrativeRequestsTotal.WithLabelValues(c.model, "error").Inc()
		return "", fmt.Errorf("%w: prompt is empty", models.ErrNarrativeGeneration)
	}

	msg := api.Message{Role: "user", Content: prompt}
	if image != nil {
		msg.Images = []api.ImageData{api.ImageData(image.Data)}
	}
	stream := false
	req := &api.ChatRequest{
		Model:    c.model,
		Messages: []api.Message{msg},
		Stream:   &stream,
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	c.logger.Info("Sending narrative request to Ollama",
		zap.String("model", c.model),
		zap.Int("prompt_bytes", len(prompt)),
		zap.Bool("with_image", image != nil),
	)

	var resp api.ChatResponse
	err := c.client.Chat(reqCtx, req, func(r api.ChatResponse) error {
		resp = r
		return nil
	})
	duration := time.Since(start)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.logger.Error("Ollama request timed out", zap.Duration("timeout", c.timeout), zap.Error(err))
		} else {
			c.logger.Error("Ollama API returned error", zap.Duration("duration", duration), zap.Error(err))
		}
		narrativeRequestsTotal.WithLabelValues(c.model, "error").Inc()
		return "", fmt.Errorf("%w: %w", models.ErrNarrativeGeneration, err)
	}
	if strings.TrimSpace(resp.Message.Content) == "" {
		c.logger.Error("Ollama API returned empty response", zap.Duration("duration", duration))
		narrativeRequestsTotal.WithLabelValues(c.model, "error_empty_response").Inc()
		return "", fmt.Errorf("%w: empty response", models.ErrNarrativeGeneration)
	}

	narrativeRequestsTotal.WithLabelValues(c.model, "success").Inc()
	narrativeRequestDuration.WithLabelValues(c.model).Observe(duration.Seconds())
	if resp.PromptEvalCount > 0 {
		narrativePromptTokens.WithLabelValues(c.model, "reported").Observe(float64(resp.PromptEvalCount))
		narrativeCompletionTokens.WithLabelValues(c.model).Observe(float64(resp.EvalCount))
	}
	return resp.Message.Content, nil
}

// --- Повторы ---

// retryingNarrativeGenerator повторяет вызов с экспоненциальной задержкой.
type retryingNarrativeGenerator struct {
	next        NarrativeGenerator
	maxAttempts int
	baseDelay   time.Duration
	logger      *zap.Logger
}

// WithNarrativeRetries оборачивает генератор повторами. maxAttempts < 2 возвращает генератор как есть.
func WithNarrativeRetries(next NarrativeGenerator, maxAttempts int, baseDelay time.Duration, logger *zap.Logger) NarrativeGenerator {
	if maxAttempts < 2 {
		return next
	}
	return &retryingNarrativeGenerator{
		next:        next,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		logger:      logger.Named("NarrativeRetry"),
	}
}

func (r *retryingNarrativeGenerator) GenerateNarrative(ctx context.Context, prompt string, image *models.InspirationImage) (string, error) {
	var lastErr error
	delay := r.baseDelay
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		text, err := r.next.GenerateNarrative(ctx, prompt, image)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !isRetryableNarrativeError(err) {
			r.logger.Warn("Narrative request rejected, not retrying", zap.Int("attempt", attempt), zap.Error(err))
			break
		}
		if attempt == r.maxAttempts {
			break
		}
		r.logger.Warn("Narrative attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.maxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", models.ErrNarrativeGeneration, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	if errors.Is(lastErr, models.ErrNarrativeGeneration) {
		return "", lastErr
	}
	return "", fmt.Errorf("%w: %v", models.ErrNarrativeGeneration, lastErr)
}

// isRetryableNarrativeError: 4xx от провайдера (кроме 429) повторять бессмысленно.
func isRetryableNarrativeError(err error) bool {
	var apiErr *openaigo.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openaigo.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		return retryableStatus(statusErr.StatusCode)
	}
	return true
}

func retryableStatus(code int) bool {
	return code == 0 || code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// NewNarrativeGenerator создает клиент по NARRATIVE_CLIENT_TYPE и оборачивает его повторами.
// Повторы применяются только здесь: вызывающему коду оборачивать результат не нужно.
func NewNarrativeGenerator(cfg config.NarrativeConfig, logger *zap.Logger) (NarrativeGenerator, error) {
	log := logger.Named("NarrativeClient")
	httpClient := &http.Client{Timeout: cfg.Timeout}

	var gen NarrativeGenerator
	switch strings.ToLower(cfg.ClientType) {
	case "openai":
		oaCfg := openaigo.DefaultConfig(cfg.APIKey)
		oaCfg.BaseURL = cfg.BaseURL
		oaCfg.HTTPClient = httpClient
		gen = &openAINarrativeClient{
			client: openaigo.NewClientWithConfig(oaCfg),
			model:  cfg.Model,
			logger: log,
		}
		log.Info("Using OpenAI narrative client", zap.String("base_url", cfg.BaseURL), zap.String("model", cfg.Model))
	case "ollama":
		base := strings.TrimSuffix(strings.TrimSuffix(cfg.BaseURL, "/"), "/v1")
		parsed, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid Ollama base URL '%s': %w", base, err)
		}
		gen = &ollamaNarrativeClient{
			client:  api.NewClient(parsed, httpClient),
			model:   cfg.Model,
			timeout: cfg.Timeout,
			logger:  log,
		}
		log.Info("Using Ollama narrative client", zap.String("base_url", base), zap.String("model", cfg.Model))
	default:
		return nil, fmt.Errorf("unknown narrative client type: %s", cfg.ClientType)
	}

	return WithNarrativeRetries(gen, cfg.MaxAttempts, cfg.BaseRetryDelay, logger), nil
}

func dataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
