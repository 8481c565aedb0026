package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"storybook-server/internal/config"
	"storybook-server/internal/models"
)

var requirementsExtractionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "storybook_requirements_extractions_total",
		Help: "Total number of requirement extraction calls by status.",
	},
	[]string{"status"},
)

const requirementsSystemPrompt = "You are a helpful assistant that extracts information and returns only valid JSON."

const requirementsPromptTemplate = `You are an expert at extracting specific information from children's story requests.

Extract ONLY these fields from the parent's request:

1. "ages": list of child ages as integers (e.g. [4, 6])
2. "length": story length as a string (e.g. "5 minutes", "short", "long")
3. "names": list of child names mentioned (e.g. ["Emma", "Jack"])
4. "characters": list of story characters or animals (e.g. ["princess", "dragon"])
5. "educational_behavior": list of behaviours or values to teach (e.g. ["sharing", "kindness"])
6. "avoid_topics": list of topics to avoid (e.g. ["scary content"])

Return ONLY a JSON object with exactly these field names. Use [] or null when there is no information.

Parent's request: %s`

// RequirementsExtractor извлекает структурированные пожелания из свободного промпта.
type RequirementsExtractor interface {
	ExtractRequirements(ctx context.Context, prompt string) (models.StoryRequirements, error)
}

type openAIRequirementsExtractor struct {
	client *openaigo.Client
	model  string
	logger *zap.Logger
}

func (e *openAIRequirementsExtractor) ExtractRequirements(ctx context.Context, prompt string) (models.StoryRequirements, error) {
	resp, err := e.client.CreateChatCompletion(ctx, openaigo.ChatCompletionRequest{
		Model: e.model,
		Messages: []openaigo.ChatCompletionMessage{
			{Role: openaigo.ChatMessageRoleSystem, Content: requirementsSystemPrompt},
			{Role: openaigo.ChatMessageRoleUser, Content: fmt.Sprintf(requirementsPromptTemplate, prompt)},
		},
		MaxTokens:      500,
		Temperature:    0.1,
		ResponseFormat: &openaigo.ChatCompletionResponseFormat{Type: openaigo.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		requirementsExtractionsTotal.WithLabelValues("error").Inc()
		return models.StoryRequirements{}, fmt.Errorf("requirements extraction call failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		requirementsExtractionsTotal.WithLabelValues("error_empty_response").Inc()
		return models.StoryRequirements{}, fmt.Errorf("requirements extraction returned no choices")
	}
	return finishExtraction(e.logger, prompt, resp.Choices[0].Message.Content)
}

type ollamaRequirementsExtractor struct {
	client  *api.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

func (e *ollamaRequirementsExtractor) ExtractRequirements(ctx context.Context, prompt string) (models.StoryRequirements, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	stream := false
	req := &api.ChatRequest{
		Model: e.model,
		Messages: []api.Message{
			{Role: "system", Content: requirementsSystemPrompt},
			{Role: "user", Content: fmt.Sprintf(requirementsPromptTemplate, prompt)},
		},
		Stream:  &stream,
		Format:  json.RawMessage(`"json"`),
		Options: map[string]any{"temperature": 0.1},
	}
	var resp api.ChatResponse
	if err := e.client.Chat(reqCtx, req, func(r api.ChatResponse) error {
		resp = r
		return nil
	}); err != nil {
		requirementsExtractionsTotal.WithLabelValues("error").Inc()
		return models.StoryRequirements{}, fmt.Errorf("requirements extraction call failed: %w", err)
	}
	return finishExtraction(e.logger, prompt, resp.Message.Content)
}

func finishExtraction(log *zap.Logger, prompt, content string) (models.StoryRequirements, error) {
	reqs, err := ParseRequirements(content)
	if err != nil {
		requirementsExtractionsTotal.WithLabelValues("error_parse").Inc()
		log.Warn("Failed to parse extracted requirements", zap.Int("content_length", len(content)), zap.Error(err))
		return models.StoryRequirements{}, err
	}
	reqs.AdditionalRequirements = []string{strings.TrimSpace(prompt)}
	requirementsExtractionsTotal.WithLabelValues("success").Inc()
	log.Info("Requirements extracted",
		zap.Int("ages", len(reqs.Ages)),
		zap.Int("names", len(reqs.Names)),
		zap.Int("characters", len(reqs.Characters)),
		zap.String("length", reqs.Length),
	)
	return reqs, nil
}

// ParseRequirements разбирает JSON-ответ модели. Допускает обрамление ```json и
// возраст строками; нестроковые и пустые элементы списков отбрасываются.
func ParseRequirements(content string) (models.StoryRequirements, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var raw struct {
		Ages                []any `json:"ages"`
		Length              any   `json:"length"`
		Names               []any `json:"names"`
		Characters          []any `json:"characters"`
		EducationalBehavior []any `json:"educational_behavior"`
		AvoidTopics         []any `json:"avoid_topics"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return models.StoryRequirements{}, fmt.Errorf("requirements response is not valid JSON: %w", err)
	}

	reqs := models.FallbackRequirements("", nil)
	reqs.AdditionalRequirements = nil
	for _, a := range raw.Ages {
		switch v := a.(type) {
		case float64:
			if v > 0 && v == float64(int(v)) {
				reqs.Ages = append(reqs.Ages, int(v))
			}
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
				reqs.Ages = append(reqs.Ages, n)
			}
		}
	}
	switch v := raw.Length.(type) {
	case string:
		reqs.Length = strings.TrimSpace(v)
	case float64:
		reqs.Length = strconv.Itoa(int(v)) + " minutes"
	}
	reqs.Names = stringItems(raw.Names)
	reqs.Characters = stringItems(raw.Characters)
	reqs.EducationalBehavior = stringItems(raw.EducationalBehavior)
	reqs.AvoidTopics = stringItems(raw.AvoidTopics)
	return reqs, nil
}

func stringItems(in []any) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		s, ok := item.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// NewRequirementsExtractor создает экстрактор на том же провайдере, что и генерация текста.
func NewRequirementsExtractor(cfg config.RequirementsConfig, narrative config.NarrativeConfig, logger *zap.Logger) (RequirementsExtractor, error) {
	log := logger.Named("RequirementsExtractor")
	model := cfg.Model
	if model == "" {
		model = narrative.Model
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	switch strings.ToLower(narrative.ClientType) {
	case "openai":
		oaCfg := openaigo.DefaultConfig(narrative.APIKey)
		oaCfg.BaseURL = narrative.BaseURL
		oaCfg.HTTPClient = httpClient
		log.Info("Using OpenAI requirements extractor", zap.String("model", model))
		return &openAIRequirementsExtractor{client: openaigo.NewClientWithConfig(oaCfg), model: model, logger: log}, nil
	case "ollama":
		base := strings.TrimSuffix(strings.TrimSuffix(narrative.BaseURL, "/"), "/v1")
		parsed, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid Ollama base URL '%s': %w", base, err)
		}
		log.Info("Using Ollama requirements extractor", zap.String("model", model))
		return &ollamaRequirementsExtractor{client: api.NewClient(parsed, httpClient), model: model, timeout: timeout, logger: log}, nil
	default:
		return nil, fmt.Errorf("unknown narrative client type: %s", narrative.ClientType)
	}
}
