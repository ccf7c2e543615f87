package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiClient produces JSON completions through the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

// NewGeminiClient builds a client for the given API key and model.
func NewGeminiClient(ctx context.Context, apiKey, model string, logger *zap.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, &GenerationError{Msg: "GEMINI_API_KEY is not set"}
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, &GenerationError{Msg: "creating gemini client", Err: err}
	}
	return &GeminiClient{client: client, model: model, logger: logger}, nil
}

// CompleteJSON sends the prompt with a JSON response MIME type. System
// messages become the system instruction; user messages are concatenated.
func (c *GeminiClient) CompleteJSON(ctx context.Context, messages []Message) (map[string]any, error) {
	var system string
	var contents []*genai.Content
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += msg.Content
			continue
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	result, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return nil, &GenerationError{Msg: "gemini generation failed", Err: err}
	}
	text := result.Text()
	if text == "" {
		return nil, &GenerationError{Msg: "gemini returned an empty response"}
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, &GenerationError{
			Msg: fmt.Sprintf("parsing gemini JSON output (raw: %.200s)", text),
			Err: err,
		}
	}
	return parsed, nil
}

// NewFromEnv selects the provider from LLM_PROVIDER: "gemini" uses the
// Gemini API, anything else the OpenAI-compatible endpoint.
func NewFromEnv(ctx context.Context, logger *zap.Logger) (Client, error) {
	if os.Getenv("LLM_PROVIDER") == "gemini" {
		model := os.Getenv("GEMINI_MODEL")
		if model == "" {
			model = os.Getenv("MODEL")
		}
		return NewGeminiClient(ctx, os.Getenv("GEMINI_API_KEY"), model, logger)
	}
	return NewOpenAIClientFromEnv(logger)
}
