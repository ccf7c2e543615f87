package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// OpenAIConfig configures the OpenAI-compatible chat client. Any
// OpenAI-style endpoint works, the base URL is not hardcoded.
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
}

// DefaultOpenAIConfig fills in the endpoint, temperature, and retry policy.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		BaseURL:     "https://api.openai.com/v1",
		Temperature: 0.3,
		Timeout:     400 * time.Second,
		MaxRetries:  7,
	}
}

// OpenAIClient calls an OpenAI-compatible chat completions endpoint with a
// JSON response format. Only timeouts are retried; provider errors fail
// immediately.
type OpenAIClient struct {
	cfg        OpenAIConfig
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
	sleep      func(time.Duration)

	mu          sync.Mutex
	lastRequest time.Time
}

// NewOpenAIClientWithConfig validates credentials and builds the client.
func NewOpenAIClientWithConfig(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, &GenerationError{Msg: "OPENAI_API_KEY is not set"}
	}
	if cfg.Model == "" {
		return nil, &GenerationError{Msg: "model is not specified"}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIConfig().BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultOpenAIConfig().Timeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultOpenAIConfig().MaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIClient{
		cfg:        cfg,
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		sleep:      time.Sleep,
	}, nil
}

// NewOpenAIClientFromEnv reads OPENAI_BASE_URL, OPENAI_API_KEY, MODEL,
// OPENAI_TIMEOUT (seconds), and LLM_MAX_RETRIES.
func NewOpenAIClientFromEnv(logger *zap.Logger) (*OpenAIClient, error) {
	cfg := DefaultOpenAIConfig()
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		cfg.BaseURL = base
	}
	cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	cfg.Model = os.Getenv("MODEL")
	if raw := os.Getenv("OPENAI_TIMEOUT"); raw != "" {
		if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs > 0 {
			cfg.Timeout = time.Duration(secs * float64(time.Second))
		}
	}
	if raw := os.Getenv("LLM_MAX_RETRIES"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.MaxRetries = n
		}
	}
	return NewOpenAIClientWithConfig(cfg, logger)
}

type openAIRequest struct {
	Model          string         `json:"model"`
	Messages       []Message      `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// CompleteJSON requests a json_object response and parses it. Timeout
// attempts back off progressively: 10s, 20s, ... capped at 60s.
func (c *OpenAIClient) CompleteJSON(ctx context.Context, messages []Message) (map[string]any, error) {
	body, err := json.Marshal(openAIRequest{
		Model:          c.cfg.Model,
		Messages:       messages,
		Temperature:    c.cfg.Temperature,
		ResponseFormat: map[string]any{"type": "json_object"},
	})
	if err != nil {
		return nil, &GenerationError{Msg: "encoding chat request", Err: err}
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		c.throttle()
		content, err := c.post(ctx, body)
		if err == nil {
			var parsed map[string]any
			if jerr := json.Unmarshal([]byte(content), &parsed); jerr != nil {
				return nil, &GenerationError{
					Msg: fmt.Sprintf("parsing model JSON output (raw: %.200s)", content),
					Err: jerr,
				}
			}
			return parsed, nil
		}
		if !isTimeout(err) || ctx.Err() != nil {
			return nil, &GenerationError{Msg: "chat completion failed", Err: err}
		}
		lastErr = err
		if attempt < c.cfg.MaxRetries-1 {
			delay := time.Duration(10*(attempt+1)) * time.Second
			if delay > 60*time.Second {
				delay = 60 * time.Second
			}
			c.logger.Warn("chat completion timed out, retrying",
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err))
			c.sleep(delay)
		}
	}
	return nil, &GenerationError{
		Msg: fmt.Sprintf("chat completion timed out after %d attempts", c.cfg.MaxRetries),
		Err: lastErr,
	}
}

// throttle enforces a minimum interval between requests.
func (c *OpenAIClient) throttle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elapsed := time.Since(c.lastRequest); elapsed < 100*time.Millisecond {
		c.sleep(100*time.Millisecond - elapsed)
	}
	c.lastRequest = time.Now()
}

func (c *OpenAIClient) post(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("endpoint returned status %d: %s", resp.StatusCode, snippet)
	}

	var decoded openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decoding chat response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("no choices returned")
	}
	return decoded.Choices[0].Message.Content, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
