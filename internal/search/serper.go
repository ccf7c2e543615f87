package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"golang.org/x/time/rate"
)

const serperEndpoint = "https://google.serper.dev/search"

// SerperBackend queries the Serper.dev Google proxy. It is the preferred
// tier: structured JSON, date fields, and regional targeting.
type SerperBackend struct {
	apiKey     string
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewSerperBackend reads SERPER_API_KEY from the environment. A missing key
// yields a backend that reports NotConfiguredError on every call.
func NewSerperBackend(httpClient *http.Client) *SerperBackend {
	return &SerperBackend{
		apiKey:     os.Getenv("SERPER_API_KEY"),
		endpoint:   serperEndpoint,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
	}
}

func (b *SerperBackend) Name() string { return "serper" }

type serperRequest struct {
	Q   string `json:"q"`
	GL  string `json:"gl,omitempty"`
	HL  string `json:"hl,omitempty"`
	Num int    `json:"num,omitempty"`
}

type serperOrganic struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
	Date    string `json:"date"`
}

type serperResponse struct {
	Organic []serperOrganic `json:"organic"`
}

func (b *SerperBackend) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if b.apiKey == "" {
		return nil, &NotConfiguredError{Backend: b.Name()}
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(serperRequest{
		Q:   query,
		GL:  opts.Market,
		HL:  opts.Language,
		Num: opts.Count,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding serper request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-KEY", b.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Msg: "serper request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized {
		return nil, &Error{Msg: fmt.Sprintf("serper rejected credentials (status %d)", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &Error{Msg: fmt.Sprintf("serper returned status %d: %s", resp.StatusCode, body)}
	}

	var decoded serperResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &Error{Msg: "decoding serper response", Err: err}
	}

	results := make([]Result, 0, len(decoded.Organic))
	for _, item := range decoded.Organic {
		if shouldSkipURL(item.Link) {
			continue
		}
		results = append(results, Result{
			Title:       item.Title,
			URL:         item.Link,
			Snippet:     item.Snippet,
			Date:        item.Date,
			Source:      b.Name(),
			SearchQuery: query,
		})
	}
	return results, nil
}
