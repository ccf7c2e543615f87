package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"golang.org/x/time/rate"
)

const googleCSEEndpoint = "https://www.googleapis.com/customsearch/v1"

// GoogleCSEBackend queries the Google Custom Search JSON API, the second
// tier of the fallback chain.
type GoogleCSEBackend struct {
	apiKey     string
	engineID   string
	endpoint   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewGoogleCSEBackend reads GOOGLE_API_KEY and SEARCH_ENGINE_ID from the
// environment.
func NewGoogleCSEBackend(httpClient *http.Client) *GoogleCSEBackend {
	return &GoogleCSEBackend{
		apiKey:     os.Getenv("GOOGLE_API_KEY"),
		engineID:   os.Getenv("SEARCH_ENGINE_ID"),
		endpoint:   googleCSEEndpoint,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
	}
}

func (b *GoogleCSEBackend) Name() string { return "google_cse" }

type googleCSEItem struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

type googleCSEResponse struct {
	Items []googleCSEItem `json:"items"`
}

func (b *GoogleCSEBackend) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	if b.apiKey == "" || b.engineID == "" {
		return nil, &NotConfiguredError{Backend: b.Name()}
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("key", b.apiKey)
	params.Set("cx", b.engineID)
	params.Set("q", query)
	if opts.Language != "" {
		params.Set("lr", "lang_"+opts.Language)
	}
	if opts.Market != "" {
		params.Set("gl", opts.Market)
	}
	count := opts.Count
	if count <= 0 || count > 10 {
		count = 10
	}
	params.Set("num", fmt.Sprintf("%d", count))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Msg: "google cse request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &Error{Msg: fmt.Sprintf("google cse returned status %d: %s", resp.StatusCode, body)}
	}

	var decoded googleCSEResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &Error{Msg: "decoding google cse response", Err: err}
	}

	results := make([]Result, 0, len(decoded.Items))
	for _, item := range decoded.Items {
		if shouldSkipURL(item.Link) {
			continue
		}
		results = append(results, Result{
			Title:       item.Title,
			URL:         item.Link,
			Snippet:     item.Snippet,
			Source:      b.Name(),
			SearchQuery: query,
		})
	}
	return results, nil
}
