package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/recaplabs/recap/internal/config"
	"github.com/recaplabs/recap/internal/tracing"
)

// TavilyProvider queries the Tavily search API. Primary provider: it
// returns relevance-scored, content-rich snippets.
type TavilyProvider struct {
	src     config.ProviderSource
	client  *http.Client
	limiter *rateLimiter
	logger  *zap.Logger
}

func NewTavily(src config.ProviderSource, logger *zap.Logger) *TavilyProvider {
	return &TavilyProvider{
		src:     src,
		client:  &http.Client{Timeout: src.RequestTimeout()},
		limiter: newRateLimiter(src.RequestsPerMinute),
		logger:  logger,
	}
}

func (p *TavilyProvider) Name() string { return p.src.Name }

type tavilyRequest struct {
	APIKey            string `json:"api_key"`
	Query             string `json:"query"`
	MaxResults        int    `json:"max_results"`
	SearchDepth       string `json:"search_depth,omitempty"`
	IncludeRawContent bool   `json:"include_raw_content"`
	Days              int    `json:"days,omitempty"`
}

type tavilyResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func (p *TavilyProvider) Search(ctx context.Context, query string) ([]Item, error) {
	apiKey := p.src.APIKey()
	if apiKey == "" {
		return nil, &ProviderError{Provider: p.Name(), Reason: ReasonAuth, Err: fmt.Errorf("%s not set", p.src.APIKeyEnv)}
	}
	if err := p.limiter.wait(ctx); err != nil {
		return nil, &ProviderError{Provider: p.Name(), Reason: ReasonTimeout, Err: err}
	}

	body, err := json.Marshal(tavilyRequest{
		APIKey:            apiKey,
		Query:             query,
		MaxResults:        p.src.MaxResults,
		SearchDepth:       p.src.SearchDepth,
		IncludeRawContent: false,
		Days:              p.src.RecencyDays,
	})
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Reason: ReasonError, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.src.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Reason: ReasonError, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Reason: reasonOf(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.statusError(resp)
	}

	var decoded tavilyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &ProviderError{Provider: p.Name(), Reason: ReasonError, Err: err}
	}

	items := make([]Item, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		if r.URL == "" {
			continue
		}
		items = append(items, Item{Title: r.Title, URL: r.URL, Snippet: r.Content, Score: r.Score})
	}
	return items, nil
}

func (p *TavilyProvider) statusError(resp *http.Response) error {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	reason := classifyStatus(resp.StatusCode)
	if reason == ReasonQuota {
		retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		p.limiter.recordQuotaError(retryAfter)
	}
	return &ProviderError{
		Provider: p.Name(),
		Reason:   reason,
		Err:      fmt.Errorf("status %d", resp.StatusCode),
	}
}

// classifyStatus maps an HTTP status to a chain skip reason.
func classifyStatus(code int) string {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ReasonAuth
	case code == http.StatusTooManyRequests || code == http.StatusPaymentRequired:
		return ReasonQuota
	case code == http.StatusGatewayTimeout:
		return ReasonTimeout
	default:
		return ReasonError
	}
}
