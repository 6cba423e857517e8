package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/recaplabs/recap/internal/config"
	"github.com/recaplabs/recap/internal/tracing"
)

// BraveProvider queries the Brave Search web API.
type BraveProvider struct {
	src     config.ProviderSource
	client  *http.Client
	limiter *rateLimiter
	logger  *zap.Logger
}

func NewBrave(src config.ProviderSource, logger *zap.Logger) *BraveProvider {
	return &BraveProvider{
		src:     src,
		client:  &http.Client{Timeout: src.RequestTimeout()},
		limiter: newRateLimiter(src.RequestsPerMinute),
		logger:  logger,
	}
}

func (p *BraveProvider) Name() string { return p.src.Name }

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (p *BraveProvider) Search(ctx context.Context, query string) ([]Item, error) {
	apiKey := p.src.APIKey()
	if apiKey == "" {
		return nil, &ProviderError{Provider: p.Name(), Reason: ReasonAuth, Err: fmt.Errorf("%s not set", p.src.APIKeyEnv)}
	}
	if err := p.limiter.wait(ctx); err != nil {
		return nil, &ProviderError{Provider: p.Name(), Reason: ReasonTimeout, Err: err}
	}

	endpoint := fmt.Sprintf("%s?q=%s&count=%d", p.src.Endpoint, url.QueryEscape(query), p.src.MaxResults)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Reason: ReasonError, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", apiKey)
	tracing.InjectTraceparent(ctx, req)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Reason: reasonOf(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		reason := classifyStatus(resp.StatusCode)
		if reason == ReasonQuota {
			retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
			p.limiter.recordQuotaError(retryAfter)
		}
		return nil, &ProviderError{Provider: p.Name(), Reason: reason, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var decoded braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &ProviderError{Provider: p.Name(), Reason: ReasonError, Err: err}
	}

	items := make([]Item, 0, len(decoded.Web.Results))
	for _, r := range decoded.Web.Results {
		if r.URL == "" {
			continue
		}
		items = append(items, Item{Title: r.Title, URL: r.URL, Snippet: r.Description})
		if len(items) == p.src.MaxResults {
			break
		}
	}
	return items, nil
}
