package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/recaplabs/recap/internal/config"
)

// DuckDuckGoProvider scrapes the DuckDuckGo lite endpoint. Keyless last
// resort: no relevance scores and aggressive throttling, but it keeps the
// chain alive when the API providers are down or unconfigured.
type DuckDuckGoProvider struct {
	src     config.ProviderSource
	client  *http.Client
	limiter *rateLimiter
	logger  *zap.Logger
}

func NewDuckDuckGo(src config.ProviderSource, logger *zap.Logger) *DuckDuckGoProvider {
	return &DuckDuckGoProvider{
		src:     src,
		client:  &http.Client{Timeout: src.RequestTimeout()},
		limiter: newRateLimiter(src.RequestsPerMinute),
		logger:  logger,
	}
}

func (p *DuckDuckGoProvider) Name() string { return p.src.Name }

func (p *DuckDuckGoProvider) Search(ctx context.Context, query string) ([]Item, error) {
	if err := p.limiter.wait(ctx); err != nil {
		return nil, &ProviderError{Provider: p.Name(), Reason: ReasonTimeout, Err: err}
	}

	form := url.Values{"q": {query}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.src.Endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Reason: ReasonError, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) recap-resolver/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Reason: reasonOf(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		// The lite endpoint throttles anonymously with 403 as well as 429.
		reason := classifyStatus(resp.StatusCode)
		if resp.StatusCode == http.StatusForbidden {
			reason = ReasonQuota
		}
		if reason == ReasonQuota {
			retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
			p.limiter.recordQuotaError(retryAfter)
		}
		return nil, &ProviderError{Provider: p.Name(), Reason: reason, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Reason: ReasonError, Err: err}
	}

	var links []Item
	doc.Find("a.result-link").Each(func(i int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		links = append(links, Item{Title: strings.TrimSpace(s.Text()), URL: resolveRedirect(href)})
	})
	snippets := doc.Find("td.result-snippet")

	items := make([]Item, 0, len(links))
	for i, link := range links {
		if link.URL == "" {
			continue
		}
		if i < snippets.Length() {
			link.Snippet = strings.TrimSpace(snippets.Eq(i).Text())
		}
		items = append(items, link)
		if len(items) == p.src.MaxResults {
			break
		}
	}
	return items, nil
}

// resolveRedirect unwraps DuckDuckGo's /l/?uddg=<target> redirect links.
func resolveRedirect(href string) string {
	if !strings.Contains(href, "duckduckgo.com/l/") && !strings.HasPrefix(href, "/l/") {
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}
