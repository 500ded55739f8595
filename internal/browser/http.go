package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"

	"reconagent/internal/logging"
)

// HTTPObserver fetches pages with a plain GET. It never runs scripts, so
// JS-rendered pages come back mostly empty.
type HTTPObserver struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
}

// NewHTTPObserver creates an HTTP observer.
func NewHTTPObserver(cfg Config) *HTTPObserver {
	ua := cfg.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	maxBytes := cfg.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = DefaultConfig().MaxBodyBytes
	}
	return &HTTPObserver{
		client:    &http.Client{Timeout: cfg.GetNavigationTimeout()},
		userAgent: ua,
		maxBytes:  maxBytes,
	}
}

func (o *HTTPObserver) Name() string { return "http" }
func (o *HTTPObserver) Close() error { return nil }

// Observe GETs url. Non-2xx responses still produce an observation since a
// challenge page is evidence for anti-bot detection.
func (o *HTTPObserver) Observe(ctx context.Context, url string) (*Observation, error) {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", o.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,zh-CN;q=0.8")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, o.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k, v := range resp.Header {
		headers[strings.ToLower(k)] = strings.Join(v, ", ")
	}

	obs := &Observation{
		URL:      url,
		FinalURL: resp.Request.URL.String(),
		Status:   resp.StatusCode,
		Title:    ExtractTitle(string(body)),
		HTML:     string(body),
		Headers:  headers,
		Source:   o.Name(),
		Duration: time.Since(start),
	}
	logging.Browser("http observed %s: status=%d bytes=%d in %v", url, obs.Status, len(body), obs.Duration)
	return obs, nil
}

// ExtractTitle returns the text of the first <title> element.
func ExtractTitle(source string) string {
	z := html.NewTokenizer(strings.NewReader(source))
	inTitle := false
	var sb strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(sb.String())
		case html.StartTagToken:
			name, _ := z.TagName()
			if string(name) == "title" {
				inTitle = true
			}
		case html.TextToken:
			if inTitle {
				sb.Write(z.Text())
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) == "title" && inTitle {
				return strings.Join(strings.Fields(sb.String()), " ")
			}
		}
	}
}
