package format

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Rewriter delegates stylistic enrichment to an external text-rewriting
// service. It is optional; any failure falls back to rule-based enrichment.
type Rewriter interface {
	Rewrite(ctx context.Context, text string) (string, error)
}

type RewriterConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// HTTPRewriter posts {"text": ...} and expects {"text": ...} back.
type HTTPRewriter struct {
	cfg  RewriterConfig
	http *http.Client
}

// NewHTTPRewriter returns nil when no URL is configured, which callers treat
// as "no rewriter".
func NewHTTPRewriter(cfg RewriterConfig) *HTTPRewriter {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPRewriter{cfg: cfg, http: &http.Client{Timeout: timeout}}
}

func (r *HTTPRewriter) Rewrite(ctx context.Context, text string) (string, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.Token)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("rewriter: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.Text, nil
}
