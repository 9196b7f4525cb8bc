// Package gateway is the HTTP client for the external messaging gateway.
//
// The gateway delivers chat messages to phone numbers. Its behavior is opaque
// to us: a 2xx means "accepted", anything else is a rejection whose body is
// preserved verbatim for operator display. No delivery receipts exist.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	logx "opsdispatch/pkg/logx"
)

// ErrRejected wraps a non-2xx gateway response.
var ErrRejected = errors.New("gateway rejected send")

// RejectionError carries the opaque response body for the failure ledger.
type RejectionError struct {
	Status int
	Body   string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("gateway rejected send: status %d: %s", e.Status, e.Body)
}

func (e *RejectionError) Unwrap() error { return ErrRejected }

type Config struct {
	BaseURL    string
	InstanceID string
	Token      string
	Timeout    time.Duration
	// RatePerMin smooths this process's own sends on top of the shared gate.
	RatePerMin int
}

// Client sends text and media-by-reference messages.
type Client struct {
	cfg     Config
	http    *http.Client
	log     logx.Logger
	limiter *rate.Limiter
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("gateway base url is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	rpm := cfg.RatePerMin
	if rpm <= 0 {
		rpm = 30
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1),
	}, nil
}

// SetRate adjusts the local smoothing limiter at runtime. Other fields
// (base URL, credentials, timeout) are fixed for the client's lifetime.
func (c *Client) SetRate(perMin int) {
	if perMin <= 0 {
		perMin = 30
	}
	c.limiter.SetLimit(rate.Limit(float64(perMin) / 60.0))
}

type textRequest struct {
	Destination string `json:"destinationAddress"`
	Text        string `json:"text"`
}

type mediaRequest struct {
	Destination    string `json:"destinationAddress"`
	MediaReference string `json:"mediaReference"`
	Filename       string `json:"filename"`
	Caption        string `json:"caption,omitempty"`
}

// SendText delivers one text message to a normalized phone number.
func (c *Client) SendText(ctx context.Context, destination, text string) error {
	return c.post(ctx, "sendMessage", textRequest{Destination: destination, Text: text})
}

// SendMedia delivers a media message by fetchable URL. The gateway downloads
// the media itself, asynchronously, which is why transient assets must
// outlive the call (see assets).
func (c *Client) SendMedia(ctx context.Context, destination, mediaURL, filename, caption string) error {
	return c.post(ctx, "sendFileByUrl", mediaRequest{
		Destination:    destination,
		MediaReference: mediaURL,
		Filename:       filename,
		Caption:        caption,
	})
}

func (c *Client) post(ctx context.Context, method string, payload any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + method
	if c.cfg.InstanceID != "" {
		url += "/" + c.cfg.InstanceID
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Body is opaque; keep it verbatim (bounded) for the outcome ledger.
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &RejectionError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
