// Package assets talks to the transient object store used for media sends:
// a file is uploaded once, referenced by URL from every gateway send, and
// deleted on a timer after the broadcast regardless of how the sends went.
package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	logx "opsdispatch/pkg/logx"
)

// DefaultDeleteGrace is how long an uploaded asset outlives its broadcast.
const DefaultDeleteGrace = 10 * time.Minute

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Asset is one uploaded transient object.
type Asset struct {
	Ref      string // opaque reference used for deletion
	URL      string // fetchable address handed to the gateway
	Filename string
}

type Client struct {
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func NewClient(cfg Config, log logx.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, log: log}
}

// Upload stores the content under a fresh uuid-prefixed name and returns the
// fetchable asset. An upload failure must abort the send that needed it.
func (c *Client) Upload(ctx context.Context, filename, contentType string, content io.Reader) (Asset, error) {
	ref := uuid.NewString() + "/" + filename
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.objectURL(ref), content)
	if err != nil {
		return Asset{}, fmt.Errorf("assets: build upload request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	c.auth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return Asset{}, fmt.Errorf("assets: upload %s: %w", filename, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Asset{}, fmt.Errorf("assets: upload %s: status %d: %s", filename, resp.StatusCode, body)
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.URL == "" {
		// Stores without a response body serve objects at the upload path.
		out.URL = c.objectURL(ref)
	}
	return Asset{Ref: ref, URL: out.URL, Filename: filename}, nil
}

// Delete removes the object by reference.
func (c *Client) Delete(ctx context.Context, ref string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.objectURL(ref), nil)
	if err != nil {
		return fmt.Errorf("assets: build delete request: %w", err)
	}
	c.auth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("assets: delete %s: %w", ref, err)
	}
	defer resp.Body.Close()
	// A missing object is already the desired end state.
	if (resp.StatusCode < 200 || resp.StatusCode > 299) && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("assets: delete %s: status %d", ref, resp.StatusCode)
	}
	return nil
}

// ScheduleDelete arranges a best-effort deletion after the grace delay. It
// fires whether or not the sends that used the asset succeeded, and nobody
// waits for it; a failed deletion is logged and dropped.
func (c *Client) ScheduleDelete(ref string, grace time.Duration) *time.Timer {
	if grace <= 0 {
		grace = DefaultDeleteGrace
	}
	return time.AfterFunc(grace, func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Timeout)
		defer cancel()
		if err := c.Delete(ctx, ref); err != nil {
			c.log.Warn("scheduled asset deletion failed", logx.String("ref", ref), logx.Err(err))
			return
		}
		c.log.Debug("transient asset deleted", logx.String("ref", ref))
	})
}

func (c *Client) objectURL(ref string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/objects/" + ref
}

func (c *Client) auth(req *http.Request) {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
}
