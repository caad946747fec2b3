// Package resolver turns a track id into a direct media URL using a
// cobalt-compatible resolution service.
package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrTrackNotFound means the service knows the id does not resolve to playable audio.
	ErrTrackNotFound = errors.New("track not found")
	// ErrUnavailable covers every other failure: network, timeout, malformed or unexpected replies.
	ErrUnavailable = errors.New("resolver unavailable")
)

const (
	defaultTimeout   = 15 * time.Second
	defaultRateLimit = 5
	watchPrefix      = "https://youtube.com/watch?v="
	maxBodyBytes     = 1 << 20
)

// Source is a resolved, directly fetchable media URL.
type Source struct {
	URL      string
	Filename string
}

// Resolver resolves a track id to a source.
type Resolver interface {
	Resolve(ctx context.Context, id string) (Source, error)
}

type Options struct {
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
}

// Client handles resolution requests against a single service endpoint
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a new resolver client
func NewClient(endpoint string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = defaultRateLimit
	}
	burst := int(opts.RequestsPerSecond)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		endpoint:   strings.TrimSpace(endpoint),
		apiKey:     opts.APIKey,
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst),
	}
}

type request struct {
	URL             string `json:"url"`
	AudioFormat     string `json:"audioFormat"`
	DownloadMode    string `json:"downloadMode"`
	FilenameStyle   string `json:"filenameStyle"`
	DisableMetadata bool   `json:"disableMetadata"`
	AlwaysProxy     bool   `json:"alwaysProxy"`
	LocalProcessing bool   `json:"localProcessing"`
}

type response struct {
	Status   string `json:"status"`
	URL      string `json:"url"`
	Filename string `json:"filename"`
	Error    *struct {
		Code string `json:"code"`
	} `json:"error,omitempty"`
}

// Resolve performs a single round-trip to the service. The id is sent as a
// watch URL; it is never interpreted locally.
func (c *Client) Resolve(ctx context.Context, id string) (Source, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Source{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	body, err := json.Marshal(request{
		URL:           watchPrefix + url.QueryEscape(id),
		AudioFormat:   "best",
		DownloadMode:  "audio",
		FilenameStyle: "basic",
	})
	if err != nil {
		return Source{}, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Source{}, fmt.Errorf("%w: failed to create request: %v", ErrUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Api-Key "+c.apiKey)
	}

	slog.Debug("Resolving track", "id", id)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Source{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Source{}, fmt.Errorf("%w: %s", ErrTrackNotFound, id)
	}

	var r response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&r); err != nil {
		return Source{}, fmt.Errorf("%w: status %d: invalid response: %v", ErrUnavailable, resp.StatusCode, err)
	}

	return classify(id, resp.StatusCode, r)
}

func classify(id string, statusCode int, r response) (Source, error) {
	switch r.Status {
	case "tunnel", "redirect":
		if r.URL == "" {
			return Source{}, fmt.Errorf("%w: %s response without url", ErrUnavailable, r.Status)
		}
		return Source{URL: r.URL, Filename: r.Filename}, nil
	case "error":
		code := ""
		if r.Error != nil {
			code = r.Error.Code
		}
		if strings.Contains(code, "content") || strings.Contains(code, "unavailable") {
			return Source{}, fmt.Errorf("%w: %s: %s", ErrTrackNotFound, id, code)
		}
		return Source{}, fmt.Errorf("%w: %s", ErrUnavailable, code)
	default:
		return Source{}, fmt.Errorf("%w: unexpected status %q (http %d)", ErrUnavailable, r.Status, statusCode)
	}
}
