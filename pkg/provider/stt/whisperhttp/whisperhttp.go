// Package whisperhttp implements [stt.Transcriber] against the local Whisper
// transcription microservice (POST /transcribe, GET /health).
package whisperhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/vocadrill/vocadrill/pkg/provider/stt"
)

const defaultTimeout = 60 * time.Second

// Option is a functional option for Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLanguage sets the language code requested on every transcription.
// Default: "zh".
func WithLanguage(lang string) Option {
	return func(c *Client) {
		c.language = lang
	}
}

// Client talks to a Whisper transcription service instance. Safe for
// concurrent use.
type Client struct {
	baseURL    string
	language   string
	httpClient *http.Client
}

var _ stt.Transcriber = (*Client)(nil)

// New creates a Client for the service at baseURL (e.g.
// "http://localhost:8200").
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("whisperhttp: baseURL must not be empty")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		language:   "zh",
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Transcribe uploads audio (any container the service accepts: webm, wav,
// mp3, m4a) and returns the finalized transcription. filename hints the
// container format to the service.
func (c *Client) Transcribe(ctx context.Context, filename string, audio io.Reader) (*stt.Transcription, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("audio", filename)
	if err != nil {
		return nil, fmt.Errorf("whisperhttp: create form file: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, fmt.Errorf("whisperhttp: copy audio: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("whisperhttp: close multipart: %w", err)
	}

	url := fmt.Sprintf("%s/transcribe?language=%s", c.baseURL, c.language)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("whisperhttp: build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisperhttp: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisperhttp: unexpected status %d", resp.StatusCode)
	}

	var t stt.Transcription
	if err := json.NewDecoder(resp.Body).Decode(&t); err != nil {
		return nil, fmt.Errorf("whisperhttp: decode response: %w", err)
	}
	return &t, nil
}

// CheckHealth probes the service's /health endpoint. A reachable service
// with no model loaded is reported as an error so readiness checks fail
// before the first recording, not during it.
func (c *Client) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("whisperhttp: build health request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whisperhttp: health request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("whisperhttp: health status %d", resp.StatusCode)
	}

	var h stt.Health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return fmt.Errorf("whisperhttp: decode health: %w", err)
	}
	if !h.ModelLoaded {
		return fmt.Errorf("whisperhttp: model %q not loaded", h.ModelName)
	}
	return nil
}
