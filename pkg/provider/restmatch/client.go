// Package restmatch provides the client for the REST transcript-matching
// service, the network fallback used when the language-model stages fail.
//
// The service accepts the transcript and the word list and answers in one of
// two shapes: an id-keyed match list (order-independent) or a plain
// positional segment list. [Response] carries both; callers resolve matches
// by word ID when present and fall back to positions otherwise.
package restmatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

const defaultTimeout = 15 * time.Second

// WordRef is the word descriptor sent to the matcher.
type WordRef struct {
	ID          string   `json:"wordId"`
	DisplayText string   `json:"displayText"`
	Hints       []string `json:"hints"`
}

// Match pairs a word ID with the transcript span the service attributed to it.
type Match struct {
	WordID      string `json:"wordId"`
	Translation string `json:"translation"`
}

// Request is the JSON body of a match call.
type Request struct {
	Transcript string    `json:"transcript"`
	Words      []WordRef `json:"words"`
}

// Response is the matcher's answer. Exactly one of Matches or Segments is
// expected to be populated; when both are empty the call is treated as a
// shape mismatch by the caller.
type Response struct {
	Matches  []Match  `json:"matches,omitempty"`
	Segments []string `json:"segments,omitempty"`
}

// Matcher is the interface the segmentation chain depends on. The production
// implementation is [Client]; tests use the mock subpackage.
type Matcher interface {
	// Match submits transcript and words and returns the service's answer.
	Match(ctx context.Context, transcript string, words []WordRef) (*Response, error)
}

// Option is a functional option for Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithAPIKey sets a Bearer token sent on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// Client calls the REST matcher over HTTP. Safe for concurrent use.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// New creates a Client for the matcher at endpoint (the full URL of the
// match route, e.g. "https://matcher.internal/v1/match").
func New(endpoint string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, errors.New("restmatch: endpoint must not be empty")
	}
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Match implements [Matcher].
func (c *Client) Match(ctx context.Context, transcript string, words []WordRef) (*Response, error) {
	body, err := json.Marshal(Request{Transcript: transcript, Words: words})
	if err != nil {
		return nil, fmt.Errorf("restmatch: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("restmatch: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("restmatch: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("restmatch: unexpected status %d", resp.StatusCode)
	}

	var r Response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("restmatch: decode response: %w", err)
	}
	return &r, nil
}

// Ensure Client implements Matcher at compile time.
var _ Matcher = (*Client)(nil)
