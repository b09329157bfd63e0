package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultHTTPTimeout bounds a single resource fetch.
const DefaultHTTPTimeout = 30 * time.Second

// HTTPSource fetches resources from a static HTTP host (e.g. the GitHub
// Pages deployment of a published collection).
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource creates an HTTPSource rooted at baseURL.
// If client is nil, a client with DefaultHTTPTimeout is used.
func NewHTTPSource(baseURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &HTTPSource{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
	}
}

// Fetch performs a GET for path relative to the base URL.
func (s *HTTPSource) Fetch(ctx context.Context, path string) ([]byte, error) {
	u, err := url.JoinPath(s.baseURL, path)
	if err != nil {
		return nil, fmt.Errorf("join url %q: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", u, ErrNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("GET %s: unexpected status %s", u, resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("GET %s: read body: %w", u, err)
	}

	// The transport already handles Content-Encoding; this covers hosts
	// that serve pre-compressed files as opaque bytes.
	return Decompress(path, body)
}
