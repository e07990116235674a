package docstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultHTTPTimeout bounds a whole document download.
const DefaultHTTPTimeout = 60 * time.Second

// HTTPSource downloads http(s) references.
type HTTPSource struct {
	client *http.Client
}

var _ Source = (*HTTPSource)(nil)

// NewHTTPSource creates a source using client, or a client with
// DefaultHTTPTimeout when client is nil.
func NewHTTPSource(client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &HTTPSource{client: client}
}

// Open implements Source.
func (h *HTTPSource) Open(ctx context.Context, ref Reference) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.Raw, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request for %s: %w", ref.Raw, err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download %s: %w", ref.Raw, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		_ = resp.Body.Close()
		return nil, "", fmt.Errorf("%w: %s", ErrDocumentNotFound, ref.Raw)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		_ = resp.Body.Close()
		return nil, "", fmt.Errorf("download %s: unexpected status %d", ref.Raw, resp.StatusCode)
	}
	return resp.Body, resp.Header.Get("Content-Type"), nil
}
