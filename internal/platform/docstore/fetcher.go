package docstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/phrazzld/examgen/internal/config"
	"github.com/phrazzld/examgen/internal/platform/logger"
)

// DefaultMaxDocumentBytes limits the size of a fetched document.
const DefaultMaxDocumentBytes = 32 << 20

// Fetcher resolves references to plain text documents.
type Fetcher struct {
	sources  map[string]Source
	maxBytes int64
	logger   *slog.Logger
}

// NewFetcher creates a Fetcher with the given sources keyed by URL scheme.
func NewFetcher(sources map[string]Source, maxBytes int64, log *slog.Logger) *Fetcher {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDocumentBytes
	}
	if log == nil {
		log = slog.Default()
	}
	return &Fetcher{
		sources:  sources,
		maxBytes: maxBytes,
		logger:   log.With(slog.String("component", "document_fetcher")),
	}
}

// NewFetcherFromConfig wires the HTTP source and, when an endpoint is
// configured, the object store source.
func NewFetcherFromConfig(cfg config.StorageConfig, log *slog.Logger) (*Fetcher, error) {
	httpSource := NewHTTPSource(nil)
	sources := map[string]Source{
		"http":  httpSource,
		"https": httpSource,
	}
	if cfg.Endpoint != "" {
		minioSource, err := NewMinioSource(cfg)
		if err != nil {
			return nil, err
		}
		sources["s3"] = minioSource
	}
	return NewFetcher(sources, cfg.MaxDocumentBytes, log), nil
}

// Fetch downloads the document behind ref and extracts its text.
func (f *Fetcher) Fetch(ctx context.Context, ref string) (*Document, error) {
	parsed, err := ParseReference(ref)
	if err != nil {
		return nil, err
	}
	source, ok := f.sources[parsed.Scheme]
	if !ok {
		return nil, fmt.Errorf("%w: no source configured for scheme %q", ErrUnsupportedReference, parsed.Scheme)
	}

	body, contentType, err := source.Open(ctx, parsed)
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(io.LimitReader(body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ref, err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrDocumentTooLarge, ref, f.maxBytes)
	}

	kind := DetectKind(contentType, parsed.Ext(), data)
	text, err := Extract(kind, data)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", ref, err)
	}

	logger.FromContextOrDefault(ctx, f.logger).Debug("fetched document",
		slog.String("ref", ref),
		slog.String("kind", kind),
		slog.Int("bytes", len(data)),
		slog.Int("text_chars", len(text)))

	return &Document{
		ID:          ReferenceID(ref),
		Ref:         ref,
		ContentType: kind,
		Size:        int64(len(data)),
		Text:        text,
	}, nil
}
