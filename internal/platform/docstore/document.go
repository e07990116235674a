package docstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
)

// Errors returned by the fetcher.
var (
	// ErrDocumentNotFound is returned when the referenced document does not exist.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrUnsupportedReference is returned for references with an unknown scheme.
	ErrUnsupportedReference = errors.New("unsupported document reference")

	// ErrDocumentTooLarge is returned when a document exceeds the size limit.
	ErrDocumentTooLarge = errors.New("document too large")

	// ErrNoText is returned when no text could be extracted from a document.
	ErrNoText = errors.New("no text extracted from document")
)

// Document is a fetched source document reduced to plain text.
type Document struct {
	ID          string
	Ref         string
	ContentType string
	Size        int64
	Text        string
}

// Source opens the raw bytes behind a reference.
type Source interface {
	// Open returns the document body and its content type, which may be empty.
	Open(ctx context.Context, ref Reference) (io.ReadCloser, string, error)
}

// ReferenceID derives a stable document ID from a reference for documents
// that were enqueued without one.
func ReferenceID(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return "ref-" + hex.EncodeToString(sum[:12])
}
