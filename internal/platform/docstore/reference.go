package docstore

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Reference is a parsed document reference.
type Reference struct {
	Raw    string
	Scheme string
	// Bucket and Key are set for s3 references.
	Bucket string
	Key    string
	URL    *url.URL
}

// Ext returns the lower-cased file extension of the reference path.
func (r Reference) Ext() string {
	p := r.Key
	if r.URL != nil && r.Scheme != "s3" {
		p = r.URL.Path
	}
	return strings.ToLower(path.Ext(p))
}

// ParseReference parses s3://bucket/key and http(s) references.
func ParseReference(raw string) (Reference, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return Reference{}, fmt.Errorf("%w: %v", ErrUnsupportedReference, err)
	}

	ref := Reference{Raw: raw, Scheme: strings.ToLower(u.Scheme), URL: u}
	switch ref.Scheme {
	case "s3":
		ref.Bucket = u.Host
		ref.Key = strings.TrimPrefix(u.Path, "/")
		if ref.Bucket == "" || ref.Key == "" {
			return Reference{}, fmt.Errorf("%w: s3 reference needs a bucket and a key: %q", ErrUnsupportedReference, raw)
		}
	case "http", "https":
		if u.Host == "" {
			return Reference{}, fmt.Errorf("%w: missing host: %q", ErrUnsupportedReference, raw)
		}
	default:
		return Reference{}, fmt.Errorf("%w: scheme %q", ErrUnsupportedReference, u.Scheme)
	}
	return ref, nil
}
