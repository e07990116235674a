package docstore

import (
	"bytes"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// Content kinds understood by Extract.
const (
	KindPDF  = "application/pdf"
	KindHTML = "text/html"
	KindText = "text/plain"
)

// DetectKind resolves the kind of a document from its declared content type,
// its file extension and finally its leading bytes.
func DetectKind(contentType, ext string, data []byte) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		switch {
		case mt == KindPDF:
			return KindPDF
		case mt == KindHTML || mt == "application/xhtml+xml":
			return KindHTML
		case strings.HasPrefix(mt, "text/"):
			return KindText
		}
	}

	switch ext {
	case ".pdf":
		return KindPDF
	case ".html", ".htm", ".xhtml":
		return KindHTML
	case ".txt", ".md", ".markdown", ".csv":
		return KindText
	}

	sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	switch {
	case sniffed == KindPDF:
		return KindPDF
	case sniffed == KindHTML:
		return KindHTML
	case strings.HasPrefix(sniffed, "text/"):
		return KindText
	}
	return sniffed
}

// Extract converts raw document bytes of the given kind to normalised plain text.
func Extract(kind string, data []byte) (string, error) {
	var (
		text string
		err  error
	)
	switch kind {
	case KindPDF:
		text, err = extractPDF(data)
	case KindHTML:
		text, err = extractHTML(data)
	case KindText:
		text = string(data)
	default:
		return "", fmt.Errorf("%w: unsupported content type %q", ErrNoText, kind)
	}
	if err != nil {
		return "", err
	}

	text = NormalizeText(text)
	if text == "" {
		return "", ErrNoText
	}
	return text, nil
}

// NormalizeText drops NUL bytes and invalid UTF-8 and collapses whitespace.
func NormalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	return strings.Join(strings.Fields(text), " ")
}

func extractPDF(data []byte) (text string, err error) {
	// The pdf reader panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: malformed pdf: %v", ErrNoText, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: open pdf: %v", ErrNoText, err)
	}

	var buf strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		buf.WriteString(pageText)
		buf.WriteString("\n")
	}
	return buf.String(), nil
}

func extractHTML(data []byte) (string, error) {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: parse html: %v", ErrNoText, err)
	}

	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			buf.WriteString(n.Data)
			buf.WriteString(" ")
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "head":
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return buf.String(), nil
}
