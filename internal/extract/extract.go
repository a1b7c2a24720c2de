// Package extract turns discovered files into plain text.
package extract

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrUnsupported is returned for formats that are recognised but not parsed.
var ErrUnsupported = errors.New("unsupported format")

// MaxBytes caps how much of a file is read before extraction.
const MaxBytes = 10 << 20

// Extractor reads the text content of a single file.
type Extractor interface {
	Extract(path string) (string, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(path string) (string, error)

func (f ExtractorFunc) Extract(path string) (string, error) { return f(path) }

// Registry maps lower-case file extensions to extractors.
type Registry struct {
	byExt map[string]Extractor
}

// NewRegistry returns a registry with every built-in extractor registered.
func NewRegistry() *Registry {
	r := &Registry{byExt: make(map[string]Extractor)}
	for _, ext := range []string{".txt", ".md", ".markdown", ".json", ".csv", ".log", ".gdoc"} {
		r.Register(ext, ExtractorFunc(extractPlain))
	}
	r.Register(".html", ExtractorFunc(extractHTML))
	r.Register(".htm", ExtractorFunc(extractHTML))
	r.Register(".pdf", ExtractorFunc(extractPDF))
	r.Register(".docx", ExtractorFunc(extractDOCX))
	r.Register(".xlsx", unsupported("spreadsheet"))
	r.Register(".pptx", unsupported("presentation"))
	r.Register(".pst", unsupported("Outlook mailbox"))
	return r
}

// Register binds ext (with or without the leading dot) to e, replacing any
// previous extractor.
func (r *Registry) Register(ext string, e Extractor) {
	r.byExt[normExt(ext)] = e
}

// Supports reports whether an extractor is registered for the path's extension.
func (r *Registry) Supports(path string) bool {
	_, ok := r.byExt[normExt(filepath.Ext(path))]
	return ok
}

// Extract dispatches on the file extension. Unknown extensions return an
// error wrapping ErrUnsupported.
func (r *Registry) Extract(path string) (string, error) {
	ext := normExt(filepath.Ext(path))
	e, ok := r.byExt[ext]
	if !ok {
		return "", fmt.Errorf("%w: no extractor for %q", ErrUnsupported, ext)
	}
	text, err := e.Extract(path)
	if err != nil {
		return "", err
	}
	return normalizeSpace(text), nil
}

func normExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func unsupported(kind string) Extractor {
	return ExtractorFunc(func(path string) (string, error) {
		return "", fmt.Errorf("%w: %s files (%s) cannot be read yet", ErrUnsupported, kind, filepath.Ext(path))
	})
}

func extractPlain(path string) (string, error) {
	data, err := readCapped(path)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		data = []byte(strings.ToValidUTF8(string(data), "�"))
	}
	return string(data), nil
}

func readCapped(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

// normalizeSpace trims trailing whitespace on every line and collapses runs of
// more than one blank line.
func normalizeSpace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := 0
	for _, l := range lines {
		l = strings.TrimRight(l, " \t\r")
		if l == "" {
			blank++
			if blank > 1 {
				continue
			}
		} else {
			blank = 0
		}
		out = append(out, l)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
