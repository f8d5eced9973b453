package logger

import (
	"bytes"
	"io"
	"regexp"
)

// RedactWriter wraps an io.Writer and masks session identifiers and tokens
// before writing, so a leaked log cannot be replayed to hijack a visitor.
type RedactWriter struct {
	w          io.Writer
	patterns   []*regexp.Regexp
	redactWith string
}

var defaultPatterns = []*regexp.Regexp{
	// Session ids in key=value or "key":"value" form
	regexp.MustCompile(`(?i)(session[_-]?id["'\s:=]+)[^"',\s}]+`),
	regexp.MustCompile(`(?i)(PHPSESSID["'\s:=]+)[^"',;\s}]+`),
	// Cookie headers carry session ids too
	regexp.MustCompile(`(?i)((?:set-)?cookie["'\s:=]+)[^"\n]+`),
	// Bearer tokens in Authorization headers
	regexp.MustCompile(`(?i)(Bearer\s+)[A-Za-z0-9\-_\.]+`),
}

// NewRedactWriter returns a RedactWriter that applies all default sensitive patterns.
func NewRedactWriter(w io.Writer) *RedactWriter {
	return &RedactWriter{
		w:          w,
		patterns:   defaultPatterns,
		redactWith: "[REDACTED]",
	}
}

// Write applies all redaction patterns before forwarding to the underlying writer.
func (r *RedactWriter) Write(p []byte) (int, error) {
	sanitized := p
	for _, re := range r.patterns {
		sanitized = re.ReplaceAll(sanitized, appendRedacted(r.redactWith))
	}
	n, err := r.w.Write(sanitized)
	// Report the original length so callers don't see short writes
	// when redaction changed the byte count.
	if n > len(sanitized) {
		n = len(sanitized)
	}
	if err != nil {
		return n, err
	}
	return len(p), nil
}

// appendRedacted builds a replacement that keeps capture group $1 + redact.
func appendRedacted(redact string) []byte {
	var buf bytes.Buffer
	buf.WriteString("${1}")
	buf.WriteString(redact)
	return buf.Bytes()
}
