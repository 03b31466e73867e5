// Package findings records per-page broken-image findings and persists them as a
// pretty-printed JSON array through a storage.Store.
package findings

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptyFinding is returned when a finding without broken images is appended.
var ErrEmptyFinding = errors.New("finding has no broken images")

// Finding is one page's broken images in DOM order. Field order is the wire order.
type Finding struct {
	PageURL      string   `json:"pageUrl"`
	BrokenImages []string `json:"brokenImages"`
}

// NewFinding copies images so later mutation by the caller cannot leak into the log.
func NewFinding(pageURL string, images []string) (Finding, error) {
	if len(images) == 0 {
		return Finding{}, ErrEmptyFinding
	}
	return Finding{
		PageURL:      pageURL,
		BrokenImages: append([]string(nil), images...),
	}, nil
}

// Encode renders entries as a JSON array indented with two spaces. URLs are not
// HTML-escaped and no trailing newline is written.
func Encode(entries []Finding) ([]byte, error) {
	if entries == nil {
		entries = []Finding{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(entries); err != nil {
		return nil, fmt.Errorf("encode findings: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Decode parses a findings file. Blank input decodes to an empty log.
func Decode(data []byte) ([]Finding, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []Finding{}, nil
	}
	var entries []Finding
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode findings: %w", err)
	}
	if entries == nil {
		entries = []Finding{}
	}
	return entries, nil
}
