package sitemap

import (
	"bytes"
	"compress/gzip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// Kind identifies the root element of a sitemap document.
type Kind int

// Supported document kinds.
const (
	KindURLSet Kind = iota + 1
	KindIndex
)

func (k Kind) String() string {
	switch k {
	case KindURLSet:
		return "urlset"
	case KindIndex:
		return "sitemapindex"
	default:
		return "unknown"
	}
}

var (
	// ErrUnknownRoot is returned when the document root is neither urlset nor sitemapindex.
	ErrUnknownRoot = errors.New("sitemap: unexpected root element")
	// ErrMissingLoc is returned when a urlset entry has no loc element.
	ErrMissingLoc = errors.New("sitemap: url entry has no loc")
)

// Document is a decoded sitemap. Locs holds page URLs for a urlset and child
// sitemap URLs for an index, in document order.
type Document struct {
	Kind Kind
	Locs []string
}

type xmlURL struct {
	Locs []string `xml:"loc"`
}

type xmlURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []xmlURL `xml:"url"`
}

type xmlSitemap struct {
	Locs []string `xml:"loc"`
}

// firstLoc returns the first loc of an entry; later duplicates are ignored.
func firstLoc(locs []string) (string, bool) {
	if len(locs) == 0 {
		return "", false
	}
	return strings.TrimSpace(locs[0]), true
}

type xmlSitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []xmlSitemap `xml:"sitemap"`
}

var gzipMagic = []byte{0x1f, 0x8b}

// Parse decodes a sitemap body, transparently inflating gzip payloads and
// transcoding declared non-UTF-8 encodings. A urlset entry without a loc
// fails the whole document.
func Parse(data []byte) (Document, error) {
	if bytes.HasPrefix(data, gzipMagic) {
		inflated, err := gunzip(data)
		if err != nil {
			return Document{}, err
		}
		data = inflated
	}

	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charset.NewReaderLabel
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return Document{}, fmt.Errorf("sitemap: no root element: %w", io.ErrUnexpectedEOF)
			}
			return Document{}, fmt.Errorf("sitemap: decode: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "urlset":
			var set xmlURLSet
			if err := dec.DecodeElement(&set, &start); err != nil {
				return Document{}, fmt.Errorf("sitemap: decode urlset: %w", err)
			}
			locs := make([]string, 0, len(set.URLs))
			for i, u := range set.URLs {
				loc, ok := firstLoc(u.Locs)
				if !ok {
					return Document{}, fmt.Errorf("%w (entry %d)", ErrMissingLoc, i)
				}
				locs = append(locs, loc)
			}
			return Document{Kind: KindURLSet, Locs: locs}, nil
		case "sitemapindex":
			var idx xmlSitemapIndex
			if err := dec.DecodeElement(&idx, &start); err != nil {
				return Document{}, fmt.Errorf("sitemap: decode sitemapindex: %w", err)
			}
			locs := make([]string, 0, len(idx.Sitemaps))
			for _, s := range idx.Sitemaps {
				if loc, _ := firstLoc(s.Locs); loc != "" {
					locs = append(locs, loc)
				}
			}
			return Document{Kind: KindIndex, Locs: locs}, nil
		default:
			return Document{}, fmt.Errorf("%w %q", ErrUnknownRoot, start.Name.Local)
		}
	}
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("sitemap: gzip header: %w", err)
	}
	defer func() {
		_ = zr.Close()
	}()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("sitemap: gzip body: %w", err)
	}
	return out, nil
}
