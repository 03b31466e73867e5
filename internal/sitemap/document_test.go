package sitemap

import (
	"bytes"
	"compress/gzip"
	"testing"

	"github.com/stretchr/testify/require"
)

const urlsetXML = `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://example.com/a</loc><lastmod>2024-01-01</lastmod></url>
  <url><loc>
    https://example.com/b?x=1&amp;y=2
  </loc></url>
  <url><loc>https://example.com/a</loc></url>
</urlset>`

func TestParseURLSetKeepsOrderAndDuplicates(t *testing.T) {
	t.Parallel()

	doc, err := Parse([]byte(urlsetXML))
	require.NoError(t, err)
	require.Equal(t, KindURLSet, doc.Kind)
	require.Equal(t, []string{
		"https://example.com/a",
		"https://example.com/b?x=1&y=2",
		"https://example.com/a",
	}, doc.Locs)
}

func TestParseIndex(t *testing.T) {
	t.Parallel()

	doc, err := Parse([]byte(`<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>https://example.com/s1.xml</loc></sitemap>
  <sitemap><loc> </loc></sitemap>
  <sitemap><loc>https://example.com/s2.xml</loc></sitemap>
</sitemapindex>`))
	require.NoError(t, err)
	require.Equal(t, KindIndex, doc.Kind)
	require.Equal(t, []string{"https://example.com/s1.xml", "https://example.com/s2.xml"}, doc.Locs)
}

func TestParseEmptyURLSet(t *testing.T) {
	t.Parallel()

	doc, err := Parse([]byte(`<urlset></urlset>`))
	require.NoError(t, err)
	require.Empty(t, doc.Locs)
}

func TestParseGzip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(urlsetXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	doc, err := Parse(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, doc.Locs, 3)
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"empty":       "",
		"plain text":  "not xml at all",
		"html root":   "<html><body>hi</body></html>",
		"unclosed":    "<urlset><url><loc>https://example.com/a</loc></url>",
		"mismatched":  "<urlset><url><loc>x</url></loc></urlset>",
		"broken gzip": "\x1f\x8bnot really gzip",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(body))
			require.Error(t, err)
		})
	}
}

func TestParseUnknownRoot(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte("<rss></rss>"))
	require.ErrorIs(t, err, ErrUnknownRoot)
}

func TestParseMissingLocFailsDocument(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`<urlset>
  <url><lastmod>2024-01-01</lastmod></url>
  <url><loc>https://example.com/2</loc></url>
</urlset>`))
	require.ErrorIs(t, err, ErrMissingLoc)
}

func TestParseEmptyLocIsKept(t *testing.T) {
	t.Parallel()

	doc, err := Parse([]byte(`<urlset><url><loc></loc></url><url><loc>https://example.com/2</loc></url></urlset>`))
	require.NoError(t, err)
	require.Equal(t, []string{"", "https://example.com/2"}, doc.Locs)
}

func TestParseKeepsFirstLoc(t *testing.T) {
	t.Parallel()

	doc, err := Parse([]byte(`<urlset>
  <url><loc>https://example.com/first</loc><loc>https://example.com/second</loc></url>
</urlset>`))
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/first"}, doc.Locs)
}

func TestParseLatin1(t *testing.T) {
	t.Parallel()

	// "caf\xe9" is café in ISO-8859-1.
	body := []byte("<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>\n" +
		"<urlset><url><loc>https://example.com/caf\xe9</loc></url></urlset>")
	doc, err := Parse(body)
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/café"}, doc.Locs)
}
