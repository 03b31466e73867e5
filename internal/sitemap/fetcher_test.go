package sitemap

import (
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCollyFetcherReadsBody(t *testing.T) {
	t.Parallel()

	agents := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents <- r.UserAgent()
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(urlset("https://example.com/p1", "https://example.com/p2")))
	}))
	t.Cleanup(srv.Close)

	f := NewCollyFetcher(FetcherConfig{UserAgent: "imagecheck-test", Timeout: 5 * time.Second})
	body, err := f.Fetch(context.Background(), srv.URL+"/sitemap.xml")
	require.NoError(t, err)
	require.Equal(t, "imagecheck-test", <-agents)

	links, err := NewReader(f).Read(context.Background(), srv.URL+"/sitemap.xml")
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com/p1", "https://example.com/p2"}, links)
	require.Contains(t, string(body), "<urlset>")
}

func TestCollyFetcherRevisitsSameURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(urlset("p")))
	}))
	t.Cleanup(srv.Close)

	f := NewCollyFetcher(FetcherConfig{})
	for range 2 {
		_, err := f.Fetch(context.Background(), srv.URL)
		require.NoError(t, err)
	}
}

func TestCollyFetcherHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	f := NewCollyFetcher(FetcherConfig{Timeout: 5 * time.Second})
	_, err := f.Fetch(context.Background(), srv.URL)
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")

	require.Empty(t, NewReader(f).Links(context.Background(), srv.URL))
}

func TestCollyFetcherGzipSitemap(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(urlset("g1", "g2")))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(buf.Bytes())
	}))
	t.Cleanup(srv.Close)

	links, err := NewReader(NewCollyFetcher(FetcherConfig{})).Read(context.Background(), srv.URL+"/sitemap.bin")
	require.NoError(t, err)
	require.Equal(t, []string{"g1", "g2"}, links)
}

func TestCollyFetcherCanceled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewCollyFetcher(FetcherConfig{Timeout: 5 * time.Second}).Fetch(ctx, srv.URL)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
