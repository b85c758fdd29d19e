package rss

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deusflow/sportswire/internal/news"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Sports</title>
  <item>
    <title><![CDATA[BREAKING: Star traded]]></title>
    <description><![CDATA[<p>The deal is <b>done</b>.</p>]]></description>
    <link>https://example.com/a</link>
    <guid>a-1</guid>
    <pubDate>Mon, 02 Mar 2026 10:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Second</title>
    <link>https://example.com/b</link>
  </item>
</channel>
</rss>`

func TestFetcher_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(sampleFeed))
	}))
	defer server.Close()

	items, err := NewFetcher(5*time.Second).Fetch(context.Background(), news.Source{Name: "test", URL: server.URL})
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "BREAKING: Star traded", items[0].Title)
	assert.Equal(t, "a-1", items[0].GUID)
	require.NotNil(t, items[0].PublishedAt)
	assert.Equal(t, 2026, items[0].PublishedAt.Year())
	assert.Nil(t, items[1].PublishedAt)
}

func TestFetcher_StatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := NewFetcher(5*time.Second).Fetch(context.Background(), news.Source{URL: server.URL})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.HTTPStatus())
}

func TestLoadFeeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feeds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
feeds:
  - name: espn
    url: https://www.espn.com/espn/rss/news
    priority: 1
  - url: https://example.com/rss
`), 0o644))

	feeds, err := LoadFeeds(path)
	require.NoError(t, err)
	require.Len(t, feeds, 2)
	assert.Equal(t, "espn", feeds[0].Name)
	assert.Equal(t, 1, feeds[0].Priority)
	assert.Equal(t, 3, feeds[1].Priority)
	assert.Equal(t, "https://example.com/rss", feeds[1].Name)
}
