package impl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bakkerme/dealwatch/internal/sources/rss"
)

const feedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Deals</title>
  <item>
    <guid>1</guid>
    <title> Wool Coat </title>
    <link>https://shop.example/coat</link>
    <description>Was £400 now £100</description>
    <enclosure url="https://cdn.example/coat.jpg" type="image/jpeg" length="1"/>
    <pubDate>Sat, 09 Mar 2024 14:05:00 GMT</pubDate>
  </item>
  <item>
    <guid>2</guid>
    <title>Socks</title>
    <link>https://shop.example/socks</link>
    <description>£8 now £2</description>
  </item>
</channel>
</rss>`

func TestFetcherParsesFeed(t *testing.T) {
	var agent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(feedXML))
	}))
	defer srv.Close()

	f := NewFetcher(5*time.Second, "dealwatch-test", nil)
	items, err := f.Fetch(context.Background(), srv.URL, rss.FetchOptions{Limit: 1, UserAgent: "custom-agent"})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected limit to apply, got %d items", len(items))
	}
	item := items[0]
	if item.Title != "Wool Coat" || item.Link != "https://shop.example/coat" || item.ImageURL != "https://cdn.example/coat.jpg" {
		t.Fatalf("unexpected item: %+v", item)
	}
	if item.PublishedAt.Year() != 2024 {
		t.Fatalf("unexpected published date: %v", item.PublishedAt)
	}
	if agent != "custom-agent" {
		t.Fatalf("user agent=%q", agent)
	}
}

func TestFetcherDoesNotRetryNotFound(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewFetcher(5*time.Second, "dealwatch-test", nil)
	if _, err := f.Fetch(context.Background(), srv.URL, rss.FetchOptions{}); err == nil {
		t.Fatalf("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt for 404, got %d", calls)
	}
}
