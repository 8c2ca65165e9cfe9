package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/llmosd/llmosd/internal/config"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	c := New(config.WebConfig{
		APIKey:         "test-key",
		SearchEngineID: "test-cx",
		MaxQPS:         1000,
	})
	if c == nil {
		t.Fatal("New returned nil with key configured")
	}
	return c
}

func TestNewWithoutKeyReturnsNil(t *testing.T) {
	if c := New(config.WebConfig{}); c != nil {
		t.Error("expected nil client without API key")
	}
}

func TestSearchCachesPerQuery(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if got := r.URL.Query().Get("q"); got != "go testing" {
			t.Errorf("q = %q", got)
		}
		if r.URL.Query().Get("key") == "" || r.URL.Query().Get("cx") == "" {
			t.Error("missing key or cx")
		}
		w.Write([]byte(`{"items": [
			{"link": "https://a", "title": "A", "snippet": "first"},
			{"link": "https://b", "title": "B", "snippet": "second"},
			{"link": "https://c", "title": "C", "snippet": "third"}
		]}`))
	}))
	defer srv.Close()

	c := testClient(t)
	c.searchEndpoint = srv.URL

	results, total, err := c.Search(context.Background(), "go testing", 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 || len(results) != 2 {
		t.Fatalf("total = %d, page = %d, want 3/2", total, len(results))
	}
	if results[0].URL != "https://a" || results[0].Snippet != "first" {
		t.Errorf("results[0] = %+v", results[0])
	}

	// Second page comes from cache, no extra API call.
	results, _, err = c.Search(context.Background(), "go testing", 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].URL != "https://c" {
		t.Errorf("second page = %+v", results)
	}
	if calls != 1 {
		t.Errorf("API calls = %d, want 1", calls)
	}
}

func TestLoadPageExtractsText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><script>alert(1)</script><style>p{}</style></head>
			<body><nav>menu</nav><p>Hello &amp; welcome</p><ul><li>one</li><li>two</li></ul></body></html>`))
	}))
	defer srv.Close()

	c := testClient(t)
	out, err := c.LoadPage(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "[200 OK]\n") {
		t.Errorf("missing status line: %q", out)
	}
	for _, want := range []string{"Hello & welcome", "- one", "- two"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	for _, banned := range []string{"alert(1)", "menu", "<p>"} {
		if strings.Contains(out, banned) {
			t.Errorf("output contains %q:\n%s", banned, out)
		}
	}
}

func TestLoadPageKeepsDocumentTitle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Release
			Notes</title></head><body><p>Bug fixes.</p></body></html>`))
	}))
	defer srv.Close()

	c := testClient(t)
	out, err := c.LoadPage(context.Background(), srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Release Notes") {
		t.Errorf("output missing title:\n%s", out)
	}
	if !strings.Contains(out, "Bug fixes.") {
		t.Errorf("output missing body:\n%s", out)
	}
}

func TestLoadPageRejectsNonHTTP(t *testing.T) {
	c := testClient(t)
	if _, err := c.LoadPage(context.Background(), "ftp://example.com/x"); err == nil {
		t.Error("expected scheme error")
	}
	if _, err := c.LoadPage(context.Background(), "https://"); err == nil {
		t.Error("expected hostname error")
	}
}
