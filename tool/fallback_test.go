package tool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSearchUsesSuggestEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/search/suggest.json") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("q"); got != "rain boots" {
			t.Errorf("unexpected query %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"resources":{"results":{"products":[
			{"title":"Rain Boot","url":"/products/rain-boot","image":"https://cdn.example.com/boot.jpg","price":"39.00"}
		]}}}`))
	}))
	defer srv.Close()

	searcher := NewCatalogSearcher(srv.Client())
	outcome, err := searcher.Search(context.Background(), srv.URL, "rain boots")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}

	if len(outcome.Products) != 1 {
		t.Fatalf("expected 1 product, got %d", len(outcome.Products))
	}
	p := outcome.Products[0]
	if p.Title != "Rain Boot" || p.Price != "39.00" {
		t.Errorf("unexpected product: %+v", p)
	}
	if !strings.HasPrefix(p.URL, srv.URL) {
		t.Errorf("expected absolute product URL, got %s", p.URL)
	}
	if !strings.Contains(outcome.Content, "Rain Boot") {
		t.Errorf("model-facing content missing product: %s", outcome.Content)
	}
}

func TestSearchFallsBackToScrape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/search/suggest.json") {
			http.Error(w, "not here", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body>
			<a href="/products/rain-boot">Rain Boot</a>
			<a href="/products/rain-boot">Rain Boot duplicate link</a>
			<a href="/collections/all">Not a product</a>
			<a href="/products/wellies">Wellies</a>
		</body></html>`))
	}))
	defer srv.Close()

	searcher := NewCatalogSearcher(srv.Client())
	outcome, err := searcher.Search(context.Background(), srv.URL, "boots")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}

	if len(outcome.Products) != 2 {
		t.Fatalf("expected 2 scraped products, got %d: %+v", len(outcome.Products), outcome.Products)
	}
	if outcome.Products[0].Title != "Rain Boot" || outcome.Products[1].Title != "Wellies" {
		t.Errorf("unexpected products: %+v", outcome.Products)
	}
}

func TestSearchRequiresShopAndQuery(t *testing.T) {
	searcher := NewCatalogSearcher(nil)

	if _, err := searcher.Search(context.Background(), "", "boots"); err == nil {
		t.Error("expected error for missing shop")
	}
	if _, err := searcher.Search(context.Background(), "demo.example.com", "  "); err == nil {
		t.Error("expected error for empty query")
	}
}

func TestSearchNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"resources":{"results":{"products":[]}}}`))
	}))
	defer srv.Close()

	searcher := NewCatalogSearcher(srv.Client())
	outcome, err := searcher.Search(context.Background(), srv.URL, "unobtanium")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if !strings.Contains(outcome.Content, "No products found") {
		t.Errorf("expected a no-results message, got %q", outcome.Content)
	}
}
