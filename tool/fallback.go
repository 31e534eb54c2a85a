package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/sweetpotato0/shopchat/pkg/logging"
)

// FallbackToolName is the built-in catalog-search tool installed when no
// capability source contributes any tool.
const FallbackToolName = "search_shop_catalog"

// FallbackDescriptor returns the descriptor for the built-in catalog search.
func FallbackDescriptor() *Descriptor {
	return &Descriptor{
		Name:        FallbackToolName,
		Description: "Search the shop's product catalog. Returns matching products with titles, prices and links.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Search terms describing what the shopper is looking for",
				},
				"context": map[string]any{
					"type":        "string",
					"description": "Optional conversational context for the search",
				},
			},
			"required": []string{"query"},
		},
	}
}

// CatalogSearcher implements the fallback search path against a storefront.
// It tries the storefront's suggest JSON endpoint first and falls back to
// scraping the HTML search results page.
type CatalogSearcher struct {
	client *http.Client
	logger *slog.Logger
}

// NewCatalogSearcher creates a searcher. A nil client gets a default with a
// 10 second timeout.
func NewCatalogSearcher(client *http.Client) *CatalogSearcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &CatalogSearcher{
		client: client,
		logger: logging.WithComponent("catalog_search"),
	}
}

// Supports reports whether the named tool has a fallback search path.
func (s *CatalogSearcher) Supports(name string) bool {
	return name == FallbackToolName
}

// Search runs a catalog search against the given shop domain and returns a
// normalized outcome. The model-facing content is a JSON document; matched
// products are also lifted onto the side channel.
func (s *CatalogSearcher) Search(ctx context.Context, shop, query string) (*Outcome, error) {
	if shop == "" {
		return nil, fmt.Errorf("catalog search: shop domain is required")
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("catalog search: query is required")
	}

	products, err := s.suggest(ctx, shop, query)
	if err != nil {
		s.logger.Warn("suggest endpoint failed, scraping search page",
			"shop", shop, "error", err)
		products, err = s.scrape(ctx, shop, query)
		if err != nil {
			return nil, err
		}
	}

	payload := map[string]any{
		"products": products,
		"query":    query,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("catalog search: encode results: %w", err)
	}

	outcome := NormalizeRaw(string(raw))
	if len(products) == 0 {
		outcome.Content = fmt.Sprintf("No products found for %q.", query)
	}
	return outcome, nil
}

type suggestResponse struct {
	Resources struct {
		Results struct {
			Products []struct {
				Title string `json:"title"`
				URL   string `json:"url"`
				Image string `json:"image"`
				Price string `json:"price"`
			} `json:"products"`
		} `json:"results"`
	} `json:"resources"`
}

func (s *CatalogSearcher) suggest(ctx context.Context, shop, query string) ([]Product, error) {
	endpoint := fmt.Sprintf("%s/search/suggest.json?q=%s&resources[type]=product",
		storefrontURL(shop), url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("suggest endpoint returned %d", resp.StatusCode)
	}

	var decoded suggestResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode suggest response: %w", err)
	}

	products := make([]Product, 0, len(decoded.Resources.Results.Products))
	for _, p := range decoded.Resources.Results.Products {
		products = append(products, Product{
			Title:    p.Title,
			URL:      absoluteURL(shop, p.URL),
			ImageURL: p.Image,
			Price:    p.Price,
		})
	}
	return products, nil
}

const maxScrapedProducts = 5

func (s *CatalogSearcher) scrape(ctx context.Context, shop, query string) ([]Product, error) {
	endpoint := fmt.Sprintf("%s/search?q=%s&type=product", storefrontURL(shop), url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search page returned %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse search page: %w", err)
	}

	seen := make(map[string]struct{})
	var products []Product
	doc.Find(`a[href*="/products/"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, ok := sel.Attr("href")
		if !ok {
			return true
		}
		title := strings.TrimSpace(sel.Text())
		if title == "" {
			return true
		}
		link := absoluteURL(shop, href)
		if _, dup := seen[link]; dup {
			return true
		}
		seen[link] = struct{}{}
		products = append(products, Product{Title: title, URL: link})
		return len(products) < maxScrapedProducts
	})

	return products, nil
}

// storefrontURL turns a shop identifier into a base URL. Bare domains get
// the https scheme; identifiers that already carry a scheme pass through.
func storefrontURL(shop string) string {
	if strings.Contains(shop, "://") {
		return strings.TrimSuffix(shop, "/")
	}
	return "https://" + shop
}

func absoluteURL(shop, path string) string {
	if path == "" || strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return storefrontURL(shop) + path
}
