package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/sweetpotato0/shopchat/errors"
	"github.com/sweetpotato0/shopchat/pkg/logging"
)

// Descriptor describes a callable tool exposed to the model.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Product is a catalog item surfaced for visual rendering. Products travel
// on a side channel; they are never embedded in the text fed back to the
// model.
type Product struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	ImageURL string `json:"image_url,omitempty"`
	Price    string `json:"price,omitempty"`
}

// Outcome is the canonical envelope for one tool invocation result.
// Backends return raw strings, JSON objects or block arrays; everything is
// normalized into this shape before the orchestrator sees it.
type Outcome struct {
	Content   string    `json:"content"`
	IsError   bool      `json:"is_error,omitempty"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Products  []Product `json:"products,omitempty"`
}

// ErrorOutcome builds a structured execution-error outcome from err.
func ErrorOutcome(name string, err error) *Outcome {
	return &Outcome{
		Content:   fmt.Sprintf("Error executing tool %s: %v", name, err),
		IsError:   true,
		ErrorKind: "execution_error",
	}
}

// Source is an external capability source: a server exposing a set of
// callable tools and their schemas.
type Source interface {
	// Name identifies the source in logs.
	Name() string
	// Connect returns the source's current tool descriptors.
	Connect(ctx context.Context) ([]*Descriptor, error)
	// Invoke executes a remote tool and returns its normalized outcome.
	Invoke(ctx context.Context, name string, input map[string]any) (*Outcome, error)
	// Close releases resources owned by the source.
	Close() error
}

// Registry discovers tools from capability sources and dispatches
// executions. All operations are thread-safe.
type Registry struct {
	mu       sync.RWMutex
	sources  []Source
	owners   map[string]Source
	ordered  []*Descriptor
	fallback *CatalogSearcher
	logger   *slog.Logger
}

// NewRegistry creates a registry over the given capability sources. The
// searcher backs the built-in catalog-search path when no source is usable.
func NewRegistry(searcher *CatalogSearcher, sources ...Source) *Registry {
	return &Registry{
		sources:  sources,
		owners:   make(map[string]Source),
		fallback: searcher,
		logger:   logging.WithComponent("tool_registry"),
	}
}

// Discover queries every capability source and merges their descriptors in
// source order. A failing source contributes zero tools; it never aborts
// discovery. When the merged set is empty the built-in catalog-search
// descriptor is installed instead.
func (r *Registry) Discover(ctx context.Context) []*Descriptor {
	results := make([][]*Descriptor, len(r.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range r.sources {
		g.Go(func() error {
			descs, err := src.Connect(gctx)
			if err != nil {
				r.logger.Warn("capability source discovery failed",
					"source", src.Name(), "error", err)
				return nil
			}
			results[i] = descs
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.owners = make(map[string]Source)
	r.ordered = r.ordered[:0]
	for i, descs := range results {
		for _, d := range descs {
			if d == nil || d.Name == "" {
				continue
			}
			if _, exists := r.owners[d.Name]; exists {
				continue
			}
			r.owners[d.Name] = r.sources[i]
			r.ordered = append(r.ordered, d)
		}
	}

	if len(r.ordered) == 0 {
		r.logger.Info("no tools discovered, installing fallback catalog search")
		r.ordered = append(r.ordered, FallbackDescriptor())
	}

	// The write lock is still held here; copying inline avoids re-entering
	// the mutex via Descriptors.
	return append([]*Descriptor(nil), r.ordered...)
}

// Descriptors returns the current merged descriptor set.
func (r *Registry) Descriptors() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Descriptor(nil), r.ordered...)
}

// Execute dispatches a tool call to whichever backend owns the named tool:
// the capability source that contributed it, or the fallback search path for
// tools that support one. Execution failures come back as structured error
// outcomes, never as a hard error to the caller.
func (r *Registry) Execute(ctx context.Context, shop, name string, input map[string]any) *Outcome {
	r.mu.RLock()
	owner := r.owners[name]
	r.mu.RUnlock()

	if owner != nil {
		outcome, err := owner.Invoke(ctx, name, input)
		if err == nil {
			return outcome
		}
		r.logger.Warn("capability source invocation failed",
			"source", owner.Name(), "tool", name, "error", err)
		if r.fallback != nil && r.fallback.Supports(name) {
			return r.fallbackSearch(ctx, shop, input)
		}
		return ErrorOutcome(name, err)
	}

	if r.fallback != nil && r.fallback.Supports(name) {
		return r.fallbackSearch(ctx, shop, input)
	}

	return ErrorOutcome(name, errors.ErrToolNotFound)
}

func (r *Registry) fallbackSearch(ctx context.Context, shop string, input map[string]any) *Outcome {
	query, _ := input["query"].(string)
	outcome, err := r.fallback.Search(ctx, shop, query)
	if err != nil {
		return ErrorOutcome(FallbackToolName, err)
	}
	return outcome
}

// Close releases every capability source.
func (r *Registry) Close() error {
	var firstErr error
	for _, src := range r.sources {
		if err := src.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NormalizeRaw converts a raw backend payload into the canonical outcome
// envelope. JSON objects keep their serialized form as model-facing content;
// a top-level "products" array is additionally lifted onto the side channel.
func NormalizeRaw(raw string) *Outcome {
	outcome := &Outcome{Content: raw}

	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return outcome
	}

	rawProducts, ok := payload["products"].([]any)
	if !ok {
		return outcome
	}
	for _, rp := range rawProducts {
		pm, ok := rp.(map[string]any)
		if !ok {
			continue
		}
		outcome.Products = append(outcome.Products, Product{
			Title:    stringValue(pm["title"]),
			URL:      stringValue(pm["url"]),
			ImageURL: stringValue(pm["image_url"]),
			Price:    stringValue(pm["price"]),
		})
	}
	return outcome
}

func stringValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
