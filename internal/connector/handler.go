// Package connector implements the endpoint through which the Connector
// bootstraps and manages the registry of this service.
package connector

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/MrSnakeDoc/realmlink/internal/client"
	"github.com/MrSnakeDoc/realmlink/internal/logger"
	"github.com/MrSnakeDoc/realmlink/internal/registry"
)

// DefaultEndpoint is the path the handler answers on.
const DefaultEndpoint = "/connector"

// SecretFetcher retrieves the encrypted secret offered by the Connector.
type SecretFetcher interface {
	FetchJSON(ctx context.Context, rawURL string) (*client.Response, error)
}

// Handler serves setup (POST), info (GET), update (PUT) and remove (DELETE).
// It holds no state between requests.
type Handler struct {
	reg      *registry.Registry
	fetcher  SecretFetcher
	endpoint string
	logger   logger.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithEndpoint sets the path the handler answers on.
func WithEndpoint(path string) Option {
	return func(h *Handler) {
		if path != "" {
			h.endpoint = path
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// New creates a handler. A nil fetcher falls back to the registry client.
func New(reg *registry.Registry, fetcher SecretFetcher, opts ...Option) *Handler {
	h := &Handler{
		reg:      reg,
		fetcher:  fetcher,
		endpoint: DefaultEndpoint,
		logger:   logger.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.fetcher == nil {
		h.fetcher = reg.Client()
	}
	return h
}

// Endpoint returns the path the handler answers on.
func (h *Handler) Endpoint() string {
	return h.endpoint
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error("connector request panicked",
				logger.String("method", r.Method),
				logger.String("panic", fmt.Sprint(rec)))
			fail(w, fmt.Sprint(rec))
		}
	}()

	if r.URL.Path != h.endpoint {
		fail(w, fmt.Sprintf("This app must be configured to respond to %s path.", h.endpoint))
		return
	}

	switch r.Method {
	case http.MethodPost:
		h.setup(w, r)
	case http.MethodGet:
		h.info(w, r)
	case http.MethodPut:
		h.update(w, r)
	case http.MethodDelete:
		h.remove(w, r)
	default:
		fail(w, "Invalid request method: "+strings.ToLower(r.Method))
	}
}
