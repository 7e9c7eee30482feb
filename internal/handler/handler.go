// Package handler implements the admin HTTP API: product listing and import,
// on-demand price refresh, bulk margin overrides, and the allow-listed
// passthrough proxy the storefront uses for marketplace requests.
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/surpriset/marketsync/internal/domain/product"
	"github.com/surpriset/marketsync/internal/marketplace"
	"github.com/surpriset/marketsync/internal/reconcile"
	"github.com/surpriset/marketsync/internal/relay"
)

// Reconciler is the slice of the reconciliation service the API needs.
type Reconciler interface {
	ReconcileAllImported(ctx context.Context) (reconcile.Outcome, error)
	ReconcileStale(ctx context.Context, threshold time.Duration) (reconcile.Outcome, error)
	ApplyBulkMargin(ctx context.Context, productIDs []string, marginPercent int) (reconcile.Outcome, error)
}

// Config holds non-dependency handler configuration.
type Config struct {
	// DefaultMarginPercent is applied to imports that do not specify one.
	DefaultMarginPercent int
	// ProxyAllowedHosts restricts /api/proxy targets.
	ProxyAllowedHosts []string
}

// Handler wires the admin API routes.
type Handler struct {
	cfg        Config
	store      product.Store
	parser     marketplace.Parser
	reconciler Reconciler
	fetcher    marketplace.Fetcher
}

// New constructs a Handler with the required dependencies.
func New(cfg Config, store product.Store, parser marketplace.Parser, reconciler Reconciler, fetcher marketplace.Fetcher) *Handler {
	if cfg.DefaultMarginPercent <= 0 {
		cfg.DefaultMarginPercent = product.DefaultMarginPercent
	}
	return &Handler{
		cfg:        cfg,
		store:      store,
		parser:     parser,
		reconciler: reconciler,
		fetcher:    fetcher,
	}
}

// Register attaches all API routes to the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/products", h.listProducts)
	mux.HandleFunc("POST /api/products/import", h.importProduct)
	mux.HandleFunc("POST /api/products/margin", h.applyBulkMargin)
	mux.HandleFunc("GET /api/parse", h.parseProduct)
	mux.HandleFunc("POST /api/prices/refresh", h.refreshPrices)
	mux.HandleFunc("POST /api/prices/refresh-stale", h.refreshStalePrices)
	mux.HandleFunc("GET /api/proxy", h.proxy)
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

// respondError maps domain errors to status codes and keeps internal detail
// out of responses.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		unsupportedErr *marketplace.UnsupportedError
		invalidURLErr  *marketplace.InvalidURLError
		notFoundErr    *marketplace.NotFoundError
		timeoutErr     *marketplace.TimeoutError
		fetchErr       *marketplace.FetchError
		transportErr   *relay.TransportError
	)

	switch {
	case errors.As(err, &unsupportedErr), errors.As(err, &invalidURLErr):
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.As(err, &notFoundErr):
		respondJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.As(err, &timeoutErr):
		respondJSON(w, http.StatusGatewayTimeout, errorResponse{Error: err.Error()})
	case errors.As(err, &fetchErr), errors.As(err, &transportErr):
		respondJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
	case errors.Is(err, product.ErrNotFound):
		respondJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, reconcile.ErrInvalidMargin), errors.Is(err, reconcile.ErrNoSourceURL):
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		zctx.From(r.Context()).Error("Internal error", zap.Error(err))
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}
