package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/surpriset/marketsync/internal/domain/product"
	"github.com/surpriset/marketsync/internal/reconcile"
)

// productResponse mirrors the stored product in the snake_case shape the
// admin UI expects.
type productResponse struct {
	ID               string            `json:"id"`
	SKU              string            `json:"sku"`
	Name             string            `json:"name"`
	Description      string            `json:"description"`
	Composition      string            `json:"composition,omitempty"`
	Price            decimal.Decimal   `json:"price"`
	OriginalPrice    *decimal.Decimal  `json:"original_price"`
	Images           []string          `json:"images"`
	Status           string            `json:"status"`
	Specifications   map[string]string `json:"specifications,omitempty"`
	IsImported       bool              `json:"is_imported"`
	SourceURL        string            `json:"source_url,omitempty"`
	MarginPercent    int               `json:"margin_percent"`
	LastPriceCheckAt *time.Time        `json:"last_price_check_at"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

func toProductResponse(p product.Product) productResponse {
	resp := productResponse{
		ID:               p.ID,
		SKU:              p.SKU,
		Name:             p.Name,
		Description:      p.Description,
		Composition:      p.Composition,
		Price:            p.Price,
		Images:           p.Images,
		Status:           string(p.Status),
		Specifications:   p.Specifications,
		IsImported:       p.IsImported,
		SourceURL:        p.SourceURL,
		MarginPercent:    p.MarginPercent,
		LastPriceCheckAt: p.LastPriceCheckAt,
		CreatedAt:        p.CreatedAt,
		UpdatedAt:        p.UpdatedAt,
	}
	if p.OriginalPrice.Valid {
		d := p.OriginalPrice.Decimal
		resp.OriginalPrice = &d
	}
	return resp
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.store.ListAll(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}

	out := make([]productResponse, len(products))
	for i, p := range products {
		out[i] = toProductResponse(p)
	}
	respondJSON(w, http.StatusOK, out)
}

type importRequest struct {
	URL           string `json:"url"`
	SKU           string `json:"sku,omitempty"`
	MarginPercent *int   `json:"margin_percent,omitempty"`
}

// importProduct extracts a marketplace product and creates a stored record
// with the margin already applied.
func (h *Handler) importProduct(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "product URL is required"})
		return
	}

	margin := h.cfg.DefaultMarginPercent
	if req.MarginPercent != nil {
		margin = *req.MarginPercent
	}
	if margin < 0 || margin > 100 {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: reconcile.ErrInvalidMargin.Error()})
		return
	}

	fresh, err := h.parser.ParseProduct(r.Context(), req.URL)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if utf8.RuneCountInString(fresh.Title) < 3 {
		respondJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "extracted product title is too short"})
		return
	}

	id := uuid.New().String()
	sku := req.SKU
	if sku == "" {
		sku = "MP-" + strings.ToUpper(id[:8])
	}

	status := product.StatusOutOfStock
	if fresh.InStock {
		status = product.StatusInStock
	}

	var originalPrice decimal.NullDecimal
	if fresh.OldPrice.Valid {
		originalPrice = decimal.NullDecimal{
			Decimal: reconcile.PriceWithMargin(fresh.OldPrice.Decimal, margin),
			Valid:   true,
		}
	}

	now := time.Now()
	p := &product.Product{
		ID:               id,
		SKU:              sku,
		Name:             fresh.Title,
		Description:      fresh.Description,
		Composition:      fresh.Composition,
		Price:            reconcile.PriceWithMargin(fresh.Price, margin),
		OriginalPrice:    originalPrice,
		Images:           fresh.Images,
		Status:           status,
		Specifications:   fresh.Characteristics,
		IsImported:       true,
		SourceURL:        strings.TrimSpace(req.URL),
		MarginPercent:    margin,
		LastPriceCheckAt: &now,
	}

	if err := h.store.Create(r.Context(), p); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toProductResponse(*p))
}

type bulkMarginRequest struct {
	ProductIDs    []string `json:"product_ids"`
	MarginPercent int      `json:"margin_percent"`
}

func (h *Handler) applyBulkMargin(w http.ResponseWriter, r *http.Request) {
	var req bulkMarginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if len(req.ProductIDs) == 0 {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "product_ids is required"})
		return
	}

	outcome, err := h.reconciler.ApplyBulkMargin(r.Context(), req.ProductIDs, req.MarginPercent)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, outcome)
}
