package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-faster/jx"

	"github.com/surpriset/marketsync/internal/relay"
)

// parseProduct extracts a marketplace URL into the canonical shape without
// persisting anything. The admin UI uses it to preview an import.
func (h *Handler) parseProduct(w http.ResponseWriter, r *http.Request) {
	rawURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if rawURL == "" {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "url parameter is required"})
		return
	}

	fresh, err := h.parser.ParseProduct(r.Context(), rawURL)
	if err != nil {
		respondError(w, r, err)
		return
	}

	type parseResponse struct {
		Title           string            `json:"title"`
		Price           string            `json:"price"`
		OldPrice        *string           `json:"old_price"`
		Description     string            `json:"description"`
		Composition     string            `json:"composition,omitempty"`
		Characteristics map[string]string `json:"characteristics"`
		Images          []string          `json:"images"`
		InStock         bool              `json:"in_stock"`
	}

	resp := parseResponse{
		Title:           fresh.Title,
		Price:           fresh.Price.String(),
		Description:     fresh.Description,
		Composition:     fresh.Composition,
		Characteristics: fresh.Characteristics,
		Images:          fresh.Images,
		InStock:         fresh.InStock,
	}
	if fresh.OldPrice.Valid {
		s := fresh.OldPrice.Decimal.String()
		resp.OldPrice = &s
	}
	respondJSON(w, http.StatusOK, resp)
}

// proxy relays an allow-listed marketplace request for browser clients that
// cannot reach the marketplace directly because of CORS.
func (h *Handler) proxy(w http.ResponseWriter, r *http.Request) {
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "url parameter is required"})
		return
	}

	decoded, err := url.QueryUnescape(rawURL)
	if err != nil {
		decoded = rawURL
	}
	target, err := url.Parse(decoded)
	if err != nil || target.Hostname() == "" {
		respondJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid url"})
		return
	}

	hostname := target.Hostname()
	allowed := false
	for _, allowedHost := range h.cfg.ProxyAllowedHosts {
		if strings.Contains(hostname, allowedHost) {
			allowed = true
			break
		}
	}
	if !allowed {
		respondJSON(w, http.StatusForbidden, errorResponse{Error: "host not allowed"})
		return
	}

	body, err := h.fetcher.Fetch(r.Context(), target.String(), relay.Options{})
	if err != nil {
		respondError(w, r, err)
		return
	}

	if jx.Valid(body) {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", http.DetectContentType(body))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
