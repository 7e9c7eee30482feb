// Package marketplace turns third-party product URLs into canonical product
// records. Each supported marketplace has its own extractor encapsulating
// that marketplace's URL patterns, endpoints, and payload quirks; a registry
// dispatches to the first extractor whose detector matches.
package marketplace

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/surpriset/marketsync/internal/relay"
)

// Fetcher is the transport dependency extractors use. *relay.Client
// satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, target string, opts relay.Options) ([]byte, error)
}

// Marketplace identifies one of the supported product sources. The set is
// closed and small; no plugin mechanism is wanted here.
type Marketplace string

const (
	Wildberries  Marketplace = "wildberries"
	Ozon         Marketplace = "ozon"
	YandexMarket Marketplace = "yandex"
)

// Name returns the user-facing marketplace name.
func (m Marketplace) Name() string {
	switch m {
	case Wildberries:
		return "Wildberries"
	case Ozon:
		return "Ozon"
	case YandexMarket:
		return "Yandex Market"
	default:
		return string(m)
	}
}

// Detect classifies a product URL by host substring, case-insensitively.
// It returns "" for anything unmatched.
func Detect(rawURL string) Marketplace {
	lower := strings.ToLower(rawURL)
	switch {
	case strings.Contains(lower, "wildberries.ru") || strings.Contains(lower, "wb.ru"):
		return Wildberries
	case strings.Contains(lower, "ozon.ru"):
		return Ozon
	case strings.Contains(lower, "market.yandex.ru"):
		return YandexMarket
	default:
		return ""
	}
}

// MaxImages caps the canonical image list.
const MaxImages = 10

// Product is the marketplace-agnostic shape every extractor produces. It is
// created fresh per extraction and discarded after being folded into a
// persistence update.
type Product struct {
	Title           string
	Price           decimal.Decimal
	OldPrice        decimal.NullDecimal
	Description     string
	Composition     string
	Characteristics map[string]string
	Images          []string
	InStock         bool
}

// Extractor is the shared capability all marketplace extractors implement.
type Extractor interface {
	CanParse(rawURL string) bool
	Parse(ctx context.Context, rawURL string) (*Product, error)
}

// Parser is the single entry point consumers depend on.
type Parser interface {
	ParseProduct(ctx context.Context, rawURL string) (*Product, error)
}

// Registry holds the ordered extractor set. Dispatch order is declaration
// order; first match wins.
type Registry struct {
	extractors []Extractor
}

var _ Parser = (*Registry)(nil)

// NewRegistry builds the registry over the full extractor set.
func NewRegistry(fetcher Fetcher) *Registry {
	return &Registry{
		extractors: []Extractor{
			NewWildberriesExtractor(fetcher),
			NewOzonExtractor(fetcher),
			NewYandexMarketExtractor(fetcher),
		},
	}
}

// GetExtractor returns the first extractor matching the URL, or nil.
func (r *Registry) GetExtractor(rawURL string) Extractor {
	for _, e := range r.extractors {
		if e.CanParse(rawURL) {
			return e
		}
	}
	return nil
}

// ParseProduct dispatches the URL to its extractor.
func (r *Registry) ParseProduct(ctx context.Context, rawURL string) (*Product, error) {
	trimmed := strings.TrimSpace(rawURL)
	e := r.GetExtractor(trimmed)
	if e == nil {
		return nil, &UnsupportedError{URL: trimmed}
	}
	return e.Parse(ctx, trimmed)
}

// canonicalImages filters to absolute HTTP(S) URLs and caps the list.
func canonicalImages(urls []string) []string {
	out := make([]string, 0, MaxImages)
	for _, u := range urls {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			continue
		}
		out = append(out, u)
		if len(out) == MaxImages {
			break
		}
	}
	return out
}

// compositionKeys are the characteristic names that hold material/composition
// facts, in lookup order.
var compositionKeys = []string{"Состав", "Материал", "Composition", "Material", "Материалы"}

func compositionFrom(characteristics map[string]string) string {
	for _, key := range compositionKeys {
		if v, ok := characteristics[key]; ok && v != "" {
			return v
		}
	}
	return ""
}

// kopecks converts a minor-unit price to whole currency units.
func kopecks(n float64) decimal.Decimal {
	return decimal.NewFromFloat(n).Div(decimal.NewFromInt(100))
}
