package marketplace

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/surpriset/marketsync/internal/relay"
)

// wbCardEndpoint is the public card API. Query parameters are fixed: appType
// and dest mirror what the storefront itself sends, anything else gets an
// empty product list back.
const wbCardEndpoint = "https://card.wb.ru/cards/v1/detail?appType=1&curr=rub&dest=-1257786&spp=30&nm=%s"

// wbProductIDPattern matches the numeric id in catalog URLs like
// https://www.wildberries.ru/catalog/315215210/detail.aspx.
var wbProductIDPattern = regexp.MustCompile(`/catalog/(\d+)`)

// WildberriesExtractor reads products through the Wildberries card API.
// Prices come back in kopecks; image URLs are not part of the payload and
// are derived from the product id instead.
type WildberriesExtractor struct {
	fetcher Fetcher
}

var _ Extractor = (*WildberriesExtractor)(nil)

func NewWildberriesExtractor(fetcher Fetcher) *WildberriesExtractor {
	return &WildberriesExtractor{fetcher: fetcher}
}

func (e *WildberriesExtractor) CanParse(rawURL string) bool {
	return Detect(rawURL) == Wildberries
}

func (e *WildberriesExtractor) Parse(ctx context.Context, rawURL string) (*Product, error) {
	id := extractID(wbProductIDPattern, rawURL)
	if id == "" {
		return nil, &InvalidURLError{Marketplace: Wildberries.Name(), URL: rawURL}
	}

	body, err := e.fetcher.Fetch(ctx, fmt.Sprintf(wbCardEndpoint, id), relay.Options{
		Accept:   "application/json",
		WantJSON: true,
	})
	if err != nil {
		return nil, wrapFetchErr(Wildberries, err)
	}

	payload, err := ParsePayload(body)
	if err != nil {
		return nil, &FetchError{Marketplace: Wildberries.Name(), Err: errors.Wrap(err, "decode card payload")}
	}

	products := payload.Obj("data").Arr("products")
	if len(products) == 0 {
		return nil, &NotFoundError{Marketplace: Wildberries.Name(), ProductID: id}
	}
	card, ok := products[0].(map[string]any)
	if !ok {
		return nil, &NotFoundError{Marketplace: Wildberries.Name(), ProductID: id}
	}

	return e.mapCard(Payload(card), id), nil
}

func (e *WildberriesExtractor) mapCard(card Payload, id string) *Product {
	salePriceU := card.Num("salePriceU")
	priceU := card.Num("priceU")

	var price decimal.Decimal
	switch {
	case salePriceU > 0:
		price = kopecks(salePriceU)
	case priceU > 0:
		price = kopecks(priceU)
	default:
		price = decimal.NewFromFloat(card.Num("price"))
	}

	var oldPrice decimal.NullDecimal
	if priceU > 0 && priceU != salePriceU {
		oldPrice = decimal.NullDecimal{Decimal: kopecks(priceU), Valid: true}
	}

	characteristics := card.Pairs("options")
	if len(characteristics) == 0 {
		characteristics = card.Pairs("characteristics")
	}

	declared := int(card.Num("pics"))

	return &Product{
		Title:           card.Str("name", "title", "productName", "imt_name"),
		Price:           price,
		OldPrice:        oldPrice,
		Description:     card.Str("description", "text"),
		Composition:     compositionFrom(characteristics),
		Characteristics: characteristics,
		Images:          wbImageURLs(id, declared),
		InStock:         wbInStock(card),
	}
}

func wbInStock(card Payload) bool {
	for _, key := range []string{"totalQuantity", "quantity"} {
		if _, present := card[key]; present {
			return card.Num(key) > 0
		}
	}
	// No stock info in the payload; the card exists, assume sellable.
	return true
}

// wbImageURLs synthesizes CDN image URLs from the numeric product id. The
// basket host and vol/part divisors reproduce what the storefront computes
// client-side; they are observed behaviour, not a documented contract, and
// may 404 for some id ranges.
func wbImageURLs(id string, declared int) []string {
	numericID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil
	}

	count := declared
	if count <= 0 {
		count = 5
	}
	if count > MaxImages {
		count = MaxImages
	}

	vol := numericID / 100_000
	part := numericID / 1_000

	urls := make([]string, 0, count)
	for i := 1; i <= count; i++ {
		urls = append(urls, fmt.Sprintf(
			"https://basket-%02d.wbbasket.ru/vol%d/part%d/%s/images/big/%d.webp",
			vol, vol, part, id, i,
		))
	}
	return urls
}

// extractID applies an id pattern with a single capture group to a URL.
func extractID(pattern *regexp.Regexp, rawURL string) string {
	m := pattern.FindStringSubmatch(rawURL)
	if len(m) < 2 {
		return ""
	}
	return m[len(m)-1]
}

// wrapFetchErr maps gateway failures to the marketplace error taxonomy:
// an all-timeout transport failure becomes a user-facing TimeoutError,
// everything else is wrapped so raw transport detail stays out of UI copy.
func wrapFetchErr(m Marketplace, err error) error {
	var te *relay.TransportError
	if errors.As(err, &te) && te.AllTimeout() {
		return &TimeoutError{Marketplace: m.Name()}
	}
	return &FetchError{Marketplace: m.Name(), Err: err}
}
