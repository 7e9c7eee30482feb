package marketplace

import (
	"bytes"
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"github.com/surpriset/marketsync/internal/relay"
)

// Yandex Market product URLs:
// https://market.yandex.ru/card/some-slug/123456789?sku=...
// https://market.yandex.ru/product--some-slug/123456789
var yandexIDPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/card/.+?/(\d+)`),
	regexp.MustCompile(`/product--[^/]+/(\d+)`),
}

// YandexMarketExtractor has no JSON API to lean on: the product page itself
// is the read endpoint, and the payload is the schema.org Product JSON-LD
// block embedded in it.
type YandexMarketExtractor struct {
	fetcher Fetcher
}

var _ Extractor = (*YandexMarketExtractor)(nil)

func NewYandexMarketExtractor(fetcher Fetcher) *YandexMarketExtractor {
	return &YandexMarketExtractor{fetcher: fetcher}
}

func (e *YandexMarketExtractor) CanParse(rawURL string) bool {
	return Detect(rawURL) == YandexMarket
}

func yandexProductID(rawURL string) string {
	// Query parameters may contain digits that confuse the patterns.
	clean, _, _ := strings.Cut(rawURL, "?")
	for _, pattern := range yandexIDPatterns {
		if id := extractID(pattern, clean); id != "" {
			return id
		}
	}
	return ""
}

func (e *YandexMarketExtractor) Parse(ctx context.Context, rawURL string) (*Product, error) {
	id := yandexProductID(rawURL)
	if id == "" {
		return nil, &InvalidURLError{Marketplace: YandexMarket.Name(), URL: rawURL}
	}

	clean, _, _ := strings.Cut(rawURL, "?")
	body, err := e.fetcher.Fetch(ctx, clean, relay.Options{
		Accept: "text/html,application/xhtml+xml",
	})
	if err != nil {
		return nil, wrapFetchErr(YandexMarket, err)
	}

	node, err := yandexProductNode(body)
	if err != nil {
		return nil, &FetchError{Marketplace: YandexMarket.Name(), Err: err}
	}
	if len(node) == 0 {
		return nil, &NotFoundError{Marketplace: YandexMarket.Name(), ProductID: id}
	}

	return e.mapProduct(node), nil
}

// yandexProductNode extracts the schema.org Product object from the page's
// JSON-LD script blocks.
func yandexProductNode(page []byte) (Payload, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page))
	if err != nil {
		return nil, err
	}

	var product Payload
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		payload, err := ParsePayload([]byte(s.Text()))
		if err != nil {
			return true // malformed block, keep scanning
		}
		if node := ldProduct(payload); len(node) > 0 {
			product = node
			return false
		}
		return true
	})
	return product, nil
}

// ldProduct finds a Product node either at top level or inside @graph.
func ldProduct(payload Payload) Payload {
	if payload.Str("@type") == "Product" {
		return payload
	}
	for _, v := range payload.Arr("@graph") {
		if obj, ok := v.(map[string]any); ok && Payload(obj).Str("@type") == "Product" {
			return Payload(obj)
		}
	}
	return Payload{}
}

func (e *YandexMarketExtractor) mapProduct(node Payload) *Product {
	offers := node.Obj("offers")
	if len(offers) == 0 {
		// offers may be a one-element array
		if arr := node.Arr("offers"); len(arr) > 0 {
			if obj, ok := arr[0].(map[string]any); ok {
				offers = Payload(obj)
			}
		}
	}

	price := decimal.NewFromFloat(offers.Num("price", "lowPrice"))

	var oldPrice decimal.NullDecimal
	if old := offers.Num("highPrice"); old > 0 && !decimal.NewFromFloat(old).Equal(price) {
		oldPrice = decimal.NullDecimal{Decimal: decimal.NewFromFloat(old), Valid: true}
	}

	var images []string
	if img := node.Str("image"); img != "" {
		images = []string{img}
	} else {
		images = node.Strings("image")
	}

	characteristics := node.Pairs("additionalProperty")

	return &Product{
		Title:           node.Str("name"),
		Price:           price,
		OldPrice:        oldPrice,
		Description:     node.Str("description"),
		Composition:     compositionFrom(characteristics),
		Characteristics: characteristics,
		Images:          canonicalImages(images),
		InStock:         yandexInStock(offers),
	}
}

func yandexInStock(offers Payload) bool {
	availability := offers.Str("availability")
	if availability == "" {
		return true
	}
	return strings.Contains(availability, "InStock")
}
