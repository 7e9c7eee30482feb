package marketplace

import (
	"context"
	"fmt"
	"net/url"
	"regexp"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/surpriset/marketsync/internal/relay"
)

// ozonEndpoint is the composer API behind the product page.
const ozonEndpoint = "https://api.ozon.ru/composer-api.bx/page/json/v2?url=%s"

// ozonProductIDPattern matches URLs like
// https://www.ozon.ru/product/some-slug-123456789/.
var ozonProductIDPattern = regexp.MustCompile(`/product/[^/]+-(\d+)`)

// OzonExtractor reads products through the Ozon composer API. Ozon is the
// least stable of the three: prices arrive as numbers, formatted strings
// ("12 990 ₽"), or {value} wrappers depending on the page revision, so every
// field goes through the tolerant Payload accessors.
type OzonExtractor struct {
	fetcher Fetcher
}

var _ Extractor = (*OzonExtractor)(nil)

func NewOzonExtractor(fetcher Fetcher) *OzonExtractor {
	return &OzonExtractor{fetcher: fetcher}
}

func (e *OzonExtractor) CanParse(rawURL string) bool {
	return Detect(rawURL) == Ozon
}

func (e *OzonExtractor) Parse(ctx context.Context, rawURL string) (*Product, error) {
	id := extractID(ozonProductIDPattern, rawURL)
	if id == "" {
		return nil, &InvalidURLError{Marketplace: Ozon.Name(), URL: rawURL}
	}

	endpoint := fmt.Sprintf(ozonEndpoint, url.QueryEscape("/product/"+id+"/"))
	body, err := e.fetcher.Fetch(ctx, endpoint, relay.Options{
		Accept:   "application/json",
		WantJSON: true,
	})
	if err != nil {
		return nil, wrapFetchErr(Ozon, err)
	}

	payload, err := ParsePayload(body)
	if err != nil {
		return nil, &FetchError{Marketplace: Ozon.Name(), Err: errors.Wrap(err, "decode composer payload")}
	}

	product := ozonProductNode(payload)
	if len(product) == 0 {
		return nil, &NotFoundError{Marketplace: Ozon.Name(), ProductID: id}
	}

	return e.mapProduct(product), nil
}

// ozonProductNode locates the product object. Newer responses nest it under
// "product" or "cellTrackingInfo"; older ones put the fields at top level.
func ozonProductNode(payload Payload) Payload {
	if node := payload.Obj("product"); node.Str("name", "title") != "" {
		return node
	}
	if node := payload.Obj("cellTrackingInfo").Obj("product"); node.Str("name", "title") != "" {
		return node
	}
	if payload.Str("name", "title") != "" {
		return payload
	}
	return Payload{}
}

func (e *OzonExtractor) mapProduct(node Payload) *Product {
	price := decimal.NewFromFloat(node.Num("price", "finalPrice"))

	var oldPrice decimal.NullDecimal
	if old := node.Num("oldPrice", "originalPrice", "priceWithoutDiscount"); old > 0 && !decimal.NewFromFloat(old).Equal(price) {
		oldPrice = decimal.NullDecimal{Decimal: decimal.NewFromFloat(old), Valid: true}
	}

	characteristics := node.Pairs("characteristics")
	if len(characteristics) == 0 {
		characteristics = node.StringMap("characteristics")
	}

	images := node.Strings("images")
	if len(images) == 0 {
		for _, v := range node.Arr("media") {
			if obj, ok := v.(map[string]any); ok {
				if u := Payload(obj).Str("url", "src"); u != "" {
					images = append(images, u)
				}
			}
		}
	}

	return &Product{
		Title:           node.Str("name", "title"),
		Price:           price,
		OldPrice:        oldPrice,
		Description:     node.Str("description"),
		Composition:     compositionFrom(characteristics),
		Characteristics: characteristics,
		Images:          canonicalImages(images),
		InStock:         ozonInStock(node),
	}
}

func ozonInStock(node Payload) bool {
	for _, key := range []string{"available", "isAvailable"} {
		if _, present := node[key]; present {
			return node.Bool(true, key)
		}
	}
	if _, present := node["quantity"]; present {
		return node.Num("quantity") > 0
	}
	return true
}
