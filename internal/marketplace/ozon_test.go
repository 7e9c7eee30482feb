package marketplace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ozonTestURL = "https://www.ozon.ru/product/noutbuk-igrovoy-123456789/"

func TestOzon_Parse(t *testing.T) {
	fetcher := &fakeFetcher{body: []byte(`{
		"product": {
			"name": "Ноутбук игровой",
			"price": 89990,
			"oldPrice": 99990,
			"available": true,
			"description": "16 ГБ ОЗУ",
			"images": ["https://cdn.ozon.ru/1.jpg", "https://cdn.ozon.ru/2.jpg"],
			"characteristics": [
				{"name": "Диагональ", "value": "15.6"},
				{"name": "Материал", "value": "алюминий"}
			]
		}
	}`)}
	e := NewOzonExtractor(fetcher)

	p, err := e.Parse(context.Background(), ozonTestURL)
	require.NoError(t, err)

	assert.Equal(t, "Ноутбук игровой", p.Title)
	assert.Equal(t, "89990", p.Price.String())
	require.True(t, p.OldPrice.Valid)
	assert.Equal(t, "99990", p.OldPrice.Decimal.String())
	assert.True(t, p.InStock)
	assert.Equal(t, "алюминий", p.Composition)
	assert.Equal(t, []string{"https://cdn.ozon.ru/1.jpg", "https://cdn.ozon.ru/2.jpg"}, p.Images)

	assert.Contains(t, fetcher.lastTarget, "api.ozon.ru/composer-api.bx/page/json/v2")
	assert.Contains(t, fetcher.lastTarget, "%2Fproduct%2F123456789%2F")
	assert.True(t, fetcher.lastOpts.WantJSON)
}

func TestOzon_Parse_PriceShapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"number", `{"product":{"name":"x","price":12990}}`, "12990"},
		{"formatted string", `{"product":{"name":"x","price":"12 990 ₽"}}`, "12990"},
		{"value wrapper", `{"product":{"name":"x","price":{"value":12990}}}`, "12990"},
		{"finalPrice fallback", `{"product":{"name":"x","finalPrice":4990}}`, "4990"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewOzonExtractor(&fakeFetcher{body: []byte(tt.body)})
			p, err := e.Parse(context.Background(), ozonTestURL)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Price.String())
		})
	}
}

func TestOzon_Parse_NodeLocations(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"product key", `{"product":{"name":"Товар","price":100}}`},
		{"cellTrackingInfo", `{"cellTrackingInfo":{"product":{"name":"Товар","price":100}}}`},
		{"top level", `{"name":"Товар","price":100}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewOzonExtractor(&fakeFetcher{body: []byte(tt.body)})
			p, err := e.Parse(context.Background(), ozonTestURL)
			require.NoError(t, err)
			assert.Equal(t, "Товар", p.Title)
		})
	}
}

func TestOzon_Parse_OldPriceEqualIsDropped(t *testing.T) {
	e := NewOzonExtractor(&fakeFetcher{body: []byte(`{"product":{"name":"x","price":500,"oldPrice":500}}`)})

	p, err := e.Parse(context.Background(), ozonTestURL)
	require.NoError(t, err)
	assert.False(t, p.OldPrice.Valid)
}

func TestOzon_Parse_MediaImagesFallback(t *testing.T) {
	e := NewOzonExtractor(&fakeFetcher{body: []byte(`{
		"product": {
			"name": "x",
			"price": 100,
			"media": [
				{"url": "https://cdn.ozon.ru/a.jpg"},
				{"src": "https://cdn.ozon.ru/b.jpg"},
				{"type": "video"}
			]
		}
	}`)})

	p, err := e.Parse(context.Background(), ozonTestURL)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://cdn.ozon.ru/a.jpg", "https://cdn.ozon.ru/b.jpg"}, p.Images)
}

func TestOzon_Stock(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"available false", `{"product":{"name":"x","available":false}}`, false},
		{"isAvailable true", `{"product":{"name":"x","isAvailable":true}}`, true},
		{"quantity zero", `{"product":{"name":"x","quantity":0}}`, false},
		{"no stock info", `{"product":{"name":"x"}}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewOzonExtractor(&fakeFetcher{body: []byte(tt.body)})
			p, err := e.Parse(context.Background(), ozonTestURL)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.InStock)
		})
	}
}

func TestOzon_Parse_InvalidURL(t *testing.T) {
	fetcher := &fakeFetcher{}
	e := NewOzonExtractor(fetcher)

	_, err := e.Parse(context.Background(), "https://www.ozon.ru/category/noutbuki/")

	var ierr *InvalidURLError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "Ozon", ierr.Marketplace)
	assert.Zero(t, fetcher.calls)
}

func TestOzon_Parse_NotFound(t *testing.T) {
	e := NewOzonExtractor(&fakeFetcher{body: []byte(`{"widgetStates":{}}`)})

	_, err := e.Parse(context.Background(), ozonTestURL)

	var nferr *NotFoundError
	require.ErrorAs(t, err, &nferr)
	assert.Equal(t, "123456789", nferr.ProductID)
}
