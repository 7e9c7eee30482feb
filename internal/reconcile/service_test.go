package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surpriset/marketsync/internal/domain/product"
	"github.com/surpriset/marketsync/internal/marketplace"
)

// --- Mock implementations ---

type mockStore struct {
	mu       sync.Mutex
	products []product.Product
	updates  map[string][]product.Update
	listErr  error
	updErr   error
}

func newMockStore(products ...product.Product) *mockStore {
	return &mockStore{products: products, updates: make(map[string][]product.Update)}
}

func (m *mockStore) ListAll(_ context.Context) ([]product.Product, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.products, nil
}

func (m *mockStore) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []product.Product
	for _, p := range m.products {
		if want[p.ID] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockStore) UpdateByID(_ context.Context, id string, upd product.Update) (*product.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updErr != nil {
		return nil, m.updErr
	}
	m.updates[id] = append(m.updates[id], upd)
	for i := range m.products {
		if m.products[i].ID == id {
			return &m.products[i], nil
		}
	}
	return nil, product.ErrNotFound
}

func (m *mockStore) Create(_ context.Context, p *product.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products = append(m.products, *p)
	return nil
}

func (m *mockStore) updatesFor(id string) []product.Update {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates[id]
}

type mockParser struct {
	mu    sync.Mutex
	byURL map[string]*marketplace.Product
	errs  map[string]error
	calls []string
}

func newMockParser() *mockParser {
	return &mockParser{
		byURL: make(map[string]*marketplace.Product),
		errs:  make(map[string]error),
	}
}

func (m *mockParser) ParseProduct(_ context.Context, rawURL string) (*marketplace.Product, error) {
	m.mu.Lock()
	m.calls = append(m.calls, rawURL)
	m.mu.Unlock()
	if err := m.errs[rawURL]; err != nil {
		return nil, err
	}
	if p, ok := m.byURL[rawURL]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, &marketplace.NotFoundError{Marketplace: "Wildberries", ProductID: "0"}
}

func (m *mockParser) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// --- Helpers ---

func fixedNow() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}

func newTestService(store *mockStore, parser *mockParser) *Service {
	svc := NewService(store, parser, Config{})
	svc.now = fixedNow
	return svc
}

func importedProduct(id, sourceURL string, price int64) product.Product {
	checked := fixedNow().Add(-48 * time.Hour)
	return product.Product{
		ID:               id,
		SKU:              "MP-" + id,
		Name:             "Куртка зимняя",
		Price:            decimal.NewFromInt(price),
		Status:           product.StatusInStock,
		IsImported:       true,
		SourceURL:        sourceURL,
		MarginPercent:    20,
		LastPriceCheckAt: &checked,
	}
}

func freshExtraction(price int64, inStock bool) *marketplace.Product {
	return &marketplace.Product{
		Title:   "Куртка зимняя",
		Price:   decimal.NewFromInt(price),
		InStock: inStock,
	}
}

// --- Tests ---

func TestPriceWithMargin(t *testing.T) {
	tests := []struct {
		raw    string
		margin int
		want   string
	}{
		{"1000", 20, "1200"},
		{"1000", 0, "1000"},
		{"999", 15, "1149"},   // 1148.85 rounds half away from zero
		{"1500", 33, "1995"},
		{"0.5", 0, "1"},       // 0.5 rounds up
		{"129.99", 20, "156"}, // 155.988
	}
	for _, tt := range tests {
		got := PriceWithMargin(decimal.RequireFromString(tt.raw), tt.margin)
		assert.Equal(t, tt.want, got.String(), "%s with %d%%", tt.raw, tt.margin)
	}
}

func TestReconcileOne_NoSourceURL(t *testing.T) {
	svc := newTestService(newMockStore(), newMockParser())

	_, err := svc.ReconcileOne(context.Background(), product.Product{ID: "p1"})
	require.ErrorIs(t, err, ErrNoSourceURL)
}

func TestReconcileOne_PriceChanged(t *testing.T) {
	p := importedProduct("p1", "https://www.wildberries.ru/catalog/1/detail.aspx", 1200)
	store := newMockStore(p)
	parser := newMockParser()
	parser.byURL[p.SourceURL] = freshExtraction(1500, true)
	svc := newTestService(store, parser)

	res, err := svc.ReconcileOne(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, ResultUpdated, res)

	upds := store.updatesFor("p1")
	require.Len(t, upds, 1)
	require.NotNil(t, upds[0].Price)
	assert.Equal(t, "1800", upds[0].Price.String()) // 1500 * 1.20
	require.NotNil(t, upds[0].LastPriceCheckAt)
	assert.Equal(t, fixedNow(), *upds[0].LastPriceCheckAt)
}

func TestReconcileOne_Unchanged(t *testing.T) {
	// Stored 1200 == round(1000 * 1.20): only the timestamp moves.
	p := importedProduct("p1", "https://www.wildberries.ru/catalog/1/detail.aspx", 1200)
	store := newMockStore(p)
	parser := newMockParser()
	parser.byURL[p.SourceURL] = freshExtraction(1000, true)
	svc := newTestService(store, parser)

	res, err := svc.ReconcileOne(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, ResultUnchanged, res)

	upds := store.updatesFor("p1")
	require.Len(t, upds, 1)
	assert.Nil(t, upds[0].Price)
	assert.Nil(t, upds[0].Status)
	require.NotNil(t, upds[0].LastPriceCheckAt)
}

func TestReconcileOne_StockChanged(t *testing.T) {
	p := importedProduct("p1", "https://www.wildberries.ru/catalog/1/detail.aspx", 1200)
	store := newMockStore(p)
	parser := newMockParser()
	parser.byURL[p.SourceURL] = freshExtraction(1000, false)
	svc := newTestService(store, parser)

	res, err := svc.ReconcileOne(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, ResultUpdated, res)

	upds := store.updatesFor("p1")
	require.Len(t, upds, 1)
	require.NotNil(t, upds[0].Status)
	assert.Equal(t, product.StatusOutOfStock, *upds[0].Status)
}

func TestReconcileOne_DiscountDropped(t *testing.T) {
	p := importedProduct("p1", "https://www.wildberries.ru/catalog/1/detail.aspx", 1200)
	p.OriginalPrice = decimal.NullDecimal{Decimal: decimal.NewFromInt(2160), Valid: true}
	store := newMockStore(p)
	parser := newMockParser()
	parser.byURL[p.SourceURL] = freshExtraction(1000, true) // no OldPrice anymore
	svc := newTestService(store, parser)

	res, err := svc.ReconcileOne(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, ResultUpdated, res)

	upds := store.updatesFor("p1")
	require.Len(t, upds, 1)
	require.NotNil(t, upds[0].OriginalPrice)
	assert.False(t, upds[0].OriginalPrice.Valid, "discount must be explicitly cleared")
}

func TestReconcileOne_NothingPersistedOnExtractionFailure(t *testing.T) {
	p := importedProduct("p1", "https://www.wildberries.ru/catalog/1/detail.aspx", 1200)
	store := newMockStore(p)
	parser := newMockParser()
	parser.errs[p.SourceURL] = &marketplace.TimeoutError{Marketplace: "Wildberries"}
	svc := newTestService(store, parser)

	_, err := svc.ReconcileOne(context.Background(), p)

	var terr *marketplace.TimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Empty(t, store.updatesFor("p1"))
}

func TestReconcileOne_RejectsShortTitle(t *testing.T) {
	p := importedProduct("p1", "https://www.wildberries.ru/catalog/1/detail.aspx", 1200)
	store := newMockStore(p)
	parser := newMockParser()
	parser.byURL[p.SourceURL] = &marketplace.Product{Title: "ок", Price: decimal.NewFromInt(1)}
	svc := newTestService(store, parser)

	_, err := svc.ReconcileOne(context.Background(), p)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, store.updatesFor("p1"))
}

func TestReconcileAllImported(t *testing.T) {
	good := importedProduct("p1", "https://www.wildberries.ru/catalog/1/detail.aspx", 1200)
	broken := importedProduct("p2", "https://www.ozon.ru/product/x-2/", 500)
	manual := product.Product{ID: "p3", Name: "Ручной товар"} // not imported, ignored

	store := newMockStore(good, broken, manual)
	parser := newMockParser()
	parser.byURL[good.SourceURL] = freshExtraction(1500, true)
	parser.errs[broken.SourceURL] = &marketplace.NotFoundError{Marketplace: "Ozon", ProductID: "2"}
	svc := newTestService(store, parser)

	out, err := svc.ReconcileAllImported(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, out.Updated)
	assert.Equal(t, 1, out.Failed)
	assert.Zero(t, out.Skipped)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, "p2", out.Errors[0].ProductID)
	assert.Contains(t, out.Errors[0].Error, "not found")

	assert.Empty(t, store.updatesFor("p3"))
}

func TestReconcileAllImported_UnchangedStillCountsUpdated(t *testing.T) {
	p := importedProduct("p1", "https://www.wildberries.ru/catalog/1/detail.aspx", 1200)
	store := newMockStore(p)
	parser := newMockParser()
	parser.byURL[p.SourceURL] = freshExtraction(1000, true)
	svc := newTestService(store, parser)

	out, err := svc.ReconcileAllImported(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Updated, "a successful check counts even when nothing changed")
}

func TestReconcileAllImported_ListError(t *testing.T) {
	store := newMockStore()
	store.listErr = errors.New("db down")
	svc := newTestService(store, newMockParser())

	_, err := svc.ReconcileAllImported(context.Background())
	require.Error(t, err)
}

func TestReconcileStale(t *testing.T) {
	stale := importedProduct("p1", "https://www.wildberries.ru/catalog/1/detail.aspx", 1200)

	fresh := importedProduct("p2", "https://www.wildberries.ru/catalog/2/detail.aspx", 600)
	justChecked := fixedNow().Add(-time.Hour)
	fresh.LastPriceCheckAt = &justChecked

	never := importedProduct("p3", "https://www.wildberries.ru/catalog/3/detail.aspx", 900)
	never.LastPriceCheckAt = nil

	store := newMockStore(stale, fresh, never)
	parser := newMockParser()
	parser.byURL[stale.SourceURL] = freshExtraction(1000, true)
	parser.byURL[never.SourceURL] = freshExtraction(750, true)
	svc := newTestService(store, parser)

	out, err := svc.ReconcileStale(context.Background(), 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 2, out.Updated)
	assert.Equal(t, 1, out.Skipped)
	assert.Zero(t, out.Failed)

	// The fresh product must not cost a network call.
	assert.Equal(t, 2, parser.callCount())
	assert.Empty(t, store.updatesFor("p2"))
}

func TestReconcileStale_DefaultThreshold(t *testing.T) {
	p := importedProduct("p1", "https://www.wildberries.ru/catalog/1/detail.aspx", 1200)
	store := newMockStore(p)
	parser := newMockParser()
	parser.byURL[p.SourceURL] = freshExtraction(1000, true)
	svc := newTestService(store, parser)

	// Checked 48h ago, default threshold is 24h.
	out, err := svc.ReconcileStale(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Updated)
}

func TestApplyBulkMargin(t *testing.T) {
	withURL := importedProduct("p1", "https://www.wildberries.ru/catalog/1/detail.aspx", 1200)
	manual := product.Product{ID: "p2", Name: "Ручной товар", MarginPercent: 20}

	store := newMockStore(withURL, manual)
	parser := newMockParser()
	parser.byURL[withURL.SourceURL] = freshExtraction(1000, true)
	svc := newTestService(store, parser)

	out, err := svc.ApplyBulkMargin(context.Background(), []string{"p1", "p2", "missing"}, 50)
	require.NoError(t, err)

	assert.Equal(t, 2, out.Updated)
	assert.Equal(t, 1, out.Failed)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, "missing", out.Errors[0].ProductID)

	// p1 was re-extracted and re-priced under the new margin.
	upds := store.updatesFor("p1")
	require.Len(t, upds, 1)
	require.NotNil(t, upds[0].Price)
	assert.Equal(t, "1500", upds[0].Price.String()) // 1000 * 1.50
	require.NotNil(t, upds[0].MarginPercent)
	assert.Equal(t, 50, *upds[0].MarginPercent)

	// p2 has no source URL: margin only, no network.
	upds = store.updatesFor("p2")
	require.Len(t, upds, 1)
	assert.Nil(t, upds[0].Price)
	require.NotNil(t, upds[0].MarginPercent)
	assert.Equal(t, 50, *upds[0].MarginPercent)
	assert.Equal(t, 1, parser.callCount())
}

func TestApplyBulkMargin_InvalidMargin(t *testing.T) {
	svc := newTestService(newMockStore(), newMockParser())

	_, err := svc.ApplyBulkMargin(context.Background(), []string{"p1"}, 101)
	require.ErrorIs(t, err, ErrInvalidMargin)

	_, err = svc.ApplyBulkMargin(context.Background(), []string{"p1"}, -1)
	require.ErrorIs(t, err, ErrInvalidMargin)
}

func TestApplyBulkMargin_SameMarginStampsCheck(t *testing.T) {
	p := importedProduct("p1", "https://www.wildberries.ru/catalog/1/detail.aspx", 1200)
	store := newMockStore(p)
	parser := newMockParser()
	parser.byURL[p.SourceURL] = freshExtraction(1000, true)
	svc := newTestService(store, parser)

	out, err := svc.ApplyBulkMargin(context.Background(), []string{"p1"}, 20)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Updated)

	upds := store.updatesFor("p1")
	require.Len(t, upds, 1)
	assert.Nil(t, upds[0].Price, "identical price and margin only refresh the timestamp")
}
