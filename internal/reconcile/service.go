// Package reconcile keeps stored prices aligned with live marketplace data.
//
// Reconciliation is compare-then-conditionally-persist: a fresh extraction is
// fetched, the margin is applied, and the store is written only when price,
// discount, or stock actually changed. Batch operations isolate per-item
// failures so one broken product never aborts a run.
package reconcile

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/surpriset/marketsync/internal/domain/product"
	"github.com/surpriset/marketsync/internal/marketplace"
)

// ErrNoSourceURL is returned when a single-item reconciliation is requested
// for a product that was not imported from a marketplace.
var ErrNoSourceURL = errors.New("product has no source URL")

// ErrInvalidMargin rejects margins outside 0-100.
var ErrInvalidMargin = errors.New("margin percent must be between 0 and 100")

// minTitleLen guards against persisting prices derived from clearly broken
// extractions (empty or garbage titles).
const minTitleLen = 3

// ValidationError rejects an extraction before it can overwrite good data.
type ValidationError struct {
	SourceURL string
	Reason    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("extraction rejected for %s: %s", e.SourceURL, e.Reason)
}

// Result reports what a single reconciliation did.
type Result int

const (
	// ResultUnchanged means only the check timestamp was stamped.
	ResultUnchanged Result = iota
	// ResultUpdated means price, discount, or stock was rewritten.
	ResultUpdated
)

// ItemError ties a batch failure to the product that caused it.
type ItemError struct {
	ProductID string `json:"productId"`
	Error     string `json:"error"`
}

// Outcome aggregates a batch run. Errors has exactly Failed entries, in
// input order.
type Outcome struct {
	Updated int         `json:"updated"`
	Failed  int         `json:"failed"`
	Skipped int         `json:"skipped"`
	Errors  []ItemError `json:"errors,omitempty"`
}

// Config tunes the reconciliation service.
type Config struct {
	// StaleAfter is the age beyond which a cached price is due for an
	// automatic re-check.
	StaleAfter time.Duration
	// MaxConcurrent bounds batch parallelism. The default of 1 keeps strictly
	// sequential fetching: marketplaces and free proxies are rate-limit
	// sensitive, so raising this is an explicit opt-in.
	MaxConcurrent int
}

// DefaultStaleAfter is the default staleness threshold.
const DefaultStaleAfter = 24 * time.Hour

// Service reconciles stored products against fresh marketplace reads.
type Service struct {
	store  product.Store
	parser marketplace.Parser
	cfg    Config
	now    func() time.Time
}

// NewService builds a reconciliation Service.
func NewService(store product.Store, parser marketplace.Parser, cfg Config) *Service {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Service{
		store:  store,
		parser: parser,
		cfg:    cfg,
		now:    time.Now,
	}
}

// PriceWithMargin converts a raw marketplace price into the stored price:
// round(price * (1 + margin/100)) to whole currency units, half away from
// zero. The raw marketplace price is never stored.
func PriceWithMargin(raw decimal.Decimal, marginPercent int) decimal.Decimal {
	return raw.
		Mul(decimal.NewFromInt(int64(100 + marginPercent))).
		Div(decimal.NewFromInt(100)).
		Round(0)
}

// ReconcileOne re-fetches one product and persists price/stock when changed.
// The check timestamp is stamped on every successful fetch; on extraction
// failure nothing is persisted and the error propagates to the caller.
func (s *Service) ReconcileOne(ctx context.Context, p product.Product) (Result, error) {
	if p.SourceURL == "" {
		return ResultUnchanged, ErrNoSourceURL
	}

	fresh, err := s.parser.ParseProduct(ctx, p.SourceURL)
	if err != nil {
		return ResultUnchanged, err
	}

	return s.persist(ctx, p, fresh, p.MarginPercent)
}

// persist folds a fresh extraction into the stored product under the given
// margin.
func (s *Service) persist(ctx context.Context, p product.Product, fresh *marketplace.Product, marginPercent int) (Result, error) {
	if utf8.RuneCountInString(fresh.Title) < minTitleLen {
		return ResultUnchanged, &ValidationError{SourceURL: p.SourceURL, Reason: "extracted title too short"}
	}

	newPrice := PriceWithMargin(fresh.Price, marginPercent)

	var newOriginal decimal.NullDecimal
	if fresh.OldPrice.Valid {
		newOriginal = decimal.NullDecimal{Decimal: PriceWithMargin(fresh.OldPrice.Decimal, marginPercent), Valid: true}
	}

	status := product.StatusOutOfStock
	if fresh.InStock {
		status = product.StatusInStock
	}

	priceChanged := !newPrice.Equal(p.Price) || !nullDecimalEqual(newOriginal, p.OriginalPrice)
	stockChanged := fresh.InStock != (p.Status == product.StatusInStock)
	marginChanged := marginPercent != p.MarginPercent

	now := s.now()
	if !priceChanged && !stockChanged && !marginChanged {
		if _, err := s.store.UpdateByID(ctx, p.ID, product.Update{LastPriceCheckAt: &now}); err != nil {
			return ResultUnchanged, errors.Wrap(err, "stamp price check")
		}
		return ResultUnchanged, nil
	}

	_, err := s.store.UpdateByID(ctx, p.ID, product.Update{
		Price:            &newPrice,
		OriginalPrice:    &newOriginal,
		Status:           &status,
		MarginPercent:    &marginPercent,
		LastPriceCheckAt: &now,
	})
	if err != nil {
		return ResultUnchanged, errors.Wrap(err, "persist reconciled product")
	}
	return ResultUpdated, nil
}

func nullDecimalEqual(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}

// imported filters to products eligible for reconciliation.
func imported(all []product.Product) []product.Product {
	out := make([]product.Product, 0, len(all))
	for _, p := range all {
		if p.IsImported && p.SourceURL != "" {
			out = append(out, p)
		}
	}
	return out
}

// forEach runs fn for every index with bounded concurrency and returns one
// error slot per index, preserving input order regardless of scheduling.
func (s *Service) forEach(ctx context.Context, n int, fn func(ctx context.Context, i int) error) []error {
	results := make([]error, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrent)
	for i := range n {
		g.Go(func() error {
			results[i] = fn(gctx, i)
			return nil
		})
	}
	_ = g.Wait() // workers record failures in their slot, never return them

	return results
}

// ReconcileAllImported re-checks every imported product. Per-item failures
// are counted and listed, never raised.
func (s *Service) ReconcileAllImported(ctx context.Context) (Outcome, error) {
	all, err := s.store.ListAll(ctx)
	if err != nil {
		return Outcome{}, errors.Wrap(err, "list products")
	}

	items := imported(all)
	outcome := Outcome{}
	for i, err := range s.forEach(ctx, len(items), func(ctx context.Context, i int) error {
		_, err := s.ReconcileOne(ctx, items[i])
		return err
	}) {
		if err != nil {
			outcome.Failed++
			outcome.Errors = append(outcome.Errors, ItemError{ProductID: items[i].ID, Error: err.Error()})
			continue
		}
		outcome.Updated++
	}
	return outcome, nil
}

// ReconcileStale is ReconcileAllImported restricted to products whose last
// check is missing or older than threshold. Fresh products are counted in
// Skipped without any network call. A non-positive threshold uses the
// configured default.
func (s *Service) ReconcileStale(ctx context.Context, threshold time.Duration) (Outcome, error) {
	if threshold <= 0 {
		threshold = s.cfg.StaleAfter
	}

	all, err := s.store.ListAll(ctx)
	if err != nil {
		return Outcome{}, errors.Wrap(err, "list products")
	}

	now := s.now()
	outcome := Outcome{}
	stale := make([]product.Product, 0, len(all))
	for _, p := range imported(all) {
		if p.Stale(now, threshold) {
			stale = append(stale, p)
		} else {
			outcome.Skipped++
		}
	}

	for i, err := range s.forEach(ctx, len(stale), func(ctx context.Context, i int) error {
		_, err := s.ReconcileOne(ctx, stale[i])
		return err
	}) {
		if err != nil {
			outcome.Failed++
			outcome.Errors = append(outcome.Errors, ItemError{ProductID: stale[i].ID, Error: err.Error()})
			continue
		}
		outcome.Updated++
	}
	return outcome, nil
}

// ApplyBulkMargin sets a new margin on the selected products. Products with a
// source URL are re-extracted and re-priced under the new margin; products
// without one only get the margin persisted. The operation always completes
// and reports per-item failures.
func (s *Service) ApplyBulkMargin(ctx context.Context, productIDs []string, marginPercent int) (Outcome, error) {
	if marginPercent < 0 || marginPercent > 100 {
		return Outcome{}, ErrInvalidMargin
	}

	found, err := s.store.GetByIDs(ctx, productIDs)
	if err != nil {
		return Outcome{}, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(found))
	for _, p := range found {
		byID[p.ID] = p
	}

	outcome := Outcome{}
	for i, err := range s.forEach(ctx, len(productIDs), func(ctx context.Context, i int) error {
		p, ok := byID[productIDs[i]]
		if !ok {
			return product.ErrNotFound
		}
		return s.applyMarginTo(ctx, p, marginPercent)
	}) {
		if err != nil {
			outcome.Failed++
			outcome.Errors = append(outcome.Errors, ItemError{ProductID: productIDs[i], Error: err.Error()})
			continue
		}
		outcome.Updated++
	}
	return outcome, nil
}

func (s *Service) applyMarginTo(ctx context.Context, p product.Product, marginPercent int) error {
	if p.SourceURL == "" {
		_, err := s.store.UpdateByID(ctx, p.ID, product.Update{MarginPercent: &marginPercent})
		return err
	}

	fresh, err := s.parser.ParseProduct(ctx, p.SourceURL)
	if err != nil {
		return err
	}
	_, err = s.persist(ctx, p, fresh, marginPercent)
	return err
}
