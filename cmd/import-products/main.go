// Command import-products bulk-imports marketplace products from a file of
// URLs, one per line. Lines starting with # are skipped. Files ending in .gz
// are decompressed on the fly.
package main

import (
	"bufio"
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/surpriset/marketsync/internal/domain/product"
	"github.com/surpriset/marketsync/internal/marketplace"
	"github.com/surpriset/marketsync/internal/reconcile"
	"github.com/surpriset/marketsync/internal/relay"
	"github.com/surpriset/marketsync/internal/storage/postgres"
)

func main() {
	var (
		urlsFile    string
		databaseURL string
		margin      int
		concurrency int
		rps         float64
		timeout     time.Duration
	)

	flag.StringVar(&urlsFile, "urls-file", "urls.txt", "file with marketplace URLs, one per line (.gz supported)")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&margin, "margin", product.DefaultMarginPercent, "margin percent applied to extracted prices")
	flag.IntVar(&concurrency, "concurrency", 1, "number of URLs processed at once")
	flag.Float64Var(&rps, "rps", 2, "outbound requests per second")
	flag.DurationVar(&timeout, "timeout", 15*time.Second, "per-request timeout")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if margin < 0 || margin > 100 {
		slog.Error("margin must be between 0 and 100", slog.Int("margin", margin))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, urlsFile, databaseURL, margin, concurrency, rps, timeout); err != nil {
		slog.Error("import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, urlsFile, databaseURL string, margin, concurrency int, rps float64, timeout time.Duration) error {
	urls, err := readURLs(urlsFile)
	if err != nil {
		return errors.Wrap(err, "read urls")
	}
	if len(urls) == 0 {
		slog.Info("no URLs to import")
		return nil
	}
	slog.Info("importing products", slog.Int("urls", len(urls)))

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	store := postgres.NewProductRepository(pool)
	registry := marketplace.NewRegistry(relay.NewClient(relay.Config{
		Timeout:           timeout,
		RequestsPerSecond: rps,
		Burst:             1,
	}))

	var imported, failed atomic.Int64

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, rawURL := range urls {
		g.Go(func() error {
			if err := importOne(ctx, store, registry, rawURL, margin); err != nil {
				failed.Add(1)
				slog.Warn("import failed",
					slog.String("url", rawURL),
					slog.String("error", err.Error()),
				)
				return nil
			}
			imported.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("import complete",
		slog.Int64("imported", imported.Load()),
		slog.Int64("failed", failed.Load()),
	)
	return nil
}

func importOne(ctx context.Context, store product.Store, registry *marketplace.Registry, rawURL string, margin int) error {
	fresh, err := registry.ParseProduct(ctx, rawURL)
	if err != nil {
		return err
	}
	if utf8.RuneCountInString(fresh.Title) < 3 {
		return errors.New("extracted product title is too short")
	}

	id := uuid.New().String()

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
		SKU:              "MP-" + strings.ToUpper(id[:8]),
		Name:             fresh.Title,
		Description:      fresh.Description,
		Composition:      fresh.Composition,
		Price:            reconcile.PriceWithMargin(fresh.Price, margin),
		OriginalPrice:    originalPrice,
		Images:           fresh.Images,
		Status:           status,
		Specifications:   fresh.Characteristics,
		IsImported:       true,
		SourceURL:        rawURL,
		MarginPercent:    margin,
		LastPriceCheckAt: &now,
	}
	return store.Create(ctx, p)
}

func readURLs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "gzip reader for %s", path)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}

	var urls []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "scan %s", path)
	}
	return urls, nil
}
