package marketplace

import "fmt"

// SupportedNames is the user-facing list of marketplaces the registry knows.
const SupportedNames = "Wildberries, Ozon, Yandex Market"

// UnsupportedError indicates the URL matched no known marketplace.
type UnsupportedError struct {
	URL string
}

func (e *UnsupportedError) Error() string {
	return "unsupported marketplace, supported: " + SupportedNames
}

// InvalidURLError indicates the product identifier could not be derived from
// the URL. It is raised before any network call and never retried.
type InvalidURLError struct {
	Marketplace string
	URL         string
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("could not extract product ID from %s link", e.Marketplace)
}

// NotFoundError indicates the marketplace responded but the product payload
// was absent.
type NotFoundError struct {
	Marketplace string
	ProductID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("product not found at %s", e.Marketplace)
}

// TimeoutError is surfaced when every relay attempt hit its deadline.
type TimeoutError struct {
	Marketplace string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timed out waiting for %s, try again later", e.Marketplace)
}

// FetchError wraps everything that is not a domain error. Raw parsing and
// transport failures must not leak to end users.
type FetchError struct {
	Marketplace string
	Err         error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("could not load data from %s, check the link", e.Marketplace)
}

func (e *FetchError) Unwrap() error { return e.Err }
