// Package scraper reads the live visitor count a pool publishes on its web page.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/cppla/poolchecker/config"
)

// Fetcher loads pageURL and returns the integer shown in the element with id elementID.
type Fetcher interface {
	FetchVisitorCount(ctx context.Context, pageURL, elementID string) (int, error)
}

// FailureKind classifies a FetchError.
type FailureKind string

const (
	KindNavigation     FailureKind = "navigation"
	KindTimeout        FailureKind = "timeout"
	KindElementMissing FailureKind = "element_missing"
	KindParse          FailureKind = "parse"
	KindHTTPStatus     FailureKind = "http_status"
)

// FetchError is the typed failure of one fetch attempt.
type FetchError struct {
	Kind FailureKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func fetchErr(kind FailureKind, pageURL string, err error) *FetchError {
	if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
		kind = KindTimeout
	}
	return &FetchError{Kind: kind, URL: pageURL, Err: err}
}

var nonDigits = regexp.MustCompile(`\D+`)

// ParseVisitorCount strips every non-digit character from text and parses the rest.
func ParseVisitorCount(text string) (int, error) {
	digits := nonDigits.ReplaceAllString(text, "")
	if digits == "" {
		return 0, fmt.Errorf("no digits in %q", text)
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", digits, err)
	}
	return n, nil
}

func elementSelector(elementID string) string {
	return fmt.Sprintf("[id=%q]", elementID)
}

// New picks the fetcher configured by ScrapeMode ("browser" or "http").
func New(cfg config.AppConfig, logger *zap.Logger) (Fetcher, error) {
	settle := time.Duration(cfg.ScrapeSettleTimeoutSec) * time.Second
	switch cfg.ScrapeMode {
	case "browser", "":
		return NewBrowserFetcher(BrowserConfig{
			ChromeBin:     cfg.ChromeBin,
			RemoteURL:     cfg.BrowserRemoteURL,
			SettleTimeout: settle,
			UserAgent:     cfg.ScrapeUserAgent,
			Logger:        logger,
		}), nil
	case "http":
		return NewHTTPFetcher(&http.Client{Timeout: 30 * time.Second}, cfg.ScrapeUserAgent), nil
	default:
		return nil, fmt.Errorf("unknown scrape mode %q", cfg.ScrapeMode)
	}
}
