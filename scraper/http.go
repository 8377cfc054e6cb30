package scraper

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// HTTPFetcher reads the count from server-rendered HTML without a browser.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher creates an HTTPFetcher; a nil client means http.DefaultClient.
func NewHTTPFetcher(client *http.Client, userAgent string) *HTTPFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPFetcher{client: client, userAgent: userAgent}
}

func (f *HTTPFetcher) FetchVisitorCount(ctx context.Context, pageURL, elementID string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return 0, fetchErr(KindNavigation, pageURL, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, fetchErr(KindNavigation, pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fetchErr(KindHTTPStatus, pageURL, fmt.Errorf("status %d", resp.StatusCode))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return 0, fetchErr(KindNavigation, pageURL, err)
	}

	sel := doc.Find(elementSelector(elementID))
	if sel.Length() == 0 {
		return 0, fetchErr(KindElementMissing, pageURL, fmt.Errorf("no element with id %q", elementID))
	}

	count, err := ParseVisitorCount(strings.TrimSpace(sel.First().Text()))
	if err != nil {
		return 0, fetchErr(KindParse, pageURL, err)
	}
	return count, nil
}
