package scraper

import (
	"context"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"
)

// BrowserConfig configures headless Chrome fetching.
type BrowserConfig struct {
	// ChromeBin overrides the browser binary. Empty = let the launcher find or download one.
	ChromeBin string

	// RemoteURL is the DevTools WebSocket URL of an external Chrome.
	// Empty = launch a local Chrome per fetch.
	RemoteURL string

	// SettleTimeout bounds the wait for the element to appear with a number. Default: 10s.
	SettleTimeout time.Duration

	// NavigationTimeout bounds page load. Default: 30s.
	NavigationTimeout time.Duration

	UserAgent string

	Logger *zap.Logger
}

func (c *BrowserConfig) defaults() {
	if c.SettleTimeout <= 0 {
		c.SettleTimeout = 10 * time.Second
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// BrowserFetcher renders the page in headless Chrome so client-side counters are filled in.
type BrowserFetcher struct {
	cfg BrowserConfig
}

// NewBrowserFetcher creates a BrowserFetcher.
func NewBrowserFetcher(cfg BrowserConfig) *BrowserFetcher {
	cfg.defaults()
	return &BrowserFetcher{cfg: cfg}
}

// FetchVisitorCount opens a fresh browser session; it is always torn down before returning.
func (f *BrowserFetcher) FetchVisitorCount(ctx context.Context, pageURL, elementID string) (int, error) {
	log := f.cfg.Logger

	browser, release, err := f.connect(ctx)
	if err != nil {
		return 0, fetchErr(KindNavigation, pageURL, err)
	}
	defer release()

	page, err := stealth.Page(browser)
	if err != nil {
		return 0, fetchErr(KindNavigation, pageURL, err)
	}
	defer func() { _ = page.Close() }()

	if f.cfg.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: f.cfg.UserAgent}); err != nil {
			log.Warn("scraper: set user agent failed", zap.Error(err))
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, f.cfg.NavigationTimeout)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		return 0, fetchErr(KindNavigation, pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		return 0, fetchErr(KindNavigation, pageURL, err)
	}

	settleCtx, cancelSettle := context.WithTimeout(ctx, f.cfg.SettleTimeout)
	defer cancelSettle()
	el, err := page.Context(settleCtx).Element(elementSelector(elementID))
	if err != nil {
		return 0, fetchErr(KindElementMissing, pageURL, err)
	}

	count, err := waitForCount(settleCtx, el)
	if err != nil {
		return 0, fetchErr(KindParse, pageURL, err)
	}
	log.Debug("scraper: browser fetch ok", zap.String("url", pageURL), zap.Int("count", count))
	return count, nil
}

// waitForCount polls the element until it renders the same number twice in a row.
func waitForCount(ctx context.Context, el *rod.Element) (int, error) {
	const interval = 250 * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := -1
	var lastErr error
	for {
		text, err := el.Context(ctx).Text()
		if err == nil {
			n, perr := ParseVisitorCount(text)
			switch {
			case perr != nil:
				lastErr = perr
			case n == last:
				return n, nil
			default:
				last = n
			}
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			if last >= 0 {
				return last, nil
			}
			if lastErr == nil {
				lastErr = ctx.Err()
			}
			return 0, lastErr
		case <-ticker.C:
		}
	}
}

func (f *BrowserFetcher) connect(ctx context.Context) (*rod.Browser, func(), error) {
	log := f.cfg.Logger

	if f.cfg.RemoteURL != "" {
		b := rod.New().ControlURL(f.cfg.RemoteURL).Context(ctx)
		if err := b.Connect(); err != nil {
			return nil, func() {}, err
		}
		// shared remote browser: only our page gets closed
		return b, func() {}, nil
	}

	l := launcher.New().
		Headless(true).
		NoSandbox(true).
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("window-size", "1920,1080").
		Set("disable-blink-features", "AutomationControlled")
	if f.cfg.ChromeBin != "" {
		l = l.Bin(f.cfg.ChromeBin)
	}

	u, err := l.Launch()
	if err != nil {
		l.Cleanup()
		return nil, func() {}, err
	}

	b := rod.New().ControlURL(u).Context(ctx)
	if err := b.Connect(); err != nil {
		l.Kill()
		l.Cleanup()
		return nil, func() {}, err
	}

	release := func() {
		if err := b.Close(); err != nil {
			log.Debug("scraper: browser close", zap.Error(err))
		}
		l.Kill()
		l.Cleanup()
	}
	return b, release, nil
}
