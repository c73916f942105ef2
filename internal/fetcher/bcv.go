package fetcher

import (
	"context"
	"crypto/tls"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// BCVOptions parameterise one official-rate scraper.
type BCVOptions struct {
	BaseURL  string
	Currency string
	Selector string
	Timeout  time.Duration

	// InsecureTLS disables certificate validation for this adapter only. The
	// BCV serves an invalid certificate; this is a known trust exception for
	// that one endpoint, never a client-wide default.
	InsecureTLS bool
}

// BCV scrapes a single published rate from the central-bank landing page.
type BCV struct {
	opts   BCVOptions
	logger zerolog.Logger
	client *http.Client
}

// NewBCV builds an official-rate scraper for one currency.
func NewBCV(opts BCVOptions, logger zerolog.Logger) *BCV {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://www.bcv.org.ve/"
	}

	transport := &http.Transport{}
	if opts.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &BCV{
		opts: opts,
		logger: logger.With().
			Str("component", "bcv_fetcher").
			Str("currency", opts.Currency).
			Logger(),
		client: &http.Client{Timeout: timeout, Transport: transport},
	}
}

// FetchOfficial downloads the page and extracts the emphasised rate text for
// the configured selector, normalising the decimal comma.
func (f *BCV) FetchOfficial(ctx context.Context) (OfficialRate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.opts.BaseURL, nil)
	if err != nil {
		return OfficialRate{}, err
	}
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return OfficialRate{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return OfficialRate{}, &UpstreamHTTPError{
			Source:     "bcv_" + strings.ToLower(f.opts.Currency),
			StatusCode: resp.StatusCode,
		}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return OfficialRate{}, &ParseError{
			Source: "bcv_" + strings.ToLower(f.opts.Currency),
			Reason: "document not parseable: " + err.Error(),
		}
	}

	raw := strings.TrimSpace(doc.Find(f.opts.Selector).First().Text())
	if raw == "" {
		return OfficialRate{}, &ParseError{
			Source: "bcv_" + strings.ToLower(f.opts.Currency),
			Reason: "selector " + f.opts.Selector + " matched no text",
		}
	}

	normalized := strings.ReplaceAll(raw, ",", ".")
	value, err := decimal.NewFromString(normalized)
	if err != nil {
		return OfficialRate{}, &ParseError{
			Source: "bcv_" + strings.ToLower(f.opts.Currency),
			Reason: "value " + raw + " is not numeric",
		}
	}
	if !value.IsPositive() {
		return OfficialRate{}, &ParseError{
			Source: "bcv_" + strings.ToLower(f.opts.Currency),
			Reason: "value " + raw + " is not positive",
		}
	}

	rate := OfficialRate{
		Currency:   f.opts.Currency,
		Value:      value,
		ObservedAt: time.Now().UTC(),
	}

	f.logger.Debug().Str("value", value.String()).Msg("official rate scraped")
	return rate, nil
}

var _ OfficialRateFetcher = (*BCV)(nil)
