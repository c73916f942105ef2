package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const advSearchPath = "/bapi/c2c/v2/friendly/c2c/adv/search"

var decHundred = decimal.NewFromInt(100)

// BinanceOptions parameterise the P2P order-book fetcher.
type BinanceOptions struct {
	BaseURL   string
	Asset     string
	Fiat      string
	TradeType string
	Rows      int
	PayTypes  []string
	Timeout   time.Duration
	UserAgent string
}

// Binance fetches BUY-side ads from the Binance P2P search endpoint and
// condenses them into an averaged snapshot.
type Binance struct {
	opts    BinanceOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewBinance constructs a P2P market fetcher.
func NewBinance(opts BinanceOptions, logger zerolog.Logger) *Binance {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://p2p.binance.com"
	}

	return &Binance{
		opts:    opts,
		logger:  logger.With().Str("component", "p2p_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchP2P issues the ad search and averages the returned unit prices.
// Zero ads is ErrEmptyResult; no retry is attempted here, the cache layer
// masks transient failures.
func (b *Binance) FetchP2P(ctx context.Context) (P2PSnapshot, error) {
	rows := b.opts.Rows
	if rows <= 0 {
		rows = 10
	}

	payTypes := b.opts.PayTypes
	if payTypes == nil {
		payTypes = []string{}
	}

	reqPayload := advSearchRequest{
		Asset:     b.opts.Asset,
		Fiat:      b.opts.Fiat,
		TradeType: b.opts.TradeType,
		Page:      1,
		Rows:      rows,
		PayTypes:  payTypes,
		Countries: []string{},
	}

	body, err := json.Marshal(reqPayload)
	if err != nil {
		return P2PSnapshot{}, err
	}

	endpoint := b.baseURL + advSearchPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return P2PSnapshot{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(b.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return P2PSnapshot{}, err
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return P2PSnapshot{}, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return P2PSnapshot{}, &UpstreamHTTPError{
			Source:     "binance_p2p",
			StatusCode: resp.StatusCode,
			Body:       string(payloadBytes),
		}
	}

	var searchRes advSearchResponse
	if err := json.Unmarshal(payloadBytes, &searchRes); err != nil {
		return P2PSnapshot{}, fmt.Errorf("decode p2p response: %w", err)
	}

	if len(searchRes.Data) == 0 {
		return P2PSnapshot{}, fmt.Errorf("no P2P ads found: %w", ErrEmptyResult)
	}

	prices := make([]decimal.Decimal, 0, len(searchRes.Data))
	sum := decimal.Zero
	for _, item := range searchRes.Data {
		price, convErr := decimal.NewFromString(item.Adv.Price)
		if convErr != nil {
			return P2PSnapshot{}, &ParseError{
				Source: "binance_p2p",
				Reason: fmt.Sprintf("ad price %q is not numeric", item.Adv.Price),
			}
		}
		prices = append(prices, price)
		sum = sum.Add(price)
	}

	average := sum.Div(decimal.NewFromInt(int64(len(prices))))
	first := prices[0]
	percentChange := average.Sub(first).Div(first).Mul(decHundred)

	snapshot := P2PSnapshot{
		AveragePrice:  average,
		FirstPrice:    first,
		Prices:        prices,
		PercentChange: percentChange,
		AdsCount:      len(prices),
		ObservedAt:    time.Now().UTC(),
	}

	b.logger.Debug().
		Str("average", average.StringFixed(2)).
		Int("ads", snapshot.AdsCount).
		Msg("p2p snapshot fetched")

	return snapshot, nil
}

type advSearchRequest struct {
	Asset             string   `json:"asset"`
	Fiat              string   `json:"fiat"`
	TradeType         string   `json:"tradeType"`
	Page              int      `json:"page"`
	Rows              int      `json:"rows"`
	PayTypes          []string `json:"payTypes"`
	Countries         []string `json:"countries"`
	PublisherType     *string  `json:"publisherType"`
	ProMerchantAds    bool     `json:"proMerchantAds"`
	ShieldMerchantAds bool     `json:"shieldMerchantAds"`
}

type advSearchResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    []struct {
		Adv struct {
			AdvNo string `json:"advNo"`
			Price string `json:"price"`
		} `json:"adv"`
		Advertiser struct {
			NickName string `json:"nickName"`
		} `json:"advertiser"`
	} `json:"data"`
}

var _ P2PMarketFetcher = (*Binance)(nil)
