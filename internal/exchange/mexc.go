package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"xrparb/internal/config"
	"xrparb/internal/model"
)

// MexcClient talks to the MEXC spot REST API. It implements both
// QuoteSource (ticker endpoint) and OrderPlacer (signed order endpoint).
type MexcClient struct {
	restURL string
	key     string
	secret  string
	http    *http.Client
	logger  *slog.Logger
}

// NewMexcClient creates a REST client with bounded request timeouts.
func NewMexcClient(cfg config.ExchangeConfig, logger *slog.Logger) *MexcClient {
	timeout := cfg.QuoteTimeout
	if cfg.OrderTimeout > timeout {
		timeout = cfg.OrderTimeout
	}
	return &MexcClient{
		restURL: strings.TrimRight(cfg.RestURL, "/"),
		key:     cfg.APIKey,
		secret:  cfg.APISecret,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("component", "mexc")),
	}
}

// symbol maps "XRP/USDT" to the exchange's "XRPUSDT" form.
func symbol(m model.Market) string {
	return strings.ReplaceAll(string(m), "/", "")
}

type tickerResp struct {
	Symbol string `json:"symbol"`
	Price  string `json:"lastPrice"`
	Volume string `json:"volume"`
}

// GetQuote fetches the 24h ticker for the market.
func (c *MexcClient) GetQuote(ctx context.Context, market model.Market) (model.Quote, error) {
	endpoint := c.restURL + "/api/v3/ticker/24hr?symbol=" + url.QueryEscape(symbol(market))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return model.Quote{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return model.Quote{}, fmt.Errorf("ticker %s: %w", market, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return model.Quote{}, fmt.Errorf("ticker %s: status %d: %s", market, resp.StatusCode, string(b))
	}

	var tr tickerResp
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return model.Quote{}, fmt.Errorf("ticker %s: decode: %w", market, err)
	}
	price, err := strconv.ParseFloat(tr.Price, 64)
	if err != nil {
		return model.Quote{}, fmt.Errorf("ticker %s: bad price %q: %w", market, tr.Price, err)
	}
	volume, _ := strconv.ParseFloat(tr.Volume, 64)

	return model.Quote{
		Market:    market,
		Price:     price,
		Volume:    volume,
		Timestamp: time.Now().UTC(),
	}, nil
}

// SubmitOrder places a signed market order and returns the reported fill.
func (c *MexcClient) SubmitOrder(ctx context.Context, market model.Market, side model.Side, amount float64) (Fill, error) {
	params := url.Values{}
	params.Set("symbol", symbol(market))
	params.Set("side", strings.ToUpper(string(side)))
	params.Set("type", "MARKET")
	params.Set("quantity", strconv.FormatFloat(amount, 'f', -1, 64))
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", "5000")
	params.Set("signature", c.sign(params.Encode()))

	endpoint := c.restURL + "/api/v3/order"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return Fill{}, err
	}
	req.Header.Set("X-MEXC-APIKEY", c.key)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return Fill{}, fmt.Errorf("order %s %s: %w", side, market, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return Fill{}, fmt.Errorf("order %s %s: status %d: %s", side, market, resp.StatusCode, string(body))
	}

	var ord struct {
		OrderID     json.Number `json:"orderId"`
		ExecutedQty string      `json:"executedQty"`
		CummQuote   string      `json:"cummulativeQuoteQty"`
	}
	if err := json.Unmarshal(body, &ord); err != nil {
		return Fill{}, fmt.Errorf("order %s %s: decode: %w", side, market, err)
	}

	filled, err := strconv.ParseFloat(ord.ExecutedQty, 64)
	if err != nil || filled <= 0 {
		return Fill{}, fmt.Errorf("order %s %s: not filled (executedQty=%q)", side, market, ord.ExecutedQty)
	}
	quoteQty, err := strconv.ParseFloat(ord.CummQuote, 64)
	if err != nil {
		return Fill{}, fmt.Errorf("order %s %s: bad quote qty %q: %w", side, market, ord.CummQuote, err)
	}

	c.logger.Info("order filled",
		slog.String("market", string(market)),
		slog.String("side", string(side)),
		slog.Float64("requested", amount),
		slog.Float64("filled", filled),
	)

	return Fill{Amount: filled, Price: quoteQty / filled}, nil
}

func (c *MexcClient) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}
