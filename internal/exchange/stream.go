package exchange

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"xrparb/internal/model"
)

// StreamSource keeps the latest ticker per market from the exchange
// websocket and serves it as a QuoteSource. Quotes carry the time the
// update arrived, so a dead stream surfaces as growing quote age rather
// than an explicit failure signal.
type StreamSource struct {
	wsURL   string
	markets []model.Market
	logger  *slog.Logger

	mu     sync.RWMutex
	latest map[model.Market]model.Quote
}

// NewStreamSource creates a stream-backed quote source for the markets.
func NewStreamSource(wsURL string, markets []model.Market, logger *slog.Logger) *StreamSource {
	return &StreamSource{
		wsURL:   wsURL,
		markets: markets,
		logger:  logger.With(slog.String("component", "stream")),
		latest:  make(map[model.Market]model.Quote),
	}
}

// GetQuote returns the last ticker seen for the market, with its true age.
func (s *StreamSource) GetQuote(_ context.Context, market model.Market) (model.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.latest[market]
	if !ok {
		return model.Quote{}, ErrNoQuote
	}
	return q, nil
}

// Run connects to the websocket, subscribes to the miniTicker channel for
// each market and keeps the latest quotes updated, reconnecting with
// exponential backoff until ctx is cancelled.
func (s *StreamSource) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stream: context cancelled, shutting down")
			return nil
		default:
		}

		s.logger.Info("stream: connecting", slog.String("url", s.wsURL))
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.wsURL, nil)
		if err != nil {
			s.logger.Error("stream: connection failed", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
				backoff *= 2
				if backoff > 16*time.Second {
					backoff = 16 * time.Second
				}
			}
			continue
		}
		backoff = time.Second

		if err := s.subscribe(conn); err != nil {
			s.logger.Error("stream: subscription failed", "error", err)
			conn.Close()
			continue
		}
		s.logger.Info("stream: subscribed", slog.Int("markets", len(s.markets)))

		// ReadMessage only unblocks when the connection closes, so cancel
		// must close it underneath the read loop.
		connCtx, cancelConn := context.WithCancel(ctx)
		go func() {
			<-connCtx.Done()
			conn.Close()
		}()
		s.readLoop(conn)
		cancelConn()
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (s *StreamSource) subscribe(conn *websocket.Conn) error {
	params := make([]string, 0, len(s.markets))
	for _, m := range s.markets {
		params = append(params, "spot@public.miniTicker.v3.api@"+symbol(m)+"@UTC+0")
	}
	sub := map[string]any{
		"id":     1,
		"method": "SUBSCRIPTION",
		"params": params,
	}
	return conn.WriteJSON(sub)
}

type miniTickerMsg struct {
	Channel string `json:"c"`
	Data    struct {
		Symbol string `json:"s"`
		Price  string `json:"p"`
		Volume string `json:"v"`
	} `json:"d"`
	Ts int64 `json:"t"`
}

func (s *StreamSource) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			s.logger.Error("stream: read failed", "error", err)
			return
		}

		var msg miniTickerMsg
		if err := json.Unmarshal(message, &msg); err != nil || msg.Data.Symbol == "" {
			continue
		}

		price, err := strconv.ParseFloat(msg.Data.Price, 64)
		if err != nil || price <= 0 {
			s.logger.Warn("stream: bad price", slog.String("raw", msg.Data.Price))
			continue
		}
		volume, _ := strconv.ParseFloat(msg.Data.Volume, 64)

		market, ok := s.marketFor(msg.Data.Symbol)
		if !ok {
			continue
		}

		s.mu.Lock()
		s.latest[market] = model.Quote{
			Market:    market,
			Price:     price,
			Volume:    volume,
			Timestamp: time.Now().UTC(),
		}
		s.mu.Unlock()
	}
}

func (s *StreamSource) marketFor(sym string) (model.Market, bool) {
	for _, m := range s.markets {
		if strings.EqualFold(symbol(m), sym) {
			return m, true
		}
	}
	return "", false
}
