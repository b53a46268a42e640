package exchange

import (
	"log/slog"

	"xrparb/internal/config"
	"xrparb/internal/model"
)

// Build assembles the quote source and order placer from configuration.
// With a websocket URL configured, quotes come from the stream (the caller
// starts its Run loop; the returned stream is nil otherwise) and the REST
// client falls back as the poll source. Orders go to the real venue unless
// paper mode is selected.
func Build(cfg config.ExchangeConfig, slippage float64, markets []model.Market, logger *slog.Logger) (*StreamSource, QuoteSource, OrderPlacer) {
	var (
		stream *StreamSource
		quotes QuoteSource
	)
	rest := NewMexcClient(cfg, logger)
	if cfg.WsURL != "" {
		stream = NewStreamSource(cfg.WsURL, markets, logger)
		quotes = stream
	} else {
		quotes = rest
	}

	if cfg.Paper {
		return stream, quotes, NewPaperPlacer(quotes, slippage, logger)
	}
	return stream, quotes, rest
}
