package model

import "time"

// Market identifies one of the two quoted markets for the asset.
type Market string

const (
	MarketUSDT Market = "XRP/USDT"
	MarketUSDC Market = "XRP/USDC"
)

// Base returns the asset currency of the market.
func (m Market) Base() string { return "XRP" }

// Quote returns the counter currency of the market.
func (m Market) Quote() string {
	switch m {
	case MarketUSDT:
		return "USDT"
	case MarketUSDC:
		return "USDC"
	}
	return ""
}

// Side is the direction of an order leg.
type Side string

const (
	SideSell Side = "sell"
	SideBuy  Side = "buy"
)

// TradeState enumerates the states of the sell-first trade attempt machine.
type TradeState string

const (
	StatePlanned    TradeState = "planned"
	StateSelling    TradeState = "selling"
	StateSellFilled TradeState = "sell_filled"
	StateBuying     TradeState = "buying"
	StateCompleted  TradeState = "completed"
	StateSellFailed TradeState = "sell_failed"
	StatePartial    TradeState = "partial"
)

// Terminal reports whether the state ends an attempt's lifecycle.
func (s TradeState) Terminal() bool {
	switch s {
	case StateCompleted, StateSellFailed, StatePartial:
		return true
	}
	return false
}

// RejectReason is the reason code attached to a risk rejection.
type RejectReason string

const (
	ReasonNone                     RejectReason = ""
	ReasonSpreadTooSmall           RejectReason = "spread_too_small"
	ReasonStalePrice               RejectReason = "stale_price"
	ReasonDailyLimitExceeded       RejectReason = "daily_limit_exceeded"
	ReasonInsufficientSafetyMargin RejectReason = "insufficient_safety_margin"
	ReasonVolatilityTooHigh        RejectReason = "volatility_too_high"
	ReasonCooldownActive           RejectReason = "cooldown_active"
)

// Quote is a point-in-time price for one market. Immutable once produced.
type Quote struct {
	Market    Market    `json:"market"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Age returns how old the quote is relative to now.
func (q Quote) Age(now time.Time) time.Duration { return now.Sub(q.Timestamp) }

// SpreadSnapshot is the instantaneous spread derived from the latest quote
// of each market. The two quotes may have different ages, so freshness is
// judged per quote.
type SpreadSnapshot struct {
	QuoteUSDT  Quote     `json:"quote_usdt"`
	QuoteUSDC  Quote     `json:"quote_usdc"`
	Spread     float64   `json:"spread"`
	SpreadPct  float64   `json:"spread_percentage"`
	ComputedAt time.Time `json:"computed_at"`
}

// NewSpreadSnapshot derives the snapshot from the two latest quotes.
// spread_percentage = |a-b| / min(a,b) * 100.
func NewSpreadSnapshot(usdt, usdc Quote, now time.Time) SpreadSnapshot {
	abs := usdt.Price - usdc.Price
	if abs < 0 {
		abs = -abs
	}
	low := usdt.Price
	if usdc.Price < low {
		low = usdc.Price
	}
	pct := 0.0
	if low > 0 {
		pct = abs / low * 100
	}
	return SpreadSnapshot{
		QuoteUSDT:  usdt,
		QuoteUSDC:  usdc,
		Spread:     abs,
		SpreadPct:  pct,
		ComputedAt: now,
	}
}

// Stale reports whether either underlying quote is older than bound.
func (s SpreadSnapshot) Stale(bound time.Duration, now time.Time) bool {
	return s.QuoteUSDT.Age(now) > bound || s.QuoteUSDC.Age(now) > bound
}

// SellMarket returns the market quoting the higher price, i.e. the leg to
// sell first, and the market to buy back on.
func (s SpreadSnapshot) SellMarket() (sell, buy Market) {
	if s.QuoteUSDT.Price >= s.QuoteUSDC.Price {
		return MarketUSDT, MarketUSDC
	}
	return MarketUSDC, MarketUSDT
}

// Balance is the free/locked view of one currency in the ledger.
type Balance struct {
	Currency string  `json:"currency" db:"currency"`
	Free     float64 `json:"free" db:"free"`
	Locked   float64 `json:"locked" db:"locked"`
}

// Total is the conserved quantity of the currency.
func (b Balance) Total() float64 { return b.Free + b.Locked }

// OrderLeg is one half of a trade attempt. The sell leg is always attempted
// before the buy leg.
type OrderLeg struct {
	Side            Side      `json:"side" db:"side"`
	Market          Market    `json:"market" db:"market"`
	RequestedAmount float64   `json:"requested_amount" db:"requested_amount"`
	RequestedPrice  float64   `json:"requested_price" db:"requested_price"`
	FilledAmount    float64   `json:"filled_amount" db:"filled_amount"`
	FilledPrice     float64   `json:"filled_price" db:"filled_price"`
	SubmittedAt     time.Time `json:"submitted_at"`
	FilledAt        time.Time `json:"filled_at"`
	Error           string    `json:"error,omitempty" db:"error"`
}

// Transition records one state change of an attempt.
type Transition struct {
	From TradeState `json:"from"`
	To   TradeState `json:"to"`
	At   time.Time  `json:"at"`
}

// TradeCandidate is a trade proposal built by the engine from the latest
// spread snapshot, to be judged by the risk controller.
type TradeCandidate struct {
	SellMarket Market
	BuyMarket  Market
	Amount     float64
	SellPrice  float64
	BuyPrice   float64
	Snapshot   SpreadSnapshot
}

// TradeAttempt is owned by the engine for its lifetime and handed to the
// store as an immutable record once terminal.
type TradeAttempt struct {
	ID          string       `json:"id" db:"id"`
	DetectedAt  time.Time    `json:"detected_at" db:"detected_at"`
	SellMarket  Market       `json:"sell_market" db:"sell_market"`
	BuyMarket   Market       `json:"buy_market" db:"buy_market"`
	Amount      float64      `json:"requested_amount" db:"requested_amount"`
	SpreadPct   float64      `json:"expected_spread_percentage" db:"expected_spread_pct"`
	State       TradeState   `json:"state" db:"state"`
	SellLeg     OrderLeg     `json:"sell_leg"`
	BuyLeg      OrderLeg     `json:"buy_leg"`
	RealizedPnL float64      `json:"realized_profit_loss" db:"realized_pnl"`
	Transitions []Transition `json:"transitions"`
	CompletedAt time.Time    `json:"completed_at" db:"completed_at"`
}

// Transition moves the attempt to the next state and records the change.
func (a *TradeAttempt) Transition(to TradeState, at time.Time) {
	a.Transitions = append(a.Transitions, Transition{From: a.State, To: to, At: at})
	a.State = to
	if to.Terminal() {
		a.CompletedAt = at
	}
}

// RiskState is the derived input to a risk decision; recomputed per tick
// from the ledger, the monitor and the trade store.
type RiskState struct {
	Now               time.Time
	FreeBase          float64
	VolumeTradedToday float64
	Volatility        float64
	SuccessRateRecent float64
	CooldownRemaining time.Duration
}

// Verdict is the outcome of a risk evaluation. An approved verdict carries
// the sanitized executable amount.
type Verdict struct {
	Approved bool
	Reason   RejectReason
	Amount   float64
}

// Approve builds an approving verdict for amount.
func Approve(amount float64) Verdict { return Verdict{Approved: true, Amount: amount} }

// Reject builds a rejecting verdict with a reason code.
func Reject(reason RejectReason) Verdict { return Verdict{Reason: reason} }

// DayStats aggregates one day of terminal attempts, computed in the store.
type DayStats struct {
	Day         time.Time `json:"day"`
	TradeCount  int       `json:"trade_count"`
	VolumeBase  float64   `json:"volume_base"`
	RealizedPnL float64   `json:"realized_pnl"`
	SuccessRate float64   `json:"success_rate"`
}
