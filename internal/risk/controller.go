// Package risk gates candidate trades against configured limits. The
// controller is a pure function of its inputs: identical candidate and risk
// state always yield the same verdict, and no I/O happens here.
package risk

import (
	"time"

	"xrparb/internal/config"
	"xrparb/internal/model"
)

// Controller evaluates trade candidates against the configured limits.
type Controller struct {
	limits         config.RiskConfig
	freshnessBound time.Duration
}

// NewController creates a controller with the given limits and quote
// freshness bound.
func NewController(limits config.RiskConfig, freshnessBound time.Duration) *Controller {
	return &Controller{limits: limits, freshnessBound: freshnessBound}
}

// Evaluate runs the checks in a fixed order; the first failing check wins.
func (c *Controller) Evaluate(candidate model.TradeCandidate, state model.RiskState) model.Verdict {
	if candidate.Snapshot.SpreadPct < c.limits.MinSpreadPct {
		return model.Reject(model.ReasonSpreadTooSmall)
	}
	if candidate.Snapshot.Stale(c.freshnessBound, state.Now) {
		return model.Reject(model.ReasonStalePrice)
	}
	if state.VolumeTradedToday+candidate.Amount > c.limits.DailyVolumeLimit {
		return model.Reject(model.ReasonDailyLimitExceeded)
	}
	usable := state.FreeBase * (1 - c.limits.SafetyMargin)
	if candidate.Amount > usable {
		return model.Reject(model.ReasonInsufficientSafetyMargin)
	}
	if state.Volatility > c.limits.VolatilityCeiling {
		return model.Reject(model.ReasonVolatilityTooHigh)
	}
	if state.CooldownRemaining > 0 {
		return model.Reject(model.ReasonCooldownActive)
	}

	amount := candidate.Amount
	if usable < amount {
		amount = usable
	}
	if c.limits.MaxTradeAmount > 0 && amount > c.limits.MaxTradeAmount {
		amount = c.limits.MaxTradeAmount
	}
	return model.Approve(amount)
}
