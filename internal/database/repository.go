package database

import (
	"context"
	"time"

	"xrparb/internal/model"
)

// Repository defines the standard interface for database operations.
// Terminal trade attempts and balance snapshots are append-only; the read
// side feeds the risk controller and the dashboard API.
type Repository interface {
	Migrate(ctx context.Context) error
	SaveTradeAttempt(ctx context.Context, a model.TradeAttempt) error
	SaveBalanceSnapshot(ctx context.Context, balances map[string]model.Balance) error
	SavePricePoint(ctx context.Context, q model.Quote) error
	DailyVolume(ctx context.Context, day time.Time) (float64, error)
	RecentSuccessRate(ctx context.Context, n int) (float64, error)
	RecentAttempts(ctx context.Context, limit int) ([]model.TradeAttempt, error)
	DayStats(ctx context.Context, day time.Time) (model.DayStats, error)
}
