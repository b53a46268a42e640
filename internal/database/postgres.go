package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"xrparb/internal/model"
)

// PostgresRepository implements Repository on a pgx connection pool.
type PostgresRepository struct {
	Pool *pgxpool.Pool
}

// NewPostgresRepository wraps an existing pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{Pool: pool}
}

// Migrate creates the schema if it does not exist.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trade_attempts (
		id TEXT PRIMARY KEY,
		detected_at TIMESTAMPTZ NOT NULL,
		sell_market VARCHAR(20) NOT NULL,
		buy_market VARCHAR(20) NOT NULL,
		requested_amount NUMERIC(20, 8) NOT NULL,
		expected_spread_pct NUMERIC(12, 6) NOT NULL,
		state VARCHAR(20) NOT NULL,
		sell_leg JSONB NOT NULL,
		buy_leg JSONB NOT NULL,
		realized_pnl NUMERIC(20, 8) NOT NULL,
		transitions JSONB NOT NULL,
		completed_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trade_attempts_completed_at ON trade_attempts (completed_at DESC);

	CREATE TABLE IF NOT EXISTS balance_snapshots (
		id SERIAL PRIMARY KEY,
		taken_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		balances JSONB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS price_history (
		id SERIAL PRIMARY KEY,
		market VARCHAR(20) NOT NULL,
		price NUMERIC(20, 8) NOT NULL,
		volume NUMERIC(20, 8),
		ts TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_price_history_market_ts ON price_history (market, ts DESC);`

	if _, err := r.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// SaveTradeAttempt appends a terminal attempt record.
func (r *PostgresRepository) SaveTradeAttempt(ctx context.Context, a model.TradeAttempt) error {
	sellLeg, err := json.Marshal(a.SellLeg)
	if err != nil {
		return fmt.Errorf("save attempt: marshal sell leg: %w", err)
	}
	buyLeg, err := json.Marshal(a.BuyLeg)
	if err != nil {
		return fmt.Errorf("save attempt: marshal buy leg: %w", err)
	}
	transitions, err := json.Marshal(a.Transitions)
	if err != nil {
		return fmt.Errorf("save attempt: marshal transitions: %w", err)
	}

	_, err = r.Pool.Exec(ctx, `
		INSERT INTO trade_attempts
			(id, detected_at, sell_market, buy_market, requested_amount,
			 expected_spread_pct, state, sell_leg, buy_leg, realized_pnl,
			 transitions, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.DetectedAt, string(a.SellMarket), string(a.BuyMarket), a.Amount,
		a.SpreadPct, string(a.State), sellLeg, buyLeg, a.RealizedPnL,
		transitions, a.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("save attempt %s: %w", a.ID, err)
	}
	return nil
}

// SaveBalanceSnapshot appends the current ledger view.
func (r *PostgresRepository) SaveBalanceSnapshot(ctx context.Context, balances map[string]model.Balance) error {
	payload, err := json.Marshal(balances)
	if err != nil {
		return fmt.Errorf("save balances: marshal: %w", err)
	}
	if _, err := r.Pool.Exec(ctx,
		`INSERT INTO balance_snapshots (balances) VALUES ($1)`, payload); err != nil {
		return fmt.Errorf("save balances: %w", err)
	}
	return nil
}

// SavePricePoint appends one quote sample for charting consumers.
func (r *PostgresRepository) SavePricePoint(ctx context.Context, q model.Quote) error {
	if _, err := r.Pool.Exec(ctx,
		`INSERT INTO price_history (market, price, volume, ts) VALUES ($1, $2, $3, $4)`,
		string(q.Market), q.Price, q.Volume, q.Timestamp); err != nil {
		return fmt.Errorf("save price point: %w", err)
	}
	return nil
}

// DailyVolume returns the base-asset volume actually sold on the given day.
func (r *PostgresRepository) DailyVolume(ctx context.Context, day time.Time) (float64, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	var volume float64
	err := r.Pool.QueryRow(ctx, `
		SELECT COALESCE(SUM((sell_leg->>'filled_amount')::double precision), 0)
		FROM trade_attempts
		WHERE completed_at >= $1 AND completed_at < $2 AND state <> $3`,
		start, end, string(model.StateSellFailed),
	).Scan(&volume)
	if err != nil {
		return 0, fmt.Errorf("daily volume: %w", err)
	}
	return volume, nil
}

// RecentSuccessRate returns the completed fraction of the last n terminal
// attempts; 1 when no attempts exist yet.
func (r *PostgresRepository) RecentSuccessRate(ctx context.Context, n int) (float64, error) {
	var total, completed int
	err := r.Pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE state = $2)
		FROM (
			SELECT state FROM trade_attempts
			ORDER BY completed_at DESC
			LIMIT $1
		) recent`,
		n, string(model.StateCompleted),
	).Scan(&total, &completed)
	if err != nil {
		return 0, fmt.Errorf("success rate: %w", err)
	}
	if total == 0 {
		return 1, nil
	}
	return float64(completed) / float64(total), nil
}

// RecentAttempts returns the most recent terminal attempts, newest first.
func (r *PostgresRepository) RecentAttempts(ctx context.Context, limit int) ([]model.TradeAttempt, error) {
	rows, err := r.Pool.Query(ctx, `
		SELECT id, detected_at, sell_market, buy_market, requested_amount,
		       expected_spread_pct, state, sell_leg, buy_leg, realized_pnl,
		       transitions, completed_at
		FROM trade_attempts
		ORDER BY completed_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent attempts: %w", err)
	}
	defer rows.Close()

	var attempts []model.TradeAttempt
	for rows.Next() {
		var (
			a                            model.TradeAttempt
			sellMarket, buyMarket, state string
			sellLeg, buyLeg, transitions []byte
		)
		if err := rows.Scan(&a.ID, &a.DetectedAt, &sellMarket, &buyMarket, &a.Amount,
			&a.SpreadPct, &state, &sellLeg, &buyLeg, &a.RealizedPnL,
			&transitions, &a.CompletedAt); err != nil {
			return nil, fmt.Errorf("recent attempts: scan: %w", err)
		}
		a.SellMarket = model.Market(sellMarket)
		a.BuyMarket = model.Market(buyMarket)
		a.State = model.TradeState(state)
		if err := json.Unmarshal(sellLeg, &a.SellLeg); err != nil {
			return nil, fmt.Errorf("recent attempts: sell leg: %w", err)
		}
		if err := json.Unmarshal(buyLeg, &a.BuyLeg); err != nil {
			return nil, fmt.Errorf("recent attempts: buy leg: %w", err)
		}
		if err := json.Unmarshal(transitions, &a.Transitions); err != nil {
			return nil, fmt.Errorf("recent attempts: transitions: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// DayStats aggregates one day of terminal attempts.
func (r *PostgresRepository) DayStats(ctx context.Context, day time.Time) (model.DayStats, error) {
	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)

	stats := model.DayStats{Day: start}
	var completed int
	err := r.Pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE state = $3),
		       COALESCE(SUM((sell_leg->>'filled_amount')::double precision), 0),
		       COALESCE(SUM(realized_pnl), 0)
		FROM trade_attempts
		WHERE completed_at >= $1 AND completed_at < $2`,
		start, end, string(model.StateCompleted),
	).Scan(&stats.TradeCount, &completed, &stats.VolumeBase, &stats.RealizedPnL)
	if err != nil {
		return model.DayStats{}, fmt.Errorf("day stats: %w", err)
	}
	if stats.TradeCount > 0 {
		stats.SuccessRate = float64(completed) / float64(stats.TradeCount)
	}
	return stats, nil
}
