package executor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"xrparb/internal/config"
	"xrparb/internal/exchange"
	"xrparb/internal/ledger"
	"xrparb/internal/model"
)

type MockPlacer struct {
	mock.Mock
}

func (m *MockPlacer) SubmitOrder(ctx context.Context, market model.Market, side model.Side, amount float64) (exchange.Fill, error) {
	args := m.Called(ctx, market, side, amount)
	return args.Get(0).(exchange.Fill), args.Error(1)
}

func testExecutor(placer exchange.OrderPlacer, led *ledger.Ledger) *Executor {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := config.ExecutorConfig{
		BuyRetries:    2,
		RetryBackoff:  time.Millisecond,
		SlippageLimit: 0.001,
	}
	return New(placer, led, cfg, time.Second, logger)
}

func plannedAttempt(amount, sellPrice, buyPrice float64) *model.TradeAttempt {
	return &model.TradeAttempt{
		ID:         "attempt-1",
		DetectedAt: time.Now().UTC(),
		SellMarket: model.MarketUSDT,
		BuyMarket:  model.MarketUSDC,
		Amount:     amount,
		State:      model.StatePlanned,
		SellLeg: model.OrderLeg{
			Side:            model.SideSell,
			Market:          model.MarketUSDT,
			RequestedAmount: amount,
			RequestedPrice:  sellPrice,
		},
		BuyLeg: model.OrderLeg{
			Side:            model.SideBuy,
			Market:          model.MarketUSDC,
			RequestedAmount: amount,
			RequestedPrice:  buyPrice,
		},
	}
}

func TestExecute_CompletedHappyPath(t *testing.T) {
	placer := new(MockPlacer)
	led := ledger.New(map[string]float64{"XRP": 1000, "USDT": 0, "USDC": 0})
	exec := testExecutor(placer, led)

	placer.On("SubmitOrder", mock.Anything, model.MarketUSDT, model.SideSell, 100.0).
		Return(exchange.Fill{Amount: 100, Price: 0.52}, nil).Once()
	placer.On("SubmitOrder", mock.Anything, model.MarketUSDC, model.SideBuy, 100.0).
		Return(exchange.Fill{Amount: 100, Price: 0.50}, nil).Once()

	a := plannedAttempt(100, 0.52, 0.50)
	exec.Execute(context.Background(), a)

	assert.Equal(t, model.StateCompleted, a.State)
	assert.InDelta(t, 2.0, a.RealizedPnL, 1e-9)

	// Inventory-neutral: the asset sold was fully reacquired, and the
	// stablecoin pocket grew by exactly the realized profit.
	snap := led.Snapshot()
	assert.InDelta(t, 1000.0, snap["XRP"].Free, 1e-9)
	assert.InDelta(t, 2.0, snap["USDT"].Free, 1e-9)
	assert.InDelta(t, 0.0, snap["USDC"].Free, 1e-9)
	assert.InDelta(t, 0.0, snap["XRP"].Locked, 1e-9)
	assert.InDelta(t, 0.0, snap["USDT"].Locked, 1e-9)

	placer.AssertExpectations(t)
}

func TestExecute_StateSequenceOnSuccess(t *testing.T) {
	placer := new(MockPlacer)
	led := ledger.New(map[string]float64{"XRP": 1000})
	exec := testExecutor(placer, led)

	placer.On("SubmitOrder", mock.Anything, mock.Anything, model.SideSell, mock.Anything).
		Return(exchange.Fill{Amount: 100, Price: 0.52}, nil).Once()
	placer.On("SubmitOrder", mock.Anything, mock.Anything, model.SideBuy, mock.Anything).
		Return(exchange.Fill{Amount: 100, Price: 0.50}, nil).Once()

	a := plannedAttempt(100, 0.52, 0.50)
	exec.Execute(context.Background(), a)

	var states []model.TradeState
	for _, tr := range a.Transitions {
		states = append(states, tr.To)
	}
	assert.Equal(t, []model.TradeState{
		model.StateSelling,
		model.StateSellFilled,
		model.StateBuying,
		model.StateCompleted,
	}, states)
	assert.False(t, a.CompletedAt.IsZero())
}

func TestExecute_SellFailureRestoresLedger(t *testing.T) {
	placer := new(MockPlacer)
	led := ledger.New(map[string]float64{"XRP": 1000, "USDT": 0})
	exec := testExecutor(placer, led)

	placer.On("SubmitOrder", mock.Anything, model.MarketUSDT, model.SideSell, 100.0).
		Return(exchange.Fill{}, errors.New("order rejected")).Once()

	a := plannedAttempt(100, 0.52, 0.50)
	exec.Execute(context.Background(), a)

	assert.Equal(t, model.StateSellFailed, a.State)
	assert.Equal(t, 0.0, a.RealizedPnL)
	assert.Equal(t, "order rejected", a.SellLeg.Error)

	// Ledger exactly as before the attempt; the buy leg never ran.
	snap := led.Snapshot()
	assert.InDelta(t, 1000.0, snap["XRP"].Free, 1e-9)
	assert.InDelta(t, 0.0, snap["XRP"].Locked, 1e-9)
	assert.InDelta(t, 0.0, snap["USDT"].Free, 1e-9)
	placer.AssertNumberOfCalls(t, "SubmitOrder", 1)
}

func TestExecute_BuyTimeoutExhaustsRetriesAndFlagsPartial(t *testing.T) {
	placer := new(MockPlacer)
	led := ledger.New(map[string]float64{"XRP": 1000, "USDT": 0})
	exec := testExecutor(placer, led)

	placer.On("SubmitOrder", mock.Anything, model.MarketUSDT, model.SideSell, 100.0).
		Return(exchange.Fill{Amount: 100, Price: 0.52}, nil).Once()
	// Initial buy plus the configured 2 retries, all failing.
	placer.On("SubmitOrder", mock.Anything, model.MarketUSDC, model.SideBuy, 100.0).
		Return(exchange.Fill{}, errors.New("timeout")).Times(3)

	a := plannedAttempt(100, 0.52, 0.50)
	exec.Execute(context.Background(), a)

	assert.Equal(t, model.StatePartial, a.State)
	assert.Equal(t, 0.0, a.RealizedPnL)

	// The sold asset is gone and the proceeds are held free in the
	// counter-currency, awaiting reconciliation.
	snap := led.Snapshot()
	assert.InDelta(t, 900.0, snap["XRP"].Free, 1e-9)
	assert.InDelta(t, 52.0, snap["USDT"].Free, 1e-9)
	assert.InDelta(t, 0.0, snap["USDT"].Locked, 1e-9)
	placer.AssertExpectations(t)
}

func TestExecute_BuyRecoversOnRetry(t *testing.T) {
	placer := new(MockPlacer)
	led := ledger.New(map[string]float64{"XRP": 1000})
	exec := testExecutor(placer, led)

	placer.On("SubmitOrder", mock.Anything, model.MarketUSDT, model.SideSell, 100.0).
		Return(exchange.Fill{Amount: 100, Price: 0.52}, nil).Once()
	placer.On("SubmitOrder", mock.Anything, model.MarketUSDC, model.SideBuy, 100.0).
		Return(exchange.Fill{}, errors.New("timeout")).Once()
	placer.On("SubmitOrder", mock.Anything, model.MarketUSDC, model.SideBuy, 100.0).
		Return(exchange.Fill{Amount: 100, Price: 0.5004}, nil).Once()

	a := plannedAttempt(100, 0.52, 0.50)
	exec.Execute(context.Background(), a)

	assert.Equal(t, model.StateCompleted, a.State)
	assert.InDelta(t, 52.0-50.04, a.RealizedPnL, 1e-9)
}

func TestExecute_PartialSellFillScalesBuyLeg(t *testing.T) {
	placer := new(MockPlacer)
	led := ledger.New(map[string]float64{"XRP": 1000})
	exec := testExecutor(placer, led)

	placer.On("SubmitOrder", mock.Anything, model.MarketUSDT, model.SideSell, 100.0).
		Return(exchange.Fill{Amount: 60, Price: 0.52}, nil).Once()
	placer.On("SubmitOrder", mock.Anything, model.MarketUSDC, model.SideBuy, 60.0).
		Return(exchange.Fill{Amount: 60, Price: 0.50}, nil).Once()

	a := plannedAttempt(100, 0.52, 0.50)
	exec.Execute(context.Background(), a)

	assert.Equal(t, model.StateCompleted, a.State)
	assert.Equal(t, 60.0, a.BuyLeg.RequestedAmount)

	// The unsold 40 XRP returned to free alongside the reacquired 60.
	snap := led.Snapshot()
	assert.InDelta(t, 1000.0, snap["XRP"].Free, 1e-9)
}

func TestExecute_InsufficientFundsAbortsBeforeSubmit(t *testing.T) {
	placer := new(MockPlacer)
	led := ledger.New(map[string]float64{"XRP": 10})
	exec := testExecutor(placer, led)

	a := plannedAttempt(100, 0.52, 0.50)
	exec.Execute(context.Background(), a)

	assert.Equal(t, model.StateSellFailed, a.State)
	require.NotEmpty(t, a.SellLeg.Error)
	placer.AssertNotCalled(t, "SubmitOrder", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
