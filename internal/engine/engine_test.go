package engine

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"xrparb/internal/ledger"
	"xrparb/internal/model"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRepository) SaveTradeAttempt(ctx context.Context, a model.TradeAttempt) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockRepository) SaveBalanceSnapshot(ctx context.Context, balances map[string]model.Balance) error {
	args := m.Called(ctx, balances)
	return args.Error(0)
}

func (m *MockRepository) SavePricePoint(ctx context.Context, q model.Quote) error {
	args := m.Called(ctx, q)
	return args.Error(0)
}

func (m *MockRepository) DailyVolume(ctx context.Context, day time.Time) (float64, error) {
	args := m.Called(ctx, day)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockRepository) RecentSuccessRate(ctx context.Context, n int) (float64, error) {
	args := m.Called(ctx, n)
	return args.Get(0).(float64), args.Error(1)
}

func (m *MockRepository) RecentAttempts(ctx context.Context, limit int) ([]model.TradeAttempt, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]model.TradeAttempt), args.Error(1)
}

func (m *MockRepository) DayStats(ctx context.Context, day time.Time) (model.DayStats, error) {
	args := m.Called(ctx, day)
	return args.Get(0).(model.DayStats), args.Error(1)
}

type stubSpreadSource struct {
	snap       model.SpreadSnapshot
	ok         bool
	volatility float64
}

func (s *stubSpreadSource) LatestSpread() (model.SpreadSnapshot, bool) { return s.snap, s.ok }
func (s *stubSpreadSource) MaxVolatility() float64                    { return s.volatility }

type stubEvaluator struct {
	verdict model.Verdict
	calls   int
}

func (s *stubEvaluator) Evaluate(_ model.TradeCandidate, _ model.RiskState) model.Verdict {
	s.calls++
	return s.verdict
}

// recordingRunner drives every attempt straight to a fixed terminal state.
type recordingRunner struct {
	terminal model.TradeState
	attempts []*model.TradeAttempt
}

func (r *recordingRunner) Execute(_ context.Context, a *model.TradeAttempt) {
	r.attempts = append(r.attempts, a)
	a.Transition(r.terminal, time.Now().UTC())
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

func freshSnapshot(usdtPrice, usdcPrice float64) model.SpreadSnapshot {
	now := time.Now().UTC()
	return model.NewSpreadSnapshot(
		model.Quote{Market: model.MarketUSDT, Price: usdtPrice, Timestamp: now},
		model.Quote{Market: model.MarketUSDC, Price: usdcPrice, Timestamp: now},
		now,
	)
}

func permissiveRepo() *MockRepository {
	repo := new(MockRepository)
	repo.On("DailyVolume", mock.Anything, mock.Anything).Return(0.0, nil)
	repo.On("RecentSuccessRate", mock.Anything, mock.Anything).Return(1.0, nil)
	repo.On("SaveTradeAttempt", mock.Anything, mock.Anything).Return(nil)
	repo.On("SaveBalanceSnapshot", mock.Anything, mock.Anything).Return(nil)
	repo.On("SavePricePoint", mock.Anything, mock.Anything).Return(nil)
	return repo
}

func testConfig() Config {
	return Config{
		TickInterval:   10 * time.Millisecond,
		TradeAmount:    100,
		FreshnessBound: 30 * time.Second,
		Cooldown:       30 * time.Second,
	}
}

func TestTick_ApprovedCandidateExecutesAndPersists(t *testing.T) {
	repo := permissiveRepo()
	runner := &recordingRunner{terminal: model.StateCompleted}
	eng := New(
		&stubSpreadSource{snap: freshSnapshot(0.52, 0.50), ok: true},
		&stubEvaluator{verdict: model.Approve(100)},
		runner,
		ledger.New(map[string]float64{"XRP": 10000}),
		repo, nil, testConfig(), testLogger(),
	)

	eng.Tick(context.Background())

	assert.Len(t, runner.attempts, 1)
	a := runner.attempts[0]
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, model.MarketUSDT, a.SellMarket)
	assert.Equal(t, model.MarketUSDC, a.BuyMarket)
	assert.Equal(t, 100.0, a.Amount)
	assert.Equal(t, model.SideSell, a.SellLeg.Side)
	assert.Equal(t, model.SideBuy, a.BuyLeg.Side)
	repo.AssertCalled(t, "SaveTradeAttempt", mock.Anything, mock.Anything)
	repo.AssertCalled(t, "SaveBalanceSnapshot", mock.Anything, mock.Anything)
	assert.False(t, eng.Paused())
}

func TestTick_SkipsWhenNoQuotes(t *testing.T) {
	repo := new(MockRepository)
	runner := &recordingRunner{terminal: model.StateCompleted}
	eval := &stubEvaluator{verdict: model.Approve(100)}
	eng := New(&stubSpreadSource{ok: false}, eval, runner,
		ledger.New(nil), repo, nil, testConfig(), testLogger())

	eng.Tick(context.Background())

	assert.Empty(t, runner.attempts)
	assert.Zero(t, eval.calls)
	repo.AssertNotCalled(t, "SaveTradeAttempt")
}

func TestTick_SkipsStaleQuotesBeforeRisk(t *testing.T) {
	snap := freshSnapshot(0.52, 0.50)
	snap.QuoteUSDC.Timestamp = time.Now().UTC().Add(-2 * time.Minute)

	repo := new(MockRepository)
	repo.On("SavePricePoint", mock.Anything, mock.Anything).Return(nil)
	eval := &stubEvaluator{verdict: model.Approve(100)}
	runner := &recordingRunner{terminal: model.StateCompleted}
	eng := New(&stubSpreadSource{snap: snap, ok: true}, eval, runner,
		ledger.New(nil), repo, nil, testConfig(), testLogger())

	eng.Tick(context.Background())

	assert.Empty(t, runner.attempts)
	assert.Zero(t, eval.calls)
}

func TestTick_RejectionRecordsReason(t *testing.T) {
	repo := permissiveRepo()
	runner := &recordingRunner{terminal: model.StateCompleted}
	eng := New(
		&stubSpreadSource{snap: freshSnapshot(0.52, 0.50), ok: true},
		&stubEvaluator{verdict: model.Reject(model.ReasonSpreadTooSmall)},
		runner,
		ledger.New(nil), repo, nil, testConfig(), testLogger(),
	)

	eng.Tick(context.Background())

	assert.Empty(t, runner.attempts)
	assert.Equal(t, model.ReasonSpreadTooSmall, eng.LastReject())
	repo.AssertNotCalled(t, "SaveTradeAttempt")
}

func TestTick_PartialPausesUntilAcknowledged(t *testing.T) {
	repo := permissiveRepo()
	runner := &recordingRunner{terminal: model.StatePartial}
	eval := &stubEvaluator{verdict: model.Approve(100)}
	eng := New(
		&stubSpreadSource{snap: freshSnapshot(0.52, 0.50), ok: true},
		eval, runner,
		ledger.New(map[string]float64{"XRP": 10000}),
		repo, nil, testConfig(), testLogger(),
	)

	eng.Tick(context.Background())
	assert.True(t, eng.Paused())
	assert.Len(t, runner.attempts, 1)

	// While paused, ticks never reach the risk controller.
	evalCallsBefore := eval.calls
	eng.Tick(context.Background())
	assert.Equal(t, evalCallsBefore, eval.calls)
	assert.Len(t, runner.attempts, 1)

	eng.Acknowledge()
	assert.False(t, eng.Paused())
}

func TestTick_SellMarketIsHigherPriced(t *testing.T) {
	repo := permissiveRepo()
	runner := &recordingRunner{terminal: model.StateCompleted}
	eng := New(
		&stubSpreadSource{snap: freshSnapshot(0.50, 0.52), ok: true},
		&stubEvaluator{verdict: model.Approve(100)},
		runner,
		ledger.New(map[string]float64{"XRP": 10000}),
		repo, nil, testConfig(), testLogger(),
	)

	eng.Tick(context.Background())

	assert.Len(t, runner.attempts, 1)
	assert.Equal(t, model.MarketUSDC, runner.attempts[0].SellMarket)
	assert.Equal(t, model.MarketUSDT, runner.attempts[0].BuyMarket)
}

func TestStartStop_Idempotent(t *testing.T) {
	repo := permissiveRepo()
	runner := &recordingRunner{terminal: model.StateCompleted}
	eng := New(&stubSpreadSource{ok: false},
		&stubEvaluator{verdict: model.Reject(model.ReasonSpreadTooSmall)},
		runner, ledger.New(nil), repo, nil, testConfig(), testLogger())

	ctx := context.Background()
	eng.Start(ctx)
	eng.Start(ctx)
	assert.True(t, eng.Running())

	eng.Stop()
	assert.False(t, eng.Running())
	eng.Stop()

	// Restart after stop works.
	eng.Start(ctx)
	assert.True(t, eng.Running())
	eng.Stop()
}

func TestRiskState_CooldownDerivedFromLastFinish(t *testing.T) {
	repo := permissiveRepo()
	runner := &recordingRunner{terminal: model.StateCompleted}
	eval := &stubEvaluator{verdict: model.Approve(100)}
	eng := New(
		&stubSpreadSource{snap: freshSnapshot(0.52, 0.50), ok: true},
		eval, runner,
		ledger.New(map[string]float64{"XRP": 10000}),
		repo, nil, testConfig(), testLogger(),
	)

	now := time.Now().UTC()
	state, err := eng.riskState(context.Background(), now)
	assert.NoError(t, err)
	assert.Zero(t, state.CooldownRemaining)

	eng.Tick(context.Background())

	state, err = eng.riskState(context.Background(), time.Now().UTC())
	assert.NoError(t, err)
	assert.Greater(t, state.CooldownRemaining, time.Duration(0))
}
