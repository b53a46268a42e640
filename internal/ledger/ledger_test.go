package ledger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_ReserveAndRelease(t *testing.T) {
	l := New(map[string]float64{"XRP": 1000})

	res, err := l.Reserve("XRP", 100)
	require.NoError(t, err)

	snap := l.Snapshot()
	assert.Equal(t, 900.0, snap["XRP"].Free)
	assert.Equal(t, 100.0, snap["XRP"].Locked)
	assert.Equal(t, 1000.0, snap["XRP"].Total())

	l.Release(res)
	snap = l.Snapshot()
	assert.Equal(t, 1000.0, snap["XRP"].Free)
	assert.Equal(t, 0.0, snap["XRP"].Locked)
}

func TestLedger_ReserveInsufficientFunds(t *testing.T) {
	l := New(map[string]float64{"XRP": 50})

	res, err := l.Reserve("XRP", 100)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	// A failed reservation must not move anything.
	snap := l.Snapshot()
	assert.Equal(t, 50.0, snap["XRP"].Free)
	assert.Equal(t, 0.0, snap["XRP"].Locked)
}

func TestLedger_ReserveNeverPartial(t *testing.T) {
	l := New(map[string]float64{"USDT": 99.9})

	_, err := l.Reserve("USDT", 100)
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, 99.9, l.Free("USDT"))
}

func TestLedger_SettleSpendFull(t *testing.T) {
	l := New(map[string]float64{"XRP": 1000})

	res, err := l.Reserve("XRP", 100)
	require.NoError(t, err)
	l.SettleSpend(res, 100)

	snap := l.Snapshot()
	assert.Equal(t, 900.0, snap["XRP"].Free)
	assert.Equal(t, 0.0, snap["XRP"].Locked)
}

func TestLedger_SettleSpendPartialFillReturnsRemainder(t *testing.T) {
	l := New(map[string]float64{"XRP": 1000})

	res, err := l.Reserve("XRP", 100)
	require.NoError(t, err)
	l.SettleSpend(res, 60)

	snap := l.Snapshot()
	assert.InDelta(t, 940.0, snap["XRP"].Free, 1e-9)
	assert.InDelta(t, 0.0, snap["XRP"].Locked, 1e-9)
}

func TestLedger_SettleReceiveCreditsFree(t *testing.T) {
	l := New(map[string]float64{})

	l.SettleReceive("USDT", 52.0)
	assert.Equal(t, 52.0, l.Free("USDT"))
}

func TestLedger_DoubleReleasePanics(t *testing.T) {
	l := New(map[string]float64{"XRP": 1000})

	res, err := l.Reserve("XRP", 100)
	require.NoError(t, err)
	l.Release(res)

	assert.Panics(t, func() { l.Release(res) })
}

func TestLedger_SettleAfterReleasePanics(t *testing.T) {
	l := New(map[string]float64{"XRP": 1000})

	res, err := l.Reserve("XRP", 100)
	require.NoError(t, err)
	l.Release(res)

	assert.Panics(t, func() { l.SettleSpend(res, 100) })
}

func TestLedger_SettleSpendOverReservationPanics(t *testing.T) {
	l := New(map[string]float64{"XRP": 1000})

	res, err := l.Reserve("XRP", 100)
	require.NoError(t, err)

	assert.Panics(t, func() { l.SettleSpend(res, 150) })
}

func TestLedger_ConservationUnderConcurrency(t *testing.T) {
	l := New(map[string]float64{"XRP": 10000})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Reserve("XRP", 10)
			if err != nil {
				return
			}
			l.Release(res)
		}()
	}
	wg.Wait()

	snap := l.Snapshot()
	assert.InDelta(t, 10000.0, snap["XRP"].Total(), 1e-9)
	assert.InDelta(t, 0.0, snap["XRP"].Locked, 1e-9)
}

func TestLedger_SnapshotIsCopy(t *testing.T) {
	l := New(map[string]float64{"XRP": 100})

	snap := l.Snapshot()
	entry := snap["XRP"]
	entry.Free = 0
	snap["XRP"] = entry

	assert.Equal(t, 100.0, l.Free("XRP"))
}
