// Package ledger is the in-memory authoritative view of free/locked balances
// per currency. It is a pure accounting primitive: it never interprets
// spreads or risk. All mutations run under one mutex so reserve-then-settle
// sequences are atomic with respect to concurrent reservations and snapshot
// readers never see a torn intermediate state.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"xrparb/internal/model"
)

// ErrInsufficientFunds is returned when a reservation exceeds the free
// balance. Reservations are never partial.
var ErrInsufficientFunds = errors.New("ledger: insufficient funds")

// Reservation is an amount moved from free to locked, to be released or
// settled exactly once.
type Reservation struct {
	Currency string
	Amount   float64
	done     bool
}

// Ledger holds the balances. The zero value is unusable; use New.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]*model.Balance
}

// New creates a ledger seeded with the given free balances.
func New(initial map[string]float64) *Ledger {
	l := &Ledger{balances: make(map[string]*model.Balance)}
	for cur, amt := range initial {
		l.balances[cur] = &model.Balance{Currency: cur, Free: amt}
	}
	return l
}

// Reserve atomically moves amount from free to locked. It fails with
// ErrInsufficientFunds when amount exceeds the free balance.
func (l *Ledger) Reserve(currency string, amount float64) (*Reservation, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("ledger: non-positive reservation %f %s", amount, currency)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.balance(currency)
	if amount > b.Free {
		return nil, fmt.Errorf("%w: %f %s free, %f requested", ErrInsufficientFunds, b.Free, currency, amount)
	}
	b.Free -= amount
	b.Locked += amount
	return &Reservation{Currency: currency, Amount: amount}, nil
}

// Release aborts a reservation, returning the locked amount to free.
// Releasing or settling a reservation twice is a programming error and
// aborts the process: it indicates ledger corruption.
func (l *Ledger) Release(res *Reservation) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.consume(res)
	b := l.balance(res.Currency)
	b.Locked -= res.Amount
	b.Free += res.Amount
}

// SettleSpend confirms that spent of the reserved amount left the system.
// The unspent remainder, if any, returns to free. spent must not exceed the
// reservation.
func (l *Ledger) SettleSpend(res *Reservation, spent float64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.consume(res)
	if spent < 0 || spent > res.Amount+1e-9 {
		panic(fmt.Sprintf("ledger: settle spend %f outside reservation %f %s", spent, res.Amount, res.Currency))
	}
	b := l.balance(res.Currency)
	b.Locked -= res.Amount
	b.Free += res.Amount - spent
	if b.Locked < -1e-9 || b.Free < -1e-9 {
		panic(fmt.Sprintf("ledger: negative balance for %s after settle", res.Currency))
	}
	if b.Locked < 0 {
		b.Locked = 0
	}
	if b.Free < 0 {
		b.Free = 0
	}
}

// SettleReceive credits the free balance of a currency obtained from a
// filled leg.
func (l *Ledger) SettleReceive(currency string, amount float64) {
	if amount < 0 {
		panic(fmt.Sprintf("ledger: negative receive %f %s", amount, currency))
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.balance(currency)
	b.Free += amount
}

// Free returns the free balance of a currency.
func (l *Ledger) Free(currency string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(currency).Free
}

// Snapshot returns a consistent copy of all balances.
func (l *Ledger) Snapshot() map[string]model.Balance {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]model.Balance, len(l.balances))
	for cur, b := range l.balances {
		out[cur] = *b
	}
	return out
}

// balance must be called with the mutex held.
func (l *Ledger) balance(currency string) *model.Balance {
	b, ok := l.balances[currency]
	if !ok {
		b = &model.Balance{Currency: currency}
		l.balances[currency] = b
	}
	return b
}

// consume must be called with the mutex held.
func (l *Ledger) consume(res *Reservation) {
	if res == nil {
		panic("ledger: nil reservation")
	}
	if res.done {
		panic(fmt.Sprintf("ledger: reservation for %f %s used twice", res.Amount, res.Currency))
	}
	res.done = true
}
