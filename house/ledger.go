package house

import (
	"fmt"
	"math"
)

// Ledger is the house balance ledger: every fund movement between
// participants is a credit or debit here, and value only leaves the house
// through Withdraw. It also keeps HouseTotals.Ledger equal to the sum of all
// balances.
type Ledger struct {
	store Store
}

// NewLedger returns a Ledger over store.
func NewLedger(store Store) *Ledger {
	return &Ledger{store: store}
}

// Balance returns the withdrawable balance of addr.
func (l *Ledger) Balance(addr string) (uint64, error) {
	bal, err := l.store.GetLedgerBalance(addr)
	if err != nil {
		return 0, fmt.Errorf("ledger balance %s: %w", addr, err)
	}
	return bal, nil
}

// Credit adds amount to addr's balance.
func (l *Ledger) Credit(addr string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	bal, err := l.Balance(addr)
	if err != nil {
		return err
	}
	if bal > math.MaxUint64-amount {
		return ErrOverflow.withf("credit %d to %s overflows balance %d", amount, addr, bal)
	}
	if err := l.store.SetLedgerBalance(addr, bal+amount); err != nil {
		return err
	}
	return l.adjustTotal(amount, true)
}

// Debit subtracts amount from addr's balance, failing when the balance is short.
func (l *Ledger) Debit(addr string, amount uint64) error {
	if amount == 0 {
		return nil
	}
	bal, err := l.Balance(addr)
	if err != nil {
		return err
	}
	if bal < amount {
		return ErrInsufficientBalance.withf("ledger balance of %s is %d, need %d", addr, bal, amount)
	}
	if err := l.store.SetLedgerBalance(addr, bal-amount); err != nil {
		return err
	}
	return l.adjustTotal(amount, false)
}

// Drain zeroes addr's balance and returns what it held. The entry is kept.
func (l *Ledger) Drain(addr string) (uint64, error) {
	bal, err := l.Balance(addr)
	if err != nil {
		return 0, err
	}
	if bal == 0 {
		return 0, nil
	}
	if err := l.Debit(addr, bal); err != nil {
		return 0, err
	}
	return bal, nil
}

func (l *Ledger) adjustTotal(amount uint64, up bool) error {
	t, err := l.store.GetHouseTotals()
	if err != nil {
		return fmt.Errorf("house totals: %w", err)
	}
	if up {
		if t.Ledger > math.MaxUint64-amount {
			return ErrOverflow.withf("ledger total overflows")
		}
		t.Ledger += amount
	} else {
		if t.Ledger < amount {
			return ErrInvariant.withf("ledger total %d below debit %d", t.Ledger, amount)
		}
		t.Ledger -= amount
	}
	return l.store.SetHouseTotals(t)
}
