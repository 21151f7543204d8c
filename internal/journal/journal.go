// Package journal is the append-only trade ledger.
package journal

import (
	"context"
	"errors"
	"time"
)

// Actions written to the ledger.
const (
	ActionBuyLong   = "BUY_LONG"
	ActionSellShort = "SELL_SHORT"
	ActionExit      = "EXIT"
)

// Trade is one immutable ledger row.
type Trade struct {
	Time   time.Time
	Action string
	Symbol string
	Price  float64
	Amount float64
	Note   string
}

// Value is price times amount.
func (t Trade) Value() float64 {
	return t.Price * t.Amount
}

// Ledger appends trades. Implementations never rewrite earlier rows.
type Ledger interface {
	Append(ctx context.Context, t Trade) error
	Close() error
}

// Multi fans a trade out to every ledger and joins their errors.
type Multi []Ledger

func (m Multi) Append(ctx context.Context, t Trade) error {
	var errs []error
	for _, l := range m {
		if err := l.Append(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, l := range m {
		errs = append(errs, l.Close())
	}
	return errors.Join(errs...)
}
