// Package order
package order

import (
	"time"

	"github.com/google/uuid"
)

// Side of an order on the venue.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Request is a market order to be submitted.
type Request struct {
	Symbol        string
	Side          Side
	Quantity      float64
	ReduceOnly    bool
	ClientOrderID string
}

// Ack is the venue's acknowledgement of a submitted order.
type Ack struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          Side
	Status        string
	FilledQty     float64
	AvgPrice      float64
	Timestamp     time.Time
}

var clientIDSpace = uuid.MustParse("0f6b3c1e-5d8a-4f0e-9a51-2b7de3c4a901")

// ClientOrderID derives a stable id from the cycle slot, symbol and action so
// that a retried submission for the same intent carries the same id. Binance
// caps client ids at 36 characters, which a UUID string fits exactly.
func ClientOrderID(slot, symbol, action string) string {
	return uuid.NewSHA1(clientIDSpace, []byte(slot+"|"+symbol+"|"+action)).String()
}
