package exchange

import (
	"errors"
	"fmt"

	"github.com/adshao/go-binance/v2/common"
)

// Error classes. Every error returned by a Gateway wrapped with Instrument
// matches exactly one of these through errors.Is.
var (
	// ErrTransient covers network failures, timeouts and rate limits. The
	// action is skipped and retried on a later tick.
	ErrTransient = errors.New("transient gateway error")
	// ErrInsufficientBalance means the venue refused for lack of margin.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrOrderRejected means the venue refused the order itself (precision,
	// min notional, reduce-only with nothing to reduce, unsupported side).
	ErrOrderRejected = errors.New("order rejected")
)

// GatewayError carries the failing operation and the classified cause.
type GatewayError struct {
	Op     string
	Symbol string
	Class  error
	Err    error
}

func (e *GatewayError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("%s %s: %v: %v", e.Op, e.Symbol, e.Class, e.Err)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Class, e.Err)
}

func (e *GatewayError) Unwrap() []error {
	return []error{e.Class, e.Err}
}

// Binance futures error codes that are not transient.
var (
	insufficientCodes = map[int64]bool{
		-2018: true, // balance is insufficient
		-2019: true, // margin is insufficient
	}
	rejectedCodes = map[int64]bool{
		-1013: true, // invalid quantity / filter failure
		-1100: true, // illegal characters in parameter
		-1102: true, // mandatory parameter missing
		-1111: true, // precision over maximum
		-1121: true, // invalid symbol
		-2010: true, // new order rejected
		-2022: true, // reduce-only order rejected
		-4003: true, // quantity less than zero
		-4164: true, // notional below minimum
		-4028: true, // leverage not valid
	}
)

// Classify maps an error onto one of the error classes.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	for _, class := range []error{ErrInsufficientBalance, ErrOrderRejected, ErrTransient} {
		if errors.Is(err, class) {
			return class
		}
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch {
		case insufficientCodes[apiErr.Code]:
			return ErrInsufficientBalance
		case rejectedCodes[apiErr.Code]:
			return ErrOrderRejected
		}
		return ErrTransient
	}

	// timeouts, dropped connections and anything unrecognised
	return ErrTransient
}

// ClassName is a short label for logs and metrics.
func ClassName(err error) string {
	switch Classify(err) {
	case nil:
		return "none"
	case ErrInsufficientBalance:
		return "insufficient_balance"
	case ErrOrderRejected:
		return "rejected"
	default:
		return "transient"
	}
}

func wrap(op, symbol string, err error) error {
	if err == nil {
		return nil
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		return err
	}
	return &GatewayError{Op: op, Symbol: symbol, Class: Classify(err), Err: err}
}
