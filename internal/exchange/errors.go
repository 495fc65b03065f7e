package exchange

import (
	"errors"
	"fmt"
)

var (
	// ErrAmbiguousTimeout marks a submission whose outcome is unknown:
	// the venue timed out before confirming, so the order may or may
	// not exist. Callers must reconcile instead of blindly retrying.
	ErrAmbiguousTimeout = errors.New("order submission timed out with unknown outcome")

	// ErrQuantityZero means rounding to the lot step left nothing to order.
	ErrQuantityZero = errors.New("quantity rounds to zero")

	// ErrBelowMinNotional means price*qty is under the venue minimum.
	ErrBelowMinNotional = errors.New("order notional below venue minimum")

	// ErrFiltersUnavailable means symbol trading constraints could not
	// be fetched and no cached copy exists.
	ErrFiltersUnavailable = errors.New("symbol filters unavailable")
)

// APIError is a structured error body returned by the venue.
type APIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange error %d: %s", e.Code, e.Msg)
}

// Unwrap maps venue codes onto sentinel errors so callers can branch
// with errors.Is. Code -1007 is the gateway timeout where the order
// outcome is unknown.
func (e *APIError) Unwrap() error {
	if e.Code == -1007 {
		return ErrAmbiguousTimeout
	}
	return nil
}
