package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrLockHeld      = errors.New("lock already held")
	ErrRateLimited   = errors.New("rate limited")
	ErrWSDisconnect  = errors.New("websocket disconnected")
	// ErrMissingNativePrice stops fill processing when the oracle cannot
	// produce a native-denominated price. Fills hitting it are dropped, not
	// retried.
	ErrMissingNativePrice = errors.New("missing native price")
)

// RejectReason is the specific, machine-readable reason an order failed
// structural validation. Rejections are results, not infrastructure errors:
// they never abort a batch.
type RejectReason string

const (
	RejectUnsupportedPaymentToken RejectReason = "unsupported-payment-token"
	RejectInvalidSignature        RejectReason = "invalid-signature"
	RejectUnknownOrderKind        RejectReason = "unknown-order-kind"
	RejectUnsupportedOrderType    RejectReason = "unsupported-order-type"
	RejectFeeOverLimit            RejectReason = "fee-over-100-percent"
	RejectInvalidTokenSet         RejectReason = "invalid-token-set"
	RejectNotFillable             RejectReason = "not-fillable"
	RejectExpired                 RejectReason = "expired"
	RejectZeroPrice               RejectReason = "zero-price"
)

// RejectionError carries a structural rejection through error returns while
// remaining distinguishable from infrastructure failures via errors.As.
type RejectionError struct {
	Reason  RejectReason
	OrderID string
}

func (e *RejectionError) Error() string {
	if e.OrderID == "" {
		return string(e.Reason)
	}
	return fmt.Sprintf("%s (order %s)", e.Reason, e.OrderID)
}

// Reject builds a RejectionError without an order id (identity could not be
// computed).
func Reject(reason RejectReason) *RejectionError {
	return &RejectionError{Reason: reason}
}

// RejectOrder builds a RejectionError for a known order id.
func RejectOrder(reason RejectReason, orderID string) *RejectionError {
	return &RejectionError{Reason: reason, OrderID: orderID}
}

// AsRejection unwraps err into a RejectionError when it is one.
func AsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
