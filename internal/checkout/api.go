package checkout

import (
	"context"
	"errors"
	"time"
)

// ErrorKind classifies backend-facing failures. Raw transport errors never
// cross this boundary; the transport maps everything into one of these.
type ErrorKind int

const (
	// KindUnknown covers unclassifiable failures.
	KindUnknown ErrorKind = iota
	// KindConnection marks pure connectivity loss; the only retriable kind.
	KindConnection
	// KindInvalidProducts means the cart references unknown products.
	KindInvalidProducts
	// KindInvalidItems means a line item or deposit voucher was rejected.
	KindInvalidItems
	// KindNoAvailableMethod means no payment method fits the cart.
	KindNoAvailableMethod
	// KindShopNotFound means the shop id is unknown to the backend.
	KindShopNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection_error"
	case KindInvalidProducts:
		return "invalid_products"
	case KindInvalidItems:
		return "invalid_items"
	case KindNoAvailableMethod:
		return "no_available_method"
	case KindShopNotFound:
		return "shop_not_found"
	default:
		return "unknown"
	}
}

// Error is a classified checkout failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError constructs a classified error.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the classification from an error chain, defaulting to
// KindUnknown.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// IsConnectionError reports whether the failure was pure connectivity loss.
func IsConnectionError(err error) bool {
	return KindOf(err) == KindConnection
}

// ProcessRequest carries everything needed to open a payment process.
type ProcessRequest struct {
	// IdempotencyID is the cart uuid at snapshot time. Retrying with the
	// same id must resume the existing server-side process.
	IdempotencyID    string
	SignedInfo       SignedCheckoutInfo
	Method           PaymentMethod
	Credentials      *PaymentCredentials
	ProcessedOffline bool
	// FinalizedAt is the true purchase time; offline retries submit the
	// original timestamp, not the retry time.
	FinalizedAt *time.Time
}

// Api is the transport the state machine drives. Implementations classify
// every failure into an *Error before returning it.
type Api interface {
	CreateCheckoutInfo(ctx context.Context, cart BackendCart, timeout time.Duration) (SignedCheckoutInfo, error)
	CreatePaymentProcess(ctx context.Context, req ProcessRequest) (CheckoutProcess, error)
	UpdatePaymentProcess(ctx context.Context, process CheckoutProcess) (CheckoutProcess, error)
	Abort(ctx context.Context, process CheckoutProcess) error
	AuthorizePayment(ctx context.Context, process CheckoutProcess, originToken string) error
}
