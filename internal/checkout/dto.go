package checkout

import (
	"time"

	"github.com/shopkit/selfscan/internal/cart"
	"github.com/shopkit/selfscan/internal/pricing"
)

// PaymentState is the backend's view of the payment leg of a process.
type PaymentState string

const (
	PaymentStateUnknown      PaymentState = "unknown"
	PaymentStatePending      PaymentState = "pending"
	PaymentStateUnauthorized PaymentState = "unauthorized"
	PaymentStateProcessing   PaymentState = "processing"
	PaymentStateSuccessful   PaymentState = "successful"
	PaymentStateFailed       PaymentState = "failed"
)

// RoutingTarget names the gate that must approve the payment.
type RoutingTarget string

const (
	RoutingNone       RoutingTarget = "none"
	RoutingSupervisor RoutingTarget = "supervisor"
	RoutingGatekeeper RoutingTarget = "gatekeeper"
)

// FulfillmentState tracks a backend-side unit of post-payment work.
type FulfillmentState string

const (
	FulfillmentOpen               FulfillmentState = "open"
	FulfillmentAllocating         FulfillmentState = "allocating"
	FulfillmentAllocated          FulfillmentState = "allocated"
	FulfillmentProcessed          FulfillmentState = "processed"
	FulfillmentAborted            FulfillmentState = "aborted"
	FulfillmentAllocationFailed   FulfillmentState = "allocationFailed"
	FulfillmentAllocationTimedOut FulfillmentState = "allocationTimedOut"
	FulfillmentFailed             FulfillmentState = "failed"
)

// Classification tables: adding a fulfillment state means touching these,
// not every call site.
var fulfillmentOpenStates = map[FulfillmentState]bool{
	FulfillmentOpen:       true,
	FulfillmentAllocating: true,
	FulfillmentAllocated:  true,
}

var fulfillmentFailureStates = map[FulfillmentState]bool{
	FulfillmentAborted:            true,
	FulfillmentAllocationFailed:   true,
	FulfillmentAllocationTimedOut: true,
	FulfillmentFailed:             true,
}

// IsOpen reports whether the fulfillment still needs backend work.
func (s FulfillmentState) IsOpen() bool { return fulfillmentOpenStates[s] }

// IsFailure reports whether the fulfillment ended unsuccessfully.
func (s FulfillmentState) IsFailure() bool { return fulfillmentFailureStates[s] }

// IsClosed reports whether the fulfillment reached a final state.
func (s FulfillmentState) IsClosed() bool {
	return s == FulfillmentProcessed || fulfillmentFailureStates[s]
}

// Fulfillment is one tracked unit of post-payment work.
type Fulfillment struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	State    FulfillmentState `json:"state"`
	RefersTo []string         `json:"refersTo,omitempty"`
}

// CheckState is the outcome of a single backend check.
type CheckState string

const (
	CheckPending    CheckState = "pending"
	CheckPostponed  CheckState = "postponed"
	CheckSuccessful CheckState = "successful"
	CheckFailed     CheckState = "failed"
)

// CheckType identifies what a check verifies.
type CheckType string

const (
	CheckMinAge      CheckType = "min_age"
	CheckSupervisor  CheckType = "supervisor_approval"
	CheckVerifyDebit CheckType = "verify_debit_card"
)

// Check is one gate the backend runs before payment may settle.
type Check struct {
	Type        CheckType  `json:"type"`
	PerformedBy string     `json:"performedBy,omitempty"`
	State       CheckState `json:"state"`
}

// PaymentMethod identifies how the customer pays.
type PaymentMethod string

const (
	MethodQRCodePOS          PaymentMethod = "qrCodePOS"
	MethodQRCodeOffline      PaymentMethod = "qrCodeOffline"
	MethodCustomerCardPOS    PaymentMethod = "customerCardPOS"
	MethodGatekeeperTerminal PaymentMethod = "gatekeeperTerminal"
	MethodDirectDebit        PaymentMethod = "directDebit"
	MethodCreditCard         PaymentMethod = "creditCard"
	MethodGooglePay          PaymentMethod = "googlePay"
)

// Offline methods finalize on local confirmation without a live backend
// round trip; they are the fallback channel for connectivity loss.
var offlineMethods = map[PaymentMethod]bool{
	MethodQRCodePOS:       true,
	MethodQRCodeOffline:   true,
	MethodCustomerCardPOS: true,
}

var credentialMethods = map[PaymentMethod]bool{
	MethodDirectDebit: true,
	MethodCreditCard:  true,
	MethodGooglePay:   true,
}

// IsOffline reports whether the method settles without backend polling.
func (m PaymentMethod) IsOffline() bool { return offlineMethods[m] }

// RequiresCredentials reports whether the method needs stored credentials.
func (m PaymentMethod) RequiresCredentials() bool { return credentialMethods[m] }

// PaymentMethodInfo describes an accepted method offered by the backend.
type PaymentMethodInfo struct {
	Method              PaymentMethod `json:"method"`
	IsTesting           bool          `json:"isTesting,omitempty"`
	AcceptedOriginTypes []string      `json:"acceptedOriginTypes,omitempty"`
}

// PaymentCredentials is the opaque credential blob handed to the backend.
// Acquisition and encryption are the integrator's concern.
type PaymentCredentials struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// ExitToken is presented at the gate to leave the shop. A declared token
// with an empty value means the backend has not issued it yet.
type ExitToken struct {
	Format string `json:"format,omitempty"`
	Value  string `json:"value,omitempty"`
}

// CheckoutProcess is the stateful backend resource for one checkout attempt.
type CheckoutProcess struct {
	ID                   string        `json:"id"`
	SelfLink             string        `json:"selfLink"`
	Checks               []Check       `json:"checks,omitempty"`
	PaymentState         PaymentState  `json:"paymentState"`
	RoutingTarget        RoutingTarget `json:"routingTarget,omitempty"`
	Fulfillments         []Fulfillment `json:"fulfillments,omitempty"`
	Aborted              bool          `json:"aborted,omitempty"`
	AuthorizePaymentLink string        `json:"authorizePaymentLink,omitempty"`
	ExitToken            *ExitToken    `json:"exitToken,omitempty"`
	FailureCause         string        `json:"paymentFailureCause,omitempty"`
}

// FailureCause values distinguishing who ended a failed payment.
const (
	FailureCauseTerminalAbort = "terminalAbort"
)

// AllFulfillmentsClosed reports whether every fulfillment reached a final
// state. True for processes without fulfillments.
func (p *CheckoutProcess) AllFulfillmentsClosed() bool {
	for _, f := range p.Fulfillments {
		if !f.State.IsClosed() {
			return false
		}
	}
	return true
}

// AnyFulfillmentFailed reports whether at least one fulfillment failed.
func (p *CheckoutProcess) AnyFulfillmentFailed() bool {
	for _, f := range p.Fulfillments {
		if f.State.IsFailure() {
			return true
		}
	}
	return false
}

// HasPendingChecks reports whether any check is still undecided.
func (p *CheckoutProcess) HasPendingChecks() bool {
	for _, c := range p.Checks {
		if c.State == CheckPending || c.State == CheckPostponed {
			return true
		}
	}
	return false
}

// FailedCheck returns the first failed check, if any.
func (p *CheckoutProcess) FailedCheck() (Check, bool) {
	for _, c := range p.Checks {
		if c.State == CheckFailed {
			return c, true
		}
	}
	return Check{}, false
}

// SignedCheckoutInfo is a backend-priced quote for the cart, valid for a
// short window, required for payment-process creation.
type SignedCheckoutInfo struct {
	Session          string              `json:"session"`
	Signature        string              `json:"signature,omitempty"`
	Price            pricing.Money       `json:"price"`
	AvailableMethods []PaymentMethodInfo `json:"availableMethods,omitempty"`
	LineItems        []cart.LineItem     `json:"lineItems,omitempty"`
	Violations       []cart.Violation    `json:"violations,omitempty"`
	RequiresTaxation bool                `json:"requiresTaxation,omitempty"`
}

// BackendCart is the wire snapshot of a cart session sent to the backend.
// Session carries the cart uuid, which is the idempotency key of the
// whole checkout attempt.
type BackendCart struct {
	Session        string            `json:"session"`
	ShopID         string            `json:"shopID"`
	CustomerCardID string            `json:"customerCardID,omitempty"`
	ClientID       string            `json:"clientID,omitempty"`
	AppUserID      string            `json:"appUserID,omitempty"`
	Taxation       string            `json:"taxation,omitempty"`
	Items          []BackendCartItem `json:"items"`
}

// BackendCartItem is one cart line on the wire.
type BackendCartItem struct {
	ID          string         `json:"id"`
	SKU         string         `json:"sku,omitempty"`
	ScannedCode string         `json:"scannedCode,omitempty"`
	Amount      int            `json:"amount,omitempty"`
	Weight      *int           `json:"weight,omitempty"`
	Units       *int           `json:"units,omitempty"`
	Price       *pricing.Money `json:"price,omitempty"`
	CouponID    string         `json:"couponID,omitempty"`
}

// Snapshot converts a cart state into the backend DTO.
func Snapshot(state cart.State, identity cart.IdentityProvider) BackendCart {
	bc := BackendCart{
		Session:  state.UUID,
		ShopID:   state.Shop,
		Taxation: taxationLabel(state.Taxation),
	}
	if identity != nil {
		bc.CustomerCardID = identity.CustomerCardID()
		bc.ClientID = identity.ClientID()
		bc.AppUserID = identity.AppUserID()
	}
	for _, it := range state.Items {
		switch it.Kind {
		case cart.KindProduct:
			entry := BackendCartItem{
				ID:     it.ID,
				SKU:    it.Product.SKU,
				Amount: it.Quantity,
			}
			if it.Scanned != nil {
				entry.ScannedCode = it.Scanned.Code
				if it.Scanned.EmbeddedWeight > 0 {
					w := it.Scanned.EmbeddedWeight
					entry.Weight = &w
					entry.Amount = 1
				}
				if it.Scanned.EmbeddedUnits > 0 {
					u := it.Scanned.EmbeddedUnits
					entry.Units = &u
					entry.Amount = 1
				}
				if it.Scanned.EmbeddedPrice > 0 {
					p := it.Scanned.EmbeddedPrice
					entry.Price = &p
					entry.Amount = 1
				}
			}
			if it.Coupon != nil {
				entry.CouponID = it.Coupon.ID
			}
			bc.Items = append(bc.Items, entry)
		case cart.KindCoupon:
			entry := BackendCartItem{
				ID:       it.ID,
				Amount:   1,
				CouponID: it.Coupon.ID,
			}
			if it.Scanned != nil {
				entry.ScannedCode = it.Scanned.Code
			}
			bc.Items = append(bc.Items, entry)
		}
	}
	return bc
}

func taxationLabel(t cart.Taxation) string {
	switch t {
	case cart.TaxationInHouse:
		return "inHouse"
	case cart.TaxationTakeaway:
		return "takeaway"
	default:
		return ""
	}
}

// SavedCart is a checkout snapshot queued for offline resubmission.
type SavedCart struct {
	Cart         BackendCart `json:"backendCart"`
	FinalizedAt  time.Time   `json:"finalizedAt"`
	FailureCount int         `json:"failureCount"`
}
