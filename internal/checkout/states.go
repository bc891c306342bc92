package checkout

// State is the client-side checkout state.
type State int

const (
	StateNone State = iota
	StateHandshaking
	StateNoShop
	StateInvalidProducts
	StateInvalidItems
	StateNoPaymentMethodAvailable
	StateConnectionError
	StateRequestTaxation
	StateRequestPaymentMethod
	StateVerifyingPaymentMethod
	StateRequestVerifyAge
	StateRequestPaymentAuthToken
	StateWaitForSupervisor
	StateWaitForGatekeeper
	StateWaitForApproval
	StatePaymentProcessing
	StatePaymentApproved
	StateDeniedByPaymentProvider
	StateDeniedBySupervisor
	StateDeniedTooYoung
	StatePaymentAborted
	StatePaymentAbortFailed
	StatePaymentProcessingError
)

var stateNames = map[State]string{
	StateNone:                     "none",
	StateHandshaking:              "handshaking",
	StateNoShop:                   "no_shop",
	StateInvalidProducts:          "invalid_products",
	StateInvalidItems:             "invalid_items",
	StateNoPaymentMethodAvailable: "no_payment_method_available",
	StateConnectionError:          "connection_error",
	StateRequestTaxation:          "request_taxation",
	StateRequestPaymentMethod:     "request_payment_method",
	StateVerifyingPaymentMethod:   "verifying_payment_method",
	StateRequestVerifyAge:         "request_verify_age",
	StateRequestPaymentAuthToken:  "request_payment_authorization_token",
	StateWaitForSupervisor:        "wait_for_supervisor",
	StateWaitForGatekeeper:        "wait_for_gatekeeper",
	StateWaitForApproval:          "wait_for_approval",
	StatePaymentProcessing:        "payment_processing",
	StatePaymentApproved:          "payment_approved",
	StateDeniedByPaymentProvider:  "denied_by_payment_provider",
	StateDeniedBySupervisor:       "denied_by_supervisor",
	StateDeniedTooYoung:           "denied_too_young",
	StatePaymentAborted:           "payment_aborted",
	StatePaymentAbortFailed:       "payment_abort_failed",
	StatePaymentProcessingError:   "payment_processing_error",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

var terminalStates = map[State]bool{
	StateNoShop:                   true,
	StateInvalidProducts:          true,
	StateInvalidItems:             true,
	StateNoPaymentMethodAvailable: true,
	StateConnectionError:          true,
	StatePaymentApproved:          true,
	StateDeniedByPaymentProvider:  true,
	StateDeniedBySupervisor:       true,
	StateDeniedTooYoung:           true,
	StatePaymentAborted:           true,
	StatePaymentAbortFailed:       true,
	StatePaymentProcessingError:   true,
}

// IsTerminal reports whether the state ends the checkout attempt.
func (s State) IsTerminal() bool { return terminalStates[s] }

// activeStates are network-driven states a new checkout may not preempt.
var activeStates = map[State]bool{
	StateHandshaking:             true,
	StateVerifyingPaymentMethod:  true,
	StateRequestPaymentAuthToken: true,
	StateWaitForSupervisor:       true,
	StateWaitForGatekeeper:       true,
	StateWaitForApproval:         true,
	StatePaymentProcessing:       true,
}

// IsActive reports whether a backend interaction is in flight or pending.
func (s State) IsActive() bool { return activeStates[s] }

// errorKindStates maps classified handshake failures onto terminal states.
var errorKindStates = map[ErrorKind]State{
	KindInvalidProducts:   StateInvalidProducts,
	KindInvalidItems:      StateInvalidItems,
	KindNoAvailableMethod: StateNoPaymentMethodAvailable,
	KindShopNotFound:      StateNoShop,
	KindConnection:        StateConnectionError,
	KindUnknown:           StateConnectionError,
}
