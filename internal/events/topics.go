package events

// Topic constants for events emitted by the client.
const (
	TopicCartChanged         = "cart.changed"
	TopicCartInvalidated     = "cart.invalidated"
	TopicCartLimitRaised     = "cart.limit_raised"
	TopicCartLimitCleared    = "cart.limit_cleared"
	TopicCartViolation       = "cart.violation"
	TopicCheckoutState       = "checkout.state"
	TopicFulfillmentsUpdated = "checkout.fulfillments"
	TopicCheckoutQueued      = "retry.queued"
	TopicCheckoutRecovered   = "retry.recovered"
	TopicCheckoutDropped     = "retry.dropped"
	// TopicConnectivityRestored fires when the backend becomes reachable
	// again after an outage; it triggers a retry-queue sweep.
	TopicConnectivityRestored = "net.restored"
)
