package checkout

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shopkit/selfscan/internal/cart"
	"github.com/shopkit/selfscan/internal/events"
	"github.com/shopkit/selfscan/internal/obs"
)

// ErrCheckoutInProgress is returned when a checkout is started while a
// previous attempt is still talking to the backend.
var ErrCheckoutInProgress = errors.New("checkout: already in progress")

// ErrNoCheckoutInfo is returned when payment is attempted without a prior
// signed checkout info.
var ErrNoCheckoutInfo = errors.New("checkout: no signed checkout info")

// TokenProvider supplies one-time payment authorization tokens, e.g. from a
// wallet SDK, when the backend asks for them mid-process.
type TokenProvider interface {
	PaymentOriginToken(ctx context.Context, process CheckoutProcess) (string, error)
}

// CouponCatalog resolves coupon ids against the project's coupon catalog.
type CouponCatalog interface {
	CouponByID(id string) (cart.Coupon, bool)
}

// OfflineQueue accepts carts whose checkout failed on connectivity alone.
type OfflineQueue interface {
	Enqueue(saved SavedCart)
}

// StateChange is the payload of checkout state events.
type StateChange struct {
	From State
	To   State
}

// MachineOptions wires a state machine's collaborators.
type MachineOptions struct {
	Api              Api
	Session          *cart.Session
	Identity         cart.IdentityProvider
	Dispatcher       *events.Dispatcher
	Logger           zerolog.Logger
	PollInterval     time.Duration
	HandshakeTimeout time.Duration
	Tokens           TokenProvider
	Coupons          CouponCatalog
	Queue            OfflineQueue
	// FallbackMethod, when offline-capable, reroutes connectivity failures
	// into the retry queue instead of surfacing an error.
	FallbackMethod PaymentMethod
	Now            func() time.Time
}

// StateMachine drives the multi-step checkout protocol. All state lives
// behind one mutex; network calls run on background goroutines and funnel
// their results back through epoch-tagged callbacks, so a response from a
// cancelled attempt can never resurrect a torn-down process.
type StateMachine struct {
	mu   sync.Mutex
	opts MachineOptions

	state         State
	epoch         int
	opCtx         context.Context
	cancel        context.CancelFunc
	poller        *Poller
	signedInfo    *SignedCheckoutInfo
	process       *CheckoutProcess
	idempotencyID string
	method        PaymentMethod
	credentials   *PaymentCredentials
	authRequested bool
	approved      bool
	redeemed      []cart.Coupon
	startedAt     time.Time

	// emissions queued under the lock, delivered after release so event
	// handlers may call back into the machine.
	emits []func()
}

// NewStateMachine constructs a state machine in StateNone.
func NewStateMachine(opts MachineOptions) *StateMachine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	return &StateMachine{
		opts:   opts,
		state:  StateNone,
		poller: NewPoller(opts.PollInterval),
		opCtx:  context.Background(),
	}
}

// State returns the current checkout state.
func (m *StateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Process returns a copy of the server process, if one exists.
func (m *StateMachine) Process() *CheckoutProcess {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.process == nil {
		return nil
	}
	p := *m.process
	return &p
}

// AvailableMethods lists the payment methods the backend offered.
func (m *StateMachine) AvailableMethods() []PaymentMethodInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.signedInfo == nil {
		return nil
	}
	return append([]PaymentMethodInfo(nil), m.signedInfo.AvailableMethods...)
}

// RedeemedCoupons returns the coupons redeemed by the approved checkout.
func (m *StateMachine) RedeemedCoupons() []cart.Coupon {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]cart.Coupon(nil), m.redeemed...)
}

// ExitToken returns the gate token once the backend issued one.
func (m *StateMachine) ExitToken() *ExitToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.process == nil || m.process.ExitToken == nil || m.process.ExitToken.Value == "" {
		return nil
	}
	t := *m.process.ExitToken
	return &t
}

// Checkout snapshots the cart and starts the info negotiation. The session
// uuid at snapshot time becomes the idempotency key for the whole attempt.
func (m *StateMachine) Checkout(ctx context.Context) error {
	m.opts.Session.CheckExpired()
	cartState := m.opts.Session.State()
	bc := Snapshot(cartState, m.opts.Identity)

	m.mu.Lock()
	if m.state.IsActive() {
		m.mu.Unlock()
		return ErrCheckoutInProgress
	}
	m.resetAttemptLocked()
	m.idempotencyID = cartState.UUID
	m.startedAt = m.opts.Now()
	opCtx, epoch := m.beginOpLocked(ctx)
	m.setStateLocked(StateHandshaking, true)
	timeout := m.opts.HandshakeTimeout
	m.mu.Unlock()
	m.flush()

	go func() {
		info, err := m.opts.Api.CreateCheckoutInfo(opCtx, bc, timeout)
		m.onCheckoutInfo(epoch, bc, info, err)
	}()
	return nil
}

func (m *StateMachine) onCheckoutInfo(epoch int, bc BackendCart, info SignedCheckoutInfo, err error) {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	if err != nil {
		kind := KindOf(err)
		m.opts.Logger.Warn().Str("kind", kind.String()).Err(err).Msg("checkout_info_failed")
		if kind == KindConnection && m.opts.FallbackMethod.IsOffline() && m.opts.Queue != nil {
			m.finalizeQueuedLocked(bc)
			m.mu.Unlock()
			m.flush()
			return
		}
		m.setStateLocked(errorKindStates[kind], true)
		m.mu.Unlock()
		m.flush()
		return
	}

	m.signedInfo = &info
	taxation := bc.Taxation
	m.queueEmitLocked(func() {
		m.opts.Session.ApplyCheckoutInfo(info.LineItems, priceOf(info), info.Violations)
	})

	switch {
	case info.RequiresTaxation && taxation == "":
		m.setStateLocked(StateRequestTaxation, true)
	case len(info.AvailableMethods) == 1 && !info.AvailableMethods[0].Method.RequiresCredentials():
		m.payLocked(m.opCtx, info.AvailableMethods[0].Method, nil)
	default:
		m.setStateLocked(StateRequestPaymentMethod, true)
	}
	m.mu.Unlock()
	m.flush()
}

// Pay starts payment-process creation with the selected method.
func (m *StateMachine) Pay(ctx context.Context, method PaymentMethod, credentials *PaymentCredentials) error {
	m.mu.Lock()
	if m.signedInfo == nil {
		// Paying without a prior handshake is a programmer error; it is
		// surfaced as a connection error rather than a crash.
		m.setStateLocked(StateConnectionError, true)
		m.mu.Unlock()
		m.flush()
		return ErrNoCheckoutInfo
	}
	opCtx, _ := m.beginOpLocked(ctx)
	m.payLocked(opCtx, method, credentials)
	m.mu.Unlock()
	m.flush()
	return nil
}

func (m *StateMachine) payLocked(opCtx context.Context, method PaymentMethod, credentials *PaymentCredentials) {
	m.method = method
	m.credentials = credentials
	m.setStateLocked(StateVerifyingPaymentMethod, true)

	req := ProcessRequest{
		IdempotencyID:    m.idempotencyID,
		SignedInfo:       *m.signedInfo,
		Method:           method,
		Credentials:      credentials,
		ProcessedOffline: method.IsOffline(),
	}
	if method.IsOffline() {
		t := m.opts.Now()
		req.FinalizedAt = &t
	}
	epoch := m.epoch
	m.queueEmitLocked(func() {
		go func() {
			process, err := m.opts.Api.CreatePaymentProcess(opCtx, req)
			m.onProcessCreated(epoch, process, err)
		}()
	})
}

func (m *StateMachine) onProcessCreated(epoch int, process CheckoutProcess, err error) {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	if err != nil {
		kind := KindOf(err)
		m.opts.Logger.Warn().Str("kind", kind.String()).Err(err).Msg("payment_process_failed")
		if kind == KindConnection {
			m.setStateLocked(StateConnectionError, true)
		} else {
			m.setStateLocked(StatePaymentProcessingError, true)
		}
		m.mu.Unlock()
		m.flush()
		return
	}
	m.process = &process
	if m.method.IsOffline() {
		// Offline methods finalize on local confirmation; no polling.
		m.approveLocked()
	} else {
		m.handleProcessLocked(process)
	}
	m.mu.Unlock()
	m.flush()
}

// handleProcessLocked classifies a process response and decides the next
// state and whether polling continues.
func (m *StateMachine) handleProcessLocked(p CheckoutProcess) {
	m.process = &p
	if len(p.Fulfillments) > 0 {
		fulfillments := append([]Fulfillment(nil), p.Fulfillments...)
		m.queueEmitLocked(func() {
			if m.opts.Dispatcher != nil {
				m.opts.Dispatcher.Emit(events.TopicFulfillmentsUpdated, fulfillments)
			}
		})
	}

	if p.Aborted {
		if p.AnyFulfillmentFailed() {
			m.setStateLocked(StatePaymentProcessingError, true)
		} else {
			m.setStateLocked(StatePaymentAborted, true)
		}
		m.stopPollingLocked()
		return
	}

	if !m.approved && p.PaymentState == PaymentStatePending && p.HasPendingChecks() {
		m.setStateLocked(waitStateFor(p), true)
		m.pollAgainLocked()
		return
	}

	if p.AuthorizePaymentLink != "" && !m.authRequested {
		m.authRequested = true
		m.setStateLocked(StateRequestPaymentAuthToken, true)
		epoch := m.epoch
		opCtx := m.opCtx
		m.queueEmitLocked(func() {
			go m.fetchAuthToken(opCtx, epoch, p)
		})
		return
	}

	switch p.PaymentState {
	case PaymentStateSuccessful:
		if p.ExitToken != nil && p.ExitToken.Value == "" {
			// Token expected but not issued yet; stay in the loop.
			m.pollAgainLocked()
			return
		}
		m.approveLocked()
		if p.AnyFulfillmentFailed() {
			// The payment went through but a fulfillment did not; this needs
			// manual reconciliation, not a silent approval.
			m.setStateLocked(StatePaymentProcessingError, true)
			m.stopPollingLocked()
			return
		}
		if !p.AllFulfillmentsClosed() {
			m.pollAgainLocked()
			return
		}
		m.stopPollingLocked()
	case PaymentStatePending, PaymentStateUnauthorized:
		if check, ok := p.FailedCheck(); ok {
			if check.Type == CheckMinAge {
				m.setStateLocked(StateDeniedTooYoung, true)
			} else {
				m.setStateLocked(StateDeniedBySupervisor, true)
			}
			m.stopPollingLocked()
			return
		}
		if p.AnyFulfillmentFailed() {
			m.setStateLocked(StatePaymentProcessingError, true)
			m.stopPollingLocked()
			return
		}
		m.pollAgainLocked()
	case PaymentStateProcessing:
		m.setStateLocked(StatePaymentProcessing, true)
		m.pollAgainLocked()
	case PaymentStateFailed:
		if p.FailureCause == FailureCauseTerminalAbort {
			m.setStateLocked(StatePaymentAborted, true)
		} else {
			m.setStateLocked(StateDeniedByPaymentProvider, true)
		}
		m.stopPollingLocked()
	default:
		m.pollAgainLocked()
	}
}

// waitStateFor maps the routing target onto the matching wait state. A
// pending age check that the app itself must perform takes precedence.
func waitStateFor(p CheckoutProcess) State {
	for _, c := range p.Checks {
		if c.Type == CheckMinAge && c.PerformedBy == "app" && c.State == CheckPending {
			return StateRequestVerifyAge
		}
	}
	switch p.RoutingTarget {
	case RoutingSupervisor:
		return StateWaitForSupervisor
	case RoutingGatekeeper:
		return StateWaitForGatekeeper
	default:
		return StateWaitForApproval
	}
}

func (m *StateMachine) fetchAuthToken(opCtx context.Context, epoch int, p CheckoutProcess) {
	if m.opts.Tokens == nil {
		m.onAuthToken(epoch, errors.New("checkout: no token provider configured"))
		return
	}
	token, err := m.opts.Tokens.PaymentOriginToken(opCtx, p)
	if err == nil {
		err = m.opts.Api.AuthorizePayment(opCtx, p, token)
	}
	m.onAuthToken(epoch, err)
}

func (m *StateMachine) onAuthToken(epoch int, err error) {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	if err != nil {
		m.opts.Logger.Warn().Err(err).Msg("payment_authorization_failed")
		m.setStateLocked(StatePaymentProcessingError, true)
		m.stopPollingLocked()
		m.mu.Unlock()
		m.flush()
		return
	}
	// Authorization submitted; re-enter the poll loop.
	m.setStateLocked(StatePaymentProcessing, true)
	m.pollAgainLocked()
	m.mu.Unlock()
	m.flush()
}

func (m *StateMachine) pollAgainLocked() {
	epoch := m.epoch
	m.poller.Schedule(func() { m.pollTick(epoch) })
}

func (m *StateMachine) stopPollingLocked() {
	m.poller.Stop()
}

func (m *StateMachine) pollTick(epoch int) {
	m.mu.Lock()
	if epoch != m.epoch || m.process == nil {
		m.mu.Unlock()
		return
	}
	process := *m.process
	opCtx := m.opCtx
	m.mu.Unlock()

	next, err := m.opts.Api.UpdatePaymentProcess(opCtx, process)

	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	if err != nil {
		if obs.CheckoutPollTotal != nil {
			obs.CheckoutPollTotal.WithLabelValues("error").Inc()
		}
		// Transient poll failures keep the loop alive; the process is
		// still owned by the backend.
		m.opts.Logger.Debug().Err(err).Msg("poll_failed")
		m.pollAgainLocked()
		m.mu.Unlock()
		m.flush()
		return
	}
	if obs.CheckoutPollTotal != nil {
		obs.CheckoutPollTotal.WithLabelValues("ok").Inc()
	}
	m.handleProcessLocked(next)
	m.mu.Unlock()
	m.flush()
}

// Abort cancels the attempt. It is idempotent and a no-op in terminal or
// approved states. The local state only flips after the backend
// acknowledged the abort; a refused abort surfaces as abort-failed without
// rolling back the process.
func (m *StateMachine) Abort(ctx context.Context) error {
	return m.abort(ctx, false)
}

// AbortSilently aborts without emitting a state-change notification, for
// process teardown.
func (m *StateMachine) AbortSilently(ctx context.Context) error {
	return m.abort(ctx, true)
}

func (m *StateMachine) abort(ctx context.Context, silent bool) error {
	m.mu.Lock()
	if m.state.IsTerminal() || m.approved {
		m.mu.Unlock()
		return nil
	}
	process := m.process
	// Cancelling the op context and the pending tick here, before the
	// abort call, guarantees no late response can race the transition.
	opCtx, epoch := m.beginOpLocked(ctx)
	m.stopPollingLocked()
	if process == nil {
		m.setStateLocked(StatePaymentAborted, !silent)
		m.mu.Unlock()
		m.flush()
		return nil
	}
	p := *process
	m.mu.Unlock()
	m.flush()

	go func() {
		err := m.opts.Api.Abort(opCtx, p)
		m.onAbortResult(epoch, err, silent)
	}()
	return nil
}

func (m *StateMachine) onAbortResult(epoch int, err error, silent bool) {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	if err != nil {
		m.opts.Logger.Warn().Err(err).Msg("abort_failed")
		m.setStateLocked(StatePaymentAbortFailed, !silent)
	} else {
		m.setStateLocked(StatePaymentAborted, !silent)
	}
	m.mu.Unlock()
	m.flush()
}

// Reset tears the machine down to StateNone without backend interaction.
func (m *StateMachine) Reset() {
	m.mu.Lock()
	m.beginOpLocked(context.Background())
	m.stopPollingLocked()
	m.resetAttemptLocked()
	m.state = StateNone
	m.mu.Unlock()
	m.flush()
}

// approveLocked performs the idempotent approval side effects: redeemed
// coupon computation, cart backup and invalidation. Re-entering while
// already approved is a no-op because none of these may run twice.
func (m *StateMachine) approveLocked() {
	if m.approved {
		return
	}
	m.approved = true
	if m.signedInfo != nil && m.opts.Coupons != nil {
		for _, line := range m.signedInfo.LineItems {
			if line.Type != cart.LineItemCoupon || line.CouponID == "" {
				continue
			}
			if coupon, ok := m.opts.Coupons.CouponByID(line.CouponID); ok {
				m.redeemed = append(m.redeemed, coupon)
			}
		}
	}
	m.setStateLocked(StatePaymentApproved, true)
	m.queueEmitLocked(func() {
		m.opts.Session.Backup()
		m.opts.Session.Invalidate()
	})
}

// finalizeQueuedLocked reroutes a connectivity failure into the offline
// queue and finalizes the purchase locally with the fallback method.
func (m *StateMachine) finalizeQueuedLocked(bc BackendCart) {
	saved := SavedCart{Cart: bc, FinalizedAt: m.opts.Now()}
	m.method = m.opts.FallbackMethod
	m.queueEmitLocked(func() {
		m.opts.Queue.Enqueue(saved)
		if m.opts.Dispatcher != nil {
			m.opts.Dispatcher.Emit(events.TopicCheckoutQueued, saved)
		}
	})
	m.approveLocked()
}

func (m *StateMachine) resetAttemptLocked() {
	m.signedInfo = nil
	m.process = nil
	m.idempotencyID = ""
	m.method = ""
	m.credentials = nil
	m.authRequested = false
	m.approved = false
	m.redeemed = nil
}

// beginOpLocked cancels any in-flight call, bumps the epoch so stale
// responses are discarded, and derives a fresh detached op context.
func (m *StateMachine) beginOpLocked(ctx context.Context) (context.Context, int) {
	if m.cancel != nil {
		m.cancel()
	}
	opCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.opCtx = opCtx
	m.cancel = cancel
	m.epoch++
	return opCtx, m.epoch
}

func (m *StateMachine) setStateLocked(to State, notify bool) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.opts.Logger.Info().Str("from", from.String()).Str("to", to.String()).Msg("checkout_transition")
	if obs.CheckoutTransitionsTotal != nil {
		obs.CheckoutTransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
	}
	if to.IsTerminal() && !m.startedAt.IsZero() && obs.CheckoutDuration != nil {
		obs.CheckoutDuration.WithLabelValues(to.String()).Observe(m.opts.Now().Sub(m.startedAt).Seconds())
	}
	if notify && m.opts.Dispatcher != nil {
		change := StateChange{From: from, To: to}
		m.queueEmitLocked(func() {
			m.opts.Dispatcher.Emit(events.TopicCheckoutState, change)
		})
	}
}

func (m *StateMachine) queueEmitLocked(fn func()) {
	m.emits = append(m.emits, fn)
}

// flush runs queued emissions outside the lock, in queueing order.
func (m *StateMachine) flush() {
	for {
		m.mu.Lock()
		if len(m.emits) == 0 {
			m.mu.Unlock()
			return
		}
		fn := m.emits[0]
		m.emits = m.emits[1:]
		m.mu.Unlock()
		fn()
	}
}

func priceOf(info SignedCheckoutInfo) *int64 {
	p := info.Price
	return &p
}
