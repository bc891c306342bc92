package cart

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shopkit/selfscan/internal/events"
	"github.com/shopkit/selfscan/internal/obs"
	"github.com/shopkit/selfscan/internal/pricing"
)

// ErrIndexOutOfRange is returned for item positions outside the cart.
var ErrIndexOutOfRange = errors.New("cart: index out of range")

// ErrItemNotFound indicates the referenced item is not in the cart.
var ErrItemNotFound = errors.New("cart: item not found")

// ErrInvalidQuantity is returned for negative quantities.
var ErrInvalidQuantity = errors.New("cart: invalid quantity")

// Taxation captures whether consumption is in-house or takeaway.
type Taxation int

const (
	TaxationUndecided Taxation = iota
	TaxationInHouse
	TaxationTakeaway
)

// IdentityProvider supplies the customer identifiers the cart and checkout
// attach to backend requests.
type IdentityProvider interface {
	CustomerCardID() string
	ClientID() string
	AppUserID() string
}

// Options configures a session. Zero values fall back to safe defaults.
type Options struct {
	Shop             string
	MaxAge           time.Duration
	BackupMaxAge     time.Duration
	MaxCheckoutLimit pricing.Money
	MaxOnlineLimit   pricing.Money
	Rounding         pricing.RoundingMode
	Policy           MergePolicy
	Identity         IdentityProvider
	Dispatcher       *events.Dispatcher
	Logger           zerolog.Logger
	Now              func() time.Time
}

// Session is the authoritative in-memory shopping cart. All mutation goes
// through its methods; the uuid is regenerated on every mutating call and
// doubles as the checkout idempotency key.
type Session struct {
	mu   sync.Mutex
	opts Options

	id             string
	uuid           string
	items          []*Item
	modCount       int
	addCount       int
	onlineTotal    *pricing.Money
	backendDeposit pricing.Money
	taxation       Taxation

	backup   *State
	backupAt time.Time

	violations     []Violation
	seenViolations map[string]bool
	pendingLimits  []limitEmission

	lastModified time.Time

	raisedCheckout bool
	raisedOnline   bool
}

// NewSession creates an empty session.
func NewSession(opts Options) *Session {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 4 * time.Hour
	}
	if opts.BackupMaxAge <= 0 {
		opts.BackupMaxAge = 5 * time.Minute
	}
	return &Session{
		opts:           opts,
		id:             uuid.NewString(),
		uuid:           uuid.NewString(),
		seenViolations: make(map[string]bool),
		lastModified:   opts.Now(),
	}
}

// ID returns the stable session identifier.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// UUID returns the current idempotency token. It changes on every mutation.
func (s *Session) UUID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uuid
}

// Shop returns the shop this session belongs to.
func (s *Session) Shop() string {
	return s.opts.Shop
}

// ModCount returns the mutation counter.
func (s *Session) ModCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modCount
}

// AddCount returns the monotonic add counter.
func (s *Session) AddCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addCount
}

// Len returns the number of items in the cart.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Items returns deep copies of the cart entries in display order.
func (s *Session) Items() []*Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Item, len(s.items))
	for i, it := range s.items {
		out[i] = it.clone()
	}
	return out
}

// ItemAt returns a copy of the item at the given index.
func (s *Session) ItemAt(index int) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.items) {
		return nil, ErrIndexOutOfRange
	}
	return s.items[index].clone(), nil
}

// Taxation returns the current taxation choice.
func (s *Session) Taxation() Taxation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.taxation
}

// SetTaxation records the in-house/takeaway decision.
func (s *Session) SetTaxation(t Taxation) {
	s.mu.Lock()
	s.taxation = t
	s.touchLocked("set_taxation")
	state := s.stateLocked()
	s.mu.Unlock()
	s.emitChanged(state)
}

// Add prepends the item, applying the merge policy.
func (s *Session) Add(item *Item) {
	_ = s.Insert(item, 0)
}

// Insert places the item at the given index. A mergeable product item
// absorbs the quantity of a matching existing entry, which is removed.
// Coupon items are kept after product items in a stable order.
func (s *Session) Insert(item *Item, index int) error {
	if item == nil {
		return ErrItemNotFound
	}
	s.mu.Lock()
	if index < 0 || index > len(s.items) {
		s.mu.Unlock()
		return ErrIndexOutOfRange
	}

	if s.isMergeableLocked(item) {
		if pos := s.mergeCandidateLocked(item); pos >= 0 {
			existing := s.items[pos]
			item.Quantity += existing.Quantity
			s.items = append(s.items[:pos], s.items[pos+1:]...)
			if pos < index {
				index--
			}
		}
	}

	s.items = append(s.items, nil)
	copy(s.items[index+1:], s.items[index:])
	s.items[index] = item
	s.sortCouponsLastLocked()

	s.addCount++
	s.touchLocked("insert")
	state := s.stateLocked()
	s.mu.Unlock()
	s.emitChanged(state)
	return nil
}

// Remove deletes the item at the given index.
func (s *Session) Remove(index int) error {
	s.mu.Lock()
	if index < 0 || index >= len(s.items) {
		s.mu.Unlock()
		return ErrIndexOutOfRange
	}
	s.items = append(s.items[:index], s.items[index+1:]...)
	s.touchLocked("remove")
	state := s.stateLocked()
	s.mu.Unlock()
	s.emitChanged(state)
	return nil
}

// SetQuantity updates the quantity of the product item with the given id.
// A quantity of zero removes the item.
func (s *Session) SetQuantity(itemID string, quantity int) error {
	if quantity < 0 {
		return ErrInvalidQuantity
	}
	s.mu.Lock()
	idx := -1
	for i, it := range s.items {
		if it.ID == itemID && it.Kind == KindProduct {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return ErrItemNotFound
	}
	if quantity == 0 {
		s.items = append(s.items[:idx], s.items[idx+1:]...)
		s.touchLocked("remove")
	} else {
		s.items[idx].Quantity = quantity
		s.touchLocked("set_quantity")
	}
	state := s.stateLocked()
	s.mu.Unlock()
	s.emitChanged(state)
	return nil
}

// Invalidate discards the session contents and issues fresh identifiers.
// Called after successful payment and when the session exceeds its max age.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.id = uuid.NewString()
	s.items = nil
	s.onlineTotal = nil
	s.backendDeposit = 0
	s.taxation = TaxationUndecided
	s.violations = nil
	s.seenViolations = make(map[string]bool)
	s.raisedCheckout = false
	s.raisedOnline = false
	s.touchLocked("invalidate")
	state := s.stateLocked()
	s.mu.Unlock()
	if s.opts.Dispatcher != nil {
		s.opts.Dispatcher.Emit(events.TopicCartInvalidated, state)
	}
	s.emitChanged(state)
}

// CheckExpired invalidates the session when it has not been touched within
// the configured max age. It reports whether invalidation happened and is
// intended to be called on externally visible triggers such as app
// foreground.
func (s *Session) CheckExpired() bool {
	s.mu.Lock()
	expired := s.opts.Now().After(s.lastModified.Add(s.opts.MaxAge))
	s.mu.Unlock()
	if expired {
		s.opts.Logger.Info().Str("session", s.ID()).Msg("cart_session_expired")
		s.Invalidate()
	}
	return expired
}

// Summary computes the current totals.
func (s *Session) Summary() pricing.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaryLocked()
}

// TotalPrice returns the authoritative cart total.
func (s *Session) TotalPrice() pricing.Money {
	return s.Summary().Total
}

// TotalQuantity returns the displayed unit count.
func (s *Session) TotalQuantity() int {
	return s.Summary().Quantity
}

// OnlineTotal returns the backend-confirmed total, if any.
func (s *Session) OnlineTotal() *pricing.Money {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onlineTotal == nil {
		return nil
	}
	v := *s.onlineTotal
	return &v
}

// ApplyCheckoutInfo binds backend line items and the confirmed total to the
// cart. Lines referring to a product item confirm its price; deposit lines
// accumulate into the backend deposit channel; any other unreferenced line
// is appended as a non-editable entry.
func (s *Session) ApplyCheckoutInfo(lines []LineItem, onlineTotal *pricing.Money, violations []Violation) {
	s.mu.Lock()
	s.items = withoutBackendLines(s.items)
	s.backendDeposit = 0
	for _, it := range s.items {
		it.Bound = nil
	}
	for i := range lines {
		line := lines[i]
		if line.Type == LineItemDeposit {
			s.backendDeposit += line.TotalPrice
			continue
		}
		if bound := s.itemByIDLocked(line.RefersTo); bound != nil && bound.Kind == KindProduct {
			l := line
			bound.Bound = &l
			continue
		}
		l := line
		s.items = append(s.items, NewLineItem(&l))
	}
	if onlineTotal != nil {
		v := *onlineTotal
		s.onlineTotal = &v
	} else {
		s.onlineTotal = nil
	}
	s.touchLocked("apply_checkout_info")
	state := s.stateLocked()
	s.mu.Unlock()

	s.ApplyViolations(violations)
	s.emitChanged(state)
}

// ApplyViolations removes coupon items the backend rejected and queues one
// notification per refers-to key.
func (s *Session) ApplyViolations(violations []Violation) {
	if len(violations) == 0 {
		return
	}
	s.mu.Lock()
	var queued []Violation
	removed := false
	for _, v := range violations {
		if v.RefersTo == "" || s.seenViolations[v.RefersTo] {
			continue
		}
		s.seenViolations[v.RefersTo] = true
		s.violations = append(s.violations, v)
		queued = append(queued, v)
		for i, it := range s.items {
			if it.ID == v.RefersTo && it.Kind == KindCoupon {
				s.items = append(s.items[:i], s.items[i+1:]...)
				removed = true
				break
			}
		}
	}
	var state State
	if removed {
		s.touchLocked("violation_removed_coupon")
		state = s.stateLocked()
	}
	s.mu.Unlock()

	for _, v := range queued {
		if s.opts.Dispatcher != nil {
			s.opts.Dispatcher.Emit(events.TopicCartViolation, v)
		}
	}
	if removed {
		s.emitChanged(state)
	}
}

// PendingViolations returns queued violation notifications and clears them.
func (s *Session) PendingViolations() []Violation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.violations
	s.violations = nil
	return out
}

func (s *Session) summaryLocked() pricing.Summary {
	hasCard := s.hasCustomerCardLocked()
	lines := make([]pricing.Line, 0, len(s.items))
	for _, it := range s.items {
		if it.Kind == KindCoupon {
			continue
		}
		lines = append(lines, it.PricingLine(hasCard, s.opts.Rounding))
	}
	return pricing.Compute(lines, s.backendDeposit, s.onlineTotal)
}

func (s *Session) hasCustomerCardLocked() bool {
	return s.opts.Identity != nil && s.opts.Identity.CustomerCardID() != ""
}

func (s *Session) isMergeableLocked(item *Item) bool {
	def := defaultMergeable(item, s.hasCustomerCardLocked())
	if s.opts.Policy != nil {
		return s.opts.Policy.IsMergeable(item, def)
	}
	return def
}

func (s *Session) mergeCandidateLocked(item *Item) int {
	for i, existing := range s.items {
		if existing.Kind != KindProduct || existing.Product == nil {
			continue
		}
		if existing.Product.SKU != item.Product.SKU {
			continue
		}
		if !s.isMergeableLocked(existing) {
			continue
		}
		return i
	}
	return -1
}

func (s *Session) sortCouponsLastLocked() {
	products := make([]*Item, 0, len(s.items))
	coupons := make([]*Item, 0)
	for _, it := range s.items {
		if it.Kind == KindCoupon {
			coupons = append(coupons, it)
			continue
		}
		products = append(products, it)
	}
	s.items = append(products, coupons...)
}

func (s *Session) itemByIDLocked(id string) *Item {
	if id == "" {
		return nil
	}
	for _, it := range s.items {
		if it.ID == id {
			return it
		}
	}
	return nil
}

// touchLocked performs the shared mutation bookkeeping: counter, fresh
// idempotency token, timestamp, limit edges, metrics.
func (s *Session) touchLocked(op string) {
	s.modCount++
	s.uuid = uuid.NewString()
	s.lastModified = s.opts.Now()
	if obs.CartMutationsTotal != nil {
		obs.CartMutationsTotal.WithLabelValues(op).Inc()
	}
	s.checkLimitsLocked()
}

// checkLimitsLocked flips the one-shot limit flags exactly on the crossing
// edge in either direction.
func (s *Session) checkLimitsLocked() {
	total := s.summaryLocked().Total
	s.checkLimitLocked(&s.raisedCheckout, s.opts.MaxCheckoutLimit, total, "checkout")
	s.checkLimitLocked(&s.raisedOnline, s.opts.MaxOnlineLimit, total, "online_payment")
}

func (s *Session) checkLimitLocked(raised *bool, limit, total pricing.Money, kind string) {
	if limit <= 0 {
		return
	}
	over := total > limit
	if over == *raised {
		return
	}
	*raised = over
	topic := events.TopicCartLimitCleared
	if over {
		topic = events.TopicCartLimitRaised
	}
	s.pendingLimits = append(s.pendingLimits, limitEmission{
		topic: topic,
		note:  LimitNotification{Kind: kind, Limit: limit, Total: total},
	})
}

// LimitNotification reports a checkout limit crossing.
type LimitNotification struct {
	Kind  string
	Limit pricing.Money
	Total pricing.Money
}

type limitEmission struct {
	topic string
	note  LimitNotification
}

// emitChanged delivers queued limit crossings and the change event. It runs
// without the lock so handlers may call back into the session.
func (s *Session) emitChanged(state State) {
	s.mu.Lock()
	pending := s.pendingLimits
	s.pendingLimits = nil
	s.mu.Unlock()
	if s.opts.Dispatcher == nil {
		return
	}
	for _, p := range pending {
		s.opts.Dispatcher.Emit(p.topic, p.note)
	}
	s.opts.Dispatcher.Emit(events.TopicCartChanged, state)
}

func withoutBackendLines(items []*Item) []*Item {
	out := items[:0]
	for _, it := range items {
		if it.Kind == KindLineItem {
			continue
		}
		out = append(out, it)
	}
	return out
}
