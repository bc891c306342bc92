package cart_test

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/shopkit/selfscan/internal/cart"
	"github.com/shopkit/selfscan/internal/events"
	"github.com/shopkit/selfscan/internal/pricing"
)

type testIdentity struct {
	card string
}

func (t testIdentity) CustomerCardID() string { return t.card }
func (t testIdentity) ClientID() string       { return "client-1" }
func (t testIdentity) AppUserID() string      { return "" }

func newTestSession(t *testing.T, opts cart.Options) *cart.Session {
	t.Helper()
	if opts.Shop == "" {
		opts.Shop = "shop-1"
	}
	return cart.NewSession(opts)
}

func article(sku string, price pricing.Money) *cart.Item {
	return cart.NewProductItem(&cart.Product{
		SKU:       sku,
		Name:      sku,
		Type:      cart.TypeArticle,
		ListPrice: price,
	}, nil, 1)
}

func TestAddMergesSameArticle(t *testing.T) {
	s := newTestSession(t, cart.Options{})
	s.Add(article("beer", 199))
	s.Add(article("beer", 199))
	require.Equal(t, 1, s.Len())
	it, err := s.ItemAt(0)
	require.NoError(t, err)
	require.Equal(t, 2, it.Quantity)
	// adds still count individually
	require.Equal(t, 2, s.AddCount())
}

func TestAddDoesNotMergeWeighedGoods(t *testing.T) {
	s := newTestSession(t, cart.Options{})
	grapes := func() *cart.Item {
		return cart.NewProductItem(&cart.Product{
			SKU:           "grapes",
			Name:          "grapes",
			Type:          cart.TypeUserWeighed,
			ReferenceUnit: pricing.UnitKilogram,
			ListPrice:     299,
		}, &cart.ScannedCode{Code: "2000000", EmbeddedWeight: 500}, 1)
	}
	s.Add(grapes())
	s.Add(grapes())
	require.Equal(t, 2, s.Len())
}

func TestAddDoesNotMergePieceUnitArticles(t *testing.T) {
	s := newTestSession(t, cart.Options{})
	eggs := func() *cart.Item {
		return cart.NewProductItem(&cart.Product{
			SKU:           "eggs",
			Name:          "eggs",
			Type:          cart.TypeArticle,
			ReferenceUnit: pricing.UnitPiece,
			ListPrice:     35,
		}, nil, 1)
	}
	s.Add(eggs())
	s.Add(eggs())
	require.Equal(t, 2, s.Len())
}

func TestMergePolicyOverride(t *testing.T) {
	s := newTestSession(t, cart.Options{
		Policy: cart.MergePolicyFunc(func(item *cart.Item, def bool) bool { return false }),
	})
	s.Add(article("beer", 199))
	s.Add(article("beer", 199))
	require.Equal(t, 2, s.Len())
}

func TestEveryMutationRotatesUUID(t *testing.T) {
	s := newTestSession(t, cart.Options{})
	seen := map[string]bool{s.UUID(): true}
	check := func(op string) {
		u := s.UUID()
		if seen[u] {
			t.Fatalf("%s did not rotate the uuid", op)
		}
		seen[u] = true
	}

	item := article("beer", 199)
	s.Add(item)
	check("add")
	require.NoError(t, s.SetQuantity(item.ID, 3))
	check("set_quantity")
	s.SetTaxation(cart.TaxationTakeaway)
	check("set_taxation")
	require.NoError(t, s.Remove(0))
	check("remove")
	s.Invalidate()
	check("invalidate")
}

func TestSetQuantityZeroRemovesNegativeRejected(t *testing.T) {
	s := newTestSession(t, cart.Options{})
	item := article("beer", 199)
	s.Add(item)

	require.ErrorIs(t, s.SetQuantity(item.ID, -1), cart.ErrInvalidQuantity)
	require.Equal(t, 1, s.Len())

	require.NoError(t, s.SetQuantity(item.ID, 0))
	require.Equal(t, 0, s.Len())

	require.ErrorIs(t, s.SetQuantity("missing", 2), cart.ErrItemNotFound)
}

func TestCouponsSortedLast(t *testing.T) {
	s := newTestSession(t, cart.Options{})
	s.Add(cart.NewCouponItem(&cart.Coupon{ID: "c1", Name: "10% off"}, nil))
	s.Add(article("beer", 199))
	s.Add(article("wine", 599))

	items := s.Items()
	require.Equal(t, 3, len(items))
	require.Equal(t, cart.KindProduct, items[0].Kind)
	require.Equal(t, cart.KindProduct, items[1].Kind)
	require.Equal(t, cart.KindCoupon, items[2].Kind)
}

func TestSessionExpiry(t *testing.T) {
	now := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	s := newTestSession(t, cart.Options{
		MaxAge: 4 * time.Hour,
		Now:    func() time.Time { return now },
	})
	s.Add(article("beer", 199))
	oldID := s.ID()

	now = now.Add(3 * time.Hour)
	require.False(t, s.CheckExpired())
	require.Equal(t, 1, s.Len())

	now = now.Add(2 * time.Hour)
	require.True(t, s.CheckExpired())
	require.Equal(t, 0, s.Len())
	require.NotEqual(t, oldID, s.ID())
}

func TestCheckoutLimitEdgeTriggered(t *testing.T) {
	dispatcher := events.NewDispatcher(zerolog.Nop())
	var raised, cleared int
	dispatcher.Subscribe(events.TopicCartLimitRaised, func(events.Event) { raised++ })
	dispatcher.Subscribe(events.TopicCartLimitCleared, func(events.Event) { cleared++ })

	s := newTestSession(t, cart.Options{
		MaxCheckoutLimit: 500,
		Dispatcher:       dispatcher,
	})
	s.Add(article("beer", 199)) // 199
	require.Equal(t, 0, raised)

	s.Add(article("wine", 599)) // 798, crosses
	require.Equal(t, 1, raised)

	s.Add(article("bread", 100)) // still over, no re-fire
	require.Equal(t, 1, raised)

	require.NoError(t, s.Remove(0)) // drops below
	require.NoError(t, s.Remove(0))
	require.Equal(t, 1, cleared)
}

func TestApplyCheckoutInfoBindsLines(t *testing.T) {
	s := newTestSession(t, cart.Options{})
	item := article("beer", 199)
	item.Quantity = 3
	s.Add(item)

	s.ApplyCheckoutInfo([]cart.LineItem{
		{ID: "l1", RefersTo: item.ID, Type: cart.LineItemDefault, SKU: "beer", Amount: 3, TotalPrice: 597},
		{ID: "l2", RefersTo: item.ID, Type: cart.LineItemDeposit, Amount: 3, TotalPrice: 75},
		{ID: "l3", Type: cart.LineItemDiscount, Name: "promo", Amount: 1, TotalPrice: -50},
	}, nil, nil)

	// deposit lines never become visible entries
	require.Equal(t, 2, s.Len())
	sum := s.Summary()
	require.Equal(t, pricing.Money(597-50), sum.ItemTotal)
	require.Equal(t, pricing.Money(75), sum.DepositTotal)
	require.Equal(t, pricing.Money(622), sum.Total)
}

func TestApplyCheckoutInfoReplacesPreviousLines(t *testing.T) {
	s := newTestSession(t, cart.Options{})
	item := article("beer", 199)
	s.Add(item)

	s.ApplyCheckoutInfo([]cart.LineItem{
		{ID: "l1", Type: cart.LineItemDiscount, Name: "promo", Amount: 1, TotalPrice: -50},
	}, nil, nil)
	require.Equal(t, 2, s.Len())

	// a second application must not stack backend lines
	s.ApplyCheckoutInfo([]cart.LineItem{
		{ID: "l2", Type: cart.LineItemDiscount, Name: "promo2", Amount: 1, TotalPrice: -30},
	}, nil, nil)
	require.Equal(t, 2, s.Len())
	sum := s.Summary()
	require.Equal(t, pricing.Money(199-30), sum.Total)
}

func TestApplyCheckoutInfoOnlineTotal(t *testing.T) {
	s := newTestSession(t, cart.Options{})
	s.Add(article("beer", 199))
	online := pricing.Money(150)
	s.ApplyCheckoutInfo(nil, &online, nil)
	require.Equal(t, pricing.Money(150), s.TotalPrice())
}

func TestViolationRemovesCouponOnce(t *testing.T) {
	dispatcher := events.NewDispatcher(zerolog.Nop())
	var notified int
	dispatcher.Subscribe(events.TopicCartViolation, func(events.Event) { notified++ })

	s := newTestSession(t, cart.Options{Dispatcher: dispatcher})
	coupon := cart.NewCouponItem(&cart.Coupon{ID: "c1", Name: "expired promo"}, nil)
	s.Add(article("beer", 199))
	s.Add(coupon)
	require.Equal(t, 2, s.Len())

	v := cart.Violation{Type: "coupon_invalid", RefersTo: coupon.ID, Message: "coupon expired"}
	s.ApplyViolations([]cart.Violation{v})
	require.Equal(t, 1, s.Len())
	require.Equal(t, 1, notified)

	// applying the same violation again is silent
	s.ApplyViolations([]cart.Violation{v})
	require.Equal(t, 1, notified)
}

func TestCustomerCardPriceUsed(t *testing.T) {
	s := newTestSession(t, cart.Options{Identity: testIdentity{card: "card-7"}})
	s.Add(cart.NewProductItem(&cart.Product{
		SKU:       "beer",
		Name:      "beer",
		Type:      cart.TypeArticle,
		ListPrice: 199,
		CardPrice: 149,
	}, nil, 2))
	require.Equal(t, pricing.Money(298), s.TotalPrice())
}

func TestItemsReturnsCopies(t *testing.T) {
	s := newTestSession(t, cart.Options{})
	s.Add(article("beer", 199))
	items := s.Items()
	items[0].Quantity = 99
	it, err := s.ItemAt(0)
	require.NoError(t, err)
	require.Equal(t, 1, it.Quantity)
}

func TestRemoveOutOfRange(t *testing.T) {
	s := newTestSession(t, cart.Options{})
	require.ErrorIs(t, s.Remove(0), cart.ErrIndexOutOfRange)
}
