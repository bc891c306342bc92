package checkout_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shopkit/selfscan/internal/cart"
	"github.com/shopkit/selfscan/internal/checkout"
)

func TestSnapshotBuildsWireCart(t *testing.T) {
	session := cart.NewSession(cart.Options{Shop: "shop-1"})
	session.Add(cart.NewProductItem(&cart.Product{
		SKU: "beer", Name: "beer", Type: cart.TypeArticle, ListPrice: 199,
	}, &cart.ScannedCode{Code: "4006381333931"}, 2))
	session.Add(cart.NewProductItem(&cart.Product{
		SKU: "grapes", Name: "grapes", Type: cart.TypeUserWeighed, ListPrice: 299,
	}, &cart.ScannedCode{Code: "2000000", EmbeddedWeight: 500}, 1))
	session.Add(cart.NewCouponItem(&cart.Coupon{ID: "c1", Name: "promo"}, nil))
	session.SetTaxation(cart.TaxationTakeaway)

	st := session.State()
	bc := checkout.Snapshot(st, nil)

	require.Equal(t, st.UUID, bc.Session)
	require.Equal(t, "shop-1", bc.ShopID)
	require.Equal(t, "takeaway", bc.Taxation)
	require.Len(t, bc.Items, 3)

	byCode := map[string]checkout.BackendCartItem{}
	for _, it := range bc.Items {
		byCode[it.ScannedCode+it.CouponID] = it
	}
	beer := byCode["4006381333931"]
	require.Equal(t, "beer", beer.SKU)
	require.Equal(t, 2, beer.Amount)
	require.Nil(t, beer.Weight)

	grapes := byCode["2000000"]
	require.NotNil(t, grapes.Weight)
	require.Equal(t, 500, *grapes.Weight)
	require.Equal(t, 1, grapes.Amount)

	coupon := byCode["c1"]
	require.Equal(t, "c1", coupon.CouponID)
}

func TestSnapshotCarriesIdentity(t *testing.T) {
	session := cart.NewSession(cart.Options{Shop: "shop-1"})
	bc := checkout.Snapshot(session.State(), testIdentity{})
	require.Equal(t, "client-1", bc.ClientID)
	require.Equal(t, "card-7", bc.CustomerCardID)
}

func TestFulfillmentClassification(t *testing.T) {
	require.True(t, checkout.FulfillmentAllocating.IsOpen())
	require.False(t, checkout.FulfillmentAllocating.IsClosed())
	require.True(t, checkout.FulfillmentProcessed.IsClosed())
	require.False(t, checkout.FulfillmentProcessed.IsFailure())
	require.True(t, checkout.FulfillmentAllocationTimedOut.IsFailure())
	require.True(t, checkout.FulfillmentAllocationTimedOut.IsClosed())
}

func TestProcessHelpers(t *testing.T) {
	p := checkout.CheckoutProcess{
		Checks: []checkout.Check{
			{Type: checkout.CheckSupervisor, State: checkout.CheckPostponed},
		},
		Fulfillments: []checkout.Fulfillment{
			{ID: "f1", State: checkout.FulfillmentProcessed},
			{ID: "f2", State: checkout.FulfillmentAllocating},
		},
	}
	require.True(t, p.HasPendingChecks())
	require.False(t, p.AllFulfillmentsClosed())
	require.False(t, p.AnyFulfillmentFailed())

	p.Fulfillments[1].State = checkout.FulfillmentFailed
	require.True(t, p.AllFulfillmentsClosed())
	require.True(t, p.AnyFulfillmentFailed())
}

func TestPaymentMethodClassification(t *testing.T) {
	require.True(t, checkout.MethodQRCodePOS.IsOffline())
	require.False(t, checkout.MethodGatekeeperTerminal.IsOffline())
	require.True(t, checkout.MethodCreditCard.RequiresCredentials())
	require.False(t, checkout.MethodQRCodePOS.RequiresCredentials())
}

type testIdentity struct{}

func (testIdentity) CustomerCardID() string { return "card-7" }
func (testIdentity) ClientID() string       { return "client-1" }
func (testIdentity) AppUserID() string      { return "" }
