package cart

import (
	"github.com/google/uuid"

	"github.com/shopkit/selfscan/internal/pricing"
)

// ProductType categorises catalog products for merge and pricing decisions.
type ProductType int

const (
	// TypeArticle is a plain shelf article.
	TypeArticle ProductType = iota
	// TypePreWeighed is weighed and labelled by the shop.
	TypePreWeighed
	// TypeUserWeighed is weighed by the customer at a scale.
	TypeUserWeighed
	// TypeDepositReturnVoucher credits returned deposit.
	TypeDepositReturnVoucher
)

// Product is the catalog view the cart needs. Values are supplied by the
// injected product lookup and never mutated here.
type Product struct {
	SKU           string        `json:"sku"`
	Name          string        `json:"name"`
	Type          ProductType   `json:"type"`
	ReferenceUnit pricing.Unit  `json:"referenceUnit"`
	ListPrice     pricing.Money `json:"listPrice"`
	CardPrice     pricing.Money `json:"cardPrice,omitempty"`
	DepositPrice  pricing.Money `json:"depositPrice,omitempty"`
}

// UnitPrice resolves the price per unit, preferring the customer-card price
// when the session carries a customer card.
func (p *Product) UnitPrice(hasCustomerCard bool) pricing.Money {
	if hasCustomerCard && p.CardPrice > 0 {
		return p.CardPrice
	}
	return p.ListPrice
}

// ScannedCode carries the decoded barcode a product item was created from.
type ScannedCode struct {
	Code              string        `json:"code"`
	Template          string        `json:"template,omitempty"`
	EmbeddedPrice     pricing.Money `json:"embeddedPrice,omitempty"`
	EmbeddedWeight    int           `json:"embeddedWeight,omitempty"`
	EmbeddedUnits     int           `json:"embeddedUnits,omitempty"`
	SpecifiedQuantity int           `json:"specifiedQuantity,omitempty"`
}

// HasEmbeddedData reports whether the code carries weight, price or unit
// payload, which pins the item to exactly this scan.
func (c *ScannedCode) HasEmbeddedData() bool {
	if c == nil {
		return false
	}
	return c.EmbeddedPrice > 0 || c.EmbeddedWeight > 0 || c.EmbeddedUnits > 0
}

// Coupon is a redeemable promotion from the project's coupon catalog.
type Coupon struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
	Code string `json:"code,omitempty"`
}

// LineItemType classifies line items the backend adds to a priced cart.
type LineItemType string

const (
	LineItemDefault  LineItemType = "default"
	LineItemDeposit  LineItemType = "deposit"
	LineItemDiscount LineItemType = "discount"
	LineItemCoupon   LineItemType = "coupon"
	LineItemGiveaway LineItemType = "giveaway"
)

// LineItem is a backend-priced line returned inside a signed checkout info.
type LineItem struct {
	ID         string        `json:"id"`
	RefersTo   string        `json:"refersTo,omitempty"`
	Type       LineItemType  `json:"type"`
	SKU        string        `json:"sku,omitempty"`
	Name       string        `json:"name,omitempty"`
	Amount     int           `json:"amount"`
	Weight     int           `json:"weight,omitempty"`
	Units      int           `json:"units,omitempty"`
	Price      pricing.Money `json:"price"`
	TotalPrice pricing.Money `json:"totalPrice"`
	CouponID   string        `json:"couponID,omitempty"`
}

// Violation reports a backend rule violation, usually about a coupon.
type Violation struct {
	Type     string `json:"type"`
	RefersTo string `json:"refersTo"`
	Message  string `json:"message,omitempty"`
}

// ItemKind tags the cart item union.
type ItemKind int

const (
	// KindProduct is a scanned product with a quantity.
	KindProduct ItemKind = iota
	// KindCoupon is a redeemable coupon added by the customer.
	KindCoupon
	// KindLineItem wraps a backend line item the customer cannot edit.
	KindLineItem
)

// Item is one cart entry. Exactly the fields for its kind are set. Items are
// owned by their session and never shared across sessions.
type Item struct {
	ID       string       `json:"id"`
	Kind     ItemKind     `json:"kind"`
	Product  *Product     `json:"product,omitempty"`
	Scanned  *ScannedCode `json:"scannedCode,omitempty"`
	Quantity int          `json:"quantity,omitempty"`
	Coupon   *Coupon      `json:"coupon,omitempty"`
	Line     *LineItem    `json:"lineItem,omitempty"`
	// Bound is the backend line item confirming this product item's price.
	Bound *LineItem `json:"boundLineItem,omitempty"`
}

// NewProductItem creates a product entry from a scan.
func NewProductItem(product *Product, code *ScannedCode, quantity int) *Item {
	if quantity <= 0 {
		quantity = 1
	}
	if code != nil && code.SpecifiedQuantity > 0 {
		quantity = code.SpecifiedQuantity
	}
	return &Item{
		ID:       uuid.NewString(),
		Kind:     KindProduct,
		Product:  product,
		Scanned:  code,
		Quantity: quantity,
	}
}

// NewCouponItem creates a coupon entry.
func NewCouponItem(coupon *Coupon, code *ScannedCode) *Item {
	return &Item{
		ID:      uuid.NewString(),
		Kind:    KindCoupon,
		Coupon:  coupon,
		Scanned: code,
	}
}

// NewLineItem wraps a backend-generated line item.
func NewLineItem(line *LineItem) *Item {
	return &Item{
		ID:   uuid.NewString(),
		Kind: KindLineItem,
		Line: line,
	}
}

// PricingLine converts the item into the engine's view. hasCustomerCard
// selects card pricing for product items.
func (it *Item) PricingLine(hasCustomerCard bool, rounding pricing.RoundingMode) pricing.Line {
	switch it.Kind {
	case KindLineItem:
		total := it.Line.TotalPrice
		return pricing.Line{
			Quantity:      it.Line.Amount,
			BackendPrice:  &total,
			BackendAmount: it.Line.Amount,
		}
	case KindCoupon:
		return pricing.Line{}
	}
	line := pricing.Line{
		Unit:        it.Product.ReferenceUnit,
		Quantity:    it.Quantity,
		UnitPrice:   it.Product.UnitPrice(hasCustomerCard),
		DepositUnit: it.Product.DepositPrice,
		Rounding:    rounding,
	}
	if it.Scanned != nil {
		line.EmbeddedPrice = it.Scanned.EmbeddedPrice
		line.EmbeddedWeight = it.Scanned.EmbeddedWeight
		line.EmbeddedQuantity = it.Scanned.EmbeddedUnits
	}
	if it.Bound != nil {
		total := it.Bound.TotalPrice
		line.BackendPrice = &total
		line.BackendAmount = it.Bound.Amount
	}
	return line
}

// TotalPrice is the line total for this item.
func (it *Item) TotalPrice(hasCustomerCard bool, rounding pricing.RoundingMode) pricing.Money {
	return it.PricingLine(hasCustomerCard, rounding).TotalPrice()
}

func (it *Item) clone() *Item {
	if it == nil {
		return nil
	}
	dup := *it
	if it.Product != nil {
		p := *it.Product
		dup.Product = &p
	}
	if it.Scanned != nil {
		c := *it.Scanned
		dup.Scanned = &c
	}
	if it.Coupon != nil {
		c := *it.Coupon
		dup.Coupon = &c
	}
	if it.Line != nil {
		l := *it.Line
		dup.Line = &l
	}
	if it.Bound != nil {
		b := *it.Bound
		dup.Bound = &b
	}
	return &dup
}
