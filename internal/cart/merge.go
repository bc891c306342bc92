package cart

import "github.com/shopkit/selfscan/internal/pricing"

// MergePolicy decides whether a freshly scanned product item may be folded
// into an existing entry instead of occupying its own line. The default
// result is passed in so deployment-specific policies can override in either
// direction.
type MergePolicy interface {
	IsMergeable(item *Item, defaultResult bool) bool
}

// MergePolicyFunc adapts a function to the MergePolicy interface.
type MergePolicyFunc func(item *Item, defaultResult bool) bool

// IsMergeable implements MergePolicy.
func (f MergePolicyFunc) IsMergeable(item *Item, defaultResult bool) bool {
	return f(item, defaultResult)
}

// defaultMergeable applies the built-in rule: only a plain article without a
// coupon, with a non-zero price, no embedded code data and no code-specified
// quantity may merge. Piece-unit articles keep their own line; weighed goods
// are already excluded through the product type.
func defaultMergeable(item *Item, hasCustomerCard bool) bool {
	if item == nil || item.Kind != KindProduct || item.Product == nil {
		return false
	}
	if item.Coupon != nil {
		return false
	}
	if item.Product.Type != TypeArticle {
		return false
	}
	if item.Product.ReferenceUnit == pricing.UnitPiece {
		return false
	}
	if item.Product.UnitPrice(hasCustomerCard) == 0 {
		return false
	}
	if item.Scanned.HasEmbeddedData() {
		return false
	}
	if item.Scanned != nil && item.Scanned.SpecifiedQuantity > 0 {
		return false
	}
	return true
}
