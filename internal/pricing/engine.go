package pricing

import "math"

// Money represents a monetary value stored in minor units.
type Money = int64

// Unit describes what a product's unit price refers to.
type Unit string

const (
	// UnitPiece prices one piece.
	UnitPiece Unit = "piece"
	// UnitKilogram prices one kilogram; quantities arrive in grams.
	UnitKilogram Unit = "kg"
	// UnitGram prices one gram.
	UnitGram Unit = "g"
	// UnitPrice marks goods whose final price is embedded in the barcode.
	UnitPrice Unit = "price"
)

// IsWeighable reports whether the unit is sold by weight.
func (u Unit) IsWeighable() bool {
	return u == UnitKilogram || u == UnitGram
}

// RoundingMode selects how fractional weighed prices are settled.
type RoundingMode int

const (
	RoundHalfUp RoundingMode = iota
	RoundUp
	RoundDown
)

// Line is the pricing view of a single cart entry. The cart resolves list
// versus customer-card prices before building lines, so the engine only
// sees one unit price.
type Line struct {
	Unit      Unit
	Quantity  int
	UnitPrice Money
	// DepositUnit is the per-unit deposit tracked locally, 0 if none.
	DepositUnit Money
	// Values decoded from the scanned code, zero when absent.
	EmbeddedPrice    Money
	EmbeddedQuantity int
	EmbeddedWeight   int
	// BackendPrice is the authoritative total once a backend line item is
	// bound to this entry.
	BackendPrice  *Money
	BackendAmount int
	Rounding      RoundingMode
}

// Summary aggregates computed cart totals.
type Summary struct {
	ItemTotal    Money
	DepositTotal Money
	Total        Money
	Quantity     int
}

// EffectiveQuantity resolves the quantity used for pricing: the backend
// amount when a line item is bound, else the quantity embedded in the
// scanned code, else the stored quantity.
func (l Line) EffectiveQuantity() int {
	if l.BackendPrice != nil && l.BackendAmount > 0 {
		return l.BackendAmount
	}
	if l.EmbeddedQuantity > 0 {
		return l.EmbeddedQuantity
	}
	return l.Quantity
}

// TotalPrice computes the line total. A bound backend price always wins.
func (l Line) TotalPrice() Money {
	if l.BackendPrice != nil {
		return *l.BackendPrice
	}
	return l.priceForQuantity()
}

func (l Line) priceForQuantity() Money {
	if l.EmbeddedPrice > 0 {
		return l.EmbeddedPrice
	}
	if l.Unit.IsWeighable() {
		grams := l.EmbeddedWeight
		if grams <= 0 {
			grams = l.Quantity
		}
		return weighedPrice(l.UnitPrice, grams, l.Unit, l.Rounding)
	}
	return Money(l.EffectiveQuantity()) * l.UnitPrice
}

// DepositTotal computes the locally tracked deposit for the line.
func (l Line) DepositTotal() Money {
	if l.DepositUnit <= 0 {
		return 0
	}
	return l.DepositUnit * Money(l.EffectiveQuantity())
}

// DisplayQuantity counts weighed, piece-unit and price-embedded goods as a
// single unit; plain articles count their numeric quantity.
func (l Line) DisplayQuantity() int {
	if l.Unit.IsWeighable() || l.Unit == UnitPiece || l.Unit == UnitPrice {
		return 1
	}
	return l.EffectiveQuantity()
}

func weighedPrice(perUnit Money, grams int, unit Unit, mode RoundingMode) Money {
	if grams <= 0 || perUnit <= 0 {
		return 0
	}
	divisor := 1.0
	if unit == UnitKilogram {
		divisor = 1000.0
	}
	raw := float64(perUnit) * float64(grams) / divisor
	switch mode {
	case RoundUp:
		return Money(math.Ceil(raw))
	case RoundDown:
		return Money(math.Floor(raw))
	default:
		return Money(math.Floor(raw + 0.5))
	}
}

// Compute calculates the cart summary. backendDeposit is the sum of deposit
// line items the backend returned; the deposit channels are mutually
// exclusive, so the larger of the two sums is used to avoid double counting
// while tolerating either source being incomplete. When onlineTotal is set
// it overrides the locally computed total entirely.
func Compute(lines []Line, backendDeposit Money, onlineTotal *Money) Summary {
	var itemSum, localDeposit Money
	var qty int
	for _, l := range lines {
		itemSum += l.TotalPrice()
		localDeposit += l.DepositTotal()
		qty += l.DisplayQuantity()
	}
	deposit := localDeposit
	if backendDeposit > deposit {
		deposit = backendDeposit
	}
	total := itemSum + deposit
	if onlineTotal != nil {
		total = *onlineTotal
	}
	return Summary{
		ItemTotal:    itemSum,
		DepositTotal: deposit,
		Total:        total,
		Quantity:     qty,
	}
}
