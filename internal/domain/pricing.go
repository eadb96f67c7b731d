package domain

// CheckoutPolicy holds the pricing knobs applied at estimate and checkout
// time. Values come from configuration, not code.
type CheckoutPolicy struct {
	// ShippingFlatFee is charged in cents when the subtotal stays below
	// FreeShippingThreshold.
	ShippingFlatFee int64
	// FreeShippingThreshold is the subtotal in cents at which shipping
	// becomes free.
	FreeShippingThreshold int64
	// TaxBasisPoints is the tax rate applied to the subtotal, in basis
	// points (500 == 5%).
	TaxBasisPoints int64
}

// ShippingFor returns the shipping cost for a given subtotal.
func (p CheckoutPolicy) ShippingFor(subtotal int64) int64 {
	if subtotal >= p.FreeShippingThreshold {
		return 0
	}
	return p.ShippingFlatFee
}

// TaxFor returns the tax amount for a given subtotal, rounded down.
func (p CheckoutPolicy) TaxFor(subtotal int64) int64 {
	return subtotal * p.TaxBasisPoints / 10000
}

// OrderTotals is the monetary breakdown of an order or cart estimate.
type OrderTotals struct {
	Subtotal       int64
	ShippingCost   int64
	TaxAmount      int64
	DiscountAmount int64
	Total          int64
}

// ComputeTotals derives the full breakdown from a subtotal, the checkout
// policy and an already-computed discount. The discount never pushes the
// total below zero because callers cap it at the order value.
func ComputeTotals(subtotal int64, policy CheckoutPolicy, discount int64) OrderTotals {
	t := OrderTotals{
		Subtotal:       subtotal,
		ShippingCost:   policy.ShippingFor(subtotal),
		TaxAmount:      policy.TaxFor(subtotal),
		DiscountAmount: discount,
	}
	t.Total = t.Subtotal + t.ShippingCost + t.TaxAmount - t.DiscountAmount
	return t
}

// TotalsConsistent reports whether an order satisfies the totals invariant.
func TotalsConsistent(o Order) bool {
	return o.Total == o.Subtotal+o.ShippingCost+o.TaxAmount-o.DiscountAmount
}
