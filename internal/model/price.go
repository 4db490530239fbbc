package model

import "fmt"

// Price is an exchange rate expressed as a ratio of two asset amounts:
// Base per Quote. A price is a pure rational: comparisons cross-multiply
// the integral amounts and are exact, never computed by division.
type Price struct {
	Base  Asset `json:"base"`
	Quote Asset `json:"quote"`
}

// NullPrice is the absent price (no feed).
var NullPrice = Price{}

// IsNull reports whether either side of the ratio is zero or missing.
func (p Price) IsNull() bool {
	return p.Base.Amount.IsZero() || p.Quote.Amount.IsZero()
}

// Invert swaps base and quote: the rate in the opposite direction.
func (p Price) Invert() Price {
	return Price{Base: p.Quote, Quote: p.Base}
}

// samePair panics unless both prices quote the same asset pair in the same
// orientation. Callers are responsible for orienting prices before
// comparing; a mismatch is a programming error, not a market condition.
func samePair(a, b Price) {
	if a.Base.AssetID != b.Base.AssetID || a.Quote.AssetID != b.Quote.AssetID {
		panic(fmt.Sprintf("model: price pair mismatch %s/%s vs %s/%s",
			a.Base.AssetID, a.Quote.AssetID, b.Base.AssetID, b.Quote.AssetID))
	}
}

// Cmp compares two prices of the same oriented pair: -1, 0, or +1.
func (p Price) Cmp(other Price) int {
	samePair(p, other)
	left := p.Base.Amount.Mul(other.Quote.Amount)
	right := other.Base.Amount.Mul(p.Quote.Amount)
	return left.Cmp(right)
}

func (p Price) LessThan(other Price) bool    { return p.Cmp(other) < 0 }
func (p Price) LessOrEqual(other Price) bool { return p.Cmp(other) <= 0 }
func (p Price) GreaterThan(other Price) bool { return p.Cmp(other) > 0 }
func (p Price) Equal(other Price) bool       { return p.Cmp(other) == 0 }

func (p Price) String() string {
	return fmt.Sprintf("%s / %s", p.Base, p.Quote)
}

// MulFloor converts an amount across the price, rounding down.
// The amount must be denominated in one side of the pair; the result is
// denominated in the other.
func (p Price) MulFloor(a Asset) Asset {
	switch a.AssetID {
	case p.Base.AssetID:
		return Asset{Amount: mulDivFloor(a.Amount, p.Quote.Amount, p.Base.Amount), AssetID: p.Quote.AssetID}
	case p.Quote.AssetID:
		return Asset{Amount: mulDivFloor(a.Amount, p.Base.Amount, p.Quote.Amount), AssetID: p.Base.AssetID}
	default:
		panic(fmt.Sprintf("model: amount %s not part of price %s", a.AssetID, p))
	}
}

// MulCeil converts an amount across the price, rounding up.
func (p Price) MulCeil(a Asset) Asset {
	switch a.AssetID {
	case p.Base.AssetID:
		return Asset{Amount: mulDivCeil(a.Amount, p.Quote.Amount, p.Base.Amount), AssetID: p.Quote.AssetID}
	case p.Quote.AssetID:
		return Asset{Amount: mulDivCeil(a.Amount, p.Base.Amount, p.Quote.Amount), AssetID: p.Base.AssetID}
	default:
		panic(fmt.Sprintf("model: amount %s not part of price %s", a.AssetID, p))
	}
}
