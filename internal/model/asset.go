package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Asset is an amount of a specific asset. Amounts are integral decimals
// (smallest units); all arithmetic on them is exact — never float64 for
// money.
type Asset struct {
	Amount  decimal.Decimal `json:"amount"`
	AssetID ID              `json:"asset_id"`
}

// NewAsset builds an Asset from an int64 amount of smallest units.
func NewAsset(amount int64, assetID ID) Asset {
	return Asset{Amount: decimal.NewFromInt(amount), AssetID: assetID}
}

func (a Asset) IsZero() bool     { return a.Amount.IsZero() }
func (a Asset) IsPositive() bool { return a.Amount.IsPositive() }
func (a Asset) IsNegative() bool { return a.Amount.IsNegative() }

// Neg returns the negated amount of the same asset.
func (a Asset) Neg() Asset {
	return Asset{Amount: a.Amount.Neg(), AssetID: a.AssetID}
}

// Add returns a+b. Both operands must be the same asset.
func (a Asset) Add(b Asset) Asset {
	if a.AssetID != b.AssetID {
		panic(fmt.Sprintf("model: asset mismatch %s + %s", a.AssetID, b.AssetID))
	}
	return Asset{Amount: a.Amount.Add(b.Amount), AssetID: a.AssetID}
}

// Sub returns a-b. Both operands must be the same asset.
func (a Asset) Sub(b Asset) Asset {
	return a.Add(b.Neg())
}

// GTE reports a >= b for amounts of the same asset.
func (a Asset) GTE(b Asset) bool {
	if a.AssetID != b.AssetID {
		panic(fmt.Sprintf("model: asset mismatch %s >= %s", a.AssetID, b.AssetID))
	}
	return a.Amount.GreaterThanOrEqual(b.Amount)
}

func (a Asset) String() string {
	return fmt.Sprintf("%s %s", a.Amount.String(), a.AssetID)
}

// mulDivFloor returns floor(a*n/d) for integral decimals.
func mulDivFloor(a, n, d decimal.Decimal) decimal.Decimal {
	q, _ := a.Mul(n).QuoRem(d, 0)
	return q
}

// mulDivCeil returns ceil(a*n/d) for non-negative integral decimals.
func mulDivCeil(a, n, d decimal.Decimal) decimal.Decimal {
	q, r := a.Mul(n).QuoRem(d, 0)
	if !r.IsZero() {
		q = q.Add(decimal.NewFromInt(1))
	}
	return q
}
