// Package pricemath implements the pure collateralization math of the
// margin subsystem: call prices, margin-call and entry thresholds, short
// squeeze bounds, and collateral-ratio classification.
//
// Everything here is a pure function over fixed-point price/amount pairs.
// No state, no I/O, no clock. All values use shopspring/decimal — never
// float64 for money — and every comparison cross-multiplies integral
// amounts, so results are exact and identical on every node.
package pricemath

import (
	"github.com/shopspring/decimal"

	"github.com/openledger/chain-engine/internal/model"
)

var ratioDenom = decimal.NewFromInt(model.RatioDenom)

// Collateralization returns collateral/debt as a price. It is the exact
// ratio the margin machinery compares against feed-derived thresholds.
func Collateralization(collateral, debt model.Asset) model.Price {
	return model.Price{Base: collateral, Quote: debt}
}

// CallPrice computes the price at which a position with the given debt and
// collateral becomes margin-callable under the given maintenance ratio
// (per mille). The result is quoted collateral/debt:
//
//	call_price = collateral / (debt * mcr / 1000)
//
// Only the cached-call-price era stores this on the position; later rules
// derive the trigger from the feed on demand.
func CallPrice(debt, collateral model.Asset, maintenanceRatio uint16) model.Price {
	mcr := decimal.NewFromInt(int64(maintenanceRatio))
	return model.Price{
		Base:  model.Asset{Amount: collateral.Amount.Mul(ratioDenom), AssetID: collateral.AssetID},
		Quote: model.Asset{Amount: debt.Amount.Mul(mcr), AssetID: debt.AssetID},
	}
}

// UnitCallPrice returns the sentinel call price stored on positions once
// call prices are no longer cached: one unit of collateral per unit of
// debt. It preserves the asset pair so the position still knows its types.
func UnitCallPrice(collateralID, debtID model.ID) model.Price {
	return model.Price{
		Base:  model.NewAsset(1, collateralID),
		Quote: model.NewAsset(1, debtID),
	}
}

// MaxShortSqueezePrice bounds what a margin call will pay. Given a feed
// settlement price (debt/collateral) and the maximum short squeeze ratio
// (per mille), the result is the lowest debt/collateral price a call may
// be matched at:
//
//	mssp = settlement_price * 1000 / mssr
func MaxShortSqueezePrice(feed model.PriceFeed) model.Price {
	p := feed.SettlementPrice
	mssr := decimal.NewFromInt(int64(feed.MaximumShortSqueezeRatio))
	return model.Price{
		Base:  model.Asset{Amount: p.Base.Amount.Mul(ratioDenom), AssetID: p.Base.AssetID},
		Quote: model.Asset{Amount: p.Quote.Amount.Mul(mssr), AssetID: p.Quote.AssetID},
	}
}

// CollateralizationThreshold converts a feed settlement price
// (debt/collateral) and a per-mille ratio into the matching
// collateral/debt threshold:
//
//	threshold = ~settlement_price * ratio / 1000
//
// A position is margin-callable when its collateralization is below the
// threshold built from the maintenance ratio, and may not be newly opened
// below the threshold built from the initial ratio.
func CollateralizationThreshold(settlement model.Price, ratio uint16) model.Price {
	r := decimal.NewFromInt(int64(ratio))
	return model.Price{
		Base:  model.Asset{Amount: settlement.Quote.Amount.Mul(r), AssetID: settlement.Quote.AssetID},
		Quote: model.Asset{Amount: settlement.Base.Amount.Mul(ratioDenom), AssetID: settlement.Base.AssetID},
	}
}

// IsIncreasingCR classifies a position update as "increasing collateral
// ratio without increasing debt" relative to its pre-update state. The
// classification gates several margin-call aftermath checks: such updates
// are always allowed to stand even in margin-call territory.
func IsIncreasingCR(oldCollateralization *model.Price, oldDebt *decimal.Decimal,
	newCollateralization model.Price, newDebt decimal.Decimal) bool {
	if oldCollateralization == nil || oldDebt == nil {
		return false // a brand-new position has nothing to increase from
	}
	return newDebt.LessThanOrEqual(*oldDebt) &&
		newCollateralization.GreaterThan(*oldCollateralization)
}

// DebtToCoverForTarget computes how much debt a margin call should cover to
// restore a position to the target collateral ratio, when it is filled at
// fillPrice (collateral per debt, i.e. what the call pays per unit of debt
// covered).
//
// Solving (C - d*fp) >= t * (D - d) * feedCollateralPerDebt for the
// smallest integral d, entirely by cross-multiplication:
//
//	d = ceil( (t*D*fq - C*fd*1000) * pq / (t*fq*pq - fp_num*fd*1000) )
//
// where the feed is fd/fq (debt/collateral) and fillPrice is pp/pq.
// Returns the full debt when no target is set or the target is
// unreachable.
func DebtToCoverForTarget(collateral, debt decimal.Decimal, target *uint16,
	feed model.Price, fillPrice model.Price) decimal.Decimal {
	if target == nil {
		return debt
	}
	t := decimal.NewFromInt(int64(*target))

	// Required collateral per debt at target: t/1000 * feed.Quote/feed.Base.
	reqNum := t.Mul(feed.Quote.Amount)         // collateral units
	reqDen := ratioDenom.Mul(feed.Base.Amount) // debt units
	payNum := fillPrice.Base.Amount            // collateral paid
	payDen := fillPrice.Quote.Amount           // per debt covered

	// (C - d*payNum/payDen) >= (D - d) * reqNum/reqDen
	// C*reqDen*payDen - d*payNum*reqDen >= D*reqNum*payDen - d*reqNum*payDen
	// d * (reqNum*payDen - payNum*reqDen) >= D*reqNum*payDen - C*reqDen*payDen
	den := reqNum.Mul(payDen).Sub(payNum.Mul(reqDen))
	num := debt.Mul(reqNum).Mul(payDen).Sub(collateral.Mul(reqDen).Mul(payDen))

	if den.Sign() <= 0 || num.Sign() <= 0 {
		// Covering at this price cannot reach the target (or it is already
		// met); cover everything.
		return debt
	}
	q, r := num.QuoRem(den, 0)
	if !r.IsZero() {
		q = q.Add(decimal.NewFromInt(1))
	}
	if q.GreaterThan(debt) {
		return debt
	}
	return q
}
