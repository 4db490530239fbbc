// Package engine defines the evaluator lifecycle framework: the two-phase
// evaluate/apply contract every operation family implements, the fee
// conversion and payment hooks, and the result sum type. Evaluators read
// the chain's logical time only through the ledger's active rule set, so
// historical blocks replay under the rules of their era.
package engine

import (
	"github.com/shopspring/decimal"

	"github.com/openledger/chain-engine/internal/ledger"
	"github.com/openledger/chain-engine/internal/model"
)

// Result is the closed set of values an applied operation can produce,
// mirroring the operation kinds: creations return the new object's id,
// cancellations return the refunded amount, everything else is void.
type Result interface{ isResult() }

// VoidResult is produced by operations with nothing to report.
type VoidResult struct{}

// ObjectIDResult carries the id of a created or updated object.
type ObjectIDResult struct{ ID model.ID }

// AssetResult carries a refunded amount.
type AssetResult struct{ Amount model.Asset }

func (VoidResult) isResult()     {}
func (ObjectIDResult) isResult() {}
func (AssetResult) isResult()    {}

// Evaluator is the per-operation lifecycle. Evaluate performs read-only
// precondition checks; Apply mutates state and may assume Evaluate passed.
// ConvertFee and PayFee are override points: families with
// protocol-version-sensitive fee handling (deferred fees, fee-pool
// deduction) replace the defaults.
type Evaluator interface {
	Evaluate() error
	Apply() (Result, error)
	ConvertFee() error
	PayFee() error
}

// Base carries the state shared by all evaluators: the ledger handle, the
// enclosing transaction's fee-skip flag, and the prepared fee. Concrete
// evaluators embed it and inherit the default fee hooks.
type Base struct {
	DB      *ledger.Database
	SkipFee bool

	OpName   string
	FeePayer model.ID
	Fee      model.Asset

	// CoreFee is the fee converted into the core asset via the fee asset's
	// core exchange rate.
	CoreFee  decimal.Decimal
	feeAsset *model.AssetObject
}

// PrepareFee validates the declared fee and computes its core-asset value.
// Called from Evaluate before any family-specific checks.
func (b *Base) PrepareFee(payer model.ID, fee model.Asset) error {
	if fee.Amount.IsNegative() {
		return Validationf(b.OpName, "fee amount may not be negative")
	}
	b.FeePayer = payer
	b.Fee = fee

	asset, ok := b.DB.GetAsset(fee.AssetID)
	if !ok {
		return Validationf(b.OpName, "fee asset %s does not exist", fee.AssetID)
	}
	b.feeAsset = asset

	if fee.AssetID == model.CoreAssetID {
		b.CoreFee = fee.Amount
	} else {
		cer := asset.Options.CoreExchangeRate
		if cer.IsNull() {
			return Validationf(b.OpName, "fee asset %s has no core exchange rate", asset.Symbol)
		}
		b.CoreFee = cer.MulFloor(fee).Amount
		dyn, ok := b.DB.GetAssetDynamicData(asset.DynamicDataID)
		if !ok {
			return Internalf(b.OpName, "fee asset %s missing dynamic data", asset.Symbol)
		}
		if dyn.FeePool.LessThan(b.CoreFee) {
			return Validationf(b.OpName, "fee pool of %s (%s) cannot cover core fee %s",
				asset.Symbol, dyn.FeePool, b.CoreFee)
		}
	}

	if b.SkipFee {
		return nil
	}
	balance := b.DB.GetBalance(payer, fee.AssetID)
	if balance.Amount.LessThan(fee.Amount) {
		return Validationf(b.OpName, "insufficient balance to pay %s fee, have %s",
			fee, balance.Amount)
	}
	return nil
}

// ConvertFee moves the fee out of the payer's balance; a non-core fee is
// accumulated on its asset and its core value drawn from the fee pool.
func (b *Base) ConvertFee() error {
	if b.SkipFee {
		return nil
	}
	if err := b.DB.AdjustBalance(b.FeePayer, b.Fee.Neg()); err != nil {
		return Invariantf(b.OpName, "deduct fee: %v", err)
	}
	if b.Fee.AssetID != model.CoreAssetID {
		coreFee := b.CoreFee
		feeAmount := b.Fee.Amount
		if err := b.DB.Modify(b.feeAsset.DynamicDataID, func(obj model.Object) {
			d := obj.(*model.AssetDynamicData)
			d.AccumulatedFees = d.AccumulatedFees.Add(feeAmount)
			d.FeePool = d.FeePool.Sub(coreFee)
		}); err != nil {
			return Internalf(b.OpName, "convert fee: %v", err)
		}
	}
	return nil
}

// PayFee credits the converted core fee to the payer's pending fees, from
// which maintenance sweeps it.
func (b *Base) PayFee() error {
	if b.SkipFee {
		return nil
	}
	coreFee := b.CoreFee
	if err := b.DB.ModifyAccountStats(b.FeePayer, func(s *model.AccountStatistics) {
		s.PendingFees = s.PendingFees.Add(coreFee)
	}); err != nil {
		return Internalf(b.OpName, "pay fee: %v", err)
	}
	return nil
}
