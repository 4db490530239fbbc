package market

import (
	"errors"

	"github.com/shopspring/decimal"

	"github.com/openledger/chain-engine/internal/authority"
	"github.com/openledger/chain-engine/internal/engine"
	"github.com/openledger/chain-engine/internal/feed"
	"github.com/openledger/chain-engine/internal/matching"
	"github.com/openledger/chain-engine/internal/model"
	"github.com/openledger/chain-engine/internal/pricemath"
)

type callOrderUpdateEvaluator struct {
	engine.Base
	op    model.CallOrderUpdate
	match *matching.Engine

	debtAsset       *model.AssetObject
	collateralAsset *model.AssetObject
	bita            *model.BitassetData
	existing        *model.CallOrder

	newDebt       decimal.Decimal
	newCollateral decimal.Decimal
	closingFully  bool

	// Pre-update state for the increasing-collateral-ratio classification.
	oldCollateralization *model.Price
	oldDebt              *decimal.Decimal
}

func (e *callOrderUpdateEvaluator) Evaluate() error {
	op := e.op
	rules := e.DB.Rules()
	if err := e.PrepareFee(op.FundingAccount, op.Fee); err != nil {
		return err
	}
	if op.DeltaDebt.IsZero() && op.DeltaCollateral.IsZero() {
		return engine.Validationf(e.OpName, "update changes neither debt nor collateral")
	}
	if op.DeltaDebt.AssetID == op.DeltaCollateral.AssetID {
		return engine.Validationf(e.OpName, "debt and collateral must be different assets")
	}
	if op.TargetCollateralRatio != nil && *op.TargetCollateralRatio == 0 {
		return engine.Validationf(e.OpName, "target collateral ratio may not be zero")
	}

	debtAsset, ok := e.DB.GetAsset(op.DeltaDebt.AssetID)
	if !ok {
		return engine.Validationf(e.OpName, "asset %s does not exist", op.DeltaDebt.AssetID)
	}
	if !debtAsset.IsMarketIssued() {
		return engine.Validationf(e.OpName, "asset %s is not collateralized; it cannot be borrowed",
			debtAsset.Symbol)
	}
	bita, ok := e.DB.GetBitassetData(*debtAsset.BitassetDataID)
	if !ok {
		return engine.Internalf(e.OpName, "asset %s missing bitasset data", debtAsset.Symbol)
	}
	if op.DeltaCollateral.AssetID != bita.Options.ShortBackingAsset {
		return engine.Validationf(e.OpName, "%s positions must be backed by asset %s",
			debtAsset.Symbol, bita.Options.ShortBackingAsset)
	}
	collateralAsset, ok := e.DB.GetAsset(op.DeltaCollateral.AssetID)
	if !ok {
		return engine.Internalf(e.OpName, "backing asset %s does not exist", op.DeltaCollateral.AssetID)
	}
	if bita.HasSettlement() {
		return engine.Validationf(e.OpName,
			"cannot update a position on %s after global settlement; use collateral bids", debtAsset.Symbol)
	}
	if bita.IsPredictionMarket && !op.DeltaCollateral.Amount.Equal(op.DeltaDebt.Amount) {
		return engine.Validationf(e.OpName,
			"prediction market positions must change debt and collateral one-for-one")
	}
	e.debtAsset, e.collateralAsset, e.bita = debtAsset, collateralAsset, bita

	existing, hasExisting := e.DB.FindCallOrder(op.FundingAccount, debtAsset.ID)
	if hasExisting {
		e.existing = existing
		coll := existing.Collateralization()
		debt := existing.Debt
		e.oldCollateralization = &coll
		e.oldDebt = &debt
		e.newDebt = existing.Debt.Add(op.DeltaDebt.Amount)
		e.newCollateral = existing.Collateral.Add(op.DeltaCollateral.Amount)
	} else {
		if !op.DeltaDebt.IsPositive() || !op.DeltaCollateral.IsPositive() {
			return engine.Validationf(e.OpName,
				"account %s has no %s position; opening one requires positive debt and collateral",
				op.FundingAccount, debtAsset.Symbol)
		}
		e.newDebt = op.DeltaDebt.Amount
		e.newCollateral = op.DeltaCollateral.Amount
	}
	if e.newDebt.IsNegative() {
		return engine.Validationf(e.OpName, "cannot repay more than the outstanding debt")
	}
	if e.newCollateral.IsNegative() {
		return engine.Validationf(e.OpName, "cannot withdraw more collateral than the position holds")
	}
	e.closingFully = hasExisting && e.newDebt.IsZero()
	if e.newDebt.IsZero() && !e.newCollateral.IsZero() {
		return engine.Validationf(e.OpName,
			"closing a position must withdraw all collateral")
	}
	if !e.newDebt.IsZero() && e.newCollateral.IsZero() {
		return engine.Validationf(e.OpName, "a position with debt cannot have zero collateral")
	}

	if !bita.IsPredictionMarket && bita.CurrentFeed.SettlementPrice.IsNull() {
		if !(rules.AllowFeedlessClose && e.closingFully) {
			return engine.Validationf(e.OpName, "asset %s has no valid price feed", debtAsset.Symbol)
		}
	}

	if op.DeltaDebt.IsPositive() {
		if !debtAsset.CanCreateNewSupply() {
			return engine.Validationf(e.OpName, "asset %s does not allow new supply", debtAsset.Symbol)
		}
		if rules.EnforceMaxSupply {
			dyn, ok := e.DB.GetAssetDynamicData(debtAsset.DynamicDataID)
			if !ok {
				return engine.Internalf(e.OpName, "asset %s missing dynamic data", debtAsset.Symbol)
			}
			if dyn.CurrentSupply.Add(op.DeltaDebt.Amount).GreaterThan(debtAsset.Options.MaxSupply) {
				return engine.Validationf(e.OpName, "borrowing %s %s would exceed max supply",
					op.DeltaDebt.Amount, debtAsset.Symbol)
			}
		}
	}

	if rules.CheckAssetAuthorization {
		if !authority.IsAuthorizedAsset(e.DB, op.FundingAccount, debtAsset) {
			return engine.Validationf(e.OpName, "account %s is not authorized to transact %s",
				op.FundingAccount, debtAsset.Symbol)
		}
		if !authority.IsAuthorizedAsset(e.DB, op.FundingAccount, collateralAsset) {
			return engine.Validationf(e.OpName, "account %s is not authorized to transact %s",
				op.FundingAccount, collateralAsset.Symbol)
		}
	}

	if op.DeltaCollateral.IsPositive() {
		needed := op.DeltaCollateral.Amount
		if !e.SkipFee && op.Fee.AssetID == op.DeltaCollateral.AssetID {
			needed = needed.Add(op.Fee.Amount)
		}
		balance := e.DB.GetBalance(op.FundingAccount, op.DeltaCollateral.AssetID)
		if balance.Amount.LessThan(needed) {
			return engine.Validationf(e.OpName, "insufficient %s to post collateral: have %s, need %s",
				collateralAsset.Symbol, balance.Amount, needed)
		}
	}
	if op.DeltaDebt.IsNegative() {
		repay := op.DeltaDebt.Amount.Neg()
		if !e.SkipFee && op.Fee.AssetID == op.DeltaDebt.AssetID {
			repay = repay.Add(op.Fee.Amount)
		}
		balance := e.DB.GetBalance(op.FundingAccount, op.DeltaDebt.AssetID)
		if balance.Amount.LessThan(repay) {
			return engine.Validationf(e.OpName, "insufficient %s to repay debt: have %s, need %s",
				debtAsset.Symbol, balance.Amount, repay)
		}
	}
	return nil
}

func (e *callOrderUpdateEvaluator) Apply() (engine.Result, error) {
	op := e.op
	rules := e.DB.Rules()

	// Move the borrowed/repaid debt and adjust supply.
	if !op.DeltaDebt.IsZero() {
		if err := e.DB.AdjustBalance(op.FundingAccount, op.DeltaDebt); err != nil {
			return nil, engine.Invariantf(e.OpName, "adjust debt balance: %v", err)
		}
		delta := op.DeltaDebt.Amount
		if err := e.DB.Modify(e.debtAsset.DynamicDataID, func(obj model.Object) {
			d := obj.(*model.AssetDynamicData)
			d.CurrentSupply = d.CurrentSupply.Add(delta)
		}); err != nil {
			return nil, engine.Internalf(e.OpName, "adjust supply: %v", err)
		}
	}

	// Move the posted/withdrawn collateral.
	if !op.DeltaCollateral.IsZero() {
		if err := e.DB.AdjustBalance(op.FundingAccount, op.DeltaCollateral.Neg()); err != nil {
			return nil, engine.Invariantf(e.OpName, "adjust collateral balance: %v", err)
		}
		if op.DeltaCollateral.AssetID == model.CoreAssetID {
			delta := op.DeltaCollateral.Amount
			if err := e.DB.ModifyAccountStats(op.FundingAccount, func(s *model.AccountStatistics) {
				s.TotalCoreInOrders = s.TotalCoreInOrders.Add(delta)
			}); err != nil {
				return nil, engine.Internalf(e.OpName, "update stats: %v", err)
			}
		}
	}

	var callID model.ID
	if e.closingFully {
		if err := e.DB.Remove(e.existing.ID); err != nil {
			return nil, engine.Internalf(e.OpName, "close position: %v", err)
		}
	} else {
		callPrice := pricemath.UnitCallPrice(op.DeltaCollateral.AssetID, op.DeltaDebt.AssetID)
		if rules.CachedCallPrice && !e.bita.CurrentFeed.SettlementPrice.IsNull() {
			callPrice = pricemath.CallPrice(
				model.Asset{Amount: e.newDebt, AssetID: op.DeltaDebt.AssetID},
				model.Asset{Amount: e.newCollateral, AssetID: op.DeltaCollateral.AssetID},
				e.bita.CurrentFeed.MaintenanceCollateralRatio)
		}
		if e.existing != nil {
			callID = e.existing.ID
			newDebt, newCollateral := e.newDebt, e.newCollateral
			tcr := op.TargetCollateralRatio
			if err := e.DB.Modify(callID, func(obj model.Object) {
				c := obj.(*model.CallOrder)
				c.Debt = newDebt
				c.Collateral = newCollateral
				c.CallPrice = callPrice
				c.TargetCollateralRatio = tcr
			}); err != nil {
				return nil, engine.Internalf(e.OpName, "update position: %v", err)
			}
		} else {
			call := &model.CallOrder{
				ID:                    e.DB.NewID(model.TypeCallOrder),
				Borrower:              op.FundingAccount,
				Collateral:            e.newCollateral,
				Debt:                  e.newDebt,
				CallPrice:             callPrice,
				TargetCollateralRatio: op.TargetCollateralRatio,
			}
			if err := e.DB.Insert(call); err != nil {
				return nil, engine.Internalf(e.OpName, "open position: %v", err)
			}
			callID = call.ID
		}
	}

	if e.closingFully {
		// Closing the position can move the no-settlement clamp: the feed
		// rises to the next weakest position, which may become callable.
		if e.bita.Options.BlackSwanResponse == model.BSRMNoSettlement {
			oldPrice := e.bita.CurrentFeed.SettlementPrice
			if err := feed.UpdateCurrentFeed(e.DB, e.bita.ID, true); err != nil {
				return nil, engine.Internalf(e.OpName, "refresh feed: %v", err)
			}
			bita, ok := e.DB.GetBitassetData(e.bita.ID)
			if !ok {
				return nil, engine.Internalf(e.OpName, "bitasset data vanished")
			}
			changed := !bita.CurrentFeed.SettlementPrice.IsNull() &&
				(oldPrice.IsNull() || !bita.CurrentFeed.SettlementPrice.Equal(oldPrice))
			if changed {
				if _, err := e.match.CheckCallOrders(e.debtAsset, true, false, bita); err != nil {
					return nil, engine.Invariantf(e.OpName, "margin call check: %v", err)
				}
			}
		}
		return engine.VoidResult{}, nil
	}

	if e.bita.IsPredictionMarket {
		return engine.ObjectIDResult{ID: callID}, nil
	}

	call, ok := e.DB.GetCallOrder(callID)
	if !ok {
		return nil, engine.Internalf(e.OpName, "position vanished before aftermath checks")
	}
	callColl := call.Collateralization()
	increasingCR := pricemath.IsIncreasingCR(e.oldCollateralization, e.oldDebt, callColl, call.Debt)

	// A position at or below the inverted squeeze bound would be seized the
	// instant a settlement request arrives. Pure collateral top-ups of an
	// existing position are exempt: under the no-settlement response the
	// clamped feed can hold a position there through no fault of its owner.
	if rules.RejectNearSqueeze && !increasingCR && !e.bita.MedianFeed.SettlementPrice.IsNull() {
		floor := pricemath.MaxShortSqueezePrice(e.bita.MedianFeed).Invert()
		if callColl.LessThan(floor) {
			return nil, engine.Validationf(e.OpName,
				"position collateralization %s would instantly trigger a black swan", callColl)
		}
	}

	// The least-collateralized position may have changed; a no-settlement
	// asset re-clamps its feed to it.
	if e.bita.Options.BlackSwanResponse == model.BSRMNoSettlement {
		if err := feed.UpdateCurrentFeed(e.DB, e.bita.ID, true); err != nil {
			return nil, engine.Internalf(e.OpName, "refresh feed: %v", err)
		}
	}
	bita, ok := e.DB.GetBitassetData(e.bita.ID)
	if !ok {
		return nil, engine.Internalf(e.OpName, "bitasset data vanished")
	}
	if bita.CurrentFeed.SettlementPrice.IsNull() {
		return engine.ObjectIDResult{ID: callID}, nil
	}

	filled, err := e.match.CheckCallOrders(e.debtAsset, false, false, bita)
	if err != nil {
		if errors.Is(err, matching.ErrBlackSwan) {
			return nil, engine.Invariantf(e.OpName, "update would trigger a black swan")
		}
		return nil, engine.Invariantf(e.OpName, "margin call check: %v", err)
	}

	call, survives := e.DB.GetCallOrder(callID)
	bita, _ = e.DB.GetBitassetData(e.bita.ID)

	if filled {
		if !survives {
			return engine.VoidResult{}, nil
		}
		if !rules.ICRAfterMatchCheck {
			return nil, engine.Invariantf(e.OpName,
				"update triggers a margin call that cannot be fully filled")
		}
		if !increasingCR && !call.Collateralization().GreaterThan(bita.CurrentInitialCollateralization) {
			return nil, engine.Invariantf(e.OpName,
				"update would leave the position in margin call territory (collateralization %s, required above %s)",
				call.Collateralization(), bita.CurrentInitialCollateralization)
		}
		return engine.ObjectIDResult{ID: callID}, nil
	}

	// Nothing was called: either the position is outside margin call
	// territory, or a call it triggers found no eligible liquidity. The
	// latter may not stand, except for a pure collateral ratio increase.
	if !survives {
		return nil, engine.Internalf(e.OpName, "no margin call executed yet the position is gone")
	}
	safe := rules.AllowCRIncreaseUnfilled && increasingCR
	if !safe {
		if rules.CachedCallPrice {
			// Cached-call-price era: safe while the stored trigger price
			// stays below the feed.
			safe = call.CallPrice.Invert().LessThan(bita.CurrentFeed.SettlementPrice)
		} else {
			safe = callColl.GreaterThan(bita.CurrentInitialCollateralization)
		}
	}
	if !safe {
		return nil, engine.Invariantf(e.OpName,
			"update would leave the position in margin call territory (collateralization %s, required above %s)",
			callColl, bita.CurrentInitialCollateralization)
	}
	return engine.ObjectIDResult{ID: callID}, nil
}
