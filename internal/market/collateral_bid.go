package market

import (
	"github.com/openledger/chain-engine/internal/authority"
	"github.com/openledger/chain-engine/internal/engine"
	"github.com/openledger/chain-engine/internal/model"
)

type bidCollateralEvaluator struct {
	engine.Base
	op model.BidCollateral

	debtAsset       *model.AssetObject
	collateralAsset *model.AssetObject
	existing        *model.CollateralBid
}

func (e *bidCollateralEvaluator) Evaluate() error {
	op := e.op
	rules := e.DB.Rules()
	if err := e.PrepareFee(op.Bidder, op.Fee); err != nil {
		return err
	}
	if !rules.CollateralBiddingLive {
		return engine.Validationf(e.OpName, "collateral bidding is not yet enabled")
	}
	if op.DebtCovered.IsNegative() || op.AdditionalCollateral.IsNegative() {
		return engine.Validationf(e.OpName, "bid amounts may not be negative")
	}
	if op.DebtCovered.IsZero() && !op.AdditionalCollateral.IsZero() {
		return engine.Validationf(e.OpName, "a bid covering no debt must post no collateral")
	}
	if !op.DebtCovered.IsZero() && op.AdditionalCollateral.IsZero() {
		return engine.Validationf(e.OpName, "a bid must post collateral for the debt it covers")
	}

	debtAsset, ok := e.DB.GetAsset(op.DebtCovered.AssetID)
	if !ok {
		return engine.Validationf(e.OpName, "asset %s does not exist", op.DebtCovered.AssetID)
	}
	if !debtAsset.IsMarketIssued() {
		return engine.Validationf(e.OpName, "asset %s is not collateralized", debtAsset.Symbol)
	}
	bita, ok := e.DB.GetBitassetData(*debtAsset.BitassetDataID)
	if !ok {
		return engine.Internalf(e.OpName, "asset %s missing bitasset data", debtAsset.Symbol)
	}
	if !bita.HasSettlement() {
		return engine.Validationf(e.OpName,
			"collateral bids are only accepted while %s is globally settled", debtAsset.Symbol)
	}
	if bita.IsPredictionMarket {
		return engine.Validationf(e.OpName, "cannot bid on a prediction market")
	}
	if op.AdditionalCollateral.AssetID != bita.Options.ShortBackingAsset {
		return engine.Validationf(e.OpName, "%s bids must post asset %s as collateral",
			debtAsset.Symbol, bita.Options.ShortBackingAsset)
	}
	if rules.RequireBidEnabled && !debtAsset.CanBidCollateral() {
		return engine.Validationf(e.OpName, "asset %s has collateral bidding disabled", debtAsset.Symbol)
	}
	collateralAsset, ok := e.DB.GetAsset(op.AdditionalCollateral.AssetID)
	if !ok {
		return engine.Internalf(e.OpName, "backing asset %s does not exist", op.AdditionalCollateral.AssetID)
	}
	e.debtAsset, e.collateralAsset = debtAsset, collateralAsset

	if rules.CheckAssetAuthorization {
		if !authority.IsAuthorizedAsset(e.DB, op.Bidder, debtAsset) {
			return engine.Validationf(e.OpName, "account %s is not authorized to transact %s",
				op.Bidder, debtAsset.Symbol)
		}
		if !authority.IsAuthorizedAsset(e.DB, op.Bidder, collateralAsset) {
			return engine.Validationf(e.OpName, "account %s is not authorized to transact %s",
				op.Bidder, collateralAsset.Symbol)
		}
	}

	existing, hasExisting := e.DB.FindCollateralBid(op.Bidder, debtAsset.ID)
	if hasExisting {
		e.existing = existing
	}
	if op.DebtCovered.IsZero() {
		if !hasExisting {
			return engine.Validationf(e.OpName, "account %s has no %s bid to cancel",
				op.Bidder, debtAsset.Symbol)
		}
		return nil
	}

	// The later rules charge only the increase over the standing bid; the
	// earlier rules demanded the full new amount up front even though the
	// old bid was refunded in the same step.
	needed := op.AdditionalCollateral.Amount
	if rules.BidDeltaBalance && hasExisting {
		needed = needed.Sub(existing.AdditionalCollateral().Amount)
	}
	if !e.SkipFee && op.Fee.AssetID == op.AdditionalCollateral.AssetID {
		needed = needed.Add(op.Fee.Amount)
	}
	balance := e.DB.GetBalance(op.Bidder, op.AdditionalCollateral.AssetID)
	if balance.Amount.LessThan(needed) {
		return engine.Validationf(e.OpName, "insufficient %s to post bid collateral: have %s, need %s",
			e.collateralAsset.Symbol, balance.Amount, needed)
	}
	return nil
}

func (e *bidCollateralEvaluator) Apply() (engine.Result, error) {
	op := e.op

	if e.existing != nil {
		refund := e.existing.AdditionalCollateral()
		if refund.Amount.IsPositive() {
			if err := e.DB.AdjustBalance(op.Bidder, refund); err != nil {
				return nil, engine.Invariantf(e.OpName, "refund standing bid: %v", err)
			}
		}
		if err := e.DB.Remove(e.existing.ID); err != nil {
			return nil, engine.Internalf(e.OpName, "remove standing bid: %v", err)
		}
	}

	if op.DebtCovered.IsZero() {
		return engine.VoidResult{}, nil
	}

	if err := e.DB.AdjustBalance(op.Bidder, op.AdditionalCollateral.Neg()); err != nil {
		return nil, engine.Invariantf(e.OpName, "lock bid collateral: %v", err)
	}
	bid := &model.CollateralBid{
		ID:     e.DB.NewID(model.TypeCollateralBid),
		Bidder: op.Bidder,
		InvSwanPrice: model.Price{
			Base:  op.AdditionalCollateral,
			Quote: op.DebtCovered,
		},
	}
	if err := e.DB.Insert(bid); err != nil {
		return nil, engine.Internalf(e.OpName, "insert bid: %v", err)
	}
	return engine.ObjectIDResult{ID: bid.ID}, nil
}
