// Package market implements the operation evaluators of the trading and
// margin subsystem: limit order placement and cancellation, collateralized
// debt position updates, and post-settlement collateral bidding. Each
// evaluator follows the two-phase contract in internal/engine; the
// Processor dispatches operations and scopes each one in an undo session.
package market

import (
	"github.com/openledger/chain-engine/internal/authority"
	"github.com/openledger/chain-engine/internal/engine"
	"github.com/openledger/chain-engine/internal/matching"
	"github.com/openledger/chain-engine/internal/model"
)

type limitOrderCreateEvaluator struct {
	engine.Base
	op    model.LimitOrderCreate
	match *matching.Engine

	sellAsset    *model.AssetObject
	receiveAsset *model.AssetObject
	deferFee     bool
}

func (e *limitOrderCreateEvaluator) Evaluate() error {
	op := e.op
	if !op.AmountToSell.IsPositive() || !op.MinToReceive.IsPositive() {
		return engine.Validationf(e.OpName, "amounts to sell and receive must be positive")
	}
	if op.AmountToSell.AssetID == op.MinToReceive.AssetID {
		return engine.Validationf(e.OpName, "cannot trade an asset against itself")
	}
	if op.Expiration.Before(e.DB.HeadBlockTime()) {
		return engine.Validationf(e.OpName, "order expiration is in the past")
	}
	if err := e.PrepareFee(op.Seller, op.Fee); err != nil {
		return err
	}
	e.deferFee = e.DB.Rules().DeferLimitOrderFee

	sellAsset, ok := e.DB.GetAsset(op.AmountToSell.AssetID)
	if !ok {
		return engine.Validationf(e.OpName, "asset %s does not exist", op.AmountToSell.AssetID)
	}
	receiveAsset, ok := e.DB.GetAsset(op.MinToReceive.AssetID)
	if !ok {
		return engine.Validationf(e.OpName, "asset %s does not exist", op.MinToReceive.AssetID)
	}
	e.sellAsset, e.receiveAsset = sellAsset, receiveAsset

	// Market restrictions are declared on the asset being sold.
	if sellAsset.Options.BlacklistMarkets[receiveAsset.ID] {
		return engine.Validationf(e.OpName, "market %s/%s is blacklisted by %s",
			sellAsset.Symbol, receiveAsset.Symbol, sellAsset.Symbol)
	}
	if len(sellAsset.Options.WhitelistMarkets) > 0 && !sellAsset.Options.WhitelistMarkets[receiveAsset.ID] {
		return engine.Validationf(e.OpName, "market %s/%s is not whitelisted by %s",
			sellAsset.Symbol, receiveAsset.Symbol, sellAsset.Symbol)
	}
	if !authority.IsAuthorizedAsset(e.DB, op.Seller, sellAsset) {
		return engine.Validationf(e.OpName, "account %s is not authorized to transact %s",
			op.Seller, sellAsset.Symbol)
	}
	if !authority.IsAuthorizedAsset(e.DB, op.Seller, receiveAsset) {
		return engine.Validationf(e.OpName, "account %s is not authorized to transact %s",
			op.Seller, receiveAsset.Symbol)
	}

	needed := op.AmountToSell.Amount
	if !e.SkipFee && op.Fee.AssetID == op.AmountToSell.AssetID {
		needed = needed.Add(op.Fee.Amount)
	}
	balance := e.DB.GetBalance(op.Seller, op.AmountToSell.AssetID)
	if balance.Amount.LessThan(needed) {
		return engine.Validationf(e.OpName, "insufficient balance: have %s %s, order needs %s",
			balance.Amount, sellAsset.Symbol, needed)
	}
	return nil
}

// ConvertFee defers the fee once the deferred-fee rules are live: the fee
// leaves the payer's balance now but is settled on fill or refunded on
// cancel. Under the fee-pool rules a non-core fee draws its pool share
// immediately and accumulates only on fill.
func (e *limitOrderCreateEvaluator) ConvertFee() error {
	if e.SkipFee || !e.deferFee {
		return e.Base.ConvertFee()
	}
	if e.Fee.AssetID != model.CoreAssetID && e.DB.Rules().FeePoolPaysNonCoreFee {
		if err := e.DB.AdjustBalance(e.FeePayer, e.Fee.Neg()); err != nil {
			return engine.Invariantf(e.OpName, "deduct fee: %v", err)
		}
		coreFee := e.CoreFee
		feeAsset, _ := e.DB.GetAsset(e.Fee.AssetID)
		return e.DB.Modify(feeAsset.DynamicDataID, func(obj model.Object) {
			obj.(*model.AssetDynamicData).FeePool =
				obj.(*model.AssetDynamicData).FeePool.Sub(coreFee)
		})
	}
	return e.Base.ConvertFee()
}

// PayFee does nothing when the fee is deferred; the matching engine pays it
// out of the order object when the order fills or cancels.
func (e *limitOrderCreateEvaluator) PayFee() error {
	if e.SkipFee || !e.deferFee {
		return e.Base.PayFee()
	}
	return nil
}

func (e *limitOrderCreateEvaluator) Apply() (engine.Result, error) {
	op := e.op
	if err := e.DB.AdjustBalance(op.Seller, op.AmountToSell.Neg()); err != nil {
		return nil, engine.Invariantf(e.OpName, "lock order funds: %v", err)
	}
	if op.AmountToSell.AssetID == model.CoreAssetID {
		amount := op.AmountToSell.Amount
		if err := e.DB.ModifyAccountStats(op.Seller, func(s *model.AccountStatistics) {
			s.TotalCoreInOrders = s.TotalCoreInOrders.Add(amount)
		}); err != nil {
			return nil, engine.Internalf(e.OpName, "update stats: %v", err)
		}
	}

	order := &model.LimitOrder{
		ID:         e.DB.NewID(model.TypeLimitOrder),
		Seller:     op.Seller,
		ForSale:    op.AmountToSell.Amount,
		SellPrice:  op.GetPrice(),
		Expiration: op.Expiration,
	}
	if e.deferFee && !e.SkipFee {
		order.DeferredFee = e.CoreFee
		if op.Fee.AssetID != model.CoreAssetID && e.DB.Rules().FeePoolPaysNonCoreFee {
			order.DeferredPaidFee = op.Fee
		} else {
			order.DeferredPaidFee = model.Asset{AssetID: model.CoreAssetID}
		}
	} else {
		order.DeferredPaidFee = model.Asset{AssetID: model.CoreAssetID}
	}
	if err := e.DB.Insert(order); err != nil {
		return nil, engine.Internalf(e.OpName, "insert order: %v", err)
	}
	orderID := order.ID

	var filled bool
	var err error
	if e.DB.Rules().LegacyMatching {
		filled, err = e.match.ApplyOrderLegacy(order)
	} else {
		filled, err = e.match.ApplyOrder(order)
	}
	if err != nil {
		return nil, engine.Invariantf(e.OpName, "match order: %v", err)
	}
	if op.FillOrKill && !filled {
		return nil, engine.Invariantf(e.OpName, "fill-or-kill order was not completely filled")
	}
	return engine.ObjectIDResult{ID: orderID}, nil
}

type limitOrderCancelEvaluator struct {
	engine.Base
	op    model.LimitOrderCancel
	match *matching.Engine

	order *model.LimitOrder
}

func (e *limitOrderCancelEvaluator) Evaluate() error {
	op := e.op
	if err := e.PrepareFee(op.FeePayingAccount, op.Fee); err != nil {
		return err
	}
	order, ok := e.DB.GetLimitOrder(op.Order)
	if !ok {
		return engine.Validationf(e.OpName, "order %s does not exist", op.Order)
	}
	if order.Seller != op.FeePayingAccount {
		return engine.Validationf(e.OpName, "order %s belongs to %s, not %s",
			op.Order, order.Seller, op.FeePayingAccount)
	}
	e.order = order
	return nil
}

func (e *limitOrderCancelEvaluator) Apply() (engine.Result, error) {
	refund := e.order.AmountForSale()
	sellAssetID := e.order.SellAssetID()
	receiveAssetID := e.order.ReceiveAssetID()

	if err := e.match.CancelLimitOrder(e.order, false); err != nil {
		return nil, engine.Invariantf(e.OpName, "cancel order: %v", err)
	}

	// The early rules re-check margin calls on both pair assets after a
	// cancel; later rules dropped it as redundant.
	if e.DB.Rules().RecheckCallsOnCancel {
		for _, assetID := range []model.ID{sellAssetID, receiveAssetID} {
			assetObj, ok := e.DB.GetAsset(assetID)
			if !ok || !assetObj.IsMarketIssued() {
				continue
			}
			bita, ok := e.DB.GetBitassetData(*assetObj.BitassetDataID)
			if !ok {
				continue
			}
			if _, err := e.match.CheckCallOrders(assetObj, true, false, bita); err != nil {
				return nil, engine.Invariantf(e.OpName, "recheck margin calls: %v", err)
			}
		}
	}
	return engine.AssetResult{Amount: refund}, nil
}
