// Package matching implements the order-matching collaborator of the
// evaluation engine: walking the book to fill new limit orders, executing
// margin calls against standing liquidity, detecting black swans, and
// performing global settlement.
//
// Everything here is deterministic: books are walked in exact price order
// with id tiebreaks, and all rounding is fixed per protocol era. The
// legacy taker-favoring rounding must keep producing its original results
// so historical blocks replay identically.
package matching

import (
	"errors"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/openledger/chain-engine/internal/ledger"
	"github.com/openledger/chain-engine/internal/metrics"
	"github.com/openledger/chain-engine/internal/model"
	"github.com/openledger/chain-engine/internal/pricemath"
)

// ErrBlackSwan is returned when matching would trigger a black swan event
// and the caller disallowed it.
var ErrBlackSwan = errors.New("matching: black swan event would be triggered")

// FillEvent describes one side of an executed fill.
type FillEvent struct {
	OrderID  model.ID
	Account  model.ID
	Pays     model.Asset
	Receives model.Asset
	IsMaker  bool
	IsCall   bool
}

// SettlementEvent describes a global settlement.
type SettlementEvent struct {
	AssetID     model.ID
	SettlePrice model.Price // debt/collateral
	Fund        model.Asset // collected backing asset
}

// EventSink receives market events for streaming to subscribers. Sinks
// must not block; they are outside consensus.
type EventSink interface {
	OrderFilled(FillEvent)
	GlobalSettlement(SettlementEvent)
}

// Engine walks order books against the ledger arena.
type Engine struct {
	db   *ledger.Database
	sink EventSink
}

// NewEngine creates a matching engine over the arena. Pass nil for sink if
// no event streaming is needed.
func NewEngine(db *ledger.Database, sink EventSink) *Engine {
	return &Engine{db: db, sink: sink}
}

func (e *Engine) emitFill(ev FillEvent) {
	if e.sink != nil {
		e.sink.OrderFilled(ev)
	}
}

// --- Limit order matching ---

// ApplyOrder matches a freshly created order against the opposite book and
// any resulting margin calls, using maker-favoring rounding with dust
// culling. Returns true if the order was completely filled.
func (e *Engine) ApplyOrder(order *model.LimitOrder) (bool, error) {
	return e.applyOrder(order, false)
}

// ApplyOrderLegacy is the pre-cutover variant: taker-favoring truncation,
// no dust culling. Kept bit-compatible for historical replay.
func (e *Engine) ApplyOrderLegacy(order *model.LimitOrder) (bool, error) {
	return e.applyOrder(order, true)
}

func (e *Engine) applyOrder(order *model.LimitOrder, legacy bool) (bool, error) {
	orderID := order.ID
	sellAsset := order.SellAssetID()
	receiveAsset := order.ReceiveAssetID()

	makers := e.db.LimitOrdersSelling(receiveAsset, sellAsset)
	// Cheapest maker first: fewest units of our sell asset per unit of
	// theirs, ids breaking ties (price-time priority).
	sort.Slice(makers, func(i, j int) bool {
		pi, pj := makers[i].SellPrice, makers[j].SellPrice
		cmp := pi.Quote.Amount.Mul(pj.Base.Amount).Cmp(pj.Quote.Amount.Mul(pi.Base.Amount))
		if cmp != 0 {
			return cmp < 0
		}
		return makers[i].ID.Instance < makers[j].ID.Instance
	})

	for _, maker := range makers {
		taker, ok := e.db.GetLimitOrder(orderID)
		if !ok || taker.ForSale.IsZero() {
			break
		}
		// Overlap: the maker asks no more of our sell asset per unit than
		// our limit allows.
		mp, tp := maker.SellPrice, taker.SellPrice
		if mp.Quote.Amount.Mul(tp.Quote.Amount).GreaterThan(mp.Base.Amount.Mul(tp.Base.Amount)) {
			break // book is sorted; nothing further can match
		}
		if err := e.matchLimit(taker, maker, legacy); err != nil {
			return false, err
		}
	}

	// The pair may involve a collateralized asset; a new order can free a
	// margin call.
	for _, pair := range [2][2]model.ID{{sellAsset, receiveAsset}, {receiveAsset, sellAsset}} {
		assetObj, ok := e.db.GetAsset(pair[0])
		if !ok || !assetObj.IsMarketIssued() {
			continue
		}
		bita, ok := e.db.GetBitassetData(*assetObj.BitassetDataID)
		if !ok || bita.Options.ShortBackingAsset != pair[1] {
			continue
		}
		if _, err := e.CheckCallOrders(assetObj, true, true, bita); err != nil {
			return false, err
		}
	}

	taker, exists := e.db.GetLimitOrder(orderID)
	if !exists {
		return true, nil
	}
	if taker.ForSale.IsZero() {
		if err := e.removeFilledOrder(taker); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// matchLimit fills taker against maker at the maker's price.
func (e *Engine) matchLimit(taker, maker *model.LimitOrder, legacy bool) error {
	matchPrice := maker.SellPrice // maker's asset (base) per ours (quote)

	takerOffers := taker.AmountForSale()                    // in our sell asset
	makerNeeds := matchPrice.MulCeil(maker.AmountForSale()) // our asset the maker's stock absorbs

	var takerPays, takerReceives model.Asset
	if takerOffers.Amount.LessThan(makerNeeds.Amount) {
		// Taker is the smaller side.
		takerReceives = matchPrice.MulFloor(takerOffers)
		if takerReceives.IsZero() {
			if legacy {
				// Legacy rounding executes the dust trade as a pure give-away.
				takerPays = takerOffers
			} else {
				// Dust: the offer cannot buy a single unit. Cancel it
				// rather than let someone get something for nothing.
				return e.CancelLimitOrder(taker, false)
			}
		} else if legacy {
			takerPays = takerOffers
		} else {
			// Charge only what the received amount is worth, rounded in
			// the maker's favor.
			takerPays = matchPrice.MulCeil(takerReceives)
			if takerPays.Amount.GreaterThan(takerOffers.Amount) {
				takerPays = takerOffers
			}
		}
	} else {
		// Maker is consumed entirely.
		takerReceives = maker.AmountForSale()
		if legacy {
			takerPays = matchPrice.MulFloor(takerReceives)
		} else {
			takerPays = makerNeeds
			if takerPays.Amount.GreaterThan(takerOffers.Amount) {
				takerPays = takerOffers
			}
		}
	}

	if err := e.fillLimitOrder(taker, takerPays, takerReceives, false); err != nil {
		return err
	}
	return e.fillLimitOrder(maker, takerReceives, takerPays, true)
}

// fillLimitOrder executes one side of a fill: the order gives pays and its
// seller receives receives.
func (e *Engine) fillLimitOrder(order *model.LimitOrder, pays, receives model.Asset, isMaker bool) error {
	if pays.AssetID != order.SellAssetID() {
		return errors.New("matching: fill pays wrong asset")
	}
	if err := e.db.Modify(order.ID, func(obj model.Object) {
		o := obj.(*model.LimitOrder)
		o.ForSale = o.ForSale.Sub(pays.Amount)
	}); err != nil {
		return err
	}
	if err := e.db.AdjustBalance(order.Seller, receives); err != nil {
		return err
	}
	if pays.AssetID == model.CoreAssetID {
		if err := e.db.ModifyAccountStats(order.Seller, func(s *model.AccountStatistics) {
			s.TotalCoreInOrders = s.TotalCoreInOrders.Sub(pays.Amount)
		}); err != nil {
			return err
		}
	}
	metrics.FillsTotal.WithLabelValues("limit").Inc()
	e.emitFill(FillEvent{
		OrderID: order.ID, Account: order.Seller,
		Pays: pays, Receives: receives, IsMaker: isMaker,
	})
	slog.Debug("order filled",
		"order", order.ID.String(),
		"pays", pays.String(),
		"receives", receives.String(),
		"maker", isMaker,
	)
	if order.ForSale.IsZero() {
		return e.removeFilledOrder(order)
	}
	return nil
}

// removeFilledOrder retires a fully filled order and settles its deferred
// fee: the core value goes to the seller's pending fees, a non-core paid
// fee accumulates on its asset (its pool share was drawn at creation).
func (e *Engine) removeFilledOrder(order *model.LimitOrder) error {
	if order.DeferredFee.IsPositive() {
		fee := order.DeferredFee
		if err := e.db.ModifyAccountStats(order.Seller, func(s *model.AccountStatistics) {
			s.PendingFees = s.PendingFees.Add(fee)
		}); err != nil {
			return err
		}
	}
	if order.DeferredPaidFee.Amount.IsPositive() {
		feeAsset, ok := e.db.GetAsset(order.DeferredPaidFee.AssetID)
		if !ok {
			return errors.New("matching: deferred fee asset vanished")
		}
		amount := order.DeferredPaidFee.Amount
		if err := e.db.Modify(feeAsset.DynamicDataID, func(obj model.Object) {
			obj.(*model.AssetDynamicData).AccumulatedFees =
				obj.(*model.AssetDynamicData).AccumulatedFees.Add(amount)
		}); err != nil {
			return err
		}
	}
	return e.db.Remove(order.ID)
}

// CancelLimitOrder removes a standing order, refunding the unsold
// remainder and the deferred fee. createVirtual controls whether a fill
// event is emitted for subscribers; consensus state does not depend on it.
func (e *Engine) CancelLimitOrder(order *model.LimitOrder, createVirtual bool) error {
	refund := order.AmountForSale()
	if refund.Amount.IsPositive() {
		if err := e.db.AdjustBalance(order.Seller, refund); err != nil {
			return err
		}
		if refund.AssetID == model.CoreAssetID {
			if err := e.db.ModifyAccountStats(order.Seller, func(s *model.AccountStatistics) {
				s.TotalCoreInOrders = s.TotalCoreInOrders.Sub(refund.Amount)
			}); err != nil {
				return err
			}
		}
	}

	// Deferred fees were never collected; give them back. A non-core paid
	// fee returns to the seller and its core value to the asset's pool.
	if order.DeferredPaidFee.Amount.IsPositive() {
		if err := e.db.AdjustBalance(order.Seller, order.DeferredPaidFee); err != nil {
			return err
		}
		feeAsset, ok := e.db.GetAsset(order.DeferredPaidFee.AssetID)
		if !ok {
			return errors.New("matching: deferred fee asset vanished")
		}
		deferred := order.DeferredFee
		if err := e.db.Modify(feeAsset.DynamicDataID, func(obj model.Object) {
			obj.(*model.AssetDynamicData).FeePool =
				obj.(*model.AssetDynamicData).FeePool.Add(deferred)
		}); err != nil {
			return err
		}
	} else if order.DeferredFee.IsPositive() {
		if err := e.db.AdjustBalance(order.Seller,
			model.Asset{Amount: order.DeferredFee, AssetID: model.CoreAssetID}); err != nil {
			return err
		}
	}

	if createVirtual {
		e.emitFill(FillEvent{
			OrderID: order.ID, Account: order.Seller,
			Pays: refund, Receives: refund, IsMaker: true,
		})
	}
	return e.db.Remove(order.ID)
}

// SweepExpiredOrders cancels every order whose expiration has passed the
// chain's logical time. Run once per block.
func (e *Engine) SweepExpiredOrders() error {
	now := e.db.HeadBlockTime()
	for _, order := range e.db.LimitOrders() {
		if !order.Expiration.After(now) {
			if err := e.CancelLimitOrder(order, false); err != nil {
				return err
			}
			slog.Info("limit order expired", "order", order.ID.String(), "seller", order.Seller.String())
		}
	}
	return nil
}

// --- Margin calls ---

// CheckCallOrders executes any margin calls currently triggered in the
// asset's market, matching undercollateralized positions against standing
// limit orders bounded by the max short squeeze price. Returns true if at
// least one call was matched.
//
// When allowBlackSwan is false and aggregate collateral cannot cover the
// least-collateralized position, ErrBlackSwan is returned instead of
// settling the market.
func (e *Engine) CheckCallOrders(asset *model.AssetObject, allowBlackSwan, forNewLimitOrder bool, bita *model.BitassetData) (bool, error) {
	if bita == nil || !asset.IsMarketIssued() || bita.IsPredictionMarket {
		return false, nil
	}
	if bita.HasSettlement() || bita.CurrentFeed.SettlementPrice.IsNull() {
		return false, nil
	}

	// Black swan: the least collateralized position is under water at the
	// current feed.
	if least, ok := e.db.LeastCollateralizedCall(bita.AssetID); ok {
		waterline := bita.CurrentFeed.SettlementPrice.Invert() // collateral/debt
		if least.Collateralization().LessThan(waterline) {
			if !allowBlackSwan {
				return false, ErrBlackSwan
			}
			if err := e.GloballySettle(asset, bita); err != nil {
				return false, err
			}
			return true, nil
		}
	}

	mssp := pricemath.MaxShortSqueezePrice(bita.CurrentFeed) // debt/collateral floor
	calledSome := false

	calls := e.db.CallOrdersForAsset(bita.AssetID)
	sort.Slice(calls, func(i, j int) bool {
		cmp := calls[i].Collateralization().Cmp(calls[j].Collateralization())
		if cmp != 0 {
			return cmp < 0
		}
		return calls[i].ID.Instance < calls[j].ID.Instance
	})

	for _, call := range calls {
		for {
			current, ok := e.db.GetCallOrder(call.ID)
			if !ok {
				break // fully covered
			}
			if !current.Collateralization().LessThan(bita.CurrentMaintenanceCollateralization) {
				break // above water
			}
			matched, err := e.matchCallOnce(current, bita, mssp)
			if err != nil {
				return calledSome, err
			}
			if !matched {
				// No liquidity at or above the squeeze bound; later calls
				// face the same (empty) book.
				return calledSome, nil
			}
			calledSome = true
		}
	}
	_ = forNewLimitOrder // both paths share fill semantics
	return calledSome, nil
}

// matchCallOnce fills a margin-called position against the single best
// eligible limit order. Returns false when no order is eligible.
func (e *Engine) matchCallOnce(call *model.CallOrder, bita *model.BitassetData, mssp model.Price) (bool, error) {
	debtAsset := call.DebtAssetID()
	collateralAsset := call.CollateralAssetID()

	// Best order selling the debt asset for collateral: the one asking the
	// least collateral per unit of debt.
	orders := e.db.LimitOrdersSelling(debtAsset, collateralAsset)
	var best *model.LimitOrder
	for _, o := range orders {
		// Eligibility: the order's debt/collateral price is at or above
		// the max short squeeze bound.
		p := o.SellPrice
		if p.Base.Amount.Mul(mssp.Quote.Amount).LessThan(mssp.Base.Amount.Mul(p.Quote.Amount)) {
			continue
		}
		if best == nil {
			best = o
			continue
		}
		bp := best.SellPrice
		cmp := p.Base.Amount.Mul(bp.Quote.Amount).Cmp(bp.Base.Amount.Mul(p.Quote.Amount))
		if cmp > 0 || (cmp == 0 && o.ID.Instance < best.ID.Instance) {
			best = o
		}
	}
	if best == nil {
		return false, nil
	}

	matchPrice := best.SellPrice // debt (base) per collateral (quote)
	fillPrice := matchPrice.Invert()

	debtToCover := pricemath.DebtToCoverForTarget(
		call.Collateral, call.Debt, call.TargetCollateralRatio,
		bita.CurrentFeed.SettlementPrice, fillPrice)
	if debtToCover.GreaterThan(best.ForSale) {
		debtToCover = best.ForSale
	}
	debt := model.Asset{Amount: debtToCover, AssetID: debtAsset}
	collateralPaid := fillPrice.MulCeil(debt)
	if collateralPaid.Amount.GreaterThan(call.Collateral) {
		collateralPaid.Amount = call.Collateral
	}

	// The call gives collateral; the covered debt is burned.
	if err := e.db.Modify(call.ID, func(obj model.Object) {
		c := obj.(*model.CallOrder)
		c.Debt = c.Debt.Sub(debt.Amount)
		c.Collateral = c.Collateral.Sub(collateralPaid.Amount)
	}); err != nil {
		return false, err
	}
	dyn, ok := e.dynamicDataOf(debtAsset)
	if !ok {
		return false, errors.New("matching: debt asset missing dynamic data")
	}
	if err := e.db.Modify(dyn.ID, func(obj model.Object) {
		d := obj.(*model.AssetDynamicData)
		d.CurrentSupply = d.CurrentSupply.Sub(debt.Amount)
	}); err != nil {
		return false, err
	}
	if collateralAsset == model.CoreAssetID {
		if err := e.db.ModifyAccountStats(call.Borrower, func(s *model.AccountStatistics) {
			s.TotalCoreInOrders = s.TotalCoreInOrders.Sub(collateralPaid.Amount)
		}); err != nil {
			return false, err
		}
	}
	metrics.MarginCallsTotal.Inc()
	metrics.FillsTotal.WithLabelValues("call").Inc()
	e.emitFill(FillEvent{
		OrderID: call.ID, Account: call.Borrower,
		Pays: collateralPaid, Receives: debt, IsCall: true,
	})
	slog.Info("margin call executed",
		"call", call.ID.String(),
		"borrower", call.Borrower.String(),
		"debt_covered", debt.String(),
		"collateral_paid", collateralPaid.String(),
	)

	// The limit order sold its debt tokens for the call's collateral.
	if err := e.fillLimitOrder(best, debt, collateralPaid, true); err != nil {
		return false, err
	}

	// A fully covered position returns its leftover collateral.
	current, ok := e.db.GetCallOrder(call.ID)
	if !ok {
		return true, nil
	}
	if current.Debt.IsZero() {
		remainder := current.AmountCollateral()
		if remainder.Amount.IsPositive() {
			if err := e.db.AdjustBalance(current.Borrower, remainder); err != nil {
				return false, err
			}
			if remainder.AssetID == model.CoreAssetID {
				if err := e.db.ModifyAccountStats(current.Borrower, func(s *model.AccountStatistics) {
					s.TotalCoreInOrders = s.TotalCoreInOrders.Sub(remainder.Amount)
				}); err != nil {
					return false, err
				}
			}
		}
		if err := e.db.Remove(current.ID); err != nil {
			return false, err
		}
	} else if current.Collateral.IsZero() {
		return false, errors.New("matching: position stripped of collateral without covering debt")
	}
	return true, nil
}

func (e *Engine) dynamicDataOf(assetID model.ID) (*model.AssetDynamicData, bool) {
	asset, ok := e.db.GetAsset(assetID)
	if !ok {
		return nil, false
	}
	return e.db.GetAssetDynamicData(asset.DynamicDataID)
}

// --- Global settlement ---

// GloballySettle freezes a collateralized asset's market: every open
// position surrenders collateral worth its debt at the settle price into
// the settlement fund, keeps the remainder, and is closed. Afterwards only
// collateral bidding can reopen the market.
func (e *Engine) GloballySettle(asset *model.AssetObject, bita *model.BitassetData) error {
	least, ok := e.db.LeastCollateralizedCall(bita.AssetID)
	if !ok {
		return errors.New("matching: global settlement with no open positions")
	}
	// Settle at the least collateralized position's own ratio so the fund
	// exactly covers the outstanding debt.
	settlePrice := least.Collateralization().Invert() // debt/collateral
	perDebt := settlePrice.Invert()                   // collateral/debt

	fund := decimal.Zero
	for _, call := range e.db.CallOrdersForAsset(bita.AssetID) {
		taken := perDebt.MulCeil(call.AmountDebt())
		if taken.Amount.GreaterThan(call.Collateral) {
			taken.Amount = call.Collateral
		}
		remainder := call.Collateral.Sub(taken.Amount)

		if remainder.IsPositive() {
			if err := e.db.AdjustBalance(call.Borrower,
				model.Asset{Amount: remainder, AssetID: call.CollateralAssetID()}); err != nil {
				return err
			}
		}
		if call.CollateralAssetID() == model.CoreAssetID {
			total := call.Collateral
			if err := e.db.ModifyAccountStats(call.Borrower, func(s *model.AccountStatistics) {
				s.TotalCoreInOrders = s.TotalCoreInOrders.Sub(total)
			}); err != nil {
				return err
			}
		}
		fund = fund.Add(taken.Amount)
		if err := e.db.Remove(call.ID); err != nil {
			return err
		}
	}

	if err := e.db.Modify(bita.ID, func(obj model.Object) {
		b := obj.(*model.BitassetData)
		b.SettlementPrice = settlePrice
		b.SettlementFund = fund
	}); err != nil {
		return err
	}

	metrics.BlackSwansTotal.Inc()
	fundAsset := model.Asset{Amount: fund, AssetID: bita.Options.ShortBackingAsset}
	slog.Warn("global settlement",
		"asset", asset.Symbol,
		"settle_price", settlePrice.String(),
		"fund", fundAsset.String(),
	)
	if e.sink != nil {
		e.sink.GlobalSettlement(SettlementEvent{
			AssetID:     bita.AssetID,
			SettlePrice: settlePrice,
			Fund:        fundAsset,
		})
	}
	return nil
}
