// Package model defines the chain object types shared across the evaluation
// engine. All monetary values use shopspring/decimal — never float64 for
// money. Objects live in the ledger arena and are addressed by stable IDs;
// evaluators receive handles, never owning references.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RatioDenom is the denominator for per-mille collateral ratios: an MCR of
// 1750 means 175%.
const RatioDenom = 1000

// Object is anything stored in the ledger arena. Clone must return a deep
// copy so the undo layer can restore prior versions byte-for-byte.
type Object interface {
	ObjectID() ID
	Clone() Object
}

// --- Accounts ---

// Account is a named principal that owns balances, orders, and positions.
type Account struct {
	ID           ID     `json:"id"`
	Name         string `json:"name"`
	StatisticsID ID     `json:"statistics_id"`
}

func (a *Account) ObjectID() ID { return a.ID }
func (a *Account) Clone() Object {
	c := *a
	return &c
}

// AccountStatistics is the per-account aggregate used for solvency
// accounting.
type AccountStatistics struct {
	ID    ID `json:"id"`
	Owner ID `json:"owner"`

	// TotalCoreInOrders is the core-asset value locked in open orders and
	// call positions.
	TotalCoreInOrders decimal.Decimal `json:"total_core_in_orders"`

	// PendingFees accumulates core fees charged to this account, swept at
	// maintenance.
	PendingFees decimal.Decimal `json:"pending_fees"`
}

func (s *AccountStatistics) ObjectID() ID { return s.ID }
func (s *AccountStatistics) Clone() Object {
	c := *s
	return &c
}

// AccountBalance holds one account's balance in one asset.
type AccountBalance struct {
	ID      ID              `json:"id"`
	Owner   ID              `json:"owner"`
	AssetID ID              `json:"asset_id"`
	Balance decimal.Decimal `json:"balance"`
}

func (b *AccountBalance) ObjectID() ID { return b.ID }
func (b *AccountBalance) Clone() Object {
	c := *b
	return &c
}

// --- Assets ---

// AssetOptions are the issuer-controlled parameters of an asset.
type AssetOptions struct {
	MaxSupply decimal.Decimal `json:"max_supply"`

	// CoreExchangeRate prices this asset against the core asset for fee
	// conversion via the fee pool. Base is this asset, quote is core.
	CoreExchangeRate Price `json:"core_exchange_rate"`

	// WhiteList gates transactions on the account lists below.
	WhiteList           bool        `json:"white_list"`
	WhitelistedAccounts map[ID]bool `json:"whitelisted_accounts,omitempty"`
	BlacklistedAccounts map[ID]bool `json:"blacklisted_accounts,omitempty"`

	// WhitelistMarkets / BlacklistMarkets restrict which assets this asset
	// may be sold for.
	WhitelistMarkets map[ID]bool `json:"whitelist_markets,omitempty"`
	BlacklistMarkets map[ID]bool `json:"blacklist_markets,omitempty"`

	DisableNewSupply         bool `json:"disable_new_supply"`
	DisableCollateralBidding bool `json:"disable_collateral_bidding"`
}

func cloneIDSet(m map[ID]bool) map[ID]bool {
	if m == nil {
		return nil
	}
	c := make(map[ID]bool, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// AssetObject describes one asset. Market-issued (collateralized) assets
// additionally carry a BitassetData object.
type AssetObject struct {
	ID            ID           `json:"id"`
	Symbol        string       `json:"symbol"`
	Issuer        ID           `json:"issuer"`
	Options       AssetOptions `json:"options"`
	DynamicDataID ID           `json:"dynamic_data_id"`

	// BitassetDataID is nil for user-issued assets.
	BitassetDataID *ID `json:"bitasset_data_id,omitempty"`
}

func (a *AssetObject) ObjectID() ID { return a.ID }
func (a *AssetObject) Clone() Object {
	c := *a
	c.Options.WhitelistedAccounts = cloneIDSet(a.Options.WhitelistedAccounts)
	c.Options.BlacklistedAccounts = cloneIDSet(a.Options.BlacklistedAccounts)
	c.Options.WhitelistMarkets = cloneIDSet(a.Options.WhitelistMarkets)
	c.Options.BlacklistMarkets = cloneIDSet(a.Options.BlacklistMarkets)
	if a.BitassetDataID != nil {
		id := *a.BitassetDataID
		c.BitassetDataID = &id
	}
	return &c
}

// IsMarketIssued reports whether the asset is collateralized.
func (a *AssetObject) IsMarketIssued() bool { return a.BitassetDataID != nil }

// CanCreateNewSupply reports whether borrowing may mint new supply.
func (a *AssetObject) CanCreateNewSupply() bool { return !a.Options.DisableNewSupply }

// CanBidCollateral reports whether collateral bidding is enabled.
func (a *AssetObject) CanBidCollateral() bool { return !a.Options.DisableCollateralBidding }

// AssetDynamicData is the mutable supply and fee-pool state of an asset.
type AssetDynamicData struct {
	ID              ID              `json:"id"`
	CurrentSupply   decimal.Decimal `json:"current_supply"`
	AccumulatedFees decimal.Decimal `json:"accumulated_fees"`
	FeePool         decimal.Decimal `json:"fee_pool"` // core asset
}

func (d *AssetDynamicData) ObjectID() ID { return d.ID }
func (d *AssetDynamicData) Clone() Object {
	c := *d
	return &c
}

// --- Bitasset (market-issued asset) data ---

// BlackSwanResponse is the per-asset policy for how margin calls and feed
// updates interact with settlement risk.
type BlackSwanResponse uint8

const (
	// BSRMGlobalSettlement freezes the market at a fixed price when
	// aggregate collateral cannot cover aggregate debt.
	BSRMGlobalSettlement BlackSwanResponse = iota

	// BSRMNoSettlement clamps the feed to the least-collateralized
	// position instead of settling.
	BSRMNoSettlement
)

// PriceFeed is one publisher's view of a collateralized asset's market.
// SettlementPrice is quoted debt/collateral.
type PriceFeed struct {
	SettlementPrice            Price  `json:"settlement_price"`
	MaintenanceCollateralRatio uint16 `json:"maintenance_collateral_ratio"` // per mille
	MaximumShortSqueezeRatio   uint16 `json:"maximum_short_squeeze_ratio"`  // per mille
}

// TimestampedFeed is a published feed with its publication time.
type TimestampedFeed struct {
	Feed        PriceFeed `json:"feed"`
	PublishedAt time.Time `json:"published_at"`
}

// BitassetOptions are the market parameters of a collateralized asset.
type BitassetOptions struct {
	ShortBackingAsset ID            `json:"short_backing_asset"`
	FeedLifetime      time.Duration `json:"feed_lifetime"`
	MinimumFeeds      int           `json:"minimum_feeds"`

	// InitialCollateralRatio, when set, raises the entry threshold above
	// the maintenance ratio (per mille).
	InitialCollateralRatio *uint16 `json:"initial_collateral_ratio,omitempty"`

	BlackSwanResponse BlackSwanResponse `json:"black_swan_response"`
}

// BitassetData holds the live feed and settlement state of a market-issued
// asset.
type BitassetData struct {
	ID      ID              `json:"id"`
	AssetID ID              `json:"asset_id"`
	Options BitassetOptions `json:"options"`

	Feeds map[ID]TimestampedFeed `json:"feeds,omitempty"` // publisher -> feed

	// MedianFeed is the median of valid published feeds; CurrentFeed is the
	// median possibly clamped by the no-settlement response.
	MedianFeed  PriceFeed `json:"median_feed"`
	CurrentFeed PriceFeed `json:"current_feed"`

	// Derived thresholds, collateral/debt, recomputed on every feed change.
	CurrentMaintenanceCollateralization Price `json:"current_maintenance_collateralization"`
	CurrentInitialCollateralization     Price `json:"current_initial_collateralization"`

	IsPredictionMarket bool `json:"is_prediction_market"`

	// Global settlement state. SettlementPrice (debt/collateral) is set
	// exactly when the asset is frozen.
	SettlementPrice Price           `json:"settlement_price"`
	SettlementFund  decimal.Decimal `json:"settlement_fund"` // backing asset
}

func (b *BitassetData) ObjectID() ID { return b.ID }
func (b *BitassetData) Clone() Object {
	c := *b
	if b.Feeds != nil {
		c.Feeds = make(map[ID]TimestampedFeed, len(b.Feeds))
		for k, v := range b.Feeds {
			c.Feeds[k] = v
		}
	}
	if b.Options.InitialCollateralRatio != nil {
		icr := *b.Options.InitialCollateralRatio
		c.Options.InitialCollateralRatio = &icr
	}
	return &c
}

// HasSettlement reports whether the asset has been globally settled.
func (b *BitassetData) HasSettlement() bool { return !b.SettlementPrice.IsNull() }

// --- Orders and positions ---

// LimitOrder is a standing offer to sell SellPrice.Base for SellPrice.Quote.
// ForSale is the remaining amount of the base asset.
type LimitOrder struct {
	ID         ID              `json:"id"`
	Seller     ID              `json:"seller"`
	ForSale    decimal.Decimal `json:"for_sale"`
	SellPrice  Price           `json:"sell_price"`
	Expiration time.Time       `json:"expiration"`

	// DeferredFee is the core fee charged when the order is filled or
	// cancelled rather than when it is created. DeferredPaidFee is the
	// original fee amount when it was paid in a non-core asset.
	DeferredFee     decimal.Decimal `json:"deferred_fee"`
	DeferredPaidFee Asset           `json:"deferred_paid_fee"`
}

func (o *LimitOrder) ObjectID() ID { return o.ID }
func (o *LimitOrder) Clone() Object {
	c := *o
	return &c
}

// AmountForSale returns the remaining base amount on offer.
func (o *LimitOrder) AmountForSale() Asset {
	return Asset{Amount: o.ForSale, AssetID: o.SellPrice.Base.AssetID}
}

// AmountToReceive returns what the remaining amount buys at the sell price.
func (o *LimitOrder) AmountToReceive() Asset {
	return o.SellPrice.MulFloor(o.AmountForSale())
}

func (o *LimitOrder) SellAssetID() ID    { return o.SellPrice.Base.AssetID }
func (o *LimitOrder) ReceiveAssetID() ID { return o.SellPrice.Quote.AssetID }

// CallOrder is an open collateralized debt position: Collateral of the
// backing asset borrowed against Debt of the market-issued asset.
type CallOrder struct {
	ID         ID              `json:"id"`
	Borrower   ID              `json:"borrower"`
	Collateral decimal.Decimal `json:"collateral"`
	Debt       decimal.Decimal `json:"debt"`

	// CallPrice is only meaningful while the cached-call-price rules are
	// active; afterwards it is pinned to the unit sentinel and the trigger
	// price is derived from the feed on demand.
	CallPrice Price `json:"call_price"` // collateral/debt

	TargetCollateralRatio *uint16 `json:"target_collateral_ratio,omitempty"`
}

func (c *CallOrder) ObjectID() ID { return c.ID }
func (c *CallOrder) Clone() Object {
	cp := *c
	if c.TargetCollateralRatio != nil {
		tcr := *c.TargetCollateralRatio
		cp.TargetCollateralRatio = &tcr
	}
	return &cp
}

func (c *CallOrder) CollateralAssetID() ID { return c.CallPrice.Base.AssetID }
func (c *CallOrder) DebtAssetID() ID       { return c.CallPrice.Quote.AssetID }

// AmountCollateral returns the collateral as a typed amount.
func (c *CallOrder) AmountCollateral() Asset {
	return Asset{Amount: c.Collateral, AssetID: c.CollateralAssetID()}
}

// AmountDebt returns the debt as a typed amount.
func (c *CallOrder) AmountDebt() Asset {
	return Asset{Amount: c.Debt, AssetID: c.DebtAssetID()}
}

// Collateralization returns collateral/debt as a price.
func (c *CallOrder) Collateralization() Price {
	return Price{Base: c.AmountCollateral(), Quote: c.AmountDebt()}
}

// CollateralBid is a standing bid to supply collateral for settled debt
// after a global settlement. InvSwanPrice is additional collateral (base)
// per debt covered (quote).
type CollateralBid struct {
	ID           ID    `json:"id"`
	Bidder       ID    `json:"bidder"`
	InvSwanPrice Price `json:"inv_swan_price"`
}

func (b *CollateralBid) ObjectID() ID { return b.ID }
func (b *CollateralBid) Clone() Object {
	c := *b
	return &c
}

func (b *CollateralBid) DebtAssetID() ID { return b.InvSwanPrice.Quote.AssetID }

// AdditionalCollateral returns the collateral currently posted by the bid.
func (b *CollateralBid) AdditionalCollateral() Asset { return b.InvSwanPrice.Base }

// DebtCovered returns the settled debt the bid offers to take over.
func (b *CollateralBid) DebtCovered() Asset { return b.InvSwanPrice.Quote }
