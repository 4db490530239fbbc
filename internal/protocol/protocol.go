// Package protocol centralizes the chain's consensus-rule history. Each
// upgrade is a fixed UTC cutover timestamp; RulesAt resolves the full flag
// table once per block from the block's logical times. Business logic
// branches on the flags, never on raw time comparisons and never on the
// wall clock, so historical blocks replay with the rules of their era.
package protocol

import "time"

func utc(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic("protocol: bad cutover timestamp: " + err.Error())
	}
	return t
}

// Upgrade schedule. Cutovers compared against the head block time use the
// block timestamp; cutovers compared against the next maintenance time
// activate at the maintenance interval boundary. Which clock applies is a
// historical fact per upgrade and must not be normalized.
var (
	// CollateralBiddingLiveTime enables collateral bidding at all.
	CollateralBiddingLiveTime = utc("2016-03-23T00:00:00Z")

	// DeferredFeeTime switches limit order creation fees from immediate
	// payment to a deferred fee settled on fill or cancel. (head time)
	DeferredFeeTime = utc("2016-06-15T00:00:00Z")

	// UnfilledCallAllowsCRIncreaseTime relaxes the margin-call aftermath:
	// an update that only increases collateral ratio may stand even when
	// no call was filled. (head time)
	UnfilledCallAllowsCRIncreaseTime = utc("2017-11-09T14:00:00Z")

	// FeePoolPaysNonCoreFeeTime moves non-core fee conversion from the
	// classic path to a direct fee-pool deduction, and stops the
	// cancel-time margin-call recheck. (head time for fee conversion,
	// maintenance time for the recheck and matching rounding below)
	FeePoolPaysNonCoreFeeTime = utc("2018-01-23T04:00:00Z")

	// CancelRecheckRetiredTime stops re-checking margin calls on both pair
	// assets when a limit order is cancelled. (maintenance time)
	CancelRecheckRetiredTime = utc("2018-01-23T04:00:00Z")

	// MakerRoundingTime replaces taker-favoring fill truncation with
	// maker-favoring rounding and dust culling. (maintenance time)
	MakerRoundingTime = utc("2018-01-23T04:00:00Z")

	// AssetAuthorizationTime extends whitelist/blacklist authorization
	// checks to the debt and collateral assets of margin and bid
	// operations. (head time)
	AssetAuthorizationTime = utc("2018-09-26T12:00:00Z")

	// LazyCallPriceTime stops caching call prices on positions; trigger
	// prices are derived from the feed on demand and the stored call price
	// becomes a unit sentinel. Entry checks switch from the cached price
	// to the initial-collateralization threshold. (maintenance time)
	LazyCallPriceTime = utc("2019-01-10T10:00:00Z")

	// SupplyCapTime starts enforcing max supply on borrow; positions that
	// exceeded it earlier remain valid history. (maintenance time)
	SupplyCapTime = utc("2019-03-28T00:00:00Z")

	// BidDeltaBalanceTime charges a bid increase only the delta against
	// the existing bid instead of the full new amount. (head time)
	BidDeltaBalanceTime = utc("2019-07-15T00:00:00Z")

	// BidDisableFlagTime honors the per-asset collateral-bidding disable
	// flag. (maintenance time)
	BidDisableFlagTime = utc("2021-04-08T00:00:00Z")

	// FeedlessCloseTime allows closing a position outright when the asset
	// has no valid price feed, and switches the post-match survivor check
	// to the initial collateral ratio. (maintenance time)
	FeedlessCloseTime = utc("2022-03-09T02:00:00Z")

	// SqueezeProtectionTime rejects any new or updated position whose
	// collateralization would instantly trigger a black swan, i.e. at or
	// below the inverted max short squeeze price. (maintenance time)
	SqueezeProtectionTime = utc("2022-10-27T02:00:00Z")
)

// Rules is the active consensus rule set for one block. Construct it via
// RulesAt, or directly in tests to exercise a specific era without
// manipulating clocks.
type Rules struct {
	// Fees.
	CollateralBiddingLive bool
	DeferLimitOrderFee    bool
	FeePoolPaysNonCoreFee bool

	// Matching.
	LegacyMatching       bool
	RecheckCallsOnCancel bool

	// Call positions.
	CachedCallPrice         bool
	EnforceMaxSupply        bool
	CheckAssetAuthorization bool
	AllowFeedlessClose      bool
	AllowCRIncreaseUnfilled bool
	ICRAfterMatchCheck      bool
	RejectNearSqueeze       bool

	// Collateral bids.
	BidDeltaBalance   bool
	RequireBidEnabled bool
}

// RulesAt resolves the rule set for a block with the given head block time
// and next maintenance time.
func RulesAt(headBlockTime, nextMaintenanceTime time.Time) Rules {
	return Rules{
		CollateralBiddingLive: headBlockTime.After(CollateralBiddingLiveTime),
		DeferLimitOrderFee:    headBlockTime.After(DeferredFeeTime),
		FeePoolPaysNonCoreFee: headBlockTime.After(FeePoolPaysNonCoreFeeTime),

		LegacyMatching:       !nextMaintenanceTime.After(MakerRoundingTime),
		RecheckCallsOnCancel: !nextMaintenanceTime.After(CancelRecheckRetiredTime),

		CachedCallPrice:         !nextMaintenanceTime.After(LazyCallPriceTime),
		EnforceMaxSupply:        nextMaintenanceTime.After(SupplyCapTime),
		CheckAssetAuthorization: headBlockTime.After(AssetAuthorizationTime),
		AllowFeedlessClose:      nextMaintenanceTime.After(FeedlessCloseTime),
		AllowCRIncreaseUnfilled: headBlockTime.After(UnfilledCallAllowsCRIncreaseTime),
		ICRAfterMatchCheck:      nextMaintenanceTime.After(FeedlessCloseTime),
		RejectNearSqueeze:       nextMaintenanceTime.After(SqueezeProtectionTime),

		BidDeltaBalance:   !headBlockTime.Before(BidDeltaBalanceTime),
		RequireBidEnabled: nextMaintenanceTime.After(BidDisableFlagTime),
	}
}

// CurrentRules returns the rule set with every upgrade active, the set a
// block produced today runs under.
func CurrentRules() Rules {
	return Rules{
		CollateralBiddingLive:   true,
		DeferLimitOrderFee:      true,
		FeePoolPaysNonCoreFee:   true,
		CachedCallPrice:         false,
		EnforceMaxSupply:        true,
		CheckAssetAuthorization: true,
		AllowFeedlessClose:      true,
		AllowCRIncreaseUnfilled: true,
		ICRAfterMatchCheck:      true,
		RejectNearSqueeze:       true,
		BidDeltaBalance:         true,
		RequireBidEnabled:       true,
	}
}
