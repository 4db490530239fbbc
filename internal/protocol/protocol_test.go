package protocol

import (
	"testing"
	"time"
)

func TestRulesAt_GenesisEra(t *testing.T) {
	early := utc("2016-01-01T00:00:00Z")
	r := RulesAt(early, early.Add(time.Hour))

	if r.CollateralBiddingLive {
		t.Error("collateral bidding should not be live at genesis")
	}
	if r.DeferLimitOrderFee {
		t.Error("limit order fees should be immediate at genesis")
	}
	if !r.LegacyMatching {
		t.Error("genesis uses legacy matching rounding")
	}
	if !r.RecheckCallsOnCancel {
		t.Error("genesis re-checks margin calls on cancel")
	}
	if !r.CachedCallPrice {
		t.Error("genesis caches call prices on positions")
	}
	if r.EnforceMaxSupply || r.CheckAssetAuthorization || r.RejectNearSqueeze {
		t.Error("late-era flags must be off at genesis")
	}
}

func TestRulesAt_ModernEra(t *testing.T) {
	now := utc("2026-01-01T00:00:00Z")
	r := RulesAt(now, now.Add(time.Hour))

	if r != CurrentRules() {
		t.Errorf("modern rule set should equal CurrentRules: got %+v", r)
	}
}

func TestRulesAt_MakerRoundingUsesMaintenanceClock(t *testing.T) {
	// Head block time past the cutover but the maintenance boundary not yet
	// reached: legacy matching must stay on.
	head := MakerRoundingTime.Add(time.Minute)
	maint := MakerRoundingTime
	r := RulesAt(head, maint)
	if !r.LegacyMatching {
		t.Error("rounding switches only at the maintenance boundary")
	}

	r = RulesAt(head, MakerRoundingTime.Add(time.Hour))
	if r.LegacyMatching {
		t.Error("past the maintenance boundary the new rounding applies")
	}
}

func TestRulesAt_DeferredFeeUsesHeadClock(t *testing.T) {
	head := DeferredFeeTime.Add(time.Second)
	// Maintenance boundary far in the past has no bearing on this flag.
	r := RulesAt(head, DeferredFeeTime.Add(-24*time.Hour))
	if !r.DeferLimitOrderFee {
		t.Error("deferred fees activate on head block time")
	}
}

func TestRulesAt_LazyCallPriceBoundary(t *testing.T) {
	before := RulesAt(LazyCallPriceTime, LazyCallPriceTime)
	if !before.CachedCallPrice {
		t.Error("at the boundary the cached call price is still in force")
	}
	after := RulesAt(LazyCallPriceTime, LazyCallPriceTime.Add(time.Hour))
	if after.CachedCallPrice {
		t.Error("past the boundary call prices are derived lazily")
	}
}

func TestCutoverOrdering(t *testing.T) {
	// The schedule is historical fact; a reordering is a programming error.
	seq := []time.Time{
		CollateralBiddingLiveTime,
		DeferredFeeTime,
		UnfilledCallAllowsCRIncreaseTime,
		FeePoolPaysNonCoreFeeTime,
		AssetAuthorizationTime,
		LazyCallPriceTime,
		SupplyCapTime,
		BidDeltaBalanceTime,
		BidDisableFlagTime,
		FeedlessCloseTime,
		SqueezeProtectionTime,
	}
	for i := 1; i < len(seq); i++ {
		if seq[i].Before(seq[i-1]) {
			t.Errorf("cutover %d precedes cutover %d", i, i-1)
		}
	}
}
