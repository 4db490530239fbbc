package pricemath

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/openledger/chain-engine/internal/model"
)

var (
	core = model.ID{Type: model.TypeAsset, Instance: 0}
	usd  = model.ID{Type: model.TypeAsset, Instance: 1}
)

// d is a test helper for creating integral decimals.
func d(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

func feedPrice(debt, collateral int64) model.Price {
	return model.Price{
		Base:  model.Asset{Amount: d(debt), AssetID: usd},
		Quote: model.Asset{Amount: d(collateral), AssetID: core},
	}
}

// --- Call price ---

func TestCallPrice_MatchesManualRatio(t *testing.T) {
	// collateral 1000, debt 400, MCR 1750 → call price 1000/(400*1.75) = 1000/700.
	cp := CallPrice(
		model.Asset{Amount: d(400), AssetID: usd},
		model.Asset{Amount: d(1000), AssetID: core},
		1750,
	)
	want := model.Price{
		Base:  model.Asset{Amount: d(1000000), AssetID: core},
		Quote: model.Asset{Amount: d(700000), AssetID: usd},
	}
	if !cp.Equal(want) {
		t.Errorf("call price = %s, want %s", cp, want)
	}
}

func TestUnitCallPrice_PreservesPair(t *testing.T) {
	p := UnitCallPrice(core, usd)
	if p.Base.AssetID != core || p.Quote.AssetID != usd {
		t.Errorf("unit call price lost the asset pair: %s", p)
	}
	if p.IsNull() {
		t.Error("unit call price must not be null")
	}
}

// --- Max short squeeze price ---

func TestMaxShortSqueezePrice(t *testing.T) {
	// Feed 1 USD = 2 CORE, MSSR 1100 → mssp = feed * 1000/1100.
	feed := model.PriceFeed{
		SettlementPrice:          feedPrice(1, 2),
		MaximumShortSqueezeRatio: 1100,
	}
	mssp := MaxShortSqueezePrice(feed)
	// mssp should be below the feed price: fewer USD per CORE.
	if !mssp.LessThan(feed.SettlementPrice) {
		t.Errorf("mssp %s should be below the feed %s", mssp, feed.SettlementPrice)
	}
	// Exactly 1000/2200.
	want := model.Price{
		Base:  model.Asset{Amount: d(1000), AssetID: usd},
		Quote: model.Asset{Amount: d(2200), AssetID: core},
	}
	if !mssp.Equal(want) {
		t.Errorf("mssp = %s, want %s", mssp, want)
	}
}

// --- Collateralization threshold ---

func TestCollateralizationThreshold_ClassifiesPositions(t *testing.T) {
	// Feed 1 USD = 2 CORE, MCR 1750 → threshold 3.5 CORE per USD.
	threshold := CollateralizationThreshold(feedPrice(1, 2), 1750)

	healthy := Collateralization(
		model.Asset{Amount: d(1000), AssetID: core},
		model.Asset{Amount: d(200), AssetID: usd},
	) // 5 CORE per USD
	if healthy.LessThan(threshold) {
		t.Errorf("5 CORE/USD should be above the 3.5 threshold")
	}

	callable := Collateralization(
		model.Asset{Amount: d(600), AssetID: core},
		model.Asset{Amount: d(200), AssetID: usd},
	) // 3 CORE per USD
	if !callable.LessThan(threshold) {
		t.Errorf("3 CORE/USD should be below the 3.5 threshold")
	}
}

// --- Target collateral ratio solve ---

func TestDebtToCoverForTarget_NilTargetCoversAll(t *testing.T) {
	got := DebtToCoverForTarget(d(1000), d(400), nil, feedPrice(1, 2), feedPrice(1, 2).Invert())
	if !got.Equal(d(400)) {
		t.Errorf("no target should cover the full debt: got %s", got)
	}
}

func TestDebtToCoverForTarget_PartialCover(t *testing.T) {
	// Position: 1000 CORE collateral, 400 USD debt (CR 2.5 at feed 1:2 →
	// ratio 1.25 of the 2-CORE parity). Target 2000 (200%): cover d so that
	// (1000 - 2d) >= 2.0 * 2 * (400 - d)  →  1000 - 2d >= 1600 - 4d  →
	// d >= 300.
	target := uint16(2000)
	fill := model.Price{ // pays 2 CORE per USD covered
		Base:  model.Asset{Amount: d(2), AssetID: core},
		Quote: model.Asset{Amount: d(1), AssetID: usd},
	}
	got := DebtToCoverForTarget(d(1000), d(400), &target, feedPrice(1, 2), fill)
	if !got.Equal(d(300)) {
		t.Errorf("expected 300 debt to cover, got %s", got)
	}
}

func TestDebtToCoverForTarget_UnreachableTargetCoversAll(t *testing.T) {
	// Fill price worse than what the target requires: covering can never
	// restore the ratio, so the whole debt is covered.
	target := uint16(2000)
	fill := model.Price{ // pays 5 CORE per USD covered
		Base:  model.Asset{Amount: d(5), AssetID: core},
		Quote: model.Asset{Amount: d(1), AssetID: usd},
	}
	got := DebtToCoverForTarget(d(1000), d(400), &target, feedPrice(1, 2), fill)
	if !got.Equal(d(400)) {
		t.Errorf("unreachable target should cover the full debt: got %s", got)
	}
}

func TestDebtToCoverForTarget_AlreadyAtTarget(t *testing.T) {
	// CR already far above target → nothing to solve; full debt returned
	// and the caller's margin-callable check prevents any fill.
	target := uint16(1200)
	fill := model.Price{
		Base:  model.Asset{Amount: d(2), AssetID: core},
		Quote: model.Asset{Amount: d(1), AssetID: usd},
	}
	got := DebtToCoverForTarget(d(10000), d(400), &target, feedPrice(1, 2), fill)
	if !got.Equal(d(400)) {
		t.Errorf("met target should return full debt: got %s", got)
	}
}

// --- Increasing CR classification ---

func TestIsIncreasingCR(t *testing.T) {
	oldColl := Collateralization(
		model.Asset{Amount: d(600), AssetID: core},
		model.Asset{Amount: d(200), AssetID: usd},
	)
	oldDebt := d(200)

	better := Collateralization(
		model.Asset{Amount: d(800), AssetID: core},
		model.Asset{Amount: d(200), AssetID: usd},
	)
	if !IsIncreasingCR(&oldColl, &oldDebt, better, d(200)) {
		t.Error("adding collateral at equal debt should classify as increasing CR")
	}

	moreDebt := Collateralization(
		model.Asset{Amount: d(900), AssetID: core},
		model.Asset{Amount: d(250), AssetID: usd},
	)
	if IsIncreasingCR(&oldColl, &oldDebt, moreDebt, d(250)) {
		t.Error("increasing debt can never classify as increasing CR")
	}

	if IsIncreasingCR(nil, nil, better, d(200)) {
		t.Error("a brand-new position has nothing to increase from")
	}
}
