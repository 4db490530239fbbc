package feed

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openledger/chain-engine/internal/ledger"
	"github.com/openledger/chain-engine/internal/model"
)

var (
	coreID = model.ID{Type: model.TypeAsset, Instance: 0}
	now    = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
)

// d is a test helper for creating integral decimals.
func d(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

func feedAt(debt, collateral int64, debtID model.ID, mcr, mssr uint16) model.PriceFeed {
	return model.PriceFeed{
		SettlementPrice: model.Price{
			Base:  model.Asset{Amount: d(debt), AssetID: debtID},
			Quote: model.Asset{Amount: d(collateral), AssetID: coreID},
		},
		MaintenanceCollateralRatio: mcr,
		MaximumShortSqueezeRatio:   mssr,
	}
}

// newBitasset sets up an arena holding a collateralized asset backed by the
// core asset and returns the arena with the bitasset's id.
func newBitasset(t *testing.T, opts model.BitassetOptions) (*ledger.Database, model.ID, model.ID) {
	t.Helper()
	db := ledger.NewDatabase(now, now.Add(time.Hour))

	assetID := model.ID{Type: model.TypeAsset, Instance: 1}
	bita := &model.BitassetData{
		ID:      db.NewID(model.TypeBitassetData),
		AssetID: assetID,
		Options: opts,
	}
	if err := db.Insert(bita); err != nil {
		t.Fatalf("insert bitasset: %v", err)
	}
	return db, bita.ID, assetID
}

func publisher(n uint64) model.ID {
	return model.ID{Type: model.TypeAccount, Instance: n}
}

func TestPublishFeed_SingleFeedBecomesCurrent(t *testing.T) {
	db, bitaID, _ := newBitasset(t, model.BitassetOptions{
		ShortBackingAsset: coreID,
		FeedLifetime:      24 * time.Hour,
		MinimumFeeds:      1,
	})
	usd := model.ID{Type: model.TypeAsset, Instance: 1}

	f := feedAt(1, 2, usd, 1750, 1100)
	if err := PublishFeed(db, bitaID, publisher(1), f); err != nil {
		t.Fatalf("publish: %v", err)
	}

	bita, _ := db.GetBitassetData(bitaID)
	if !bita.CurrentFeed.SettlementPrice.Equal(f.SettlementPrice) {
		t.Errorf("current feed = %s, want %s", bita.CurrentFeed.SettlementPrice, f.SettlementPrice)
	}
	if bita.CurrentMaintenanceCollateralization.IsNull() {
		t.Error("a live feed must derive a maintenance threshold")
	}
}

func TestMedian_PicksMiddlePerComponent(t *testing.T) {
	db, bitaID, _ := newBitasset(t, model.BitassetOptions{
		ShortBackingAsset: coreID,
		FeedLifetime:      24 * time.Hour,
		MinimumFeeds:      1,
	})
	usd := model.ID{Type: model.TypeAsset, Instance: 1}

	// Prices 1/2, 1/3, 1/4; MCRs 1750/1800/1600; MSSRs 1100/1200/1050. Each
	// component medians independently.
	feeds := []model.PriceFeed{
		feedAt(1, 2, usd, 1750, 1100),
		feedAt(1, 3, usd, 1800, 1200),
		feedAt(1, 4, usd, 1600, 1050),
	}
	for i, f := range feeds {
		if err := PublishFeed(db, bitaID, publisher(uint64(i)), f); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}

	bita, _ := db.GetBitassetData(bitaID)
	got := bita.CurrentFeed
	if !got.SettlementPrice.Equal(feeds[1].SettlementPrice) {
		t.Errorf("median price = %s, want 1/3", got.SettlementPrice)
	}
	if got.MaintenanceCollateralRatio != 1750 {
		t.Errorf("median MCR = %d, want 1750", got.MaintenanceCollateralRatio)
	}
	if got.MaximumShortSqueezeRatio != 1100 {
		t.Errorf("median MSSR = %d, want 1100", got.MaximumShortSqueezeRatio)
	}
}

func TestMedian_BelowMinimumFeedsIsNull(t *testing.T) {
	db, bitaID, _ := newBitasset(t, model.BitassetOptions{
		ShortBackingAsset: coreID,
		FeedLifetime:      24 * time.Hour,
		MinimumFeeds:      2,
	})
	usd := model.ID{Type: model.TypeAsset, Instance: 1}

	if err := PublishFeed(db, bitaID, publisher(1), feedAt(1, 2, usd, 1750, 1100)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	bita, _ := db.GetBitassetData(bitaID)
	if !bita.CurrentFeed.SettlementPrice.IsNull() {
		t.Error("one feed below the minimum of two must leave the feed null")
	}
	if !bita.CurrentMaintenanceCollateralization.IsNull() {
		t.Error("a null feed derives no maintenance threshold")
	}

	// The second publisher tips the market over the minimum.
	if err := PublishFeed(db, bitaID, publisher(2), feedAt(1, 2, usd, 1750, 1100)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	bita, _ = db.GetBitassetData(bitaID)
	if bita.CurrentFeed.SettlementPrice.IsNull() {
		t.Error("meeting the minimum should produce a live feed")
	}
}

func TestMedian_IgnoresExpiredFeeds(t *testing.T) {
	db, bitaID, _ := newBitasset(t, model.BitassetOptions{
		ShortBackingAsset: coreID,
		FeedLifetime:      time.Hour,
		MinimumFeeds:      1,
	})
	usd := model.ID{Type: model.TypeAsset, Instance: 1}

	// One fresh feed, one two hours stale.
	if err := db.Modify(bitaID, func(obj model.Object) {
		b := obj.(*model.BitassetData)
		b.Feeds = map[model.ID]model.TimestampedFeed{
			publisher(1): {Feed: feedAt(1, 2, usd, 1750, 1100), PublishedAt: now},
			publisher(2): {Feed: feedAt(1, 9, usd, 2500, 1500), PublishedAt: now.Add(-2 * time.Hour)},
		}
	}); err != nil {
		t.Fatalf("seed feeds: %v", err)
	}
	if err := UpdateCurrentFeed(db, bitaID, false); err != nil {
		t.Fatalf("update: %v", err)
	}

	bita, _ := db.GetBitassetData(bitaID)
	want := feedAt(1, 2, usd, 1750, 1100)
	if !bita.CurrentFeed.SettlementPrice.Equal(want.SettlementPrice) {
		t.Errorf("expired feed leaked into the median: got %s", bita.CurrentFeed.SettlementPrice)
	}
	if bita.CurrentFeed.MaintenanceCollateralRatio != 1750 {
		t.Errorf("expired MCR leaked into the median: got %d", bita.CurrentFeed.MaintenanceCollateralRatio)
	}
}

func TestNoSettlementClamp_PinsFeedToWeakestPosition(t *testing.T) {
	db, bitaID, assetID := newBitasset(t, model.BitassetOptions{
		ShortBackingAsset: coreID,
		FeedLifetime:      24 * time.Hour,
		MinimumFeeds:      1,
		BlackSwanResponse: model.BSRMNoSettlement,
	})

	// Position: 300 CORE collateral, 100 debt → CR 3.
	call := &model.CallOrder{
		ID:         db.NewID(model.TypeCallOrder),
		Borrower:   publisher(9),
		Collateral: d(300),
		Debt:       d(100),
		CallPrice: model.Price{
			Base:  model.Asset{Amount: d(1), AssetID: coreID},
			Quote: model.Asset{Amount: d(1), AssetID: assetID},
		},
	}
	if err := db.Insert(call); err != nil {
		t.Fatalf("insert call: %v", err)
	}

	// Feed 1 debt = 4 CORE would put the position under water (needs CR 4).
	if err := PublishFeed(db, bitaID, publisher(1), feedAt(1, 4, assetID, 1750, 1100)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	bita, _ := db.GetBitassetData(bitaID)
	want := call.Collateralization().Invert()
	if !bita.CurrentFeed.SettlementPrice.Equal(want) {
		t.Errorf("clamped feed = %s, want %s", bita.CurrentFeed.SettlementPrice, want)
	}
	// The median itself keeps the published value.
	if !bita.MedianFeed.SettlementPrice.Equal(feedAt(1, 4, assetID, 0, 0).SettlementPrice) {
		t.Errorf("median should keep the raw published price: got %s", bita.MedianFeed.SettlementPrice)
	}
}

func TestNoSettlementClamp_InactiveWhenHealthy(t *testing.T) {
	db, bitaID, assetID := newBitasset(t, model.BitassetOptions{
		ShortBackingAsset: coreID,
		FeedLifetime:      24 * time.Hour,
		MinimumFeeds:      1,
		BlackSwanResponse: model.BSRMNoSettlement,
	})

	call := &model.CallOrder{
		ID:         db.NewID(model.TypeCallOrder),
		Borrower:   publisher(9),
		Collateral: d(1000),
		Debt:       d(100),
		CallPrice: model.Price{
			Base:  model.Asset{Amount: d(1), AssetID: coreID},
			Quote: model.Asset{Amount: d(1), AssetID: assetID},
		},
	}
	if err := db.Insert(call); err != nil {
		t.Fatalf("insert call: %v", err)
	}

	f := feedAt(1, 4, assetID, 1750, 1100)
	if err := PublishFeed(db, bitaID, publisher(1), f); err != nil {
		t.Fatalf("publish: %v", err)
	}

	bita, _ := db.GetBitassetData(bitaID)
	if !bita.CurrentFeed.SettlementPrice.Equal(f.SettlementPrice) {
		t.Errorf("healthy market should pass the median through: got %s",
			bita.CurrentFeed.SettlementPrice)
	}
}
