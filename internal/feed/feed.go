// Package feed maintains the live price feed of collateralized assets:
// median aggregation over published feeds and the derived margin-call and
// entry thresholds, including the no-settlement clamp that pins the feed
// to the least-collateralized position instead of settling the market.
package feed

import (
	"sort"
	"time"

	"github.com/openledger/chain-engine/internal/ledger"
	"github.com/openledger/chain-engine/internal/model"
	"github.com/openledger/chain-engine/internal/pricemath"
)

// PublishFeed records one publisher's feed and refreshes the asset's
// median and current feed.
func PublishFeed(db *ledger.Database, bitassetID, publisher model.ID, f model.PriceFeed) error {
	now := db.HeadBlockTime()
	if err := db.Modify(bitassetID, func(obj model.Object) {
		b := obj.(*model.BitassetData)
		if b.Feeds == nil {
			b.Feeds = make(map[model.ID]model.TimestampedFeed)
		}
		b.Feeds[publisher] = model.TimestampedFeed{Feed: f, PublishedAt: now}
	}); err != nil {
		return err
	}
	return UpdateCurrentFeed(db, bitassetID, false)
}

// UpdateCurrentFeed refreshes a bitasset's current feed and derived
// thresholds. Unless skipMedianUpdate is set, the median is recomputed
// from the published feeds first; callers that only need the
// no-settlement clamp re-applied (the feed itself unchanged) skip the
// median pass.
func UpdateCurrentFeed(db *ledger.Database, bitassetID model.ID, skipMedianUpdate bool) error {
	bita, ok := db.GetBitassetData(bitassetID)
	if !ok {
		return nil
	}

	median := bita.MedianFeed
	if !skipMedianUpdate {
		median = medianFeed(bita, db.HeadBlockTime())
	}

	current := median
	if bita.Options.BlackSwanResponse == model.BSRMNoSettlement && !median.SettlementPrice.IsNull() {
		// Never let the feed imply a black swan: cap it at the least
		// collateralized position's own ratio.
		if least, ok := db.LeastCollateralizedCall(bita.AssetID); ok {
			floor := median.SettlementPrice.Invert() // collateral/debt
			if least.Collateralization().LessThan(floor) {
				current.SettlementPrice = least.Collateralization().Invert()
			}
		}
	}

	return db.Modify(bitassetID, func(obj model.Object) {
		b := obj.(*model.BitassetData)
		b.MedianFeed = median
		b.CurrentFeed = current
		if current.SettlementPrice.IsNull() {
			b.CurrentMaintenanceCollateralization = model.NullPrice
			b.CurrentInitialCollateralization = model.NullPrice
			return
		}
		b.CurrentMaintenanceCollateralization = pricemath.CollateralizationThreshold(
			current.SettlementPrice, current.MaintenanceCollateralRatio)
		icr := current.MaintenanceCollateralRatio
		if b.Options.InitialCollateralRatio != nil && *b.Options.InitialCollateralRatio > icr {
			icr = *b.Options.InitialCollateralRatio
		}
		b.CurrentInitialCollateralization = pricemath.CollateralizationThreshold(
			current.SettlementPrice, icr)
	})
}

// medianFeed aggregates the valid published feeds. Fewer valid feeds than
// the asset's minimum yields a null feed, which disables borrowing.
func medianFeed(bita *model.BitassetData, now time.Time) model.PriceFeed {
	var valid []model.PriceFeed
	for _, tf := range bita.Feeds {
		if bita.Options.FeedLifetime > 0 && !tf.PublishedAt.Add(bita.Options.FeedLifetime).After(now) {
			continue // expired
		}
		if tf.Feed.SettlementPrice.IsNull() {
			continue
		}
		valid = append(valid, tf.Feed)
	}
	if len(valid) < bita.Options.MinimumFeeds || len(valid) == 0 {
		return model.PriceFeed{}
	}
	if len(valid) == 1 {
		return valid[0]
	}

	// Median each component independently, the way publishers are polled:
	// settlement price by exact rational order, ratios numerically.
	mid := (len(valid) - 1) / 2

	prices := make([]model.Price, len(valid))
	mcrs := make([]int, len(valid))
	mssrs := make([]int, len(valid))
	for i, f := range valid {
		prices[i] = f.SettlementPrice
		mcrs[i] = int(f.MaintenanceCollateralRatio)
		mssrs[i] = int(f.MaximumShortSqueezeRatio)
	}
	sort.Slice(prices, func(i, j int) bool { return prices[i].LessThan(prices[j]) })
	sort.Ints(mcrs)
	sort.Ints(mssrs)

	return model.PriceFeed{
		SettlementPrice:            prices[mid],
		MaintenanceCollateralRatio: uint16(mcrs[mid]),
		MaximumShortSqueezeRatio:   uint16(mssrs[mid]),
	}
}
