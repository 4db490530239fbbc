// Package authority implements asset transaction authorization: whether an
// account may hold and trade a given asset under the asset's
// whitelist/blacklist policy.
package authority

import (
	"github.com/openledger/chain-engine/internal/ledger"
	"github.com/openledger/chain-engine/internal/model"
)

// IsAuthorizedAsset reports whether the account may transact the asset.
// Assets without the white-list flag are open to everyone. Flagged assets
// reject blacklisted accounts outright and, when a whitelist exists,
// accept only its members.
func IsAuthorizedAsset(db *ledger.Database, account model.ID, asset *model.AssetObject) bool {
	if _, ok := db.GetAccount(account); !ok {
		return false
	}
	if !asset.Options.WhiteList {
		return true
	}
	if asset.Options.BlacklistedAccounts[account] {
		return false
	}
	if len(asset.Options.WhitelistedAccounts) > 0 {
		return asset.Options.WhitelistedAccounts[account]
	}
	return true
}
