package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/openledger/chain-engine/internal/model"
)

// objectRecord is one object in a serialized state snapshot.
type objectRecord struct {
	ID   model.ID        `json:"id"`
	Data json.RawMessage `json:"data"`
}

// stateSnapshot is the serialized form of the whole arena.
type stateSnapshot struct {
	HeadBlockTime       time.Time                   `json:"head_block_time"`
	NextMaintenanceTime time.Time                   `json:"next_maintenance_time"`
	NextInstance        map[model.ObjectType]uint64 `json:"next_instance"`
	Objects             []objectRecord              `json:"objects"`
}

// ExportState serializes the arena to JSON for the snapshot store. Objects
// are emitted in id order so identical states serialize identically.
func (db *Database) ExportState() ([]byte, error) {
	snap := stateSnapshot{
		HeadBlockTime:       db.head,
		NextMaintenanceTime: db.maint,
		NextInstance:        db.next,
	}
	for _, obj := range db.Objects() {
		data, err := json.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("ledger: export %s: %w", obj.ObjectID(), err)
		}
		snap.Objects = append(snap.Objects, objectRecord{ID: obj.ObjectID(), Data: data})
	}
	return json.Marshal(snap)
}

func newObjectFor(t model.ObjectType) (model.Object, error) {
	switch t {
	case model.TypeAccount:
		return &model.Account{}, nil
	case model.TypeAsset:
		return &model.AssetObject{}, nil
	case model.TypeAssetDynamicData:
		return &model.AssetDynamicData{}, nil
	case model.TypeBitassetData:
		return &model.BitassetData{}, nil
	case model.TypeAccountStatistics:
		return &model.AccountStatistics{}, nil
	case model.TypeAccountBalance:
		return &model.AccountBalance{}, nil
	case model.TypeLimitOrder:
		return &model.LimitOrder{}, nil
	case model.TypeCallOrder:
		return &model.CallOrder{}, nil
	case model.TypeCollateralBid:
		return &model.CollateralBid{}, nil
	default:
		return nil, fmt.Errorf("ledger: unknown object type %s", t)
	}
}

// ImportState replaces the arena's contents with a serialized snapshot.
// Only valid on a freshly constructed database with no open sessions.
func (db *Database) ImportState(data []byte) error {
	if len(db.sessions) > 0 {
		return fmt.Errorf("ledger: import with open undo session")
	}
	var snap stateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("ledger: decode snapshot: %w", err)
	}

	db.objects = make(map[model.ID]model.Object, len(snap.Objects))
	db.callIndex = make(map[accountAsset]model.ID)
	db.bidIndex = make(map[accountAsset]model.ID)
	db.balanceIndex = make(map[accountAsset]model.ID)
	db.statsIndex = make(map[model.ID]model.ID)
	db.next = snap.NextInstance
	if db.next == nil {
		db.next = make(map[model.ObjectType]uint64)
	}
	db.AdvanceTime(snap.HeadBlockTime, snap.NextMaintenanceTime)

	for _, rec := range snap.Objects {
		obj, err := newObjectFor(rec.ID.Type)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(rec.Data, obj); err != nil {
			return fmt.Errorf("ledger: decode object %s: %w", rec.ID, err)
		}
		if obj.ObjectID() != rec.ID {
			return fmt.Errorf("ledger: snapshot object id mismatch: %s vs %s", obj.ObjectID(), rec.ID)
		}
		db.objects[rec.ID] = obj
		db.addIndexes(obj)
	}
	return nil
}
