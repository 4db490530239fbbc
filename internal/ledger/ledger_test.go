package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openledger/chain-engine/internal/model"
)

// d is a test helper for creating integral decimals.
func d(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

func newTestDB() *Database {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return NewDatabase(now, now.Add(time.Hour))
}

func newAccount(db *Database, name string) model.ID {
	acct := &model.Account{ID: db.NewID(model.TypeAccount), Name: name}
	if err := db.Insert(acct); err != nil {
		panic(err)
	}
	return acct.ID
}

// --- Id allocation ---

func TestNewID_SequentialPerType(t *testing.T) {
	db := newTestDB()
	a := db.NewID(model.TypeLimitOrder)
	b := db.NewID(model.TypeLimitOrder)
	c := db.NewID(model.TypeCallOrder)
	if a.Instance != 0 || b.Instance != 1 {
		t.Errorf("limit order ids should be sequential: %s, %s", a, b)
	}
	if c.Instance != 0 {
		t.Errorf("each type has its own sequence: %s", c)
	}
}

// --- Undo sessions ---

func TestUndo_RestoresCreateModifyRemove(t *testing.T) {
	db := newTestDB()
	alice := newAccount(db, "alice")
	if err := db.AdjustBalance(alice, model.NewAsset(100, model.CoreAssetID)); err != nil {
		t.Fatalf("seed balance: %v", err)
	}

	s := db.BeginUndoSession()

	// Create inside the session.
	order := &model.LimitOrder{
		ID:      db.NewID(model.TypeLimitOrder),
		Seller:  alice,
		ForSale: d(10),
		SellPrice: model.Price{
			Base:  model.NewAsset(10, model.CoreAssetID),
			Quote: model.NewAsset(5, model.ID{Type: model.TypeAsset, Instance: 1}),
		},
	}
	if err := db.Insert(order); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// Modify inside the session.
	if err := db.AdjustBalance(alice, model.NewAsset(-40, model.CoreAssetID)); err != nil {
		t.Fatalf("adjust: %v", err)
	}

	s.Undo()

	if _, ok := db.GetLimitOrder(order.ID); ok {
		t.Error("undo should delete the created order")
	}
	if got := db.GetBalance(alice, model.CoreAssetID); !got.Amount.Equal(d(100)) {
		t.Errorf("undo should restore the balance: got %s", got.Amount)
	}
	// Id counter restored: the next order reuses the instance.
	next := db.NewID(model.TypeLimitOrder)
	if next.Instance != order.ID.Instance {
		t.Errorf("undo should roll back id allocation: got %s, want instance %d",
			next, order.ID.Instance)
	}
}

func TestUndo_RestoresRemovedObjectAndIndexes(t *testing.T) {
	db := newTestDB()
	bob := newAccount(db, "bob")
	usd := model.ID{Type: model.TypeAsset, Instance: 1}

	call := &model.CallOrder{
		ID:         db.NewID(model.TypeCallOrder),
		Borrower:   bob,
		Collateral: d(1000),
		Debt:       d(400),
		CallPrice: model.Price{
			Base:  model.NewAsset(1, model.CoreAssetID),
			Quote: model.NewAsset(1, usd),
		},
	}
	if err := db.Insert(call); err != nil {
		t.Fatalf("insert: %v", err)
	}

	s := db.BeginUndoSession()
	if err := db.Remove(call.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := db.FindCallOrder(bob, usd); ok {
		t.Fatal("index entry should be gone after remove")
	}
	s.Undo()

	restored, ok := db.FindCallOrder(bob, usd)
	if !ok {
		t.Fatal("undo should restore the composite-key index")
	}
	if !restored.Debt.Equal(d(400)) {
		t.Errorf("restored call debt = %s", restored.Debt)
	}
}

func TestNestedSessions_CommitFoldsIntoParent(t *testing.T) {
	db := newTestDB()
	alice := newAccount(db, "alice")
	if err := db.AdjustBalance(alice, model.NewAsset(100, model.CoreAssetID)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	outer := db.BeginUndoSession()
	inner := db.BeginUndoSession()
	if err := db.AdjustBalance(alice, model.NewAsset(-30, model.CoreAssetID)); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	inner.Commit()

	// The committed inner mutation must still be covered by the outer undo.
	outer.Undo()
	if got := db.GetBalance(alice, model.CoreAssetID); !got.Amount.Equal(d(100)) {
		t.Errorf("outer undo should cover committed inner work: got %s", got.Amount)
	}
}

func TestCommit_KeepsMutations(t *testing.T) {
	db := newTestDB()
	alice := newAccount(db, "alice")

	s := db.BeginUndoSession()
	if err := db.AdjustBalance(alice, model.NewAsset(55, model.CoreAssetID)); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	s.Commit()

	if got := db.GetBalance(alice, model.CoreAssetID); !got.Amount.Equal(d(55)) {
		t.Errorf("commit should keep the balance: got %s", got.Amount)
	}
}

// --- Balances ---

func TestAdjustBalance_FailsBelowZero(t *testing.T) {
	db := newTestDB()
	alice := newAccount(db, "alice")
	if err := db.AdjustBalance(alice, model.NewAsset(10, model.CoreAssetID)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	err := db.AdjustBalance(alice, model.NewAsset(-11, model.CoreAssetID))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("overdraft should fail with ErrInsufficientFunds, got %v", err)
	}
	if got := db.GetBalance(alice, model.CoreAssetID); !got.Amount.Equal(d(10)) {
		t.Errorf("failed debit must not change the balance: got %s", got.Amount)
	}
}

func TestGetBalance_UnknownIsZero(t *testing.T) {
	db := newTestDB()
	alice := newAccount(db, "alice")
	got := db.GetBalance(alice, model.CoreAssetID)
	if !got.Amount.IsZero() {
		t.Errorf("unknown balance should be zero, got %s", got.Amount)
	}
}

// --- Queries ---

func TestLeastCollateralizedCall(t *testing.T) {
	db := newTestDB()
	usd := model.ID{Type: model.TypeAsset, Instance: 1}
	unit := model.Price{
		Base:  model.NewAsset(1, model.CoreAssetID),
		Quote: model.NewAsset(1, usd),
	}

	mk := func(name string, collateral, debt int64) *model.CallOrder {
		call := &model.CallOrder{
			ID:         db.NewID(model.TypeCallOrder),
			Borrower:   newAccount(db, name),
			Collateral: d(collateral),
			Debt:       d(debt),
			CallPrice:  unit,
		}
		if err := db.Insert(call); err != nil {
			t.Fatalf("insert: %v", err)
		}
		return call
	}
	mk("alice", 1000, 200)         // CR 5
	weakest := mk("bob", 600, 300) // CR 2
	mk("carol", 900, 300)          // CR 3

	got, ok := db.LeastCollateralizedCall(usd)
	if !ok {
		t.Fatal("expected a least collateralized call")
	}
	if got.ID != weakest.ID {
		t.Errorf("least collateralized = %s, want %s", got.ID, weakest.ID)
	}
}

func TestLimitOrdersSelling_FiltersPair(t *testing.T) {
	db := newTestDB()
	alice := newAccount(db, "alice")
	usd := model.ID{Type: model.TypeAsset, Instance: 1}
	eur := model.ID{Type: model.TypeAsset, Instance: 2}

	mkOrder := func(sellID, receiveID model.ID) {
		o := &model.LimitOrder{
			ID:      db.NewID(model.TypeLimitOrder),
			Seller:  alice,
			ForSale: d(10),
			SellPrice: model.Price{
				Base:  model.NewAsset(10, sellID),
				Quote: model.NewAsset(5, receiveID),
			},
		}
		if err := db.Insert(o); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	mkOrder(model.CoreAssetID, usd)
	mkOrder(model.CoreAssetID, usd)
	mkOrder(model.CoreAssetID, eur)
	mkOrder(usd, model.CoreAssetID)

	got := db.LimitOrdersSelling(model.CoreAssetID, usd)
	if len(got) != 2 {
		t.Fatalf("expected 2 orders on the CORE→USD book, got %d", len(got))
	}
	if got[0].ID.Instance > got[1].ID.Instance {
		t.Error("orders should come back in id order")
	}
}

// --- Snapshot round trip ---

func TestSnapshotRoundTrip(t *testing.T) {
	db := newTestDB()
	alice := newAccount(db, "alice")
	usd := model.ID{Type: model.TypeAsset, Instance: 1}
	if err := db.AdjustBalance(alice, model.NewAsset(123, model.CoreAssetID)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	call := &model.CallOrder{
		ID:         db.NewID(model.TypeCallOrder),
		Borrower:   alice,
		Collateral: d(1000),
		Debt:       d(400),
		CallPrice: model.Price{
			Base:  model.NewAsset(1, model.CoreAssetID),
			Quote: model.NewAsset(1, usd),
		},
	}
	if err := db.Insert(call); err != nil {
		t.Fatalf("insert: %v", err)
	}

	data, err := db.ExportState()
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	restored := newTestDB()
	if err := restored.ImportState(data); err != nil {
		t.Fatalf("import: %v", err)
	}
	if got := restored.GetBalance(alice, model.CoreAssetID); !got.Amount.Equal(d(123)) {
		t.Errorf("restored balance = %s", got.Amount)
	}
	if _, ok := restored.FindCallOrder(alice, usd); !ok {
		t.Error("restored arena should rebuild the call index")
	}
	again, err := restored.ExportState()
	if err != nil {
		t.Fatalf("re-export: %v", err)
	}
	if string(again) != string(data) {
		t.Error("identical states should serialize identically")
	}

	// Id allocation continues where the snapshot left off.
	next := restored.NewID(model.TypeCallOrder)
	if next.Instance != call.ID.Instance+1 {
		t.Errorf("restored next id = %s", next)
	}
}
