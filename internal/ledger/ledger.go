// Package ledger implements the versioned object arena backing the
// evaluation engine. Objects are addressed by stable ids and mutated only
// through the arena, which records prior versions in transaction-scoped
// undo sessions: begin a session, apply mutations, and on any error roll
// back to the checkpoint; state is never partially applied.
//
// The arena is the consensus state itself, so it is deliberately plain
// in-memory data; durable snapshots live in internal/store.
package ledger

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openledger/chain-engine/internal/model"
	"github.com/openledger/chain-engine/internal/protocol"
)

var (
	// ErrInsufficientFunds is returned when a balance adjustment would go
	// negative.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")

	// ErrObjectExists is returned when inserting an object whose id is
	// already taken.
	ErrObjectExists = errors.New("ledger: object already exists")
)

type accountAsset struct {
	Account model.ID
	Asset   model.ID
}

// Database is the object arena plus the block's logical clock and active
// rule set. It is not safe for concurrent use: the evaluation model is
// strictly single-threaded per state transition.
type Database struct {
	objects map[model.ID]model.Object
	next    map[model.ObjectType]uint64

	head  time.Time
	maint time.Time
	rules protocol.Rules

	sessions []*Session

	callIndex    map[accountAsset]model.ID // (borrower, debt asset) -> call
	bidIndex     map[accountAsset]model.ID // (bidder, debt asset) -> bid
	balanceIndex map[accountAsset]model.ID
	statsIndex   map[model.ID]model.ID // owner -> statistics
}

// NewDatabase creates an empty arena with the given logical times.
func NewDatabase(headBlockTime, nextMaintenanceTime time.Time) *Database {
	return &Database{
		objects:      make(map[model.ID]model.Object),
		next:         make(map[model.ObjectType]uint64),
		head:         headBlockTime,
		maint:        nextMaintenanceTime,
		rules:        protocol.RulesAt(headBlockTime, nextMaintenanceTime),
		callIndex:    make(map[accountAsset]model.ID),
		bidIndex:     make(map[accountAsset]model.ID),
		balanceIndex: make(map[accountAsset]model.ID),
		statsIndex:   make(map[model.ID]model.ID),
	}
}

// HeadBlockTime returns the chain's logical "now".
func (db *Database) HeadBlockTime() time.Time { return db.head }

// NextMaintenanceTime returns the maintenance boundary some rule cutovers
// compare against.
func (db *Database) NextMaintenanceTime() time.Time { return db.maint }

// Rules returns the active rule set, resolved once per block.
func (db *Database) Rules() protocol.Rules { return db.rules }

// AdvanceTime moves the logical clock and re-resolves the rule set.
func (db *Database) AdvanceTime(headBlockTime, nextMaintenanceTime time.Time) {
	db.head = headBlockTime
	db.maint = nextMaintenanceTime
	db.rules = protocol.RulesAt(headBlockTime, nextMaintenanceTime)
}

// SetRules overrides the active rule set; tests use this to exercise a
// specific era directly instead of manipulating clocks.
func (db *Database) SetRules(r protocol.Rules) { db.rules = r }

// --- Undo sessions ---

type undoKind uint8

const (
	undoCreate undoKind = iota
	undoModify
	undoRemove
)

type undoEntry struct {
	kind undoKind
	id   model.ID
	old  model.Object // prior version for modify/remove
}

// Session is a checkpoint of the arena. Exactly one of Commit or Undo must
// be called.
type Session struct {
	db        *Database
	entries   []undoEntry
	savedNext map[model.ObjectType]uint64
	done      bool
}

// BeginUndoSession opens a checkpoint. Sessions nest: committing an inner
// session folds its log into the outer one so the outer rollback still
// covers it.
func (db *Database) BeginUndoSession() *Session {
	saved := make(map[model.ObjectType]uint64, len(db.next))
	for t, n := range db.next {
		saved[t] = n
	}
	s := &Session{db: db, savedNext: saved}
	db.sessions = append(db.sessions, s)
	return s
}

func (s *Session) pop() {
	stack := s.db.sessions
	if len(stack) == 0 || stack[len(stack)-1] != s {
		panic("ledger: session stack misuse")
	}
	s.db.sessions = stack[:len(stack)-1]
}

// Commit keeps the session's mutations.
func (s *Session) Commit() {
	if s.done {
		return
	}
	s.done = true
	s.pop()
	if len(s.db.sessions) > 0 {
		parent := s.db.sessions[len(s.db.sessions)-1]
		parent.entries = append(parent.entries, s.entries...)
	}
	s.entries = nil
}

// Undo restores the arena to the checkpoint.
func (s *Session) Undo() {
	if s.done {
		return
	}
	s.done = true
	s.pop()
	db := s.db
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		switch e.kind {
		case undoCreate:
			db.dropIndexes(db.objects[e.id])
			delete(db.objects, e.id)
		case undoModify:
			db.objects[e.id] = e.old
		case undoRemove:
			db.objects[e.id] = e.old
			db.addIndexes(e.old)
		}
	}
	for t, n := range s.savedNext {
		db.next[t] = n
	}
	for t := range db.next {
		if _, ok := s.savedNext[t]; !ok {
			delete(db.next, t)
		}
	}
	s.entries = nil
}

func (db *Database) record(e undoEntry) {
	if len(db.sessions) == 0 {
		return // no active session: genesis bootstrap writes directly
	}
	s := db.sessions[len(db.sessions)-1]
	s.entries = append(s.entries, e)
}

// --- Object lifecycle ---

// NewID allocates the next id in a type's sequence. Allocation order is
// part of consensus: every node assigns identical ids.
func (db *Database) NewID(t model.ObjectType) model.ID {
	n := db.next[t]
	db.next[t] = n + 1
	return model.ID{Type: t, Instance: n}
}

// Insert stores a freshly constructed object. The caller must have
// allocated its id with NewID.
func (db *Database) Insert(obj model.Object) error {
	id := obj.ObjectID()
	if _, exists := db.objects[id]; exists {
		return fmt.Errorf("%w: %s", ErrObjectExists, id)
	}
	db.objects[id] = obj
	db.addIndexes(obj)
	db.record(undoEntry{kind: undoCreate, id: id})
	return nil
}

// Get returns the live object for an id. The returned object is read-only;
// all mutation goes through Modify.
func (db *Database) Get(id model.ID) (model.Object, bool) {
	obj, ok := db.objects[id]
	return obj, ok
}

// Modify applies fn to the object after checkpointing its prior version.
func (db *Database) Modify(id model.ID, fn func(model.Object)) error {
	obj, ok := db.objects[id]
	if !ok {
		return fmt.Errorf("ledger: modify of missing object %s", id)
	}
	db.record(undoEntry{kind: undoModify, id: id, old: obj.Clone()})
	fn(obj)
	return nil
}

// Remove deletes an object, checkpointing it for undo.
func (db *Database) Remove(id model.ID) error {
	obj, ok := db.objects[id]
	if !ok {
		return fmt.Errorf("ledger: remove of missing object %s", id)
	}
	db.record(undoEntry{kind: undoRemove, id: id, old: obj})
	db.dropIndexes(obj)
	delete(db.objects, id)
	return nil
}

func (db *Database) addIndexes(obj model.Object) {
	switch o := obj.(type) {
	case *model.CallOrder:
		db.callIndex[accountAsset{o.Borrower, o.DebtAssetID()}] = o.ID
	case *model.CollateralBid:
		db.bidIndex[accountAsset{o.Bidder, o.DebtAssetID()}] = o.ID
	case *model.AccountBalance:
		db.balanceIndex[accountAsset{o.Owner, o.AssetID}] = o.ID
	case *model.AccountStatistics:
		db.statsIndex[o.Owner] = o.ID
	}
}

func (db *Database) dropIndexes(obj model.Object) {
	switch o := obj.(type) {
	case *model.CallOrder:
		delete(db.callIndex, accountAsset{o.Borrower, o.DebtAssetID()})
	case *model.CollateralBid:
		delete(db.bidIndex, accountAsset{o.Bidder, o.DebtAssetID()})
	case *model.AccountBalance:
		delete(db.balanceIndex, accountAsset{o.Owner, o.AssetID})
	case *model.AccountStatistics:
		delete(db.statsIndex, o.Owner)
	}
}

// --- Typed lookups ---

func (db *Database) GetAccount(id model.ID) (*model.Account, bool) {
	obj, ok := db.objects[id]
	if !ok {
		return nil, false
	}
	a, ok := obj.(*model.Account)
	return a, ok
}

func (db *Database) GetAsset(id model.ID) (*model.AssetObject, bool) {
	obj, ok := db.objects[id]
	if !ok {
		return nil, false
	}
	a, ok := obj.(*model.AssetObject)
	return a, ok
}

func (db *Database) GetAssetDynamicData(id model.ID) (*model.AssetDynamicData, bool) {
	obj, ok := db.objects[id]
	if !ok {
		return nil, false
	}
	d, ok := obj.(*model.AssetDynamicData)
	return d, ok
}

func (db *Database) GetBitassetData(id model.ID) (*model.BitassetData, bool) {
	obj, ok := db.objects[id]
	if !ok {
		return nil, false
	}
	b, ok := obj.(*model.BitassetData)
	return b, ok
}

func (db *Database) GetLimitOrder(id model.ID) (*model.LimitOrder, bool) {
	obj, ok := db.objects[id]
	if !ok {
		return nil, false
	}
	o, ok := obj.(*model.LimitOrder)
	return o, ok
}

func (db *Database) GetCallOrder(id model.ID) (*model.CallOrder, bool) {
	obj, ok := db.objects[id]
	if !ok {
		return nil, false
	}
	o, ok := obj.(*model.CallOrder)
	return o, ok
}

func (db *Database) GetCollateralBid(id model.ID) (*model.CollateralBid, bool) {
	obj, ok := db.objects[id]
	if !ok {
		return nil, false
	}
	o, ok := obj.(*model.CollateralBid)
	return o, ok
}

// --- Composite-key indexes ---

// FindCallOrder looks up the open position for (borrower, debt asset).
func (db *Database) FindCallOrder(borrower, debtAsset model.ID) (*model.CallOrder, bool) {
	id, ok := db.callIndex[accountAsset{borrower, debtAsset}]
	if !ok {
		return nil, false
	}
	return db.GetCallOrder(id)
}

// FindCollateralBid looks up the standing bid for (bidder, debt asset).
func (db *Database) FindCollateralBid(bidder, debtAsset model.ID) (*model.CollateralBid, bool) {
	id, ok := db.bidIndex[accountAsset{bidder, debtAsset}]
	if !ok {
		return nil, false
	}
	return db.GetCollateralBid(id)
}

// LimitOrdersSelling returns all orders selling sellAsset for receiveAsset,
// ordered by id. Price ordering is the matching engine's concern.
func (db *Database) LimitOrdersSelling(sellAsset, receiveAsset model.ID) []*model.LimitOrder {
	var orders []*model.LimitOrder
	for _, obj := range db.objects {
		if o, ok := obj.(*model.LimitOrder); ok &&
			o.SellAssetID() == sellAsset && o.ReceiveAssetID() == receiveAsset {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].ID.Instance < orders[j].ID.Instance
	})
	return orders
}

// LimitOrders returns every standing order, ordered by id.
func (db *Database) LimitOrders() []*model.LimitOrder {
	var orders []*model.LimitOrder
	for _, obj := range db.objects {
		if o, ok := obj.(*model.LimitOrder); ok {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].ID.Instance < orders[j].ID.Instance
	})
	return orders
}

// CallOrdersForAsset returns every open position in a debt asset, ordered
// by id.
func (db *Database) CallOrdersForAsset(debtAsset model.ID) []*model.CallOrder {
	var calls []*model.CallOrder
	for _, obj := range db.objects {
		if o, ok := obj.(*model.CallOrder); ok && o.DebtAssetID() == debtAsset {
			calls = append(calls, o)
		}
	}
	sort.Slice(calls, func(i, j int) bool {
		return calls[i].ID.Instance < calls[j].ID.Instance
	})
	return calls
}

// LeastCollateralizedCall returns the open position with the lowest
// collateral/debt ratio in a debt asset; ties break on lower id. It is the
// position a black swan check and the no-settlement feed clamp look at.
func (db *Database) LeastCollateralizedCall(debtAsset model.ID) (*model.CallOrder, bool) {
	var least *model.CallOrder
	for _, call := range db.CallOrdersForAsset(debtAsset) {
		if least == nil || call.Collateralization().LessThan(least.Collateralization()) {
			least = call
		}
	}
	return least, least != nil
}

// Objects returns every object ordered by id, for snapshot export and the
// inspection API.
func (db *Database) Objects() []model.Object {
	objs := make([]model.Object, 0, len(db.objects))
	for _, obj := range db.objects {
		objs = append(objs, obj)
	}
	sort.Slice(objs, func(i, j int) bool {
		a, b := objs[i].ObjectID(), objs[j].ObjectID()
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.Instance < b.Instance
	})
	return objs
}

// --- Balances and statistics ---

// GetBalance returns an account's balance in one asset.
func (db *Database) GetBalance(account, asset model.ID) model.Asset {
	id, ok := db.balanceIndex[accountAsset{account, asset}]
	if !ok {
		return model.Asset{Amount: decimal.Zero, AssetID: asset}
	}
	obj := db.objects[id].(*model.AccountBalance)
	return model.Asset{Amount: obj.Balance, AssetID: asset}
}

// AdjustBalance credits (or debits, for negative deltas) an account. A
// debit below zero fails without mutating anything.
func (db *Database) AdjustBalance(account model.ID, delta model.Asset) error {
	if delta.Amount.IsZero() {
		return nil
	}
	key := accountAsset{account, delta.AssetID}
	id, ok := db.balanceIndex[key]
	if !ok {
		if delta.Amount.IsNegative() {
			return fmt.Errorf("%w: account %s has no %s", ErrInsufficientFunds, account, delta.AssetID)
		}
		bal := &model.AccountBalance{
			ID:      db.NewID(model.TypeAccountBalance),
			Owner:   account,
			AssetID: delta.AssetID,
			Balance: delta.Amount,
		}
		return db.Insert(bal)
	}
	obj := db.objects[id].(*model.AccountBalance)
	next := obj.Balance.Add(delta.Amount)
	if next.IsNegative() {
		return fmt.Errorf("%w: account %s has %s %s, needs %s", ErrInsufficientFunds,
			account, obj.Balance, delta.AssetID, delta.Amount.Neg())
	}
	return db.Modify(id, func(o model.Object) {
		o.(*model.AccountBalance).Balance = next
	})
}

// AccountStatsFor returns the statistics object for an account, creating
// it on first use.
func (db *Database) AccountStatsFor(owner model.ID) *model.AccountStatistics {
	if id, ok := db.statsIndex[owner]; ok {
		return db.objects[id].(*model.AccountStatistics)
	}
	stats := &model.AccountStatistics{
		ID:    db.NewID(model.TypeAccountStatistics),
		Owner: owner,
	}
	if err := db.Insert(stats); err != nil {
		panic(err) // fresh id cannot collide
	}
	return stats
}

// ModifyAccountStats checkpoints and mutates an account's statistics.
func (db *Database) ModifyAccountStats(owner model.ID, fn func(*model.AccountStatistics)) error {
	stats := db.AccountStatsFor(owner)
	return db.Modify(stats.ID, func(o model.Object) {
		fn(o.(*model.AccountStatistics))
	})
}
