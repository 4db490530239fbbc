package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/openledger/chain-engine/internal/ledger"
	"github.com/openledger/chain-engine/internal/model"
	"github.com/openledger/chain-engine/internal/store"
)

// Service serves read-only views of the ledger arena and the operation
// journal. The arena is single-writer; the service takes the node's
// read lock around every arena access so handlers never observe a
// half-applied operation.
type Service struct {
	mu *sync.RWMutex
	db *ledger.Database
	st store.Store
}

// NewService creates the inspection service. mu must be the same lock the
// node's evaluation loop holds for writing.
func NewService(mu *sync.RWMutex, db *ledger.Database, st store.Store) *Service {
	return &Service{mu: mu, db: db, st: st}
}

// --- Response types ---

type objectResponse struct {
	ID     string       `json:"id"`
	Object model.Object `json:"object"`
}

type assetResponse struct {
	Asset   *model.AssetObject      `json:"asset"`
	Dynamic *model.AssetDynamicData `json:"dynamic,omitempty"`
	Bita    *model.BitassetData     `json:"bitasset,omitempty"`
}

type balanceResponse struct {
	AssetID string `json:"asset_id"`
	Amount  string `json:"amount"`
}

type bookEntry struct {
	OrderID string `json:"order_id"`
	Seller  string `json:"seller"`
	ForSale string `json:"for_sale"`
	Price   string `json:"price"`
}

// --- HTTP Handlers ---

// ListObjects handles GET /api/v1/objects
func (s *Service) ListObjects(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	objs := s.db.Objects()
	out := make([]objectResponse, 0, len(objs))
	for _, obj := range objs {
		out = append(out, objectResponse{ID: obj.ObjectID().String(), Object: obj})
	}
	s.mu.RUnlock()
	writeJSON(w, out)
}

// GetObject handles GET /api/v1/objects/{objectID}
func (s *Service) GetObject(w http.ResponseWriter, r *http.Request) {
	id, err := model.ParseID(chi.URLParam(r, "objectID"))
	if err != nil {
		writeError(w, "invalid object id", http.StatusBadRequest)
		return
	}
	s.mu.RLock()
	obj, ok := s.db.Get(id)
	s.mu.RUnlock()
	if !ok {
		writeError(w, "object not found", http.StatusNotFound)
		return
	}
	writeJSON(w, objectResponse{ID: id.String(), Object: obj})
}

// GetAsset handles GET /api/v1/assets/{assetID}
func (s *Service) GetAsset(w http.ResponseWriter, r *http.Request) {
	id, err := model.ParseID(chi.URLParam(r, "assetID"))
	if err != nil {
		writeError(w, "invalid asset id", http.StatusBadRequest)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	asset, ok := s.db.GetAsset(id)
	if !ok {
		writeError(w, "asset not found", http.StatusNotFound)
		return
	}
	resp := assetResponse{Asset: asset}
	if dyn, ok := s.db.GetAssetDynamicData(asset.DynamicDataID); ok {
		resp.Dynamic = dyn
	}
	if asset.IsMarketIssued() {
		if bita, ok := s.db.GetBitassetData(*asset.BitassetDataID); ok {
			resp.Bita = bita
		}
	}
	writeJSON(w, resp)
}

// GetBalances handles GET /api/v1/accounts/{accountID}/balances
func (s *Service) GetBalances(w http.ResponseWriter, r *http.Request) {
	id, err := model.ParseID(chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, "invalid account id", http.StatusBadRequest)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.db.GetAccount(id); !ok {
		writeError(w, "account not found", http.StatusNotFound)
		return
	}
	var out []balanceResponse
	for _, obj := range s.db.Objects() {
		if bal, ok := obj.(*model.AccountBalance); ok && bal.Owner == id {
			out = append(out, balanceResponse{
				AssetID: bal.AssetID.String(),
				Amount:  bal.Balance.String(),
			})
		}
	}
	writeJSON(w, out)
}

// GetOrderBook handles GET /api/v1/book/{sellAssetID}/{receiveAssetID}
func (s *Service) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	sellID, err := model.ParseID(chi.URLParam(r, "sellAssetID"))
	if err != nil {
		writeError(w, "invalid sell asset id", http.StatusBadRequest)
		return
	}
	receiveID, err := model.ParseID(chi.URLParam(r, "receiveAssetID"))
	if err != nil {
		writeError(w, "invalid receive asset id", http.StatusBadRequest)
		return
	}
	s.mu.RLock()
	orders := s.db.LimitOrdersSelling(sellID, receiveID)
	out := make([]bookEntry, 0, len(orders))
	for _, o := range orders {
		out = append(out, bookEntry{
			OrderID: o.ID.String(),
			Seller:  o.Seller.String(),
			ForSale: o.ForSale.String(),
			Price:   o.SellPrice.String(),
		})
	}
	s.mu.RUnlock()
	writeJSON(w, out)
}

// GetCallOrders handles GET /api/v1/calls/{assetID}
func (s *Service) GetCallOrders(w http.ResponseWriter, r *http.Request) {
	id, err := model.ParseID(chi.URLParam(r, "assetID"))
	if err != nil {
		writeError(w, "invalid asset id", http.StatusBadRequest)
		return
	}
	s.mu.RLock()
	calls := s.db.CallOrdersForAsset(id)
	s.mu.RUnlock()
	writeJSON(w, calls)
}

// RecentOperations handles GET /api/v1/journal?limit=N
func (s *Service) RecentOperations(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	records, err := s.st.RecentOperations(r.Context(), limit)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, []store.OperationRecord{})
			return
		}
		writeError(w, "journal unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, records)
}

// OperationsByPayer handles GET /api/v1/journal/{accountID}
func (s *Service) OperationsByPayer(w http.ResponseWriter, r *http.Request) {
	id, err := model.ParseID(chi.URLParam(r, "accountID"))
	if err != nil {
		writeError(w, "invalid account id", http.StatusBadRequest)
		return
	}
	records, err := s.st.OperationsByPayer(r.Context(), id.String())
	if err != nil {
		writeError(w, "journal unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, records)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
