package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Operation is the closed set of ledger operations this engine evaluates.
// The set is sealed: a new operation kind does not compile until every
// dispatcher handles it.
type Operation interface {
	// OperationName is the stable name used in logs, metrics, and errors.
	OperationName() string

	// FeePayer is the account charged the operation fee.
	FeePayer() ID

	// OperationFee is the declared fee, in any asset with a funded fee pool.
	OperationFee() Asset

	sealedOperation()
}

// LimitOrderCreate places a standing offer to sell AmountToSell for at
// least MinToReceive, expiring at Expiration.
type LimitOrderCreate struct {
	Fee          Asset     `json:"fee"`
	Seller       ID        `json:"seller"`
	AmountToSell Asset     `json:"amount_to_sell"`
	MinToReceive Asset     `json:"min_to_receive"`
	Expiration   time.Time `json:"expiration"`

	// FillOrKill demands the order be fully filled immediately or the
	// whole operation fails.
	FillOrKill bool `json:"fill_or_kill"`
}

func (LimitOrderCreate) OperationName() string { return "limit_order_create" }
func (o LimitOrderCreate) FeePayer() ID        { return o.Seller }
func (o LimitOrderCreate) OperationFee() Asset { return o.Fee }
func (LimitOrderCreate) sealedOperation()      {}

// GetPrice returns the implied limit price: amount to sell over minimum to
// receive.
func (o LimitOrderCreate) GetPrice() Price {
	return Price{Base: o.AmountToSell, Quote: o.MinToReceive}
}

// LimitOrderCancel cancels a standing order and refunds whatever remains
// for sale.
type LimitOrderCancel struct {
	Fee              Asset `json:"fee"`
	FeePayingAccount ID    `json:"fee_paying_account"`
	Order            ID    `json:"order"`
}

func (LimitOrderCancel) OperationName() string { return "limit_order_cancel" }
func (o LimitOrderCancel) FeePayer() ID        { return o.FeePayingAccount }
func (o LimitOrderCancel) OperationFee() Asset { return o.Fee }
func (LimitOrderCancel) sealedOperation()      {}

// CallOrderUpdate opens, adjusts, or closes a collateralized debt position.
// DeltaDebt and DeltaCollateral are signed: positive borrows more / posts
// more collateral, negative repays / withdraws.
type CallOrderUpdate struct {
	Fee             Asset `json:"fee"`
	FundingAccount  ID    `json:"funding_account"`
	DeltaCollateral Asset `json:"delta_collateral"`
	DeltaDebt       Asset `json:"delta_debt"`

	// TargetCollateralRatio, when set, instructs margin calls to cover only
	// enough debt to restore this ratio (per mille).
	TargetCollateralRatio *uint16 `json:"target_collateral_ratio,omitempty"`
}

func (CallOrderUpdate) OperationName() string { return "call_order_update" }
func (o CallOrderUpdate) FeePayer() ID        { return o.FundingAccount }
func (o CallOrderUpdate) OperationFee() Asset { return o.Fee }
func (CallOrderUpdate) sealedOperation()      {}

// BidCollateral places, replaces, or cancels a collateral bid against a
// globally settled asset. A zero DebtCovered cancels an existing bid.
type BidCollateral struct {
	Fee                  Asset `json:"fee"`
	Bidder               ID    `json:"bidder"`
	AdditionalCollateral Asset `json:"additional_collateral"`
	DebtCovered          Asset `json:"debt_covered"`
}

func (BidCollateral) OperationName() string { return "bid_collateral" }
func (o BidCollateral) FeePayer() ID        { return o.Bidder }
func (o BidCollateral) OperationFee() Asset { return o.Fee }
func (BidCollateral) sealedOperation()      {}

// DecodeOperation reconstructs an operation from its stable name and JSON
// payload, the journal's wire form.
func DecodeOperation(name string, data []byte) (Operation, error) {
	switch name {
	case "limit_order_create":
		var op LimitOrderCreate
		if err := json.Unmarshal(data, &op); err != nil {
			return nil, err
		}
		return op, nil
	case "limit_order_cancel":
		var op LimitOrderCancel
		if err := json.Unmarshal(data, &op); err != nil {
			return nil, err
		}
		return op, nil
	case "call_order_update":
		var op CallOrderUpdate
		if err := json.Unmarshal(data, &op); err != nil {
			return nil, err
		}
		return op, nil
	case "bid_collateral":
		var op BidCollateral
		if err := json.Unmarshal(data, &op); err != nil {
			return nil, err
		}
		return op, nil
	default:
		return nil, fmt.Errorf("model: unknown operation %q", name)
	}
}
