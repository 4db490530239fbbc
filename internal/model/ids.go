package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ObjectType partitions the object id space. Every chain object carries an
// ID whose type never changes over its lifetime.
type ObjectType uint8

const (
	TypeNone ObjectType = iota
	TypeAccount
	TypeAsset
	TypeAssetDynamicData
	TypeBitassetData
	TypeAccountStatistics
	TypeAccountBalance
	TypeLimitOrder
	TypeCallOrder
	TypeCollateralBid
)

var objectTypeNames = map[ObjectType]string{
	TypeNone:              "none",
	TypeAccount:           "account",
	TypeAsset:             "asset",
	TypeAssetDynamicData:  "asset_dynamic_data",
	TypeBitassetData:      "bitasset_data",
	TypeAccountStatistics: "account_statistics",
	TypeAccountBalance:    "account_balance",
	TypeLimitOrder:        "limit_order",
	TypeCallOrder:         "call_order",
	TypeCollateralBid:     "collateral_bid",
}

func (t ObjectType) String() string {
	if name, ok := objectTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("object_type(%d)", uint8(t))
}

// ID is a stable object identifier: type plus a per-type instance number.
// Instance numbers are allocated sequentially so every node assigns the
// same id to the same object.
type ID struct {
	Type     ObjectType
	Instance uint64
}

// NilID is the zero ID; no object ever has it.
var NilID = ID{}

// ErrInvalidID is returned when parsing a malformed id string.
var ErrInvalidID = errors.New("model: invalid object id")

func (id ID) IsNil() bool { return id.Type == TypeNone }

func (id ID) String() string {
	return fmt.Sprintf("%d.%d", uint8(id.Type), id.Instance)
}

// ParseID parses the "type.instance" form produced by String.
func ParseID(s string) (ID, error) {
	parts := strings.SplitN(s, ".", 2)
	if len(parts) != 2 {
		return NilID, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	typ, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return NilID, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	inst, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return NilID, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return ID{Type: ObjectType(typ), Instance: inst}, nil
}

// MarshalText lets IDs serve as JSON map keys in snapshots.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(b []byte) error {
	parsed, err := ParseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// CoreAssetID is the id of the core asset: instance 0 of the asset space.
// Fees, deferred fees, and the in-orders statistic are denominated in it.
var CoreAssetID = ID{Type: TypeAsset, Instance: 0}
