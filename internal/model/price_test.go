package model

import (
	"testing"

	"github.com/shopspring/decimal"
)

var (
	coreID = ID{Type: TypeAsset, Instance: 0}
	usdID  = ID{Type: TypeAsset, Instance: 1}
)

// d is a test helper for creating integral decimals.
func d(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

func price(base int64, baseID ID, quote int64, quoteID ID) Price {
	return Price{
		Base:  Asset{Amount: d(base), AssetID: baseID},
		Quote: Asset{Amount: d(quote), AssetID: quoteID},
	}
}

// --- Comparison ---

func TestPriceCmp_CrossMultiplies(t *testing.T) {
	// 1/3 < 2/5 even though both divisions truncate to 0.
	a := price(1, coreID, 3, usdID)
	b := price(2, coreID, 5, usdID)
	if !a.LessThan(b) {
		t.Errorf("1/3 should compare below 2/5")
	}
	if !b.GreaterThan(a) {
		t.Errorf("2/5 should compare above 1/3")
	}
}

func TestPriceCmp_EqualRatios(t *testing.T) {
	a := price(1, coreID, 2, usdID)
	b := price(500, coreID, 1000, usdID)
	if !a.Equal(b) {
		t.Errorf("1/2 and 500/1000 are the same rational")
	}
}

func TestPriceCmp_PairMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("comparing prices of different pairs should panic")
		}
	}()
	a := price(1, coreID, 2, usdID)
	b := price(1, usdID, 2, coreID)
	a.Cmp(b)
}

func TestPriceIsNull(t *testing.T) {
	if !NullPrice.IsNull() {
		t.Error("the zero price is null")
	}
	if price(1, coreID, 2, usdID).IsNull() {
		t.Error("a full ratio is not null")
	}
	if !price(0, coreID, 2, usdID).IsNull() {
		t.Error("a zero base is null")
	}
}

func TestPriceInvert(t *testing.T) {
	p := price(3, coreID, 7, usdID)
	inv := p.Invert()
	if inv.Base.AssetID != usdID || inv.Quote.AssetID != coreID {
		t.Errorf("invert should swap the pair: %s", inv)
	}
	if !inv.Invert().Equal(p) {
		t.Errorf("double inversion should round-trip")
	}
}

// --- Conversion rounding ---

func TestPriceMulFloor_TruncatesTowardZero(t *testing.T) {
	// Selling 7 CORE at 2 CORE per 1 USD buys 3 USD, not 3.5.
	p := price(2, coreID, 1, usdID)
	got := p.MulFloor(Asset{Amount: d(7), AssetID: coreID})
	if got.AssetID != usdID || !got.Amount.Equal(d(3)) {
		t.Errorf("7 CORE at 2:1 = %s, want 3 USD", got)
	}
}

func TestPriceMulCeil_RoundsUp(t *testing.T) {
	p := price(2, coreID, 1, usdID)
	got := p.MulCeil(Asset{Amount: d(7), AssetID: coreID})
	if got.AssetID != usdID || !got.Amount.Equal(d(4)) {
		t.Errorf("7 CORE at 2:1 ceil = %s, want 4 USD", got)
	}
}

func TestPriceMul_ExactNoRounding(t *testing.T) {
	p := price(2, coreID, 1, usdID)
	floor := p.MulFloor(Asset{Amount: d(8), AssetID: coreID})
	ceil := p.MulCeil(Asset{Amount: d(8), AssetID: coreID})
	if !floor.Amount.Equal(d(4)) || !ceil.Amount.Equal(d(4)) {
		t.Errorf("exact conversion should agree: floor=%s ceil=%s", floor, ceil)
	}
}

func TestPriceMul_ConvertsBothDirections(t *testing.T) {
	p := price(2, coreID, 1, usdID)
	usd := p.MulFloor(Asset{Amount: d(10), AssetID: coreID})
	if usd.AssetID != usdID || !usd.Amount.Equal(d(5)) {
		t.Errorf("10 CORE → %s, want 5 USD", usd)
	}
	back := p.MulFloor(usd)
	if back.AssetID != coreID || !back.Amount.Equal(d(10)) {
		t.Errorf("5 USD → %s, want 10 CORE", back)
	}
}

// --- IDs ---

func TestParseID_RoundTrip(t *testing.T) {
	id := ID{Type: TypeLimitOrder, Instance: 42}
	parsed, err := ParseID(id.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if parsed != id {
		t.Errorf("round trip %s → %s", id, parsed)
	}
}

func TestParseID_Malformed(t *testing.T) {
	for _, s := range []string{"", "7", "a.b", "7.", ".4", "300.1"} {
		if _, err := ParseID(s); err == nil {
			t.Errorf("ParseID(%q) should fail", s)
		}
	}
}

// --- Symbols ---

func TestValidateSymbol(t *testing.T) {
	valid := []string{"USD", "CORE", "OPEN.BTC", "A1B", "GOLD1"}
	for _, s := range valid {
		if err := ValidateSymbol(s); err != nil {
			t.Errorf("ValidateSymbol(%q) = %v, want nil", s, err)
		}
	}
	invalid := []string{"US", "usd", "1BTC", "BTC.", ".BTC", "A..B", "TOOLONGSYMBOLXXXX", "BT C"}
	for _, s := range invalid {
		if err := ValidateSymbol(s); err == nil {
			t.Errorf("ValidateSymbol(%q) should fail", s)
		}
	}
}

func TestSymbolRoot(t *testing.T) {
	if got := SymbolRoot("OPEN.BTC"); got != "OPEN" {
		t.Errorf("SymbolRoot(OPEN.BTC) = %q", got)
	}
	if got := SymbolRoot("USD"); got != "USD" {
		t.Errorf("SymbolRoot(USD) = %q", got)
	}
}
