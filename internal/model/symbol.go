package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Asset symbol rules: 3-16 characters, uppercase letters and digits with
// optional single dots between alphanumeric runs, starting with a letter
// and ending with a letter or digit. Example: "USD", "OPEN.BTC".

const (
	MinSymbolLength = 3
	MaxSymbolLength = 16
)

var symbolRegex = regexp.MustCompile(`^[A-Z][A-Z0-9]*(\.[A-Z][A-Z0-9]*)*$`)

var (
	ErrSymbolLength  = errors.New("model: asset symbol length out of range")
	ErrSymbolInvalid = errors.New("model: invalid asset symbol")
)

// ValidateSymbol checks an asset symbol against the chain's symbol rules.
func ValidateSymbol(symbol string) error {
	if len(symbol) < MinSymbolLength || len(symbol) > MaxSymbolLength {
		return fmt.Errorf("%w: %q (want %d-%d characters)",
			ErrSymbolLength, symbol, MinSymbolLength, MaxSymbolLength)
	}
	if !symbolRegex.MatchString(symbol) {
		return fmt.Errorf("%w: %q", ErrSymbolInvalid, symbol)
	}
	return nil
}

// SymbolRoot returns the part of a dotted symbol before the first dot;
// sub-asset symbols share their root's namespace.
func SymbolRoot(symbol string) string {
	if i := strings.IndexByte(symbol, '.'); i >= 0 {
		return symbol[:i]
	}
	return symbol
}
