package domain

import (
	"fmt"
	"strings"
)

// knownQuoteAssets resolves the Open Question around legacy BASEUSDT-style
// symbol parsing: rather than blindly collapsing any BASEUSDT string to
// (BASE, USDT), only a suffix on this list is accepted. Anything else is
// rejected rather than guessed.
var knownQuoteAssets = []string{"USDT", "USDC", "BUSD", "USD"}

// Symbol is a (base, quote) pair, both held uppercase. The canonical string
// form is BASE-QUOTE; BASE_QUOTE and, for a known quote asset, BASEQUOTE are
// accepted on input.
type Symbol struct {
	Base  string
	Quote string
}

func NewSymbol(base, quote string) Symbol {
	return Symbol{Base: strings.ToUpper(base), Quote: strings.ToUpper(quote)}
}

// String returns the canonical BASE-QUOTE form.
func (s Symbol) String() string {
	return s.Base + "-" + s.Quote
}

// PairString is the exchange/wire-facing form (no separator), used as the
// TradingEngine's tracked-position map key per spec §3 Ownership.
func (s Symbol) PairString() string {
	return s.Base + s.Quote
}

func (s Symbol) IsZero() bool {
	return s.Base == "" && s.Quote == ""
}

// ParseSymbol accepts "BASE-QUOTE", "BASE_QUOTE", or the legacy "BASEQUOTE"
// form when the trailing characters match a known quote asset. Any other
// shape is an InvalidArgument error rather than a best-effort guess.
func ParseSymbol(raw string) (Symbol, error) {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	if raw == "" {
		return Symbol{}, NewCoreError("ParseSymbol", ErrInvalidArgument, fmt.Errorf("empty symbol"))
	}

	if i := strings.IndexByte(raw, '-'); i > 0 && i < len(raw)-1 {
		return NewSymbol(raw[:i], raw[i+1:]), nil
	}
	if i := strings.IndexByte(raw, '_'); i > 0 && i < len(raw)-1 {
		return NewSymbol(raw[:i], raw[i+1:]), nil
	}

	for _, quote := range knownQuoteAssets {
		if strings.HasSuffix(raw, quote) && len(raw) > len(quote) {
			base := raw[:len(raw)-len(quote)]
			return NewSymbol(base, quote), nil
		}
	}

	return Symbol{}, NewCoreError("ParseSymbol", ErrInvalidArgument,
		fmt.Errorf("symbol %q has no separator and no recognized quote-asset suffix", raw))
}

// ParseSymbolObject parses the legacy {base, quote} object form accepted by
// the persistence layer's round-trip contract.
func ParseSymbolObject(base, quote string) (Symbol, error) {
	if base == "" || quote == "" {
		return Symbol{}, NewCoreError("ParseSymbolObject", ErrInvalidArgument,
			fmt.Errorf("base and quote must both be non-empty"))
	}
	return NewSymbol(base, quote), nil
}
