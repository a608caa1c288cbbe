package models

import (
	"fmt"
	"strings"
)

// longNames maps coin symbols to display names
var longNames = map[string]string{
	"BTC":   "Bitcoin",
	"USDT":  "USDTether",
	"ETH":   "Ethereum",
	"ETC":   "Eth. Cl.",
	"XMR":   "Monero",
	"LTC":   "Litecoin",
	"BCN":   "Bytecoin",
	"XVC":   "VCASH",
	"BTS":   "Bitshare",
	"NXT":   "Nxt",
	"AMP":   "Synereo",
	"VTC":   "Vertcoin",
	"XRP":   "Ripple",
	"DASH":  "Dash",
	"GNT":   "Golem",
	"FLO":   "Florin",
	"BURST": "Burst",
	"SC":    "Siacoin",
	"DOGE":  "Dogecoin",
	"GRC":   "Gridcoin",
	"STRAT": "Stratis",
	"XEM":   "NEM",
	"FCT":   "Factom",
	"POT":   "PotCoin",
}

// LongName returns the display name of a coin symbol, or unknown(SYM)
func LongName(symbol string) string {
	if name, ok := longNames[symbol]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%s)", symbol)
}

// Market is an ordered pair of coin symbols, written "BASE_QUOTE"
type Market struct {
	base  string
	quote string
}

// MarketError is returned for identifiers that are not BASE_QUOTE
type MarketError struct {
	Input  string
	Reason string
}

func (e *MarketError) Error() string {
	return fmt.Sprintf("invalid market %q: %s", e.Input, e.Reason)
}

// ParseMarket parses "BASE_QUOTE". Both symbols must be non-empty upper-case alphanumerics.
func ParseMarket(s string) (Market, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 2 {
		return Market{}, &MarketError{Input: s, Reason: "expected exactly one underscore"}
	}
	for _, p := range parts {
		if p == "" {
			return Market{}, &MarketError{Input: s, Reason: "empty symbol"}
		}
		for _, r := range p {
			if !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
				return Market{}, &MarketError{Input: s, Reason: fmt.Sprintf("symbol %q must be upper-case alphanumeric", p)}
			}
		}
	}
	return Market{base: parts[0], quote: parts[1]}, nil
}

// MustParseMarket is ParseMarket for constants; it panics on bad input
func MustParseMarket(s string) Market {
	m, err := ParseMarket(s)
	if err != nil {
		panic(err)
	}
	return m
}

// Base returns the first symbol of the pair
func (m Market) Base() string { return m.base }

// Quote returns the second symbol of the pair
func (m Market) Quote() string { return m.quote }

// IsZero reports whether m was never parsed
func (m Market) IsZero() bool { return m.base == "" && m.quote == "" }

func (m Market) String() string {
	return m.base + "_" + m.quote
}

// FriendlyName renders both symbols by their long names, e.g. "Bitcoin/Ethereum"
func (m Market) FriendlyName() string {
	return LongName(m.base) + "/" + LongName(m.quote)
}
