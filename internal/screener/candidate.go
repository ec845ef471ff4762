package screener

import (
	"strings"

	"github.com/trenchlab/trenchwatch/internal/dexscreener"
)

// ---------------------------------------------------------------------------
// Candidate — one discovered pair sighting, before pool admission
// ---------------------------------------------------------------------------

// Candidate is a raw pair sighting produced by a discovery source or a
// hot-set recheck. The same pair may be sighted by several sources in one
// cycle; the pool deduplicates by pair address.
type Candidate struct {
	PairAddress  string
	ChainID      string
	TokenAddress string
	Pair         dexscreener.Pair
	Source       string
}

// Key returns the canonical (case-folded) pool key for the candidate.
func (c Candidate) Key() string {
	return strings.ToLower(c.PairAddress)
}

// TokenMeta resolves the tracked token's name and symbol from whichever
// side of the pair matches the token address.
func (c Candidate) TokenMeta() (name, symbol string) {
	addr := strings.ToLower(c.TokenAddress)
	token := c.Pair.BaseToken
	if strings.ToLower(c.Pair.QuoteToken.Address) == addr {
		token = c.Pair.QuoteToken
	}
	name, symbol = token.Name, token.Symbol
	if name == "" {
		name = "Unknown"
	}
	if symbol == "" {
		symbol = "?"
	}
	return name, symbol
}
