package dexscreener

// ---------------------------------------------------------------------------
// Dexscreener API response shapes
// https://docs.dexscreener.com/api/reference
// ---------------------------------------------------------------------------

// PairsResponse is the envelope returned by /latest/dex/pairs and
// /latest/dex/search. Some endpoints return a single "pair" object,
// others a "pairs" array.
type PairsResponse struct {
	SchemaVersion string `json:"schemaVersion"`
	Pair          *Pair  `json:"pair,omitempty"`
	Pairs         []Pair `json:"pairs"`
}

// Pair is one trading pair as reported upstream. Numeric fields the API may
// omit are pointers so that absence survives decoding; the evaluator treats
// nil as missing data, never as zero.
type Pair struct {
	ChainID       string       `json:"chainId"`
	DexID         string       `json:"dexId"`
	URL           string       `json:"url"`
	PairAddress   string       `json:"pairAddress"`
	BaseToken     Token        `json:"baseToken"`
	QuoteToken    Token        `json:"quoteToken"`
	PriceNative   string       `json:"priceNative"`
	PriceUSD      string       `json:"priceUsd"`
	Txns          Txns         `json:"txns"`
	Volume        Volume       `json:"volume"`
	PriceChange   PriceChange  `json:"priceChange"`
	Liquidity     *Liquidity   `json:"liquidity,omitempty"`
	FDV           *float64     `json:"fdv,omitempty"`
	MarketCap     *float64     `json:"marketCap,omitempty"`
	PairCreatedAt int64        `json:"pairCreatedAt"` // unix millis
	Info          *PairInfo    `json:"info,omitempty"`
	Boosts        *PairBoosts  `json:"boosts,omitempty"`
}

// Token is one side of a pair.
type Token struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

// Liquidity is the pooled liquidity of a pair.
type Liquidity struct {
	USD   float64 `json:"usd"`
	Base  float64 `json:"base"`
	Quote float64 `json:"quote"`
}

// Volume holds rolling-window trade volume in USD.
type Volume struct {
	M5  *float64 `json:"m5,omitempty"`
	H1  *float64 `json:"h1,omitempty"`
	H6  *float64 `json:"h6,omitempty"`
	H24 *float64 `json:"h24,omitempty"`
}

// PriceChange holds rolling-window price change percentages.
type PriceChange struct {
	M5  *float64 `json:"m5,omitempty"`
	H1  *float64 `json:"h1,omitempty"`
	H6  *float64 `json:"h6,omitempty"`
	H24 *float64 `json:"h24,omitempty"`
}

// Txns holds rolling-window buy/sell transaction counts.
type Txns struct {
	M5  *TxnWindow `json:"m5,omitempty"`
	H1  *TxnWindow `json:"h1,omitempty"`
	H6  *TxnWindow `json:"h6,omitempty"`
	H24 *TxnWindow `json:"h24,omitempty"`
}

// TxnWindow is the buy/sell count for one window.
type TxnWindow struct {
	Buys  int `json:"buys"`
	Sells int `json:"sells"`
}

// PairInfo is the optional profile metadata attached to a pair.
type PairInfo struct {
	ImageURL  string       `json:"imageUrl,omitempty"`
	Header    string       `json:"header,omitempty"`
	OpenGraph string       `json:"openGraph,omitempty"`
	Websites  []InfoLink   `json:"websites,omitempty"`
	Socials   []SocialLink `json:"socials,omitempty"`
}

// InfoLink is a labelled external link.
type InfoLink struct {
	Label string `json:"label,omitempty"`
	URL   string `json:"url"`
}

// SocialLink is a social media reference.
type SocialLink struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// PairBoosts reports active boost counts for a pair.
type PairBoosts struct {
	Active int `json:"active"`
}

// TokenProfile is one entry from /token-profiles/latest/v1 and
// /token-boosts/latest/v1 — both share this shape.
type TokenProfile struct {
	URL          string `json:"url"`
	ChainID      string `json:"chainId"`
	TokenAddress string `json:"tokenAddress"`
	Icon         string `json:"icon,omitempty"`
	Description  string `json:"description,omitempty"`
}

// HasProfile reports whether the pair carries any profile metadata.
// Mirrors the eligibility filter's "has socials/website/image" check.
func (p *Pair) HasProfile() bool {
	if p.Info == nil {
		return false
	}
	if p.Info.ImageURL != "" || p.Info.Header != "" || p.Info.OpenGraph != "" {
		return true
	}
	return len(p.Info.Websites) > 0 || len(p.Info.Socials) > 0
}

// LiquidityUSD returns the pooled USD liquidity, or 0 when unreported.
func (p *Pair) LiquidityUSD() float64 {
	if p.Liquidity == nil {
		return 0
	}
	return p.Liquidity.USD
}
