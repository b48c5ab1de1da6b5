package types

import "sort"

const (
	ChainEthereum = "ethereum"
	ChainStarknet = "starknet"
	ChainBitcoin  = "bitcoin"
	ChainSolana   = "solana"
)

// Token describes an asset the venue can price
type Token struct {
	Symbol   string `json:"symbol"`
	Decimals int32  `json:"decimals"`
	Address  string `json:"address,omitempty"`
}

var tokens = map[string]Token{
	"ETH":   {Symbol: "ETH", Decimals: 18, Address: "0x0000000000000000000000000000000000000003"},
	"STRK":  {Symbol: "STRK", Decimals: 18, Address: "0x04718f5a0fc34cc1af16a1cdee98ffb20c31f5cd61d6ab07201858f4287c938d"},
	"CAREL": {Symbol: "CAREL", Decimals: 18, Address: "0x0517f60f4ec4e1b2b748f0f642dfdcb32c0ddc893f777f2b595a4e4f6df51545"},
	"BTC":   {Symbol: "BTC", Decimals: 8, Address: "0x496bef3ed20371382fbe0ca6a5a64252c5c848f9f1f0cccf8110fc4def912d5"},
	"WBTC":  {Symbol: "WBTC", Decimals: 8, Address: "0x496bef3ed20371382fbe0ca6a5a64252c5c848f9f1f0cccf8110fc4def912d5"},
	"USDC":  {Symbol: "USDC", Decimals: 6, Address: "0x0179cc8cb5ea0b143e17d649e8ad60d80c45c8132c4cf162d57eaf8297f529d8"},
	"USDT":  {Symbol: "USDT", Decimals: 6, Address: "0x030fcbfd1f83fb2d697ad8bdd52e1d55a700b876bed1f4507875539581ed53e5"},
	"SOL":   {Symbol: "SOL", Decimals: 9},
}

var nativeAssets = map[string]string{
	ChainEthereum: "ETH",
	ChainStarknet: "STRK",
	ChainBitcoin:  "BTC",
	ChainSolana:   "SOL",
}

// LookupToken returns registry metadata for a symbol
func LookupToken(symbol string) (Token, bool) {
	t, ok := tokens[NormalizeTokenSymbol(symbol)]
	return t, ok
}

// TokenDecimals returns the precision of a token, defaulting to 18
func TokenDecimals(symbol string) int32 {
	if t, ok := LookupToken(symbol); ok {
		return t.Decimals
	}
	return 18
}

// Tokens lists the registry sorted by symbol
func Tokens() []Token {
	out := make([]Token, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// NativeAsset returns the gas-paying asset of a chain
func NativeAsset(chain string) string {
	return nativeAssets[NormalizeChain(chain)]
}

// IsNativeAsset reports whether symbol pays gas on chain
func IsNativeAsset(chain, symbol string) bool {
	native := NativeAsset(chain)
	return native != "" && native == NormalizeTokenSymbol(symbol)
}

// IsSupportedChain reports whether chain is known
func IsSupportedChain(chain string) bool {
	_, ok := nativeAssets[NormalizeChain(chain)]
	return ok
}

// IsEVMChain reports whether chain uses Ethereum-style accounts
func IsEVMChain(chain string) bool {
	return NormalizeChain(chain) == ChainEthereum
}
