package entity

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// CacheEntry is the persisted form of a token's metadata. TotalSupply is
// expressed in whole tokens (raw supply scaled by 10^-Decimals).
type CacheEntry struct {
	HashKey     string          `json:"hashKey"`
	ChainID     int64           `json:"chainId"`
	Address     string          `json:"address"`
	Name        string          `json:"name"`
	Symbol      string          `json:"symbol"`
	Decimals    uint8           `json:"decimals"`
	TotalSupply decimal.Decimal `json:"totalSupply"`
}

// NewCacheEntry builds the entry stored for key from freshly fetched metadata.
func NewCacheEntry(key HashKey, md *TokenMetadata) *CacheEntry {
	return &CacheEntry{
		HashKey:     key.Value,
		ChainID:     key.ChainID,
		Address:     key.Address.Hex(),
		Name:        md.Name,
		Symbol:      md.Symbol,
		Decimals:    md.Decimals,
		TotalSupply: scaleSupply(md.TotalSupply, md.Decimals),
	}
}

// scaleSupply converts a raw supply into whole tokens. A nil supply is zero.
func scaleSupply(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals))
}

// WithTotalSupply returns a copy of the entry carrying a new raw total supply.
func (e *CacheEntry) WithTotalSupply(md *TokenMetadata) *CacheEntry {
	updated := *e
	updated.TotalSupply = scaleSupply(md.TotalSupply, e.Decimals)
	return &updated
}

// Validate checks that HashKey matches ChainID and Address.
func (e *CacheEntry) Validate() error {
	want, err := GenerateHashKey(e.ChainID, e.Address)
	if err != nil {
		return err
	}
	if want != e.HashKey {
		return fmt.Errorf("hash key mismatch: stored %s, derived %s", e.HashKey, want)
	}
	return nil
}
