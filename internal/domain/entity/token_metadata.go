package entity

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TokenMetadata is the decoded ERC20 metadata of a single token as reported
// by the origin. TotalSupply is in the token's smallest unit.
type TokenMetadata struct {
	Address     common.Address
	Name        string
	Symbol      string
	Decimals    uint8
	TotalSupply *big.Int
}
