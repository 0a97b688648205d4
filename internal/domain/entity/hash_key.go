package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalidArgument is returned when a key is built from a non-positive
// chain ID or a malformed token address.
var ErrInvalidArgument = errors.New("invalid argument")

// HashKey identifies a token across chains. Value is the SHA-256 of
// "<chainID>-<checksum address>" in lowercase hex and is the key every
// storage tier is indexed by.
type HashKey struct {
	ChainID int64
	Address common.Address
	Value   string
}

// NewHashKey validates the arguments and derives the key value.
func NewHashKey(chainID int64, address string) (HashKey, error) {
	addr, err := parseKeyArgs(chainID, address)
	if err != nil {
		return HashKey{}, err
	}
	return HashKey{
		ChainID: chainID,
		Address: addr,
		Value:   hashKeyValue(chainID, addr),
	}, nil
}

// MustHashKey is NewHashKey for constants and tests. It panics on invalid input.
func MustHashKey(chainID int64, address string) HashKey {
	key, err := NewHashKey(chainID, address)
	if err != nil {
		panic(err)
	}
	return key
}

// GenerateHashKey returns only the key value for (chainID, address).
func GenerateHashKey(chainID int64, address string) (string, error) {
	addr, err := parseKeyArgs(chainID, address)
	if err != nil {
		return "", err
	}
	return hashKeyValue(chainID, addr), nil
}

func (k HashKey) String() string {
	return k.Value
}

func parseKeyArgs(chainID int64, address string) (common.Address, error) {
	if chainID <= 0 {
		return common.Address{}, fmt.Errorf("%w: chainID must be positive, got %d", ErrInvalidArgument, chainID)
	}
	if !common.IsHexAddress(address) {
		return common.Address{}, fmt.Errorf("%w: malformed address %q", ErrInvalidArgument, address)
	}
	return common.HexToAddress(address), nil
}

func hashKeyValue(chainID int64, addr common.Address) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d-%s", chainID, addr.Hex())))
	return hex.EncodeToString(sum[:])
}
