package token_metadata

import (
	"bytes"
	"fmt"
	"math/big"
	"unicode/utf8"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/token-cache/internal/domain/entity"
	"github.com/archon-research/token-cache/internal/domain/validation"
	"github.com/archon-research/token-cache/internal/pkg/blockchain/abis"
)

// decodeMetadata unpacks the positional results of FetchAll. Callers must
// have validated the response shape first.
func decodeMetadata(erc20ABI *abi.ABI, target common.Address, results [][]byte) (*entity.TokenMetadata, error) {
	md := &entity.TokenMetadata{Address: target}

	name, err := decodeText(erc20ABI, abis.MethodName, results[0])
	if err != nil {
		return nil, decodeError(target, validation.FieldName, err)
	}
	md.Name = name

	symbol, err := decodeText(erc20ABI, abis.MethodSymbol, results[1])
	if err != nil {
		return nil, decodeError(target, validation.FieldSymbol, err)
	}
	md.Symbol = symbol

	decimals, err := unpackSingle[uint8](erc20ABI, abis.MethodDecimals, results[2])
	if err != nil {
		return nil, decodeError(target, validation.FieldDecimals, err)
	}
	md.Decimals = decimals

	supply, err := unpackSingle[*big.Int](erc20ABI, abis.MethodTotalSupply, results[3])
	if err != nil {
		return nil, decodeError(target, validation.FieldTotalSupply, err)
	}
	md.TotalSupply = supply

	return md, nil
}

func decodeError(target common.Address, field string, err error) *entity.QueryError {
	return &entity.QueryError{
		Token:   target,
		Reasons: []string{fmt.Sprintf("%s could not be decoded", field)},
		Err:     err,
	}
}

func unpackSingle[T any](erc20ABI *abi.ABI, method string, data []byte) (T, error) {
	var zero T
	values, err := erc20ABI.Unpack(method, data)
	if err != nil {
		return zero, err
	}
	if len(values) != 1 {
		return zero, fmt.Errorf("%s returned %d values", method, len(values))
	}
	v, ok := values[0].(T)
	if !ok {
		return zero, fmt.Errorf("%s returned %T", method, values[0])
	}
	return v, nil
}

// decodeText reads a string return value. Older tokens (MKR, SAI) declare
// name and symbol as bytes32; a single 32-byte word holding valid UTF-8 is
// accepted in that form.
func decodeText(erc20ABI *abi.ABI, method string, data []byte) (string, error) {
	s, err := unpackSingle[string](erc20ABI, method, data)
	if err == nil {
		return s, nil
	}
	if len(data) == 32 {
		trimmed := bytes.TrimRight(data, "\x00")
		if utf8.Valid(trimmed) {
			return string(trimmed), nil
		}
	}
	return "", err
}
