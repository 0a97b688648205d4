package testutil

import (
	"math/big"
	"testing"

	"github.com/archon-research/token-cache/internal/pkg/blockchain/abis"
)

// TokenFixture is the on-chain metadata a fake ERC20 reports.
type TokenFixture struct {
	Name        string
	Symbol      string
	Decimals    uint8
	TotalSupply *big.Int
}

// PackERC20Output ABI-encodes a single ERC20 view method return value.
func PackERC20Output(t *testing.T, method string, value any) []byte {
	t.Helper()
	erc20ABI, err := abis.GetERC20ABI()
	if err != nil {
		t.Fatalf("loading ERC20 ABI: %v", err)
	}
	data, err := erc20ABI.Methods[method].Outputs.Pack(value)
	if err != nil {
		t.Fatalf("packing %s: %v", method, err)
	}
	return data
}

// PackTokenMetadata returns the four ERC20 return payloads in fetch order:
// name, symbol, decimals, totalSupply.
func PackTokenMetadata(t *testing.T, token TokenFixture) [][]byte {
	t.Helper()
	return [][]byte{
		PackERC20Output(t, abis.MethodName, token.Name),
		PackERC20Output(t, abis.MethodSymbol, token.Symbol),
		PackERC20Output(t, abis.MethodDecimals, token.Decimals),
		PackERC20Output(t, abis.MethodTotalSupply, token.TotalSupply),
	}
}

// MulticallResult matches the multicall3 aggregate3 output tuple.
type MulticallResult struct {
	Success    bool
	ReturnData []byte
}

// PackMulticallAggregate3 ABI-encodes results as aggregate3 return data.
func PackMulticallAggregate3(t *testing.T, results []MulticallResult) []byte {
	t.Helper()
	multicallABI, err := abis.GetMulticall3ABI()
	if err != nil {
		t.Fatalf("loading multicall3 ABI: %v", err)
	}
	data, err := multicallABI.Methods["aggregate3"].Outputs.Pack(results)
	if err != nil {
		t.Fatalf("packing aggregate3: %v", err)
	}
	return data
}
