package token_metadata

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/token-cache/internal/pkg/blockchain/abis"
	"github.com/archon-research/token-cache/internal/ports/outbound"
)

// fetchMethods is the fixed call order. Result positions follow it.
var fetchMethods = []string{
	abis.MethodName,
	abis.MethodSymbol,
	abis.MethodDecimals,
	abis.MethodTotalSupply,
}

// FieldCount is the number of calls FetchAll issues per token.
const FieldCount = 4

// BatchFetcher reads the four ERC20 metadata fields of a token in one
// aggregated round-trip.
type BatchFetcher struct {
	multicaller outbound.Multicaller
	callData    [][]byte
}

// NewBatchFetcher packs the call data once; it does not depend on the target.
func NewBatchFetcher(multicaller outbound.Multicaller) (*BatchFetcher, error) {
	if multicaller == nil {
		return nil, fmt.Errorf("multicaller cannot be nil")
	}
	callData, err := packFetchCalls()
	if err != nil {
		return nil, err
	}
	return &BatchFetcher{multicaller: multicaller, callData: callData}, nil
}

// packFetchCalls encodes fetchMethods in order.
func packFetchCalls() ([][]byte, error) {
	erc20ABI, err := abis.GetERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("loading ERC20 ABI: %w", err)
	}
	callData := make([][]byte, len(fetchMethods))
	for i, method := range fetchMethods {
		data, err := erc20ABI.Pack(method)
		if err != nil {
			return nil, fmt.Errorf("packing %s: %w", method, err)
		}
		callData[i] = data
	}
	return callData, nil
}

// FetchAll returns one entry per result the aggregator reported, in call
// order. Failed inner calls come back as nil. Transport errors are returned
// as-is.
func (f *BatchFetcher) FetchAll(ctx context.Context, target common.Address) ([][]byte, error) {
	calls := make([]outbound.Call, len(f.callData))
	for i, data := range f.callData {
		calls[i] = outbound.Call{Target: target, AllowFailure: true, CallData: data}
	}

	results, err := f.multicaller.Execute(ctx, calls, nil)
	if err != nil {
		return nil, err
	}

	out := make([][]byte, len(results))
	for i, r := range results {
		if r.Success {
			out[i] = r.ReturnData
		}
	}
	return out, nil
}
