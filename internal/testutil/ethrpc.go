package testutil

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/token-cache/internal/pkg/blockchain/abis"
)

// JSONRPCRequest represents a JSON-RPC request.
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      json.RawMessage `json:"id"`
}

// MockEthRPC is a fake Ethereum node that answers multicall3 aggregate3
// eth_calls from a table of ERC20 fixtures.
type MockEthRPC struct {
	*httptest.Server

	ethCalls atomic.Int64
}

// EthCalls returns the number of eth_call requests served.
func (m *MockEthRPC) EthCalls() int64 {
	return m.ethCalls.Load()
}

type call3 struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// StartMockEthRPC starts a node that resolves every inner aggregate3 call by
// target address and ERC20 selector. Calls against unknown tokens or methods
// come back as failed inner results, as a real Multicall3 would report a revert.
func StartMockEthRPC(t *testing.T, tokens map[common.Address]TokenFixture) *MockEthRPC {
	t.Helper()

	multicallABI, err := abis.GetMulticall3ABI()
	if err != nil {
		t.Fatalf("load multicall3 ABI: %v", err)
	}
	erc20ABI, err := abis.GetERC20ABI()
	if err != nil {
		t.Fatalf("load ERC20 ABI: %v", err)
	}

	m := &MockEthRPC{}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")

		var req JSONRPCRequest
		if err := json.Unmarshal(body, &req); err != nil {
			WriteRPCError(w, json.RawMessage(`1`), -32700, "parse error")
			return
		}

		switch req.Method {
		case "eth_chainId":
			WriteRPCResult(w, req.ID, json.RawMessage(`"0x1"`))

		case "eth_call":
			calls, err := decodeAggregate3(multicallABI, req.Params)
			if err != nil {
				WriteRPCError(w, req.ID, -32602, err.Error())
				return
			}
			m.ethCalls.Add(1)

			results := make([]MulticallResult, len(calls))
			for i, c := range calls {
				results[i] = answerERC20(erc20ABI, tokens, c)
			}
			packed, err := multicallABI.Methods["aggregate3"].Outputs.Pack(results)
			if err != nil {
				WriteRPCError(w, req.ID, -32603, err.Error())
				return
			}
			resultJSON, _ := json.Marshal("0x" + hex.EncodeToString(packed))
			WriteRPCResult(w, req.ID, json.RawMessage(resultJSON))

		default:
			WriteRPCError(w, req.ID, -32601, "method not found: "+req.Method)
		}
	}))
	t.Cleanup(m.Close)
	return m
}

func answerERC20(erc20ABI *abi.ABI, tokens map[common.Address]TokenFixture, c call3) MulticallResult {
	token, ok := tokens[c.Target]
	if !ok || len(c.CallData) < 4 {
		return MulticallResult{Success: false, ReturnData: []byte{}}
	}
	method, err := erc20ABI.MethodById(c.CallData[:4])
	if err != nil {
		return MulticallResult{Success: false, ReturnData: []byte{}}
	}

	var value any
	switch method.Name {
	case abis.MethodName:
		value = token.Name
	case abis.MethodSymbol:
		value = token.Symbol
	case abis.MethodDecimals:
		value = token.Decimals
	case abis.MethodTotalSupply:
		value = token.TotalSupply
	}
	data, err := method.Outputs.Pack(value)
	if err != nil {
		return MulticallResult{Success: false, ReturnData: []byte{}}
	}
	return MulticallResult{Success: true, ReturnData: data}
}

func decodeAggregate3(multicallABI *abi.ABI, params json.RawMessage) ([]call3, error) {
	var p []json.RawMessage
	if err := json.Unmarshal(params, &p); err != nil || len(p) < 1 {
		return nil, errBadParams
	}
	var callObj map[string]interface{}
	if err := json.Unmarshal(p[0], &callObj); err != nil {
		return nil, errBadParams
	}
	// go-ethereum may use "data" or "input" for the calldata field
	dataHex, _ := callObj["data"].(string)
	if dataHex == "" {
		dataHex, _ = callObj["input"].(string)
	}
	data, err := hex.DecodeString(strings.TrimPrefix(dataHex, "0x"))
	if err != nil || len(data) < 4 {
		return nil, errBadParams
	}

	method := multicallABI.Methods["aggregate3"]
	if !bytes.Equal(data[:4], method.ID) {
		return nil, errBadParams
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil || len(args) != 1 {
		return nil, errBadParams
	}
	calls := *abi.ConvertType(args[0], new([]call3)).(*[]call3)
	return calls, nil
}

type rpcParamError string

func (e rpcParamError) Error() string { return string(e) }

const errBadParams = rpcParamError("invalid aggregate3 params")

// WriteRPCResult writes a JSON-RPC success response.
func WriteRPCResult(w http.ResponseWriter, id, result json.RawMessage) {
	_ = json.NewEncoder(w).Encode(map[string]json.RawMessage{
		"jsonrpc": json.RawMessage(`"2.0"`),
		"id":      id,
		"result":  result,
	})
}

// WriteRPCError writes a JSON-RPC error response.
func WriteRPCError(w http.ResponseWriter, id json.RawMessage, code int, message string) {
	errJSON, _ := json.Marshal(map[string]interface{}{"code": code, "message": message})
	_ = json.NewEncoder(w).Encode(map[string]json.RawMessage{
		"jsonrpc": json.RawMessage(`"2.0"`),
		"id":      id,
		"error":   json.RawMessage(errJSON),
	})
}
