package token_metadata

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/archon-research/token-cache/internal/domain/entity"
	"github.com/archon-research/token-cache/internal/domain/validation"
	"github.com/archon-research/token-cache/internal/pkg/blockchain/abis"
	"github.com/archon-research/token-cache/internal/ports/outbound"
)

// RPCURLFunc resolves the JSON-RPC endpoint for a chain.
type RPCURLFunc func(ctx context.Context, chainID int64) (string, error)

// AggregatorFunc resolves the Multicall3 address for a chain.
type AggregatorFunc func(ctx context.Context, chainID int64) (common.Address, error)

// MulticallerProvider hands out a multicaller bound to an RPC endpoint.
// *blockchain.Dialer implements it.
type MulticallerProvider interface {
	Multicaller(ctx context.Context, rpcURL string, aggregator common.Address) (outbound.Multicaller, error)
}

// StaticRPCURLs resolves endpoints from a fixed chain ID map.
func StaticRPCURLs(urls map[int64]string) RPCURLFunc {
	return func(_ context.Context, chainID int64) (string, error) {
		url, ok := urls[chainID]
		if !ok || url == "" {
			return "", fmt.Errorf("no RPC URL configured for chain %d", chainID)
		}
		return url, nil
	}
}

// CanonicalMulticall3 returns the Multicall3 deployment address, which is the
// same on every chain it is deployed to.
func CanonicalMulticall3(context.Context, int64) (common.Address, error) {
	return common.HexToAddress(abis.Multicall3Address), nil
}

// RPCSourceConfig configures an RPCSource.
type RPCSourceConfig struct {
	RPCURL       RPCURLFunc
	Aggregator   AggregatorFunc
	Multicallers MulticallerProvider
	Logger       *slog.Logger
}

var _ outbound.MetadataSource = (*RPCSource)(nil)

// RPCSource reads token metadata from the chain through Multicall3.
type RPCSource struct {
	rpcURL       RPCURLFunc
	aggregator   AggregatorFunc
	multicallers MulticallerProvider
	erc20ABI     *abi.ABI
	callData     [][]byte
	logger       *slog.Logger
}

// NewRPCSource creates an RPCSource. Aggregator defaults to CanonicalMulticall3.
func NewRPCSource(cfg RPCSourceConfig) (*RPCSource, error) {
	if cfg.RPCURL == nil {
		return nil, fmt.Errorf("RPC URL resolver cannot be nil")
	}
	if cfg.Multicallers == nil {
		return nil, fmt.Errorf("multicaller provider cannot be nil")
	}
	if cfg.Aggregator == nil {
		cfg.Aggregator = CanonicalMulticall3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	erc20ABI, err := abis.GetERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("loading ERC20 ABI: %w", err)
	}
	callData, err := packFetchCalls()
	if err != nil {
		return nil, err
	}

	return &RPCSource{
		rpcURL:       cfg.RPCURL,
		aggregator:   cfg.Aggregator,
		multicallers: cfg.Multicallers,
		erc20ABI:     erc20ABI,
		callData:     callData,
		logger:       cfg.Logger.With("component", "rpc-metadata-source"),
	}, nil
}

// FetchMetadata resolves the endpoint and aggregator concurrently, fetches
// the four fields in one round-trip and validates both the response shape
// and the decoded token. Resolver and transport errors are returned as-is;
// anything wrong with the data is a *entity.QueryError.
func (s *RPCSource) FetchMetadata(ctx context.Context, key entity.HashKey) (*entity.TokenMetadata, error) {
	var (
		rpcURL     string
		aggregator common.Address
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rpcURL, err = s.rpcURL(gctx, key.ChainID)
		return err
	})
	g.Go(func() error {
		var err error
		aggregator, err = s.aggregator(gctx, key.ChainID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	multicaller, err := s.multicallers.Multicaller(ctx, rpcURL, aggregator)
	if err != nil {
		return nil, err
	}
	if multicaller == nil {
		return nil, fmt.Errorf("no multicaller for chain %d", key.ChainID)
	}
	fetcher := &BatchFetcher{multicaller: multicaller, callData: s.callData}

	results, err := fetcher.FetchAll(ctx, key.Address)
	if err != nil {
		return nil, err
	}

	if res := validation.ValidateMulticallResponse(results, FieldCount); !res.Valid() {
		return nil, entity.NewQueryError(key.Address, res.Messages()...)
	}

	md, err := decodeMetadata(s.erc20ABI, key.Address, results)
	if err != nil {
		return nil, err
	}

	if res := validation.ValidateTokenMetadata(md); !res.Valid() {
		return nil, entity.NewQueryError(key.Address, res.Messages()...)
	}

	s.logger.Debug("fetched token metadata",
		"chainId", key.ChainID,
		"address", key.Address.Hex(),
		"symbol", md.Symbol,
		"decimals", md.Decimals)
	return md, nil
}
