// Package blockchain provides the lazily dialed RPC clients the metadata
// fetcher talks to.
package blockchain

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/sync/singleflight"

	"github.com/archon-research/token-cache/internal/pkg/blockchain/multicall"
	"github.com/archon-research/token-cache/internal/pkg/cache"
	"github.com/archon-research/token-cache/internal/ports/outbound"
)

// DialFunc opens an RPC connection. ethclient.DialContext is the default.
type DialFunc func(ctx context.Context, rawURL string) (*ethclient.Client, error)

// Dialer hands out one *ethclient.Client per RPC URL. The first caller for a
// URL dials; concurrent first callers share that dial.
type Dialer struct {
	clients *cache.Engine[*ethclient.Client]
	group   singleflight.Group
	dial    DialFunc

	mu     sync.Mutex
	opened []*ethclient.Client
}

// NewDialer memoises clients in store. A nil dial uses ethclient.DialContext.
func NewDialer(store outbound.StorageBackend[*ethclient.Client], dial DialFunc) (*Dialer, error) {
	engine, err := cache.NewEngine(store)
	if err != nil {
		return nil, fmt.Errorf("creating client cache: %w", err)
	}
	if dial == nil {
		dial = ethclient.DialContext
	}
	return &Dialer{clients: engine, dial: dial}, nil
}

// Client returns the client for rpcURL, dialing it on first use.
func (d *Dialer) Client(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	v, err, _ := d.group.Do(rpcURL, func() (interface{}, error) {
		return d.clients.GetOrAdd(ctx, rpcURL, d.open)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ethclient.Client), nil
}

// Multicaller returns a Multicall3 client bound to the memoised connection for rpcURL.
func (d *Dialer) Multicaller(ctx context.Context, rpcURL string, aggregator common.Address) (outbound.Multicaller, error) {
	client, err := d.Client(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	return multicall.NewClient(client, aggregator)
}

// Close closes every client the dialer opened.
func (d *Dialer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.opened {
		c.Close()
	}
	d.opened = nil
}

func (d *Dialer) open(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := d.dial(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", rpcURL, err)
	}
	d.mu.Lock()
	d.opened = append(d.opened, client)
	d.mu.Unlock()
	return client, nil
}
