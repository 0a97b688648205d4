package blockchain

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/archon-research/token-cache/internal/adapters/outbound/memory"
	"github.com/archon-research/token-cache/internal/pkg/blockchain/abis"
	"github.com/archon-research/token-cache/internal/testutil"
)

func TestDialer_MemoisesClientPerURL(t *testing.T) {
	rpc := testutil.StartMockEthRPC(t, nil)

	var dials atomic.Int32
	dialer, err := NewDialer(memory.NewStorage[*ethclient.Client](), func(ctx context.Context, url string) (*ethclient.Client, error) {
		dials.Add(1)
		return ethclient.DialContext(ctx, url)
	})
	if err != nil {
		t.Fatalf("NewDialer: %v", err)
	}
	defer dialer.Close()

	var wg sync.WaitGroup
	clients := make([]*ethclient.Client, 8)
	for i := range clients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := dialer.Client(context.Background(), rpc.URL)
			if err != nil {
				t.Errorf("Client: %v", err)
				return
			}
			clients[i] = c
		}(i)
	}
	wg.Wait()

	if dials.Load() != 1 {
		t.Errorf("dials = %d, want 1", dials.Load())
	}
	for i, c := range clients {
		if c != clients[0] {
			t.Errorf("client %d differs from client 0", i)
		}
	}

	chainID, err := clients[0].ChainID(context.Background())
	if err != nil {
		t.Fatalf("ChainID: %v", err)
	}
	if chainID.Int64() != 1 {
		t.Errorf("chainID = %s, want 1", chainID)
	}
}

func TestDialer_DialErrorIsNotCached(t *testing.T) {
	dialErr := errors.New("refused")
	var dials atomic.Int32
	dialer, _ := NewDialer(memory.NewStorage[*ethclient.Client](), func(context.Context, string) (*ethclient.Client, error) {
		dials.Add(1)
		return nil, dialErr
	})

	for i := 0; i < 2; i++ {
		if _, err := dialer.Client(context.Background(), "http://node"); !errors.Is(err, dialErr) {
			t.Fatalf("err = %v, want dial error", err)
		}
	}
	if dials.Load() != 2 {
		t.Errorf("dials = %d, want 2", dials.Load())
	}
}

func TestDialer_Multicaller(t *testing.T) {
	rpc := testutil.StartMockEthRPC(t, nil)
	dialer, _ := NewDialer(memory.NewStorage[*ethclient.Client](), nil)
	defer dialer.Close()

	aggregator := common.HexToAddress(abis.Multicall3Address)
	mc, err := dialer.Multicaller(context.Background(), rpc.URL, aggregator)
	if err != nil {
		t.Fatalf("Multicaller: %v", err)
	}
	if mc.Address() != aggregator {
		t.Errorf("Address() = %s, want %s", mc.Address().Hex(), aggregator.Hex())
	}
}
