package outbound

import (
	"context"

	"github.com/archon-research/token-cache/internal/domain/entity"
)

// MetadataSource fetches authoritative token metadata from an origin such as
// an RPC node or a third-party indexing API.
//
// Implementations return fully validated metadata or an error. Shape and
// business-rule failures are reported as *entity.QueryError; transport
// failures are returned as-is.
type MetadataSource interface {
	FetchMetadata(ctx context.Context, key entity.HashKey) (*entity.TokenMetadata, error)
}
