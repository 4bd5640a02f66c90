package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/mselser95/blue-liquidator/pkg/types"
)

// LatestBlock returns the head block number and its base fee.
// A missing header or base fee is reported as types.ErrStaleBlockData.
func LatestBlock(ctx context.Context, headers HeaderReader) (number uint64, baseFee *big.Int, err error) {
	header, err := headers.HeaderByNumber(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", types.ErrStaleBlockData, err)
	}

	if header == nil || header.Number == nil {
		return 0, nil, fmt.Errorf("%w: no latest header", types.ErrStaleBlockData)
	}

	if header.BaseFee == nil {
		return 0, nil, fmt.Errorf("%w: block %d has no base fee", types.ErrStaleBlockData, header.Number.Uint64())
	}

	return header.Number.Uint64(), new(big.Int).Set(header.BaseFee), nil
}
