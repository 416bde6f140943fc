package tvl

import (
	"context"
	"errors"
	"fmt"

	"github.com/Iwinswap/iwinswap-uniswap-v2-tvl/batch"
	"github.com/ethereum/go-ethereum/common"
)

// DiscoveryError indicates the factory's pair enumeration could not be read.
// It is fatal: the TVL computation aborts immediately and is not retried.
type DiscoveryError struct {
	Factory common.Address
	Err     error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discovery: factory %s: %v", e.Factory.Hex(), e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// determineErrorType maps an error to the label used by the ErrorsTotal
// metric.
func determineErrorType(err error) string {
	var discoveryErr *DiscoveryError
	switch {
	case errors.As(err, &discoveryErr):
		return "discovery"
	case errors.Is(err, batch.ErrBookkeeping):
		return "bookkeeping"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "context"
	default:
		return "remote_call"
	}
}
