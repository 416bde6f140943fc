// Package multicall implements batch executors backed by an on-chain
// aggregator contract. Each chunk of calls is resolved with a single
// eth_call to the aggregator's aggregate method, pinned to a specific block.
package multicall

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethclients "github.com/Iwinswap/iwinswap-ethclients"
	contractabi "github.com/Iwinswap/iwinswap-uniswap-v2-tvl/abi"
	"github.com/Iwinswap/iwinswap-uniswap-v2-tvl/batch"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

const (
	// defaultRPCTimeout bounds a single aggregate round-trip. Chunks carry
	// thousands of inner calls, so this is deliberately generous.
	defaultRPCTimeout = 30 * time.Second
)

// aggregateCall mirrors the (address target, bytes callData) tuple of the
// aggregator contract's aggregate method.
type aggregateCall struct {
	Target   common.Address
	CallData []byte
}

// NewCallExecutor returns a batch.ExecuteFunc that resolves a chunk with one
// aggregate eth_call at blockNumber and yields the raw return data of every
// inner call, in call order. A nil blockNumber queries the latest state.
func NewCallExecutor(client ethclients.ETHClient, multicallAddr common.Address, blockNumber *big.Int) batch.ExecuteFunc {
	return func(ctx context.Context, chunk batch.Chunk) (*batch.ChunkResult, error) {
		outputs, err := aggregate(ctx, client, multicallAddr, blockNumber, chunk.Calls)
		if err != nil {
			return nil, err
		}
		return &batch.ChunkResult{CallCount: len(chunk.Calls), Outputs: outputs}, nil
	}
}

// NewBalanceExecutor returns a batch.ExecuteFunc for chunks of balanceOf
// calls. It performs the same aggregate round-trip but decodes every return
// word as a uint256 balance and accumulates a partial mapping keyed by the
// lower-cased token address (the call target). Duplicate targets within a
// chunk are summed.
func NewBalanceExecutor(client ethclients.ETHClient, multicallAddr common.Address, blockNumber *big.Int) batch.ExecuteFunc {
	return func(ctx context.Context, chunk batch.Chunk) (*batch.ChunkResult, error) {
		outputs, err := aggregate(ctx, client, multicallAddr, blockNumber, chunk.Calls)
		if err != nil {
			return nil, err
		}

		balances := make(map[string]*big.Int, len(chunk.Calls))
		for i, output := range outputs {
			token := chunk.Calls[i].Target
			if len(output) != 32 {
				return nil, fmt.Errorf("multicall: invalid balanceOf response length for token %s: got %d bytes", token.Hex(), len(output))
			}
			key := strings.ToLower(token.Hex())
			amount := new(big.Int).SetBytes(output)
			if accumulated, ok := balances[key]; ok {
				accumulated.Add(accumulated, amount)
			} else {
				balances[key] = amount
			}
		}
		return &batch.ChunkResult{CallCount: len(chunk.Calls), Balances: balances}, nil
	}
}

// aggregate performs the eth_call round-trip for one chunk of calls.
func aggregate(parentCtx context.Context, client ethclients.ETHClient, multicallAddr common.Address, blockNumber *big.Int, calls []batch.Call) ([][]byte, error) {
	ctx, cancel := context.WithTimeout(parentCtx, defaultRPCTimeout)
	defer cancel()

	packed := make([]aggregateCall, len(calls))
	for i, call := range calls {
		packed[i] = aggregateCall{Target: call.Target, CallData: call.Data}
	}
	input, err := contractabi.MulticallABI.Pack("aggregate", packed)
	if err != nil {
		return nil, fmt.Errorf("multicall: failed to pack aggregate input: %w", err)
	}

	returnData, err := client.CallContract(ctx, ethereum.CallMsg{
		To:   &multicallAddr,
		Data: input,
	}, blockNumber)
	if err != nil {
		return nil, fmt.Errorf("multicall: aggregate eth_call failed: %w", err)
	}

	unpacked, err := contractabi.MulticallABI.Unpack("aggregate", returnData)
	if err != nil {
		return nil, fmt.Errorf("multicall: failed to unpack aggregate output: %w", err)
	}
	if len(unpacked) != 2 {
		return nil, fmt.Errorf("multicall: unexpected aggregate output arity: got %d values", len(unpacked))
	}
	outputs, ok := unpacked[1].([][]byte)
	if !ok {
		return nil, fmt.Errorf("multicall: unexpected aggregate return data type %T", unpacked[1])
	}
	if len(outputs) != len(calls) {
		return nil, fmt.Errorf("multicall: aggregate returned %d results for %d calls", len(outputs), len(calls))
	}
	return outputs, nil
}
