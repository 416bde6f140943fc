// Package tvl computes the total value locked of a Uniswap V2-style exchange
// at a given historical block. It discovers every trading pair from the
// factory contract, keeps the pairs holding at least one supported token, and
// sums the on-chain balances those pairs hold, resolving all reads through
// the chunked aggregation engine in the batch package.
package tvl

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	ethclients "github.com/Iwinswap/iwinswap-ethclients"
	contractabi "github.com/Iwinswap/iwinswap-uniswap-v2-tvl/abi"
	"github.com/Iwinswap/iwinswap-uniswap-v2-tvl/batch"
	"github.com/Iwinswap/iwinswap-uniswap-v2-tvl/multicall"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// Logger defines a standard interface for structured, leveled logging,
// compatible with the standard library's slog.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// GetClientFunc supplies the eth client used for a computation.
type GetClientFunc func() (ethclients.ETHClient, error)

var (
	// Method signatures loaded from the ABI package. This approach is safer
	// and more maintainable than using hardcoded hashes.
	allPairsLengthSig = contractabi.FactoryABI.Methods["allPairsLength"].ID
	token0Sig         = contractabi.PairABI.Methods["token0"].ID
	token1Sig         = contractabi.PairABI.Methods["token1"].ID
)

const (
	// DefaultPairChunkSize is the chunk size for generic multi-reads (pair
	// enumeration and token lookups).
	DefaultPairChunkSize = 5000
	// DefaultBalanceChunkSize is the chunk size for balance-oriented batches.
	DefaultBalanceChunkSize = 2500

	// defaultRPCTimeout bounds the single direct eth_call made outside the
	// aggregation engine (the factory pair-count read).
	defaultRPCTimeout = 10 * time.Second
)

// Config holds all the dependencies and settings for the TVLSystem.
// Using a configuration struct makes initialization cleaner and more extensible.
type Config struct {
	SystemName      string
	PrometheusReg   prometheus.Registerer
	GetClient       GetClientFunc
	SupportedTokens SupportedTokensFunc
	Factory         common.Address
	Multicall       common.Address

	// PairChunkSize and BalanceChunkSize default to DefaultPairChunkSize and
	// DefaultBalanceChunkSize when zero.
	PairChunkSize    int
	BalanceChunkSize int
	// MaxConcurrentCalls bounds in-flight chunk round-trips; zero means fully
	// sequential dispatch.
	MaxConcurrentCalls int
	// PairCacheSize sizes the pair token metadata cache. Pair tokens are
	// immutable on-chain, so repeat computations skip those reads entirely.
	// Zero disables the cache.
	PairCacheSize int
	OnProgress    batch.ProgressFunc
	Logger        Logger
}

// validate checks that all essential fields in the Config are provided.
func (c *Config) validate() error {
	if c.SystemName == "" {
		return errors.New("system name is required")
	}
	if c.GetClient == nil {
		return errors.New("get client function is required")
	}
	if c.SupportedTokens == nil {
		return errors.New("supported tokens function is required")
	}
	if c.Factory == (common.Address{}) {
		return errors.New("factory address is required")
	}
	if c.Multicall == (common.Address{}) {
		return errors.New("multicall address is required")
	}
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// pairTokens is the cached token metadata for one pair.
type pairTokens struct {
	token0 common.Address
	token1 common.Address
}

// PairRecord tracks which sides of a discovered pair hold supported tokens.
// A nil side means that token is not in the supported set.
type PairRecord struct {
	Pair   common.Address
	Token0 *common.Address
	Token1 *common.Address
}

// TVLSystem computes DEX-wide token balances at a pinned block. It is safe
// for concurrent use; the only mutable state is the pair token cache, which
// is internally synchronized.
type TVLSystem struct {
	systemName         string
	getClient          GetClientFunc
	supportedTokens    SupportedTokensFunc
	factory            common.Address
	multicall          common.Address
	pairChunkSize      int
	balanceChunkSize   int
	maxConcurrentCalls int
	onProgress         batch.ProgressFunc
	pairCache          *lru.Cache[common.Address, pairTokens]
	metrics            *Metrics
	logger             Logger
}

// NewTVLSystem constructs a new system from the given configuration.
func NewTVLSystem(cfg *Config) (*TVLSystem, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid tvl system configuration: %w", err)
	}

	pairChunkSize := cfg.PairChunkSize
	if pairChunkSize == 0 {
		pairChunkSize = DefaultPairChunkSize
	}
	balanceChunkSize := cfg.BalanceChunkSize
	if balanceChunkSize == 0 {
		balanceChunkSize = DefaultBalanceChunkSize
	}
	maxConcurrentCalls := cfg.MaxConcurrentCalls
	if maxConcurrentCalls == 0 {
		maxConcurrentCalls = batch.DefaultMaxConcurrentCalls
	}

	var pairCache *lru.Cache[common.Address, pairTokens]
	if cfg.PairCacheSize > 0 {
		cache, err := lru.New[common.Address, pairTokens](cfg.PairCacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create pair token cache: %w", err)
		}
		pairCache = cache
	}

	system := &TVLSystem{
		systemName:         cfg.SystemName,
		getClient:          cfg.GetClient,
		supportedTokens:    cfg.SupportedTokens,
		factory:            cfg.Factory,
		multicall:          cfg.Multicall,
		pairChunkSize:      pairChunkSize,
		balanceChunkSize:   balanceChunkSize,
		maxConcurrentCalls: maxConcurrentCalls,
		onProgress:         cfg.OnProgress,
		pairCache:          pairCache,
		metrics:            NewMetrics(cfg.PrometheusReg, cfg.SystemName),
		logger:             cfg.Logger,
	}

	system.logger.Info("TVLSystem created", "system", system.systemName, "factory", system.factory.Hex())
	return system, nil
}

// ComputeTVL computes the per-token balance mapping for the exchange at
// blockNumber. Keys are lower-cased token contract addresses; values are
// balances in the token's native integer unit, with no decimal
// normalization. timestamp identifies the point in time the block
// corresponds to and is recorded for observability only.
//
// The operation is atomic from the caller's point of view: it returns either
// a complete mapping or an error, never a partial result. When no supported
// balances exist, the mapping contains a single zero-address entry with value
// zero.
func (s *TVLSystem) ComputeTVL(ctx context.Context, timestamp time.Time, blockNumber *big.Int) (map[string]*big.Int, error) {
	timer := prometheus.NewTimer(s.metrics.ComputationDuration.WithLabelValues())
	defer timer.ObserveDuration()

	balances, err := s.computeTVL(ctx, timestamp, blockNumber)
	if err != nil {
		errorType := determineErrorType(err)
		s.logger.Error("TVL computation failed", "system", s.systemName, "type", errorType, "error", err)
		s.metrics.ErrorsTotal.WithLabelValues(errorType).Inc()
		return nil, err
	}
	return balances, nil
}

func (s *TVLSystem) computeTVL(ctx context.Context, timestamp time.Time, blockNumber *big.Int) (map[string]*big.Int, error) {
	start := time.Now()

	client, err := s.getClient()
	if err != nil {
		return nil, fmt.Errorf("failed to get eth client: %w", err)
	}

	tokens, err := s.supportedTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load supported tokens: %w", err)
	}
	supported := NewTokenSet(tokens)

	s.logger.Info(
		"Starting TVL computation",
		"system", s.systemName,
		"block", blockNumber,
		"timestamp", timestamp.Unix(),
		"supported_tokens", supported.Len(),
	)

	pairCount, err := s.readPairCount(ctx, client, blockNumber)
	if err != nil {
		return nil, err
	}

	pairs, err := s.discoverPairs(ctx, client, blockNumber, pairCount)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate pairs: %w", err)
	}
	s.metrics.PairsDiscovered.WithLabelValues().Set(float64(len(pairs)))

	records, err := s.resolvePairTokens(ctx, client, blockNumber, pairs, supported)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve pair tokens: %w", err)
	}
	s.metrics.SupportedPairs.WithLabelValues().Set(float64(len(records)))

	balanceCalls, err := buildBalanceCalls(records)
	if err != nil {
		return nil, err
	}

	combined, err := batch.Aggregate(ctx, balanceCalls, batch.AggregateConfig{
		MaxChunkSize:       s.balanceChunkSize,
		MaxConcurrentCalls: s.maxConcurrentCalls,
		Mode:               batch.SumByKey,
		Execute:            s.instrument(multicall.NewBalanceExecutor(client, s.multicall, blockNumber)),
		OnProgress:         s.onProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate balances: %w", err)
	}

	s.logger.Info(
		"TVL computation complete",
		"system", s.systemName,
		"block", blockNumber,
		"pairs", len(pairs),
		"supported_pairs", len(records),
		"balance_calls", len(balanceCalls),
		"tokens_with_balances", len(combined.Balances),
		"duration", time.Since(start),
	)
	return combined.Balances, nil
}

// readPairCount reads allPairsLength() from the factory with a single direct
// eth_call. A failed or unreadable response is fatal and not retried.
func (s *TVLSystem) readPairCount(parentCtx context.Context, client ethclients.ETHClient, blockNumber *big.Int) (uint64, error) {
	ctx, cancel := context.WithTimeout(parentCtx, defaultRPCTimeout)
	defer cancel()

	data, err := client.CallContract(ctx, ethereum.CallMsg{
		To:   &s.factory,
		Data: allPairsLengthSig,
	}, blockNumber)
	if err != nil {
		return 0, &DiscoveryError{Factory: s.factory, Err: fmt.Errorf("eth_call for allPairsLength failed: %w", err)}
	}
	if len(data) != 32 {
		return 0, &DiscoveryError{Factory: s.factory, Err: fmt.Errorf("invalid response length for allPairsLength: got %d bytes", len(data))}
	}

	count := new(big.Int).SetBytes(data)
	if !count.IsUint64() {
		return 0, &DiscoveryError{Factory: s.factory, Err: fmt.Errorf("unreadable pair count %s", count.String())}
	}
	return count.Uint64(), nil
}

// discoverPairs resolves allPairs(i) for every index through the aggregation
// engine and returns the pair addresses in index order.
func (s *TVLSystem) discoverPairs(ctx context.Context, client ethclients.ETHClient, blockNumber *big.Int, pairCount uint64) ([]common.Address, error) {
	calls := make([]batch.Call, 0, pairCount)
	for i := uint64(0); i < pairCount; i++ {
		data, err := contractabi.FactoryABI.Pack("allPairs", new(big.Int).SetUint64(i))
		if err != nil {
			return nil, fmt.Errorf("failed to pack allPairs(%d): %w", i, err)
		}
		calls = append(calls, batch.Call{Target: s.factory, Data: data})
	}

	combined, err := batch.Aggregate(ctx, calls, batch.AggregateConfig{
		MaxChunkSize:       s.pairChunkSize,
		MaxConcurrentCalls: s.maxConcurrentCalls,
		Mode:               batch.Concat,
		Execute:            s.instrument(multicall.NewCallExecutor(client, s.multicall, blockNumber)),
		OnProgress:         s.onProgress,
	})
	if err != nil {
		return nil, err
	}

	pairs := make([]common.Address, len(combined.Outputs))
	for i, output := range combined.Outputs {
		if len(output) != 32 {
			return nil, fmt.Errorf("invalid response length for allPairs(%d): got %d bytes", i, len(output))
		}
		pairs[i] = common.BytesToAddress(output)
	}
	return pairs, nil
}

// resolvePairTokens fetches token0 and token1 for every pair (two independent
// batched multicalls, cache-assisted) and keeps the sides that are in the
// supported set. Pairs with neither side supported are dropped.
func (s *TVLSystem) resolvePairTokens(ctx context.Context, client ethclients.ETHClient, blockNumber *big.Int, pairs []common.Address, supported *TokenSet) ([]PairRecord, error) {
	tokensByPair := make(map[common.Address]pairTokens, len(pairs))
	var uncached []common.Address
	for _, pair := range pairs {
		if s.pairCache != nil {
			if cached, ok := s.pairCache.Get(pair); ok {
				tokensByPair[pair] = cached
				s.metrics.PairCacheHits.WithLabelValues().Inc()
				continue
			}
			s.metrics.PairCacheMisses.WithLabelValues().Inc()
		}
		uncached = append(uncached, pair)
	}

	if len(uncached) > 0 {
		token0s, err := s.fetchPairSides(ctx, client, blockNumber, uncached, token0Sig, "token0")
		if err != nil {
			return nil, err
		}
		token1s, err := s.fetchPairSides(ctx, client, blockNumber, uncached, token1Sig, "token1")
		if err != nil {
			return nil, err
		}
		for i, pair := range uncached {
			resolved := pairTokens{token0: token0s[i], token1: token1s[i]}
			tokensByPair[pair] = resolved
			if s.pairCache != nil {
				s.pairCache.Add(pair, resolved)
			}
		}
	}

	var records []PairRecord
	for _, pair := range pairs {
		resolved := tokensByPair[pair]
		record := PairRecord{Pair: pair}
		if supported.Contains(resolved.token0) {
			token0 := resolved.token0
			record.Token0 = &token0
		}
		if supported.Contains(resolved.token1) {
			token1 := resolved.token1
			record.Token1 = &token1
		}
		if record.Token0 == nil && record.Token1 == nil {
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// fetchPairSides resolves one pair accessor (token0 or token1) for every
// pair through the aggregation engine.
func (s *TVLSystem) fetchPairSides(ctx context.Context, client ethclients.ETHClient, blockNumber *big.Int, pairs []common.Address, methodSig []byte, methodName string) ([]common.Address, error) {
	calls := make([]batch.Call, len(pairs))
	for i, pair := range pairs {
		calls[i] = batch.Call{Target: pair, Data: methodSig}
	}

	combined, err := batch.Aggregate(ctx, calls, batch.AggregateConfig{
		MaxChunkSize:       s.pairChunkSize,
		MaxConcurrentCalls: s.maxConcurrentCalls,
		Mode:               batch.Concat,
		Execute:            s.instrument(multicall.NewCallExecutor(client, s.multicall, blockNumber)),
		OnProgress:         s.onProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate %s calls: %w", methodName, err)
	}

	addresses := make([]common.Address, len(combined.Outputs))
	for i, output := range combined.Outputs {
		if len(output) != 32 {
			return nil, fmt.Errorf("invalid response length for %s on pair %s: got %d bytes", methodName, pairs[i].Hex(), len(output))
		}
		addresses[i] = common.BytesToAddress(output)
	}
	return addresses, nil
}

// buildBalanceCalls produces one balanceOf call per (pair, retained token)
// edge: the target is the token contract, the queried account is the pair.
func buildBalanceCalls(records []PairRecord) ([]batch.Call, error) {
	var calls []batch.Call
	for _, record := range records {
		for _, token := range []*common.Address{record.Token0, record.Token1} {
			if token == nil {
				continue
			}
			data, err := contractabi.ERC20ABI.Pack("balanceOf", record.Pair)
			if err != nil {
				return nil, fmt.Errorf("failed to pack balanceOf(%s): %w", record.Pair.Hex(), err)
			}
			calls = append(calls, batch.Call{Target: *token, Data: data})
		}
	}
	return calls, nil
}

// instrument wraps an executor so completed chunks and executed calls feed
// the system metrics.
func (s *TVLSystem) instrument(execute batch.ExecuteFunc) batch.ExecuteFunc {
	return func(ctx context.Context, chunk batch.Chunk) (*batch.ChunkResult, error) {
		result, err := execute(ctx, chunk)
		if err != nil {
			return nil, err
		}
		s.metrics.ChunksDispatched.WithLabelValues().Inc()
		s.metrics.CallsExecuted.WithLabelValues().Add(float64(result.CallCount))
		return result, nil
	}
}

// BalanceKey returns the canonical BalanceMapping key for a token address.
func BalanceKey(token common.Address) string {
	return strings.ToLower(token.Hex())
}
