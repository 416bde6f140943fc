// Package abi holds the parsed contract interfaces the TVL system interacts
// with. Loading method IDs from parsed ABIs is safer and more maintainable
// than hardcoding 4-byte selectors.
package abi

import (
	"strings"

	ethabi "github.com/ethereum/go-ethereum/accounts/abi"
)

const factoryJSON = `[
	{"name":"allPairsLength","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"allPairs","type":"function","stateMutability":"view","inputs":[{"name":"","type":"uint256"}],"outputs":[{"name":"pair","type":"address"}]}
]`

const pairJSON = `[
	{"name":"token0","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"name":"token1","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"name":"getReserves","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]}
]`

const erc20JSON = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const multicallJSON = `[
	{"name":"aggregate","type":"function","stateMutability":"nonpayable","inputs":[{"name":"calls","type":"tuple[]","components":[{"name":"target","type":"address"},{"name":"callData","type":"bytes"}]}],"outputs":[{"name":"blockNumber","type":"uint256"},{"name":"returnData","type":"bytes[]"}]}
]`

var (
	// FactoryABI is the Uniswap V2 factory interface used for pair enumeration.
	FactoryABI = mustParse(factoryJSON)
	// PairABI is the Uniswap V2 pair interface.
	PairABI = mustParse(pairJSON)
	// ERC20ABI is the minimal token interface needed for balance queries.
	ERC20ABI = mustParse(erc20JSON)
	// MulticallABI is the aggregator contract interface used to batch many
	// reads into a single eth_call.
	MulticallABI = mustParse(multicallJSON)
)

func mustParse(definition string) ethabi.ABI {
	parsed, err := ethabi.JSON(strings.NewReader(definition))
	if err != nil {
		panic("abi: failed to parse contract definition: " + err.Error())
	}
	return parsed
}
