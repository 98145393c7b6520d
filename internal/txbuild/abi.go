package txbuild

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Position manager ABI fragment. Only the calls the engine issues.
const positionManagerABI = `[
  {"type":"function","name":"initializePosition","inputs":[
    {"name":"pool","type":"address"},
    {"name":"minBin","type":"int32"},
    {"name":"maxBin","type":"int32"},
    {"name":"shape","type":"uint8"},
    {"name":"amount","type":"uint256"}]},
  {"type":"function","name":"extendPosition","inputs":[
    {"name":"pool","type":"address"},
    {"name":"fromBin","type":"int32"},
    {"name":"toBin","type":"int32"}]},
  {"type":"function","name":"depositByStrategy","inputs":[
    {"name":"pool","type":"address"},
    {"name":"minBin","type":"int32"},
    {"name":"maxBin","type":"int32"},
    {"name":"shape","type":"uint8"},
    {"name":"amount","type":"uint256"}]},
  {"type":"function","name":"removeLiquidity","inputs":[
    {"name":"pool","type":"address"},
    {"name":"minBin","type":"int32"},
    {"name":"maxBin","type":"int32"}]},
  {"type":"function","name":"closePosition","inputs":[
    {"name":"pool","type":"address"}]},
  {"type":"function","name":"claimFees","inputs":[
    {"name":"pool","type":"address"}]}
]`

var managerABI = mustParseABI(positionManagerABI)

func mustParseABI(src string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic(err)
	}
	return parsed
}
