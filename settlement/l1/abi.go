package l1

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const (
	methodVerifyPessimistic = "verifyPessimisticTrustedAggregator"
	eventVerifyPessimistic  = "VerifyPessimisticStateTransition"
	methodL1InfoRootMap     = "l1InfoRootMap"
	methodTrustedSequencer  = "trustedSequencer"
)

const rollupManagerABI = `[
	{"type":"function","name":"verifyPessimisticTrustedAggregator","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"rollupID","type":"uint32"},
		{"name":"l1InfoTreeLeafCount","type":"uint32"},
		{"name":"newLocalExitRoot","type":"bytes32"},
		{"name":"newPessimisticRoot","type":"bytes32"},
		{"name":"proof","type":"bytes"},
		{"name":"customChainData","type":"bytes"}],
	 "outputs":[]},
	{"type":"event","name":"VerifyPessimisticStateTransition","anonymous":false,
	 "inputs":[
		{"name":"rollupID","type":"uint32","indexed":true},
		{"name":"prevPessimisticRoot","type":"bytes32","indexed":false},
		{"name":"newPessimisticRoot","type":"bytes32","indexed":false},
		{"name":"prevLocalExitRoot","type":"bytes32","indexed":false},
		{"name":"newLocalExitRoot","type":"bytes32","indexed":false},
		{"name":"l1InfoRoot","type":"bytes32","indexed":false},
		{"name":"trustedAggregator","type":"address","indexed":true}]}
]`

const globalExitRootABI = `[
	{"type":"function","name":"l1InfoRootMap","stateMutability":"view",
	 "inputs":[{"name":"depositCount","type":"uint32"}],
	 "outputs":[{"name":"","type":"bytes32"}]}
]`

const aggchainABI = `[
	{"type":"function","name":"trustedSequencer","stateMutability":"view",
	 "inputs":[],
	 "outputs":[{"name":"","type":"address"}]}
]`

var (
	rollupManager    = mustParse(rollupManagerABI)
	globalExitRoot   = mustParse(globalExitRootABI)
	aggchainContract = mustParse(aggchainABI)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("l1: invalid abi: " + err.Error())
	}
	return parsed
}
