// Package erc20 holds the event topics and ABI used to recognize token
// movements in block logs: ERC20 Transfer, plus WETH's Deposit/Withdrawal.
package erc20

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// eventsABI covers plain ERC20 Transfer plus WETH's Deposit/Withdrawal,
// which behave like a Transfer to/from the zero address, plus the handful
// of read-only calls the balance reconciler needs.
const eventsABI = `[
  {"anonymous":false,"inputs":[{"indexed":true,"name":"from","type":"address"},{"indexed":true,"name":"to","type":"address"},{"indexed":false,"name":"value","type":"uint256"}],"name":"Transfer","type":"event"},
  {"anonymous":false,"inputs":[{"indexed":true,"name":"dst","type":"address"},{"indexed":false,"name":"wad","type":"uint256"}],"name":"Deposit","type":"event"},
  {"anonymous":false,"inputs":[{"indexed":true,"name":"src","type":"address"},{"indexed":false,"name":"wad","type":"uint256"}],"name":"Withdrawal","type":"event"},
  {"constant":true,"inputs":[{"name":"who","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
  {"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
  {"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
  {"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

var parsedABI abi.ABI

// TransferTopic, DepositTopic, WithdrawalTopic are the keccak256 event
// signature hashes used to match raw log topics before decoding.
var (
	TransferTopic   common.Hash
	DepositTopic    common.Hash
	WithdrawalTopic common.Hash
)

// WETHContractAddress is the canonical wrapped-ether contract. Its
// Deposit/Withdrawal events are reflected as plain ether-balance payment
// notifications in addition to the token-balance bookkeeping every other
// ERC20 gets.
var WETHContractAddress = common.HexToAddress("0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2")

func init() {
	var err error
	parsedABI, err = abi.JSON(strings.NewReader(eventsABI))
	if err != nil {
		panic("erc20: invalid embedded abi: " + err.Error())
	}
	TransferTopic = parsedABI.Events["Transfer"].ID
	DepositTopic = parsedABI.Events["Deposit"].ID
	WithdrawalTopic = parsedABI.Events["Withdrawal"].ID
}

// DecodeTransferValue unpacks the non-indexed `value` field of a Transfer log.
func DecodeTransferValue(data []byte) (*big.Int, error) {
	var out struct{ Value *big.Int }
	if err := parsedABI.UnpackIntoInterface(&out, "Transfer", data); err != nil {
		return nil, err
	}
	return out.Value, nil
}

// DecodeWadValue unpacks the non-indexed `wad` field shared by WETH's
// Deposit and Withdrawal events.
func DecodeWadValue(eventName string, data []byte) (*big.Int, error) {
	var out struct{ Wad *big.Int }
	if err := parsedABI.UnpackIntoInterface(&out, eventName, data); err != nil {
		return nil, err
	}
	return out.Wad, nil
}

// DecodeSingleAddress extracts an address from a 32-byte indexed topic word.
func DecodeSingleAddress(topic common.Hash) common.Address {
	return common.BytesToAddress(topic.Bytes())
}

// PackBalanceOf encodes a balanceOf(owner) call.
func PackBalanceOf(owner common.Address) ([]byte, error) {
	return parsedABI.Pack("balanceOf", owner)
}

// UnpackBalanceOf decodes the uint256 return value of balanceOf.
func UnpackBalanceOf(data []byte) (*big.Int, error) {
	out, err := parsedABI.Unpack("balanceOf", data)
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

// PackSymbol, PackName, PackDecimals encode their respective no-arg calls.
func PackSymbol() ([]byte, error)   { return parsedABI.Pack("symbol") }
func PackName() ([]byte, error)     { return parsedABI.Pack("name") }
func PackDecimals() ([]byte, error) { return parsedABI.Pack("decimals") }

// UnpackSymbol, UnpackName, UnpackDecimals decode their respective returns.
func UnpackSymbol(data []byte) (string, error) {
	out, err := parsedABI.Unpack("symbol", data)
	if err != nil {
		return "", err
	}
	return out[0].(string), nil
}

func UnpackName(data []byte) (string, error) {
	out, err := parsedABI.Unpack("name", data)
	if err != nil {
		return "", err
	}
	return out[0].(string), nil
}

func UnpackDecimals(data []byte) (uint8, error) {
	out, err := parsedABI.Unpack("decimals", data)
	if err != nil {
		return 0, err
	}
	return out[0].(uint8), nil
}
