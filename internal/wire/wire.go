// Package wire holds the request/response encoding conventions shared by
// every client-facing entry point: 0x-prefixed addresses, 0x-prefixed hex
// integers in responses (decimal or hex accepted on input), and 0x-prefixed
// hex for opaque byte payloads.
package wire

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ParseAddress decodes a 20-byte hex address, with or without the 0x
// prefix. It rejects anything that isn't exactly 40 hex digits after the
// optional prefix.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("not a well-formed address: %q", s)
	}
	return common.HexToAddress(s), nil
}

// ParseBigInt accepts a decimal or 0x-prefixed hex integer string. Values
// are bounds-checked against a 256-bit word, the widest value/gasPrice/
// balance an EVM-facing field can ever legitimately hold, using the same
// uint256 type go-ethereum itself uses for that check.
func ParseBigInt(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty integer")
	}
	var (
		v   *uint256.Int
		err error
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err = uint256.FromHex(strings.ToLower(s))
	} else {
		v, err = uint256.FromDecimal(s)
	}
	if err != nil {
		return nil, fmt.Errorf("malformed integer: %q", s)
	}
	return v.ToBig(), nil
}

// ParseUint64 is ParseBigInt narrowed to a uint64, for fields like gas and
// nonce that never need bignum range.
func ParseUint64(s string) (uint64, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseUint(s[2:], 16, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed integer: %q", s)
		}
		return v, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed integer: %q", s)
	}
	return v, nil
}

// ParseData decodes an optional 0x-prefixed byte payload. An empty string
// decodes to nil, not a zero-length non-nil slice, so callers can tell
// "no data field" from "empty data field" if they need to.
func ParseData(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	trimmed := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("malformed data: %w", err)
	}
	return b, nil
}

// HexBigInt renders a *big.Int the way every JSON response field does:
// 0x-prefixed, lowercase, no leading zeros (0x0 for zero).
func HexBigInt(v *big.Int) string {
	if v == nil {
		return "0x0"
	}
	return "0x" + v.Text(16)
}

// HexUint64 renders a uint64 the same way.
func HexUint64(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}

// HexBytes renders a byte slice as 0x-prefixed hex.
func HexBytes(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
