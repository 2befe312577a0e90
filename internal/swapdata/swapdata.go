// Package swapdata encodes and decodes the opaque per-hop parameters carried
// in ArbitrageParams.SwapData. Each venue type has its own layout.
package swapdata

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

var ErrBadSwapData = errors.New("swapdata: malformed hop parameters")

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

var (
	addressT = mustType("address")
	uint256T = mustType("uint256")
	uint24T  = mustType("uint24")
	int128T  = mustType("int128")
	boolT    = mustType("bool")

	constantProductArgs = abi.Arguments{
		{Name: "tokenOut", Type: addressT},
		{Name: "minOut", Type: uint256T},
	}
	concentratedArgs = abi.Arguments{
		{Name: "tokenOut", Type: addressT},
		{Name: "fee", Type: uint24T},
		{Name: "minOut", Type: uint256T},
	}
	stableArgs = abi.Arguments{
		{Name: "i", Type: int128T},
		{Name: "j", Type: int128T},
		{Name: "minOut", Type: uint256T},
		{Name: "useUnderlying", Type: boolT},
	}
)

// ConstantProductHop: {tokenOut, minAmountOut}.
type ConstantProductHop struct {
	TokenOut common.Address
	MinOut   *big.Int
}

// ConcentratedHop: {tokenOut, fee tier, minAmountOut}.
type ConcentratedHop struct {
	TokenOut common.Address
	Fee      uint32
	MinOut   *big.Int
}

// StableHop: {coin index in, coin index out, minAmountOut, useUnderlying}.
type StableHop struct {
	IndexIn       int64
	IndexOut      int64
	MinOut        *big.Int
	UseUnderlying bool
}

func EncodeConstantProduct(h ConstantProductHop) ([]byte, error) {
	return constantProductArgs.Pack(h.TokenOut, h.MinOut)
}

func DecodeConstantProduct(data []byte) (ConstantProductHop, error) {
	vals, err := constantProductArgs.Unpack(data)
	if err != nil || len(vals) != 2 {
		return ConstantProductHop{}, fmt.Errorf("%w: %v", ErrBadSwapData, err)
	}
	return ConstantProductHop{
		TokenOut: vals[0].(common.Address),
		MinOut:   vals[1].(*big.Int),
	}, nil
}

func EncodeConcentrated(h ConcentratedHop) ([]byte, error) {
	return concentratedArgs.Pack(h.TokenOut, big.NewInt(int64(h.Fee)), h.MinOut)
}

func DecodeConcentrated(data []byte) (ConcentratedHop, error) {
	vals, err := concentratedArgs.Unpack(data)
	if err != nil || len(vals) != 3 {
		return ConcentratedHop{}, fmt.Errorf("%w: %v", ErrBadSwapData, err)
	}
	return ConcentratedHop{
		TokenOut: vals[0].(common.Address),
		Fee:      uint32(vals[1].(*big.Int).Uint64()),
		MinOut:   vals[2].(*big.Int),
	}, nil
}

func EncodeStable(h StableHop) ([]byte, error) {
	return stableArgs.Pack(big.NewInt(h.IndexIn), big.NewInt(h.IndexOut), h.MinOut, h.UseUnderlying)
}

func DecodeStable(data []byte) (StableHop, error) {
	vals, err := stableArgs.Unpack(data)
	if err != nil || len(vals) != 4 {
		return StableHop{}, fmt.Errorf("%w: %v", ErrBadSwapData, err)
	}
	return StableHop{
		IndexIn:       vals[0].(*big.Int).Int64(),
		IndexOut:      vals[1].(*big.Int).Int64(),
		MinOut:        vals[2].(*big.Int),
		UseUnderlying: vals[3].(bool),
	}, nil
}
