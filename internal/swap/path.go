package swap

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrEmptyPath     = errors.New("swap path is empty")
	ErrPathLength    = errors.New("swap path must alternate token/pool entries")
	ErrPathEndpoints = errors.New("swap path endpoints do not match token pair")
	ErrZeroAddress   = errors.New("swap path contains the zero address")
)

// Path is an alternating token/pool address sequence:
// token0, pool0, token1, pool1, ..., tokenN. Immutable after validation.
type Path []common.Address

// Validate checks the alternating structure and that the path runs from
// tokenIn to tokenOut.
func (p Path) Validate(tokenIn, tokenOut common.Address) error {
	if len(p) == 0 {
		return ErrEmptyPath
	}
	if len(p)%2 == 0 || len(p) < 3 {
		return fmt.Errorf("%w: length %d", ErrPathLength, len(p))
	}
	for _, addr := range p {
		if addr == (common.Address{}) {
			return ErrZeroAddress
		}
	}
	if p[0] != tokenIn || p[len(p)-1] != tokenOut {
		return fmt.Errorf("%w: %s -> %s", ErrPathEndpoints, p[0].Hex(), p[len(p)-1].Hex())
	}
	return nil
}

// Hops decomposes the path into (tokenIn, pool, tokenOut) triples.
func (p Path) Hops() [][3]common.Address {
	hops := make([][3]common.Address, 0, len(p)/2)
	for i := 0; i+2 < len(p); i += 2 {
		hops = append(hops, [3]common.Address{p[i], p[i+1], p[i+2]})
	}
	return hops
}
