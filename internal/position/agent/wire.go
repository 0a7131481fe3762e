package agent

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/vmihailenco/msgpack/v5"

	"basis-vault/internal/position"
)

// Wire format: msgpack maps. Client-initiated calls carry an id and a method;
// the agent replies with the same id. Adjustment completions arrive as
// unsolicited events with the "adjustResult" event tag.

type request struct {
	ID     uint64      `msgpack:"id"`
	Method string      `msgpack:"method"`
	Params interface{} `msgpack:"params,omitempty"`
}

type envelope struct {
	ID     uint64             `msgpack:"id"`
	Event  string             `msgpack:"event"`
	Error  string             `msgpack:"error"`
	Result msgpack.RawMessage `msgpack:"result"`
}

type adjustRequestWire struct {
	SizeDelta       string `msgpack:"sizeDelta"`
	CollateralDelta string `msgpack:"collateralDelta"`
	IsIncrease      bool   `msgpack:"isIncrease"`
}

type adjustResultWire struct {
	SizeDelta          string `msgpack:"sizeDelta"`
	CollateralDelta    string `msgpack:"collateralDelta"`
	IsIncrease         bool   `msgpack:"isIncrease"`
	ReturnedCollateral string `msgpack:"returnedCollateral"`
}

type valueWire struct {
	Value string `msgpack:"value"`
}

// executeRouteWire carries aggregator calldata for the agent to submit.
type executeRouteWire struct {
	Src      string `msgpack:"src"`
	Dst      string `msgpack:"dst"`
	AmountIn string `msgpack:"amountIn"`
	Calldata []byte `msgpack:"calldata"`
}

// swapExactWire is one manual-path hop.
type swapExactWire struct {
	Pool     string `msgpack:"pool"`
	TokenIn  string `msgpack:"tokenIn"`
	TokenOut string `msgpack:"tokenOut"`
	AmountIn string `msgpack:"amountIn"`
}

type boolWire struct {
	Value bool `msgpack:"value"`
}

type boundsWire struct {
	Min string `msgpack:"min"`
	Max string `msgpack:"max"`
}

func encodeRequest(req request) ([]byte, error) {
	if req.Method == "" {
		return nil, errors.New("request method is required")
	}
	return msgpack.Marshal(req)
}

func adjustToWire(req position.AdjustRequest) *adjustRequestWire {
	return &adjustRequestWire{
		SizeDelta:       req.SizeDeltaInTokens.String(),
		CollateralDelta: req.CollateralDeltaAmount.String(),
		IsIncrease:      req.IsIncrease,
	}
}

func parseInt(s, field string) (sdkmath.Int, error) {
	if s == "" {
		return sdkmath.ZeroInt(), nil
	}
	v, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("invalid %s amount %q", field, s)
	}
	return v, nil
}

func adjustFromWire(w adjustResultWire) (position.AdjustResponse, error) {
	size, err := parseInt(w.SizeDelta, "sizeDelta")
	if err != nil {
		return position.AdjustResponse{}, err
	}
	collateral, err := parseInt(w.CollateralDelta, "collateralDelta")
	if err != nil {
		return position.AdjustResponse{}, err
	}
	returned, err := parseInt(w.ReturnedCollateral, "returnedCollateral")
	if err != nil {
		return position.AdjustResponse{}, err
	}
	return position.AdjustResponse{
		SizeDeltaInTokens:     size,
		CollateralDeltaAmount: collateral,
		IsIncrease:            w.IsIncrease,
		ReturnedCollateral:    returned,
	}, nil
}

func boundsFromWire(w boundsWire) (position.Bounds, error) {
	min, err := parseInt(w.Min, "min")
	if err != nil {
		return position.Bounds{}, err
	}
	max, err := parseInt(w.Max, "max")
	if err != nil {
		return position.Bounds{}, err
	}
	return position.Bounds{Min: min, Max: max}, nil
}
