package swap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// AggregatorClient fetches routed swap quotes from a 1inch-style API.
type AggregatorClient struct {
	baseURL  string
	apiKey   string
	from     common.Address
	slippage float64
	http     *http.Client
	log      *zap.Logger
}

type Quote struct {
	DstAmount sdkmath.Int
	Calldata  []byte
}

func NewAggregatorClient(baseURL, apiKey string, from common.Address, slippage float64, timeout time.Duration, log *zap.Logger) *AggregatorClient {
	return &AggregatorClient{
		baseURL:  baseURL,
		apiKey:   apiKey,
		from:     from,
		slippage: slippage,
		http:     &http.Client{Timeout: timeout},
		log:      log,
	}
}

type quoteResponse struct {
	DstAmount string `json:"dstAmount"`
	Tx        struct {
		Data string `json:"data"`
	} `json:"tx"`
}

func (c *AggregatorClient) Quote(ctx context.Context, src, dst common.Address, amount sdkmath.Int) (Quote, error) {
	if src == dst {
		return Quote{}, errors.New("aggregator swap tokens must differ")
	}
	if amount.IsNil() || amount.IsZero() {
		return Quote{}, ErrZeroSwapAmount
	}
	params := url.Values{}
	params.Set("src", src.Hex())
	params.Set("dst", dst.Hex())
	params.Set("amount", amount.String())
	params.Set("from", c.from.Hex())
	params.Set("slippage", fmt.Sprintf("%g", c.slippage))
	params.Set("disableEstimate", "true")
	reqURL := c.baseURL + "/swap?" + params.Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Quote{}, err
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Quote{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Quote{}, fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}
	var parsed quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Quote{}, err
	}
	dstAmount, ok := sdkmath.NewIntFromString(parsed.DstAmount)
	if !ok || !dstAmount.IsPositive() {
		return Quote{}, fmt.Errorf("invalid dstAmount %q", parsed.DstAmount)
	}
	return Quote{DstAmount: dstAmount, Calldata: []byte(parsed.Tx.Data)}, nil
}

// RouteExecutor submits routed calldata to the venue and reports the realized
// output amount.
type RouteExecutor interface {
	Execute(ctx context.Context, src, dst common.Address, amountIn sdkmath.Int, calldata []byte) (sdkmath.Int, error)
}

// AggregatorAdapter swaps through the aggregator route. Swap errors out like
// any adapter; TrySwap converts failures into (zero, false) so callers can
// recover without unwinding state.
type AggregatorAdapter struct {
	client   *AggregatorClient
	executor RouteExecutor
	log      *zap.Logger
}

func NewAggregator(client *AggregatorClient, executor RouteExecutor, log *zap.Logger) *AggregatorAdapter {
	return &AggregatorAdapter{client: client, executor: executor, log: log}
}

func (a *AggregatorAdapter) Swap(ctx context.Context, amount sdkmath.Int, path Path) (sdkmath.Int, error) {
	if len(path) < 2 {
		return sdkmath.ZeroInt(), ErrEmptyPath
	}
	src, dst := path[0], path[len(path)-1]
	var quote Quote
	err := retry(ctx, 3, 200*time.Millisecond, func() error {
		var qerr error
		quote, qerr = a.client.Quote(ctx, src, dst, amount)
		return qerr
	})
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	out, err := a.executor.Execute(ctx, src, dst, amount, quote.Calldata)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if out.IsZero() {
		return sdkmath.ZeroInt(), ErrZeroAmountOut
	}
	return out, nil
}

// TrySwap reports failure instead of returning an error.
func (a *AggregatorAdapter) TrySwap(ctx context.Context, amount sdkmath.Int, path Path) (sdkmath.Int, bool) {
	out, err := a.Swap(ctx, amount, path)
	if err != nil {
		if a.log != nil {
			a.log.Warn("aggregator swap failed", zap.String("amount", amount.String()), zap.Error(err))
		}
		return sdkmath.ZeroInt(), false
	}
	return out, true
}

func retry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt == attempts-1 {
			return fmt.Errorf("retry failed: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}
