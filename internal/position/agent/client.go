package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"basis-vault/internal/position"
)

const (
	eventAdjustResult = "adjustResult"
	callTimeout       = 15 * time.Second
)

// Client is an off-chain agent position manager reached over a websocket.
// Synchronous reads are request/reply correlated by id; AdjustPosition is
// acknowledged immediately and completed later via an adjustResult event
// forwarded to the bound callback.
type Client struct {
	url            string
	reconnectDelay time.Duration
	log            *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[uint64]chan envelope

	nextID   atomic.Uint64
	callback position.Callback
}

func New(url string, reconnectDelay time.Duration, log *zap.Logger) *Client {
	return &Client{
		url:            url,
		reconnectDelay: reconnectDelay,
		log:            log,
		pending:        make(map[uint64]chan envelope),
	}
}

// Bind registers the callback receiving adjustment completions. Must be called
// before Run.
func (c *Client) Bind(cb position.Callback) {
	c.callback = cb
}

// Run maintains the connection and dispatches inbound frames until ctx ends.
func (c *Client) Run(ctx context.Context) error {
	for {
		if err := c.ensureConnected(ctx); err != nil {
			return err
		}
		err := c.readLoop(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if c.log != nil {
			c.log.Warn("agent connection lost", zap.Error(err))
		}
		c.resetConn(err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}
	conn, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

func (c *Client) resetConn(cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close(websocket.StatusNormalClosure, "reconnect")
		c.conn = nil
	}
	if cause == nil {
		cause = errors.New("connection reset")
	}
	for id, ch := range c.pending {
		ch <- envelope{ID: id, Error: cause.Error()}
		delete(c.pending, id)
	}
}

func (c *Client) readLoop(ctx context.Context) error {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return errors.New("agent not connected")
		}
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var env envelope
		if err := msgpack.Unmarshal(data, &env); err != nil {
			if c.log != nil {
				c.log.Warn("agent frame decode failed", zap.Error(err))
			}
			continue
		}
		c.dispatch(ctx, env)
	}
}

func (c *Client) dispatch(ctx context.Context, env envelope) {
	if env.Event == eventAdjustResult {
		// Off the read loop: reconciliation may issue follow-up calls
		// whose replies this loop must stay free to deliver.
		go c.handleAdjustResult(ctx, env)
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.mu.Unlock()
	if !ok {
		if c.log != nil {
			c.log.Warn("agent reply without pending call", zap.Uint64("id", env.ID))
		}
		return
	}
	ch <- env
}

func (c *Client) handleAdjustResult(ctx context.Context, env envelope) {
	if c.callback == nil {
		return
	}
	var wire adjustResultWire
	if err := msgpack.Unmarshal(env.Result, &wire); err != nil {
		if c.log != nil {
			c.log.Error("adjust result decode failed", zap.Error(err))
		}
		return
	}
	resp, err := adjustFromWire(wire)
	if err != nil {
		if c.log != nil {
			c.log.Error("adjust result invalid", zap.Error(err))
		}
		return
	}
	if err := c.callback.AfterAdjustPosition(ctx, resp); err != nil && c.log != nil {
		c.log.Error("adjust reconciliation failed", zap.Error(err))
	}
}

func (c *Client) call(ctx context.Context, method string, params, out interface{}) error {
	id := c.nextID.Add(1)
	payload, err := encodeRequest(request{ID: id, Method: method, Params: params})
	if err != nil {
		return err
	}
	ch := make(chan envelope, 1)
	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return errors.New("agent not connected")
	}
	c.pending[id] = ch
	c.mu.Unlock()

	writeCtx, cancel := context.WithTimeout(ctx, callTimeout)
	err = conn.Write(writeCtx, websocket.MessageBinary, payload)
	cancel()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return err
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return ctx.Err()
	case env := <-ch:
		if env.Error != "" {
			return fmt.Errorf("agent %s: %s", method, env.Error)
		}
		if out == nil {
			return nil
		}
		return msgpack.Unmarshal(env.Result, out)
	}
}

func (c *Client) callInt(ctx context.Context, method string) (sdkmath.Int, error) {
	var wire valueWire
	if err := c.call(ctx, method, nil, &wire); err != nil {
		return sdkmath.ZeroInt(), err
	}
	return parseInt(wire.Value, method)
}

func (c *Client) callBounds(ctx context.Context, method string) (position.Bounds, error) {
	var wire boundsWire
	if err := c.call(ctx, method, nil, &wire); err != nil {
		return position.Bounds{}, err
	}
	return boundsFromWire(wire)
}

func (c *Client) AdjustPosition(ctx context.Context, req position.AdjustRequest) error {
	return c.call(ctx, "adjustPosition", adjustToWire(req), nil)
}

func (c *Client) PositionNetBalance(ctx context.Context) (sdkmath.Int, error) {
	return c.callInt(ctx, "positionNetBalance")
}

func (c *Client) CurrentLeverage(ctx context.Context) (sdkmath.Int, error) {
	return c.callInt(ctx, "currentLeverage")
}

func (c *Client) PositionSizeInTokens(ctx context.Context) (sdkmath.Int, error) {
	return c.callInt(ctx, "positionSizeInTokens")
}

func (c *Client) IncreaseSizeMinMax(ctx context.Context) (position.Bounds, error) {
	return c.callBounds(ctx, "increaseSizeMinMax")
}

func (c *Client) DecreaseSizeMinMax(ctx context.Context) (position.Bounds, error) {
	return c.callBounds(ctx, "decreaseSizeMinMax")
}

func (c *Client) IncreaseCollateralMinMax(ctx context.Context) (position.Bounds, error) {
	return c.callBounds(ctx, "increaseCollateralMinMax")
}

func (c *Client) DecreaseCollateralMinMax(ctx context.Context) (position.Bounds, error) {
	return c.callBounds(ctx, "decreaseCollateralMinMax")
}

func (c *Client) NeedKeep(ctx context.Context) (bool, error) {
	var wire boolWire
	if err := c.call(ctx, "needKeep", nil, &wire); err != nil {
		return false, err
	}
	return wire.Value, nil
}

func (c *Client) Keep(ctx context.Context) error {
	return c.call(ctx, "keep", nil, nil)
}

func (c *Client) LimitDecreaseCollateral(ctx context.Context) (sdkmath.Int, error) {
	return c.callInt(ctx, "limitDecreaseCollateral")
}

// Execute submits aggregator route calldata through the agent, which holds
// the signing keys. Satisfies swap.RouteExecutor.
func (c *Client) Execute(ctx context.Context, src, dst common.Address, amountIn sdkmath.Int, calldata []byte) (sdkmath.Int, error) {
	var wire valueWire
	params := executeRouteWire{
		Src:      src.Hex(),
		Dst:      dst.Hex(),
		AmountIn: amountIn.String(),
		Calldata: calldata,
	}
	if err := c.call(ctx, "executeRoute", params, &wire); err != nil {
		return sdkmath.ZeroInt(), err
	}
	return parseInt(wire.Value, "executeRoute")
}

// SwapExact performs one manual-path pool hop through the agent. Satisfies
// swap.PoolSwapper.
func (c *Client) SwapExact(ctx context.Context, pool, tokenIn, tokenOut common.Address, amountIn sdkmath.Int) (sdkmath.Int, error) {
	var wire valueWire
	params := swapExactWire{
		Pool:     pool.Hex(),
		TokenIn:  tokenIn.Hex(),
		TokenOut: tokenOut.Hex(),
		AmountIn: amountIn.String(),
	}
	if err := c.call(ctx, "swapExact", params, &wire); err != nil {
		return sdkmath.ZeroInt(), err
	}
	return parseInt(wire.Value, "swapExact")
}
