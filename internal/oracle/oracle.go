package oracle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"basis-vault/internal/fixedpoint"
)

var (
	ErrFeedNotConfigured = errors.New("price feed not configured")
	ErrInvalidFeedPrice  = errors.New("invalid feed price")
	ErrFeedNotUpdated    = errors.New("price feed not updated")
	ErrEmptyMultiplier   = errors.New("empty price feed multiplier")
)

// Oracle converts amounts between tokens via independent USD price feeds.
type Oracle interface {
	GetAssetPrice(token common.Address) (sdkmath.Int, error)
	ConvertTokenAmount(tokenIn, tokenOut common.Address, amount sdkmath.Int) (sdkmath.Int, error)
}

// Feed is a single price source. Answers are raw feed units; the registry
// normalizes them to 1e18 via the configured multiplier.
type Feed interface {
	LatestAnswer() (answer sdkmath.Int, updatedAt time.Time, err error)
}

type entry struct {
	feed          Feed
	multiplier    sdkmath.Int
	heartbeat     time.Duration
	tokenDecimals int
}

// Registry maps tokens to price feeds.
type Registry struct {
	mu      sync.RWMutex
	entries map[common.Address]entry
	now     func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[common.Address]entry),
		now:     time.Now,
	}
}

// Register wires a feed for token. multiplier scales the raw feed answer to
// 1e18; heartbeat is the maximum accepted answer age.
func (r *Registry) Register(token common.Address, feed Feed, multiplier sdkmath.Int, heartbeat time.Duration, tokenDecimals int) error {
	if feed == nil {
		return fmt.Errorf("%w: %s", ErrFeedNotConfigured, token.Hex())
	}
	if multiplier.IsNil() || !multiplier.IsPositive() {
		return fmt.Errorf("%w: %s", ErrEmptyMultiplier, token.Hex())
	}
	if tokenDecimals < 0 || tokenDecimals > 30 {
		return fmt.Errorf("token %s decimals out of range: %d", token.Hex(), tokenDecimals)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[token] = entry{
		feed:          feed,
		multiplier:    multiplier,
		heartbeat:     heartbeat,
		tokenDecimals: tokenDecimals,
	}
	return nil
}

// GetAssetPrice returns the 1e18-scaled USD price of one whole token.
// Zero, negative, and stale answers are rejected.
func (r *Registry) GetAssetPrice(token common.Address) (sdkmath.Int, error) {
	r.mu.RLock()
	e, ok := r.entries[token]
	now := r.now
	r.mu.RUnlock()
	if !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s", ErrFeedNotConfigured, token.Hex())
	}
	answer, updatedAt, err := e.feed.LatestAnswer()
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	if answer.IsNil() || !answer.IsPositive() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s answer %s", ErrInvalidFeedPrice, token.Hex(), answer)
	}
	if e.heartbeat > 0 {
		age := now().Sub(updatedAt)
		if age > e.heartbeat {
			return sdkmath.ZeroInt(), fmt.Errorf("%w: %s age %s exceeds %s", ErrFeedNotUpdated, token.Hex(), age, e.heartbeat)
		}
	}
	return answer.Mul(e.multiplier), nil
}

// ConvertTokenAmount converts amount of tokenIn into tokenOut units using both
// feeds, flooring the result.
func (r *Registry) ConvertTokenAmount(tokenIn, tokenOut common.Address, amount sdkmath.Int) (sdkmath.Int, error) {
	if amount.IsNil() || amount.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	priceIn, err := r.GetAssetPrice(tokenIn)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	priceOut, err := r.GetAssetPrice(tokenOut)
	if err != nil {
		return sdkmath.ZeroInt(), err
	}
	decIn, decOut := r.decimals(tokenIn), r.decimals(tokenOut)
	num := amount.Mul(priceIn).Mul(fixedpoint.Pow10(decOut))
	den := priceOut.Mul(fixedpoint.Pow10(decIn))
	return num.Quo(den), nil
}

// Decimals reports the configured token decimals (0 if unregistered).
func (r *Registry) Decimals(token common.Address) int {
	return r.decimals(token)
}

func (r *Registry) decimals(token common.Address) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[token].tokenDecimals
}

// StaticFeed is a fixed-answer feed, used for stable assets and in tests.
type StaticFeed struct {
	mu        sync.Mutex
	answer    sdkmath.Int
	updatedAt time.Time
}

func NewStaticFeed(answer sdkmath.Int) *StaticFeed {
	return &StaticFeed{answer: answer, updatedAt: time.Now()}
}

func (f *StaticFeed) LatestAnswer() (sdkmath.Int, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.answer, f.updatedAt, nil
}

// SetAnswer updates the answer and refreshes the timestamp.
func (f *StaticFeed) SetAnswer(answer sdkmath.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answer = answer
	f.updatedAt = time.Now()
}
