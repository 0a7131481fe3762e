package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"basis-vault/internal/config"
	"basis-vault/internal/fixedpoint"
	"basis-vault/internal/oracle"
)

// feedSource polls an HTTP price endpoint into a StaticFeed. The endpoint
// returns {"price": "..."} with the price as a decimal string or number.
type feedSource struct {
	token    common.Address
	endpoint string
	feed     *oracle.StaticFeed
	client   *http.Client
}

func buildOracle(cfg config.OracleConfig) (*oracle.Registry, []*feedSource, error) {
	registry := oracle.NewRegistry()
	client := &http.Client{Timeout: 10 * time.Second}
	sources := make([]*feedSource, 0, len(cfg.Feeds))
	for _, feedCfg := range cfg.Feeds {
		if !common.IsHexAddress(feedCfg.Token) {
			return nil, nil, fmt.Errorf("oracle feed token: invalid address %q", feedCfg.Token)
		}
		token := common.HexToAddress(feedCfg.Token)
		multiplier, ok := sdkmath.NewIntFromString(feedCfg.Multiplier)
		if !ok {
			return nil, nil, fmt.Errorf("oracle feed %s: invalid multiplier %q", feedCfg.Token, feedCfg.Multiplier)
		}
		feed := oracle.NewStaticFeed(sdkmath.ZeroInt())
		if err := registry.Register(token, feed, multiplier, feedCfg.Heartbeat, feedCfg.Decimals); err != nil {
			return nil, nil, err
		}
		sources = append(sources, &feedSource{
			token:    token,
			endpoint: feedCfg.Endpoint,
			feed:     feed,
			client:   client,
		})
	}
	return registry, sources, nil
}

func (s *feedSource) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("feed endpoint: http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Price json.RawMessage `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return err
	}
	answer, err := parseFeedPrice(payload.Price)
	if err != nil {
		return err
	}
	s.feed.SetAnswer(answer)
	return nil
}

// parseFeedPrice accepts the price as either a JSON number or a quoted
// decimal string and scales it to 1e18.
func parseFeedPrice(raw json.RawMessage) (sdkmath.Int, error) {
	text := strings.TrimSpace(string(raw))
	text = strings.Trim(text, `"`)
	if text == "" || text == "null" {
		return sdkmath.ZeroInt(), fmt.Errorf("feed price missing")
	}
	answer, err := fixedpoint.Ratio(text)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("feed price %q: %w", text, err)
	}
	if !answer.IsPositive() {
		return sdkmath.ZeroInt(), fmt.Errorf("feed price %q is not positive", text)
	}
	return answer, nil
}
