package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"go.uber.org/zap"

	"basis-vault/internal/alerts"
)

const operatorOffsetKey = "telegram:operator:last_update_id"

var errUnknownCommand = errors.New("unknown command")

type operatorCommand struct {
	name   string
	amount sdkmath.Int
}

// startOperator runs the telegram command loop. Commands let a human drive
// the strategy without shell access to the keeper host.
func (a *App) startOperator(ctx context.Context) {
	cfg := a.cfg.Telegram
	if !cfg.Enabled || !cfg.OperatorEnabled {
		return
	}
	interval := cfg.OperatorPollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	go func() {
		offset := a.loadOperatorOffset(ctx)
		for {
			if ctx.Err() != nil {
				return
			}
			updates, err := a.alerts.GetUpdates(ctx, offset, interval)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				a.log.Warn("operator poll failed", zap.Error(err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(interval):
				}
				continue
			}
			for _, update := range updates {
				if update.UpdateID >= offset {
					offset = update.UpdateID + 1
				}
				a.handleOperatorUpdate(ctx, update)
			}
			if len(updates) > 0 {
				a.saveOperatorOffset(ctx, offset)
			}
		}
	}()
}

func (a *App) handleOperatorUpdate(ctx context.Context, update alerts.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	if !a.operatorAuthorized(update.Message) {
		a.log.Warn("operator command from unauthorized sender",
			zap.String("text", update.Message.Text))
		return
	}
	cmd, err := parseOperatorCommand(update.Message.Text)
	if err != nil {
		if !errors.Is(err, errUnknownCommand) {
			a.reply(ctx, fmt.Sprintf("error: %v", err))
		}
		return
	}
	a.log.Info("operator command", zap.String("command", cmd.name))
	a.reply(ctx, a.runOperatorCommand(ctx, cmd))
}

func (a *App) operatorAuthorized(msg *alerts.Message) bool {
	if msg.Chat == nil || strconv.FormatInt(msg.Chat.ID, 10) != a.cfg.Telegram.ChatID {
		return false
	}
	allowed := a.cfg.Telegram.OperatorAllowedUserIDs
	if len(allowed) == 0 {
		return true
	}
	if msg.From == nil {
		return false
	}
	for _, id := range allowed {
		if msg.From.ID == id {
			return true
		}
	}
	return false
}

func (a *App) runOperatorCommand(ctx context.Context, cmd operatorCommand) string {
	switch cmd.name {
	case "status":
		return a.statusText(ctx)
	case "pause":
		if err := a.engine.Pause(a.addrs.Owner); err != nil {
			return fmt.Sprintf("pause failed: %v", err)
		}
		return "strategy paused"
	case "resume":
		if err := a.engine.Unpause(a.addrs.Owner); err != nil {
			return fmt.Sprintf("resume failed: %v", err)
		}
		return "strategy resumed"
	case "utilize":
		applied, err := a.engine.Utilize(ctx, a.addrs.Operator, cmd.amount)
		if err != nil {
			return fmt.Sprintf("utilize failed: %v", err)
		}
		return fmt.Sprintf("utilize submitted: %s assets", applied)
	case "deutilize":
		applied, err := a.engine.Deutilize(ctx, a.addrs.Operator, cmd.amount)
		if err != nil {
			return fmt.Sprintf("deutilize failed: %v", err)
		}
		return fmt.Sprintf("deutilize submitted: %s product tokens", applied)
	case "help":
		return helpText
	default:
		return helpText
	}
}

const helpText = `commands:
/status - accounting and position summary
/pause - pause the strategy
/resume - resume a paused strategy
/utilize <amount> - deploy idle assets
/deutilize <amount> - unwind product exposure
/help - this message`

func (a *App) statusText(ctx context.Context) string {
	var b strings.Builder
	fmt.Fprintf(&b, "status: %s\n", a.engine.Status())
	fmt.Fprintf(&b, "processing rebalance: %t\n", a.engine.ProcessingRebalance())
	fmt.Fprintf(&b, "idle assets: %s\n", a.engine.IdleAssets())
	fmt.Fprintf(&b, "product balance: %s\n", a.engine.ProductBalance())
	if utilized, err := a.engine.UtilizedAssets(ctx); err == nil {
		fmt.Fprintf(&b, "utilized assets: %s\n", utilized)
	}
	if total, err := a.engine.TotalAssets(ctx); err == nil {
		fmt.Fprintf(&b, "total assets: %s\n", total)
	}
	if lev, err := a.agent.CurrentLeverage(ctx); err == nil {
		fmt.Fprintf(&b, "leverage: %s\n", lev)
	}
	fmt.Fprintf(&b, "pending utilization: %s\n", a.engine.PendingUtilization())
	fmt.Fprintf(&b, "pending decrease collateral: %s\n", a.engine.PendingDecreaseCollateral())
	fmt.Fprintf(&b, "acc requested withdraw: %s\n", a.engine.AccRequestedWithdrawAssets())
	fmt.Fprintf(&b, "processed withdraw: %s\n", a.engine.ProcessedWithdrawAssets())
	fmt.Fprintf(&b, "assets to claim: %s", a.engine.AssetsToClaim())
	return b.String()
}

func (a *App) reply(ctx context.Context, text string) {
	if text == "" {
		return
	}
	if err := a.alerts.Send(ctx, text); err != nil {
		a.log.Warn("operator reply failed", zap.Error(err))
	}
}

func (a *App) loadOperatorOffset(ctx context.Context) int64 {
	value, ok, err := a.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	offset, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return offset
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int64) {
	if err := a.store.Set(ctx, operatorOffsetKey, strconv.FormatInt(offset, 10)); err != nil {
		a.log.Warn("operator offset save failed", zap.Error(err))
	}
}

// parseOperatorCommand parses a telegram message into a command. Bot-name
// suffixes ("/status@keeperbot") are stripped.
func parseOperatorCommand(text string) (operatorCommand, error) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return operatorCommand{}, errUnknownCommand
	}
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	name = strings.ToLower(name)
	switch name {
	case "status", "pause", "resume", "help":
		return operatorCommand{name: name}, nil
	case "utilize", "deutilize":
		if len(fields) < 2 {
			return operatorCommand{}, fmt.Errorf("/%s requires an amount", name)
		}
		amount, ok := sdkmath.NewIntFromString(fields[1])
		if !ok || !amount.IsPositive() {
			return operatorCommand{}, fmt.Errorf("invalid amount %q", fields[1])
		}
		return operatorCommand{name: name, amount: amount}, nil
	default:
		return operatorCommand{}, errUnknownCommand
	}
}
