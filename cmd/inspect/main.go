package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"basis-vault/internal/config"
	"basis-vault/internal/state/sqlite"
	"basis-vault/internal/strategy"
)

// inspect prints the persisted strategy snapshot from the keeper's sqlite
// store, for debugging a stopped or misbehaving keeper without starting it.
func main() {
	configPath := flag.String("config", "", "optional config path (overrides -db)")
	dbPath := flag.String("db", "data/basis-vault.db", "path to the sqlite state store")
	asJSON := flag.Bool("json", false, "dump the raw snapshot as JSON")
	flag.Parse()

	path := *dbPath
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		path = cfg.State.SQLitePath
	}

	store, err := sqlite.New(path)
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	snap, ok, err := strategy.LoadSnapshot(context.Background(), store)
	if err != nil {
		fatal(err)
	}
	if !ok {
		fmt.Println("no snapshot stored")
		return
	}

	if *asJSON {
		pretty, err := json.MarshalIndent(snap, "", "  ")
		if err != nil {
			fatal(err)
		}
		fmt.Println(string(pretty))
		return
	}

	fmt.Printf("status: %s\n", snap.Status)
	fmt.Printf("processing rebalance: %t\n", snap.ProcessingRebalance)
	fmt.Printf("product balance: %s\n", orZero(snap.ProductBalance))
	fmt.Printf("pending decrease collateral: %s\n", orZero(snap.PendingDecrease))
	fmt.Printf("pending deutilized assets: %s\n", orZero(snap.PendingDeutilized))
	fmt.Printf("acc requested withdraw: %s\n", orZero(snap.AccRequested))
	fmt.Printf("processed withdraw: %s\n", orZero(snap.Processed))
	fmt.Printf("assets to claim: %s\n", orZero(snap.AssetsToClaim))
	fmt.Printf("request counter: %d\n", snap.RequestCounter)
	fmt.Printf("updated: %s\n", time.UnixMilli(snap.UpdatedAtMS).UTC().Format(time.RFC3339))

	open := 0
	for _, req := range snap.Requests {
		if !req.Claimed {
			open++
		}
	}
	fmt.Printf("withdraw requests: %d total, %d unclaimed\n", len(snap.Requests), open)
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
