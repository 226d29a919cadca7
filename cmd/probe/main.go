package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dexgate/dexgate/internal/config"
	"github.com/dexgate/dexgate/internal/rpc"
)

// probe checks every configured RPC provider once and prints the results.
// Exit code 1 means no provider answered.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if len(cfg.Providers) == 0 {
		log.Fatal("no providers configured")
	}

	client := rpc.NewClient()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tTIER\tSLOT\tLATENCY\tSTATUS")

	anyUp := false
	for _, p := range cfg.Providers {
		ctx, cancel := context.WithTimeout(context.Background(), p.Timeout())
		start := time.Now()
		slot, err := client.GetSlot(ctx, p)
		elapsed := time.Since(start).Round(time.Millisecond)
		cancel()

		if err != nil {
			fmt.Fprintf(w, "%s\t%d\t-\t%s\tERROR: %v\n", p.ID, p.Tier, elapsed, err)
			continue
		}
		anyUp = true
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\tok\n", p.ID, p.Tier, slot, elapsed)
	}
	w.Flush()

	if !anyUp {
		os.Exit(1)
	}
}
