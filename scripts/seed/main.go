// Command seed loads the demo school into the configured store.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/schoolledger/schoolledger/cmd/schoolledger/cli"
	"github.com/schoolledger/schoolledger/internal/app"
)

func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	rt, err := app.NewRuntime(ctx, cfg, app.NewLogger(cfg))
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer rt.Close()

	seeder := cli.Seeder{
		Billing:      rt.Billing,
		Promotion:    rt.Promotion,
		Expenses:     rt.Expenses,
		ExtraBilling: rt.ExtraBilling,
		Out:          os.Stdout,
	}
	if err := seeder.SeedDemo(ctx, time.Now()); err != nil {
		log.Fatalf("seed: %v", err)
	}
}
