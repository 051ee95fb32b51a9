package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/grupoalimenta/produccion_backend/config"
	"bitbucket.org/grupoalimenta/produccion_backend/utils"
	"bitbucket.org/grupoalimenta/produccion_backend/workflow"
	"github.com/sirupsen/logrus"
)

// Re-derives every insumo's aggregate stock from its lots. Run after batch
// ingress, quality decisions or any suspected drift; safe to re-run.
func main() {
	expire := flag.Bool("expire-lots", false, "Also retire lots past their expiry date and replan affected orders")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := logrus.New()

	ctx := utils.SetSystemContext(context.Background())

	if *expire {
		expired, err := workflow.ExpireOverdueLots(ctx, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "expire lots: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("expired lots: %d\n", expired)
	}

	changed, err := workflow.RecomputeAggregateStock(ctx, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "recompute: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("updated insumos: %d\n", changed)
}
