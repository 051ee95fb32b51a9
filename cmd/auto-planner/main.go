package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"bitbucket.org/grupoalimenta/produccion_backend/config"
	"bitbucket.org/grupoalimenta/produccion_backend/utils"
	"bitbucket.org/grupoalimenta/produccion_backend/workflow"
	"github.com/sirupsen/logrus"
)

// One-shot planner run, for cron-style deployments where the in-process
// timer is disabled. The redis lock inside RunAutoPlan keeps a cron
// overlapping with a server timer from planning twice.
func main() {
	horizon := flag.Int("horizon-days", 7, "How many days of demand to plan")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := logrus.New()

	userId := 1
	if raw := os.Getenv("SYSTEM_USER_ID"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			userId = n
		}
	}
	ctx := utils.SetSystemContext(context.Background())
	ctx = utils.SetUserIdInContext(ctx, userId)

	summary, err := workflow.RunAutoPlan(ctx, logger, *horizon)
	if err != nil {
		fmt.Fprintf(os.Stderr, "auto plan: %v\n", err)
		os.Exit(1)
	}
	out, err := utils.MarshalToJSON(summary)
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal summary: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(out)
}
