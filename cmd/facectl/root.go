package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"facecheck/internal/app"
	"facecheck/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "facectl",
	Short: "Administer the facecheck attendance engine",
	Long: `facectl runs the maintenance tasks of facecheck: database migrations,
template training, whitelist inspection, QR tokens and API tokens.

Configuration is read from the environment (and .env) exactly like the API
and worker processes.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(migrateCmd, trainCmd, whitelistCmd, qrCmd, tokenCmd)
}

// openRuntime loads config and connects to the stores.
func openRuntime(ctx context.Context) (*app.Runtime, error) {
	return app.Open(ctx, config.Load())
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid id %q", a)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
