package main

import (
	"github.com/spf13/cobra"

	"github.com/aretw0/mealycache/internal/cli"
	"github.com/aretw0/mealycache/pkg/domain"
)

var probeCmd = &cobra.Command{
	Use:   "probe [query...]",
	Short: "Answer membership queries through the full caching stack",
	Long: `Each query is "prefix | suffix" or just a word. Without arguments, queries are
read from stdin, one per line. Answers are printed in input order.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, baseDir, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		var queries []*domain.Query
		if len(args) > 0 {
			for _, a := range args {
				queries = append(queries, cli.ParseQuery(a))
			}
		} else {
			queries, err = cli.ReadQueries(cmd.InOrStdin())
			if err != nil {
				return err
			}
		}

		ctx := cli.NewSignalContext(cmd.Context())
		defer ctx.Cancel()

		stack, backend, err := cli.BuildStack(ctx, cfg, baseDir, logger, nil)
		if err != nil {
			return err
		}
		defer backend.Close()

		err = cli.RunProbe(ctx, stack, queries, cmd.OutOrStdout())
		if sig := ctx.Signal(); sig != nil {
			logger.Warn("probe interrupted", "signal", sig.String())
		}
		stats := stack.Stats()
		logger.Info("probe finished", "queries", stats.Queries, "dispatched", stats.Dispatched, "cached", stats.Cached, "conflicts", stats.Conflicts)
		return err
	},
}

func init() {
	rootCmd.AddCommand(probeCmd)
}
