package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/mealycache/internal/cli"
	"github.com/aretw0/mealycache/pkg/domain"
	"github.com/aretw0/mealycache/pkg/session"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Inspect and maintain the observation store",
}

// withBackend opens the configured store for the duration of fn.
func withBackend(cmd *cobra.Command, fn func(b *cli.Backend) error) error {
	cfg, _, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	b, err := cli.OpenStore(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()
	return fn(b)
}

var storeInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the store (schema, directories) if it does not exist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd, func(b *cli.Backend) error {
			fmt.Fprintln(cmd.OutOrStdout(), "store ready")
			return nil
		})
	},
}

var storeLookupCmd = &cobra.Command{
	Use:   "lookup <word>",
	Short: "Print the majority response recorded for a word",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd, func(b *cli.Backend) error {
			key := domain.ParseWord(args[0])
			obs, ok, err := b.Store.Majority(cmd.Context(), key)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no observation for %s", key)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s (count %d, synthetic %t)\n", key, obs.Response, obs.Count, obs.Synthetic)
			return nil
		})
	},
}

var storeListCmd = &cobra.Command{
	Use:   "list [prefix]",
	Short: "List the records at or below a prefix",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd, func(b *cli.Backend) error {
			var prefix domain.Word
			if len(args) == 1 {
				prefix = domain.ParseWord(args[0])
			}
			records, err := b.Store.List(cmd.Context(), prefix)
			if err != nil {
				return err
			}
			return cli.PrintObservations(cmd.OutOrStdout(), records)
		})
	},
}

var storePruneCmd = &cobra.Command{
	Use:   "prune <prefix> <keep>",
	Short: "Delete records under prefix whose response does not start with keep",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd, func(b *cli.Backend) error {
			var opts []session.Option
			if b.Locker != nil {
				opts = append(opts, session.WithLocker(b.Locker))
			}
			n, err := session.NewManager(b.Store, opts...).Prune(cmd.Context(), domain.ParseWord(args[0]), domain.ParseWord(args[1]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d records\n", n)
			return nil
		})
	},
}

func init() {
	storeCmd.AddCommand(storeInitCmd, storeLookupCmd, storeListCmd, storePruneCmd)
	rootCmd.AddCommand(storeCmd)
}
