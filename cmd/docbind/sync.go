package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"sort"

	"github.com/spf13/cobra"

	"github.com/adfharrison1/docbind/pkg/config"
	"github.com/adfharrison1/docbind/pkg/connection"
	"github.com/adfharrison1/docbind/pkg/domain"
)

var syncIndexesCmd = &cobra.Command{
	Use:   "sync-indexes",
	Short: "Reconcile the live indexes of every configured entity",
	Long: `Connects, declares every entity from the config file, reconciles its indexes
and prints the resulting live indexes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if configPath == "" {
			return fmt.Errorf("--config is required")
		}
		cfg, err := loadConfig("")
		if err != nil {
			return err
		}
		return syncIndexes(context.Background(), cfg, cmd.OutOrStdout(), log.Default())
	},
}

func syncIndexes(ctx context.Context, cfg *config.Config, out io.Writer, logger *log.Logger) error {
	dialer, err := cfg.Dialer(logger)
	if err != nil {
		return err
	}
	manager := connection.NewManager(dialer, connection.WithLogger(logger))

	bindings, err := cfg.Bind(ctx, manager, logger)
	if err != nil {
		return err
	}
	connectErr := manager.Connect(ctx, cfg.URI)
	defer manager.Disconnect(context.WithoutCancel(ctx))
	if connectErr != nil {
		return connectErr
	}

	names := make([]string, 0, len(bindings))
	for name := range bindings {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		live, err := bindings[name].Indexes().List(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s:\n", name)
		for _, d := range live {
			indexName, _ := domain.Lookup(d, "name")
			key, _ := domain.Lookup(d, "key")
			fmt.Fprintf(out, "  %v %v\n", indexName, key)
		}
	}
	return nil
}
