package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/adfharrison1/docbind/pkg/config"
)

var (
	configPath string
	uri        string
)

var rootCmd = &cobra.Command{
	Use:   "docbind",
	Short: "Schema-validated collection bindings for document databases",
	Long: `docbind binds collections to JSON schemas and declared indexes.
It can serve the bundled log aggregator API or reconcile indexes from a config file.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a docbind YAML config")
	rootCmd.PersistentFlags().StringVar(&uri, "uri", "", "connection string, overrides the config (memdb://name or mongodb://...)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncIndexesCmd)
	rootCmd.AddCommand(loadCmd)
}

// loadConfig reads --config when given and applies --uri on top.
func loadConfig(defaultURI string) (*config.Config, error) {
	cfg := &config.Config{URI: defaultURI}
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if uri != "" {
		cfg.URI = uri
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Printf("ERROR: %v", err)
		os.Exit(1)
	}
}
