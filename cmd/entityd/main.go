// Command entityd runs the entity store and event bus as a single
// process, and doubles as a small demonstration CLI for exercising both
// from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/virtworld/entityd/internal/config"
	"github.com/virtworld/entityd/pkg/log"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:     "entityd",
	Short:   "entityd - an in-memory, journaled entity store and event bus",
	Version: Version,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"entityd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	config.BindFlags(v, rootCmd)
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(dumpSiteCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(deleteCmd)
}

func initLogging() {
	cfg, err := config.Load(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return
	}
	log.Init(cfg.LogWriterConfig())
}

func loadConfig() (config.Config, error) {
	return config.Load(v)
}
