package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/log"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "atlasnet",
	Short: "AtlasNet - distributed spatial-partition runtime",
	Long: `AtlasNet is a distributed runtime for authoritative game simulation.
A fleet of shard processes collectively owns a world: each shard leases a
spatial bound, simulates the entities inside it, and cooperatively hands
them off to neighbors as they cross bound edges. A shared manifest store
is the source of truth for cluster-wide state.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"AtlasNet version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(shardCmd)
	rootCmd.AddCommand(coordinatorCmd)
	rootCmd.AddCommand(bootstrapCmd)
}

func initLogging() {
	// A .env file beside the binary seeds the environment in compose-style
	// deployments; absence is not an error.
	_ = godotenv.Load()

	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	if env := os.Getenv("ATLAS_LOG_LEVEL"); env != "" && !rootCmd.PersistentFlags().Changed("log-level") {
		logLevel = env
	}

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
