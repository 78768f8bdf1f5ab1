package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/config"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/manifest"
)

// Tables flushed by bootstrap. Connection leases carry TTLs and clean
// themselves up.
var bootstrapTables = []string{
	"ServerRegistry",
	"Heuristic_Type",
	"Heuristic_Bounds_Pending",
	"Heuristic_Bounds_Claimed",
	"Transfer::TransferManifest",
	"Network_Telemetry",
	"Entity_Authority",
	"Node Manifest Shard_Node",
	"Routing::ClientID2Proxy",
	"Client::ClientID2IP",
	"Client::ClientID2EntityID",
}

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Reset cluster state in the manifest store",
	Long: `Flush AtlasNet's tables from the manifest store. Run once before
bringing up a fresh cluster; stale claims from a previous run would
otherwise shadow the new shards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromEnv()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		store, err := manifest.NewRedisStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		removed, err := store.Del(ctx, bootstrapTables...)
		if err != nil {
			return err
		}
		fmt.Printf("Flushed %d tables from %s\n", removed, cfg.RedisAddr())
		return nil
	},
}
