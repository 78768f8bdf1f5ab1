package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/config"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/geom"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/heuristic"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/log"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/manifest"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/registry"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

var coordinatorCmd = &cobra.Command{
	Use:   "coordinator",
	Short: "Run the game coordinator",
	Long: `Run the coordinator: publish the active heuristic, seed the pending
bound set, and keep an identity registered so observers can find the
cluster. Bounds already claimed by shards are left untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cols, _ := cmd.Flags().GetInt("grid-cols")
		rows, _ := cmd.Flags().GetInt("grid-rows")
		cellW, _ := cmd.Flags().GetFloat32("cell-width")
		cellH, _ := cmd.Flags().GetFloat32("cell-height")
		originX, _ := cmd.Flags().GetFloat32("origin-x")
		originY, _ := cmd.Flags().GetFloat32("origin-y")

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

		self := types.NewCoordinatorIdentity()
		logger := log.WithIdentity(self.String())

		grid := &heuristic.GridHeuristic{
			Origin:   geom.Vec2{X: originX, Y: originY},
			CellSize: geom.Vec2{X: cellW, Y: cellH},
			Cols:     cols,
			Rows:     rows,
		}
		heurManifest := heuristic.NewManifest(store)

		if err := heurManifest.SetActiveType(ctx, grid.Type()); err != nil {
			logger.Warn().Err(err).Msg("Heuristic type unchanged")
		}
		claimed, err := heurManifest.AllClaimed(ctx)
		if err != nil {
			return err
		}
		taken := make(map[types.BoundsID]bool, len(claimed))
		for _, b := range claimed {
			taken[b.ID()] = true
		}
		var unclaimed []heuristic.Bound
		for _, b := range grid.Bounds() {
			if !taken[b.ID()] {
				unclaimed = append(unclaimed, b)
			}
		}
		if err := heurManifest.SeedPending(ctx, unclaimed); err != nil {
			return err
		}
		logger.Info().
			Int("bounds", len(unclaimed)).
			Msg("Seeded pending bounds")

		servers := registry.NewServerRegistry(store)
		if err := servers.RegisterSelf(ctx, self, selfIP()); err != nil {
			return err
		}
		defer func() {
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = servers.DeregisterSelf(cleanupCtx, self)
		}()

		// Periodically report the claim picture until terminated.
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				pending, err := heurManifest.AllPending(ctx)
				if err != nil {
					logger.Warn().Err(err).Msg("Pending snapshot failed")
					continue
				}
				claimed, err := heurManifest.AllClaimed(ctx)
				if err != nil {
					logger.Warn().Err(err).Msg("Claimed snapshot failed")
					continue
				}
				logger.Info().
					Int("pending", len(pending)).
					Int("claimed", len(claimed)).
					Msg("Bound census")
			case <-ctx.Done():
				return nil
			}
		}
	},
}

func init() {
	coordinatorCmd.Flags().Int("grid-cols", 2, "Grid columns")
	coordinatorCmd.Flags().Int("grid-rows", 1, "Grid rows")
	coordinatorCmd.Flags().Float32("cell-width", 100, "Cell width in world units")
	coordinatorCmd.Flags().Float32("cell-height", 100, "Cell height in world units")
	coordinatorCmd.Flags().Float32("origin-x", 0, "Grid origin X")
	coordinatorCmd.Flags().Float32("origin-y", 0, "Grid origin Y")
}
