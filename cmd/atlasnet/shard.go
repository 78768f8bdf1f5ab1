package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/config"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/log"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/manifest"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/metrics"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/registry"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/shard"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/transport"
	"github.com/CamilaBasualdoCibils/AtlasNet/pkg/types"
)

var shardCmd = &cobra.Command{
	Use:   "shard",
	Short: "Run a shard process",
	Long: `Run one shard. The shard synthesizes a fresh identity, registers
itself in the server registry, claims a pending bound, and simulates the
entities inside it until terminated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		listenAddr, _ := cmd.Flags().GetString("listen-addr")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

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

		self := types.NewShardIdentity()
		logger := log.WithIdentity(self.String())

		servers := registry.NewServerRegistry(store)
		tr, err := transport.NewWSTransport(self, listenAddr, servers, transport.Callbacks{})
		if err != nil {
			return err
		}
		defer tr.Close()

		metrics.Register()
		if metricsAddr != "" {
			go func() {
				if err := metrics.Serve(metricsAddr); err != nil {
					logger.Warn().Err(err).Msg("Metrics server stopped")
				}
			}()
		}

		hostname := shard.Hostname()
		runtime := shard.New(shard.Options{
			Identity:      self,
			AdvertiseAddr: advertiseAddr(tr.Addr()),
			Config:        cfg,
			Store:         store,
			Transport:     tr,
			NodeEntry: registry.NodeManifestEntry{
				NodeName: hostname,
				PodName:  os.Getenv("HOSTNAME"),
				PodIP:    selfIP(),
			},
		})

		logger.Info().Str("addr", tr.Addr()).Msg("Shard starting")
		return runtime.Run(ctx)
	},
}

func init() {
	shardCmd.Flags().String("listen-addr", ":0", "Transport listen address")
	shardCmd.Flags().String("metrics-addr", "", "Prometheus metrics address (empty disables)")
}

// selfIP discovers the container's primary IP.
func selfIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}

// advertiseAddr rewrites a wildcard listen address into a reachable one.
func advertiseAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if host == "" || host == "::" || host == "0.0.0.0" {
		return fmt.Sprintf("%s:%s", selfIP(), port)
	}
	return listen
}
