package commands

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spherical/module-creator/cmd/module-creator/ui"
	"github.com/spherical/module-creator/internal/events"
)

var (
	watchAddr     string
	watchPassword string
	watchDB       int
	watchChannel  string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow progress events published to Redis",
	Long: `Subscribe to the Redis channel a server publishes progress events on and
print each event as it arrives. Does not need an API key.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchAddr, "redis", "", "Redis address (default: $REDIS_URL)")
	watchCmd.Flags().StringVar(&watchPassword, "password", "", "Redis password")
	watchCmd.Flags().IntVar(&watchDB, "db", 0, "Redis database")
	watchCmd.Flags().StringVar(&watchChannel, "channel", "module-creator.progress", "channel to follow")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	out := ui.New(noColor)

	addr := watchAddr
	if addr == "" {
		addr = strings.TrimPrefix(os.Getenv("REDIS_URL"), "redis://")
	}
	if addr == "" {
		return fmt.Errorf("no Redis address: use --redis or set REDIS_URL")
	}

	sub, err := events.NewRedisPublisher(events.RedisConfig{
		Addr:     addr,
		Password: watchPassword,
		DB:       watchDB,
		Channel:  watchChannel,
	})
	if err != nil {
		return err
	}
	defer sub.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ch, unsubscribe, err := sub.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer unsubscribe()

	out.Info("watching %s on %s (Ctrl+C to stop)", sub.Channel(), addr)
	for ev := range ch {
		out.Event(ev)
	}
	return nil
}
