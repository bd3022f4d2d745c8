package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/logging"
	"github.com/BioHazard786/meshcall/internal/server"
)

var (
	flagPort            string
	flagOrigins         string
	flagShutdownTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the signaling relay",
	Long: `Run the signaling relay. Participants connect over websocket to /ws, join a
room and have their signaling messages rebroadcast to everyone in it.

Examples:
  meshcall serve
  meshcall serve --port 8080
  PORT=8080 ALLOWED_ORIGINS=https://call.example.com meshcall serve`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func serve() error {
	logging.InitServer()

	cfg, err := config.LoadServer(config.ServerOptions{
		Port:            flagPort,
		AllowedOrigins:  flagOrigins,
		ShutdownTimeout: flagShutdownTimeout,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.New(cfg, slog.Default()).Run(ctx)
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&flagPort, "port", "p", "", "Listen port (default 3000)")
	serveCmd.Flags().StringVar(&flagOrigins, "origins", "", "Comma separated browser origins allowed to connect")
	serveCmd.Flags().DurationVar(&flagShutdownTimeout, "shutdown-timeout", config.DefaultShutdownTimeout, "Graceful shutdown timeout")
}
