// Package main runs the roomchat server: the line-protocol TCP listener and
// its worker pool, plus the optional gRPC and WebSocket front ends.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cory-johannsen/roomchat/internal/chat"
	"github.com/cory-johannsen/roomchat/internal/config"
	"github.com/cory-johannsen/roomchat/internal/dispatch"
	"github.com/cory-johannsen/roomchat/internal/frontend/line"
	"github.com/cory-johannsen/roomchat/internal/frontend/rpc"
	"github.com/cory-johannsen/roomchat/internal/frontend/ws"
	"github.com/cory-johannsen/roomchat/internal/observability"
	"github.com/cory-johannsen/roomchat/internal/server"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string
	var envFile string

	root := &cobra.Command{
		Use:           "roomchat",
		Short:         "Multi-room chat broadcast server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(envFile)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return serve(cmd.Context(), cfg)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/dev.yaml", "path to configuration file (empty for defaults and environment only)")
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before configuration")

	root.AddCommand(&cobra.Command{
		Use:   "check-config",
		Short: "Validate the configuration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "configuration ok: line %s, %d workers\n", cfg.Line.Addr(), cfg.Dispatcher.Workers)
			return nil
		},
	})
	return root
}

// loadEnvFile loads path into the process environment. A missing file is
// not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func serve(ctx context.Context, cfg config.Config) error {
	start := time.Now()

	logger, err := observability.NewLogger(cfg.Logging, cfg.Server.Name)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	svc := chat.NewService(observability.Component(logger, "chat"))
	if cfg.Rooms.SeedFile != "" {
		names, err := chat.LoadRoomSeeds(cfg.Rooms.SeedFile)
		if err != nil {
			return fmt.Errorf("loading room seeds: %w", err)
		}
		created := chat.SeedRooms(svc.Rooms, names)
		logger.Info("rooms seeded",
			zap.String("file", cfg.Rooms.SeedFile),
			zap.Int("created", created),
		)
	}

	lifecycle := server.NewLifecycle(logger)

	lineLogger := observability.Component(logger, "line")
	dispatcher := dispatch.New(
		cfg.Line.Addr(),
		cfg.Dispatcher.Workers,
		line.NewHandler(svc, cfg.Line, lineLogger),
		lineLogger,
	)
	lifecycle.Add("line", &server.FuncService{
		StartFn: dispatcher.ListenAndServe,
		StopFn:  dispatcher.Stop,
	})

	if cfg.RPC.Enabled {
		rpcServer := rpc.NewServer(cfg.RPC, svc, observability.Component(logger, "rpc"))
		lifecycle.Add("rpc", &server.FuncService{
			StartFn: rpcServer.ListenAndServe,
			StopFn:  rpcServer.Stop,
		})
	}

	if cfg.WebSocket.Enabled {
		wsServer := ws.NewServer(cfg.WebSocket, svc, observability.Component(logger, "websocket"))
		wsServer.ReportPool(dispatcher)
		lifecycle.Add("websocket", &server.FuncService{
			StartFn: wsServer.ListenAndServe,
			StopFn:  wsServer.Stop,
		})
	}

	logger.Info("roomchat initialized",
		zap.String("line_addr", cfg.Line.Addr()),
		zap.Int("workers", cfg.Dispatcher.Workers),
		zap.Bool("rpc", cfg.RPC.Enabled),
		zap.Bool("websocket", cfg.WebSocket.Enabled),
		zap.Duration("startup", time.Since(start)),
	)

	return lifecycle.Run(ctx)
}
